package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend shares generations between ctrshell instances in front of the
// same origin. Layout under prefix:
//
//	<prefix>:seq                   INCR counter ordering buckets and keys
//	<prefix>:buckets               ZSET bucket -> creation seq
//	<prefix>:b:<bucket>:entries    HASH key -> gob CachedResponse
//	<prefix>:b:<bucket>:order      ZSET key -> last write seq
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend connects to url and pings it.
func NewRedisBackend(url, prefix string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("redis cache backend connected", "prefix", prefix)
	return &RedisBackend{client: client, prefix: prefix}, nil
}

func (r *RedisBackend) seqKey() string     { return r.prefix + ":seq" }
func (r *RedisBackend) bucketsKey() string { return r.prefix + ":buckets" }
func (r *RedisBackend) entriesKey(bucket string) string {
	return r.prefix + ":b:" + bucket + ":entries"
}
func (r *RedisBackend) orderKey(bucket string) string {
	return r.prefix + ":b:" + bucket + ":order"
}

func (r *RedisBackend) OpenBucket(ctx context.Context, name string) error {
	seq, err := r.client.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("redis incr: %w", err)
	}
	err = r.client.ZAddNX(ctx, r.bucketsKey(), redis.Z{Score: float64(seq), Member: name}).Err()
	if err != nil {
		return fmt.Errorf("redis open bucket: %w", err)
	}
	return nil
}

func (r *RedisBackend) HasBucket(ctx context.Context, name string) (bool, error) {
	err := r.client.ZScore(ctx, r.bucketsKey(), name).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis zscore: %w", err)
	}
	return true, nil
}

func (r *RedisBackend) Buckets(ctx context.Context) ([]string, error) {
	names, err := r.client.ZRange(ctx, r.bucketsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list buckets: %w", err)
	}
	return names, nil
}

func (r *RedisBackend) DeleteBucket(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		removed = p.ZRem(ctx, r.bucketsKey(), name)
		p.Del(ctx, r.entriesKey(name), r.orderKey(name))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis delete bucket: %w", err)
	}
	return removed.Val() > 0, nil
}

func (r *RedisBackend) Get(ctx context.Context, bucket, key string) (*CachedResponse, error) {
	data, err := r.client.HGet(ctx, r.entriesKey(bucket), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var ent CachedResponse
	if err := decodeGob(data, &ent); err != nil {
		return nil, fmt.Errorf("decode cached response: %w", err)
	}
	return &ent, nil
}

func (r *RedisBackend) Put(ctx context.Context, bucket, key string, resp *CachedResponse) error {
	data, err := encodeGob(resp)
	if err != nil {
		return fmt.Errorf("encode cached response: %w", err)
	}
	seq, err := r.client.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("redis incr: %w", err)
	}
	score := float64(seq)
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAddNX(ctx, r.bucketsKey(), redis.Z{Score: score, Member: bucket})
		p.HSet(ctx, r.entriesKey(bucket), key, data)
		p.ZAdd(ctx, r.orderKey(bucket), redis.Z{Score: score, Member: key})
		return nil
	})
	if err != nil {
		if isOOM(err) {
			return ErrQuotaExceeded
		}
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

func (r *RedisBackend) Delete(ctx context.Context, bucket, key string) (bool, error) {
	var removed *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		removed = p.HDel(ctx, r.entriesKey(bucket), key)
		p.ZRem(ctx, r.orderKey(bucket), key)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis delete: %w", err)
	}
	return removed.Val() > 0, nil
}

func (r *RedisBackend) Keys(ctx context.Context, bucket string) ([]string, error) {
	keys, err := r.client.ZRange(ctx, r.orderKey(bucket), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis keys: %w", err)
	}
	return keys, nil
}

func (r *RedisBackend) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// isOOM reports the error redis returns when maxmemory is hit.
func isOOM(err error) bool {
	var rerr redis.Error
	if errors.As(err, &rerr) {
		return strings.HasPrefix(rerr.Error(), "OOM")
	}
	return false
}
