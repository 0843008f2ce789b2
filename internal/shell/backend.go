package shell

import (
	"context"
	"errors"
	"fmt"
)

// ErrQuotaExceeded is returned when a put would grow a backend past its byte
// budget. Callers treat caching as best-effort.
var ErrQuotaExceeded = errors.New("cache quota exceeded")

// Backend persists cache generations. Implementations must be safe for
// concurrent use; buckets and keys are reported in creation/insertion order.
type Backend interface {
	// OpenBucket creates name if missing. It is idempotent.
	OpenBucket(ctx context.Context, name string) error
	HasBucket(ctx context.Context, name string) (bool, error)
	Buckets(ctx context.Context) ([]string, error)
	// DeleteBucket removes the bucket and its entries; false if it did not exist.
	DeleteBucket(ctx context.Context, name string) (bool, error)

	// Get returns nil, nil when key is not cached in bucket.
	Get(ctx context.Context, bucket, key string) (*CachedResponse, error)
	// Put stores resp under key, creating bucket if needed. An existing entry
	// is replaced and moves to the end of the key order.
	Put(ctx context.Context, bucket, key string, resp *CachedResponse) error
	Delete(ctx context.Context, bucket, key string) (bool, error)
	Keys(ctx context.Context, bucket string) ([]string, error)

	Close() error
}

// BackendStats is what the stats loop reports.
type BackendStats struct {
	Buckets int
	Entries int
	Bytes   int64
}

type statser interface {
	Stats() BackendStats
}

// BucketName is the versioned name of a logical bucket: "static-v3".
func BucketName(name string, version int) string {
	return fmt.Sprintf("%s-v%d", name, version)
}
