package shell

import (
	"context"
	"net/http"
)

// CacheStore exposes named generations over a Backend.
type CacheStore struct {
	backend Backend
}

func NewCacheStore(b Backend) *CacheStore {
	return &CacheStore{backend: b}
}

// Generation is a handle on one named bucket.
type Generation struct {
	Name  string
	store *CacheStore
}

// RequestKey is the identity a request is cached under: path plus raw query.
func RequestKey(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return r.URL.Path
	}
	return r.URL.Path + "?" + r.URL.RawQuery
}

// Open returns the generation called name, creating it if needed.
func (s *CacheStore) Open(ctx context.Context, name string) (*Generation, error) {
	if err := s.backend.OpenBucket(ctx, name); err != nil {
		return nil, err
	}
	return &Generation{Name: name, store: s}, nil
}

// Match looks key up in every bucket in creation order. Absent is nil, nil.
func (s *CacheStore) Match(ctx context.Context, key string) (*CachedResponse, error) {
	names, err := s.backend.Buckets(ctx)
	if err != nil {
		return nil, err
	}
	for _, n := range names {
		resp, err := s.backend.Get(ctx, n, key)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return resp, nil
		}
	}
	return nil, nil
}

// MatchIn looks key up in the given buckets only, in argument order.
func (s *CacheStore) MatchIn(ctx context.Context, key string, buckets ...string) (*CachedResponse, error) {
	for _, n := range buckets {
		resp, err := s.backend.Get(ctx, n, key)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return resp, nil
		}
	}
	return nil, nil
}

func (s *CacheStore) Put(ctx context.Context, bucket, key string, resp *CachedResponse) error {
	return s.backend.Put(ctx, bucket, key, resp.Clone())
}

func (s *CacheStore) Keys(ctx context.Context, bucket string) ([]string, error) {
	return s.backend.Keys(ctx, bucket)
}

func (s *CacheStore) DeleteBucket(ctx context.Context, name string) (bool, error) {
	return s.backend.DeleteBucket(ctx, name)
}

func (s *CacheStore) BucketNames(ctx context.Context) ([]string, error) {
	return s.backend.Buckets(ctx)
}

// Stats reports backend totals when the backend tracks them.
func (s *CacheStore) Stats() (BackendStats, bool) {
	st, ok := s.backend.(statser)
	if !ok {
		return BackendStats{}, false
	}
	return st.Stats(), true
}

func (s *CacheStore) Close() error {
	return s.backend.Close()
}

func (g *Generation) Match(ctx context.Context, key string) (*CachedResponse, error) {
	return g.store.backend.Get(ctx, g.Name, key)
}

func (g *Generation) Put(ctx context.Context, key string, resp *CachedResponse) error {
	return g.store.Put(ctx, g.Name, key, resp)
}

func (g *Generation) Keys(ctx context.Context) ([]string, error) {
	return g.store.Keys(ctx, g.Name)
}

func (g *Generation) Delete(ctx context.Context, key string) (bool, error) {
	return g.store.backend.Delete(ctx, g.Name, key)
}
