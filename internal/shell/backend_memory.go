package shell

import (
	"context"
	"sync"
)

type memBucket struct {
	order   []string
	entries map[string]*CachedResponse
}

func (b *memBucket) remove(key string) {
	for i, k := range b.order {
		if k == key {
			b.order = append(b.order[:i], b.order[i+1:]...)
			return
		}
	}
}

// MemoryBackend keeps generations in process memory. Data survives across
// requests but not restarts.
type MemoryBackend struct {
	maxBytes int64

	mu      sync.RWMutex
	order   []string
	buckets map[string]*memBucket
	total   int64
}

// NewMemoryBackend creates an empty backend. maxBytes <= 0 means unbounded.
func NewMemoryBackend(maxBytes int64) *MemoryBackend {
	return &MemoryBackend{maxBytes: maxBytes, buckets: map[string]*memBucket{}}
}

func (m *MemoryBackend) OpenBucket(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openLocked(name)
	return nil
}

func (m *MemoryBackend) openLocked(name string) *memBucket {
	if b, ok := m.buckets[name]; ok {
		return b
	}
	b := &memBucket{entries: map[string]*CachedResponse{}}
	m.buckets[name] = b
	m.order = append(m.order, name)
	return b
}

func (m *MemoryBackend) HasBucket(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.buckets[name]
	return ok, nil
}

func (m *MemoryBackend) Buckets(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...), nil
}

func (m *MemoryBackend) DeleteBucket(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[name]
	if !ok {
		return false, nil
	}
	for _, ent := range b.entries {
		m.total -= ent.size()
	}
	delete(m.buckets, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (m *MemoryBackend) Get(_ context.Context, bucket, key string) (*CachedResponse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buckets[bucket]
	if !ok {
		return nil, nil
	}
	return b.entries[key].Clone(), nil
}

func (m *MemoryBackend) Put(_ context.Context, bucket, key string, resp *CachedResponse) error {
	ent := resp.Clone()
	sz := ent.size()

	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.openLocked(bucket)
	prev, exists := b.entries[key]
	var old int64
	if exists {
		old = prev.size()
	}
	if m.maxBytes > 0 && m.total-old+sz > m.maxBytes {
		return ErrQuotaExceeded
	}
	if exists {
		b.remove(key)
	}
	m.total += sz - old
	b.entries[key] = ent
	b.order = append(b.order, key)
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, bucket, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[bucket]
	if !ok {
		return false, nil
	}
	ent, ok := b.entries[key]
	if !ok {
		return false, nil
	}
	m.total -= ent.size()
	delete(b.entries, key)
	b.remove(key)
	return true, nil
}

func (m *MemoryBackend) Keys(_ context.Context, bucket string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buckets[bucket]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), b.order...), nil
}

func (m *MemoryBackend) Stats() BackendStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := BackendStats{Buckets: len(m.buckets), Bytes: m.total}
	for _, b := range m.buckets {
		st.Entries += len(b.entries)
	}
	return st
}

func (m *MemoryBackend) Close() error { return nil }
