package shell

import (
	"strings"
	"sync"
)

// ---- ram cache ----

type ramItem struct {
	key  string
	ent  *CachedResponse
	size int64
	prev *ramItem
	next *ramItem
}

// ramCache is a byte-bounded LRU used as a read-through front for the leveldb
// backend. It never holds anything the backend does not also hold.
type ramCache struct {
	maxBytes int64

	mu    sync.Mutex
	items map[string]*ramItem
	head  *ramItem
	tail  *ramItem
	total int64

	overflowLog *rateLimitedLogger
}

func newRAMCache(maxBytes int64, overflowLog *rateLimitedLogger) *ramCache {
	return &ramCache{maxBytes: maxBytes, items: map[string]*ramItem{}, overflowLog: overflowLog}
}

func (c *ramCache) TotalSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

func (c *ramCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *ramCache) Get(key string) (*CachedResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.moveToFront(it)
	return it.ent.Clone(), true
}

func (c *ramCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteLocked(key)
}

func (c *ramCache) deleteLocked(key string) {
	it, ok := c.items[key]
	if !ok {
		return
	}
	c.remove(it)
	delete(c.items, key)
	c.total -= it.size
}

// DeletePrefix drops every key starting with prefix.
func (c *ramCache) DeletePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			c.deleteLocked(k)
		}
	}
}

func (c *ramCache) Put(key string, ent *CachedResponse) {
	if c.maxBytes <= 0 {
		return
	}
	ent = ent.Clone()
	sz := ent.size()
	if sz > c.maxBytes {
		// too big for RAM, the backend still has it
		c.Delete(key)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if it, ok := c.items[key]; ok {
		c.total -= it.size
		it.ent = ent
		it.size = sz
		c.total += sz
		c.moveToFront(it)
		return
	}

	if c.total+sz > c.maxBytes {
		c.overflowLog.Warn("ram cache full, evicting", "items", len(c.items), "bytes", c.total)
		for c.tail != nil && c.total+sz > c.maxBytes {
			c.evictLocked()
		}
	}

	it := &ramItem{key: key, ent: ent, size: sz}
	c.items[key] = it
	c.addToFront(it)
	c.total += sz
}

// evictLocked drops the least-recently-used 10% (at least one item).
func (c *ramCache) evictLocked() {
	n := len(c.items) / 10
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		it := c.tail
		if it == nil {
			return
		}
		c.remove(it)
		delete(c.items, it.key)
		c.total -= it.size
	}
}

func (c *ramCache) addToFront(it *ramItem) {
	it.prev = nil
	it.next = c.head
	if c.head != nil {
		c.head.prev = it
	}
	c.head = it
	if c.tail == nil {
		c.tail = it
	}
}

func (c *ramCache) remove(it *ramItem) {
	if it.prev != nil {
		it.prev.next = it.next
	} else {
		c.head = it.next
	}
	if it.next != nil {
		it.next.prev = it.prev
	} else {
		c.tail = it.prev
	}
	it.prev, it.next = nil, nil
}

func (c *ramCache) moveToFront(it *ramItem) {
	if c.head == it {
		return
	}
	c.remove(it)
	c.addToFront(it)
}
