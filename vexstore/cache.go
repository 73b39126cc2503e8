package vexstore

import (
	"container/list"
	"sync"

	"github.com/imbal/vex/vexhash"
)

// Byte-size constants for sizing a Cache, following the same iota-shift
// idiom the teacher's plumbing/cache package uses for its LRU budgets.
const (
	Byte = 1 << (iota * 10)
	KiByte
	MiByte
	GiByte
)

// DefaultCacheSize bounds the default object cache at a modest working
// set - enough to avoid re-reading hot manifests during a refresh/status
// walk without holding arbitrary amounts of repository content in memory.
const DefaultCacheSize = 64 * MiByte

// Cache is a bounded, size-aware LRU over recently read blob bytes,
// modelled on plumbing/cache's object cache: a container/list-backed LRU
// keyed by content address rather than by git hash.
type Cache struct {
	mu       sync.Mutex
	maxBytes int
	curBytes int
	ll       *list.List
	items    map[vexhash.Address]*list.Element
}

type cacheEntry struct {
	addr vexhash.Address
	data []byte
}

// NewCache creates an LRU bounded at maxBytes total cached content.
func NewCache(maxBytes int) *Cache {
	return &Cache{
		maxBytes: maxBytes,
		ll:       list.New(),
		items:    map[vexhash.Address]*list.Element{},
	}
}

// Get returns the cached bytes for addr, if present, promoting it to
// most-recently-used.
func (c *Cache) Get(addr vexhash.Address) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[addr]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*cacheEntry).data, true
}

// Add inserts data for addr, evicting least-recently-used entries until
// the cache fits within maxBytes.
func (c *Cache) Add(addr vexhash.Address, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[addr]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*cacheEntry).data = data
		return
	}
	el := c.ll.PushFront(&cacheEntry{addr: addr, data: data})
	c.items[addr] = el
	c.curBytes += len(data)
	for c.curBytes > c.maxBytes && c.ll.Len() > 0 {
		c.evictOldest()
	}
}

func (c *Cache) evictOldest() {
	back := c.ll.Back()
	if back == nil {
		return
	}
	c.ll.Remove(back)
	entry := back.Value.(*cacheEntry)
	delete(c.items, entry.addr)
	c.curBytes -= len(entry.data)
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = map[vexhash.Address]*list.Element{}
	c.curBytes = 0
}
