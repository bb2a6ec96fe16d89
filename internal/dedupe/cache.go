// ABOUTME: Thread-safe TTL cache of inbound event keys used to drop redeliveries
// ABOUTME: Size-bounded with O(1) oldest-first eviction and a background expiry sweep

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// DefaultTTL is how long an event key is remembered when no TTL is configured.
const DefaultTTL = 10 * time.Minute

// DefaultMaxSize bounds the number of remembered keys when no size is configured.
const DefaultMaxSize = 10_000

// sweepInterval is how often expired keys are removed in the background.
const sweepInterval = time.Minute

type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Cache remembers event keys for a fixed TTL.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // keys, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a cache and starts its background sweep. Non-positive ttl or
// maxSize fall back to the defaults. Call Close to stop the sweep.
func New(ttl time.Duration, maxSize int) *Cache {
	c := newCache(ttl, maxSize, time.Now)
	go c.sweepLoop(sweepInterval)
	return c
}

func newCache(ttl time.Duration, maxSize int, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		done:    make(chan struct{}),
	}
}

// Key builds a cache key scoped to a transport.
func Key(transport, eventID string) string {
	return transport + ":" + eventID
}

// Seen reports whether key was recorded within the TTL. If not, it records
// key and returns false. Check and record happen under one lock, so exactly
// one of several concurrent callers with the same key gets false.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[key]; ok {
		if now.Sub(e.seenAt) < c.ttl {
			return true
		}
		// Expired: refresh in place.
		e.seenAt = now
		c.order.MoveToBack(e.element)
		return false
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.entries[key] = &entry{
		seenAt:  now,
		element: c.order.PushBack(key),
	}
	return false
}

// Len returns the number of remembered keys, expired ones included until swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the background sweep. Safe to call more than once.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep removes expired keys. Keys are ordered by seenAt, so it stops at
// the first unexpired one.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key, _ := front.Value.(string)
		e := c.entries[key]
		if now.Sub(e.seenAt) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.entries, key)
	}
}
