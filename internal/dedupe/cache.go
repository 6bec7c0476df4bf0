// ABOUTME: Bounded TTL set of delivery IDs already handled by a frontend
// ABOUTME: Oldest entries are evicted first; expired entries are swept in the background

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Defaults used when New is given non-positive values.
const (
	DefaultTTL     = 10 * time.Minute
	DefaultMaxSize = 10000
)

type entry struct {
	id     string
	seenAt time.Time
}

// Cache remembers delivery IDs for a limited time. The zero value is not usable.
type Cache struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a cache holding at most maxSize IDs for ttl each, and starts
// the background sweep. Call Close to stop it.
func New(ttl time.Duration, maxSize int) *Cache {
	c := newCache(ttl, maxSize, time.Now)
	go c.sweepLoop(sweepInterval(c.ttl))
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
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		stop:    make(chan struct{}),
	}
}

// sweepInterval is a quarter of the TTL, clamped to [1s, 1m].
func sweepInterval(ttl time.Duration) time.Duration {
	d := ttl / 4
	switch {
	case d < time.Second:
		return time.Second
	case d > time.Minute:
		return time.Minute
	}
	return d
}

// Seen reports whether id was recorded within the TTL, without recording it.
func (c *Cache) Seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(id)
}

// Claim records id and reports whether this call was the first to do so
// within the TTL. A false result means the delivery is a duplicate.
func (c *Cache) Claim(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.liveLocked(id) {
		return false
	}
	c.recordLocked(id)
	return true
}

// Forget drops id so a later delivery is processed again. Frontends use it
// when handling failed before a reply could be produced.
func (c *Cache) Forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[id]; ok {
		c.order.Remove(el)
		delete(c.index, id)
	}
}

// Len returns the number of IDs currently held, expired ones included until swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

func (c *Cache) liveLocked(id string) bool {
	el, ok := c.index[id]
	if !ok {
		return false
	}
	return c.now().Sub(el.Value.(*entry).seenAt) < c.ttl
}

func (c *Cache) recordLocked(id string) {
	now := c.now()
	if el, ok := c.index[id]; ok {
		el.Value.(*entry).seenAt = now
		c.order.MoveToBack(el)
		return
	}
	for len(c.index) >= c.maxSize {
		front := c.order.Front()
		c.order.Remove(front)
		delete(c.index, front.Value.(*entry).id)
	}
	c.index[id] = c.order.PushBack(&entry{id: id, seenAt: now})
}

// sweep removes expired IDs. Entries are ordered by record time, so it stops
// at the first live one.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for el := c.order.Front(); el != nil; {
		e := el.Value.(*entry)
		if now.Sub(e.seenAt) < c.ttl {
			return
		}
		next := el.Next()
		c.order.Remove(el)
		delete(c.index, e.id)
		el = next
	}
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

// Close stops the background sweep. Safe to call more than once.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}
