// Package devicecache remembers what discovery learned about each port so the
// next probe can go straight to the right baud rate.
package devicecache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Entry is the cached identity of the device last seen on a port.
type Entry struct {
	TargetName   string
	PlatformName string
	BaudRate     int
	UpdatedAt    time.Time
}

// Record is an Entry together with its port id.
type Record struct {
	Port string
	Entry
}

// Persister stores entries across runs.
type Persister interface {
	Load(ctx context.Context) (map[string]Entry, error)
	Put(ctx context.Context, port string, e Entry) error
	Delete(ctx context.Context, port string) error
	Clear(ctx context.Context) error
}

// Cache is safe for concurrent use. Writes go to memory first; a persister
// error is returned but does not roll back the in-memory change.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	persist Persister
	now     func() time.Time
}

// New returns an empty cache. p may be nil for a memory-only cache.
func New(p Persister) *Cache {
	return &Cache{entries: make(map[string]Entry), persist: p, now: time.Now}
}

// Open returns a cache preloaded from p.
func Open(ctx context.Context, p Persister) (*Cache, error) {
	c := New(p)
	if p == nil {
		return c, nil
	}
	m, err := p.Load(ctx)
	if err != nil {
		return nil, err
	}
	c.entries = m
	return c, nil
}

func (c *Cache) Get(port string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[port]
	return e, ok
}

// Put records a successful probe.
func (c *Cache) Put(ctx context.Context, port string, e Entry) error {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = c.now()
	}
	c.mu.Lock()
	c.entries[port] = e
	c.mu.Unlock()
	if c.persist != nil {
		return c.persist.Put(ctx, port, e)
	}
	return nil
}

// Remove forgets a port.
func (c *Cache) Remove(ctx context.Context, port string) error {
	c.mu.Lock()
	_, had := c.entries[port]
	delete(c.entries, port)
	c.mu.Unlock()
	if had && c.persist != nil {
		return c.persist.Delete(ctx, port)
	}
	return nil
}

// Clear forgets every port.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.mu.Unlock()
	if c.persist != nil {
		return c.persist.Clear(ctx)
	}
	return nil
}

// List returns all entries ordered by port.
func (c *Cache) List() []Record {
	c.mu.RLock()
	out := make([]Record, 0, len(c.entries))
	for port, e := range c.entries {
		out = append(out, Record{Port: port, Entry: e})
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
