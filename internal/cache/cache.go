// Package cache is the bounded result cache that sits in front of every
// tool call. Entries are keyed by domain, tool name and a canonical,
// order-independent encoding of the arguments, and expire according to the
// tool's volatility class. Expiry is checked on read; there is no sweeper.
//
// Cache faults never reach callers: an argument set that cannot be encoded
// is simply a miss and is not stored.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/scrypster/statline/internal/observability"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 2048

type entry struct {
	value     json.RawMessage
	expiresAt time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	entries  *lru.Cache[string, entry]
	table    *VolatilityTable
	now      func() time.Time
	capacity int
	loads    singleflight.Group

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithVolatilityTable replaces the default tool volatility table.
func WithVolatilityTable(t *VolatilityTable) Option {
	return func(c *Cache) { c.table = t }
}

// New creates a cache holding at most capacity entries.
func New(capacity int, opts ...Option) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	// lru.New only fails for a non-positive size.
	entries, _ := lru.New[string, entry](capacity)

	c := &Cache{
		entries:  entries,
		table:    DefaultVolatilityTable(),
		now:      time.Now,
		capacity: capacity,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key builds the canonical cache key. encoding/json writes map keys in
// sorted order at every nesting level, so argument order never matters.
func Key(domain, tool string, args map[string]interface{}) (string, error) {
	if args == nil {
		args = map[string]interface{}{}
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return domain + "|" + tool + "|" + string(b), nil
}

// TTLFor returns the lifetime the volatility table assigns to tool.
func (c *Cache) TTLFor(tool string) time.Duration {
	return c.table.TTL(tool)
}

// Get returns the cached payload for (domain, tool, args), or false on a
// miss. Expired entries are removed and reported as misses.
func (c *Cache) Get(domain, tool string, args map[string]interface{}) (json.RawMessage, bool) {
	key, err := Key(domain, tool, args)
	if err != nil {
		c.miss("miss")
		return nil, false
	}
	return c.get(key)
}

func (c *Cache) get(key string) (json.RawMessage, bool) {
	e, ok := c.entries.Get(key)
	if !ok {
		c.miss("miss")
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		c.entries.Remove(key)
		observability.SetCacheEntries(c.entries.Len())
		c.miss("expired")
		return nil, false
	}
	c.hits.Add(1)
	observability.RecordCacheLookup("hit")
	return e.value, true
}

func (c *Cache) miss(result string) {
	c.misses.Add(1)
	observability.RecordCacheLookup(result)
}

// Set stores value for (domain, tool, args). A non-positive ttl selects the
// tool's volatility TTL.
func (c *Cache) Set(domain, tool string, args map[string]interface{}, value json.RawMessage, ttl time.Duration) {
	key, err := Key(domain, tool, args)
	if err != nil {
		return
	}
	if ttl <= 0 {
		ttl = c.TTLFor(tool)
	}
	c.set(key, value, ttl)
}

func (c *Cache) set(key string, value json.RawMessage, ttl time.Duration) {
	c.entries.Add(key, entry{value: value, expiresAt: c.now().Add(ttl)})
	observability.SetCacheEntries(c.entries.Len())
}

// LoadFunc produces a fresh payload on a cache miss.
type LoadFunc func(ctx context.Context) (json.RawMessage, error)

// GetOrLoad returns the cached payload or calls load, storing a successful
// result with the tool's volatility TTL. Concurrent misses on the same key
// share one load, which keeps running when the caller that started it is
// cancelled. cached reports whether the value came from the cache. Load
// errors are returned and never cached.
func (c *Cache) GetOrLoad(ctx context.Context, domain, tool string, args map[string]interface{}, load LoadFunc) (value json.RawMessage, cached bool, err error) {
	key, keyErr := Key(domain, tool, args)
	if keyErr != nil {
		c.miss("miss")
		v, err := load(ctx)
		return v, false, err
	}

	if v, ok := c.get(key); ok {
		return v, true, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	// The load is shared with every caller waiting on key, so it must not
	// end when the caller that started it goes away. The loader's own
	// timeout bounds it.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.loads.DoChan(key, func() (interface{}, error) {
		v, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		c.set(key, v, c.TTLFor(tool))
		return v, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(json.RawMessage), false, nil
	}
}

// Purge drops every entry for domain and returns how many were removed.
func (c *Cache) Purge(domain string) int {
	prefix := domain + "|"
	removed := 0
	for _, k := range c.entries.Keys() {
		if strings.HasPrefix(k, prefix) {
			if c.entries.Remove(k) {
				removed++
			}
		}
	}
	observability.SetCacheEntries(c.entries.Len())
	return removed
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
	Entries  int    `json:"entries"`
	Capacity int    `json:"capacity"`
}

// Stats returns the hit/miss counters and current size.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Entries:  c.entries.Len(),
		Capacity: c.capacity,
	}
}
