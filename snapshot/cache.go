package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"

	"github.com/edgegate/edgegate/catalog"
	"github.com/edgegate/edgegate/metrics"
	"github.com/edgegate/edgegate/routing"
)

// DefaultCapacity holds a few recent snapshots to absorb churn during a
// rollover.
const DefaultCapacity = 3

var (
	// ErrUpstreamUnavailable marks a failed snapshot store call. The
	// failure is never cached, the next request retries.
	ErrUpstreamUnavailable = errors.New("snapshot store unavailable")

	// ErrMalformedCatalog marks catalog data that could not be parsed
	// into a routing table. Never cached.
	ErrMalformedCatalog = errors.New("malformed catalog data")
)

// Cache is a bounded LRU of parsed routing tables keyed by snapshot id.
// Eviction is LRU order, snapshots have no TTL: the store decides when a
// snapshot dies, the cache only bounds memory. Compiled path patterns
// live inside the cached table and are dropped with it.
type Cache struct {
	store  Store
	tables *lru.Cache[string, *routing.Table]
}

// NewCache creates a cache over the given store. A capacity below one
// falls back to DefaultCapacity.
func NewCache(store Store, capacity int) *Cache {
	if capacity < 1 {
		capacity = DefaultCapacity
	}

	// lru.New only fails on capacity < 1
	tables, _ := lru.New[string, *routing.Table](capacity)

	return &Cache{store: store, tables: tables}
}

// AcquireCurrent resolves the current snapshot to a routing table and
// returns it together with the release hook. The hook must be invoked
// exactly once, after the response for the request has been fully sent,
// so the store never reclaims a snapshot a request still references.
// Calling it more than once is guarded and logged. On error no release is
// left to the caller, the reference is already given back.
func (c *Cache) AcquireCurrent(ctx context.Context) (*routing.Table, func(), error) {
	id, err := c.store.Current(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	release := c.releaseOnce(id)

	if t, ok := c.tables.Get(id); ok {
		metrics.IncCache("hit")
		return t, release, nil
	}
	metrics.IncCache("miss")

	data, err := c.store.Fetch(ctx, id)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	entries, err := catalog.ParseEntries(data)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedCatalog, err)
	}

	t, err := routing.NewTable(id, entries)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedCatalog, err)
	}

	c.tables.Add(id, t)
	log.WithFields(log.Fields{"snapshot": id, "entries": len(entries)}).Info("cached routing table")

	return t, release, nil
}

func (c *Cache) releaseOnce(id string) func() {
	var once sync.Once
	return func() {
		released := false
		once.Do(func() {
			c.store.Release(id)
			released = true
		})
		if !released {
			log.Warnf("duplicate release of snapshot %s suppressed", id)
		}
	}
}

// Len reports the number of cached tables, used by tests and the support
// listener.
func (c *Cache) Len() int {
	return c.tables.Len()
}
