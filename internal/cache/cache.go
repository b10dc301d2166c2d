// Package cache implements the process-wide Cache singleton (spec.md
// §4.1): a namespace+key keyed store with per-namespace TTLs, msgpack
// encoding, and active expiry. Grounded on the teacher's service-struct
// conventions (single mutex, zerolog-scoped logger) generalized to this
// store's get/set/delete/invalidate/cleanup contract — the teacher itself
// has no single cache analogue, so the shape follows spec.md §4.1 directly
// while the concurrency idiom (one mutex, coarse TTL so contention stays
// low) is the teacher's documented rationale carried over verbatim.
package cache

import (
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Well-known namespaces and their default TTLs (spec.md §4.1 examples).
const (
	NamespaceTickers       = "tickers"
	NamespaceOHLCV3m       = "ohlcv_3m"
	NamespaceOHLCV4h       = "ohlcv_4h"
	NamespaceOrderbook     = "orderbook"
	NamespaceTrades        = "trades"
	NamespaceMarkets       = "markets"
	NamespaceCoinSelection = "coin_selection"
)

var defaultTTLs = map[string]time.Duration{
	NamespaceTickers:   30 * time.Second,
	NamespaceOHLCV3m:   300 * time.Second,
	NamespaceOHLCV4h:   3600 * time.Second,
	NamespaceOrderbook: 60 * time.Second,
	NamespaceTrades:    60 * time.Second,
	NamespaceMarkets:   time.Hour,
}

// DefaultTTL returns the built-in default TTL for a well-known namespace.
// ConfigCenter.CacheTTL falls back to this when no cache.ttl.<namespace>
// row exists, so the two packages never carry divergent default tables.
func DefaultTTL(namespace string) (time.Duration, bool) {
	ttl, ok := defaultTTLs[namespace]
	return ttl, ok
}

// TTLSource resolves a namespace's TTL from a hot-reloadable view, e.g.
// ConfigCenter's cache.ttl.* rows.
type TTLSource interface {
	CacheTTL(namespace string) time.Duration
}

type entry struct {
	value   []byte
	expires time.Time
}

// Cache is a namespace-keyed, TTL-expiring store. The zero value is not
// usable; construct with New. Safe for concurrent use.
type Cache struct {
	mu            sync.Mutex
	ttls          map[string]time.Duration
	data          map[string]map[string]entry
	cycleInterval time.Duration
	source        TTLSource
}

// New builds an empty Cache seeded with the default namespace TTLs.
func New() *Cache {
	ttls := make(map[string]time.Duration, len(defaultTTLs)+1)
	for ns, ttl := range defaultTTLs {
		ttls[ns] = ttl
	}
	return &Cache{
		ttls: ttls,
		data: make(map[string]map[string]entry),
	}
}

// SetCycleInterval recomputes the coin_selection namespace TTL as 0.9x the
// given cycle interval, so the next cycle always sees a cache miss for
// coin selection (spec.md §4.1).
func (c *Cache) SetCycleInterval(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cycleInterval = d
	c.ttls[NamespaceCoinSelection] = time.Duration(float64(d) * 0.9)
}

// SetTTLSource wires a reloadable TTL resolver, typically ConfigCenter, so
// a cache.ttl.<namespace> row can change a namespace's TTL without a
// process restart.
func (c *Cache) SetTTLSource(source TTLSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.source = source
}

// Get returns the decoded value for (namespace, key) if present and not
// expired. A miss (absent or expired) evicts the entry and returns
// ok=false. out must be a pointer, as with msgpack.Unmarshal.
func (c *Cache) Get(namespace, key string, out interface{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	bucket, ok := c.data[namespace]
	if !ok {
		return false
	}
	e, ok := bucket[key]
	if !ok {
		return false
	}
	if time.Now().After(e.expires) {
		delete(bucket, key)
		return false
	}
	if err := msgpack.Unmarshal(e.value, out); err != nil {
		return false
	}
	return true
}

// Set encodes value and stores it under (namespace, key), expiring after
// the namespace's configured TTL (or 60s if the namespace is unknown).
func (c *Cache) Set(namespace, key string, value interface{}) error {
	encoded, err := msgpack.Marshal(value)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ttl := c.resolveTTL(namespace)
	bucket, ok := c.data[namespace]
	if !ok {
		bucket = make(map[string]entry)
		c.data[namespace] = bucket
	}
	bucket[key] = entry{value: encoded, expires: time.Now().Add(ttl)}
	return nil
}

// resolveTTL applies, in priority order: the dynamic coin_selection
// override set by SetCycleInterval, the wired TTLSource's hot-reloadable
// view, this Cache's built-in default, or a 60s fallback for an unknown
// namespace. Assumes the caller holds c.mu.
func (c *Cache) resolveTTL(namespace string) time.Duration {
	if namespace == NamespaceCoinSelection && c.cycleInterval > 0 {
		return c.ttls[namespace]
	}
	if c.source != nil {
		return c.source.CacheTTL(namespace)
	}
	if ttl, ok := c.ttls[namespace]; ok {
		return ttl
	}
	return 60 * time.Second
}

// Delete removes one (namespace, key) entry.
func (c *Cache) Delete(namespace, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bucket, ok := c.data[namespace]; ok {
		delete(bucket, key)
	}
}

// Invalidate drops a single key in namespace, or the entire namespace if
// key is empty.
func (c *Cache) Invalidate(namespace, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if key == "" {
		delete(c.data, namespace)
		return
	}
	if bucket, ok := c.data[namespace]; ok {
		delete(bucket, key)
	}
}

// CleanupExpired performs a linear sweep evicting every expired entry
// across all namespaces. Intended to be called periodically (e.g. from a
// CycleScheduler housekeeping tick) rather than on every Get.
func (c *Cache) CleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for ns, bucket := range c.data {
		for key, e := range bucket {
			if now.After(e.expires) {
				delete(bucket, key)
			}
		}
		if len(bucket) == 0 {
			delete(c.data, ns)
		}
	}
}
