// Package cache implements the gateway's cache-aside read path and
// pattern-based invalidation, plus the medication popularity ranker.
//
// The cache is strictly best-effort: every store failure degrades to a miss
// (reads) or a no-op (writes and invalidations) so that an unreachable store
// never turns into a caller-visible error. Cached values are always
// re-derivable from the owning downstream service, which is also why
// last-write-wins on overlapping invalidations is acceptable.
package cache

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/medihelp/medigate/store"
)

// TTLs by data volatility. Slow-changing reference collections live for
// minutes; per-instance stock state mutates constantly and stays under two
// minutes; the derived cross-resource stock view adapts to popularity.
const (
	// TTLCatalog is for slow-changing reference collections (medication
	// catalog, pharmacy list, profile list).
	TTLCatalog = 5 * time.Minute

	// TTLVolatile is for rapidly-mutating state (per-pharmacy stock,
	// prescription lists).
	TTLVolatile = 60 * time.Second

	// ttlPopular and ttlUnpopular bound the adaptive TTL for derived
	// cross-resource views: hot medications tolerate more staleness in
	// exchange for load reduction, cold ones stay fresh.
	ttlPopular   = 3 * time.Minute
	ttlUnpopular = 45 * time.Second
)

// Key composes a deterministic cache key from a resource prefix and the
// query's identifying parameters. Callers must pass filter parts in a fixed
// order so identical queries always map to the same key.
func Key(prefix string, parts ...string) string {
	if len(parts) == 0 {
		return prefix
	}
	return prefix + ":" + strings.Join(parts, ":")
}

// AdaptiveTTL selects the derived-view TTL from the popularity flag.
func AdaptiveTTL(popular bool) time.Duration {
	if popular {
		return ttlPopular
	}
	return ttlUnpopular
}

// Cache is the cache-aside layer over the shared counter store.
type Cache struct {
	store store.Store
	log   *logrus.Logger
}

// New creates a Cache backed by the given store.
func New(st store.Store, log *logrus.Logger) *Cache {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Cache{store: st, log: log}
}

// Get looks up a cached value. Returns the raw cached bytes and true on a
// hit; a store failure is logged and reported as a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.WithError(err).WithField("key", key).Debug("cache read failed, bypassing")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return []byte(val), true
}

// Set stores a value under key with the given TTL. Failures are logged and
// swallowed; the response the value was derived from is already in hand.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := c.store.Set(ctx, key, string(value), ttl); err != nil {
		c.log.WithError(err).WithField("key", key).Debug("cache write failed, skipping")
	}
}

// Invalidate removes every key matching each pattern. Best-effort: a failed
// pattern is logged and the rest still run. Writes that change a derived
// cross-resource view must pass both owning prefixes.
func (c *Cache) Invalidate(ctx context.Context, patterns ...string) {
	for _, pattern := range patterns {
		if err := c.store.DeletePattern(ctx, pattern); err != nil {
			c.log.WithError(err).WithField("pattern", pattern).Warn("cache invalidation failed")
		}
	}
}
