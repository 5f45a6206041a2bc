// Package store provides the shared counter store backing rate limiting,
// the response cache, and the popularity ranking. It is the only point of
// cross-replica coordination in the gateway: all counters, cache entries,
// and scores live here, never in process memory.
package store

import (
	"context"
	"time"
)

// ScoredMember is a sorted-set member with its score.
type ScoredMember struct {
	Member string  `json:"name"`
	Score  float64 `json:"score"`
}

// Store is the shared counter store contract. A single instance is
// constructed at process start and injected into every component; no
// component holds its own connection.
type Store interface {
	// Increment atomically increments the counter for key and (re)arms its
	// expiry to window on first increment. The increment and expiry must be
	// applied as one atomic sequence; separate get/incr/expire calls would
	// race across replicas. Returns the new count and the time until the
	// window resets.
	Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)

	// GetCount retrieves the current counter value without incrementing.
	// Returns 0 for a missing or expired key.
	GetCount(ctx context.Context, key string) (int64, error)

	// Reset removes the counter for key.
	Reset(ctx context.Context, key string) error

	// Get retrieves a cached value. The second return is false on a miss.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores a value under key with the given TTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// DeletePattern removes every key matching the glob pattern
	// (e.g. "medications:*"). Best-effort: partial deletion on error.
	DeletePattern(ctx context.Context, pattern string) error

	// SortedIncr adds delta to member's score in the sorted set at key and
	// refreshes the whole structure's expiry. Returns the new score.
	SortedIncr(ctx context.Context, key, member string, delta float64, expiry time.Duration) (float64, error)

	// SortedTopN returns up to n members ordered by score descending.
	// Tie order among equal scores is store-defined.
	SortedTopN(ctx context.Context, key string, n int64) ([]ScoredMember, error)

	// Ping probes store liveness.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}
