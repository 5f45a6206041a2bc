package store

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"
)

type counterEntry struct {
	count      int64
	expiration time.Time
}

type valueEntry struct {
	value      string
	expiration time.Time
}

type sortedEntry struct {
	scores     map[string]float64
	expiration time.Time
}

// Memory is an in-memory Store.
//
// WARNING: not suitable for multi-instance deployments. Each instance would
// hold its own counters, so rate limits and cache invalidations would not be
// shared across replicas. Use Memory only for tests, local development, and
// single-instance setups; production uses Redis.
type Memory struct {
	mu       sync.RWMutex
	counters map[string]*counterEntry
	values   map[string]*valueEntry
	sorted   map[string]*sortedEntry
	stopCh   chan struct{}
}

// NewMemory creates an in-memory store with a background sweep that removes
// expired entries once a minute.
//
// Call Close() when done to stop the sweep goroutine.
func NewMemory() *Memory {
	m := &Memory{
		counters: make(map[string]*counterEntry),
		values:   make(map[string]*valueEntry),
		sorted:   make(map[string]*sortedEntry),
		stopCh:   make(chan struct{}),
	}

	go m.sweepLoop()
	return m
}

// Increment atomically increments the counter for key. A missing or expired
// key starts a fresh window at count=1.
func (m *Memory) Increment(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	entry, exists := m.counters[key]

	if !exists || now.After(entry.expiration) {
		m.counters[key] = &counterEntry{
			count:      1,
			expiration: now.Add(window),
		}
		return 1, window, nil
	}

	entry.count++
	ttl := max(0, time.Until(entry.expiration))
	return entry.count, ttl, nil
}

// GetCount retrieves the current counter value without incrementing.
func (m *Memory) GetCount(_ context.Context, key string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.counters[key]
	if !exists || time.Now().After(entry.expiration) {
		return 0, nil
	}
	return entry.count, nil
}

// Reset removes the counter for the given key.
func (m *Memory) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.counters, key)
	return nil
}

// Get retrieves a cached value, honoring its expiration.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.values[key]
	if !exists || time.Now().After(entry.expiration) {
		return "", false, nil
	}
	return entry.value, true, nil
}

// Set stores a value with the given TTL.
func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = &valueEntry{
		value:      value,
		expiration: time.Now().Add(ttl),
	}
	return nil
}

// DeletePattern removes cached values whose key matches the glob pattern.
func (m *Memory) DeletePattern(_ context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.values {
		if ok, err := path.Match(pattern, key); err == nil && ok {
			delete(m.values, key)
		}
	}
	return nil
}

// SortedIncr adds delta to the member's score and refreshes the structure's
// expiry.
func (m *Memory) SortedIncr(_ context.Context, key, member string, delta float64, expiry time.Duration) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	entry, exists := m.sorted[key]
	if !exists || now.After(entry.expiration) {
		entry = &sortedEntry{scores: make(map[string]float64)}
		m.sorted[key] = entry
	}
	entry.scores[member] += delta
	entry.expiration = now.Add(expiry)
	return entry.scores[member], nil
}

// SortedTopN returns up to n members by score descending. Ties are broken by
// member name for deterministic tests; the Redis implementation makes no
// such promise.
func (m *Memory) SortedTopN(_ context.Context, key string, n int64) ([]ScoredMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.sorted[key]
	if !exists || time.Now().After(entry.expiration) || n <= 0 {
		return nil, nil
	}

	members := make([]ScoredMember, 0, len(entry.scores))
	for member, score := range entry.scores {
		members = append(members, ScoredMember{Member: member, Score: score})
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].Score != members[j].Score {
			return members[i].Score > members[j].Score
		}
		return members[i].Member < members[j].Member
	})

	if int64(len(members)) > n {
		members = members[:n]
	}
	return members, nil
}

// Ping always succeeds for the in-memory store.
func (m *Memory) Ping(_ context.Context) error {
	return nil
}

// Close stops the background sweep goroutine and releases resources.
func (m *Memory) Close() error {
	close(m.stopCh)
	m.mu.Lock()
	m.counters = nil
	m.values = nil
	m.sorted = nil
	m.mu.Unlock()
	return nil
}

// sweep executes a single cleanup cycle, removing all expired entries.
// Exposed for tests to trigger cleanup without waiting for the ticker.
func (m *Memory) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for key, entry := range m.counters {
		if now.After(entry.expiration) {
			delete(m.counters, key)
		}
	}
	for key, entry := range m.values {
		if now.After(entry.expiration) {
			delete(m.values, key)
		}
	}
	for key, entry := range m.sorted {
		if now.After(entry.expiration) {
			delete(m.sorted, key)
		}
	}
}

func (m *Memory) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopCh:
			return
		}
	}
}
