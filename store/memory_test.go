package store

import (
	"context"
	"testing"
	"time"
)

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory()
	t.Cleanup(func() { m.Close() })
	return m
}

func TestMemoryIncrement(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		count, ttl, err := m.Increment(ctx, "k", time.Minute)
		if err != nil {
			t.Fatalf("Increment() error: %v", err)
		}
		if count != want {
			t.Errorf("count = %d, want %d", count, want)
		}
		if ttl <= 0 || ttl > time.Minute {
			t.Errorf("ttl = %v, want within (0, 1m]", ttl)
		}
	}

	count, err := m.GetCount(ctx, "k")
	if err != nil {
		t.Fatalf("GetCount() error: %v", err)
	}
	if count != 3 {
		t.Errorf("GetCount() = %d, want 3", count)
	}
}

func TestMemoryIncrementWindowExpiry(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	if _, _, err := m.Increment(ctx, "k", time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	count, _, err := m.Increment(ctx, "k", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("count after window expiry = %d, want 1 (fresh window)", count)
	}
}

func TestMemoryReset(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	m.Increment(ctx, "k", time.Minute)
	if err := m.Reset(ctx, "k"); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}

	count, _ := m.GetCount(ctx, "k")
	if count != 0 {
		t.Errorf("count after reset = %d, want 0", count)
	}
}

func TestMemoryGetSet(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	if _, ok, _ := m.Get(ctx, "missing"); ok {
		t.Error("Get() on missing key reported a hit")
	}

	if err := m.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	val, ok, err := m.Get(ctx, "k")
	if err != nil || !ok || val != "v" {
		t.Errorf("Get() = (%q, %v, %v), want (v, true, nil)", val, ok, err)
	}
}

func TestMemoryGetExpired(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	m.Set(ctx, "k", "v", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Error("Get() on expired key reported a hit")
	}
}

func TestMemoryDeletePattern(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	keys := []string{
		"medications:all",
		"medication:7",
		"pharmacy_stock:3",
		"pharmacy_stock:33",
	}
	for _, k := range keys {
		m.Set(ctx, k, "v", time.Minute)
	}

	if err := m.DeletePattern(ctx, "medications:*"); err != nil {
		t.Fatalf("DeletePattern() error: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "medications:all"); ok {
		t.Error("medications:all should have been deleted")
	}
	if _, ok, _ := m.Get(ctx, "medication:7"); !ok {
		t.Error("medication:7 should have survived the medications:* pattern")
	}

	// An exact key is a valid pattern and must not match its neighbors.
	if err := m.DeletePattern(ctx, "pharmacy_stock:3"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := m.Get(ctx, "pharmacy_stock:3"); ok {
		t.Error("pharmacy_stock:3 should have been deleted")
	}
	if _, ok, _ := m.Get(ctx, "pharmacy_stock:33"); !ok {
		t.Error("pharmacy_stock:33 should have survived")
	}
}

func TestMemorySorted(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	for name, incrs := range map[string]int{"aspirin": 3, "ibuprofen": 5, "paracetamol": 1} {
		for range incrs {
			if _, err := m.SortedIncr(ctx, "pop", name, 1, time.Hour); err != nil {
				t.Fatalf("SortedIncr() error: %v", err)
			}
		}
	}

	top, err := m.SortedTopN(ctx, "pop", 2)
	if err != nil {
		t.Fatalf("SortedTopN() error: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("len(top) = %d, want 2", len(top))
	}
	if top[0].Member != "ibuprofen" || top[0].Score != 5 {
		t.Errorf("top[0] = %+v, want ibuprofen/5", top[0])
	}
	if top[1].Member != "aspirin" || top[1].Score != 3 {
		t.Errorf("top[1] = %+v, want aspirin/3", top[1])
	}
}

func TestMemorySortedTieBreak(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	m.SortedIncr(ctx, "pop", "b", 2, time.Hour)
	m.SortedIncr(ctx, "pop", "a", 2, time.Hour)

	top, err := m.SortedTopN(ctx, "pop", 10)
	if err != nil {
		t.Fatal(err)
	}
	if top[0].Member != "a" || top[1].Member != "b" {
		t.Errorf("tie order = %v, want a before b", top)
	}
}

func TestMemorySortedExpiry(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	m.SortedIncr(ctx, "pop", "aspirin", 1, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	top, err := m.SortedTopN(ctx, "pop", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 0 {
		t.Errorf("expired sorted set returned %v", top)
	}

	// A fresh increment after lapse starts the structure over.
	score, err := m.SortedIncr(ctx, "pop", "aspirin", 1, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if score != 1 {
		t.Errorf("score after lapse = %v, want 1", score)
	}
}

func TestMemorySweep(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	m.Set(ctx, "stale", "v", time.Millisecond)
	m.Increment(ctx, "stale-counter", time.Millisecond)
	m.Set(ctx, "fresh", "v", time.Hour)
	time.Sleep(5 * time.Millisecond)

	m.sweep()

	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.values["stale"]; ok {
		t.Error("sweep left the expired value behind")
	}
	if _, ok := m.counters["stale-counter"]; ok {
		t.Error("sweep left the expired counter behind")
	}
	if _, ok := m.values["fresh"]; !ok {
		t.Error("sweep removed a live value")
	}
}
