package medigate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/medihelp/medigate/identity"
	"github.com/medihelp/medigate/store"
)

type erroringStore struct {
	store.Store
}

func (erroringStore) Increment(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, context.DeadlineExceeded
}

func limitedHandler(t *testing.T, st store.Store, limit int, opts ...RateLimitOption) http.Handler {
	t.Helper()

	limiter := NewRateLimiter(st, "test_op", limit, time.Minute, opts...)
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetResponse(r, http.StatusOK, map[string]bool{"ok": true})
	})
	return Handler()(limiter.Handler(final))
}

func TestRateLimiterAdmitsUpToLimit(t *testing.T) {
	m := store.NewMemory()
	defer m.Close()

	h := limitedHandler(t, m, 3)

	for i := 1; i <= 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:4000"
		rec := serve(t, h, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rec.Code)
		}
		if got := rec.Header().Get("RateLimit-Limit"); got != "3" {
			t.Errorf("request %d: RateLimit-Limit = %q, want 3", i, got)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:4000"
	rec := serve(t, h, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("request 4: status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 missing Retry-After header")
	}
	apiErr := decodeError(t, rec)
	if apiErr.Code != "rate_limit_exceeded" {
		t.Errorf("code = %q, want rate_limit_exceeded", apiErr.Code)
	}
	if apiErr.MaxReqs != 3 {
		t.Errorf("max_requests = %d, want 3", apiErr.MaxReqs)
	}
	if apiErr.WindowSecs != 60 {
		t.Errorf("window_seconds = %d, want 60", apiErr.WindowSecs)
	}
}

func TestRateLimiterSeparatesOrigins(t *testing.T) {
	m := store.NewMemory()
	defer m.Close()

	h := limitedHandler(t, m, 1)

	for _, addr := range []string{"10.0.0.1:4000", "10.0.0.2:4000"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		if rec := serve(t, h, req); rec.Code != http.StatusOK {
			t.Errorf("first request from %s: status = %d, want 200", addr, rec.Code)
		}
	}
}

func TestRateLimiterPerUser(t *testing.T) {
	m := store.NewMemory()
	defer m.Close()

	h := limitedHandler(t, m, 1, RateLimitPerUser())

	send := func(username string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:4000"
		id := &identity.Identity{Username: username, Roles: []string{"PATIENT"}}
		req = req.WithContext(context.WithValue(req.Context(), identityKey, id))
		return serve(t, h, req).Code
	}

	if code := send("alice"); code != http.StatusOK {
		t.Fatalf("alice first request: status = %d, want 200", code)
	}
	if code := send("alice"); code != http.StatusTooManyRequests {
		t.Errorf("alice second request: status = %d, want 429", code)
	}
	// Same origin, different user: independent window.
	if code := send("bob"); code != http.StatusOK {
		t.Errorf("bob first request: status = %d, want 200", code)
	}
}

func TestRateLimiterFailsOpen(t *testing.T) {
	h := limitedHandler(t, erroringStore{}, 1)

	for i := 1; i <= 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:4000"
		rec := serve(t, h, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d with broken store: status = %d, want 200 (fail open)", i, rec.Code)
		}
	}
}

func TestRateLimiterKeyFallsBackToRemoteAddr(t *testing.T) {
	l := NewRateLimiter(nil, "op", 1, time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:1234"
	if got := l.key(req); got != "ratelimit:op:ip:10.0.0.9" {
		t.Errorf("key = %q, want ratelimit:op:ip:10.0.0.9", got)
	}

	req.RemoteAddr = "weird-no-port"
	if got := l.key(req); got != "ratelimit:op:ip:weird-no-port" {
		t.Errorf("key = %q, want raw RemoteAddr fallback", got)
	}
}
