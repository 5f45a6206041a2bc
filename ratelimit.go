// Fixed-window rate limiting middleware backed by the shared counter store.
//
// Each limiter is named for the operation it guards; the counter key combines
// the operation with the caller identity (username when authenticated and
// per-user mode is on, network origin otherwise), so every replica counts
// against the same window. The window is a single atomic increment-with-expiry
// round trip — the store's native primitive makes fixed-window essentially
// free, which is why this design does not carry sliding-window bookkeeping.
//
// Known boundary effect: up to 2x the limit can be admitted when arrivals
// straddle a window edge. Accepted for this system's admission-control goals.
//
// When the store is unreachable the limiter fails open: the request is
// admitted uncounted, a degraded-mode counter is incremented, and the error
// is logged. Availability wins over strict enforcement here.

package medigate

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/medihelp/medigate/store"
)

// RateLimiter implements fixed-window admission control for one operation.
type RateLimiter struct {
	store     store.Store
	operation string
	limit     int64
	window    time.Duration
	perUser   bool
	log       *logrus.Logger
}

// RateLimitOption configures a RateLimiter.
type RateLimitOption func(*RateLimiter)

// RateLimitPerUser keys the window by authenticated username instead of
// network origin. Anonymous requests still fall back to the client IP.
func RateLimitPerUser() RateLimitOption {
	return func(l *RateLimiter) {
		l.perUser = true
	}
}

// RateLimitWithLogger sets the logger used for degraded-mode messages.
func RateLimitWithLogger(log *logrus.Logger) RateLimitOption {
	return func(l *RateLimiter) {
		l.log = log
	}
}

// NewRateLimiter creates a limiter for the named operation allowing limit
// requests per window.
func NewRateLimiter(st store.Store, operation string, limit int, window time.Duration, opts ...RateLimitOption) *RateLimiter {
	l := &RateLimiter{
		store:     st,
		operation: operation,
		limit:     int64(limit),
		window:    window,
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Handler returns the admission middleware. Admitted requests continue down
// the chain; rejections are terminal 429s carrying the configured limit and
// window in the body plus RateLimit-* and Retry-After headers.
func (l *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		key := l.key(r)

		count, ttl, err := l.store.Increment(ctx, key, l.window)
		if err != nil {
			// Fail open: the store being down must not take reads and
			// writes down with it.
			rateLimitFailOpen.Inc()
			l.log.WithError(err).WithField("operation", l.operation).
				Warn("counter store unreachable, admitting without rate limit")
			next.ServeHTTP(w, r)
			return
		}

		remaining := max(0, l.limit-count)
		resetTime := time.Now().Add(ttl).Unix()

		SetHeader(r, "RateLimit-Limit", strconv.FormatInt(l.limit, 10))
		SetHeader(r, "RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		SetHeader(r, "RateLimit-Reset", strconv.FormatInt(resetTime, 10))

		if count > l.limit {
			rateLimitRejections.WithLabelValues(l.operation).Inc()
			SetHeader(r, "Retry-After", strconv.Itoa(int(ttl.Seconds())))
			apiErr := NewRateLimitError(l.limit, l.window)
			if HasState(ctx) {
				SetError(r, apiErr)
			} else {
				http.Error(w, apiErr.Message, apiErr.Status)
			}
			return
		}

		next.ServeHTTP(w, r)
	})
}

// key builds the counter key: ratelimit:<operation>:user:<username> for
// authenticated callers in per-user mode, else ratelimit:<operation>:ip:<ip>.
func (l *RateLimiter) key(r *http.Request) string {
	if l.perUser {
		if id, ok := IdentityFromContext(r.Context()); ok {
			return "ratelimit:" + l.operation + ":user:" + id.Username
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return "ratelimit:" + l.operation + ":ip:" + ip
}
