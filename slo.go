package medigate

// SLO tagging for routes. Sets a latency target in request context that the
// Handler middleware compares against the measured duration when logging.

import (
	"context"
	"net/http"
	"time"
)

// SLOTier represents an SLO classification level.
type SLOTier string

const (
	// SLOCacheRead is for read paths expected to be served from cache.
	SLOCacheRead SLOTier = "cache_read"

	// SLORelay is for single-hop relays to a downstream service.
	SLORelay SLOTier = "relay"

	// SLOWrite is for write paths that relay plus invalidate.
	SLOWrite SLOTier = "write"
)

var sloTargets = map[SLOTier]time.Duration{
	SLOCacheRead: 100 * time.Millisecond,
	SLORelay:     1000 * time.Millisecond,
	SLOWrite:     1500 * time.Millisecond,
}

type sloContextKey string

const sloConfigKey sloContextKey = "slo_config"

type sloConfig struct {
	tier   SLOTier
	target time.Duration
}

// SLO sets a predefined SLO tier in context.
func SLO(tier SLOTier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cfg := &sloConfig{
				tier:   tier,
				target: sloTargets[tier],
			}
			ctx := context.WithValue(r.Context(), sloConfigKey, cfg)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSLO retrieves the SLO tier and target from context.
// Returns the tier, target duration, and true if set; otherwise empty values and false.
func GetSLO(ctx context.Context) (SLOTier, time.Duration, bool) {
	cfg, ok := ctx.Value(sloConfigKey).(*sloConfig)
	if !ok {
		return "", 0, false
	}
	return cfg.tier, cfg.target, true
}
