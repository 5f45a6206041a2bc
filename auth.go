package medigate

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/nhalm/canonlog"

	"github.com/medihelp/medigate/identity"
)

type authContextKey string

const identityKey authContextKey = "identity"

// authConfig configures the Authenticate middleware.
type authConfig struct {
	// ClientID selects the resource_access claim group whose roles are
	// merged into the identity alongside the realm roles.
	ClientID string

	// Optional admits requests without an Authorization header; the
	// identity is simply absent from context. A header that is present but
	// invalid is still rejected.
	Optional bool
}

// AuthOption configures Authenticate middleware.
type AuthOption func(*authConfig)

// WithOptionalAuth admits anonymous requests. Role checks further down the
// chain still deny them when a role is required.
func WithOptionalAuth() AuthOption {
	return func(c *authConfig) {
		c.Optional = true
	}
}

// Authenticate returns middleware that extracts the caller identity from the
// Authorization header. A missing or non-Bearer header short-circuits with
// 401 unauthenticated before any claim parsing; parse failures map onto the
// token_malformed, token_expired, and identity_missing reason codes.
func Authenticate(clientID string, opts ...AuthOption) func(http.Handler) http.Handler {
	cfg := authConfig{ClientID: clientID}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")

			if auth == "" {
				if cfg.Optional {
					next.ServeHTTP(w, r)
					return
				}
				deny(w, r, ErrUnauthenticated)
				return
			}

			// RFC 7235: "Bearer" scheme is case-insensitive
			if len(auth) < 7 || !strings.EqualFold(auth[:7], "bearer ") {
				deny(w, r, ErrUnauthenticated.With("Invalid authorization format"))
				return
			}

			token := auth[7:]
			if token == "" {
				deny(w, r, ErrUnauthenticated.With("Empty bearer token"))
				return
			}

			id, err := identity.FromToken(token, cfg.ClientID, time.Now())
			if err != nil {
				deny(w, r, authError(err))
				return
			}

			if HasState(r.Context()) {
				canonlog.InfoAdd(r.Context(), "username", id.Username)
			}

			ctx := context.WithValue(r.Context(), identityKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole returns middleware that denies the request unless the caller
// holds at least one of the given roles. Any matching role grants access;
// there is no hierarchy beyond listing multiple acceptable roles. With an
// empty role list the middleware is a no-op.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(roles) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			id, ok := IdentityFromContext(r.Context())
			if !ok || !id.HasRole(roles...) {
				deny(w, r, ErrForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IdentityFromContext retrieves the caller identity from the request context.
// Returns the identity and true if the request was authenticated.
func IdentityFromContext(ctx context.Context) (*identity.Identity, bool) {
	id, ok := ctx.Value(identityKey).(*identity.Identity)
	return id, ok
}

func authError(err error) *APIError {
	switch {
	case errors.Is(err, identity.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, identity.ErrIdentityMissing):
		return ErrIdentityMissing
	default:
		return ErrTokenMalformed
	}
}

func deny(w http.ResponseWriter, r *http.Request, apiErr *APIError) {
	if HasState(r.Context()) {
		SetError(r, apiErr)
		return
	}
	http.Error(w, apiErr.Message, apiErr.Status)
}
