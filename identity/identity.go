// Package identity extracts a caller identity from a bearer token payload.
//
// Baseline mode decodes the token's claims WITHOUT verifying its signature:
// the gateway trusts whatever identity provider minted the token and only
// checks structure and expiry. This is a deliberate, documented security gap;
// the hardening path is full signature verification against the issuer's
// published key set, not ad-hoc fixes here.
package identity

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenMalformed is returned when the token payload cannot be decoded.
	ErrTokenMalformed = errors.New("token payload could not be decoded")

	// ErrTokenExpired is returned when the exp claim is in the past.
	ErrTokenExpired = errors.New("token has expired")

	// ErrIdentityMissing is returned when neither preferred_username nor sub
	// is present in the claims.
	ErrIdentityMissing = errors.New("token carries no username")
)

// Identity is the authenticated caller derived from a token's claims.
// It lives only for the duration of a request and is never persisted.
type Identity struct {
	Subject   string
	Username  string
	Roles     []string
	ExpiresAt time.Time
}

// HasRole reports whether the identity holds at least one of the given roles.
// An empty required set always passes.
func (id *Identity) HasRole(required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if id == nil {
		return false
	}
	for _, want := range required {
		for _, have := range id.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// rolePriority orders roles for primary-role selection. The persisted profile
// role is reconciled on read by the user-profile service; the gateway feeds it
// the highest-priority role seen in the token so that reconciliation is
// deterministic.
var rolePriority = []string{"ADMIN", "DOCTOR", "PHARMACIST", "PATIENT"}

// PrimaryRole picks the highest-priority role from the list, falling back to
// the first role present, then to "USER" for tokens with no role claims.
func PrimaryRole(roles []string) string {
	for _, p := range rolePriority {
		for _, r := range roles {
			if r == p {
				return p
			}
		}
	}
	if len(roles) > 0 {
		return roles[0]
	}
	return "USER"
}

// FromToken parses a raw bearer token into an Identity.
//
// The payload is decoded unverified. The exp claim, when present, is checked
// against now. Username is preferred_username falling back to sub. Roles are
// the concatenation of realm_access.roles and resource_access[clientID].roles,
// duplicates preserved; membership checks tolerate them.
func FromToken(raw, clientID string, now time.Time) (*Identity, error) {
	parser := jwt.NewParser()

	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil, ErrTokenMalformed
	}

	id := &Identity{}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, ErrTokenMalformed
	}
	if exp != nil {
		if exp.Time.Before(now) {
			return nil, ErrTokenExpired
		}
		id.ExpiresAt = exp.Time
	}

	if sub, ok := claims["sub"].(string); ok {
		id.Subject = sub
	}
	if username, ok := claims["preferred_username"].(string); ok && username != "" {
		id.Username = username
	} else {
		id.Username = id.Subject
	}
	if id.Username == "" {
		return nil, ErrIdentityMissing
	}

	id.Roles = append(id.Roles, claimRoles(claims, "realm_access")...)
	if clientID != "" {
		if ra, ok := claims["resource_access"].(map[string]any); ok {
			if client, ok := ra[clientID].(map[string]any); ok {
				id.Roles = append(id.Roles, rolesFrom(client)...)
			}
		}
	}

	return id, nil
}

func claimRoles(claims jwt.MapClaims, key string) []string {
	group, ok := claims[key].(map[string]any)
	if !ok {
		return nil
	}
	return rolesFrom(group)
}

func rolesFrom(group map[string]any) []string {
	raw, ok := group["roles"].([]any)
	if !ok {
		return nil
	}
	roles := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			roles = append(roles, s)
		}
	}
	return roles
}
