package medigate

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/medihelp/medigate/identity"
)

const testClientID = "medihelp-frontend"

// testToken builds an unsigned bearer token; the gateway decodes payloads
// without verifying signatures.
func testToken(t *testing.T, username string, roles ...string) string {
	t.Helper()

	claims := map[string]any{
		"sub": "sub-" + username,
		"exp": float64(time.Now().Add(time.Hour).Unix()),
		"realm_access": map[string]any{
			"roles": toAny(roles),
		},
	}
	if username != "" {
		claims["preferred_username"] = username
	}
	return encodeClaims(t, claims)
}

func encodeClaims(t *testing.T, claims map[string]any) string {
	t.Helper()

	header, err := json.Marshal(map[string]string{"alg": "RS256", "typ": "JWT"})
	if err != nil {
		t.Fatal(err)
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatal(err)
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString(header) + "." + enc.EncodeToString(payload) + "." + enc.EncodeToString([]byte("sig"))
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func authedHandler(t *testing.T, opts ...AuthOption) (http.Handler, *identity.Identity) {
	t.Helper()

	captured := &identity.Identity{}
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := IdentityFromContext(r.Context()); ok {
			*captured = *id
		}
		SetResponse(r, http.StatusOK, map[string]bool{"ok": true})
	})
	return Handler()(Authenticate(testClientID, opts...)(final)), captured
}

func TestAuthenticate(t *testing.T) {
	tests := []struct {
		name       string
		authHeader string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing header",
			wantStatus: http.StatusUnauthorized,
			wantCode:   "unauthenticated",
		},
		{
			name:       "wrong scheme",
			authHeader: "Basic dXNlcjpwYXNz",
			wantStatus: http.StatusUnauthorized,
			wantCode:   "unauthenticated",
		},
		{
			name:       "empty bearer token",
			authHeader: "Bearer ",
			wantStatus: http.StatusUnauthorized,
			wantCode:   "unauthenticated",
		},
		{
			name:       "undecodable token",
			authHeader: "Bearer not-a-token",
			wantStatus: http.StatusUnauthorized,
			wantCode:   "token_malformed",
		},
		{
			name:       "valid token",
			wantStatus: http.StatusOK,
		},
		{
			name:       "lowercase scheme accepted",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := authedHandler(t)
			req := httptest.NewRequest(http.MethodGet, "/", nil)

			switch tt.name {
			case "valid token":
				req.Header.Set("Authorization", "Bearer "+testToken(t, "drsmith", "DOCTOR"))
			case "lowercase scheme accepted":
				req.Header.Set("Authorization", "bearer "+testToken(t, "drsmith", "DOCTOR"))
			default:
				if tt.authHeader != "" {
					req.Header.Set("Authorization", tt.authHeader)
				}
			}

			rec := serve(t, h, req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantCode != "" {
				if apiErr := decodeError(t, rec); apiErr.Code != tt.wantCode {
					t.Errorf("code = %q, want %q", apiErr.Code, tt.wantCode)
				}
			}
		})
	}
}

func TestAuthenticateExpiredToken(t *testing.T) {
	h, _ := authedHandler(t)

	token := encodeClaims(t, map[string]any{
		"preferred_username": "drsmith",
		"exp":                float64(time.Now().Add(-time.Minute).Unix()),
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := serve(t, h, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if apiErr := decodeError(t, rec); apiErr.Code != "token_expired" {
		t.Errorf("code = %q, want token_expired", apiErr.Code)
	}
}

func TestAuthenticatePlacesIdentity(t *testing.T) {
	h, captured := authedHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+testToken(t, "drsmith", "DOCTOR", "PATIENT"))

	rec := serve(t, h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if captured.Username != "drsmith" {
		t.Errorf("Username = %q, want drsmith", captured.Username)
	}
	if !captured.HasRole("DOCTOR") || !captured.HasRole("PATIENT") {
		t.Errorf("Roles = %v, want DOCTOR and PATIENT", captured.Roles)
	}
}

func TestAuthenticateOptional(t *testing.T) {
	h, captured := authedHandler(t, WithOptionalAuth())

	// Anonymous request passes with no identity.
	rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("anonymous status = %d, want 200", rec.Code)
	}
	if captured.Username != "" {
		t.Errorf("anonymous request should carry no identity, got %q", captured.Username)
	}

	// A present-but-invalid header is still rejected.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer junk")
	rec = serve(t, h, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("invalid token status = %d, want 401", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name       string
		roles      []string
		identity   *identity.Identity
		wantStatus int
	}{
		{
			name:       "empty required set passes anonymous",
			wantStatus: http.StatusOK,
		},
		{
			name:       "no identity denied",
			roles:      []string{"ADMIN"},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "role mismatch denied",
			roles:      []string{"ADMIN"},
			identity:   &identity.Identity{Username: "pat", Roles: []string{"PATIENT"}},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "any-of match passes",
			roles:      []string{"PHARMACIST", "ADMIN"},
			identity:   &identity.Identity{Username: "adm", Roles: []string{"ADMIN"}},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				SetResponse(r, http.StatusOK, map[string]bool{"ok": true})
			})
			h := Handler()(RequireRole(tt.roles...)(final))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.identity != nil {
				req = req.WithContext(context.WithValue(req.Context(), identityKey, tt.identity))
			}

			rec := serve(t, h, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestDenyWithoutState(t *testing.T) {
	// Authenticate used without the Handler wrapper still refuses cleanly.
	h := Authenticate(testClientID)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
