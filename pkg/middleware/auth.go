// pkg/middleware/auth.go
package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"basehub/pkg/tenants"
)

// TrustLevel is the authorization tier assigned to a request after the
// credential chain. Downstream handlers read it, never mutate it.
type TrustLevel string

const (
	TrustService       TrustLevel = "service"
	TrustAuthenticated TrustLevel = "authenticated"
	TrustAnon          TrustLevel = "anon"
)

// Credentials are everything a request declared, read in order: the apikey
// header, the Authorization bearer header, then the token query parameter.
// The query channel exists for browser-navigated links that cannot set
// headers and carries identical trust to a bearer header.
type Credentials struct {
	APIKey string
	Token  string
}

func ExtractCredentials(r *http.Request) Credentials {
	var c Credentials
	c.APIKey = strings.TrimSpace(r.Header.Get("apikey"))
	if authz := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		c.Token = strings.TrimSpace(authz[len("Bearer "):])
	}
	if c.Token == "" {
		c.Token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return c
}

// Identity is the outcome of a successful credential chain.
type Identity struct {
	Trust  TrustLevel
	Claims jwt.Token // decoded tenant end-user claims; nil unless authenticated
}

// ResolveTrust runs the deny-by-default credential chain for one tenant.
// Order is deliberate and security-relevant:
//
//  1. a token signed by the control plane is always service, before any
//     tenant key is compared — the management plane must never lose access
//     because of a coincidentally matching or rotated tenant key;
//  2. the tenant's service key grants service;
//  3. the tenant's anon key makes the request an anon candidate;
//  4. a token verifying against the tenant's own signing secret upgrades to
//     authenticated; a token that fails this check never cancels a valid
//     anon candidate from step 3.
//
// Anything else is a rejection.
func ResolveTrust(t tenants.Tenant, c Credentials, controlSecret []byte) (Identity, bool) {
	if c.Token != "" && len(controlSecret) > 0 {
		if _, err := verifyHS256(c.Token, controlSecret); err == nil {
			return Identity{Trust: TrustService}, true
		}
	}
	if keyEqual(c.APIKey, t.ServiceKey) || keyEqual(c.Token, t.ServiceKey) {
		return Identity{Trust: TrustService}, true
	}
	anon := keyEqual(c.APIKey, t.AnonKey) || keyEqual(c.Token, t.AnonKey)
	if c.Token != "" && t.JWTSecret != "" {
		if claims, err := verifyHS256(c.Token, []byte(t.JWTSecret)); err == nil {
			return Identity{Trust: TrustAuthenticated, Claims: claims}, true
		}
	}
	if anon {
		return Identity{Trust: TrustAnon}, true
	}
	return Identity{}, false
}

func verifyHS256(raw string, secret []byte) (jwt.Token, error) {
	return jwt.Parse([]byte(raw), jwt.WithKey(jwa.HS256, secret), jwt.WithValidate(true))
}

func keyEqual(got, want string) bool {
	if got == "" || want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

type ctxIdentityKey struct{}

// Auth is the data-plane gateway stage: it rejects with a generic 401 unless
// the credential chain establishes a trust level, and binds the resulting
// identity to the context.
func Auth(controlSecret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, DataPlanePrefix) {
				next.ServeHTTP(w, r)
				return
			}
			t := TenantFrom(r.Context())
			id, ok := ResolveTrust(t, ExtractCredentials(r), controlSecret)
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), ctxIdentityKey{}, id)
			if rec := trustRecordFrom(ctx); rec != nil {
				rec.Level = id.Trust
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFrom returns the identity bound by Auth, or a zero Identity.
func IdentityFrom(ctx context.Context) Identity {
	if v := ctx.Value(ctxIdentityKey{}); v != nil {
		return v.(Identity)
	}
	return Identity{}
}

// RequireService gates a route on service trust.
func RequireService(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if IdentityFrom(r.Context()).Trust != TrustService {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

// trustRecord lets an outer recording stage observe the trust level decided
// by Auth, which runs deeper in the chain. The record is write-once: Auth
// sets it, the recorder reads it after the response completes.
type ctxTrustRecordKey struct{}

type TrustRecord struct {
	Level TrustLevel
}

// TrackTrust installs a TrustRecord on the context and returns both.
func TrackTrust(ctx context.Context) (context.Context, *TrustRecord) {
	rec := &TrustRecord{}
	return context.WithValue(ctx, ctxTrustRecordKey{}, rec), rec
}

func trustRecordFrom(ctx context.Context) *TrustRecord {
	if v := ctx.Value(ctxTrustRecordKey{}); v != nil {
		return v.(*TrustRecord)
	}
	return nil
}
