package controlapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSessionTokens(t *testing.T) {
	secret := []byte("control-secret")

	t.Run("round trip carries subject and role", func(t *testing.T) {
		raw, err := SignSession(secret, "ops@example.com", time.Hour)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		tok, err := VerifySession(secret, raw)
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		if tok.Subject() != "ops@example.com" {
			t.Fatalf("subject %q", tok.Subject())
		}
		role, _ := tok.Get("role")
		if role != "operator" {
			t.Fatalf("role %v", role)
		}
	})

	t.Run("wrong secret is rejected", func(t *testing.T) {
		raw, err := SignSession(secret, "ops@example.com", time.Hour)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		if _, err := VerifySession([]byte("other-secret"), raw); err == nil {
			t.Fatal("expected verification failure")
		}
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		raw, err := SignSession(secret, "ops@example.com", -time.Minute)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		if _, err := VerifySession(secret, raw); err == nil {
			t.Fatal("expected expiry failure")
		}
	})

	t.Run("unconfigured secret cannot sign", func(t *testing.T) {
		if _, err := SignSession(nil, "ops@example.com", time.Hour); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestSessionAuth(t *testing.T) {
	app := &App{log: zap.NewNop().Sugar(), secret: []byte("control-secret"), sessionTTL: time.Hour}
	var gotAdmin string
	h := app.sessionAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAdmin = AdminFrom(r.Context())
	}))

	t.Run("missing header", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", "/control/projects", nil))
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("code=%d", w.Code)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/control/projects", nil)
		r.Header.Set("Authorization", "Bearer not-a-token")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("code=%d", w.Code)
		}
	})

	t.Run("tenant api key is not a session", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/control/projects", nil)
		r.Header.Set("Authorization", "Bearer "+"some-tenant-service-key")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("code=%d", w.Code)
		}
	})

	t.Run("valid session binds the operator", func(t *testing.T) {
		raw, err := SignSession(app.secret, "ops@example.com", time.Hour)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		r := httptest.NewRequest("GET", "/control/projects", nil)
		r.Header.Set("Authorization", "Bearer "+raw)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("code=%d", w.Code)
		}
		if gotAdmin != "ops@example.com" {
			t.Fatalf("admin %q", gotAdmin)
		}
	})
}
