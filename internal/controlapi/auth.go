package controlapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const sessionIssuer = "basehub-control"

func ensureAdminSchema(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, `
CREATE TABLE IF NOT EXISTS admins (
  id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
  email text UNIQUE NOT NULL,
  password_hash text NOT NULL,
  created_at timestamptz NOT NULL DEFAULT NOW()
);`)
	return err
}

// seedAdminFromEnv creates the first operator account when the table is
// empty and ADMIN_EMAIL / ADMIN_PASSWORD are set.
func seedAdminFromEnv(ctx context.Context, db *pgxpool.Pool, log *zap.SugaredLogger) error {
	email := strings.TrimSpace(os.Getenv("ADMIN_EMAIL"))
	password := os.Getenv("ADMIN_PASSWORD")
	if email == "" || password == "" {
		return nil
	}
	var cnt int
	if err := db.QueryRow(ctx, `SELECT COUNT(*) FROM admins`).Scan(&cnt); err != nil {
		return err
	}
	if cnt > 0 {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if _, err := db.Exec(ctx, `INSERT INTO admins(email, password_hash) VALUES ($1,$2)`, email, string(hash)); err != nil {
		return err
	}
	log.Infow("seeded operator account", "email", email)
	return nil
}

// SignSession issues an administrator session token. Tokens verify against
// the control secret alone, which is also what grants them master access on
// any tenant data plane.
func SignSession(secret []byte, email string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("control secret not configured")
	}
	now := time.Now()
	tok, err := jwt.NewBuilder().
		Issuer(sessionIssuer).
		Subject(email).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Claim("role", "operator").
		Build()
	if err != nil {
		return "", err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, secret))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

// VerifySession checks an administrator session token.
func VerifySession(secret []byte, raw string) (jwt.Token, error) {
	if len(secret) == 0 {
		return nil, errors.New("control secret not configured")
	}
	return jwt.Parse([]byte(raw), jwt.WithKey(jwa.HS256, secret), jwt.WithIssuer(sessionIssuer), jwt.WithValidate(true))
}

type ctxAdminKey struct{}

// sessionAuth requires a valid administrator session on every control route.
// Failure is an immediate 401; nothing else is consulted.
func (a *App) sessionAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		tok, err := VerifySession(a.secret, strings.TrimSpace(authz[len("Bearer "):]))
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), ctxAdminKey{}, tok.Subject())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminFrom returns the authenticated operator email, or "".
func AdminFrom(ctx context.Context) string {
	if v := ctx.Value(ctxAdminKey{}); v != nil {
		return v.(string)
	}
	return ""
}

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if a.db == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var hash string
	err := a.db.QueryRow(r.Context(), `SELECT password_hash FROM admins WHERE email=$1`, strings.TrimSpace(body.Email)).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(body.Password)) != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	token, err := SignSession(a.secret, strings.TrimSpace(body.Email), a.sessionTTL)
	if err != nil {
		a.log.Errorw("session sign", "err", err)
		http.Error(w, "session issue failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"token": token}, http.StatusOK)
}
