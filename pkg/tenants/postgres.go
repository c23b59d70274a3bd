// pkg/tenants/postgres.go
package tenants

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// pgRegistry implements Registry backed by the control database.
type pgRegistry struct {
	dbPool *pgxpool.Pool
	log    *zap.SugaredLogger
}

// NewPostgresRegistry constructs a PostgreSQL-backed tenant registry.
func NewPostgresRegistry(dbPool *pgxpool.Pool, log *zap.SugaredLogger) Registry {
	return &pgRegistry{dbPool: dbPool, log: log}
}

// EnsureSchema creates the registry tables if they do not already exist.
// Safe to call repeatedly (idempotent).
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	_, err := dbPool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tenants (
  id uuid PRIMARY KEY,
  slug text UNIQUE NOT NULL,
  custom_domain text UNIQUE,
  db_name text UNIQUE NOT NULL,
  anon_key text UNIQUE NOT NULL,
  service_key text UNIQUE NOT NULL,
  jwt_secret text NOT NULL,
  blocklist text[] NOT NULL DEFAULT '{}',
  log_retention_days int NOT NULL DEFAULT 30,
  metadata jsonb NOT NULL DEFAULT '{}'::jsonb,
  created_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
ALTER TABLE tenants ADD COLUMN IF NOT EXISTS metadata jsonb NOT NULL DEFAULT '{}'::jsonb;
ALTER TABLE tenants ADD COLUMN IF NOT EXISTS log_retention_days int NOT NULL DEFAULT 30;
`)
	return err
}

const tenantColumns = `id, slug, COALESCE(custom_domain,''), db_name, anon_key, service_key, jwt_secret, blocklist, log_retention_days, metadata, created_at, updated_at`

func scanTenant(row pgx.Row) (Tenant, error) {
	var t Tenant
	var metaJSON []byte
	if err := row.Scan(&t.ID, &t.Slug, &t.CustomDomain, &t.DBName, &t.AnonKey, &t.ServiceKey, &t.JWTSecret, &t.Blocklist, &t.LogRetention, &metaJSON, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, ErrNotFound
		}
		return Tenant{}, err
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &t.Metadata)
	}
	if t.Metadata == nil {
		t.Metadata = map[string]any{}
	}
	return t, nil
}

func (p *pgRegistry) ResolveByDomain(ctx context.Context, domain string) (Tenant, error) {
	row := p.dbPool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE custom_domain=$1`, domain)
	return scanTenant(row)
}

func (p *pgRegistry) ResolveBySlug(ctx context.Context, slug string) (Tenant, error) {
	row := p.dbPool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE slug=$1`, slug)
	return scanTenant(row)
}

func (p *pgRegistry) List(ctx context.Context) ([]Tenant, error) {
	rows, err := p.dbPool.Query(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *pgRegistry) Create(ctx context.Context, t Tenant) (Tenant, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	meta, err := json.Marshal(orEmpty(t.Metadata))
	if err != nil {
		return Tenant{}, err
	}
	row := p.dbPool.QueryRow(ctx, `INSERT INTO tenants(id, slug, custom_domain, db_name, anon_key, service_key, jwt_secret, blocklist, log_retention_days, metadata)
	  VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10)
	  RETURNING `+tenantColumns,
		t.ID, t.Slug, t.CustomDomain, t.DBName, t.AnonKey, t.ServiceKey, t.JWTSecret, emptyIfNil(t.Blocklist), t.LogRetention, meta)
	created, err := scanTenant(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Tenant{}, ErrSlugTaken
		}
		return Tenant{}, err
	}
	return created, nil
}

func (p *pgRegistry) UpdateSettings(ctx context.Context, slug string, s Settings) (Tenant, error) {
	var meta []byte
	if s.Metadata != nil {
		b, err := json.Marshal(s.Metadata)
		if err != nil {
			return Tenant{}, err
		}
		meta = b
	}
	// Absent domain keeps the current value; an explicit empty string clears it.
	row := p.dbPool.QueryRow(ctx, `UPDATE tenants SET
	  custom_domain = CASE WHEN $2::text IS NULL THEN custom_domain ELSE NULLIF($2,'') END,
	  log_retention_days = COALESCE($3, log_retention_days),
	  metadata = COALESCE($4, metadata),
	  updated_at = NOW()
	  WHERE slug=$1 RETURNING `+tenantColumns,
		slug, s.CustomDomain, s.LogRetention, meta)
	return scanTenant(row)
}

func (p *pgRegistry) RotateKey(ctx context.Context, slug string, kind KeyKind) (Tenant, error) {
	col, ok := keyColumns[kind]
	if !ok {
		return Tenant{}, fmt.Errorf("unknown key kind %q", kind)
	}
	// Single UPDATE: the old value stops verifying the instant the new one starts.
	row := p.dbPool.QueryRow(ctx, `UPDATE tenants SET `+col+`=$2, updated_at=NOW() WHERE slug=$1 RETURNING `+tenantColumns, slug, NewKey())
	return scanTenant(row)
}

var keyColumns = map[KeyKind]string{
	KeyAnon:    "anon_key",
	KeyService: "service_key",
	KeyJWT:     "jwt_secret",
}

func (p *pgRegistry) BlockIP(ctx context.Context, slug, ip string) (Tenant, error) {
	row := p.dbPool.QueryRow(ctx, `UPDATE tenants SET blocklist = (SELECT ARRAY(SELECT DISTINCT unnest(blocklist || $2::text))), updated_at=NOW() WHERE slug=$1 RETURNING `+tenantColumns, slug, ip)
	return scanTenant(row)
}

func (p *pgRegistry) UnblockIP(ctx context.Context, slug, ip string) (Tenant, error) {
	row := p.dbPool.QueryRow(ctx, `UPDATE tenants SET blocklist = array_remove(blocklist, $2), updated_at=NOW() WHERE slug=$1 RETURNING `+tenantColumns, slug, ip)
	return scanTenant(row)
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
