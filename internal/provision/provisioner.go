package provision

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"basehub/internal/policy"
	"basehub/pkg/tenants"
)

// Execer is the slice of a pgx pool the provisioner needs, kept narrow so
// tests can stand in for a live server.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PoolGetter hands out an Execer for a tenant database by name.
type PoolGetter func(ctx context.Context, dbName string) (Execer, error)

var ErrInvalidSlug = errors.New("invalid slug")

// Slugs become part of a database identifier, so they are constrained to a
// safe subset up front.
var slugPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{1,28}$`)

// Provisioner orchestrates tenant creation: physical database, key
// material, registry record and database bootstrap. Steps run in order and
// any failure aborts the rest.
//
// There is deliberately no rollback: a failure after CREATE DATABASE leaves
// the database (and possibly a registry row) in place for manual
// reconciliation. Every abort is logged with enough context to find the
// leftovers.
type Provisioner struct {
	reg     tenants.Registry
	adminDB Execer
	getPool PoolGetter
	boot    Bootstrap
	prefix  string
	log     *zap.SugaredLogger
}

func New(reg tenants.Registry, adminDB Execer, getPool PoolGetter, boot Bootstrap, prefix string, log *zap.SugaredLogger) *Provisioner {
	return &Provisioner{reg: reg, adminDB: adminDB, getPool: getPool, boot: boot, prefix: prefix, log: log}
}

// DeriveDBName builds the physical database name: prefix, a random
// component, then the slug. The random component keeps a re-provisioned slug
// from colliding with an orphaned database of a previous failed attempt.
func (p *Provisioner) DeriveDBName(slug string) string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%s_%s_%s", p.prefix, hex.EncodeToString(b), slug)
}

// Provision creates and bootstraps a new tenant. Administrator-only; never
// reachable with tenant-scoped credentials.
func (p *Provisioner) Provision(ctx context.Context, name, slug string) (tenants.Tenant, error) {
	if !slugPattern.MatchString(slug) {
		return tenants.Tenant{}, fmt.Errorf("%w: %q", ErrInvalidSlug, slug)
	}
	if p.adminDB == nil {
		return tenants.Tenant{}, errors.New("no admin database configured")
	}
	if _, err := p.reg.ResolveBySlug(ctx, slug); err == nil {
		return tenants.Tenant{}, tenants.ErrSlugTaken
	} else if !errors.Is(err, tenants.ErrNotFound) {
		return tenants.Tenant{}, fmt.Errorf("slug lookup: %w", err)
	}

	dbName := p.DeriveDBName(slug)
	qdb, err := policy.QuoteIdent(dbName)
	if err != nil {
		return tenants.Tenant{}, fmt.Errorf("derive db name: %w", err)
	}
	if _, err := p.adminDB.Exec(ctx, "CREATE DATABASE "+qdb); err != nil {
		return tenants.Tenant{}, fmt.Errorf("create database %s: %w", dbName, err)
	}

	t := tenants.Tenant{
		Slug:         slug,
		DBName:       dbName,
		AnonKey:      tenants.NewKey(),
		ServiceKey:   tenants.NewKey(),
		JWTSecret:    tenants.NewKey(),
		LogRetention: 30,
		Metadata:     map[string]any{"name": name},
	}
	created, err := p.reg.Create(ctx, t)
	if err != nil {
		p.log.Errorw("tenant registry insert failed after database creation; database left for manual cleanup",
			"slug", slug, "db", dbName, "err", err)
		return tenants.Tenant{}, fmt.Errorf("register tenant %q: %w", slug, err)
	}

	pool, err := p.getPool(ctx, dbName)
	if err != nil {
		p.log.Errorw("tenant bootstrap pool failed; tenant registered but not bootstrapped",
			"slug", slug, "db", dbName, "err", err)
		return tenants.Tenant{}, fmt.Errorf("open tenant pool %s: %w", dbName, err)
	}
	if err := p.bootstrap(ctx, pool); err != nil {
		p.log.Errorw("tenant bootstrap failed; tenant registered but incomplete",
			"slug", slug, "db", dbName, "err", err)
		return tenants.Tenant{}, fmt.Errorf("bootstrap %s: %w", dbName, err)
	}

	p.log.Infow("tenant provisioned", "slug", slug, "db", dbName)
	return created, nil
}

// bootstrap seeds a fresh tenant database: required extensions, the baseline
// no-login roles if absent, an isolated auth schema and its users table.
func (p *Provisioner) bootstrap(ctx context.Context, pool Execer) error {
	for _, ext := range p.boot.Extensions {
		if _, err := pool.Exec(ctx, fmt.Sprintf(`CREATE EXTENSION IF NOT EXISTS %q`, ext)); err != nil {
			return fmt.Errorf("extension %s: %w", ext, err)
		}
	}
	for _, role := range p.boot.Roles {
		qr, err := policy.QuoteIdent(role)
		if err != nil {
			return fmt.Errorf("role %q: %w", role, err)
		}
		stmt := fmt.Sprintf(`DO $$ BEGIN
  IF NOT EXISTS (SELECT FROM pg_roles WHERE rolname = '%s') THEN
    CREATE ROLE %s NOLOGIN;
  END IF;
END $$`, role, qr)
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("role %s: %w", role, err)
		}
	}
	authDDL := []string{
		`CREATE SCHEMA IF NOT EXISTS auth`,
		`CREATE TABLE IF NOT EXISTS auth.users (
  id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
  email text UNIQUE NOT NULL,
  encrypted_password text NOT NULL,
  created_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW()
)`,
	}
	for _, stmt := range authDDL {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	for _, stmt := range p.boot.Statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap statement: %w", err)
		}
	}
	return nil
}
