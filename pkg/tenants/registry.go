package tenants

import (
	"context"
	"errors"
)

// ErrNotFound is returned by lookups that match no tenant. Callers on the
// data plane must translate it into a terminal 404.
var ErrNotFound = errors.New("tenant not found")

// ErrSlugTaken is returned by Create when the slug is already registered.
var ErrSlugTaken = errors.New("slug already registered")

// Registry is the durable catalog of tenants. Tenants are created only by
// the provisioner and never deleted.
type Registry interface {
	// Resolve tenant from a custom domain (exact match, port stripped).
	ResolveByDomain(ctx context.Context, domain string) (Tenant, error)
	// Resolve tenant from its slug.
	ResolveBySlug(ctx context.Context, slug string) (Tenant, error)
	List(ctx context.Context) ([]Tenant, error)
	// Create records a freshly provisioned tenant. Existing key material is
	// never overwritten: a duplicate slug fails with ErrSlugTaken.
	Create(ctx context.Context, t Tenant) (Tenant, error)
	// UpdateSettings applies a partial settings change.
	UpdateSettings(ctx context.Context, slug string, s Settings) (Tenant, error)
	// RotateKey replaces one key in a single write, so there is no window
	// where both the old and the new value verify.
	RotateKey(ctx context.Context, slug string, kind KeyKind) (Tenant, error)
	BlockIP(ctx context.Context, slug, ip string) (Tenant, error)
	UnblockIP(ctx context.Context, slug, ip string) (Tenant, error)
}
