package tenants

import "time"

// Tenant represents one isolated project: a logical customer backed by its
// own physical database.
type Tenant struct {
	ID           string         `json:"id"`            // uuid
	Slug         string         `json:"slug"`          // short name (acme), immutable
	CustomDomain string         `json:"custom_domain"` // optional vanity host (api.acme.com)
	DBName       string         `json:"db_name"`       // physical database, immutable once provisioned
	AnonKey      string         `json:"anon_key"`
	ServiceKey   string         `json:"service_key"`
	JWTSecret    string         `json:"jwt_secret"` // verifies tenant end-user tokens
	Blocklist    []string       `json:"blocklist"`  // denied source IPs
	LogRetention int            `json:"log_retention_days"`
	Metadata     map[string]any `json:"metadata"` // opaque to the core
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// KeyKind names a rotatable piece of tenant key material.
type KeyKind string

const (
	KeyAnon    KeyKind = "anon"
	KeyService KeyKind = "service"
	KeyJWT     KeyKind = "jwt"
)

// Blocked reports whether ip is on the tenant's blocklist.
func (t Tenant) Blocked(ip string) bool {
	for _, b := range t.Blocklist {
		if b == ip {
			return true
		}
	}
	return false
}

// Settings carries the mutable tenant fields for a settings update. Nil
// pointers leave the current value untouched.
type Settings struct {
	CustomDomain *string
	LogRetention *int
	Metadata     map[string]any
}
