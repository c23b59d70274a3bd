package provision

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Bootstrap describes what a freshly created tenant database is seeded with.
// The defaults cover the platform baseline; an operator can override them
// with a YAML file (BOOTSTRAP_FILE).
type Bootstrap struct {
	Extensions []string `yaml:"extensions"`
	Roles      []string `yaml:"roles"`
	// Extra DDL executed after extensions, roles and the auth schema.
	Statements []string `yaml:"statements"`
}

// DefaultBootstrap returns the baseline: crypto extensions and the three
// no-login API roles every tenant database must carry.
func DefaultBootstrap() Bootstrap {
	return Bootstrap{
		Extensions: []string{"pgcrypto", "uuid-ossp"},
		Roles:      []string{"anon", "authenticated", "service_role"},
	}
}

// LoadBootstrap reads a YAML override, or returns the default when path is
// empty. Missing sections fall back to the default values.
func LoadBootstrap(path string) (Bootstrap, error) {
	def := DefaultBootstrap()
	if path == "" {
		return def, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Bootstrap{}, fmt.Errorf("read bootstrap file: %w", err)
	}
	var b Bootstrap
	if err := yaml.Unmarshal(raw, &b); err != nil {
		return Bootstrap{}, fmt.Errorf("parse bootstrap file: %w", err)
	}
	if len(b.Extensions) == 0 {
		b.Extensions = def.Extensions
	}
	if len(b.Roles) == 0 {
		b.Roles = def.Roles
	}
	return b, nil
}
