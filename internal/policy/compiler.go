package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// Spec is a structured row-security policy: who may see or touch which rows
// of a table. Identified by (Table, Name); a rename is a drop plus a create,
// never an in-place mutation.
type Spec struct {
	Table     string `json:"table"`
	Name      string `json:"name"`
	Command   string `json:"command"` // SELECT | INSERT | UPDATE | DELETE | ALL
	Role      string `json:"role"`
	Using     string `json:"using"`                // visibility predicate
	WithCheck string `json:"with_check,omitempty"` // optional mutation predicate
}

var commands = map[string]struct{}{
	"SELECT": {}, "INSERT": {}, "UPDATE": {}, "DELETE": {}, "ALL": {},
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// QuoteIdent validates s as a SQL identifier and returns it double-quoted.
// Identifiers are never parameter-bound (the engine only parameterizes
// values), so illegal characters are rejected outright.
func QuoteIdent(s string) (string, error) {
	if s == "" || len(s) > 63 {
		return "", fmt.Errorf("invalid identifier %q", s)
	}
	if !identPattern.MatchString(s) {
		return "", fmt.Errorf("invalid identifier %q", s)
	}
	return `"` + s + `"`, nil
}

// Validate checks the structured parts of the policy. Predicates are not
// inspected: they are trusted free-form expressions authored by the tenant's
// administrator and run with that administrator's privilege. The engine is
// the sole judge of their validity.
func (s Spec) Validate() error {
	if _, err := QuoteIdent(s.Table); err != nil {
		return fmt.Errorf("table: %w", err)
	}
	if _, err := QuoteIdent(s.Name); err != nil {
		return fmt.Errorf("name: %w", err)
	}
	if _, err := QuoteIdent(s.Role); err != nil {
		return fmt.Errorf("role: %w", err)
	}
	if _, ok := commands[strings.ToUpper(s.Command)]; !ok {
		return fmt.Errorf("unknown command %q", s.Command)
	}
	if strings.TrimSpace(s.Using) == "" {
		return fmt.Errorf("using predicate is required")
	}
	return nil
}

// CompileCreate emits the DDL for a policy, in order: enable row security on
// the table (idempotent), then create the named policy. The USING predicate
// is reproduced byte for byte.
func CompileCreate(s Spec) ([]string, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	table, _ := QuoteIdent(s.Table)
	name, _ := QuoteIdent(s.Name)
	role, _ := QuoteIdent(s.Role)

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE POLICY %s ON %s FOR %s TO %s USING (%s)", name, table, strings.ToUpper(s.Command), role, s.Using)
	if strings.TrimSpace(s.WithCheck) != "" {
		fmt.Fprintf(&b, " WITH CHECK (%s)", s.WithCheck)
	}
	return []string{
		fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", table),
		b.String(),
	}, nil
}

// CompileDrop emits the statement removing a named policy from a table.
func CompileDrop(table, name string) (string, error) {
	qt, err := QuoteIdent(table)
	if err != nil {
		return "", fmt.Errorf("table: %w", err)
	}
	qn, err := QuoteIdent(name)
	if err != nil {
		return "", fmt.Errorf("name: %w", err)
	}
	return fmt.Sprintf("DROP POLICY IF EXISTS %s ON %s", qn, qt), nil
}
