// pkg/tenants/memory.go
package tenants

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memRegistry keeps tenants in process memory. Used for local bring-up
// without a control database and by tests.
type memRegistry struct {
	mu     sync.RWMutex
	bySlug map[string]Tenant
}

func NewMemoryRegistry() Registry {
	return &memRegistry{bySlug: map[string]Tenant{}}
}

func (m *memRegistry) ResolveByDomain(ctx context.Context, domain string) (Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if domain != "" {
		for _, t := range m.bySlug {
			if t.CustomDomain == domain {
				return t, nil
			}
		}
	}
	return Tenant{}, ErrNotFound
}

func (m *memRegistry) ResolveBySlug(ctx context.Context, slug string) (Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.bySlug[slug]; ok {
		return t, nil
	}
	return Tenant{}, ErrNotFound
}

func (m *memRegistry) List(ctx context.Context) ([]Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Tenant, 0, len(m.bySlug))
	for _, t := range m.bySlug {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memRegistry) Create(ctx context.Context, t Tenant) (Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bySlug[t.Slug]; ok {
		return Tenant{}, ErrSlugTaken
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Metadata == nil {
		t.Metadata = map[string]any{}
	}
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	m.bySlug[t.Slug] = t
	return t, nil
}

func (m *memRegistry) UpdateSettings(ctx context.Context, slug string, s Settings) (Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.bySlug[slug]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	if s.CustomDomain != nil {
		t.CustomDomain = *s.CustomDomain
	}
	if s.LogRetention != nil {
		t.LogRetention = *s.LogRetention
	}
	if s.Metadata != nil {
		t.Metadata = s.Metadata
	}
	t.UpdatedAt = time.Now()
	m.bySlug[slug] = t
	return t, nil
}

func (m *memRegistry) RotateKey(ctx context.Context, slug string, kind KeyKind) (Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.bySlug[slug]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	switch kind {
	case KeyAnon:
		t.AnonKey = NewKey()
	case KeyService:
		t.ServiceKey = NewKey()
	case KeyJWT:
		t.JWTSecret = NewKey()
	default:
		return Tenant{}, ErrNotFound
	}
	t.UpdatedAt = time.Now()
	m.bySlug[slug] = t
	return t, nil
}

func (m *memRegistry) BlockIP(ctx context.Context, slug, ip string) (Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.bySlug[slug]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	if !t.Blocked(ip) {
		t.Blocklist = append(append([]string{}, t.Blocklist...), ip)
	}
	t.UpdatedAt = time.Now()
	m.bySlug[slug] = t
	return t, nil
}

func (m *memRegistry) UnblockIP(ctx context.Context, slug, ip string) (Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.bySlug[slug]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	kept := make([]string, 0, len(t.Blocklist))
	for _, b := range t.Blocklist {
		if b != ip {
			kept = append(kept, b)
		}
	}
	t.Blocklist = kept
	t.UpdatedAt = time.Now()
	m.bySlug[slug] = t
	return t, nil
}
