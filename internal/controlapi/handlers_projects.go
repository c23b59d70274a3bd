package controlapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"basehub/internal/audit"
	"basehub/internal/provision"
	"basehub/pkg/problems"
	"basehub/pkg/tenants"
)

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Control handlers are administrator-facing: unlike the data plane they
// surface full error detail to speed debugging.

func (a *App) listProjects(w http.ResponseWriter, r *http.Request) {
	ts, err := a.reg.List(r.Context())
	if err != nil {
		problems.Write(w, http.StatusInternalServerError, "registry-error", "Registry query failed", err.Error())
		return
	}
	if ts == nil {
		ts = []tenants.Tenant{}
	}
	writeJSON(w, ts, http.StatusOK)
}

func (a *App) createProject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
		Slug string `json:"slug"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		problems.Write(w, http.StatusBadRequest, "bad-json", "Malformed request body", err.Error())
		return
	}
	t, err := a.prov.Provision(r.Context(), body.Name, body.Slug)
	if err != nil {
		switch {
		case errors.Is(err, tenants.ErrSlugTaken):
			problems.Write(w, http.StatusConflict, "slug-taken", "Slug already registered", err.Error())
		case errors.Is(err, provision.ErrInvalidSlug):
			problems.Write(w, http.StatusBadRequest, "invalid-slug", "Invalid slug", err.Error())
		default:
			// Provisioning aborts mid-way with no rollback; the message
			// tells the operator what exists and needs reconciling.
			problems.Write(w, http.StatusInternalServerError, "provisioning-failed", "Provisioning aborted", err.Error())
		}
		return
	}
	a.log.Infow("project provisioned", "slug", t.Slug, "by", AdminFrom(r.Context()))
	writeJSON(w, t, http.StatusCreated)
}

func (a *App) getProject(w http.ResponseWriter, r *http.Request) {
	t, err := a.reg.ResolveBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		if errors.Is(err, tenants.ErrNotFound) {
			problems.Write(w, http.StatusNotFound, "unknown-project", "Unknown project", err.Error())
			return
		}
		problems.Write(w, http.StatusInternalServerError, "registry-error", "Registry query failed", err.Error())
		return
	}
	writeJSON(w, t, http.StatusOK)
}

func (a *App) patchProject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CustomDomain *string        `json:"custom_domain"`
		LogRetention *int           `json:"log_retention_days"`
		Metadata     map[string]any `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		problems.Write(w, http.StatusBadRequest, "bad-json", "Malformed request body", err.Error())
		return
	}
	if body.LogRetention != nil && *body.LogRetention < 0 {
		problems.Write(w, http.StatusBadRequest, "invalid-retention", "Invalid retention", "log_retention_days must be >= 0")
		return
	}
	t, err := a.reg.UpdateSettings(r.Context(), chi.URLParam(r, "slug"), tenants.Settings{
		CustomDomain: body.CustomDomain,
		LogRetention: body.LogRetention,
		Metadata:     body.Metadata,
	})
	if err != nil {
		if errors.Is(err, tenants.ErrNotFound) {
			problems.Write(w, http.StatusNotFound, "unknown-project", "Unknown project", err.Error())
			return
		}
		problems.Write(w, http.StatusInternalServerError, "registry-error", "Settings update failed", err.Error())
		return
	}
	writeJSON(w, t, http.StatusOK)
}

func (a *App) rotateKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		problems.Write(w, http.StatusBadRequest, "bad-json", "Malformed request body", err.Error())
		return
	}
	kind := tenants.KeyKind(body.Key)
	switch kind {
	case tenants.KeyAnon, tenants.KeyService, tenants.KeyJWT:
	default:
		problems.Write(w, http.StatusBadRequest, "invalid-key-kind", "Invalid key kind", `key must be one of "anon", "service", "jwt"`)
		return
	}
	t, err := a.reg.RotateKey(r.Context(), chi.URLParam(r, "slug"), kind)
	if err != nil {
		if errors.Is(err, tenants.ErrNotFound) {
			problems.Write(w, http.StatusNotFound, "unknown-project", "Unknown project", err.Error())
			return
		}
		problems.Write(w, http.StatusInternalServerError, "registry-error", "Key rotation failed", err.Error())
		return
	}
	a.log.Infow("key rotated", "slug", t.Slug, "kind", kind, "by", AdminFrom(r.Context()))
	writeJSON(w, t, http.StatusOK)
}

func (a *App) blockIP(w http.ResponseWriter, r *http.Request) {
	a.mutateBlocklist(w, r, a.reg.BlockIP)
}

func (a *App) unblockIP(w http.ResponseWriter, r *http.Request) {
	a.mutateBlocklist(w, r, a.reg.UnblockIP)
}

func (a *App) mutateBlocklist(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, slug, ip string) (tenants.Tenant, error)) {
	var body struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.IP == "" {
		problems.Write(w, http.StatusBadRequest, "bad-json", "Malformed request body", "an ip field is required")
		return
	}
	t, err := op(r.Context(), chi.URLParam(r, "slug"), body.IP)
	if err != nil {
		if errors.Is(err, tenants.ErrNotFound) {
			problems.Write(w, http.StatusNotFound, "unknown-project", "Unknown project", err.Error())
			return
		}
		problems.Write(w, http.StatusInternalServerError, "registry-error", "Blocklist update failed", err.Error())
		return
	}
	writeJSON(w, map[string]any{"slug": t.Slug, "blocklist": t.Blocklist}, http.StatusOK)
}

// pruneLogs drops a project's audit records older than ?days=N (the
// project's retention setting when the parameter is absent).
func (a *App) pruneLogs(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	t, err := a.reg.ResolveBySlug(r.Context(), slug)
	if err != nil {
		if errors.Is(err, tenants.ErrNotFound) {
			problems.Write(w, http.StatusNotFound, "unknown-project", "Unknown project", err.Error())
			return
		}
		problems.Write(w, http.StatusInternalServerError, "registry-error", "Registry query failed", err.Error())
		return
	}
	days := t.LogRetention
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			problems.Write(w, http.StatusBadRequest, "invalid-days", "Invalid days parameter", "days must be a non-negative integer")
			return
		}
		days = n
	}
	if a.db == nil {
		problems.Write(w, http.StatusServiceUnavailable, "no-database", "Control database unavailable", "log pruning requires the control database")
		return
	}
	removed, err := audit.Prune(r.Context(), a.db, slug, days)
	if err != nil {
		problems.Write(w, http.StatusInternalServerError, "prune-failed", "Log pruning failed", err.Error())
		return
	}
	a.log.Infow("logs pruned", "slug", slug, "days", days, "removed", removed)
	writeJSON(w, map[string]any{"removed": removed, "days": days}, http.StatusOK)
}
