package policy

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"basehub/pkg/middleware"
	"basehub/pkg/problems"
)

// RegisterHTTP mounts the policy authoring surface on a tenant data-plane
// router. All routes require service trust: policy DDL runs with full
// privilege against the tenant's database.
//
//	GET    /policies
//	POST   /policies
//	DELETE /policies/{table}/{name}
func RegisterHTTP(r chi.Router, log *zap.SugaredLogger) {
	r.Get("/policies", middleware.RequireService(func(w http.ResponseWriter, req *http.Request) {
		pool := middleware.PoolFrom(req.Context())
		if pool == nil {
			problems.Write(w, http.StatusServiceUnavailable, "no-database", "Tenant database unavailable", "no pool bound to request")
			return
		}
		rows, err := pool.Query(req.Context(), `SELECT schemaname, tablename, policyname, cmd, COALESCE(qual,''), COALESCE(with_check,''), roles FROM pg_policies ORDER BY tablename, policyname`)
		if err != nil {
			problems.Write(w, http.StatusBadRequest, "policy-list-failed", "Listing policies failed", err.Error())
			return
		}
		defer rows.Close()
		type policyRow struct {
			Schema    string   `json:"schema"`
			Table     string   `json:"table"`
			Name      string   `json:"name"`
			Command   string   `json:"command"`
			Using     string   `json:"using"`
			WithCheck string   `json:"with_check,omitempty"`
			Roles     []string `json:"roles"`
		}
		out := []policyRow{}
		for rows.Next() {
			var p policyRow
			if err := rows.Scan(&p.Schema, &p.Table, &p.Name, &p.Command, &p.Using, &p.WithCheck, &p.Roles); err != nil {
				problems.Write(w, http.StatusInternalServerError, "policy-list-failed", "Listing policies failed", err.Error())
				return
			}
			out = append(out, p)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}))

	r.Post("/policies", middleware.RequireService(func(w http.ResponseWriter, req *http.Request) {
		tenant := middleware.TenantFrom(req.Context())
		pool := middleware.PoolFrom(req.Context())
		var spec Spec
		if err := json.NewDecoder(req.Body).Decode(&spec); err != nil {
			problems.Write(w, http.StatusBadRequest, "bad-json", "Malformed request body", err.Error())
			return
		}
		stmts, err := CompileCreate(spec)
		if err != nil {
			problems.Write(w, http.StatusBadRequest, "policy-invalid", "Policy rejected", err.Error())
			return
		}
		if pool == nil {
			problems.Write(w, http.StatusServiceUnavailable, "no-database", "Tenant database unavailable", "no pool bound to request")
			return
		}
		for _, stmt := range stmts {
			if _, err := pool.Exec(req.Context(), stmt); err != nil {
				// Engine errors go back verbatim: the author needs the real
				// complaint (unknown column, bad expression), not a summary.
				problems.Write(w, http.StatusBadRequest, "policy-ddl-failed", "Policy DDL rejected by the database", err.Error())
				return
			}
		}
		log.Infow("policy created", "tenant", tenant.Slug, "table", spec.Table, "policy", spec.Name)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(spec)
	}))

	r.Delete("/policies/{table}/{name}", middleware.RequireService(func(w http.ResponseWriter, req *http.Request) {
		tenant := middleware.TenantFrom(req.Context())
		pool := middleware.PoolFrom(req.Context())
		stmt, err := CompileDrop(chi.URLParam(req, "table"), chi.URLParam(req, "name"))
		if err != nil {
			problems.Write(w, http.StatusBadRequest, "policy-invalid", "Policy rejected", err.Error())
			return
		}
		if pool == nil {
			problems.Write(w, http.StatusServiceUnavailable, "no-database", "Tenant database unavailable", "no pool bound to request")
			return
		}
		if _, err := pool.Exec(req.Context(), stmt); err != nil {
			problems.Write(w, http.StatusBadRequest, "policy-ddl-failed", "Policy DDL rejected by the database", err.Error())
			return
		}
		log.Infow("policy dropped", "tenant", tenant.Slug, "table", chi.URLParam(req, "table"), "policy", chi.URLParam(req, "name"))
		w.WriteHeader(http.StatusNoContent)
	}))
}
