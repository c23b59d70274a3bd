package controlapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"basehub/pkg/middleware"
)

// Handler builds the control-plane HTTP handler. Everything under /control
// except login requires an administrator session.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(a.log))
	r.Use(middleware.Tracing("basehub-control"))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/control", func(cr chi.Router) {
		cr.Post("/auth/login", a.handleLogin)
		cr.Group(func(gr chi.Router) {
			gr.Use(a.sessionAuth)
			gr.Get("/projects", a.listProjects)
			gr.Post("/projects", a.createProject)
			gr.Get("/projects/{slug}", a.getProject)
			gr.Patch("/projects/{slug}", a.patchProject)
			gr.Post("/projects/{slug}/rotate-key", a.rotateKey)
			gr.Post("/projects/{slug}/block-ip", a.blockIP)
			gr.Post("/projects/{slug}/unblock-ip", a.unblockIP)
			gr.Delete("/projects/{slug}/logs", a.pruneLogs)
		})
	})

	return r
}
