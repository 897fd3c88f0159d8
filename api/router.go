package api

import (
	"net/http"

	"fetchbridge/api/router/handlers"
	"fetchbridge/core"
	"fetchbridge/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the HTTP surface of the bridge. API routes live under
// /api and the Prometheus registry of the bridge is served at /metrics.
// persisted selects the database mirror as the source for audit log listings.
func NewRouter(bridge *core.Bridge, persisted bool) http.Handler {
	h := handlers.NewBridgeHandlers(bridge, persisted)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route("/api", func(r chi.Router) {
		r.Use(h.RequireTrustedOrigin)
		h.RegisterHealthRoutes(r)
		h.RegisterFetchRoutes(r)
		h.RegisterLogRoutes(r)
		h.RegisterSettingsRoutes(r)
	})
	r.Handle("/metrics", promhttp.HandlerFor(bridge.Metrics.Registry, promhttp.HandlerOpts{}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		logger.Error("API CATCH-ALL: Unhandled route: %s %s", r.Method, r.URL.Path)
		http.NotFound(w, r)
	})
	return r
}
