package handlers

import (
	"net/http"

	"fetchbridge/core"

	"github.com/go-chi/chi/v5"
)

func (h *BridgeHandlers) RegisterHealthRoutes(r chi.Router) {
	r.Get("/health", h.healthCheckHandler)
}

func (h *BridgeHandlers) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":          true,
		"version":     core.Version,
		"inflight":    h.bridge.Executor.InFlight(),
		"subscribers": h.bridge.Hub.Subscribers(),
		"logEntries":  h.bridge.Logs.Len(),
	})
}
