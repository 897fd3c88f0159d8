package handlers

import (
	"github.com/go-chi/chi/v5"
)

func (h *BridgeHandlers) RegisterLogRoutes(r chi.Router) {
	r.Route("/logs", func(r chi.Router) {
		r.Get("/", h.ListLogsHandler)
		r.Delete("/", h.ClearLogsHandler)
		r.Get("/export", h.ExportLogsHandler)
		r.Get("/events", h.LogEventsHandler)
		r.Get("/{id}", h.GetLogHandler)
	})
}
