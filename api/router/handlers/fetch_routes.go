package handlers

import (
	"github.com/go-chi/chi/v5"
)

func (h *BridgeHandlers) RegisterFetchRoutes(r chi.Router) {
	r.With(requireJSON).Post("/fetch", h.FetchHandler)
	r.With(requireJSON).Post("/abort", h.AbortHandler)
	r.With(requireJSON).Post("/stream", h.StreamHandler)
	r.Get("/socket", h.SocketHandler)
}
