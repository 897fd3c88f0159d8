package handlers

import (
	"github.com/go-chi/chi/v5"
)

func (h *BridgeHandlers) RegisterSettingsRoutes(r chi.Router) {
	r.Route("/settings", func(r chi.Router) {
		r.Get("/", h.GetSettingsHandler)
		r.With(requireJSON).Put("/", h.UpdateSettingsHandler)
		r.Get("/env/names", h.CredentialNamesHandler)
		r.Get("/env/{name}", h.CredentialStatusHandler)
	})
}
