package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"fetchbridge/core"
	"fetchbridge/logger"
	"fetchbridge/models"

	"github.com/go-chi/chi/v5"
)

// settingsUpdate is the body of PUT /settings. Absent fields keep their
// current value. Env entries with an empty value remove the credential.
type settingsUpdate struct {
	AllowedOrigins      *[]string               `json:"allowedOrigins"`
	AllowedDestinations *[]string               `json:"allowedDestinations"`
	Env                 map[string]string       `json:"env"`
	InjectionRules      *[]models.InjectionRule `json:"injectionRules"`
	MaxLogs             *int                    `json:"maxLogs"`
}

func (u settingsUpdate) apply(s models.Settings) models.Settings {
	if u.AllowedOrigins != nil {
		s.AllowedOrigins = *u.AllowedOrigins
	}
	if u.AllowedDestinations != nil {
		s.AllowedDestinations = *u.AllowedDestinations
	}
	if u.InjectionRules != nil {
		s.InjectionRules = *u.InjectionRules
	}
	if u.MaxLogs != nil {
		s.MaxLogs = *u.MaxLogs
	}
	if len(u.Env) > 0 && s.Env == nil {
		s.Env = map[string]string{}
	}
	for name, value := range u.Env {
		key := core.CanonicalCredentialName(name)
		if strings.TrimSpace(value) == "" {
			delete(s.Env, key)
			delete(s.Env, name)
			continue
		}
		s.Env[key] = value
	}
	return s
}

func (h *BridgeHandlers) view() models.SettingsView {
	s := h.bridge.Settings()
	return s.View(h.bridge.Credentials().ConfiguredNames())
}

func (h *BridgeHandlers) GetSettingsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.view())
}

func (h *BridgeHandlers) UpdateSettingsHandler(w http.ResponseWriter, r *http.Request) {
	var update settingsUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		logger.Error("UpdateSettingsHandler: Error decoding request body: %v", err)
		writeError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()
	if update.MaxLogs != nil && *update.MaxLogs < 0 {
		writeError(w, http.StatusBadRequest, "maxLogs must not be negative")
		return
	}
	if update.InjectionRules != nil {
		for i, rule := range *update.InjectionRules {
			if strings.TrimSpace(rule.HostPattern) == "" {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("injection rule %d has no hostPattern", i))
				return
			}
		}
	}

	next := update.apply(h.bridge.Settings())
	if err := h.bridge.UpdateSettings(next); err != nil {
		logger.Error("UpdateSettingsHandler: Error saving settings: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to save settings")
		return
	}
	writeJSON(w, http.StatusOK, h.view())
}

func (h *BridgeHandlers) CredentialNamesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"names": h.bridge.Credentials().ConfiguredNames()})
}

// CredentialStatusHandler reports whether a credential (or one of its
// aliases) is configured. The value itself is never returned.
func (h *BridgeHandlers) CredentialStatusHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":       core.CanonicalCredentialName(name),
		"configured": h.bridge.Credentials().IsSet(name),
	})
}
