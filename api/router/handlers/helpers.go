package handlers

import (
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"fetchbridge/core"
	"fetchbridge/logger"
	"fetchbridge/models"
)

// TabIDHeader carries the originating browser tab on HTTP requests.
const TabIDHeader = "X-Tab-Id"

// BridgeHandlers serves the bridge over HTTP. persisted reports whether the
// audit log is mirrored to the database, in which case listings read from it.
type BridgeHandlers struct {
	bridge    *core.Bridge
	persisted bool
}

func NewBridgeHandlers(bridge *core.Bridge, persisted bool) *BridgeHandlers {
	return &BridgeHandlers{bridge: bridge, persisted: persisted}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("writeJSON: encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.ErrorResponse{Message: message})
}

// tabIDFrom reads the tab id header, falling back to fallback.
func tabIDFrom(r *http.Request, fallback int) int {
	raw := strings.TrimSpace(r.Header.Get(TabIDHeader))
	if raw == "" {
		return fallback
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		logger.Debug("tabIDFrom: ignoring malformed %s header %q", TabIDHeader, raw)
		return fallback
	}
	return id
}

func filtersFromQuery(r *http.Request) (models.LogFilters, error) {
	q := r.URL.Query()
	f := models.LogFilters{
		Kind:   models.LogKind(q.Get("kind")),
		Stage:  models.Stage(q.Get("stage")),
		Method: q.Get("method"),
		Search: q.Get("search"),
	}
	for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return f, &queryError{name: name, value: v}
			}
			*dst = n
		}
	}
	if v := q.Get("tabId"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, &queryError{name: "tabId", value: v}
		}
		f.TabID = &n
	}
	return f, nil
}

type queryError struct {
	name, value string
}

func (e *queryError) Error() string {
	return "invalid " + e.name + " parameter: " + strconv.Quote(e.value)
}

func isExtensionOrigin(origin string) bool {
	return strings.Contains(origin, "-extension://")
}

// trustedOrigin reports whether a browser Origin header may drive the bridge.
// Requests without one come from native clients, which browsers cannot forge.
func (h *BridgeHandlers) trustedOrigin(origin string) bool {
	if origin == "" || isExtensionOrigin(origin) {
		return true
	}
	return core.IsOriginAllowed(origin, h.bridge.Settings().AllowedOrigins)
}

// RequireTrustedOrigin rejects browser requests from pages outside the
// origin allow-list before they reach any handler.
func (h *BridgeHandlers) RequireTrustedOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if !h.trustedOrigin(origin) {
			logger.Warn("RequireTrustedOrigin: rejected %s %s from origin %q", r.Method, r.URL.Path, origin)
			writeError(w, http.StatusForbidden, "origin not allowed")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireJSON refuses bodies that are not application/json. Browsers send
// cross-site form and text/plain posts without a preflight.
func requireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "application/json" {
			writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// pageOriginMatches reports whether a declared pageOrigin agrees with the
// browser Origin header. Extension and native callers declare it freely.
func pageOriginMatches(r *http.Request, declared string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || isExtensionOrigin(origin) {
		return true
	}
	return strings.EqualFold(strings.TrimRight(declared, "/"), origin)
}
