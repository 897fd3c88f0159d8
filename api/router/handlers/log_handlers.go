package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"fetchbridge/core"
	"fetchbridge/database"
	"fetchbridge/logger"
	"fetchbridge/models"

	"github.com/go-chi/chi/v5"
)

const eventKeepAlive = 25 * time.Second

type logListResponse struct {
	Entries []models.LogEntry `json:"entries"`
	Total   int64             `json:"total"`
}

// listEntries reads from the database mirror when persistence is on, so the
// listing survives restarts, and from memory otherwise.
func (h *BridgeHandlers) listEntries(f models.LogFilters) ([]models.LogEntry, int64, error) {
	if h.persisted {
		return database.ListBridgeLogs(f)
	}
	all := core.Query(h.bridge.Logs.List(), models.LogFilters{
		Kind: f.Kind, Stage: f.Stage, Method: f.Method, TabID: f.TabID, Search: f.Search,
	})
	total := int64(len(all))
	return core.Query(all, models.LogFilters{Limit: f.Limit, Offset: f.Offset}), total, nil
}

func (h *BridgeHandlers) ListLogsHandler(w http.ResponseWriter, r *http.Request) {
	filters, err := filtersFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, total, err := h.listEntries(filters)
	if err != nil {
		logger.Error("ListLogsHandler: Error listing audit log: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to list audit log")
		return
	}
	writeJSON(w, http.StatusOK, logListResponse{Entries: entries, Total: total})
}

func (h *BridgeHandlers) GetLogHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if entry, ok := h.bridge.Logs.Get(id); ok {
		writeJSON(w, http.StatusOK, entry)
		return
	}
	if h.persisted {
		entry, err := database.GetBridgeLog(id)
		if err == nil {
			writeJSON(w, http.StatusOK, entry)
			return
		}
		if !errors.Is(err, database.ErrBridgeLogNotFound) {
			logger.Error("GetLogHandler: Error fetching log entry %s: %v", id, err)
			writeError(w, http.StatusInternalServerError, "Failed to fetch log entry")
			return
		}
	}
	writeError(w, http.StatusNotFound, fmt.Sprintf("Log entry %s not found", id))
}

func (h *BridgeHandlers) ClearLogsHandler(w http.ResponseWriter, r *http.Request) {
	h.bridge.ClearLogs()
	w.WriteHeader(http.StatusNoContent)
}

func (h *BridgeHandlers) ExportLogsHandler(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = core.ExportJSON
	}
	if format != core.ExportJSON && format != core.ExportHAR {
		writeError(w, http.StatusBadRequest, "format must be json or har")
		return
	}
	filters, err := filtersFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, _, err := h.listEntries(filters)
	if err != nil {
		logger.Error("ExportLogsHandler: Error listing audit log: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to export audit log")
		return
	}

	ext := "json"
	if format == core.ExportHAR {
		ext = "har"
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"fetchbridge-%s.%s\"", time.Now().UTC().Format("20060102-150405"), ext))
	if err := core.WriteExport(w, format, entries); err != nil {
		logger.Error("ExportLogsHandler: Error writing export: %v", err)
	}
}

// LogEventsHandler streams audit log changes as server-sent events until the
// client disconnects.
func (h *BridgeHandlers) LogEventsHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	events, unsubscribe := h.bridge.Hub.Subscribe(64)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(eventKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return
			}
			if err := writeSSE(w, string(ev.Type), ev); err != nil {
				logger.Debug("LogEventsHandler: subscriber gone: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}
