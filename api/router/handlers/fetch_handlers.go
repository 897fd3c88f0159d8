package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fetchbridge/core"
	"fetchbridge/logger"
	"fetchbridge/models"

	"github.com/gorilla/websocket"
)

const socketOpenWait = 10 * time.Second

// fetchRequest is a fetch payload plus the optional tab id used when the
// X-Tab-Id header is absent.
type fetchRequest struct {
	models.FetchPayload
	TabID int `json:"tabId"`
}

func decodeFetchRequest(r *http.Request) (fetchRequest, error) {
	var req fetchRequest
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, err
	}
	if strings.TrimSpace(req.URL) == "" {
		return req, fmt.Errorf("url is required")
	}
	return req, nil
}

// FetchHandler mediates one request and always answers 200 with an envelope;
// the outcome is inside it.
func (h *BridgeHandlers) FetchHandler(w http.ResponseWriter, r *http.Request) {
	req, err := decodeFetchRequest(r)
	if err != nil {
		logger.Error("FetchHandler: Error decoding request body: %v", err)
		writeError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	if !pageOriginMatches(r, req.PageOrigin) {
		writeError(w, http.StatusForbidden, "pageOrigin does not match the request Origin")
		return
	}
	env := h.bridge.Fetch(r.Context(), req.FetchPayload, tabIDFrom(r, req.TabID))
	writeJSON(w, http.StatusOK, env)
}

func (h *BridgeHandlers) AbortHandler(w http.ResponseWriter, r *http.Request) {
	var req models.AbortMessage
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("AbortHandler: Error decoding request body: %v", err)
		writeError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()
	if req.RequestID == "" {
		writeError(w, http.StatusBadRequest, "requestId is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"aborted": h.bridge.Abort(req.RequestID)})
}

// StreamHandler relays the upstream body as server-sent events named after
// the stream event types.
func (h *BridgeHandlers) StreamHandler(w http.ResponseWriter, r *http.Request) {
	req, err := decodeFetchRequest(r)
	if err != nil {
		logger.Error("StreamHandler: Error decoding request body: %v", err)
		writeError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	if !pageOriginMatches(r, req.PageOrigin) {
		writeError(w, http.StatusForbidden, "pageOrigin does not match the request Origin")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.Error("StreamHandler: streaming not supported by response writer")
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := core.StreamSinkFunc(func(ev models.StreamEvent) error {
		if err := writeSSE(w, string(ev.Type), ev); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err := h.bridge.Stream(r.Context(), req.FetchPayload, tabIDFrom(r, req.TabID), sink); err != nil {
		logger.Warn("StreamHandler: client disconnected during stream %s: %v", req.RequestID, err)
	}
}

func writeSSE(w http.ResponseWriter, event string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func (h *BridgeHandlers) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return h.trustedOrigin(r.Header.Get("Origin"))
		},
	}
}

// SocketHandler upgrades the page connection, reads the open message from
// the first frame and relays until either side closes.
func (h *BridgeHandlers) SocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		logger.Error("SocketHandler: upgrade failed: %v", err)
		return
	}

	conn.SetReadDeadline(time.Now().Add(socketOpenWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		logger.Error("SocketHandler: reading open message: %v", err)
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	var open struct {
		models.SocketOpen
		TabID int `json:"tabId"`
	}
	if err := json.Unmarshal(data, &open); err != nil || strings.TrimSpace(open.URL) == "" {
		msg := "open message must be JSON with a url"
		if err != nil {
			msg = "invalid open message: " + err.Error()
		}
		logger.Error("SocketHandler: %s", msg)
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseUnsupportedData, msg), time.Now().Add(time.Second))
		conn.Close()
		return
	}
	if !pageOriginMatches(r, open.PageOrigin) {
		logger.Warn("SocketHandler: pageOrigin %q does not match Origin %q", open.PageOrigin, r.Header.Get("Origin"))
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "pageOrigin does not match the request Origin"), time.Now().Add(time.Second))
		conn.Close()
		return
	}
	if err := h.bridge.Relay(r.Context(), open.SocketOpen, tabIDFrom(r, open.TabID), conn); err != nil {
		logger.Info("SocketHandler: relay %s ended: %v", open.RequestID, err)
	}
}
