package models

import "time"

// Stage is a position in the request lifecycle.
type Stage string

const (
	StageQueued       Stage = "queued"
	StageSending      Stage = "sending"
	StageReceiving    Stage = "receiving"
	StageDone         Stage = "done"
	StageSuccess      Stage = "success"
	StageRedirect     Stage = "redirect"
	StageClientError  Stage = "client-error"
	StageServerError  Stage = "server-error"
	StageNetworkError Stage = "network-error"
	StageTimeout      Stage = "timeout"
	StageAborted      Stage = "aborted"
	StageBlocked      Stage = "blocked"
)

// Terminal reports whether no further transition may follow s.
func (s Stage) Terminal() bool {
	switch s {
	case StageQueued, StageSending, StageReceiving, "":
		return false
	}
	return true
}

// StageForStatus classifies an HTTP status code.
func StageForStatus(status int) Stage {
	switch {
	case status >= 200 && status < 300:
		return StageSuccess
	case status >= 300 && status < 400:
		return StageRedirect
	case status >= 400 && status < 500:
		return StageClientError
	case status >= 500:
		return StageServerError
	}
	return StageNetworkError
}

type LogKind string

const (
	LogKindFetch  LogKind = "fetch"
	LogKindStream LogKind = "stream"
	LogKindSocket LogKind = "socket"
)

// LogEntry is one audit record per mediated request.
type LogEntry struct {
	ID                  string            `json:"id"`
	RequestID           string            `json:"requestId"`
	TabID               int               `json:"tabId"`
	Kind                LogKind           `json:"kind"`
	Stage               Stage             `json:"stage"`
	Pending             bool              `json:"pending"`
	StartedAt           time.Time         `json:"startedAt"`
	UpdatedAt           time.Time         `json:"updatedAt"`
	Method              string            `json:"method"`
	URL                 string            `json:"url"`
	PageOrigin          string            `json:"pageOrigin"`
	RequestHeaders      map[string]string `json:"requestHeaders,omitempty"`
	RequestBodyPreview  string            `json:"requestBodyPreview,omitempty"`
	Status              int               `json:"status"`
	StatusText          string            `json:"statusText,omitempty"`
	ResponseHeaders     map[string]string `json:"responseHeaders,omitempty"`
	ResponseBodyPreview string            `json:"responseBodyPreview,omitempty"`
	ElapsedMs           int64             `json:"elapsedMs"`
	Error               string            `json:"error,omitempty"`
	Cached              bool              `json:"cached,omitempty"`
	Attempts            int               `json:"attempts,omitempty"`
	BytesIn             int64             `json:"bytesIn,omitempty"`
	BytesOut            int64             `json:"bytesOut,omitempty"`
	FramesIn            int64             `json:"framesIn,omitempty"`
	FramesOut           int64             `json:"framesOut,omitempty"`
	CloseCode           int               `json:"closeCode,omitempty"`
}

func (e LogEntry) Clone() LogEntry {
	out := e
	out.RequestHeaders = cloneStringMap(e.RequestHeaders)
	out.ResponseHeaders = cloneStringMap(e.ResponseHeaders)
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type LogEventType string

const (
	LogEventAppended LogEventType = "appended"
	LogEventUpdated  LogEventType = "updated"
	LogEventCleared  LogEventType = "cleared"
)

// LogEvent is broadcast after every audit log mutation.
type LogEvent struct {
	Type  LogEventType `json:"type"`
	Entry *LogEntry    `json:"entry,omitempty"`
}

// LogFilters narrows audit log listings.
type LogFilters struct {
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
	Kind   LogKind `json:"kind,omitempty"`
	Stage  Stage   `json:"stage,omitempty"`
	Method string  `json:"method,omitempty"`
	TabID  *int    `json:"tabId,omitempty"`
	Search string  `json:"search,omitempty"`
}
