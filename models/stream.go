package models

type StreamEventType string

const (
	StreamEventHead  StreamEventType = "head"
	StreamEventChunk StreamEventType = "chunk"
	StreamEventEnd   StreamEventType = "end"
	StreamEventError StreamEventType = "error"
)

// StreamEvent is one progressive update of a streamed response.
type StreamEvent struct {
	Type       StreamEventType   `json:"type"`
	RequestID  string            `json:"requestId"`
	Status     int               `json:"status,omitempty"`
	StatusText string            `json:"statusText,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Text       string            `json:"text,omitempty"`
	Bytes      []byte            `json:"bytes,omitempty"`
	TotalBytes int64             `json:"totalBytes,omitempty"`
	ElapsedMs  int64             `json:"elapsedMs,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// SocketOpen is the first message on a page socket: where to connect.
type SocketOpen struct {
	RequestID  string     `json:"requestId"`
	URL        string     `json:"url"`
	PageOrigin string     `json:"pageOrigin,omitempty"`
	Protocols  []string   `json:"protocols,omitempty"`
	Headers    HeaderList `json:"headers,omitempty"`
}
