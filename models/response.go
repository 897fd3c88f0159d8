package models

// ErrorResponse is a generic error response structure for API
type ErrorResponse struct {
	Message string `json:"message"`
}

// Status texts used for failures that never reached an HTTP status.
const (
	StatusTextBlocked      = "Blocked"
	StatusTextBadURL       = "Bad URL"
	StatusTextBadBody      = "Bad Body"
	StatusTextTimeout      = "Timeout"
	StatusTextAborted      = "Aborted"
	StatusTextNetworkError = "Network Error"
)

// Response is the canonical response returned to the page.
type Response struct {
	RequestID  string            `json:"requestId"`
	OK         bool              `json:"ok"`
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	BodyText   string            `json:"bodyText,omitempty"`
	BodyBytes  []byte            `json:"bodyBytes,omitempty"`
	Binary     bool              `json:"binary,omitempty"`
	URL        string            `json:"url,omitempty"`
	Redirected bool              `json:"redirected,omitempty"`
	ElapsedMs  int64             `json:"elapsedMs"`
	Error      string            `json:"error,omitempty"`
	Stage      Stage             `json:"stage,omitempty"`
	Cached     bool              `json:"cached,omitempty"`
}

// Clone returns a deep copy so cached snapshots never alias a delivered response.
func (r Response) Clone() Response {
	out := r
	if r.Headers != nil {
		out.Headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			out.Headers[k] = v
		}
	}
	if r.BodyBytes != nil {
		out.BodyBytes = append([]byte(nil), r.BodyBytes...)
	}
	return out
}

// Envelope wraps every reply. OK reports whether the bridge itself worked;
// the HTTP outcome lives in Response.OK.
type Envelope struct {
	OK       bool      `json:"ok"`
	Response *Response `json:"response,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// FailureResponse builds the well-formed status-0 response used for every
// non-HTTP failure.
func FailureResponse(requestID, statusText, message string, stage Stage, elapsedMs int64) Response {
	return Response{
		RequestID:  requestID,
		OK:         false,
		Status:     0,
		StatusText: statusText,
		Headers:    map[string]string{},
		ElapsedMs:  elapsedMs,
		Error:      message,
		Stage:      stage,
	}
}
