package core

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"fetchbridge/models"

	"github.com/google/uuid"
)

const DefaultPreviewChars = 2000

type BodyKind int

const (
	BodyNone BodyKind = iota
	BodyText
	BodyBinary
)

// CanonicalRequest is a validated, policy-applied request ready to send.
type CanonicalRequest struct {
	RequestID      string
	Method         string
	URL            *url.URL
	Header         *Headers
	Body           []byte
	BodyKind       BodyKind
	Redirect       string
	Credentials    string
	Cache          string
	Referrer       string
	ReferrerPolicy string
	Integrity      string
	Keepalive      bool
	Options        models.FetchOptions
}

// RequestContext is the normalizer's success outcome.
type RequestContext struct {
	Request  *CanonicalRequest
	Log      models.LogEntry
	Injected InjectionResult
}

// Rejection is the normalizer's failure outcome. It carries a finalized
// log entry ready to append.
type Rejection struct {
	StatusText string
	Message    string
	Log        models.LogEntry
}

func (r *Rejection) Error() string {
	return r.StatusText + ": " + r.Message
}

func (r *Rejection) Response() models.Response {
	return models.FailureResponse(r.Log.RequestID, r.StatusText, r.Message, models.StageBlocked, 0)
}

type NormalizeOptions struct {
	PreviewChars int
	Kind         models.LogKind
	Schemes      []string
	Now          func() time.Time
}

func (o NormalizeOptions) withDefaults() NormalizeOptions {
	if o.PreviewChars <= 0 {
		o.PreviewChars = DefaultPreviewChars
	}
	if o.Kind == "" {
		o.Kind = models.LogKindFetch
	}
	if len(o.Schemes) == 0 {
		o.Schemes = []string{"http", "https"}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// BuildRequestContext validates a request message against policy, applies
// credential injection and drafts its audit entry.
func BuildRequestContext(payload models.FetchPayload, settings models.Settings, tabID int, opts NormalizeOptions) (*RequestContext, *Rejection) {
	opts = opts.withDefaults()
	now := opts.Now()

	method := strings.ToUpper(strings.TrimSpace(payload.Init.Method))
	if method == "" {
		method = http.MethodGet
	}
	headers := NewHeaders(payload.Init.Headers)

	draft := models.LogEntry{
		ID:             uuid.NewString(),
		RequestID:      payload.RequestID,
		TabID:          tabID,
		Kind:           opts.Kind,
		Stage:          models.StageQueued,
		Pending:        true,
		StartedAt:      now,
		UpdatedAt:      now,
		Method:         method,
		URL:            payload.URL,
		PageOrigin:     payload.PageOrigin,
		RequestHeaders: headers.Map(),
	}
	reject := func(statusText, message string) (*RequestContext, *Rejection) {
		entry := draft
		entry.Stage = models.StageBlocked
		entry.Pending = false
		entry.StatusText = statusText
		entry.Error = message
		return nil, &Rejection{StatusText: statusText, Message: message, Log: entry}
	}

	if payload.PageOrigin == "" {
		return reject(models.StatusTextBlocked, "no page origin provided")
	}
	if !IsOriginAllowed(payload.PageOrigin, settings.AllowedOrigins) {
		return reject(models.StatusTextBlocked, fmt.Sprintf("origin not allowed (%s)", payload.PageOrigin))
	}

	u, err := parseDestination(payload.URL, opts.Schemes)
	if err != nil {
		return reject(models.StatusTextBadURL, err.Error())
	}
	if !IsDestinationAllowed(u, settings.AllowedDestinations) {
		return reject(models.StatusTextBlocked, fmt.Sprintf("destination not allowed (%s)", u.Hostname()))
	}

	body, kind, err := decodeBody(payload.Init.Body)
	if err != nil {
		return reject(models.StatusTextBadBody, err.Error())
	}
	if kind != BodyNone && (method == http.MethodGet || method == http.MethodHead) {
		body, kind = nil, BodyNone
	}
	switch kind {
	case BodyText:
		draft.RequestBodyPreview = truncatePreview(string(body), opts.PreviewChars)
	case BodyBinary:
		draft.RequestBodyPreview = binaryPreview(len(body))
	}

	creds := NewCredentialStore(settings.Env)
	injected := ApplyInjectionRules(u, headers, EffectiveRules(settings.InjectionRules), creds)
	draft.URL = RedactURL(u, injected.Query)
	draft.RequestHeaders = headers.Map(injected.Headers...)

	options := models.FetchOptions{}
	if payload.Init.Options != nil {
		options = *payload.Init.Options
	}
	req := &CanonicalRequest{
		RequestID:      payload.RequestID,
		Method:         method,
		URL:            u,
		Header:         headers,
		Body:           body,
		BodyKind:       kind,
		Redirect:       strings.ToLower(payload.Init.Redirect),
		Credentials:    strings.ToLower(payload.Init.Credentials),
		Cache:          strings.ToLower(payload.Init.Cache),
		Referrer:       payload.Init.Referrer,
		ReferrerPolicy: strings.ToLower(payload.Init.ReferrerPolicy),
		Integrity:      strings.TrimSpace(payload.Init.Integrity),
		Keepalive:      payload.Init.Keepalive,
		Options:        options,
	}
	return &RequestContext{Request: req, Log: draft, Injected: injected}, nil
}

func parseDestination(raw string, schemes []string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}
	scheme := strings.ToLower(u.Scheme)
	allowed := false
	for _, s := range schemes {
		if scheme == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("invalid URL: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" || u.Hostname() == "" {
		return nil, fmt.Errorf("invalid URL: missing host in %q", raw)
	}
	u.Scheme = scheme
	return u, nil
}

func decodeBody(b models.RequestBody) ([]byte, BodyKind, error) {
	switch {
	case !b.Present:
		return nil, BodyNone, nil
	case !b.Binary:
		return []byte(b.Text), BodyText, nil
	}
	data, err := base64.StdEncoding.DecodeString(b.Base64)
	if err != nil {
		return nil, BodyNone, fmt.Errorf("invalid binary body: %v", err)
	}
	if b.ByteLength > 0 {
		if len(data) < b.ByteLength {
			return nil, BodyNone, fmt.Errorf("invalid binary body: declares %d bytes but carries %d", b.ByteLength, len(data))
		}
		data = data[:b.ByteLength]
	}
	return data, BodyBinary, nil
}

func truncatePreview(s string, limit int) string {
	if limit <= 0 {
		limit = DefaultPreviewChars
	}
	n := utf8.RuneCountInString(s)
	if n <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + fmt.Sprintf("...[truncated, total %d chars]", n)
}

func binaryPreview(n int) string {
	return fmt.Sprintf("[binary body %d bytes]", n)
}
