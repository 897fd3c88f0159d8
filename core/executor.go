package core

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"fetchbridge/logger"
	"fetchbridge/models"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	DefaultTimeout    = 30 * time.Second
	pendingStatusText = "Pending..."
)

var (
	errRedirectRefused = errors.New("redirect refused: redirect mode is \"error\"")
	errIntegrity       = errors.New("integrity check failed")
)

type ExecutorConfig struct {
	Client           *http.Client
	Cache            *ResponseCache
	Logs             *LogStore
	Metrics          *Metrics
	Settings         func() models.Settings
	DefaultTimeout   time.Duration
	MaxLogs          int
	PreviewChars     int
	MaxResponseBytes int64
	Now              func() time.Time
}

// Executor runs mediated requests: cache lookup, network call with timeout,
// retry and abort, response reading and audit logging. It owns the in-flight
// table shared with the stream and socket bridges.
type Executor struct {
	cfg      ExecutorConfig
	inflight *inflightTable
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Client == nil {
		cfg.Client = NewHTTPClient(false, nil)
	}
	if cfg.Cache == nil {
		cfg.Cache = NewResponseCache()
	}
	if cfg.Logs == nil {
		cfg.Logs = NewLogStore(nil)
	}
	if cfg.Settings == nil {
		cfg.Settings = func() models.Settings { return models.Settings{} }
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.PreviewChars <= 0 {
		cfg.PreviewChars = DefaultPreviewChars
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Executor{cfg: cfg, inflight: newInflightTable()}
}

// NewHTTPClient builds the outbound client. rt overrides the transport.
func NewHTTPClient(skipTLSVerify bool, rt http.RoundTripper) *http.Client {
	if rt == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		if skipTLSVerify {
			tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		rt = tr
	}
	return &http.Client{Transport: rt}
}

// Abort cancels the request with the given id. Unknown or finished ids are a
// no-op. It reports whether a live request was cancelled.
func (e *Executor) Abort(requestID string) bool {
	cancelled := e.inflight.abort(requestID)
	logger.BridgeDebug("Executor: abort %s (in flight: %v)", requestID, cancelled)
	return cancelled
}

// InFlight reports how many requests are registered.
func (e *Executor) InFlight() int {
	return e.inflight.size()
}

func (e *Executor) maxLogs(s models.Settings) int {
	if s.MaxLogs > 0 {
		return s.MaxLogs
	}
	return e.cfg.MaxLogs
}

func (e *Executor) timeoutFor(req *CanonicalRequest) time.Duration {
	if t := req.Options.TimeoutMs; t != nil && *t > 0 {
		return time.Duration(*t) * time.Millisecond
	}
	return e.cfg.DefaultTimeout
}

// HandleFetch mediates one request. Every outcome, including policy
// rejections and network failures, is a well-formed envelope.
func (e *Executor) HandleFetch(ctx context.Context, payload models.FetchPayload, tabID int, broadcast BroadcastFunc) models.Envelope {
	if payload.RequestID == "" {
		payload.RequestID = uuid.NewString()
	}
	settings := e.cfg.Settings()
	maxLogs := e.maxLogs(settings)

	rc, rej := BuildRequestContext(payload, settings, tabID, NormalizeOptions{PreviewChars: e.cfg.PreviewChars, Now: e.cfg.Now})
	if rej != nil {
		logger.BridgeInfo("Executor: %s rejected: %s", payload.RequestID, rej.Error())
		e.cfg.Logs.Append(rej.Log, maxLogs, broadcast)
		e.cfg.Metrics.observe(models.LogKindFetch, models.StageBlocked, 0)
		resp := rej.Response()
		return models.Envelope{OK: false, Response: &resp, Error: rej.Message}
	}
	return e.execute(ctx, rc, maxLogs, broadcast)
}

func (e *Executor) execute(ctx context.Context, rc *RequestContext, maxLogs int, broadcast BroadcastFunc) models.Envelope {
	req := rc.Request
	entry := rc.Log
	started := e.cfg.Now()

	key, cacheable := CacheKey(req)
	if cacheable && !bypassesCacheLookup(req.Cache) {
		cached, hit := e.cfg.Cache.Get(key)
		e.cfg.Metrics.cacheLookup(hit)
		if hit {
			return e.serveCached(cached, entry, maxLogs, broadcast)
		}
	}

	timeout := e.timeoutFor(req)
	reqCtx, cancel := context.WithCancelCause(ctx)
	var timedOut atomic.Bool
	timer := time.AfterFunc(timeout, func() {
		timedOut.Store(true)
		cancel(errTimedOut)
	})
	e.inflight.register(req.RequestID, cancel)
	e.cfg.Metrics.inflightDelta(1)
	defer func() {
		timer.Stop()
		cancel(nil)
		e.inflight.release(req.RequestID)
		e.cfg.Metrics.inflightDelta(-1)
	}()

	entry.Stage = models.StageSending
	entry.StatusText = pendingStatusText
	e.cfg.Logs.Append(entry, maxLogs, broadcast)
	logger.BridgeDebug("Executor: %s %s %s (timeout %s)", req.RequestID, req.Method, entry.URL, timeout)

	resp, attempts, err := e.send(reqCtx, req)
	e.cfg.Metrics.retried(attempts)

	var read *ReadResult
	if err == nil {
		read, err = ReadResponse(ReadInput{
			RequestID:    req.RequestID,
			Response:     resp,
			Started:      started,
			PreviewChars: e.cfg.PreviewChars,
			MaxBytes:     e.cfg.MaxResponseBytes,
			Now:          e.cfg.Now,
		})
		resp.Body.Close()
	}
	if err == nil && req.Integrity != "" {
		err = verifyIntegrity(req.Integrity, read.Body)
	}
	if err != nil {
		statusText, stage, message := e.classify(ctx, reqCtx, req, &timedOut, timeout, err, rc)
		return e.fail(entry, statusText, stage, message, started, attempts, maxLogs, broadcast)
	}

	out := read.Response
	out.Stage = models.StageForStatus(out.Status)
	if resp.Request != nil && resp.Request.URL != nil {
		final := resp.Request.URL.String()
		out.Redirected = final != req.URL.String()
		out.URL = RedactURL(resp.Request.URL, rc.Injected.Query)
	}
	if read.IsEventStream {
		logger.BridgeWarn("Executor: %s returned an event stream; the body was buffered in full. Use the stream bridge for progressive delivery.", req.RequestID)
	}

	elapsed := out.ElapsedMs
	if err := e.cfg.Logs.Update(entry.ID, func(le *models.LogEntry) {
		le.Pending = false
		le.Stage = out.Stage
		le.Status = out.Status
		le.StatusText = out.StatusText
		le.ResponseHeaders = out.Headers
		le.ResponseBodyPreview = read.Preview
		le.ElapsedMs = elapsed
		le.Attempts = attempts
		le.UpdatedAt = e.cfg.Now()
	}, broadcast); err != nil {
		logger.BridgeDebug("Executor: final log update for %s: %v", req.RequestID, err)
	}

	// Error statuses are never cached so the next call reaches the upstream.
	if cacheable && req.Cache != "no-store" && out.OK {
		e.cfg.Cache.Put(key, out, cacheTTL(req.Options.Cache))
	}
	e.cfg.Metrics.observe(models.LogKindFetch, out.Stage, time.Duration(elapsed)*time.Millisecond)
	logger.BridgeInfo("Executor: %s %s %s -> %d in %dms", req.RequestID, req.Method, entry.URL, out.Status, elapsed)
	return models.Envelope{OK: true, Response: &out}
}

func (e *Executor) serveCached(cached models.Response, entry models.LogEntry, maxLogs int, broadcast BroadcastFunc) models.Envelope {
	cached.RequestID = entry.RequestID
	cached.ElapsedMs = 0
	cached.Cached = true
	cached.Stage = models.StageDone

	entry.Pending = false
	entry.Stage = models.StageDone
	entry.Cached = true
	entry.Status = cached.Status
	entry.StatusText = cached.StatusText
	entry.ResponseHeaders = cached.Headers
	if cached.Binary {
		entry.ResponseBodyPreview = binaryPreview(len(cached.BodyBytes))
	} else {
		entry.ResponseBodyPreview = truncatePreview(cached.BodyText, e.cfg.PreviewChars)
	}
	e.cfg.Logs.Append(entry, maxLogs, broadcast)
	e.cfg.Metrics.observe(models.LogKindFetch, models.StageDone, 0)
	logger.BridgeDebug("Executor: %s served from cache", entry.RequestID)
	return models.Envelope{OK: true, Response: &cached}
}

func (e *Executor) fail(entry models.LogEntry, statusText string, stage models.Stage, message string, started time.Time, attempts, maxLogs int, broadcast BroadcastFunc) models.Envelope {
	elapsed := e.cfg.Now().Sub(started).Milliseconds()
	if err := e.cfg.Logs.Update(entry.ID, func(le *models.LogEntry) {
		le.Pending = false
		le.Stage = stage
		le.StatusText = statusText
		le.Error = message
		le.ElapsedMs = elapsed
		le.Attempts = attempts
		le.UpdatedAt = e.cfg.Now()
	}, broadcast); err != nil {
		logger.BridgeDebug("Executor: final log update for %s: %v", entry.RequestID, err)
	}
	e.cfg.Metrics.observe(models.LogKindFetch, stage, time.Duration(elapsed)*time.Millisecond)
	logger.BridgeInfo("Executor: %s failed (%s): %s", entry.RequestID, statusText, message)
	resp := models.FailureResponse(entry.RequestID, statusText, message, stage, elapsed)
	return models.Envelope{OK: false, Response: &resp, Error: message}
}

// classify maps a failure to the error taxonomy. The timeout flag is checked
// before the abort set.
func (e *Executor) classify(parent, reqCtx context.Context, req *CanonicalRequest, timedOut *atomic.Bool, timeout time.Duration, err error, rc *RequestContext) (string, models.Stage, string) {
	switch {
	case timedOut.Load():
		return models.StatusTextTimeout, models.StageTimeout,
			fmt.Sprintf("request timed out after %dms; raise options.timeoutMs for slow destinations", timeout.Milliseconds())
	case e.inflight.wasAborted(req.RequestID) || errors.Is(context.Cause(reqCtx), ErrAborted):
		return models.StatusTextAborted, models.StageAborted, ErrAborted.Error()
	case parent.Err() != nil:
		return models.StatusTextAborted, models.StageAborted, "request cancelled by caller"
	}
	return models.StatusTextNetworkError, models.StageNetworkError, networkMessage(err, req.URL, rc.Log.URL)
}

// networkMessage strips the request URL, which may carry injected
// credentials, from transport errors.
func networkMessage(err error, u *url.URL, safeURL string) string {
	var ue *url.Error
	if errors.As(err, &ue) {
		err = ue.Err
	}
	msg := err.Error()
	if u != nil {
		msg = strings.ReplaceAll(msg, u.String(), safeURL)
	}
	return msg
}

func (e *Executor) send(ctx context.Context, req *CanonicalRequest) (*http.Response, int, error) {
	policy := newRetryPolicy(req.Options.Retry)
	var attempts atomic.Int32
	client := policy.client(e.clientFor(req), &attempts)

	var body interface{}
	if req.BodyKind != BodyNone {
		body = req.Body
	}
	rreq, err := retryablehttp.NewRequestWithContext(ctx, req.Method, req.URL.String(), body)
	if err != nil {
		return nil, 0, err
	}
	rreq.Header = outgoingHeaders(req)
	resp, err := client.Do(rreq)
	if err == nil && resp == nil {
		err = errors.New("no response")
	}
	if err != nil && resp != nil {
		resp.Body.Close()
	}
	return resp, int(attempts.Load()), err
}

// clientFor applies the request's redirect mode to a copy of the base client.
func (e *Executor) clientFor(req *CanonicalRequest) *http.Client {
	c := *e.cfg.Client
	switch req.Redirect {
	case "manual":
		c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	case "error":
		c.CheckRedirect = func(*http.Request, []*http.Request) error { return errRedirectRefused }
	}
	return &c
}

func outgoingHeaders(req *CanonicalRequest) http.Header {
	h := req.Header.HTTP()
	if req.Referrer != "" && req.Referrer != "about:client" && req.ReferrerPolicy != "no-referrer" && h.Get("Referer") == "" {
		h.Set("Referer", req.Referrer)
	}
	if req.Credentials == "omit" {
		h.Del("Cookie")
	}
	return h
}

func bypassesCacheLookup(mode string) bool {
	switch mode {
	case "no-store", "reload", "no-cache":
		return true
	}
	return false
}

// verifyIntegrity checks a subresource-integrity metadata string against
// body. Metadata with no recognised algorithm passes.
func verifyIntegrity(metadata string, body []byte) error {
	recognised := false
	for _, token := range strings.Fields(metadata) {
		algo, digest, ok := strings.Cut(token, "-")
		if !ok {
			continue
		}
		digest, _, _ = strings.Cut(digest, "?")
		var sum []byte
		switch strings.ToLower(algo) {
		case "sha256":
			s := sha256.Sum256(body)
			sum = s[:]
		case "sha384":
			s := sha512.Sum384(body)
			sum = s[:]
		case "sha512":
			s := sha512.Sum512(body)
			sum = s[:]
		default:
			continue
		}
		recognised = true
		if base64.StdEncoding.EncodeToString(sum) == digest {
			return nil
		}
	}
	if !recognised {
		return nil
	}
	return errIntegrity
}
