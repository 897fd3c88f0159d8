package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"fetchbridge/logger"
	"fetchbridge/models"

	"github.com/google/uuid"
)

const streamChunkSize = 32 << 10

// StreamSink receives progressive events for one streamed request. An error
// from Send means the consumer is gone.
type StreamSink interface {
	Send(ev models.StreamEvent) error
}

type StreamSinkFunc func(models.StreamEvent) error

func (f StreamSinkFunc) Send(ev models.StreamEvent) error { return f(ev) }

var errConsumerGone = errors.New("stream consumer disconnected")

// StreamBridge forwards response bodies chunk by chunk instead of buffering
// them. The timeout covers the wait for response headers only.
type StreamBridge struct {
	exec *Executor
}

func NewStreamBridge(exec *Executor) *StreamBridge {
	return &StreamBridge{exec: exec}
}

// HandleStream returns an error only when the sink failed; request failures
// are reported to the sink as error events.
func (b *StreamBridge) HandleStream(ctx context.Context, payload models.FetchPayload, tabID int, sink StreamSink, broadcast BroadcastFunc) error {
	e := b.exec
	if payload.RequestID == "" {
		payload.RequestID = uuid.NewString()
	}
	settings := e.cfg.Settings()
	maxLogs := e.maxLogs(settings)

	rc, rej := BuildRequestContext(payload, settings, tabID, NormalizeOptions{
		PreviewChars: e.cfg.PreviewChars,
		Kind:         models.LogKindStream,
		Now:          e.cfg.Now,
	})
	if rej != nil {
		e.cfg.Logs.Append(rej.Log, maxLogs, broadcast)
		e.cfg.Metrics.observe(models.LogKindStream, models.StageBlocked, 0)
		return sink.Send(models.StreamEvent{
			Type:       models.StreamEventError,
			RequestID:  payload.RequestID,
			StatusText: rej.StatusText,
			Error:      rej.Message,
		})
	}

	req := rc.Request
	entry := rc.Log
	started := e.cfg.Now()
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

	failWith := func(err error) error {
		statusText, stage, message := e.classify(ctx, reqCtx, req, &timedOut, timeout, err, rc)
		st := streamFinal{stage: stage, statusText: statusText, err: message}
		b.finish(entry, st, started, broadcast)
		return sink.Send(models.StreamEvent{
			Type:       models.StreamEventError,
			RequestID:  req.RequestID,
			StatusText: statusText,
			Error:      message,
			ElapsedMs:  e.cfg.Now().Sub(started).Milliseconds(),
		})
	}

	var body io.Reader
	if req.BodyKind != BodyNone {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(reqCtx, req.Method, req.URL.String(), body)
	if err != nil {
		return failWith(err)
	}
	httpReq.Header = outgoingHeaders(req)
	resp, err := e.clientFor(req).Do(httpReq)
	if err != nil {
		return failWith(err)
	}
	defer resp.Body.Close()
	timer.Stop()

	reader, _, closeFn, err := decodingReader(resp)
	if err != nil {
		return failWith(err)
	}
	defer closeFn()

	headers := FlattenHeaders(resp.Header)
	contentType := headers["content-type"]
	textual := IsTextualContentType(contentType)
	st := streamFinal{
		status:     resp.StatusCode,
		statusText: statusText(resp),
		headers:    headers,
		textual:    textual,
	}
	if err := sink.Send(models.StreamEvent{
		Type:       models.StreamEventHead,
		RequestID:  req.RequestID,
		Status:     st.status,
		StatusText: st.statusText,
		Headers:    headers,
	}); err != nil {
		cancel(errConsumerGone)
		st.stage, st.statusText, st.err = models.StageAborted, models.StatusTextAborted, errConsumerGone.Error()
		b.finish(entry, st, started, broadcast)
		return err
	}

	var preview previewBuilder
	preview.limit = e.cfg.PreviewChars
	var carry []byte
	buf := make([]byte, streamChunkSize)
	for {
		n, rerr := reader.Read(buf)
		if n > 0 {
			st.total += int64(n)
			ev := models.StreamEvent{Type: models.StreamEventChunk, RequestID: req.RequestID}
			if textual {
				data := append(carry, buf[:n]...)
				cut := validUTF8Prefix(data)
				ev.Text = string(data[:cut])
				carry = append([]byte(nil), data[cut:]...)
				preview.add(ev.Text)
			} else {
				ev.Bytes = append([]byte(nil), buf[:n]...)
			}
			if ev.Text != "" || ev.Bytes != nil {
				if err := sink.Send(ev); err != nil {
					cancel(errConsumerGone)
					st.stage, st.statusText, st.err = models.StageAborted, models.StatusTextAborted, errConsumerGone.Error()
					b.finish(entry, st, started, broadcast)
					return err
				}
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return failWith(rerr)
		}
	}
	if len(carry) > 0 {
		text := strings.ToValidUTF8(string(carry), "�")
		preview.add(text)
		if err := sink.Send(models.StreamEvent{Type: models.StreamEventChunk, RequestID: req.RequestID, Text: text}); err != nil {
			cancel(errConsumerGone)
			st.stage, st.statusText, st.err = models.StageAborted, models.StatusTextAborted, errConsumerGone.Error()
			b.finish(entry, st, started, broadcast)
			return err
		}
	}

	st.stage = models.StageForStatus(st.status)
	if textual {
		st.preview = preview.String()
	} else {
		st.preview = binaryPreview(int(st.total))
	}
	elapsed := b.finish(entry, st, started, broadcast)
	return sink.Send(models.StreamEvent{
		Type:       models.StreamEventEnd,
		RequestID:  req.RequestID,
		Status:     st.status,
		TotalBytes: st.total,
		ElapsedMs:  elapsed,
	})
}

type streamFinal struct {
	stage      models.Stage
	status     int
	statusText string
	headers    map[string]string
	textual    bool
	total      int64
	preview    string
	err        string
}

func (b *StreamBridge) finish(entry models.LogEntry, st streamFinal, started time.Time, broadcast BroadcastFunc) int64 {
	e := b.exec
	elapsed := e.cfg.Now().Sub(started).Milliseconds()
	if err := e.cfg.Logs.Update(entry.ID, func(le *models.LogEntry) {
		le.Pending = false
		le.Stage = st.stage
		le.Status = st.status
		le.StatusText = st.statusText
		le.ResponseHeaders = st.headers
		le.ResponseBodyPreview = st.preview
		le.BytesIn = st.total
		le.Error = st.err
		le.ElapsedMs = elapsed
		le.UpdatedAt = e.cfg.Now()
	}, broadcast); err != nil {
		logger.BridgeDebug("Stream: final log update for %s: %v", entry.RequestID, err)
	}
	e.cfg.Metrics.observe(models.LogKindStream, st.stage, time.Duration(elapsed)*time.Millisecond)
	logger.BridgeInfo("Stream: %s finished %s (%d bytes, %dms)", entry.RequestID, st.stage, st.total, elapsed)
	return elapsed
}

// validUTF8Prefix returns the length of the longest prefix of b that does
// not end inside a multi-byte rune.
func validUTF8Prefix(b []byte) int {
	end := len(b)
	for i := 1; i <= utf8.UTFMax && i <= len(b); i++ {
		start := len(b) - i
		if !utf8.RuneStart(b[start]) {
			continue
		}
		if !utf8.FullRune(b[start:]) {
			end = start
		}
		break
	}
	return end
}

// previewBuilder keeps the first limit characters and counts the rest.
type previewBuilder struct {
	limit int
	kept  []rune
	total int
}

func (p *previewBuilder) add(s string) {
	if p.limit <= 0 {
		p.limit = DefaultPreviewChars
	}
	for _, r := range s {
		if len(p.kept) < p.limit {
			p.kept = append(p.kept, r)
		}
		p.total++
	}
}

func (p *previewBuilder) String() string {
	if p.total <= len(p.kept) {
		return string(p.kept)
	}
	return string(p.kept) + fmt.Sprintf("...[truncated, total %d chars]", p.total)
}
