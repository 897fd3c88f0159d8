package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"fetchbridge/logger"
	"fetchbridge/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// FrameConn is one side of a relayed WebSocket. *websocket.Conn satisfies it.
type FrameConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// handshake headers the dialer sets itself and refuses from callers.
var reservedHandshakeHeaders = map[string]bool{
	"upgrade":                  true,
	"connection":               true,
	"sec-websocket-key":        true,
	"sec-websocket-version":    true,
	"sec-websocket-extensions": true,
	"sec-websocket-protocol":   true,
}

const closeWriteWait = time.Second

// SocketBridge relays WebSocket frames between a page connection and a
// policy-checked remote endpoint.
type SocketBridge struct {
	exec   *Executor
	dialer *websocket.Dialer
}

func NewSocketBridge(exec *Executor, dialer *websocket.Dialer) *SocketBridge {
	if dialer == nil {
		d := *websocket.DefaultDialer
		dialer = &d
	}
	return &SocketBridge{exec: exec, dialer: dialer}
}

type frameCounter struct {
	frames atomic.Int64
	bytes  atomic.Int64
}

func (c *frameCounter) add(n int) {
	c.frames.Add(1)
	c.bytes.Add(int64(n))
}

// Relay runs until either side closes, ctx is cancelled or the request id is
// aborted. The page connection is always closed on return.
func (b *SocketBridge) Relay(ctx context.Context, open models.SocketOpen, tabID int, page FrameConn, broadcast BroadcastFunc) error {
	e := b.exec
	defer page.Close()
	if open.RequestID == "" {
		open.RequestID = uuid.NewString()
	}
	settings := e.cfg.Settings()
	maxLogs := e.maxLogs(settings)

	payload := models.FetchPayload{
		RequestID:  open.RequestID,
		URL:        open.URL,
		PageOrigin: open.PageOrigin,
		Init:       models.RequestInit{Method: http.MethodGet, Headers: open.Headers},
	}
	rc, rej := BuildRequestContext(payload, settings, tabID, NormalizeOptions{
		PreviewChars: e.cfg.PreviewChars,
		Kind:         models.LogKindSocket,
		Schemes:      []string{"ws", "wss"},
		Now:          e.cfg.Now,
	})
	if rej != nil {
		e.cfg.Logs.Append(rej.Log, maxLogs, broadcast)
		e.cfg.Metrics.observe(models.LogKindSocket, models.StageBlocked, 0)
		closePeer(page, websocket.ClosePolicyViolation, rej.StatusText+": "+rej.Message)
		return rej
	}

	req := rc.Request
	entry := rc.Log
	started := e.cfg.Now()
	relayCtx, cancel := context.WithCancelCause(ctx)
	e.inflight.register(req.RequestID, cancel)
	e.cfg.Metrics.inflightDelta(1)
	defer func() {
		cancel(nil)
		e.inflight.release(req.RequestID)
		e.cfg.Metrics.inflightDelta(-1)
	}()

	entry.Stage = models.StageSending
	entry.StatusText = pendingStatusText
	e.cfg.Logs.Append(entry, maxLogs, broadcast)

	timeout := e.timeoutFor(req)
	dialer := *b.dialer
	dialer.Subprotocols = open.Protocols
	dialer.HandshakeTimeout = timeout
	dialCtx, dialCancel := context.WithTimeout(relayCtx, timeout)
	remote, resp, err := dialer.DialContext(dialCtx, req.URL.String(), handshakeHeaders(req))
	dialCancel()
	if err != nil {
		final := socketFinal{stage: models.StageNetworkError, statusText: models.StatusTextNetworkError}
		switch {
		case e.inflight.wasAborted(req.RequestID):
			final.stage, final.statusText, final.err = models.StageAborted, models.StatusTextAborted, ErrAborted.Error()
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			final.stage, final.statusText = models.StageTimeout, models.StatusTextTimeout
			final.err = fmt.Sprintf("handshake timed out after %dms", timeout.Milliseconds())
		default:
			final.err = networkMessage(err, req.URL, entry.URL)
		}
		if resp != nil {
			final.status = resp.StatusCode
			final.err = fmt.Sprintf("%s (handshake status %d)", final.err, resp.StatusCode)
		}
		b.finish(entry, final, started, broadcast)
		closePeer(page, websocket.CloseInternalServerErr, final.statusText+": "+final.err)
		return fmt.Errorf("dialing %s: %s", entry.URL, final.err)
	}
	defer remote.Close()

	var in, out frameCounter
	errc := make(chan error, 2)
	go func() { errc <- pump(remote, page, &out) }()
	go func() { errc <- pump(page, remote, &in) }()

	var first error
	select {
	case first = <-errc:
	case <-relayCtx.Done():
		first = context.Cause(relayCtx)
	}

	final := socketFinal{
		status:     http.StatusSwitchingProtocols,
		statusText: "Switching Protocols",
		protocol:   remote.Subprotocol(),
	}
	var ce *websocket.CloseError
	switch {
	case e.inflight.wasAborted(req.RequestID) || errors.Is(first, ErrAborted):
		final.stage, final.statusText, final.err = models.StageAborted, models.StatusTextAborted, ErrAborted.Error()
		final.closeCode = websocket.CloseGoingAway
		closePeer(remote, websocket.CloseGoingAway, "aborted")
		closePeer(page, websocket.CloseGoingAway, "aborted")
	case errors.As(first, &ce):
		final.closeCode = ce.Code
		final.stage = models.StageSuccess
		if !isCleanClose(ce.Code) {
			final.stage, final.err = models.StageNetworkError, ce.Error()
		}
	case ctx.Err() != nil:
		final.stage, final.statusText, final.err = models.StageAborted, models.StatusTextAborted, "relay cancelled by caller"
		final.closeCode = websocket.CloseGoingAway
		closePeer(remote, websocket.CloseGoingAway, "")
	default:
		final.stage = models.StageNetworkError
		final.err = networkMessage(first, req.URL, entry.URL)
		final.closeCode = websocket.CloseAbnormalClosure
		closePeer(remote, websocket.CloseGoingAway, "")
		closePeer(page, websocket.CloseInternalServerErr, "remote connection lost")
	}
	remote.Close()
	page.Close()
	if first != nil && relayCtx.Err() == nil {
		<-errc
	}

	final.framesIn, final.bytesIn = in.frames.Load(), in.bytes.Load()
	final.framesOut, final.bytesOut = out.frames.Load(), out.bytes.Load()
	b.finish(entry, final, started, broadcast)
	return nil
}

// pump copies frames from src to dst, forwarding a close frame before
// returning the close error.
func pump(dst, src FrameConn, counter *frameCounter) error {
	for {
		mt, data, err := src.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				closePeer(dst, ce.Code, ce.Text)
			}
			return err
		}
		counter.add(len(data))
		if err := dst.WriteMessage(mt, data); err != nil {
			return err
		}
	}
}

func closePeer(c FrameConn, code int, reason string) {
	if len(reason) > 120 {
		reason = reason[:120]
	}
	msg := websocket.FormatCloseMessage(code, reason)
	if code == websocket.CloseNoStatusReceived {
		msg = []byte{}
	}
	_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
}

func isCleanClose(code int) bool {
	switch code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
		return true
	}
	return false
}

func handshakeHeaders(req *CanonicalRequest) http.Header {
	h := http.Header{}
	for _, f := range req.Header.Fields() {
		if reservedHandshakeHeaders[strings.ToLower(f.Name)] {
			continue
		}
		h.Add(f.Name, f.Value)
	}
	return h
}

type socketFinal struct {
	stage               models.Stage
	status              int
	statusText          string
	protocol            string
	err                 string
	closeCode           int
	framesIn, framesOut int64
	bytesIn, bytesOut   int64
}

func (b *SocketBridge) finish(entry models.LogEntry, f socketFinal, started time.Time, broadcast BroadcastFunc) {
	e := b.exec
	elapsed := e.cfg.Now().Sub(started).Milliseconds()
	if err := e.cfg.Logs.Update(entry.ID, func(le *models.LogEntry) {
		le.Pending = false
		le.Stage = f.stage
		le.Status = f.status
		le.StatusText = f.statusText
		le.Error = f.err
		le.CloseCode = f.closeCode
		le.FramesIn, le.FramesOut = f.framesIn, f.framesOut
		le.BytesIn, le.BytesOut = f.bytesIn, f.bytesOut
		le.ElapsedMs = elapsed
		le.UpdatedAt = e.cfg.Now()
		if f.protocol != "" {
			le.ResponseHeaders = map[string]string{"sec-websocket-protocol": f.protocol}
		}
	}, broadcast); err != nil {
		logger.BridgeDebug("Socket: final log update for %s: %v", entry.RequestID, err)
	}
	e.cfg.Metrics.observe(models.LogKindSocket, f.stage, time.Duration(elapsed)*time.Millisecond)
	logger.BridgeInfo("Socket: %s closed %s (in %d frames, out %d frames)", entry.RequestID, f.stage, f.framesIn, f.framesOut)
}
