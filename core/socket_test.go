package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fetchbridge/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

// relayServer upgrades the page connection and relays it to target.
func relayServer(t *testing.T, exec *Executor, open models.SocketOpen, done chan<- error) *httptest.Server {
	t.Helper()
	bridge := NewSocketBridge(exec, nil)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			done <- err
			return
		}
		done <- bridge.Relay(context.Background(), open, 1, conn, nil)
	}))
}

func TestSocketRelayEchoAndCleanClose(t *testing.T) {
	echo := echoServer(t)
	defer echo.Close()

	exec := newTestExecutor(testSettings())
	done := make(chan error, 1)
	front := relayServer(t, exec, models.SocketOpen{
		RequestID: "sock-1", URL: wsURL(echo.URL), PageOrigin: testOrigin,
	}, done)
	defer front.Close()

	page, _, err := websocket.DefaultDialer.Dial(wsURL(front.URL), nil)
	require.NoError(t, err)
	defer page.Close()

	require.NoError(t, page.WriteMessage(websocket.TextMessage, []byte("hello")))
	mt, data, err := page.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, page.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("relay did not finish")
	}

	entry := exec.cfg.Logs.List()[0]
	assert.Equal(t, models.LogKindSocket, entry.Kind)
	assert.Equal(t, models.StageSuccess, entry.Stage)
	assert.Equal(t, http.StatusSwitchingProtocols, entry.Status)
	assert.Equal(t, websocket.CloseNormalClosure, entry.CloseCode)
	assert.EqualValues(t, 1, entry.FramesOut)
	assert.EqualValues(t, 1, entry.FramesIn)
	assert.EqualValues(t, 5, entry.BytesOut)
	assert.False(t, entry.Pending)
}

func TestSocketRelayAbort(t *testing.T) {
	echo := echoServer(t)
	defer echo.Close()

	exec := newTestExecutor(testSettings())
	done := make(chan error, 1)
	front := relayServer(t, exec, models.SocketOpen{
		RequestID: "sock-abort", URL: wsURL(echo.URL), PageOrigin: testOrigin,
	}, done)
	defer front.Close()

	page, _, err := websocket.DefaultDialer.Dial(wsURL(front.URL), nil)
	require.NoError(t, err)
	defer page.Close()
	require.NoError(t, page.WriteMessage(websocket.TextMessage, []byte("ping")))
	_, _, err = page.ReadMessage()
	require.NoError(t, err)

	assert.True(t, exec.Abort("sock-abort"))
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("relay did not stop after abort")
	}

	_, _, err = page.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	entry := exec.cfg.Logs.List()[0]
	assert.Equal(t, models.StageAborted, entry.Stage)
	assert.Equal(t, models.StatusTextAborted, entry.StatusText)
}

func TestSocketRelayRejectsDestination(t *testing.T) {
	exec := newTestExecutor(testSettings())
	done := make(chan error, 1)
	front := relayServer(t, exec, models.SocketOpen{
		URL: "wss://elsewhere.example/socket", PageOrigin: testOrigin,
	}, done)
	defer front.Close()

	page, _, err := websocket.DefaultDialer.Dial(wsURL(front.URL), nil)
	require.NoError(t, err)
	defer page.Close()

	_, _, err = page.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
	relayErr := <-done
	var rej *Rejection
	require.ErrorAs(t, relayErr, &rej)
	assert.Equal(t, models.StatusTextBlocked, rej.StatusText)
	assert.Equal(t, models.StageBlocked, exec.cfg.Logs.List()[0].Stage)
}

func TestHandshakeHeadersDropReserved(t *testing.T) {
	req := &CanonicalRequest{Header: NewHeaders(models.HeaderList{
		{Name: "Sec-WebSocket-Key", Value: "x"},
		{Name: "Upgrade", Value: "websocket"},
		{Name: "Authorization", Value: "Bearer t"},
	})}
	h := handshakeHeaders(req)
	assert.Equal(t, "Bearer t", h.Get("Authorization"))
	assert.Empty(t, h.Get("Upgrade"))
	assert.Empty(t, h.Get("Sec-WebSocket-Key"))
}

func TestCleanCloseCodes(t *testing.T) {
	assert.True(t, isCleanClose(websocket.CloseNormalClosure))
	assert.True(t, isCleanClose(websocket.CloseNoStatusReceived))
	assert.False(t, isCleanClose(websocket.CloseInternalServerErr))
}
