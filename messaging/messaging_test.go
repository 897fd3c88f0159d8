package messaging

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"

	"fetchbridge/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu      sync.Mutex
	fetched []models.FetchPayload
	tabs    []int
	aborted []string
	cleared int
	entries []models.LogEntry
	names   []string
	body    string
}

func (b *fakeBackend) Fetch(_ context.Context, p models.FetchPayload, tabID int) models.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetched = append(b.fetched, p)
	b.tabs = append(b.tabs, tabID)
	return models.Envelope{OK: true, Response: &models.Response{RequestID: p.RequestID, OK: true, Status: 200, BodyText: b.body}}
}

func (b *fakeBackend) Abort(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.aborted = append(b.aborted, id)
	return id == "live"
}

func (b *fakeBackend) ClearLogs()                    { b.cleared++ }
func (b *fakeBackend) LogEntries() []models.LogEntry { return b.entries }
func (b *fakeBackend) ConfiguredNames() []string     { return b.names }

func frame(t *testing.T, v interface{}) []byte {
	t.Helper()
	var data []byte
	switch m := v.(type) {
	case string:
		data = []byte(m)
	default:
		var err error
		data, err = json.Marshal(v)
		require.NoError(t, err)
	}
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(len(data))))
	buf.Write(data)
	return buf.Bytes()
}

func readReplies(t *testing.T, r io.Reader) map[string]Reply {
	t.Helper()
	out := map[string]Reply{}
	for {
		data, err := ReadFrame(r)
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		var reply Reply
		require.NoError(t, json.Unmarshal(data, &reply))
		out[reply.ID] = reply
	}
}

func TestParseMessage(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"fetch","requestId":"r1","tabId":9,"url":"https://a.example/","pageOrigin":"https://p.example","init":{"method":"POST","headers":{"X-A":"1"},"body":"hi"}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeFetch, msg.Type)
	assert.Equal(t, "r1", msg.ID)
	assert.Equal(t, 9, msg.TabID)
	require.NotNil(t, msg.Fetch)
	assert.Equal(t, "https://p.example", msg.Fetch.PageOrigin)
	assert.Equal(t, "hi", msg.Fetch.Init.Body.Text)

	msg, err = ParseMessage([]byte(`{"type":"abort","id":"c1","requestId":"r1"}`))
	require.NoError(t, err)
	assert.Equal(t, "c1", msg.ID)
	assert.Equal(t, "r1", msg.Abort.RequestID)

	msg, err = ParseMessage([]byte(`{"type":"logs.list","limit":5,"filterTabId":2,"kind":"stream"}`))
	require.NoError(t, err)
	assert.Equal(t, 5, msg.Filters.Limit)
	assert.Equal(t, 2, *msg.Filters.TabID)
	assert.Equal(t, models.LogKindStream, msg.Filters.Kind)

	for _, bad := range []string{`nope`, `[1]`, `{"id":"x"}`, `{"type":"teleport","id":"x"}`, `{"type":"fetch","id":"x"}`, `{"type":"abort","id":"x"}`} {
		msg, err := ParseMessage([]byte(bad))
		assert.ErrorIs(t, err, ErrInvalidMessage, bad)
		if strings.Contains(bad, `"id":"x"`) {
			assert.Equal(t, "x", msg.ID)
		}
	}
}

func TestFrameRoundTripAndLimits(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte(`{"a":1}`)))
	assert.Equal(t, []byte{7, 0, 0, 0}, buf.Bytes()[:4])
	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got))

	assert.ErrorIs(t, WriteFrame(io.Discard, make([]byte, MaxReplyBytes+1)), ErrFrameTooLarge)

	var huge bytes.Buffer
	binary.Write(&huge, binary.LittleEndian, uint32(MaxMessageBytes+1))
	_, err = ReadFrame(&huge)
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	_, err = ReadFrame(bytes.NewReader([]byte{5, 0, 0, 0, 'a'}))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestHostRunDispatchesEveryMessage(t *testing.T) {
	backend := &fakeBackend{
		names:   []string{"OPENAI_API_KEY"},
		entries: []models.LogEntry{{ID: "e1", Kind: models.LogKindFetch}, {ID: "e2", Kind: models.LogKindSocket}},
	}
	var in bytes.Buffer
	in.Write(frame(t, map[string]interface{}{"type": "fetch", "requestId": "f1", "tabId": 3, "url": "https://a.example/", "pageOrigin": "https://p.example"}))
	in.Write(frame(t, map[string]interface{}{"type": "abort", "id": "a1", "requestId": "live"}))
	in.Write(frame(t, map[string]interface{}{"type": "logs.list", "id": "l1", "kind": "socket"}))
	in.Write(frame(t, map[string]interface{}{"type": "logs.clear", "id": "c1"}))
	in.Write(frame(t, map[string]interface{}{"type": "settings.names", "id": "n1"}))
	in.Write(frame(t, map[string]interface{}{"type": "ping", "id": "p1"}))
	in.Write(frame(t, `{"type":"bogus","id":"b1"}`))

	var out bytes.Buffer
	host := NewHost(&in, &out, NewDispatcher(backend))
	require.NoError(t, host.Run(context.Background()))

	replies := readReplies(t, &out)
	require.Len(t, replies, 7)

	f := replies["f1"]
	assert.True(t, f.OK)
	require.NotNil(t, f.Response)
	assert.Equal(t, 200, f.Response.Status)
	assert.Equal(t, []int{3}, backend.tabs)

	assert.Equal(t, map[string]interface{}{"aborted": true}, replies["a1"].Data)
	logs := replies["l1"].Data.([]interface{})
	require.Len(t, logs, 1)
	assert.Equal(t, "e2", logs[0].(map[string]interface{})["id"])
	assert.Equal(t, 1, backend.cleared)
	assert.Equal(t, []interface{}{"OPENAI_API_KEY"}, replies["n1"].Data)
	assert.Equal(t, true, replies["p1"].Data.(map[string]interface{})["pong"])

	bogus := replies["b1"]
	assert.False(t, bogus.OK)
	assert.Contains(t, bogus.Error, "unknown type")
}

func TestHostReplacesOversizedReply(t *testing.T) {
	backend := &fakeBackend{body: strings.Repeat("x", MaxReplyBytes)}
	var in, out bytes.Buffer
	in.Write(frame(t, map[string]interface{}{"type": "fetch", "requestId": "big", "url": "https://a.example/"}))

	require.NoError(t, NewHost(&in, &out, NewDispatcher(backend)).Run(context.Background()))
	replies := readReplies(t, &out)
	big := replies["big"]
	assert.False(t, big.OK)
	assert.Equal(t, TypeFetch, big.Type)
	assert.Contains(t, big.Error, "exceeds the native messaging limit")
}

func TestHostTruncatedInput(t *testing.T) {
	var out bytes.Buffer
	err := NewHost(bytes.NewReader([]byte{9, 0, 0, 0, '{'}), &out, NewDispatcher(&fakeBackend{})).Run(context.Background())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
