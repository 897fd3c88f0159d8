package core

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"fetchbridge/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRequestContext(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rc, rej := BuildRequestContext(models.FetchPayload{
		RequestID:  "r1",
		URL:        "http://127.0.0.1:9000/v1?x=1",
		PageOrigin: testOrigin,
		Init: models.RequestInit{
			Method:  "get",
			Headers: models.HeaderList{{Name: "Accept", Value: "application/json"}},
			Body:    models.TextBody("dropped on GET"),
		},
	}, testSettings(), 4, NormalizeOptions{Now: func() time.Time { return fixed }})
	require.Nil(t, rej)

	req := rc.Request
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, BodyNone, req.BodyKind)
	assert.Nil(t, req.Body)
	v, ok := req.Header.Get("authorization")
	assert.True(t, ok)
	assert.Equal(t, "Bearer sk-test", v)
	assert.Equal(t, []string{"Authorization"}, rc.Injected.Headers)

	assert.Equal(t, fixed, rc.Log.StartedAt)
	assert.True(t, rc.Log.Pending)
	assert.Equal(t, models.LogKindFetch, rc.Log.Kind)
	assert.Equal(t, 4, rc.Log.TabID)
	assert.Equal(t, redactedValue, rc.Log.RequestHeaders["Authorization"])
	assert.Equal(t, "application/json", rc.Log.RequestHeaders["Accept"])
	assert.Empty(t, rc.Log.RequestBodyPreview)
}

func TestBuildRequestContextBinaryBody(t *testing.T) {
	rc, rej := BuildRequestContext(models.FetchPayload{
		URL:        "http://127.0.0.1/upload",
		PageOrigin: testOrigin,
		Init: models.RequestInit{
			Method: "PUT",
			Body:   models.RequestBody{Present: true, Binary: true, Base64: "AAECAwQ=", ByteLength: 3},
		},
	}, testSettings(), 0, NormalizeOptions{})
	require.Nil(t, rej)
	assert.Equal(t, []byte{0, 1, 2}, rc.Request.Body)
	assert.Equal(t, BodyBinary, rc.Request.BodyKind)
	assert.Equal(t, "[binary body 3 bytes]", rc.Log.RequestBodyPreview)

	_, rej = BuildRequestContext(models.FetchPayload{
		URL:        "http://127.0.0.1/upload",
		PageOrigin: testOrigin,
		Init: models.RequestInit{
			Method: "PUT",
			Body:   models.RequestBody{Present: true, Binary: true, Base64: "AAE=", ByteLength: 9},
		},
	}, testSettings(), 0, NormalizeOptions{})
	require.NotNil(t, rej)
	assert.Equal(t, models.StatusTextBadBody, rej.StatusText)
	assert.Equal(t, models.StageBlocked, rej.Log.Stage)
}

func TestBuildRequestContextSchemes(t *testing.T) {
	settings := testSettings()
	_, rej := BuildRequestContext(models.FetchPayload{URL: "ws://127.0.0.1/socket", PageOrigin: testOrigin}, settings, 0, NormalizeOptions{})
	require.NotNil(t, rej)
	assert.Equal(t, models.StatusTextBadURL, rej.StatusText)

	rc, rej := BuildRequestContext(models.FetchPayload{URL: "WS://127.0.0.1/socket", PageOrigin: testOrigin}, settings, 0,
		NormalizeOptions{Schemes: []string{"ws", "wss"}, Kind: models.LogKindSocket})
	require.Nil(t, rej)
	assert.Equal(t, "ws", rc.Request.URL.Scheme)
	assert.Equal(t, models.LogKindSocket, rc.Log.Kind)

	_, rej = BuildRequestContext(models.FetchPayload{URL: "http:///nohost", PageOrigin: testOrigin}, settings, 0, NormalizeOptions{})
	require.NotNil(t, rej)
	assert.Equal(t, models.StatusTextBadURL, rej.StatusText)
}

func TestTruncatePreview(t *testing.T) {
	assert.Equal(t, "abc", truncatePreview("abc", 3))
	assert.Equal(t, "ab...[truncated, total 3 chars]", truncatePreview("abc", 2))
}

func TestResponseCache(t *testing.T) {
	c := NewResponseCache()
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.Put("k", models.Response{Status: 200, Headers: map[string]string{"a": "1"}}, time.Second)
	got, ok := c.Get("k")
	require.True(t, ok)
	got.Headers["a"] = "mutated"
	again, _ := c.Get("k")
	assert.Equal(t, "1", again.Headers["a"])

	now = now.Add(time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Zero(t, c.Len())

	c.Put("k2", models.Response{}, 0)
	now = now.Add(DefaultCacheTTL - time.Millisecond)
	_, ok = c.Get("k2")
	assert.True(t, ok)
	c.Purge()
	assert.Zero(t, c.Len())
}

func TestCacheKey(t *testing.T) {
	rc, rej := BuildRequestContext(models.FetchPayload{
		URL: "http://127.0.0.1/a", PageOrigin: testOrigin,
		Init: models.RequestInit{Options: &models.FetchOptions{Cache: &models.CacheOptions{}}},
	}, testSettings(), 0, NormalizeOptions{})
	require.Nil(t, rej)
	key, ok := CacheKey(rc.Request)
	assert.True(t, ok)
	assert.Equal(t, "GET:http://127.0.0.1/a", key)

	rc.Request.Options.Cache.Key = "models"
	key, _ = CacheKey(rc.Request)
	assert.Equal(t, "models", key)

	rc.Request.Method = http.MethodPost
	_, ok = CacheKey(rc.Request)
	assert.False(t, ok)
}

func TestInflightTable(t *testing.T) {
	table := newInflightTable()
	now := time.Unix(0, 0)
	table.now = func() time.Time { return now }

	ctx, cancel := context.WithCancelCause(context.Background())
	table.register("a", cancel)
	assert.Equal(t, 1, table.size())
	assert.True(t, table.abort("a"))
	assert.True(t, errors.Is(context.Cause(ctx), ErrAborted))
	assert.True(t, table.wasAborted("a"))
	table.release("a")
	assert.False(t, table.wasAborted("a"))
	assert.Zero(t, table.size())

	assert.False(t, table.abort("stale"))
	now = now.Add(2 * abortMemory)
	table.abort("fresh")
	assert.False(t, table.wasAborted("stale"))
	assert.True(t, table.wasAborted("fresh"))
}

func TestRetryPolicy(t *testing.T) {
	p := newRetryPolicy(nil)
	assert.Equal(t, 1, p.maxAttempts)
	assert.True(t, p.retryOn[503])

	p = newRetryPolicy(&models.RetryOptions{MaxAttempts: 4, BackoffMs: intPtr(100), RetryOn: []int{418}})
	assert.Equal(t, 4, p.maxAttempts)
	assert.False(t, p.retryOn[503])

	resp := &http.Response{StatusCode: 418}
	retry, err := p.checkRetry(context.Background(), resp, nil)
	assert.NoError(t, err)
	assert.True(t, retry)

	retry, _ = p.checkRetry(context.Background(), nil, errors.New("reset"))
	assert.True(t, retry)

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(errTimedOut)
	retry, err = p.checkRetry(ctx, resp, nil)
	assert.False(t, retry)
	assert.ErrorIs(t, err, errTimedOut)

	assert.Equal(t, 100*time.Millisecond, p.backoffFor(0, 0, 0, resp))
	assert.Equal(t, 400*time.Millisecond, p.backoffFor(0, 0, 2, resp))
	assert.Zero(t, p.backoffFor(0, 0, 2, nil))
}

func TestFormatKVRedactsQuery(t *testing.T) {
	out := formatKV([]interface{}{"url", "https://host/path?key=secret", "retries", 2})
	assert.NotContains(t, out, "secret")
	assert.Contains(t, out, "retries=2")
}
