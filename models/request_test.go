package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderListShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want HeaderList
	}{
		{"object", `{"X-One":"1","Accept":"text/plain"}`, HeaderList{{"X-One", "1"}, {"Accept", "text/plain"}}},
		{"object with arrays", `{"Accept":["a","b"]}`, HeaderList{{"Accept", "a"}, {"Accept", "b"}}},
		{"pairs", `[["X-A","1"],["x-b","2"]]`, HeaderList{{"X-A", "1"}, {"x-b", "2"}}},
		{"name value objects", `[{"name":"X-A","value":"1"}]`, HeaderList{{"X-A", "1"}}},
		{"lines", `["Content-Type: application/json"]`, HeaderList{{"Content-Type", "application/json"}}},
		{"null", `null`, nil},
		{"numbers stringify", `{"X-N":5}`, HeaderList{{"X-N", "5"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var h HeaderList
			require.NoError(t, json.Unmarshal([]byte(tc.raw), &h))
			assert.Equal(t, tc.want, h)
		})
	}
}

func TestHeaderListRejectsGarbage(t *testing.T) {
	for _, raw := range []string{`"text"`, `[["only"]]`, `["no colon here"]`, `[true]`} {
		var h HeaderList
		assert.Error(t, json.Unmarshal([]byte(raw), &h), raw)
	}
}

func TestFetchPayloadDecode(t *testing.T) {
	raw := `{
		"requestId": "r1",
		"url": "https://api.example.com/v1",
		"pageOrigin": "https://app.example.com",
		"init": {
			"method": "post", "headers": {"Content-Type": "application/json"}, "body": "{\"a\":1}",
			"options": {"timeoutMs": 50, "retry": {"maxAttempts": 3, "retryOn": [503]}, "cache": {"ttlMs": 1000}}
		}
	}`
	var p FetchPayload
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	assert.Equal(t, "r1", p.RequestID)
	assert.Equal(t, "post", p.Init.Method)
	assert.Equal(t, TextBody(`{"a":1}`), p.Init.Body)
	require.NotNil(t, p.Init.Options)
	require.NotNil(t, p.Init.Options.TimeoutMs)
	assert.Equal(t, 50, *p.Init.Options.TimeoutMs)
	assert.Equal(t, 3, p.Init.Options.Retry.MaxAttempts)
	assert.Nil(t, p.Init.Options.Retry.BackoffMs)
	assert.Equal(t, []int{503}, p.Init.Options.Retry.RetryOn)
	assert.Equal(t, 1000, p.Init.Options.Cache.TTLMs)
}

func TestRequestBodyBinaryMarker(t *testing.T) {
	var init RequestInit
	require.NoError(t, json.Unmarshal([]byte(`{"body":{"binary":true,"base64":"AAEC","byteLength":3}}`), &init))
	assert.True(t, init.Body.Present)
	assert.True(t, init.Body.Binary)
	assert.Equal(t, "AAEC", init.Body.Base64)
	assert.Equal(t, 3, init.Body.ByteLength)

	out, err := json.Marshal(init.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"binary":true,"base64":"AAEC","byteLength":3}`, string(out))
}

func TestRequestBodyAbsent(t *testing.T) {
	var init RequestInit
	require.NoError(t, json.Unmarshal([]byte(`{"method":"GET"}`), &init))
	assert.False(t, init.Body.Present)

	require.NoError(t, json.Unmarshal([]byte(`{"body":null}`), &init))
	assert.False(t, init.Body.Present)

	assert.Error(t, json.Unmarshal([]byte(`{"body":{"foo":1}}`), &init))
}

func TestStageForStatus(t *testing.T) {
	assert.Equal(t, StageSuccess, StageForStatus(204))
	assert.Equal(t, StageRedirect, StageForStatus(302))
	assert.Equal(t, StageClientError, StageForStatus(404))
	assert.Equal(t, StageServerError, StageForStatus(503))
	assert.True(t, StageTimeout.Terminal())
	assert.False(t, StageSending.Terminal())
}
