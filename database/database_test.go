package database

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"fetchbridge/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "bridge.db")
	require.NoError(t, InitDB(path))
	t.Cleanup(func() { CloseDB() })
}

func logEntry(id string, tab int, kind models.LogKind, pending bool) models.LogEntry {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	return models.LogEntry{
		ID: id, RequestID: "req-" + id, TabID: tab, Kind: kind, Stage: models.StageSending,
		Pending: pending, StartedAt: now, UpdatedAt: now, Method: "GET",
		URL: "https://api.example.com/" + id, PageOrigin: "https://app.example.com",
		RequestHeaders: map[string]string{"Authorization": "[injected]"},
	}
}

func TestInitDBIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.db")
	require.NoError(t, InitDB(path))
	require.NoError(t, CloseDB())
	require.NoError(t, InitDB(path))
	require.NoError(t, CloseDB())
}

func TestSettingsRoundTrip(t *testing.T) {
	setupDB(t)

	v, err := GetSetting("missing")
	require.NoError(t, err)
	assert.Empty(t, v)

	_, found, err := GetBridgeSettings()
	require.NoError(t, err)
	assert.False(t, found)

	in := models.Settings{
		AllowedOrigins: []string{"https://app.example.com"},
		Env:            map[string]string{"OPENAI_API_KEY": "sk"},
		InjectionRules: []models.InjectionRule{{HostPattern: "*.example.com", InjectHeaders: map[string]string{"X-Key": "${OPENAI_API_KEY}"}}},
		MaxLogs:        25,
	}
	require.NoError(t, SaveBridgeSettings(in))
	out, found, err := GetBridgeSettings()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, in.AllowedOrigins, out.AllowedOrigins)
	assert.Equal(t, []string{}, out.AllowedDestinations)
	assert.Equal(t, in.Env, out.Env)
	assert.Equal(t, in.InjectionRules, out.InjectionRules)
	assert.Equal(t, 25, out.MaxLogs)

	require.NoError(t, SetSetting(models.BridgeSettingsKey, "{broken"))
	_, _, err = GetBridgeSettings()
	assert.Error(t, err)
}

func TestBridgeLogLifecycle(t *testing.T) {
	setupDB(t)
	var mirror LogMirror

	for i := 1; i <= 4; i++ {
		kind := models.LogKindFetch
		if i%2 == 0 {
			kind = models.LogKindStream
		}
		require.NoError(t, mirror.InsertLogEntry(logEntry(fmt.Sprint(i), i, kind, true)))
	}

	e := logEntry("2", 2, models.LogKindStream, false)
	e.Stage = models.StageSuccess
	e.Status = 200
	require.NoError(t, mirror.UpdateLogEntry(e))
	assert.ErrorIs(t, UpdateBridgeLog(logEntry("nope", 0, models.LogKindFetch, false)), ErrBridgeLogNotFound)

	got, err := GetBridgeLog("2")
	require.NoError(t, err)
	assert.Equal(t, models.StageSuccess, got.Stage)
	assert.Equal(t, "[injected]", got.RequestHeaders["Authorization"])
	_, err = GetBridgeLog("missing")
	assert.ErrorIs(t, err, ErrBridgeLogNotFound)

	all, total, err := ListBridgeLogs(models.LogFilters{})
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	assert.Equal(t, "4", all[0].ID)

	streams, total, err := ListBridgeLogs(models.LogFilters{Kind: models.LogKindStream, Limit: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, streams, 1)
	assert.Equal(t, "4", streams[0].ID)

	tab := 3
	byTab, _, err := ListBridgeLogs(models.LogFilters{TabID: &tab, Search: "EXAMPLE.COM/3"})
	require.NoError(t, err)
	require.Len(t, byTab, 1)
	assert.Equal(t, "3", byTab[0].ID)

	n, err := MarkInterruptedBridgeLogs()
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	got, _ = GetBridgeLog("1")
	assert.Equal(t, models.StageAborted, got.Stage)
	assert.False(t, got.Pending)

	require.NoError(t, mirror.TrimLogEntries(2))
	kept, total, err := ListBridgeLogs(models.LogFilters{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Equal(t, "4", kept[0].ID)
	assert.Equal(t, "3", kept[1].ID)

	require.NoError(t, mirror.ClearLogEntries())
	empty, total, err := ListBridgeLogs(models.LogFilters{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, empty)
}
