package cmd

import (
	"fmt"
	"time"

	"fetchbridge/config"
	"fetchbridge/core"
	"fetchbridge/database"
	"fetchbridge/logger"
	"fetchbridge/models"
)

// loadSettings returns the stored policy, seeding it from configuration the
// first time the database is used.
func loadSettings() (models.Settings, error) {
	settings, found, err := database.GetBridgeSettings()
	if err != nil {
		return settings, fmt.Errorf("loading bridge settings: %w", err)
	}
	if found {
		return settings, nil
	}
	settings = models.Settings{
		AllowedOrigins:      append([]string{}, config.AppConfig.Bridge.AllowedOrigins...),
		AllowedDestinations: append([]string{}, config.AppConfig.Bridge.AllowedDestinations...),
		Env:                 map[string]string{},
		InjectionRules:      []models.InjectionRule{},
		MaxLogs:             config.AppConfig.Bridge.MaxLogs,
	}
	if err := database.SaveBridgeSettings(settings); err != nil {
		return settings, fmt.Errorf("seeding bridge settings: %w", err)
	}
	logger.Info("Bridge: seeded settings from configuration (%d origins, %d destinations)",
		len(settings.AllowedOrigins), len(settings.AllowedDestinations))
	return settings, nil
}

// newBridge assembles a Bridge from configuration and the database. The
// second return value reports whether the audit log is mirrored to SQLite.
func newBridge() (*core.Bridge, bool, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, false, err
	}

	bc := config.AppConfig.Bridge
	cfg := core.BridgeConfig{
		DefaultTimeout:   time.Duration(bc.DefaultTimeoutMs) * time.Millisecond,
		MaxLogs:          bc.MaxLogs,
		PreviewChars:     bc.PreviewChars,
		MaxResponseBytes: bc.MaxResponseBytes,
		SkipTLSVerify:    bc.SkipTLSVerify,
		Settings:         settings,
		SaveSettings:     database.SaveBridgeSettings,
	}
	if bc.PersistLogs {
		cfg.Persister = database.LogMirror{}
	}
	bridge := core.NewBridge(cfg)

	if !bc.PersistLogs {
		return bridge, false, nil
	}
	interrupted, err := database.MarkInterruptedBridgeLogs()
	if err != nil {
		logger.Error("Bridge: marking interrupted log entries: %v", err)
	} else if interrupted > 0 {
		logger.Warn("Bridge: %d log entries were still pending from a previous run and are now marked aborted", interrupted)
	}

	limit := settings.MaxLogs
	if limit <= 0 {
		limit = bc.MaxLogs
	}
	recent, _, err := database.ListBridgeLogs(models.LogFilters{Limit: limit})
	if err != nil {
		return nil, false, fmt.Errorf("loading persisted audit log: %w", err)
	}
	bridge.Logs.Load(recent)
	logger.Debug("Bridge: restored %d audit log entries", len(recent))
	return bridge, true, nil
}
