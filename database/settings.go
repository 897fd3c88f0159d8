package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"fetchbridge/logger"
	"fetchbridge/models"
)

// GetSetting retrieves a specific setting value from the app_settings table.
func GetSetting(key string) (string, error) {
	var value string
	err := DB.QueryRow("SELECT value FROM app_settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil // Return empty string if not found, not an error
		}
		return "", fmt.Errorf("failed to get setting '%s': %w", key, err)
	}
	return value, nil
}

// SetSetting saves or updates a specific setting value in the app_settings table.
func SetSetting(key, value string) error {
	stmt, err := DB.Prepare("INSERT OR REPLACE INTO app_settings (key, value) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare set setting statement for key '%s': %w", key, err)
	}
	defer stmt.Close()

	_, err = stmt.Exec(key, value)
	if err != nil {
		return fmt.Errorf("failed to execute set setting for key '%s': %w", key, err)
	}
	return nil
}

// GetBridgeSettings loads the stored policy. found is false when nothing has
// been saved yet.
func GetBridgeSettings() (settings models.Settings, found bool, err error) {
	raw, err := GetSetting(models.BridgeSettingsKey)
	if err != nil {
		return models.Settings{}, false, fmt.Errorf("failed to get bridge settings: %w", err)
	}
	if raw == "" {
		return models.Settings{}, false, nil
	}
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		// The stored blob holds credentials, so it is never echoed to the log.
		logger.Error("GetBridgeSettings: Error unmarshalling settings JSON: %v", err)
		return models.Settings{}, false, fmt.Errorf("failed to unmarshal bridge settings: %w", err)
	}
	return settings, true, nil
}

// SaveBridgeSettings stores the policy as a JSON blob.
func SaveBridgeSettings(settings models.Settings) error {
	if settings.AllowedOrigins == nil {
		settings.AllowedOrigins = []string{}
	}
	if settings.AllowedDestinations == nil {
		settings.AllowedDestinations = []string{}
	}
	if settings.InjectionRules == nil {
		settings.InjectionRules = []models.InjectionRule{}
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal bridge settings to JSON: %w", err)
	}
	if err := SetSetting(models.BridgeSettingsKey, string(data)); err != nil {
		return fmt.Errorf("failed to save bridge settings: %w", err)
	}
	return nil
}
