package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"wacampaign/internal/constants"
	"wacampaign/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, cfg models.Config) string {
	t.Helper()
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func minimalConfig() models.Config {
	return models.Config{
		Channel:  models.ChannelConfig{APIBaseURL: "http://localhost:3000"},
		Database: models.DatabaseConfig{Path: "/tmp/wacampaign.db"},
	}
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, minimalConfig())

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, constants.DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, constants.DefaultWorkerCount, cfg.Dispatch.Workers)
	assert.Equal(t, constants.DefaultQueueSize, cfg.Dispatch.QueueSize)
	assert.Equal(t, constants.DefaultSequenceMessagesPerMinute, cfg.Rate.SequenceMessagesPerMinute)
	assert.Equal(t, constants.DefaultTickIntervalSec, cfg.Scheduler.TickIntervalSec)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfigMissingChannelURL(t *testing.T) {
	cfg := minimalConfig()
	cfg.Channel.APIBaseURL = ""
	path := writeConfig(t, cfg)

	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, ErrMissingChannelURL)
}

func TestLoadConfigMissingDBPath(t *testing.T) {
	cfg := minimalConfig()
	cfg.Database.Path = ""
	path := writeConfig(t, cfg)

	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, ErrMissingDBPath)
}

func TestLoadConfigFileMissing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("WACAMPAIGN_CHANNEL_API_URL", "http://override:9000")
	t.Setenv("WACAMPAIGN_DB_PATH", "/tmp/override.db")
	t.Setenv("WACAMPAIGN_PORT", "9090")
	t.Setenv("WACAMPAIGN_LOG_LEVEL", "debug")

	path := writeConfig(t, minimalConfig())
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://override:9000", cfg.Channel.APIBaseURL)
	assert.Equal(t, "/tmp/override.db", cfg.Database.Path)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfigInvalidPortOverrideIgnored(t *testing.T) {
	t.Setenv("WACAMPAIGN_PORT", "not-a-port")

	path := writeConfig(t, minimalConfig())
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, constants.DefaultServerPort, cfg.Server.Port)
}
