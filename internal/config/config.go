package config

import (
	"encoding/json"
	"os"
	"strconv"

	"wacampaign/internal/constants"
	"wacampaign/internal/models"
)

var (
	ErrMissingChannelURL = models.ConfigError{Message: "missing channel API base URL"}
	ErrMissingDBPath     = models.ConfigError{Message: "missing database path"}
)

// LoadConfig reads a JSON config file, applies defaults and environment
// overrides, and validates the result.
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Channel.APIBaseURL == "" {
		return ErrMissingChannelURL
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeout
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}

	if c.Channel.TimeoutSec <= 0 {
		c.Channel.TimeoutSec = constants.DefaultSendTimeoutSec
	}
	if c.CRM.TimeoutSec <= 0 {
		c.CRM.TimeoutSec = constants.DefaultSendTimeoutSec
	}

	if c.Dispatch.Workers <= 0 {
		c.Dispatch.Workers = constants.DefaultWorkerCount
	}
	if c.Dispatch.QueueSize <= 0 {
		c.Dispatch.QueueSize = constants.DefaultQueueSize
	}
	if c.Dispatch.MaxAttempts <= 0 {
		c.Dispatch.MaxAttempts = constants.DefaultMaxSendAttempts
	}
	if c.Dispatch.RetryBackoffBaseSec <= 0 {
		c.Dispatch.RetryBackoffBaseSec = constants.DefaultRetryBackoffBaseSec
	}
	if c.Dispatch.RetryBackoffMaxSec <= 0 {
		c.Dispatch.RetryBackoffMaxSec = constants.DefaultRetryBackoffMaxSec
	}

	if c.Rate.SequenceMessagesPerMinute <= 0 {
		c.Rate.SequenceMessagesPerMinute = constants.DefaultSequenceMessagesPerMinute
	}
	if c.Scheduler.TickIntervalSec <= 0 {
		c.Scheduler.TickIntervalSec = constants.DefaultTickIntervalSec
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv("WACAMPAIGN_CHANNEL_API_URL"); url != "" {
		c.Channel.APIBaseURL = url
	}
	if key := os.Getenv("WACAMPAIGN_CHANNEL_API_KEY"); key != "" {
		c.Channel.APIKey = key
	}
	if url := os.Getenv("WACAMPAIGN_CRM_API_URL"); url != "" {
		c.CRM.APIBaseURL = url
	}
	if key := os.Getenv("WACAMPAIGN_CRM_API_KEY"); key != "" {
		c.CRM.APIKey = key
	}
	if path := os.Getenv("WACAMPAIGN_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if port := os.Getenv("WACAMPAIGN_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
	if level := os.Getenv("WACAMPAIGN_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
}
