package models

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int `json:"port"`
	ReadTimeoutSec  int `json:"readTimeoutSec"`
	WriteTimeoutSec int `json:"writeTimeoutSec"`
	IdleTimeoutSec  int `json:"idleTimeoutSec"`
}

// DatabaseConfig holds persistence settings.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// ChannelConfig points at the external WhatsApp HTTP API.
type ChannelConfig struct {
	APIBaseURL string `json:"apiBaseUrl"`
	APIKey     string `json:"apiKey,omitempty"`
	TimeoutSec int    `json:"timeoutSec"`
}

// CRMConfig points at the CRM lead store collaborator.
type CRMConfig struct {
	APIBaseURL string `json:"apiBaseUrl"`
	APIKey     string `json:"apiKey,omitempty"`
	TimeoutSec int    `json:"timeoutSec"`
}

// DispatchConfig sizes the worker pool and retry policy.
type DispatchConfig struct {
	Workers             int `json:"workers"`
	QueueSize           int `json:"queueSize"`
	MaxAttempts         int `json:"maxAttempts"`
	RetryBackoffBaseSec int `json:"retryBackoffBaseSec"`
	RetryBackoffMaxSec  int `json:"retryBackoffMaxSec"`
}

// RateConfig holds governor defaults.
type RateConfig struct {
	SequenceMessagesPerMinute int `json:"sequenceMessagesPerMinute"`
}

// SchedulerConfig drives the tick loop.
type SchedulerConfig struct {
	TickIntervalSec int `json:"tickIntervalSec"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool    `json:"enabled"`
	UseStdout    bool    `json:"useStdout"`
	OTLPEndpoint string  `json:"otlpEndpoint,omitempty"`
	SampleRate   float64 `json:"sampleRate,omitempty"`
}

// Config is the root configuration document.
type Config struct {
	Server             ServerConfig    `json:"server"`
	Database           DatabaseConfig  `json:"database"`
	Channel            ChannelConfig   `json:"channel"`
	CRM                CRMConfig       `json:"crm"`
	Dispatch           DispatchConfig  `json:"dispatch"`
	Rate               RateConfig      `json:"rate"`
	Scheduler          SchedulerConfig `json:"scheduler"`
	Tracing            TracingConfig   `json:"tracing"`
	DefaultCountryCode string          `json:"defaultCountryCode,omitempty"`
	LogLevel           string          `json:"logLevel,omitempty"`
}

// ConfigError reports an invalid or incomplete configuration.
type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return "config error: " + e.Message
}
