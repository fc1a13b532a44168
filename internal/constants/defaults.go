package constants

// Default dispatch configuration values
const (
	DefaultWorkerCount = 4
	DefaultQueueSize   = 256
	// One initial attempt plus three retries for transient failures.
	DefaultMaxSendAttempts      = 4
	DefaultRetryBackoffBaseSec  = 2
	DefaultRetryBackoffMaxSec   = 60
	DefaultSendTimeoutSec       = 30
	DefaultBreakerMaxFailures   = 5
	DefaultBreakerCooldownSec   = 30
	DefaultStaleSentThresholdHr = 24
	DefaultStaleCheckIntervalHr = 1
)

// Default rate limiting values
const (
	DefaultSequenceMessagesPerMinute  = 20
	DefaultBroadcastMessagesPerMinute = 20
	DefaultBroadcastBatchSize         = 50
)

// Default scheduler values
const (
	DefaultTickIntervalSec = 60
)

// Default server values
const (
	DefaultServerPort           = 8084
	DefaultServerReadTimeoutSec = 15
	DefaultServerWriteTimeout   = 15
	DefaultServerIdleTimeoutSec = 60
	DefaultGracefulShutdownSec  = 30
)

// Privacy settings
const (
	DefaultPhoneMaskLength = 4
)
