package models

import "time"

// JobStatus tracks a message job along its delivery lifecycle.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusSent      JobStatus = "sent"
	JobStatusDelivered JobStatus = "delivered"
	JobStatusRead      JobStatus = "read"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition may be applied.
func (s JobStatus) Terminal() bool {
	return s == JobStatusRead || s == JobStatusFailed
}

// rank orders statuses along the happy path; failed sits outside the order.
func (s JobStatus) rank() int {
	switch s {
	case JobStatusPending:
		return 0
	case JobStatusSent:
		return 1
	case JobStatusDelivered:
		return 2
	case JobStatusRead:
		return 3
	default:
		return -1
	}
}

// CanTransitionTo reports whether moving from s to next preserves the
// monotonic pending→sent→delivered→read order. failed is reachable from any
// non-terminal status.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == JobStatusFailed {
		return true
	}
	return next.rank() > s.rank()
}

// PriorStatuses returns every status from which next is a legal transition.
// Used to build guarded UPDATE statements.
func PriorStatuses(next JobStatus) []JobStatus {
	all := []JobStatus{JobStatusPending, JobStatusSent, JobStatusDelivered, JobStatusRead, JobStatusFailed}
	var priors []JobStatus
	for _, s := range all {
		if s.CanTransitionTo(next) {
			priors = append(priors, s)
		}
	}
	return priors
}

// ErrorClass categorizes a failed send attempt for retry decisions.
type ErrorClass string

const (
	ErrClassInvalidRecipient    ErrorClass = "invalid_recipient"
	ErrClassProviderRejected    ErrorClass = "provider_rejected"
	ErrClassTransientNetwork    ErrorClass = "transient_network"
	ErrClassProviderRateLimited ErrorClass = "rate_limited_by_provider"
)

// Retryable reports whether the dispatcher should retry this class.
func (c ErrorClass) Retryable() bool {
	return c == ErrClassTransientNetwork || c == ErrClassProviderRateLimited
}

// OriginType identifies which engine produced a job.
type OriginType string

const (
	OriginBroadcast  OriginType = "broadcast"
	OriginEnrollment OriginType = "sequence-enrollment"
)

// MessageJob is one atomic attempt to deliver a single message to a single
// recipient.
type MessageJob struct {
	ID                string         `json:"id"`
	TenantID          string         `json:"tenantId"`
	RecipientID       string         `json:"recipientId"`
	Phone             string         `json:"phone"`
	Payload           MessagePayload `json:"payload"`
	OriginType        OriginType     `json:"originType"`
	OriginID          string         `json:"originId"`
	StepIndex         int            `json:"stepIndex"`
	Status            JobStatus      `json:"status"`
	ProviderMessageID string         `json:"providerMessageId,omitempty"`
	ErrorClass        ErrorClass     `json:"errorClass,omitempty"`
	ErrorDetail       string         `json:"errorDetail,omitempty"`
	Attempts          int            `json:"attempts"`
	CreatedAt         time.Time      `json:"createdAt"`
	SentAt            *time.Time     `json:"sentAt,omitempty"`
	DeliveredAt       *time.Time     `json:"deliveredAt,omitempty"`
	ReadAt            *time.Time     `json:"readAt,omitempty"`
	FailedAt          *time.Time     `json:"failedAt,omitempty"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// JobEvent is a status change published to the delivery tracker, either by a
// dispatch worker or by the provider webhook feed.
type JobEvent struct {
	JobID             string
	TenantID          string
	OriginType        OriginType
	OriginID          string
	Status            JobStatus
	ProviderMessageID string
	ErrorClass        ErrorClass
	ErrorDetail       string
	Timestamp         time.Time
}

// JobStats aggregates job statuses for one origin.
type JobStats struct {
	Pending   int `json:"pending"`
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Read      int `json:"read"`
	Failed    int `json:"failed"`
}

// Total returns the number of jobs observed across all statuses.
func (s JobStats) Total() int {
	return s.Pending + s.Sent + s.Delivered + s.Read + s.Failed
}

// Settled reports whether no job is still awaiting submission.
func (s JobStats) Settled() bool {
	return s.Pending == 0
}
