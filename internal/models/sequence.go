package models

import "time"

// SequenceStep is one delayed message in a drip sequence. DelayHours is
// counted from the previous step's dispatch (0 for the first step means
// immediately on enrollment).
type SequenceStep struct {
	Payload    MessagePayload `json:"payload"`
	DelayHours int            `json:"delayHours"`
}

// SendWindow restricts sequence dispatch to a daily tenant-local interval.
// Start and End are "HH:MM" in the given IANA timezone. A zero window means
// no restriction.
type SendWindow struct {
	Start    string `json:"start,omitempty"`
	End      string `json:"end,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// Enabled reports whether the window restricts anything.
func (w SendWindow) Enabled() bool {
	return w.Start != "" && w.End != ""
}

// EntryConditions auto-enroll leads whose attributes match. Empty fields
// match everything; a nil condition set disables auto-enrollment.
type EntryConditions struct {
	Status string `json:"status,omitempty"`
	Source string `json:"source,omitempty"`
}

// Matches reports whether a lead satisfies the entry conditions.
func (c EntryConditions) Matches(lead Lead) bool {
	if c.Status != "" && c.Status != lead.Status {
		return false
	}
	if c.Source != "" && c.Source != lead.Source {
		return false
	}
	return true
}

// Sequence is a reusable ordered set of delayed message steps used to
// nurture leads automatically.
type Sequence struct {
	ID                string           `json:"id"`
	TenantID          string           `json:"tenantId"`
	Name              string           `json:"name"`
	Steps             []SequenceStep   `json:"steps"`
	EntryConditions   *EntryConditions `json:"entryConditions,omitempty"`
	ExitOnReply       bool             `json:"exitOnReply"`
	MaxMessagesPerDay int              `json:"maxMessagesPerDay"` // 0 = unlimited
	SendWindow        SendWindow       `json:"sendWindow"`
	IsActive          bool             `json:"isActive"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// EnrollmentStatus tracks one lead's progress instance through a sequence.
type EnrollmentStatus string

const (
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusPaused    EnrollmentStatus = "paused"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
	EnrollmentStatusCancelled EnrollmentStatus = "cancelled"
)

// Enrollment is one lead's live progress through one sequence. CurrentStep
// only ever advances, one step at a time.
type Enrollment struct {
	ID          string           `json:"id"`
	SequenceID  string           `json:"sequenceId"`
	TenantID    string           `json:"tenantId"`
	LeadID      string           `json:"leadId"`
	Phone       string           `json:"phone"`
	Status      EnrollmentStatus `json:"status"`
	CurrentStep int              `json:"currentStep"`
	NextRunAt   *time.Time       `json:"nextRunAt,omitempty"`
	StartedAt   time.Time        `json:"startedAt"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}
