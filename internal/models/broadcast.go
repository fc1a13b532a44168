package models

import "time"

// BroadcastStatus tracks a broadcast through its lifecycle.
type BroadcastStatus string

const (
	BroadcastStatusDraft     BroadcastStatus = "draft"
	BroadcastStatusScheduled BroadcastStatus = "scheduled"
	BroadcastStatusSending   BroadcastStatus = "sending"
	BroadcastStatusSent      BroadcastStatus = "sent"
	BroadcastStatusCancelled BroadcastStatus = "cancelled"
	BroadcastStatusFailed    BroadcastStatus = "failed"
)

// RecipientSpecType selects how a broadcast's recipient set is computed.
type RecipientSpecType string

const (
	RecipientSpecLeads    RecipientSpecType = "leads"
	RecipientSpecContacts RecipientSpecType = "contacts"
	RecipientSpecFilter   RecipientSpecType = "filter"
	RecipientSpecCustom   RecipientSpecType = "custom"
)

// LeadFilter is a predicate over lead attributes. Empty fields match
// everything.
type LeadFilter struct {
	Status     string `json:"status,omitempty"`
	Source     string `json:"source,omitempty"`
	AssignedTo string `json:"assignedTo,omitempty"`
}

// Matches reports whether a lead satisfies the filter.
func (f LeadFilter) Matches(lead Lead) bool {
	if f.Status != "" && f.Status != lead.Status {
		return false
	}
	if f.Source != "" && f.Source != lead.Source {
		return false
	}
	if f.AssignedTo != "" && f.AssignedTo != lead.AssignedTo {
		return false
	}
	return true
}

// RecipientSpec describes the targeting of a broadcast.
type RecipientSpec struct {
	Type   RecipientSpecType `json:"type"`
	Filter *LeadFilter       `json:"filter,omitempty"`
	IDs    []string          `json:"ids,omitempty"`
}

// Broadcast is a one-time bulk send to a recipient set resolved and frozen
// at dispatch time.
type Broadcast struct {
	ID                string          `json:"id"`
	TenantID          string          `json:"tenantId"`
	Name              string          `json:"name"`
	Payload           MessagePayload  `json:"payload"`
	RecipientSpec     RecipientSpec   `json:"recipientSpec"`
	MessagesPerMinute int             `json:"messagesPerMinute"`
	BatchSize         int             `json:"batchSize"`
	ScheduledAt       *time.Time      `json:"scheduledAt,omitempty"`
	Status            BroadcastStatus `json:"status"`
	RecipientCount    int             `json:"recipientCount"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// CancelReport summarizes a broadcast at the moment it was cancelled.
// Skipped counts recipients that were never reached.
type CancelReport struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}
