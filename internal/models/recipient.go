package models

import "time"

// Recipient is one addressable target of a broadcast: a canonical phone
// number plus the CRM record it came from.
type Recipient struct {
	ID          string `json:"id"`
	Phone       string `json:"phone"`
	DisplayName string `json:"displayName,omitempty"`
}

// Lead is the CRM lead/contact view consumed by the resolver and by
// entry-condition evaluation. The CRM store owns the primary data.
type Lead struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenantId"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone"`
	Status     string    `json:"status,omitempty"`
	Source     string    `json:"source,omitempty"`
	AssignedTo string    `json:"assignedTo,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// InboundReply is a reply notification pushed by the inbound webhook feed.
type InboundReply struct {
	FromPhone  string    `json:"fromPhone"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// ProviderStatusUpdate is a delivery status change pushed by the provider,
// keyed by the provider's message id.
type ProviderStatusUpdate struct {
	ProviderMessageID string    `json:"providerMessageId"`
	Status            JobStatus `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
}
