package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusTransitions(t *testing.T) {
	tests := []struct {
		from    JobStatus
		to      JobStatus
		allowed bool
	}{
		{JobStatusPending, JobStatusSent, true},
		{JobStatusSent, JobStatusDelivered, true},
		{JobStatusDelivered, JobStatusRead, true},
		{JobStatusSent, JobStatusRead, true}, // skipped delivered receipt
		{JobStatusPending, JobStatusFailed, true},
		{JobStatusDelivered, JobStatusFailed, true},

		{JobStatusSent, JobStatusPending, false},
		{JobStatusDelivered, JobStatusSent, false},
		{JobStatusRead, JobStatusDelivered, false},
		{JobStatusRead, JobStatusFailed, false},
		{JobStatusFailed, JobStatusSent, false},
		{JobStatusSent, JobStatusSent, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestJobStatusTerminal(t *testing.T) {
	assert.True(t, JobStatusRead.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusSent.Terminal())
	assert.False(t, JobStatusDelivered.Terminal())
}

func TestPriorStatuses(t *testing.T) {
	assert.ElementsMatch(t,
		[]JobStatus{JobStatusPending, JobStatusSent},
		PriorStatuses(JobStatusDelivered))
	assert.ElementsMatch(t,
		[]JobStatus{JobStatusPending, JobStatusSent, JobStatusDelivered},
		PriorStatuses(JobStatusRead))
	assert.ElementsMatch(t,
		[]JobStatus{JobStatusPending, JobStatusSent, JobStatusDelivered},
		PriorStatuses(JobStatusFailed))
	assert.Empty(t, PriorStatuses(JobStatusPending), "nothing transitions into pending")
}

func TestErrorClassRetryable(t *testing.T) {
	assert.True(t, ErrClassTransientNetwork.Retryable())
	assert.True(t, ErrClassProviderRateLimited.Retryable())
	assert.False(t, ErrClassInvalidRecipient.Retryable())
	assert.False(t, ErrClassProviderRejected.Retryable())
}

func TestJobStatsTotalsAndSettled(t *testing.T) {
	stats := JobStats{Pending: 2, Sent: 3, Delivered: 1, Read: 1, Failed: 1}
	assert.Equal(t, 8, stats.Total())
	assert.False(t, stats.Settled())

	stats.Pending = 0
	assert.True(t, stats.Settled())
}
