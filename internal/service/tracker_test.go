package service

import (
	"context"
	"testing"
	"time"

	"wacampaign/internal/database"
	"wacampaign/internal/errors"
	"wacampaign/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSentJob(t *testing.T, db *database.Database, providerID string) *models.MessageJob {
	t.Helper()
	job := makeJob("919876543210")
	require.NoError(t, db.SaveJob(context.Background(), job))
	applied, err := db.MarkJobSent(context.Background(), job.ID, providerID, 1, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, applied)
	return job
}

func TestTrackerAppliesDeliveryProgression(t *testing.T) {
	db := testDB(t)
	tr := NewTracker(db, testLogger())
	job := seedSentJob(t, db, "wamid-1")

	now := time.Now().UTC()
	require.NoError(t, tr.HandleProviderStatus(context.Background(), models.ProviderStatusUpdate{
		ProviderMessageID: "wamid-1",
		Status:            models.JobStatusDelivered,
		Timestamp:         now,
	}))
	require.NoError(t, tr.HandleProviderStatus(context.Background(), models.ProviderStatusUpdate{
		ProviderMessageID: "wamid-1",
		Status:            models.JobStatusRead,
		Timestamp:         now.Add(time.Minute),
	}))

	stored, err := db.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRead, stored.Status)
	assert.NotNil(t, stored.DeliveredAt)
	assert.NotNil(t, stored.ReadAt)
}

func TestTrackerIgnoresDuplicateUpdates(t *testing.T) {
	db := testDB(t)
	tr := NewTracker(db, testLogger())
	job := seedSentJob(t, db, "wamid-1")

	update := models.ProviderStatusUpdate{
		ProviderMessageID: "wamid-1",
		Status:            models.JobStatusDelivered,
		Timestamp:         time.Now().UTC(),
	}
	require.NoError(t, tr.HandleProviderStatus(context.Background(), update))
	require.NoError(t, tr.HandleProviderStatus(context.Background(), update), "duplicate is dropped, not an error")

	stored, err := db.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDelivered, stored.Status)
}

func TestTrackerIgnoresOutOfOrderUpdates(t *testing.T) {
	db := testDB(t)
	tr := NewTracker(db, testLogger())
	job := seedSentJob(t, db, "wamid-1")

	now := time.Now().UTC()
	require.NoError(t, tr.HandleProviderStatus(context.Background(), models.ProviderStatusUpdate{
		ProviderMessageID: "wamid-1",
		Status:            models.JobStatusRead,
		Timestamp:         now,
	}))
	// The delivered receipt arrives late; the job must not move backwards.
	require.NoError(t, tr.HandleProviderStatus(context.Background(), models.ProviderStatusUpdate{
		ProviderMessageID: "wamid-1",
		Status:            models.JobStatusDelivered,
		Timestamp:         now.Add(-time.Minute),
	}))

	stored, err := db.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRead, stored.Status)
}

func TestTrackerReadJobCannotFail(t *testing.T) {
	db := testDB(t)
	tr := NewTracker(db, testLogger())
	job := seedSentJob(t, db, "wamid-1")

	now := time.Now().UTC()
	require.NoError(t, tr.HandleProviderStatus(context.Background(), models.ProviderStatusUpdate{
		ProviderMessageID: "wamid-1",
		Status:            models.JobStatusRead,
		Timestamp:         now,
	}))
	require.NoError(t, tr.HandleProviderStatus(context.Background(), models.ProviderStatusUpdate{
		ProviderMessageID: "wamid-1",
		Status:            models.JobStatusFailed,
		Timestamp:         now.Add(time.Second),
	}))

	stored, err := db.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRead, stored.Status, "terminal status is final")
}

func TestTrackerUnknownProviderID(t *testing.T) {
	db := testDB(t)
	tr := NewTracker(db, testLogger())

	err := tr.HandleProviderStatus(context.Background(), models.ProviderStatusUpdate{
		ProviderMessageID: "wamid-unknown",
		Status:            models.JobStatusDelivered,
		Timestamp:         time.Now().UTC(),
	})
	assert.NoError(t, err, "unknown ids are logged and dropped")
}

func TestTrackerRejectsInvalidPushedStatus(t *testing.T) {
	db := testDB(t)
	tr := NewTracker(db, testLogger())

	err := tr.HandleProviderStatus(context.Background(), models.ProviderStatusUpdate{
		ProviderMessageID: "wamid-1",
		Status:            models.JobStatusPending,
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidationFailed, errors.GetCode(err))
}

func TestTrackerStatsSumToTotal(t *testing.T) {
	db := testDB(t)
	tr := NewTracker(db, testLogger())

	ctx := context.Background()
	phones := []string{"919876543210", "919812345678", "919811111111"}
	for i, phone := range phones {
		job := makeJob(phone)
		require.NoError(t, db.SaveJob(ctx, job))
		if i == 0 {
			applied, err := db.MarkJobSent(ctx, job.ID, "wamid-0", 1, time.Now().UTC())
			require.NoError(t, err)
			require.True(t, applied)
		}
		if i == 1 {
			applied, err := db.MarkJobFailed(ctx, job.ID, models.ErrClassProviderRejected, "rejected", 1, time.Now().UTC())
			require.NoError(t, err)
			require.True(t, applied)
		}
	}

	stats, err := tr.GetStats(ctx, models.OriginBroadcast, "bcast-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 3, stats.Total())
	assert.False(t, stats.Settled())
}

func TestTrackerNotifiesOriginSettled(t *testing.T) {
	db := testDB(t)
	tr := NewTracker(db, testLogger())

	var gotOrigin string
	tr.SetOriginSettledFunc(func(ctx context.Context, originType models.OriginType, originID, tenantID string) {
		gotOrigin = originID
	})

	tr.HandleJobEvent(context.Background(), models.JobEvent{
		JobID:      "job-1",
		TenantID:   "tenant-1",
		OriginType: models.OriginBroadcast,
		OriginID:   "bcast-1",
		Status:     models.JobStatusSent,
	})
	assert.Equal(t, "bcast-1", gotOrigin)

	gotOrigin = ""
	tr.HandleJobEvent(context.Background(), models.JobEvent{
		OriginType: models.OriginEnrollment,
		OriginID:   "enr-1",
		Status:     models.JobStatusSent,
	})
	assert.Empty(t, gotOrigin, "enrollments have no completion check")
}
