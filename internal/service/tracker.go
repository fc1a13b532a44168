package service

import (
	"context"
	"time"

	"wacampaign/internal/errors"
	"wacampaign/internal/models"
	"wacampaign/internal/privacy"

	"github.com/sirupsen/logrus"
)

// TrackerStore is the job persistence consumed by the delivery tracker.
type TrackerStore interface {
	GetJobByProviderID(ctx context.Context, providerMessageID string) (*models.MessageJob, error)
	ApplyJobStatus(ctx context.Context, id string, status models.JobStatus, at time.Time) (bool, error)
	GetOriginStats(ctx context.Context, originType models.OriginType, originID string) (models.JobStats, error)
}

// OriginSettledFunc is invoked when an origin may have no pending jobs left,
// so the broadcast engine can check for completion.
type OriginSettledFunc func(ctx context.Context, originType models.OriginType, originID, tenantID string)

// Tracker maintains per-job delivery state. Worker outcomes arrive as job
// events; provider delivery receipts arrive through the status webhook. Both
// paths funnel into guarded database transitions, so duplicates and
// out-of-order updates are rejected at the row level and only logged here.
type Tracker struct {
	store     TrackerStore
	logger    *logrus.Logger
	onSettled OriginSettledFunc
}

// NewTracker creates a delivery tracker.
func NewTracker(store TrackerStore, logger *logrus.Logger) *Tracker {
	return &Tracker{store: store, logger: logger}
}

// SetOriginSettledFunc wires the broadcast completion check.
func (t *Tracker) SetOriginSettledFunc(fn OriginSettledFunc) {
	t.onSettled = fn
}

// HandleJobEvent receives a worker outcome. The dispatcher already persisted
// the transition; the tracker's job is the origin-level bookkeeping.
func (t *Tracker) HandleJobEvent(ctx context.Context, event models.JobEvent) {
	t.logger.WithFields(logrus.Fields{
		"job_id":      event.JobID,
		"origin_type": event.OriginType,
		"status":      event.Status,
	}).Debug("Job event received")

	// Leaving pending may settle the origin.
	if t.onSettled != nil && event.OriginType == models.OriginBroadcast {
		t.onSettled(ctx, event.OriginType, event.OriginID, event.TenantID)
	}
}

// HandleProviderStatus applies a delivery status pushed by the provider.
// Unknown provider ids and updates that would move a job backwards are
// logged and dropped; the webhook caller always gets a 2xx for them so the
// provider does not redeliver.
func (t *Tracker) HandleProviderStatus(ctx context.Context, update models.ProviderStatusUpdate) error {
	if update.Status != models.JobStatusDelivered && update.Status != models.JobStatusRead && update.Status != models.JobStatusFailed {
		return errors.Newf(errors.ErrCodeValidationFailed, "provider cannot push status %q", update.Status)
	}

	job, err := t.store.GetJobByProviderID(ctx, update.ProviderMessageID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to look up job by provider id")
	}
	if job == nil {
		t.logger.WithField("provider_id", privacy.MaskProviderMessageID(update.ProviderMessageID)).
			Warn("Status update for unknown provider message id")
		return nil
	}

	at := update.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}
	applied, err := t.store.ApplyJobStatus(ctx, job.ID, update.Status, at)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to apply job status")
	}
	if !applied {
		t.logger.WithFields(logrus.Fields{
			"job_id":     job.ID,
			"job_status": job.Status,
			"pushed":     update.Status,
		}).Warn("Ignoring duplicate or out-of-order status update")
		return nil
	}

	t.logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"status": update.Status,
	}).Info("Delivery status updated")
	return nil
}

// GetStats returns the aggregate status counts for one origin.
func (t *Tracker) GetStats(ctx context.Context, originType models.OriginType, originID string) (models.JobStats, error) {
	return t.store.GetOriginStats(ctx, originType, originID)
}
