package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"wacampaign/internal/constants"
	"wacampaign/internal/errors"
	"wacampaign/internal/models"
	"wacampaign/internal/validation"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// BroadcastStore is the broadcast persistence consumed by the engine.
type BroadcastStore interface {
	SaveBroadcast(ctx context.Context, b *models.Broadcast) error
	GetBroadcast(ctx context.Context, tenantID, id string) (*models.Broadcast, error)
	ListBroadcasts(ctx context.Context, tenantID string) ([]*models.Broadcast, error)
	ListDueScheduledBroadcasts(ctx context.Context, now time.Time) ([]*models.Broadcast, error)
	TransitionBroadcastStatus(ctx context.Context, tenantID, id string, from []models.BroadcastStatus, to models.BroadcastStatus) (bool, error)
	BeginBroadcastDispatch(ctx context.Context, tenantID, id string, recipientCount int) (bool, error)
	GetOriginStats(ctx context.Context, originType models.OriginType, originID string) (models.JobStats, error)
}

// BroadcastService runs one-time bulk sends. Dispatch is asynchronous: Send
// freezes the audience, moves the broadcast to sending and returns while a
// goroutine feeds the rate-governed queue batch by batch.
type BroadcastService struct {
	store      BroadcastStore
	resolver   *Resolver
	governor   *Governor
	dispatcher *Dispatcher
	clock      Clock
	logger     *logrus.Logger

	mu        sync.Mutex
	cancelled map[string]*atomic.Bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewBroadcastService creates a broadcast engine.
func NewBroadcastService(store BroadcastStore, resolver *Resolver, governor *Governor, dispatcher *Dispatcher, clock Clock, logger *logrus.Logger) *BroadcastService {
	ctx, cancel := context.WithCancel(context.Background())
	return &BroadcastService{
		store:      store,
		resolver:   resolver,
		governor:   governor,
		dispatcher: dispatcher,
		clock:      clock,
		logger:     logger,
		cancelled:  make(map[string]*atomic.Bool),
		baseCtx:    ctx,
		cancel:     cancel,
	}
}

// Stop aborts in-flight dispatch loops and waits for them to return.
func (s *BroadcastService) Stop() {
	s.cancel()
	s.wg.Wait()
}

// CreateBroadcast validates and stores a new broadcast. A future scheduled_at
// puts it in scheduled; otherwise it starts as a draft.
func (s *BroadcastService) CreateBroadcast(ctx context.Context, b *models.Broadcast) (*models.Broadcast, error) {
	if b.TenantID == "" {
		return nil, errors.New(errors.ErrCodeValidationFailed, "broadcast requires a tenant id")
	}
	if b.Name == "" {
		return nil, errors.New(errors.ErrCodeValidationFailed, "broadcast requires a name")
	}
	if err := validation.ValidatePayload(b.Payload); err != nil {
		return nil, err
	}
	if err := validation.ValidateRecipientSpec(b.RecipientSpec); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	if b.MessagesPerMinute <= 0 {
		b.MessagesPerMinute = constants.DefaultBroadcastMessagesPerMinute
	}
	if b.BatchSize <= 0 {
		b.BatchSize = constants.DefaultBroadcastBatchSize
	}

	b.Status = models.BroadcastStatusDraft
	if b.ScheduledAt != nil {
		if !b.ScheduledAt.After(now) {
			return nil, errors.New(errors.ErrCodeValidationFailed, "scheduled_at must be in the future")
		}
		b.Status = models.BroadcastStatusScheduled
	}

	b.ID = uuid.New().String()
	b.RecipientCount = 0
	b.CreatedAt = now
	b.UpdatedAt = now
	if err := s.store.SaveBroadcast(ctx, b); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to save broadcast")
	}

	s.logger.WithFields(logrus.Fields{
		"broadcast_id": b.ID,
		"status":       b.Status,
	}).Info("Broadcast created")
	return b, nil
}

// GetBroadcast returns one broadcast.
func (s *BroadcastService) GetBroadcast(ctx context.Context, tenantID, id string) (*models.Broadcast, error) {
	b, err := s.store.GetBroadcast(ctx, tenantID, id)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to load broadcast")
	}
	if b == nil {
		return nil, errors.New(errors.ErrCodeNotFound, "broadcast not found")
	}
	return b, nil
}

// ListBroadcasts returns a tenant's broadcasts, newest first.
func (s *BroadcastService) ListBroadcasts(ctx context.Context, tenantID string) ([]*models.Broadcast, error) {
	return s.store.ListBroadcasts(ctx, tenantID)
}

// GetStats returns a broadcast together with its job status counts.
func (s *BroadcastService) GetStats(ctx context.Context, tenantID, id string) (*models.Broadcast, models.JobStats, error) {
	b, err := s.GetBroadcast(ctx, tenantID, id)
	if err != nil {
		return nil, models.JobStats{}, err
	}
	stats, err := s.store.GetOriginStats(ctx, models.OriginBroadcast, id)
	if err != nil {
		return nil, models.JobStats{}, errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to load broadcast stats")
	}
	return b, stats, nil
}

// Send resolves the audience, freezes it and starts dispatch. The guarded
// transition to sending makes concurrent Send calls on the same broadcast
// collapse to one winner; the loser gets a CONFLICT error.
func (s *BroadcastService) Send(ctx context.Context, tenantID, id string) error {
	b, err := s.GetBroadcast(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if b.Status != models.BroadcastStatusDraft && b.Status != models.BroadcastStatusScheduled {
		return errors.Newf(errors.ErrCodeConflict, "broadcast is %s, only draft or scheduled broadcasts can be sent", b.Status)
	}

	recipients, err := s.resolver.Resolve(ctx, tenantID, b.RecipientSpec)
	if err != nil {
		return err
	}

	began, err := s.store.BeginBroadcastDispatch(ctx, tenantID, id, len(recipients))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to begin dispatch")
	}
	if !began {
		return errors.New(errors.ErrCodeConflict, "broadcast dispatch already started")
	}

	if len(recipients) == 0 {
		if _, err := s.store.TransitionBroadcastStatus(ctx, tenantID, id,
			[]models.BroadcastStatus{models.BroadcastStatusSending}, models.BroadcastStatusSent); err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to complete empty broadcast")
		}
		s.logger.WithField("broadcast_id", id).Info("Broadcast resolved to an empty audience, marked sent")
		return nil
	}

	flag := &atomic.Bool{}
	s.mu.Lock()
	s.cancelled[id] = flag
	s.mu.Unlock()

	b.MessagesPerMinute = maxInt(b.MessagesPerMinute, 1)
	s.logger.WithFields(logrus.Fields{
		"broadcast_id":        id,
		"recipients":          len(recipients),
		"messages_per_minute": b.MessagesPerMinute,
	}).Info("Broadcast dispatch started")

	s.wg.Add(1)
	go s.dispatch(b, recipients, flag)
	return nil
}

func (s *BroadcastService) dispatch(b *models.Broadcast, recipients []models.Recipient, flag *atomic.Bool) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.cancelled, b.ID)
		s.mu.Unlock()
	}()

	ctx := s.baseCtx
	batchSize := maxInt(b.BatchSize, 1)

loop:
	for start := 0; start < len(recipients); start += batchSize {
		end := minInt(start+batchSize, len(recipients))
		for _, recipient := range recipients[start:end] {
			if flag.Load() {
				break loop
			}
			if err := s.governor.Acquire(ctx, b.TenantID, b.MessagesPerMinute); err != nil {
				return
			}
			// Re-check after the wait so a cancel during pacing stops
			// the very next message.
			if flag.Load() {
				break loop
			}

			now := s.clock.Now().UTC()
			job := &models.MessageJob{
				ID:          uuid.New().String(),
				TenantID:    b.TenantID,
				RecipientID: recipient.ID,
				Phone:       recipient.Phone,
				Payload:     b.Payload,
				OriginType:  models.OriginBroadcast,
				OriginID:    b.ID,
				Status:      models.JobStatusPending,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := s.dispatcher.Enqueue(ctx, job); err != nil {
				s.logger.WithError(err).WithFields(logrus.Fields{
					"broadcast_id": b.ID,
					"recipient_id": recipient.ID,
				}).Error("Failed to enqueue broadcast job")
			}
		}
	}

	s.CheckCompletion(ctx, b.TenantID, b.ID)
}

// CheckCompletion moves a sending broadcast to sent once every resolved
// recipient has a job and none of them is still pending. Failed jobs do not
// block completion; a message that will never reach its target is still a
// settled outcome.
func (s *BroadcastService) CheckCompletion(ctx context.Context, tenantID, id string) {
	b, err := s.store.GetBroadcast(ctx, tenantID, id)
	if err != nil || b == nil || b.Status != models.BroadcastStatusSending {
		return
	}
	stats, err := s.store.GetOriginStats(ctx, models.OriginBroadcast, id)
	if err != nil {
		s.logger.WithError(err).WithField("broadcast_id", id).Error("Failed to check broadcast completion")
		return
	}
	if stats.Total() < b.RecipientCount || !stats.Settled() {
		return
	}

	moved, err := s.store.TransitionBroadcastStatus(ctx, tenantID, id,
		[]models.BroadcastStatus{models.BroadcastStatusSending}, models.BroadcastStatusSent)
	if err != nil {
		s.logger.WithError(err).WithField("broadcast_id", id).Error("Failed to mark broadcast sent")
		return
	}
	if moved {
		s.logger.WithFields(logrus.Fields{
			"broadcast_id": id,
			"sent":         stats.Sent + stats.Delivered + stats.Read,
			"failed":       stats.Failed,
		}).Info("Broadcast completed")
	}
}

// HandleOriginSettled is the tracker callback: any broadcast job leaving
// pending may have been the last one.
func (s *BroadcastService) HandleOriginSettled(ctx context.Context, originType models.OriginType, originID, tenantID string) {
	if originType != models.OriginBroadcast {
		return
	}
	s.CheckCompletion(ctx, tenantID, originID)
}

// Cancel stops a scheduled or in-flight broadcast. Messages already handed
// to the provider stay out; messages not yet enqueued are skipped. Delivery
// updates for in-flight jobs keep arriving after cancellation.
func (s *BroadcastService) Cancel(ctx context.Context, tenantID, id string) (*models.CancelReport, error) {
	b, err := s.GetBroadcast(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BroadcastStatusScheduled && b.Status != models.BroadcastStatusSending {
		return nil, errors.Newf(errors.ErrCodeConflict, "broadcast is %s, only scheduled or sending broadcasts can be cancelled", b.Status)
	}

	s.mu.Lock()
	if flag, ok := s.cancelled[id]; ok {
		flag.Store(true)
	}
	s.mu.Unlock()

	moved, err := s.store.TransitionBroadcastStatus(ctx, tenantID, id,
		[]models.BroadcastStatus{models.BroadcastStatusScheduled, models.BroadcastStatusSending}, models.BroadcastStatusCancelled)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to cancel broadcast")
	}
	if !moved {
		return nil, errors.New(errors.ErrCodeConflict, "broadcast state changed concurrently")
	}

	stats, err := s.store.GetOriginStats(ctx, models.OriginBroadcast, id)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to load cancellation stats")
	}
	report := &models.CancelReport{
		Sent:    stats.Sent + stats.Delivered + stats.Read,
		Failed:  stats.Failed,
		Skipped: maxInt(b.RecipientCount-stats.Total(), 0),
	}
	s.logger.WithFields(logrus.Fields{
		"broadcast_id": id,
		"sent":         report.Sent,
		"failed":       report.Failed,
		"skipped":      report.Skipped,
	}).Info("Broadcast cancelled")
	return report, nil
}

// TickScheduled launches every scheduled broadcast whose time has come.
func (s *BroadcastService) TickScheduled(ctx context.Context) {
	now := s.clock.Now().UTC()
	due, err := s.store.ListDueScheduledBroadcasts(ctx, now)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list due scheduled broadcasts")
		return
	}
	for _, b := range due {
		if err := s.Send(ctx, b.TenantID, b.ID); err != nil {
			// A concurrent tick may have won the transition; that is fine.
			if errors.HasCode(err, errors.ErrCodeConflict) {
				continue
			}
			s.logger.WithError(err).WithField("broadcast_id", b.ID).Error("Failed to launch scheduled broadcast")
		}
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
