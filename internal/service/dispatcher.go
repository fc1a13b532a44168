package service

import (
	"context"
	"sync"
	"time"

	"wacampaign/internal/errors"
	"wacampaign/internal/models"
	"wacampaign/internal/privacy"
	"wacampaign/internal/retry"
	"wacampaign/internal/tracing"
	"wacampaign/pkg/circuitbreaker"
	"wacampaign/pkg/whatsapp"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// ChannelAdapter submits one message to the delivery channel and returns the
// provider's message id.
type ChannelAdapter interface {
	Send(ctx context.Context, phone string, payload models.MessagePayload) (string, error)
}

// DispatchStore is the job persistence consumed by the dispatch workers.
type DispatchStore interface {
	SaveJob(ctx context.Context, j *models.MessageJob) error
	MarkJobSent(ctx context.Context, id, providerMessageID string, attempts int, at time.Time) (bool, error)
	MarkJobFailed(ctx context.Context, id string, class models.ErrorClass, detail string, attempts int, at time.Time) (bool, error)
	ListStalePendingJobs(ctx context.Context, cutoff time.Time, limit int) ([]*models.MessageJob, error)
}

// JobEventHandler receives job outcome events from the workers.
type JobEventHandler interface {
	HandleJobEvent(ctx context.Context, event models.JobEvent)
}

// DispatcherOptions sizes the queue, the pool and the retry policy.
type DispatcherOptions struct {
	Workers   int
	QueueSize int
	Backoff   retry.BackoffConfig
}

// Dispatcher owns the bounded job queue and the worker pool that drains it.
// Workers retry transient failures with exponential backoff, then settle the
// job as sent or failed and notify the tracker.
type Dispatcher struct {
	store   DispatchStore
	adapter ChannelAdapter
	breaker *circuitbreaker.CircuitBreaker
	backoff *retry.Backoff
	clock   Clock
	logger  *logrus.Logger

	handler JobEventHandler
	queue   chan *models.MessageJob
	workers int

	// inFlight tracks jobs sitting in the queue or being processed, so the
	// recovery pass cannot queue a job a second time.
	inFlightMu sync.Mutex
	inFlight   map[string]struct{}

	wg     sync.WaitGroup
	stopCh chan struct{}
}

const (
	// pendingRecoveryAge keeps the recovery pass away from jobs that are
	// still waiting in a live queue.
	pendingRecoveryAge   = 5 * time.Minute
	pendingRecoveryBatch = 100
)

// NewDispatcher creates a dispatcher. Start must be called before jobs flow.
func NewDispatcher(store DispatchStore, adapter ChannelAdapter, breaker *circuitbreaker.CircuitBreaker, clock Clock, opts DispatcherOptions, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		adapter:  adapter,
		breaker:  breaker,
		backoff:  retry.NewBackoff(opts.Backoff),
		clock:    clock,
		logger:   logger,
		queue:    make(chan *models.MessageJob, opts.QueueSize),
		workers:  opts.Workers,
		inFlight: make(map[string]struct{}),
		stopCh:   make(chan struct{}),
	}
}

// SetEventHandler wires the delivery tracker. Must be called before Start.
func (d *Dispatcher) SetEventHandler(handler JobEventHandler) {
	d.handler = handler
}

// Start launches the worker pool.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
	d.logger.WithField("workers", d.workers).Info("Dispatch workers started")
}

// Stop drains nothing: it signals the workers and waits for in-flight jobs
// to finish. Queued jobs stay pending in the database until a recovery pass
// picks them up.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	d.wg.Wait()
}

// Enqueue persists a pending job and hands it to the worker pool. Returns a
// QUEUE_FULL error instead of blocking when the bounded queue has no room.
func (d *Dispatcher) Enqueue(ctx context.Context, job *models.MessageJob) error {
	if job.Status != models.JobStatusPending {
		return errors.Newf(errors.ErrCodeValidationFailed, "cannot enqueue job in status %q", job.Status)
	}
	if err := d.store.SaveJob(ctx, job); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to persist job")
	}

	d.markInFlight(job.ID)
	select {
	case d.queue <- job:
		return nil
	case <-ctx.Done():
		d.clearInFlight(job.ID)
		return ctx.Err()
	case <-d.stopCh:
		d.clearInFlight(job.ID)
		return errors.New(errors.ErrCodeQueueFull, "dispatcher is shutting down")
	default:
		d.clearInFlight(job.ID)
		return errors.New(errors.ErrCodeQueueFull, "dispatch queue is full")
	}
}

// Recover re-enqueues jobs stranded in pending: saved while the queue was
// full, or queued when the process last stopped. Runs on every scheduler
// tick. Jobs younger than pendingRecoveryAge are left alone, and jobs still
// tracked in flight are skipped, so no job runs twice.
func (d *Dispatcher) Recover(ctx context.Context) error {
	cutoff := d.clock.Now().UTC().Add(-pendingRecoveryAge)
	jobs, err := d.store.ListStalePendingJobs(ctx, cutoff, pendingRecoveryBatch)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to list stranded jobs")
	}

	requeued := 0
	for _, job := range jobs {
		if !d.markInFlight(job.ID) {
			continue
		}
		select {
		case d.queue <- job:
			requeued++
		default:
			d.clearInFlight(job.ID)
			d.logger.WithField("stranded", len(jobs)-requeued).Warn("Dispatch queue full during pending job recovery")
			return nil
		}
	}
	if requeued > 0 {
		d.logger.WithField("requeued", requeued).Info("Requeued stranded pending jobs")
	}
	return nil
}

// markInFlight reports false when the job is already queued or processing.
func (d *Dispatcher) markInFlight(id string) bool {
	d.inFlightMu.Lock()
	defer d.inFlightMu.Unlock()
	if _, ok := d.inFlight[id]; ok {
		return false
	}
	d.inFlight[id] = struct{}{}
	return true
}

func (d *Dispatcher) clearInFlight(id string) {
	d.inFlightMu.Lock()
	defer d.inFlightMu.Unlock()
	delete(d.inFlight, id)
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()

	for {
		// Fast exit so a stop signal beats a full queue.
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		select {
		case job := <-d.queue:
			d.process(ctx, job)
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, job *models.MessageJob) {
	defer d.clearInFlight(job.ID)

	spanCtx, span := tracing.StartSpan(ctx, "dispatch.send",
		attribute.String("job.id", job.ID),
		attribute.String("job.origin_type", string(job.OriginType)),
	)
	defer span.End()

	var (
		providerMessageID string
		attempts          int
	)
	err := d.backoff.RetryWithPredicate(spanCtx, func() error {
		attempts++
		return d.breaker.Execute(spanCtx, func(ctx context.Context) error {
			id, sendErr := d.adapter.Send(ctx, job.Phone, job.Payload)
			if sendErr != nil {
				return sendErr
			}
			providerMessageID = id
			return nil
		})
	}, func(err error) bool {
		return whatsapp.ClassOf(err).Retryable()
	})

	now := d.clock.Now().UTC()
	if err != nil {
		d.settleFailed(spanCtx, job, err, attempts, now)
		return
	}
	d.settleSent(spanCtx, job, providerMessageID, attempts, now)
}

func (d *Dispatcher) settleSent(ctx context.Context, job *models.MessageJob, providerMessageID string, attempts int, at time.Time) {
	applied, err := d.store.MarkJobSent(ctx, job.ID, providerMessageID, attempts, at)
	if err != nil {
		d.logger.WithError(err).WithField("job_id", job.ID).Error("Failed to record sent job")
		return
	}
	if !applied {
		d.logger.WithField("job_id", job.ID).Warn("Sent job was not in pending status, ignoring")
		return
	}

	d.logger.WithFields(logrus.Fields{
		"job_id":      job.ID,
		"provider_id": privacy.MaskProviderMessageID(providerMessageID),
		"phone":       privacy.MaskPhoneNumber(job.Phone),
		"attempts":    attempts,
	}).Info("Message submitted to provider")

	d.publish(ctx, models.JobEvent{
		JobID:             job.ID,
		TenantID:          job.TenantID,
		OriginType:        job.OriginType,
		OriginID:          job.OriginID,
		Status:            models.JobStatusSent,
		ProviderMessageID: providerMessageID,
		Timestamp:         at,
	})
}

func (d *Dispatcher) settleFailed(ctx context.Context, job *models.MessageJob, sendErr error, attempts int, at time.Time) {
	tracing.RecordError(ctx, sendErr)
	class := whatsapp.ClassOf(sendErr)

	applied, err := d.store.MarkJobFailed(ctx, job.ID, class, sendErr.Error(), attempts, at)
	if err != nil {
		d.logger.WithError(err).WithField("job_id", job.ID).Error("Failed to record failed job")
		return
	}
	if !applied {
		d.logger.WithField("job_id", job.ID).Warn("Failed job was already terminal, ignoring")
		return
	}

	d.logger.WithFields(logrus.Fields{
		"job_id":      job.ID,
		"phone":       privacy.MaskPhoneNumber(job.Phone),
		"error_class": class,
		"attempts":    attempts,
	}).WithError(sendErr).Warn("Message dispatch failed")

	d.publish(ctx, models.JobEvent{
		JobID:       job.ID,
		TenantID:    job.TenantID,
		OriginType:  job.OriginType,
		OriginID:    job.OriginID,
		Status:      models.JobStatusFailed,
		ErrorClass:  class,
		ErrorDetail: sendErr.Error(),
		Timestamp:   at,
	})
}

func (d *Dispatcher) publish(ctx context.Context, event models.JobEvent) {
	if d.handler != nil {
		d.handler.HandleJobEvent(ctx, event)
	}
}
