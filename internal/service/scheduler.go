package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Scheduler drives the time-based engines: on every tick it dispatches due
// sequence steps, launches due scheduled broadcasts, and requeues stranded
// pending jobs.
type Scheduler struct {
	sequences  *SequenceService
	broadcasts *BroadcastService
	dispatcher *Dispatcher
	interval   time.Duration
	logger     *logrus.Logger
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// NewScheduler creates a scheduler ticking at the given interval.
func NewScheduler(sequences *SequenceService, broadcasts *BroadcastService, dispatcher *Dispatcher, interval time.Duration, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		sequences:  sequences,
		broadcasts: broadcasts,
		dispatcher: dispatcher,
		interval:   interval,
		logger:     logger,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start runs the tick loop until Stop is called or the context ends. An
// immediate first tick catches work that came due while the process was
// down.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		defer close(s.doneCh)

		s.logger.WithField("interval", s.interval).Info("Scheduler started")
		s.RunTick(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.RunTick(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the tick loop and waits for an in-progress tick to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.logger.Info("Scheduler stopped")
}

// RunTick performs one pass over due work.
func (s *Scheduler) RunTick(ctx context.Context) {
	s.sequences.Tick(ctx)
	s.broadcasts.TickScheduled(ctx)
	if err := s.dispatcher.Recover(ctx); err != nil {
		s.logger.WithError(err).Warn("Pending job recovery failed")
	}
}
