package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// StaleJobCounter counts jobs stuck in sent without a delivery receipt.
type StaleJobCounter interface {
	GetStaleSentCount(ctx context.Context, threshold time.Duration) (int, error)
}

// DeliveryMonitor periodically warns about jobs whose provider never
// confirmed delivery. It changes no state; stale jobs usually mean the
// status webhook is broken or the provider dropped the receipt.
type DeliveryMonitor struct {
	store     StaleJobCounter
	threshold time.Duration
	interval  time.Duration
	logger    *logrus.Logger
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewDeliveryMonitor creates a stale delivery monitor.
func NewDeliveryMonitor(store StaleJobCounter, threshold, interval time.Duration, logger *logrus.Logger) *DeliveryMonitor {
	return &DeliveryMonitor{
		store:     store,
		threshold: threshold,
		interval:  interval,
		logger:    logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start runs the check loop.
func (m *DeliveryMonitor) Start(ctx context.Context) {
	go func() {
		defer close(m.doneCh)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.check(ctx)
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the check loop.
func (m *DeliveryMonitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *DeliveryMonitor) check(ctx context.Context) {
	count, err := m.store.GetStaleSentCount(ctx, m.threshold)
	if err != nil {
		m.logger.WithError(err).Error("Failed to count stale sent jobs")
		return
	}
	if count > 0 {
		m.logger.WithFields(logrus.Fields{
			"count":     count,
			"threshold": m.threshold,
		}).Warn("Jobs without delivery confirmation past threshold")
	}
}
