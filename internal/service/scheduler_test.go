package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"wacampaign/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTickHarness(t *testing.T) (*broadcastHarness, *SequenceService) {
	t.Helper()
	h := newBroadcastHarness(t, testLeads(1))
	sequences := NewSequenceService(h.db, &stubLeadStore{leads: testLeads(1)},
		NewGovernor(testLogger()), h.dispatcher, h.clock, 6000, "91", testLogger())
	return h, sequences
}

func TestSchedulerStartStop(t *testing.T) {
	h, sequences := newTickHarness(t)
	s := NewScheduler(sequences, h.service, h.dispatcher, 10*time.Millisecond, testLogger())

	s.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	s.Stop()
}

func TestSchedulerStopIsPrompt(t *testing.T) {
	h, sequences := newTickHarness(t)
	s := NewScheduler(sequences, h.service, h.dispatcher, time.Hour, testLogger())

	s.Start(context.Background())
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop promptly")
	}
}

func TestSchedulerTickDrivesBothEngines(t *testing.T) {
	h, sequences := newTickHarness(t)

	ctx := context.Background()
	seq, err := sequences.CreateSequence(ctx, threeStepSequence())
	require.NoError(t, err)
	_, err = sequences.EnrollLead(ctx, "tenant-1", seq.ID, "lead-0")
	require.NoError(t, err)

	future := h.clock.Now().Add(time.Minute)
	scheduled := draftBroadcast(6000)
	scheduled.ScheduledAt = &future
	created, err := h.service.CreateBroadcast(ctx, scheduled)
	require.NoError(t, err)

	h.clock.Advance(2 * time.Minute)
	s := NewScheduler(sequences, h.service, h.dispatcher, time.Hour, testLogger())
	s.RunTick(ctx)

	waitFor(t, 5*time.Second, func() bool { return len(h.adapter.sentPhones()) >= 2 })
	waitFor(t, 5*time.Second, func() bool {
		b, err := h.service.GetBroadcast(ctx, "tenant-1", created.ID)
		return err == nil && b.Status == models.BroadcastStatusSent
	})
}

func TestSchedulerTickRecoversStrandedJobs(t *testing.T) {
	h, sequences := newTickHarness(t)
	ctx := context.Background()

	// A pending row with no queue entry, as left behind by a restart.
	job := makeJob("919876543210")
	job.CreatedAt = h.clock.Now().UTC().Add(-time.Hour)
	require.NoError(t, h.db.SaveJob(ctx, job))

	s := NewScheduler(sequences, h.service, h.dispatcher, time.Hour, testLogger())
	s.RunTick(ctx)

	waitFor(t, 5*time.Second, func() bool { return len(h.adapter.sentPhones()) == 1 })
	stored, err := h.db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSent, stored.Status)
}

type stubStaleCounter struct {
	count int32
	calls int32
}

func (s *stubStaleCounter) GetStaleSentCount(ctx context.Context, threshold time.Duration) (int, error) {
	atomic.AddInt32(&s.calls, 1)
	return int(atomic.LoadInt32(&s.count)), nil
}

func TestDeliveryMonitorChecksPeriodically(t *testing.T) {
	counter := &stubStaleCounter{count: 3}
	m := NewDeliveryMonitor(counter, time.Hour, 10*time.Millisecond, testLogger())

	m.Start(context.Background())
	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&counter.calls) >= 2 })
	m.Stop()

	calls := atomic.LoadInt32(&counter.calls)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, atomic.LoadInt32(&counter.calls), "no checks after stop")
}
