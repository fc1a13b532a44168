package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"wacampaign/internal/database"
	"wacampaign/internal/models"
	"wacampaign/internal/retry"
	"wacampaign/pkg/circuitbreaker"
	"wacampaign/pkg/whatsapp"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// fakeClock is a settable clock for schedule tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// fakeAdapter records sends and fails according to a per-phone script.
type fakeAdapter struct {
	mu       sync.Mutex
	sent     []string
	failWith map[string]error
	failOnce map[string]error
	nextID   int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		failWith: make(map[string]error),
		failOnce: make(map[string]error),
	}
}

func (a *fakeAdapter) Send(ctx context.Context, phone string, payload models.MessagePayload) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err, ok := a.failOnce[phone]; ok {
		delete(a.failOnce, phone)
		return "", err
	}
	if err, ok := a.failWith[phone]; ok {
		return "", err
	}
	a.nextID++
	id := fmt.Sprintf("wamid-%s-%d", phone, a.nextID)
	a.sent = append(a.sent, phone)
	return id, nil
}

func (a *fakeAdapter) sentPhones() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.sent))
	copy(out, a.sent)
	return out
}

func testDispatcher(t *testing.T, db *database.Database, adapter ChannelAdapter, clock Clock) *Dispatcher {
	t.Helper()
	logger := testLogger()
	breaker := circuitbreaker.New("test", 100, time.Second, logger)
	d := NewDispatcher(db, adapter, breaker, clock, DispatcherOptions{
		Workers:   2,
		QueueSize: 64,
		Backoff: retry.BackoffConfig{
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2.0,
			MaxAttempts:  4,
		},
	}, logger)
	return d
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Fail(t, "condition not met before timeout")
}

func transientErr() error {
	return &whatsapp.SendError{StatusCode: 503, Class: models.ErrClassTransientNetwork, Detail: "upstream unavailable"}
}

func invalidRecipientErr() error {
	return &whatsapp.SendError{StatusCode: 404, Class: models.ErrClassInvalidRecipient, Detail: "no whatsapp account"}
}
