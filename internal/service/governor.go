package service

import (
	"context"
	"sync"
	"time"

	"wacampaign/internal/models"
	"wacampaign/internal/validation"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Governor enforces the per-tenant minute budget shared by broadcasts and
// sequences, plus the per-sequence daily cap and send window.
//
// Each tenant gets one token bucket with burst 1 and tokens spaced evenly at
// minute/N, so at most N sends clear the gate in any rolling sixty seconds.
type Governor struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	logger  *logrus.Logger
}

// NewGovernor creates a rate governor.
func NewGovernor(logger *logrus.Logger) *Governor {
	return &Governor{
		buckets: make(map[string]*rate.Limiter),
		logger:  logger,
	}
}

func (g *Governor) limiter(tenantID string, perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	limit := rate.Every(time.Minute / time.Duration(perMinute))

	g.mu.Lock()
	defer g.mu.Unlock()

	lim, ok := g.buckets[tenantID]
	if !ok {
		lim = rate.NewLimiter(limit, 1)
		g.buckets[tenantID] = lim
		return lim
	}
	// A broadcast carries its own rate; retune the tenant bucket when the
	// requested pace changes.
	if lim.Limit() != limit {
		lim.SetLimit(limit)
	}
	return lim
}

// Acquire blocks until the tenant's minute budget admits one send, or the
// context is cancelled.
func (g *Governor) Acquire(ctx context.Context, tenantID string, perMinute int) error {
	return g.limiter(tenantID, perMinute).Wait(ctx)
}

// AllowAt reports whether one send would be admitted at the given instant
// without blocking. Used by tests to verify pacing deterministically.
func (g *Governor) AllowAt(tenantID string, perMinute int, t time.Time) bool {
	return g.limiter(tenantID, perMinute).AllowN(t, 1)
}

// GateStep evaluates the sequence-only throttles for a due step: the daily
// message cap and the tenant-local send window. When the step is blocked it
// returns the earliest instant at which it could run.
func (g *Governor) GateStep(seq *models.Sequence, sentToday int, now time.Time) (bool, time.Time) {
	loc := loadLocation(seq.SendWindow.Timezone)
	local := now.In(loc)

	if seq.MaxMessagesPerDay > 0 && sentToday >= seq.MaxMessagesPerDay {
		nextDay := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
		return false, ClipToWindow(seq.SendWindow, nextDay.UTC())
	}

	if !seq.SendWindow.Enabled() {
		return true, time.Time{}
	}
	if insideWindow(seq.SendWindow, local) {
		return true, time.Time{}
	}
	return false, nextWindowOpen(seq.SendWindow, local).UTC()
}

// ClipToWindow returns t unchanged when it falls inside the send window, or
// the next window opening otherwise. A disabled window never clips.
func ClipToWindow(w models.SendWindow, t time.Time) time.Time {
	if !w.Enabled() {
		return t
	}
	local := t.In(loadLocation(w.Timezone))
	if insideWindow(w, local) {
		return t
	}
	return nextWindowOpen(w, local).UTC()
}

// LocalMidnight returns the UTC instant at which the current tenant-local day
// began. Jobs created at or after it count against the daily cap.
func LocalMidnight(timezone string, now time.Time) time.Time {
	loc := loadLocation(timezone)
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).UTC()
}

func insideWindow(w models.SendWindow, local time.Time) bool {
	start, err := validation.ParseClock(w.Start)
	if err != nil {
		return true
	}
	end, err := validation.ParseClock(w.End)
	if err != nil {
		return true
	}
	minutes := local.Hour()*60 + local.Minute()
	// An end before the start wraps past midnight (22:00-06:00).
	if start > end {
		return minutes >= start || minutes < end
	}
	return minutes >= start && minutes < end
}

func nextWindowOpen(w models.SendWindow, local time.Time) time.Time {
	start, err := validation.ParseClock(w.Start)
	if err != nil {
		return local
	}
	open := time.Date(local.Year(), local.Month(), local.Day(), start/60, start%60, 0, 0, local.Location())
	if !local.Before(open) {
		open = open.AddDate(0, 0, 1)
	}
	return open
}
