package service

import (
	"context"
	"testing"
	"time"

	"wacampaign/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGovernorRollingWindow(t *testing.T) {
	g := NewGovernor(testLogger())
	base := time.Now()

	// Probe once per second for three minutes and record every approval.
	var approvals []time.Time
	for i := 0; i < 180; i++ {
		at := base.Add(time.Duration(i) * time.Second)
		if g.AllowAt("tenant-1", 10, at) {
			approvals = append(approvals, at)
		}
	}
	require.NotEmpty(t, approvals)

	// No rolling sixty second span may admit more than ten sends.
	for i := range approvals {
		count := 0
		for j := i; j < len(approvals); j++ {
			if approvals[j].Sub(approvals[i]) < time.Minute {
				count++
			}
		}
		assert.LessOrEqual(t, count, 10, "window starting at approval %d", i)
	}
}

func TestGovernorBurstIsOne(t *testing.T) {
	g := NewGovernor(testLogger())
	base := time.Now()

	assert.True(t, g.AllowAt("tenant-1", 10, base))
	assert.False(t, g.AllowAt("tenant-1", 10, base), "no burst at the same instant")
	assert.False(t, g.AllowAt("tenant-1", 10, base.Add(time.Second)))
	assert.True(t, g.AllowAt("tenant-1", 10, base.Add(6*time.Second)), "token refilled after minute/N")
}

func TestGovernorTenantsAreIndependent(t *testing.T) {
	g := NewGovernor(testLogger())
	base := time.Now()

	assert.True(t, g.AllowAt("tenant-1", 10, base))
	assert.True(t, g.AllowAt("tenant-2", 10, base))
}

func TestGovernorAcquireRespectsContext(t *testing.T) {
	g := NewGovernor(testLogger())

	// Drain the only token, then cancel while waiting for the next.
	require.NoError(t, g.Acquire(context.Background(), "tenant-1", 1))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.Acquire(ctx, "tenant-1", 1)
	assert.Error(t, err)
}

func TestGateStepSendWindow(t *testing.T) {
	g := NewGovernor(testLogger())
	seq := &models.Sequence{
		MaxMessagesPerDay: 0,
		SendWindow:        models.SendWindow{Start: "09:00", End: "18:00", Timezone: "UTC"},
	}

	inside := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	allowed, _ := g.GateStep(seq, 0, inside)
	assert.True(t, allowed)

	before := time.Date(2026, 3, 10, 7, 30, 0, 0, time.UTC)
	allowed, retryAt := g.GateStep(seq, 0, before)
	assert.False(t, allowed)
	assert.Equal(t, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC), retryAt)

	after := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)
	allowed, retryAt = g.GateStep(seq, 0, after)
	assert.False(t, allowed)
	assert.Equal(t, time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), retryAt)

	boundary := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)
	allowed, _ = g.GateStep(seq, 0, boundary)
	assert.False(t, allowed, "window end is exclusive")
}

func TestGateStepOvernightWindow(t *testing.T) {
	g := NewGovernor(testLogger())
	seq := &models.Sequence{
		SendWindow: models.SendWindow{Start: "22:00", End: "06:00", Timezone: "UTC"},
	}

	evening := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	allowed, _ := g.GateStep(seq, 0, evening)
	assert.True(t, allowed, "late evening is inside the overnight window")

	smallHours := time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC)
	allowed, _ = g.GateStep(seq, 0, smallHours)
	assert.True(t, allowed, "after midnight is still inside")

	midday := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	allowed, retryAt := g.GateStep(seq, 0, midday)
	assert.False(t, allowed)
	assert.Equal(t, time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC), retryAt)

	// The reschedule instant itself must be admitted, or the step would be
	// deferred every day without ever running.
	allowed, _ = g.GateStep(seq, 0, retryAt)
	assert.True(t, allowed, "window reopening admits the rescheduled step")

	boundary := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	allowed, retryAt = g.GateStep(seq, 0, boundary)
	assert.False(t, allowed, "window end is exclusive")
	assert.Equal(t, time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC), retryAt)
}

func TestClipToWindowOvernight(t *testing.T) {
	window := models.SendWindow{Start: "22:00", End: "06:00", Timezone: "UTC"}

	night := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, night, ClipToWindow(window, night))

	dawn := time.Date(2026, 3, 11, 5, 0, 0, 0, time.UTC)
	assert.Equal(t, dawn, ClipToWindow(window, dawn))

	midday := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC), ClipToWindow(window, midday))
}

func TestGateStepDailyCap(t *testing.T) {
	g := NewGovernor(testLogger())
	seq := &models.Sequence{
		MaxMessagesPerDay: 2,
		SendWindow:        models.SendWindow{Timezone: "UTC"},
	}

	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	allowed, _ := g.GateStep(seq, 1, now)
	assert.True(t, allowed, "below cap")

	allowed, retryAt := g.GateStep(seq, 2, now)
	assert.False(t, allowed, "cap reached")
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), retryAt)
}

func TestGateStepDailyCapClipsToWindow(t *testing.T) {
	g := NewGovernor(testLogger())
	seq := &models.Sequence{
		MaxMessagesPerDay: 1,
		SendWindow:        models.SendWindow{Start: "09:00", End: "18:00", Timezone: "UTC"},
	}

	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	allowed, retryAt := g.GateStep(seq, 1, now)
	assert.False(t, allowed)
	assert.Equal(t, time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), retryAt,
		"capped step resumes at the next day's window opening")
}

func TestClipToWindow(t *testing.T) {
	window := models.SendWindow{Start: "09:00", End: "18:00", Timezone: "UTC"}

	inside := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, inside, ClipToWindow(window, inside))

	early := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC), ClipToWindow(window, early))

	late := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), ClipToWindow(window, late))

	assert.Equal(t, late, ClipToWindow(models.SendWindow{}, late), "disabled window never clips")
}

func TestLocalMidnight(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), LocalMidnight("UTC", now))
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), LocalMidnight("", now), "empty timezone falls back to UTC")
}
