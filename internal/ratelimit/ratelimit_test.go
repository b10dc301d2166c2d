package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew_DefaultsMinIntervalAndWindow(t *testing.T) {
	l := New()
	assert.Equal(t, minInterval, l.minInterval)
	assert.Equal(t, defaultWindow, l.window)
	assert.Equal(t, defaultWindowApprovals, l.windowApproved)
}

func TestWithMinInterval_ClampsToFloor(t *testing.T) {
	l := New(WithMinInterval(10 * time.Millisecond))
	assert.Equal(t, minInterval, l.minInterval)
}

func TestWithMinInterval_AcceptsLargerValue(t *testing.T) {
	l := New(WithMinInterval(2 * time.Second))
	assert.Equal(t, 2*time.Second, l.minInterval)
}

func TestWithWindow_OverridesWindowAndApprovals(t *testing.T) {
	l := New(WithWindow(time.Second, 3))
	assert.Equal(t, time.Second, l.window)
	assert.Equal(t, 3, l.windowApproved)
}

func TestWaitIfNeeded_FirstCallApprovesImmediately(t *testing.T) {
	l := New(WithMinInterval(0))
	start := time.Now()
	err := l.WaitIfNeeded(context.Background())
	assert.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWaitIfNeeded_EnforcesMinInterval(t *testing.T) {
	l := New(WithMinInterval(50 * time.Millisecond))
	ctx := context.Background()
	assert.NoError(t, l.WaitIfNeeded(ctx))

	start := time.Now()
	assert.NoError(t, l.WaitIfNeeded(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestWaitIfNeeded_EnforcesSlidingWindowCap(t *testing.T) {
	l := New(WithWindow(100*time.Millisecond, 2))
	l.minInterval = 0 // WithMinInterval clamps to 500ms; zero it so only the window cap can delay
	ctx := context.Background()

	assert.NoError(t, l.WaitIfNeeded(ctx))
	assert.NoError(t, l.WaitIfNeeded(ctx))

	start := time.Now()
	assert.NoError(t, l.WaitIfNeeded(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestWaitIfNeeded_RespectsContextCancellation(t *testing.T) {
	l := New(WithMinInterval(time.Hour))
	ctx := context.Background()
	assert.NoError(t, l.WaitIfNeeded(ctx))

	cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := l.WaitIfNeeded(cancelCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDropExpired_RemovesOnlyStaleTimestamps(t *testing.T) {
	l := New(WithWindow(50*time.Millisecond, 10))
	now := time.Now()
	l.timestamps = []time.Time{now.Add(-time.Second), now.Add(-10 * time.Millisecond)}

	l.dropExpired(now)

	assert.Len(t, l.timestamps, 1)
}
