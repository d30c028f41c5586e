package session

import (
	"context"
	"sync"
	"time"
)

// DefaultCheckpointEvery is the number of ticks between elapsed-time checkpoints.
const DefaultCheckpointEvery = 30

// RemainingSeconds reconciles the countdown from the immutable start time:
// clamp(duration - floor(now - startedAt), 0, duration).
func RemainingSeconds(startedAt time.Time, durationSeconds int, now time.Time) int {
	elapsed := int(now.Sub(startedAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := durationSeconds - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Timer is a countdown derived from wall-clock time. Remaining time is never
// stored; each read recomputes it from the start time, so reloads, throttled
// tabs and multiple devices all agree.
//
// Tick is meant to be driven by one goroutine (Run). The expiry callback is
// invoked once per expiry; if it fails the timer re-arms and tries again on the
// next tick.
type Timer struct {
	startedAt       time.Time
	durationSeconds int
	now             func() time.Time
	checkpointEvery int

	onCheckpoint func(ctx context.Context, elapsedSeconds int)
	onExpire     func(ctx context.Context) error

	ticks   int
	expired bool

	stopOnce sync.Once
	done     chan struct{}
}

// NewTimer creates a timer for an attempt started at startedAt.
func NewTimer(startedAt time.Time, durationSeconds int, now func() time.Time, checkpointEvery int) *Timer {
	if now == nil {
		now = time.Now
	}
	if checkpointEvery <= 0 {
		checkpointEvery = DefaultCheckpointEvery
	}
	return &Timer{
		startedAt:       startedAt,
		durationSeconds: durationSeconds,
		now:             now,
		checkpointEvery: checkpointEvery,
		done:            make(chan struct{}),
	}
}

// Remaining returns the reconciled remaining seconds.
func (t *Timer) Remaining() int {
	return RemainingSeconds(t.startedAt, t.durationSeconds, t.now())
}

// Elapsed returns the seconds consumed so far, capped at the duration.
func (t *Timer) Elapsed() int {
	return t.durationSeconds - t.Remaining()
}

// DurationSeconds returns the allotted time.
func (t *Timer) DurationSeconds() int {
	return t.durationSeconds
}

// Tick advances the timer by one beat and returns the remaining seconds.
func (t *Timer) Tick(ctx context.Context) int {
	t.ticks++
	remaining := t.Remaining()

	if remaining > 0 {
		if t.onCheckpoint != nil && t.ticks%t.checkpointEvery == 0 {
			t.onCheckpoint(ctx, t.durationSeconds-remaining)
		}
		return remaining
	}

	if !t.expired && t.onExpire != nil {
		t.expired = true
		if err := t.onExpire(ctx); err != nil {
			t.expired = false
		}
	}
	return 0
}

// Run ticks every interval until ctx is cancelled or Stop is called.
func (t *Timer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case <-ticker.C:
			t.Tick(ctx)
		}
	}
}

// Stop ends Run. Safe to call more than once.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() { close(t.done) })
}

// Done is closed once the timer is stopped.
func (t *Timer) Done() <-chan struct{} {
	return t.done
}
