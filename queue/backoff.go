package queue

import (
	"context"
	"time"
)

// BackoffPolicy controls how long an idle worker sleeps between polls.
// Sleep starts at Floor, doubles after every empty poll up to Cap, and
// resets to Floor as soon as a job is claimed, bounding idle CPU without
// adding latency under load.
type BackoffPolicy struct {
	Floor time.Duration
	Cap   time.Duration
}

// DefaultBackoff returns the standard 100ms-to-2s policy.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{Floor: 100 * time.Millisecond, Cap: 2 * time.Second}
}

// Next returns the delay to use after another empty poll.
func (b BackoffPolicy) Next(current time.Duration) time.Duration {
	if current <= 0 {
		return b.Floor
	}
	next := current * 2
	if next > b.Cap {
		return b.Cap
	}
	return next
}

// Clock abstracts time for the worker loop so tests can simulate idle
// backoff without real sleeps.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is cancelled.
	Sleep(ctx context.Context, d time.Duration)
}

// RealClock is the production Clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) Sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
