package settle

import (
	"context"
	"time"
)

// DefaultDelay is how long remote state usually takes to reflect a mutation.
const DefaultDelay = 3 * time.Second

// Settler blocks for a fixed delay after a mutating remote call so the
// following read observes the new state.
type Settler struct {
	delay time.Duration
}

// New returns a settler waiting for delay. A zero or negative delay disables waiting.
func New(delay time.Duration) Settler {
	return Settler{delay: delay}
}

// Delay reports the configured delay.
func (s Settler) Delay() time.Duration {
	return s.delay
}

// Wait blocks for the configured delay or until ctx is done.
func (s Settler) Wait(ctx context.Context) error {
	if s.delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
