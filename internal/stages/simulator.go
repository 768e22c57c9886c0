package stages

import (
	"context"
	"time"
)

// DefaultStepDelay is the pause after each simulated stage.
const DefaultStepDelay = 1500 * time.Millisecond

// Simulate walks n cosmetic steps: for each index it calls step and then waits
// delay. It has no knowledge of the backend and only stops early if ctx is
// cancelled.
func Simulate(ctx context.Context, n int, delay time.Duration, step func(i int)) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		step(i)

		if err := Sleep(ctx, delay); err != nil {
			return err
		}
	}
	return nil
}

// Sleep waits d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
