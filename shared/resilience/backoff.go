// Package resilience holds the reconnect policy shared by every broker client:
// a capped linear backoff, an unbounded retry loop and a connection health tracker.
package resilience

import (
	"context"
	"log/slog"
	"time"
)

const (
	// StepDelay is the backoff added per attempt
	StepDelay = 50 * time.Millisecond
	// MaxDelay caps the backoff
	MaxDelay = 2 * time.Second
)

// RetryStrategy returns the delay before reconnect attempt n: min(n*50ms, 2s).
// Attempts below 1 are treated as the first attempt.
func RetryStrategy(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt >= int(MaxDelay/StepDelay) {
		return MaxDelay
	}
	return time.Duration(attempt) * StepDelay
}

// Reconnect calls fn until it succeeds or ctx is done. There is no attempt limit:
// an infrastructure outage is waited out instead of crashing the process.
// Every failed attempt is logged with its number and the computed delay.
func Reconnect(ctx context.Context, logger *slog.Logger, name string, health *Health, fn func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		if health != nil {
			health.Connecting()
		}

		err := fn(ctx)
		if err == nil {
			if health != nil {
				health.Connected()
			}
			if attempt > 1 {
				logger.Info("Reconnected",
					slog.String("target", name),
					slog.Int("attempt", attempt),
				)
			}
			return nil
		}

		if ctx.Err() != nil {
			if health != nil {
				health.Disconnected()
			}
			return ctx.Err()
		}

		delay := RetryStrategy(attempt)
		if health != nil {
			health.Retrying(attempt, delay)
		}
		logger.Warn("Connection attempt failed, retrying",
			slog.String("target", name),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)

		if err := Sleep(ctx, delay); err != nil {
			if health != nil {
				health.Disconnected()
			}
			return err
		}
	}
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
