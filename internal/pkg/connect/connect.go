// Package connect retries store connection attempts at startup.
package connect

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// maxBackoff caps the wait between attempts.
const maxBackoff = 16 * time.Second

// Retry calls dial up to attempts times with exponential backoff
// (1s, 2s, 4s, ... capped at 16s). attempts <= 0 means one attempt.
func Retry(ctx context.Context, attempts int, store string, dial func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = dial(ctx)
		if lastErr == nil {
			slog.Info("connected to database", "store", store, "attempts", attempt)
			return nil
		}

		if attempt == attempts {
			break
		}

		backoff := Backoff(attempt)
		slog.Warn("failed to connect to database, retrying",
			"store", store,
			"attempt", attempt,
			"max_attempts", attempts,
			"backoff", backoff,
			"error", lastErr,
		)
		if !sleep(ctx, backoff) {
			return fmt.Errorf("connection cancelled: %w", ctx.Err())
		}
	}

	return fmt.Errorf("connect to %s after %d attempts: %w", store, attempts, lastErr)
}

// Backoff returns the wait after the given failed attempt.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 5 {
		return maxBackoff
	}
	backoff := time.Duration(1<<(attempt-1)) * time.Second
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}

// sleep waits for duration or context cancellation. Returns false if cancelled.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
