package actions

import (
	"context"
	"time"
)

// WebhookBackoff computes the delay before the next webhook retry:
// 2^attempt seconds, with attempt counted from 1.
func WebhookBackoff(attempt int) time.Duration {
	multiplier := time.Duration(1)
	for i := 0; i < attempt; i++ {
		multiplier *= 2
	}
	return multiplier * time.Second
}

// WaitForBackoff sleeps for the given duration or returns early if the
// context is cancelled. Returns the context error when cancelled.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
