package app

import (
	"context"
	"log/slog"
	"time"

	"finsight/internal/config"
)

// RetryPolicy bounds how bootstrap waits for Postgres and Weaviate.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// NewRetryPolicy reads BOOTSTRAP_RETRY_ATTEMPTS and
// BOOTSTRAP_RETRY_DELAY_SECONDS. At least one attempt is always made.
func NewRetryPolicy(cfg *config.Config) RetryPolicy {
	p := RetryPolicy{
		Attempts: cfg.BootstrapRetryAttempts,
		Delay:    time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second,
	}
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	return p
}

// Do calls fn until it succeeds or the attempts run out, sleeping Delay
// between attempts. It returns the last error, or ctx's error when ctx ends
// during a wait.
func (p RetryPolicy) Do(ctx context.Context, what string, fn func(context.Context) error) error {
	attempts := max(p.Attempts, 1)
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		slog.Warn("bootstrap step failed, retrying...", "step", what, "attempt", i+1, "max_attempts", attempts, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay):
		}
	}
	return err
}
