package sbpgate

import (
	"context"
	"time"
)

// Condition is a predicate evaluated by WaitUntil. It typically performs a
// request/response round trip; transient failures inside the round trip are
// the condition's own business to absorb or propagate.
type Condition func(ctx context.Context) (bool, error)

const (
	// DefaultPollInterval is the pause between condition evaluations.
	DefaultPollInterval = 2 * time.Second
	// DefaultPollTimeout bounds a wait when the caller does not supply one.
	DefaultPollTimeout = 10 * time.Minute
)

type waitConfig struct {
	interval time.Duration
	timeout  time.Duration
}

// WaitOption configures a WaitUntil call.
type WaitOption func(*waitConfig)

// WithInterval sets the pause between condition evaluations.
func WithInterval(d time.Duration) WaitOption {
	return func(c *waitConfig) {
		c.interval = d
	}
}

// WithTimeout sets the deadline for the whole wait.
func WithTimeout(d time.Duration) WaitOption {
	return func(c *waitConfig) {
		c.timeout = d
	}
}

// WaitUntil blocks until cond returns true, cond returns an error, the
// timeout elapses, or ctx is canceled.
//
// The condition is evaluated immediately and then once per interval. A
// condition error propagates as-is; no retry logic is layered on top.
// An elapsed timeout is reported with code ErrCodeDeadlineExceeded, a
// canceled context with ctx.Err().
func WaitUntil(ctx context.Context, cond Condition, opts ...WaitOption) error {
	cfg := waitConfig{
		interval: DefaultPollInterval,
		timeout:  DefaultPollTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	deadline := time.Now().Add(cfg.timeout)
	ticker := time.NewTicker(cfg.interval)
	defer ticker.Stop()

	for {
		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		if time.Until(deadline) < cfg.interval {
			return Errorf(ErrCodeDeadlineExceeded, "condition not met within %s", cfg.timeout)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
