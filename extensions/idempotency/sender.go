package idempotency

import (
	"context"
	"time"

	sbpgate "github.com/sbpgate/sbpgate-go"
)

// Sender wraps a sbpgate.CommandSender with process-local deduplication of
// idempotent submissions. Plain commands pass through untouched.
type Sender struct {
	inner sbpgate.CommandSender
	store ProcessingStore
}

// Wrap creates a deduplicating Sender around a transport.
//
// Default configuration is an InMemoryStore with a 10-minute TTL; use
// functional options to customize.
func Wrap(inner sbpgate.CommandSender, opts ...Option) *Sender {
	cfg := &config{
		ttl: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	store := cfg.store
	if store == nil {
		store = NewInMemoryStore(cfg.ttl)
	}

	return &Sender{
		inner: inner,
		store: store,
	}
}

// SendCommand delegates plain commands to the wrapped transport.
func (s *Sender) SendCommand(ctx context.Context, cmd sbpgate.Command) (*sbpgate.CommandReturn, error) {
	return s.inner.SendCommand(ctx, cmd)
}

// SendIdempotentCommand submits with deduplication:
//
//  1. A cached completed outcome is returned without a round trip.
//  2. If another goroutine is driving the same key, wait for it and share
//     its outcome.
//  3. Otherwise submit; a completed result is cached, an incomplete one is
//     returned as-is (every caller that needs progress polls the gateway
//     itself — incomplete snapshots are never cached).
//
// Transport errors release the in-flight marker so waiters retry for
// themselves; the gateway's key-level idempotency makes that safe.
func (s *Sender) SendIdempotentCommand(ctx context.Context, cmd sbpgate.IdempotentCommand) (*sbpgate.ProcessingResult, error) {
	key := cmd.IdempotencyKey()

	status, cached, done := s.store.CheckAndMark(key)
	switch status {
	case StatusCached:
		return cached, nil

	case StatusInFlight:
		result, err := s.store.WaitForResult(ctx, key, done)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}
		// The in-flight submission failed; submit for ourselves.
		return s.inner.SendIdempotentCommand(ctx, cmd)
	}

	result, err := s.inner.SendIdempotentCommand(ctx, cmd)
	if err != nil {
		s.store.Fail(key, done)
		return nil, err
	}
	if result.IsCompleted {
		s.store.Complete(key, result, done)
	} else {
		s.store.Fail(key, done)
	}
	return result, nil
}
