package idempotency

import (
	"context"

	sbpgate "github.com/sbpgate/sbpgate-go"
)

// Status represents the result of checking the store for a key.
type Status int

const (
	// StatusNotFound means no cached outcome and no in-flight submission.
	StatusNotFound Status = iota
	// StatusCached means a completed outcome was found.
	StatusCached
	// StatusInFlight means another goroutine is currently driving this key.
	StatusInFlight
)

// ProcessingStore tracks in-flight submissions and caches completed
// outcomes per idempotency key. Implementations must be safe for
// concurrent use.
type ProcessingStore interface {
	// CheckAndMark atomically checks the store and marks the key as
	// in-flight if needed.
	//
	// Returns:
	//   - StatusCached + result + nil: a completed outcome exists
	//   - StatusInFlight + nil + done: another submission is in progress,
	//     wait on the done channel
	//   - StatusNotFound + nil + done: this caller should proceed (the key
	//     is now marked in-flight)
	//
	// The done channel must be handed back to Complete or Fail when the
	// submission finishes.
	CheckAndMark(key sbpgate.IdempotencyKey) (Status, *sbpgate.ProcessingResult, chan struct{})

	// WaitForResult waits for an in-flight submission to finish,
	// respecting context cancellation. Returns the completed outcome, or
	// nil if the in-flight submission failed (the caller should retry).
	WaitForResult(ctx context.Context, key sbpgate.IdempotencyKey, done chan struct{}) (*sbpgate.ProcessingResult, error)

	// Complete caches a completed outcome and signals waiters. Only
	// completed results may be cached.
	Complete(key sbpgate.IdempotencyKey, result *sbpgate.ProcessingResult, done chan struct{})

	// Fail removes the in-flight marker without caching, signaling
	// waiters that they should submit for themselves.
	Fail(key sbpgate.IdempotencyKey, done chan struct{})
}
