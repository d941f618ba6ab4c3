package sbpgate

import (
	"context"
	"time"
)

// CommandSender is the transport capability the protocol core consumes.
// Implementations perform exactly one request/response round trip per call
// over a channel whose trust was established at setup time; they add no
// retry or caching semantics of their own.
type CommandSender interface {
	// SendCommand runs a plain (non-idempotent) command and returns its
	// outcome.
	SendCommand(ctx context.Context, cmd Command) (*CommandReturn, error)

	// SendIdempotentCommand submits (or resubmits) an idempotent command.
	// The gateway guarantees that a previously seen key never re-executes
	// side effects: it returns either the still-in-progress marker or the
	// original completion outcome.
	SendIdempotentCommand(ctx context.Context, cmd IdempotentCommand) (*ProcessingResult, error)
}

// Client drives the gateway protocol over a CommandSender: idempotent
// submission with retry-until-complete, terminal-status waits and refund
// validation. A Client is safe for concurrent use when its sender is; each
// payment lifecycle is an independent flow with no shared mutable state.
type Client struct {
	sender       CommandSender
	pollInterval time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithPollInterval sets the pause between status polls and command
// resubmissions. Default: DefaultPollInterval.
func WithPollInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.pollInterval = d
	}
}

// NewClient creates a protocol client on top of a transport.
func NewClient(sender CommandSender, opts ...ClientOption) *Client {
	c := &Client{
		sender:       sender,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes a plain command: one round trip, the outcome as-is.
func (c *Client) Run(ctx context.Context, cmd Command) (*CommandReturn, error) {
	return c.sender.SendCommand(ctx, cmd)
}

// RunIdempotent submits an idempotent command exactly once and returns the
// fresh ProcessingResult snapshot, completed or not.
func (c *Client) RunIdempotent(ctx context.Context, cmd IdempotentCommand) (*ProcessingResult, error) {
	return c.sender.SendIdempotentCommand(ctx, cmd)
}

// RunIdempotentAndWait drives an idempotent command to completion:
//
//  1. Submit once.
//  2. If not completed, resubmit the identical command on each poll tick
//     until a submission reports completion, bounded by the command's TTL.
//  3. Submit one final time to fetch the authoritative outcome.
//
// An elapsed TTL is reported with code ErrCodeCommandTimedOut; the caller
// may resubmit later with the same key. Transport errors from any round
// trip propagate unmasked.
func (c *Client) RunIdempotentAndWait(ctx context.Context, cmd IdempotentCommand) (*ProcessingResult, error) {
	result, err := c.sender.SendIdempotentCommand(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if result.IsCompleted {
		return result, nil
	}

	err = WaitUntil(ctx,
		func(ctx context.Context) (bool, error) {
			r, err := c.sender.SendIdempotentCommand(ctx, cmd)
			if err != nil {
				return false, err
			}
			return r.IsCompleted, nil
		},
		WithInterval(c.pollInterval),
		WithTimeout(cmd.TTL()),
	)
	if err != nil {
		if IsCode(err, ErrCodeDeadlineExceeded) {
			return nil, Errorf(ErrCodeCommandTimedOut,
				"%s command %s did not complete within %s", cmd.Kind(), cmd.IdempotencyKey(), cmd.TTL())
		}
		return nil, err
	}

	// One more submission fetches the authoritative outcome; the gateway's
	// completion monotonicity per key guarantees it is still completed.
	result, err = c.sender.SendIdempotentCommand(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if !result.IsCompleted {
		return nil, Errorf(ErrCodeProtocolViolation,
			"command %s reported completed then incomplete", cmd.IdempotencyKey())
	}
	return result, nil
}
