package sbpgate

import (
	"fmt"

	"github.com/google/uuid"
)

// IdempotencyKey is a caller-generated token that makes a command safe to
// resubmit. The same key must be reused across every retry attempt of
// logically the same command, and must never be reused for a different one.
type IdempotencyKey string

// NewIdempotencyKey generates a fresh random idempotency key (UUID v4).
func NewIdempotencyKey() IdempotencyKey {
	return IdempotencyKey(uuid.NewString())
}

// Valid reports whether the key parses as a UUID.
func (k IdempotencyKey) Valid() bool {
	_, err := uuid.Parse(string(k))
	return err == nil
}

// PaymentState is the lifecycle state of a payment or refund.
type PaymentState string

const (
	// PaymentStateInProcess is the initial state, entered the moment a
	// payment is created. It is the only non-terminal state.
	PaymentStateInProcess PaymentState = "in_process"
	// PaymentStateAccepted means funds were captured.
	PaymentStateAccepted PaymentState = "accepted"
	// PaymentStateRejected means the gateway declined the payment or its
	// TTL expired before it was paid.
	PaymentStateRejected PaymentState = "rejected"
	// PaymentStateCanceled means an explicit cancellation was accepted
	// before the payment reached a terminal state.
	PaymentStateCanceled PaymentState = "canceled"
)

// IsFinal reports whether the state is terminal. No transition ever leaves
// a terminal state.
func (s PaymentState) IsFinal() bool {
	return s != PaymentStateInProcess
}

// IsSuccess reports whether the state represents captured funds.
func (s PaymentState) IsSuccess() bool {
	return s == PaymentStateAccepted
}

// Known reports whether the state is one of the defined values.
func (s PaymentState) Known() bool {
	switch s {
	case PaymentStateInProcess, PaymentStateAccepted, PaymentStateRejected, PaymentStateCanceled:
		return true
	}
	return false
}

// Payment is a read-only snapshot of a payment owned by the gateway.
// Amounts are integer minor currency units.
type Payment struct {
	ID                  string       `json:"id"`
	Amount              int64        `json:"amount"`
	State               PaymentState `json:"state"`
	TotalRefundedAmount int64        `json:"totalRefundedAmount"`
	HasRefunds          bool         `json:"hasRefunds"`
}

// RefundableAmount returns the amount still available for refunds.
func (p Payment) RefundableAmount() int64 {
	return p.Amount - p.TotalRefundedAmount
}

// CheckInvariants verifies the amount-conservation invariants of a snapshot.
// A violating snapshot indicates a misbehaving gateway and is never usable.
func (p Payment) CheckInvariants() error {
	if p.TotalRefundedAmount < 0 || p.TotalRefundedAmount > p.Amount {
		return fmt.Errorf("payment %s: totalRefundedAmount %d out of range [0, %d]",
			p.ID, p.TotalRefundedAmount, p.Amount)
	}
	if p.HasRefunds != (p.TotalRefundedAmount > 0) {
		return fmt.Errorf("payment %s: hasRefunds=%v inconsistent with totalRefundedAmount=%d",
			p.ID, p.HasRefunds, p.TotalRefundedAmount)
	}
	return nil
}

// Refund is a read-only snapshot of a refund. Refunds follow the same
// lifecycle as payments: created in process, polled to a terminal state.
type Refund struct {
	ID        string       `json:"id"`
	PaymentID string       `json:"paymentId"`
	Amount    int64        `json:"amount"`
	State     PaymentState `json:"state"`
}

// IsFinal reports whether the refund reached a terminal state.
func (r Refund) IsFinal() bool { return r.State.IsFinal() }

// IsSuccess reports whether the refund was executed.
func (r Refund) IsSuccess() bool { return r.State.IsSuccess() }

// ProcessingResult is the gateway's answer to one idempotent command
// submission. Outcome is present only when IsCompleted is true. Each
// submission attempt produces a fresh snapshot; snapshots are never mutated.
type ProcessingResult struct {
	IsCompleted bool           `json:"isCompleted"`
	Outcome     *CommandReturn `json:"outcome,omitempty"`
}

// Description identifies a gateway instance. Reading it verifies network
// connectivity without an API key.
type Description struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}
