package sbpgate

// ValidateRefund checks a refund request against the current payment
// snapshot before anything is sent. The gateway enforces the same rules
// authoritatively; the local check only rejects fast.
//
// The two overtop conditions are distinct on purpose: an amount can fit
// inside the original payment yet exceed what earlier partial refunds left
// refundable. Callers must validate against a snapshot read immediately
// before issuing the refund, never a cached one.
func ValidateRefund(p Payment, amount int64) error {
	if err := p.CheckInvariants(); err != nil {
		return Errorf(ErrCodeProtocolViolation, "%v", err)
	}
	if !p.State.IsSuccess() {
		return Errorf(ErrCodeRefundNotAllowed,
			"payment %s is %s, only accepted payments are refundable", p.ID, p.State)
	}
	if amount <= 0 {
		return Errorf(ErrCodeRefundNotAllowed, "refund amount must be positive, got %d", amount)
	}
	if amount > p.Amount {
		return NewError(ErrCodeRefundAmountOvertopPaymentAmount,
			"refund amount exceeds the payment amount",
			map[string]interface{}{
				"paymentId":     p.ID,
				"paymentAmount": p.Amount,
				"refundAmount":  amount,
			})
	}
	if amount > p.RefundableAmount() {
		return NewError(ErrCodeRefundAmountOvertopPaymentAllowedRefundAmount,
			"refund amount exceeds the remaining refundable amount",
			map[string]interface{}{
				"paymentId":        p.ID,
				"paymentAmount":    p.Amount,
				"refundedAmount":   p.TotalRefundedAmount,
				"refundableAmount": p.RefundableAmount(),
				"refundAmount":     amount,
			})
	}
	return nil
}

// CanCancel reports whether a cancellation request is meaningful for the
// snapshot: only while the payment has not reached a terminal state.
func CanCancel(p Payment) bool {
	return !p.State.IsFinal()
}

// PaymentTracker consumes the sequence of status snapshots for one payment
// and enforces the protocol's ordering guarantees: the state machine only
// moves in_process -> {accepted, rejected, canceled}, a terminal state never
// changes, and refund totals never shrink. A violating snapshot means the
// gateway (or an intermediary) is misbehaving and is rejected rather than
// applied.
//
// A tracker follows a single payment and is not safe for concurrent use.
type PaymentTracker struct {
	last     Payment
	observed bool
}

// NewPaymentTracker creates a tracker with no observed snapshot.
func NewPaymentTracker() *PaymentTracker {
	return &PaymentTracker{}
}

// Observe applies the next snapshot. On success the snapshot becomes the
// tracker's current view; on failure the current view is unchanged.
func (t *PaymentTracker) Observe(p Payment) error {
	if err := p.CheckInvariants(); err != nil {
		return Errorf(ErrCodeProtocolViolation, "%v", err)
	}
	if !p.State.Known() {
		return Errorf(ErrCodeProtocolViolation, "payment %s: unknown state %q", p.ID, p.State)
	}

	if t.observed {
		if p.ID != t.last.ID {
			return Errorf(ErrCodeProtocolViolation,
				"tracker for payment %s observed snapshot of payment %s", t.last.ID, p.ID)
		}
		if p.Amount != t.last.Amount {
			return Errorf(ErrCodeProtocolViolation,
				"payment %s: amount changed from %d to %d", p.ID, t.last.Amount, p.Amount)
		}
		if t.last.State.IsFinal() && p.State != t.last.State {
			return Errorf(ErrCodeProtocolViolation,
				"payment %s: terminal state %s changed to %s", p.ID, t.last.State, p.State)
		}
		if p.TotalRefundedAmount < t.last.TotalRefundedAmount {
			return Errorf(ErrCodeProtocolViolation,
				"payment %s: totalRefundedAmount shrank from %d to %d",
				p.ID, t.last.TotalRefundedAmount, p.TotalRefundedAmount)
		}
	}

	t.last = p
	t.observed = true
	return nil
}

// Current returns the last accepted snapshot, if any.
func (t *PaymentTracker) Current() (Payment, bool) {
	return t.last, t.observed
}

// Final reports whether the tracked payment reached a terminal state.
func (t *PaymentTracker) Final() bool {
	return t.observed && t.last.State.IsFinal()
}
