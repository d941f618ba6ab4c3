package sbpgate

import (
	"context"
	"time"
)

// CreateDynamicQR runs a QRDynamicCreate command to completion and decodes
// its outcome. The command's key must be fresh for a new payment and reused
// verbatim when retrying after a timeout.
func (c *Client) CreateDynamicQR(ctx context.Context, cmd QRDynamicCreate) (*QRDynamicCreateReturn, error) {
	result, err := c.RunIdempotentAndWait(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return result.Outcome.QRDynamicCreate()
}

// ReadQRStatus reads the current payment snapshot of a QR code.
func (c *Client) ReadQRStatus(ctx context.Context, qrID string) (Payment, error) {
	ret, err := c.Run(ctx, QRDynamicStatusRead{QRID: qrID})
	if err != nil {
		return Payment{}, err
	}
	status, err := ret.QRDynamicStatus()
	if err != nil {
		return Payment{}, err
	}
	return status.Payment, nil
}

// WaitForPaymentEnd polls the payment until it reaches a terminal state or
// the timeout elapses, and returns the terminal snapshot. Snapshots are fed
// through a PaymentTracker, so a gateway that violates terminal
// monotonicity surfaces as a protocol error instead of a bogus result.
func (c *Client) WaitForPaymentEnd(ctx context.Context, qrID string, timeout time.Duration) (Payment, error) {
	tracker := NewPaymentTracker()
	err := WaitUntil(ctx,
		func(ctx context.Context) (bool, error) {
			p, err := c.ReadQRStatus(ctx, qrID)
			if err != nil {
				return false, err
			}
			if err := tracker.Observe(p); err != nil {
				return false, err
			}
			return p.State.IsFinal(), nil
		},
		WithInterval(c.pollInterval),
		WithTimeout(timeout),
	)
	if err != nil {
		return Payment{}, err
	}
	p, _ := tracker.Current()
	return p, nil
}

// CancelQR requests cancellation of a payment and returns the snapshot
// after the attempt. Cancelling an already-canceled payment is a no-op that
// returns the same terminal snapshot.
func (c *Client) CancelQR(ctx context.Context, qrID string) (Payment, error) {
	ret, err := c.Run(ctx, QRDynamicCancel{QRID: qrID})
	if err != nil {
		return Payment{}, err
	}
	out, err := ret.QRDynamicCancel()
	if err != nil {
		return Payment{}, err
	}
	return out.Payment, nil
}

// CreateRefund validates and runs a RefundCreate command to completion.
//
// The payment snapshot is re-read immediately before validation so the
// refundable balance reflects every earlier partial refund; validating
// against a cached snapshot would let concurrent refunds overshoot.
// A local rejection carries one of the refund error codes and guarantees
// nothing was sent.
func (c *Client) CreateRefund(ctx context.Context, cmd RefundCreate) (*RefundCreateReturn, error) {
	payment, err := c.ReadQRStatus(ctx, cmd.QRID)
	if err != nil {
		return nil, err
	}
	if err := ValidateRefund(payment, cmd.Amount); err != nil {
		return nil, err
	}

	result, err := c.RunIdempotentAndWait(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return result.Outcome.RefundCreate()
}

// ReadRefundStatus reads the current snapshot of a refund.
func (c *Client) ReadRefundStatus(ctx context.Context, refundID string) (Refund, error) {
	ret, err := c.Run(ctx, RefundStatusRead{RefundID: refundID})
	if err != nil {
		return Refund{}, err
	}
	status, err := ret.RefundStatus()
	if err != nil {
		return Refund{}, err
	}
	return status.Refund, nil
}

// WaitForRefundEnd polls a refund until it reaches a terminal state or the
// timeout elapses, and returns the terminal snapshot.
func (c *Client) WaitForRefundEnd(ctx context.Context, refundID string, timeout time.Duration) (Refund, error) {
	var (
		last Refund
		seen bool
	)
	err := WaitUntil(ctx,
		func(ctx context.Context) (bool, error) {
			r, err := c.ReadRefundStatus(ctx, refundID)
			if err != nil {
				return false, err
			}
			if seen && last.State.IsFinal() && r.State != last.State {
				return false, Errorf(ErrCodeProtocolViolation,
					"refund %s: terminal state %s changed to %s", refundID, last.State, r.State)
			}
			last = r
			seen = true
			return r.State.IsFinal(), nil
		},
		WithInterval(c.pollInterval),
		WithTimeout(timeout),
	)
	if err != nil {
		return Refund{}, err
	}
	return last, nil
}
