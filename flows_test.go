package sbpgate

import (
	"context"
	"testing"
	"time"
)

// funcSender adapts callbacks into a CommandSender.
type funcSender struct {
	send     func(ctx context.Context, cmd Command) (*CommandReturn, error)
	sendIdem func(ctx context.Context, cmd IdempotentCommand) (*ProcessingResult, error)
}

func (f *funcSender) SendCommand(ctx context.Context, cmd Command) (*CommandReturn, error) {
	return f.send(ctx, cmd)
}

func (f *funcSender) SendIdempotentCommand(ctx context.Context, cmd IdempotentCommand) (*ProcessingResult, error) {
	return f.sendIdem(ctx, cmd)
}

func statusReturn(t *testing.T, p Payment) *CommandReturn {
	t.Helper()
	ret, err := NewCommandReturn(CommandQRDynamicStatusRead, QRDynamicStatusReturn{Payment: p})
	if err != nil {
		t.Fatalf("failed to build status return: %v", err)
	}
	return ret
}

// A refund that fails local validation must never reach the transport.
func TestCreateRefund_LocalRejectionSendsNothing(t *testing.T) {
	payment := Payment{
		ID: "qr_1", Amount: 1000, State: PaymentStateAccepted,
		TotalRefundedAmount: 800, HasRefunds: true,
	}
	submissions := 0
	sender := &funcSender{
		send: func(ctx context.Context, cmd Command) (*CommandReturn, error) {
			return statusReturn(t, payment), nil
		},
		sendIdem: func(ctx context.Context, cmd IdempotentCommand) (*ProcessingResult, error) {
			submissions++
			t.Fatal("refund command must not be submitted after local rejection")
			return nil, nil
		},
	}
	client := NewClient(sender, WithPollInterval(time.Millisecond))

	_, err := client.CreateRefund(context.Background(), RefundCreate{
		Key: NewIdempotencyKey(), QRID: "qr_1", Amount: 500, TTLMinutes: 1,
	})
	if !IsCode(err, ErrCodeRefundAmountOvertopPaymentAllowedRefundAmount) {
		t.Fatalf("expected overtop-allowed error, got %v", err)
	}
	if submissions != 0 {
		t.Errorf("expected zero submissions, got %d", submissions)
	}
}

// The refundable balance is read fresh for every refund; the flow must see
// prior refunds that happened after the caller's last look at the payment.
func TestCreateRefund_RevalidatesAgainstFreshSnapshot(t *testing.T) {
	payment := Payment{ID: "qr_1", Amount: 1000, State: PaymentStateAccepted}
	sender := &funcSender{
		send: func(ctx context.Context, cmd Command) (*CommandReturn, error) {
			return statusReturn(t, payment), nil
		},
		sendIdem: func(ctx context.Context, cmd IdempotentCommand) (*ProcessingResult, error) {
			refund := cmd.(RefundCreate)
			payment.TotalRefundedAmount += refund.Amount
			payment.HasRefunds = true
			outcome, err := NewCommandReturn(CommandRefundCreate, RefundCreateReturn{
				Refund: Refund{
					ID: "rf_1", PaymentID: refund.QRID,
					Amount: refund.Amount, State: PaymentStateAccepted,
				},
				IsSuccess: true,
			})
			if err != nil {
				return nil, err
			}
			return &ProcessingResult{IsCompleted: true, Outcome: outcome}, nil
		},
	}
	client := NewClient(sender, WithPollInterval(time.Millisecond))

	for i := 0; i < 2; i++ {
		out, err := client.CreateRefund(context.Background(), RefundCreate{
			Key: NewIdempotencyKey(), QRID: "qr_1", Amount: 500, TTLMinutes: 1,
		})
		if err != nil {
			t.Fatalf("refund %d failed: %v", i+1, err)
		}
		if !out.IsSuccess {
			t.Fatalf("refund %d not successful: %+v", i+1, out)
		}
	}
	if payment.TotalRefundedAmount != 1000 {
		t.Fatalf("expected 1000 refunded, got %d", payment.TotalRefundedAmount)
	}

	// Third refund must fail against the freshly accumulated total.
	_, err := client.CreateRefund(context.Background(), RefundCreate{
		Key: NewIdempotencyKey(), QRID: "qr_1", Amount: 1000, TTLMinutes: 1,
	})
	if !IsCode(err, ErrCodeRefundAmountOvertopPaymentAllowedRefundAmount) {
		t.Fatalf("expected overtop-allowed error, got %v", err)
	}
}

func TestWaitForPaymentEnd_DetectsTerminalFlipFlop(t *testing.T) {
	states := []PaymentState{PaymentStateCanceled, PaymentStateInProcess}
	i := 0
	sender := &funcSender{
		send: func(ctx context.Context, cmd Command) (*CommandReturn, error) {
			p := Payment{ID: "qr_1", Amount: 100, State: states[i%len(states)]}
			i++
			return statusReturn(t, p), nil
		},
	}
	client := NewClient(sender, WithPollInterval(time.Millisecond))

	// First read is terminal, so the wait ends before the flip-flop shows.
	p, err := client.WaitForPaymentEnd(context.Background(), "qr_1", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.State != PaymentStateCanceled {
		t.Fatalf("expected canceled, got %s", p.State)
	}

	// A tracker fed both snapshots rejects the regression.
	tracker := NewPaymentTracker()
	if err := tracker.Observe(Payment{ID: "qr_1", Amount: 100, State: PaymentStateCanceled}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tracker.Observe(Payment{ID: "qr_1", Amount: 100, State: PaymentStateInProcess}); !IsCode(err, ErrCodeProtocolViolation) {
		t.Fatalf("expected protocol violation, got %v", err)
	}
}
