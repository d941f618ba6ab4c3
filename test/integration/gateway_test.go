package integration_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sbpgate "github.com/sbpgate/sbpgate-go"
	"github.com/sbpgate/sbpgate-go/extensions/idempotency"
	sbphttp "github.com/sbpgate/sbpgate-go/http"
	"github.com/sbpgate/sbpgate-go/test/mocks/gateway"
	"github.com/sbpgate/sbpgate-go/trust"
)

// newPinnedClient starts a TLS fake gateway and a protocol client that
// trusts it solely by certificate pinning.
func newPinnedClient(t *testing.T, g *gateway.Gateway) *sbpgate.Client {
	t.Helper()

	srv := httptest.NewTLSServer(g.Handler())
	t.Cleanup(srv.Close)

	pins, err := trust.NewPinSet(srv.Certificate())
	require.NoError(t, err)

	sender, err := sbphttp.NewGatewayClient(&sbphttp.Config{
		BaseURL: srv.URL,
		APIKey:  gateway.DefaultAPIKey,
		Pins:    pins,
	})
	require.NoError(t, err)

	return sbpgate.NewClient(sender, sbpgate.WithPollInterval(5*time.Millisecond))
}

func createQR(t *testing.T, client *sbpgate.Client, amount int64) *sbpgate.QRDynamicCreateReturn {
	t.Helper()
	out, err := client.CreateDynamicQR(context.Background(), sbpgate.QRDynamicCreate{
		Key:        sbpgate.NewIdempotencyKey(),
		Amount:     amount,
		Purpose:    "Test",
		TTLMinutes: 1,
	})
	require.NoError(t, err)
	require.True(t, out.IsSuccess)
	require.NotEmpty(t, out.QRID)
	require.NotEmpty(t, out.Data)
	return out
}

// A client pinning the wrong root must fail channel establishment before
// any request is answered.
func TestPinnedChannel_WrongPinRejected(t *testing.T) {
	g := gateway.New()
	trusted := httptest.NewTLSServer(g.Handler())
	t.Cleanup(trusted.Close)
	other := httptest.NewTLSServer(gateway.New().Handler())
	t.Cleanup(other.Close)

	// Pin the trusted server's certificate, then talk to the other one.
	pins, err := trust.NewPinSet(trusted.Certificate())
	require.NoError(t, err)

	sender, err := sbphttp.NewGatewayClient(&sbphttp.Config{
		BaseURL: other.URL,
		APIKey:  gateway.DefaultAPIKey,
		Pins:    pins,
	})
	require.NoError(t, err)

	_, err = sender.SendCommand(context.Background(), sbpgate.QRDynamicStatusRead{QRID: "qr_1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), sbpgate.ErrCodeTrustValidationFailed)
}

// Scenario: create a payment and cancel it immediately; the second cancel
// is a no-op returning the same terminal snapshot.
func TestCancelImmediately(t *testing.T) {
	g := gateway.New()
	client := newPinnedClient(t, g)
	ctx := context.Background()

	out := createQR(t, client, 1000)

	first, err := client.CancelQR(ctx, out.QRID)
	require.NoError(t, err)
	assert.Equal(t, sbpgate.PaymentStateCanceled, first.State)
	assert.True(t, first.State.IsFinal())
	assert.False(t, first.State.IsSuccess())

	second, err := client.CancelQR(ctx, out.QRID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

// Scenario: a payment that is never paid is rejected once its auto-expire
// window passes.
func TestUnpaidPaymentExpires(t *testing.T) {
	g := gateway.New(gateway.WithQRLifetime(30 * time.Millisecond))
	client := newPinnedClient(t, g)
	ctx := context.Background()

	out := createQR(t, client, 1000)

	payment, err := client.WaitForPaymentEnd(ctx, out.QRID, time.Second)
	require.NoError(t, err)
	assert.Equal(t, sbpgate.PaymentStateRejected, payment.State)
	assert.True(t, payment.State.IsFinal())
	assert.False(t, payment.State.IsSuccess())
}

// Scenario: full payment, then refunds — an overtop request fails, two
// partial refunds consume the amount, the next request fails against the
// exhausted balance.
func TestRefundFlow(t *testing.T) {
	g := gateway.New()
	client := newPinnedClient(t, g)
	ctx := context.Background()

	out := createQR(t, client, 1000)
	require.NoError(t, g.Pay(out.QRID))

	payment, err := client.WaitForPaymentEnd(ctx, out.QRID, time.Second)
	require.NoError(t, err)
	require.Equal(t, sbpgate.PaymentStateAccepted, payment.State)

	// Refund above the payment amount.
	_, err = client.CreateRefund(ctx, sbpgate.RefundCreate{
		Key: sbpgate.NewIdempotencyKey(), QRID: out.QRID, Amount: 5555, TTLMinutes: 1,
	})
	assert.True(t, sbpgate.IsCode(err, sbpgate.ErrCodeRefundAmountOvertopPaymentAmount), "got %v", err)

	// Two partial refunds of 500 both succeed.
	for i := 0; i < 2; i++ {
		refundOut, err := client.CreateRefund(ctx, sbpgate.RefundCreate{
			Key: sbpgate.NewIdempotencyKey(), QRID: out.QRID, Amount: 500, TTLMinutes: 1,
		})
		require.NoError(t, err, "refund %d", i+1)
		require.True(t, refundOut.IsSuccess)

		refund, err := client.WaitForRefundEnd(ctx, refundOut.Refund.ID, time.Second)
		require.NoError(t, err)
		assert.True(t, refund.IsFinal())
		assert.True(t, refund.IsSuccess())
	}

	payment, err = client.ReadQRStatus(ctx, out.QRID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), payment.TotalRefundedAmount)
	assert.True(t, payment.HasRefunds)
	require.NoError(t, payment.CheckInvariants())

	// The balance is exhausted; the absolute amount still fits, so this is
	// the allowed-refund-amount rejection, not the payment-amount one.
	_, err = client.CreateRefund(ctx, sbpgate.RefundCreate{
		Key: sbpgate.NewIdempotencyKey(), QRID: out.QRID, Amount: 1000, TTLMinutes: 1,
	})
	assert.True(t, sbpgate.IsCode(err, sbpgate.ErrCodeRefundAmountOvertopPaymentAllowedRefundAmount), "got %v", err)

	payment, err = client.ReadQRStatus(ctx, out.QRID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), payment.TotalRefundedAmount, "rejection must not change state")
}

// Scenario: the gateway needs several submissions before a command
// completes; the executor rides them out with a single key.
func TestSlowCommandCompletion(t *testing.T) {
	g := gateway.New(gateway.WithCompleteAfter(3))
	client := newPinnedClient(t, g)

	out := createQR(t, client, 1000)
	assert.True(t, out.IsSuccess)

	assert.Equal(t, 1, g.KeysSeen(), "retries must reuse the original key")
}

// Submitting the same command twice yields identical completed outcomes
// and no duplicate payment.
func TestIdempotentResubmission(t *testing.T) {
	g := gateway.New()
	client := newPinnedClient(t, g)
	ctx := context.Background()

	cmd := sbpgate.QRDynamicCreate{
		Key:        sbpgate.NewIdempotencyKey(),
		Amount:     1000,
		Purpose:    "Test",
		TTLMinutes: 1,
	}

	first, err := client.RunIdempotent(ctx, cmd)
	require.NoError(t, err)
	second, err := client.RunIdempotent(ctx, cmd)
	require.NoError(t, err)

	require.True(t, first.IsCompleted)
	require.True(t, second.IsCompleted)

	firstJSON, err := first.Outcome.MarshalJSON()
	require.NoError(t, err)
	secondJSON, err := second.Outcome.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, string(firstJSON), string(secondJSON))

	assert.Equal(t, 1, g.KeysSeen())
	assert.Equal(t, 2, g.Submissions(cmd.Key))
}

// The deduplicating sender keeps resubmissions of a completed command off
// the wire entirely.
func TestDedupedSender(t *testing.T) {
	g := gateway.New()
	srv := httptest.NewTLSServer(g.Handler())
	t.Cleanup(srv.Close)

	pins, err := trust.NewPinSet(srv.Certificate())
	require.NoError(t, err)
	transport, err := sbphttp.NewGatewayClient(&sbphttp.Config{
		BaseURL: srv.URL,
		APIKey:  gateway.DefaultAPIKey,
		Pins:    pins,
	})
	require.NoError(t, err)

	client := sbpgate.NewClient(idempotency.Wrap(transport), sbpgate.WithPollInterval(5*time.Millisecond))
	ctx := context.Background()

	cmd := sbpgate.QRDynamicCreate{
		Key:        sbpgate.NewIdempotencyKey(),
		Amount:     1000,
		Purpose:    "Test",
		TTLMinutes: 1,
	}

	for i := 0; i < 3; i++ {
		result, err := client.RunIdempotent(ctx, cmd)
		require.NoError(t, err)
		require.True(t, result.IsCompleted)
	}
	assert.Equal(t, 1, g.Submissions(cmd.Key), "cached completions must not hit the wire")
}

func TestConnectivity(t *testing.T) {
	g := gateway.New()
	srv := httptest.NewTLSServer(g.Handler())
	t.Cleanup(srv.Close)

	pins, err := trust.NewPinSet(srv.Certificate())
	require.NoError(t, err)
	transport, err := sbphttp.NewGatewayClient(&sbphttp.Config{
		BaseURL: srv.URL,
		APIKey:  gateway.DefaultAPIKey,
		Pins:    pins,
	})
	require.NoError(t, err)

	ctx := context.Background()
	desc, err := transport.GetDescription(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, desc.Name)

	require.NoError(t, transport.Ping(ctx))
}
