// Package gateway is an in-memory fake payment gateway used by the
// integration tests. It implements the command API the real gateway
// exposes — idempotent command processing, QR payment lifecycle, guarded
// refunds — with test hooks to drive payments to terminal states.
package gateway

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	sbpgate "github.com/sbpgate/sbpgate-go"
)

// Gateway is a fake gateway. All state is in memory and guarded by one
// mutex; good enough for tests, not a server.
type Gateway struct {
	mu sync.Mutex

	apiKey        string
	completeAfter int
	qrLifetime    time.Duration

	payments map[string]*paymentRecord
	refunds  map[string]sbpgate.Refund
	commands map[sbpgate.IdempotencyKey]*commandRecord
	seq      int
}

type paymentRecord struct {
	payment   sbpgate.Payment
	expiresAt time.Time
}

type commandRecord struct {
	envelope    string
	submissions int
	completed   bool
	outcome     *sbpgate.CommandReturn
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithAPIKey sets the API key the gateway accepts. Default: "test-api-key".
func WithAPIKey(key string) Option {
	return func(g *Gateway) { g.apiKey = key }
}

// WithCompleteAfter makes idempotent commands report in-process until the
// nth submission of the same key. Default: 1 (complete on first submission).
func WithCompleteAfter(n int) Option {
	return func(g *Gateway) { g.completeAfter = n }
}

// WithQRLifetime overrides the command TTL as the payment's auto-expire
// window, so tests can exercise expiry without waiting minutes.
func WithQRLifetime(d time.Duration) Option {
	return func(g *Gateway) { g.qrLifetime = d }
}

// DefaultAPIKey is accepted when WithAPIKey is not used.
const DefaultAPIKey = "test-api-key"

// New creates a fake gateway.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		apiKey:        DefaultAPIKey,
		completeAfter: 1,
		payments:      make(map[string]*paymentRecord),
		refunds:       make(map[string]sbpgate.Refund),
		commands:      make(map[sbpgate.IdempotencyKey]*commandRecord),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	r.GET("/api/v1/description", func(c *gin.Context) {
		c.JSON(http.StatusOK, sbpgate.Description{Name: "fake-gateway", Version: "test"})
	})
	r.GET("/api/v1/ping", g.withAuth(func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{})
	}))
	r.POST("/api/v1/command", g.withAuth(g.handleCommand))
	r.POST("/api/v1/command/idempotent", g.withAuth(g.handleIdempotentCommand))

	return r
}

func (g *Gateway) withAuth(next gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-Api-Key") != g.apiKey {
			c.JSON(http.StatusUnauthorized, sbpgate.NewError("unauthorized", "unknown API key", nil))
			return
		}
		next(c)
	}
}

func (g *Gateway) handleCommand(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, sbpgate.NewError("bad_request", err.Error(), nil))
		return
	}
	cmd, err := sbpgate.DecodeCommand(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, sbpgate.NewError(sbpgate.ErrCodeInvalidCommand, err.Error(), nil))
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var (
		ret  *sbpgate.CommandReturn
		rerr error
	)
	switch cmd := cmd.(type) {
	case sbpgate.QRDynamicStatusRead:
		ret, rerr = g.statusRead(cmd.QRID)
	case sbpgate.QRDynamicCancel:
		ret, rerr = g.cancel(cmd.QRID)
	case sbpgate.RefundStatusRead:
		ret, rerr = g.refundStatusRead(cmd.RefundID)
	default:
		c.JSON(http.StatusBadRequest, sbpgate.NewError(sbpgate.ErrCodeInvalidCommand,
			fmt.Sprintf("command %s is not a plain command", cmd.Kind()), nil))
		return
	}
	if rerr != nil {
		writeError(c, rerr)
		return
	}
	c.JSON(http.StatusOK, ret)
}

func (g *Gateway) handleIdempotentCommand(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, sbpgate.NewError("bad_request", err.Error(), nil))
		return
	}
	cmd, err := sbpgate.DecodeCommand(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, sbpgate.NewError(sbpgate.ErrCodeInvalidCommand, err.Error(), nil))
		return
	}
	idem, ok := cmd.(sbpgate.IdempotentCommand)
	if !ok {
		c.JSON(http.StatusBadRequest, sbpgate.NewError(sbpgate.ErrCodeInvalidCommand,
			fmt.Sprintf("command %s is not idempotent", cmd.Kind()), nil))
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	record, exists := g.commands[idem.IdempotencyKey()]
	if !exists {
		record = &commandRecord{envelope: string(body)}
		g.commands[idem.IdempotencyKey()] = record
	} else if record.envelope != string(body) {
		c.JSON(http.StatusConflict, sbpgate.NewError("key_conflict",
			"idempotency key reused with a different command", nil))
		return
	}
	record.submissions++

	if !record.completed && record.submissions >= g.completeAfter {
		outcome, err := g.execute(idem)
		if err != nil {
			writeError(c, err)
			return
		}
		record.completed = true
		record.outcome = outcome
	}

	result := sbpgate.ProcessingResult{IsCompleted: record.completed, Outcome: record.outcome}
	c.JSON(http.StatusOK, result)
}

// execute runs an idempotent command's side effect exactly once.
func (g *Gateway) execute(cmd sbpgate.IdempotentCommand) (*sbpgate.CommandReturn, error) {
	switch cmd := cmd.(type) {
	case sbpgate.QRDynamicCreate:
		g.seq++
		qrID := fmt.Sprintf("qr_%06d", g.seq)
		lifetime := cmd.TTL()
		if g.qrLifetime > 0 {
			lifetime = g.qrLifetime
		}
		g.payments[qrID] = &paymentRecord{
			payment: sbpgate.Payment{
				ID:     qrID,
				Amount: cmd.Amount,
				State:  sbpgate.PaymentStateInProcess,
			},
			expiresAt: time.Now().Add(lifetime),
		}
		return sbpgate.NewCommandReturn(sbpgate.CommandQRDynamicCreate, sbpgate.QRDynamicCreateReturn{
			QRID:      qrID,
			Data:      "https://qr.example/pay/" + qrID,
			IsSuccess: true,
		})

	case sbpgate.RefundCreate:
		return g.createRefund(cmd)

	default:
		return nil, sbpgate.Errorf(sbpgate.ErrCodeInvalidCommand,
			"command %s is not idempotent", cmd.Kind())
	}
}

func (g *Gateway) createRefund(cmd sbpgate.RefundCreate) (*sbpgate.CommandReturn, error) {
	record, ok := g.payments[cmd.QRID]
	if !ok {
		return nil, sbpgate.Errorf("not_found", "payment %s not found", cmd.QRID)
	}
	g.tick(record)

	if err := sbpgate.ValidateRefund(record.payment, cmd.Amount); err != nil {
		return nil, err
	}

	g.seq++
	refund := sbpgate.Refund{
		ID:        fmt.Sprintf("rf_%06d", g.seq),
		PaymentID: cmd.QRID,
		Amount:    cmd.Amount,
		State:     sbpgate.PaymentStateAccepted,
	}
	g.refunds[refund.ID] = refund
	record.payment.TotalRefundedAmount += cmd.Amount
	record.payment.HasRefunds = true

	return sbpgate.NewCommandReturn(sbpgate.CommandRefundCreate, sbpgate.RefundCreateReturn{
		Refund:    refund,
		IsSuccess: true,
	})
}

func (g *Gateway) statusRead(qrID string) (*sbpgate.CommandReturn, error) {
	record, ok := g.payments[qrID]
	if !ok {
		return nil, sbpgate.Errorf("not_found", "payment %s not found", qrID)
	}
	g.tick(record)
	return sbpgate.NewCommandReturn(sbpgate.CommandQRDynamicStatusRead,
		sbpgate.QRDynamicStatusReturn{Payment: record.payment})
}

func (g *Gateway) cancel(qrID string) (*sbpgate.CommandReturn, error) {
	record, ok := g.payments[qrID]
	if !ok {
		return nil, sbpgate.Errorf("not_found", "payment %s not found", qrID)
	}
	g.tick(record)
	if !record.payment.State.IsFinal() {
		record.payment.State = sbpgate.PaymentStateCanceled
	}
	// Cancelling a terminal payment is a no-op returning the same snapshot.
	return sbpgate.NewCommandReturn(sbpgate.CommandQRDynamicCancel,
		sbpgate.QRDynamicCancelReturn{Payment: record.payment})
}

func (g *Gateway) refundStatusRead(refundID string) (*sbpgate.CommandReturn, error) {
	refund, ok := g.refunds[refundID]
	if !ok {
		return nil, sbpgate.Errorf("not_found", "refund %s not found", refundID)
	}
	return sbpgate.NewCommandReturn(sbpgate.CommandRefundStatusRead,
		sbpgate.RefundStatusReturn{Refund: refund})
}

// tick applies the auto-expire window: an unpaid in-process payment past
// its lifetime becomes rejected, matching the real gateway's TTL behavior.
func (g *Gateway) tick(record *paymentRecord) {
	if record.payment.State == sbpgate.PaymentStateInProcess && time.Now().After(record.expiresAt) {
		record.payment.State = sbpgate.PaymentStateRejected
	}
}

func writeError(c *gin.Context, err error) {
	if pe, ok := err.(*sbpgate.Error); ok {
		c.JSON(http.StatusUnprocessableEntity, pe)
		return
	}
	c.JSON(http.StatusInternalServerError, sbpgate.NewError("internal", err.Error(), nil))
}

// ============================================================================
// Test hooks
// ============================================================================

// Pay marks an in-process payment as accepted, as if a payer scanned the
// QR code and the funds were captured.
func (g *Gateway) Pay(qrID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	record, ok := g.payments[qrID]
	if !ok {
		return fmt.Errorf("payment %s not found", qrID)
	}
	g.tick(record)
	if record.payment.State.IsFinal() {
		return fmt.Errorf("payment %s is already %s", qrID, record.payment.State)
	}
	record.payment.State = sbpgate.PaymentStateAccepted
	return nil
}

// Expire forces a payment's auto-expire window into the past.
func (g *Gateway) Expire(qrID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	record, ok := g.payments[qrID]
	if !ok {
		return fmt.Errorf("payment %s not found", qrID)
	}
	record.expiresAt = time.Now().Add(-time.Second)
	return nil
}

// Payment returns the current snapshot of a payment.
func (g *Gateway) Payment(qrID string) (sbpgate.Payment, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	record, ok := g.payments[qrID]
	if !ok {
		return sbpgate.Payment{}, false
	}
	return record.payment, true
}

// Submissions returns how many times a key was submitted.
func (g *Gateway) Submissions(key sbpgate.IdempotencyKey) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	record, ok := g.commands[key]
	if !ok {
		return 0
	}
	return record.submissions
}

// KeysSeen returns how many distinct idempotency keys were submitted.
func (g *Gateway) KeysSeen() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.commands)
}
