package sbpgate

import (
	"encoding/json"
	"fmt"
	"time"
)

// CommandKind identifies a gateway command or its return payload.
type CommandKind string

const (
	CommandQRDynamicCreate     CommandKind = "qr_dynamic_create"
	CommandQRDynamicStatusRead CommandKind = "qr_dynamic_status_read"
	CommandQRDynamicCancel     CommandKind = "qr_dynamic_cancel"
	CommandRefundCreate        CommandKind = "refund_create"
	CommandRefundStatusRead    CommandKind = "refund_status_read"
)

// Command is implemented by all gateway command bodies. Commands are
// immutable values; the same value is reused verbatim for every retry.
type Command interface {
	Kind() CommandKind
}

// IdempotentCommand is a command tagged with an idempotency key and a TTL.
// The TTL bounds how long the gateway is expected to need to finish
// processing the command; it is also the client's retry deadline.
type IdempotentCommand interface {
	Command
	IdempotencyKey() IdempotencyKey
	TTL() time.Duration
}

// QRDynamicCreate asks the gateway to create a dynamic QR code for a
// single payment of Amount minor units. TTLMinutes is both the payment's
// lifetime and the command's processing deadline.
type QRDynamicCreate struct {
	Key         IdempotencyKey         `json:"key"`
	Amount      int64                  `json:"amount"`
	Purpose     string                 `json:"purpose"`
	RedirectURL string                 `json:"redirectUrl,omitempty"`
	TTLMinutes  int                    `json:"ttl"`
	Domain      map[string]interface{} `json:"domain,omitempty"` // provider-specific extras
}

func (c QRDynamicCreate) Kind() CommandKind              { return CommandQRDynamicCreate }
func (c QRDynamicCreate) IdempotencyKey() IdempotencyKey { return c.Key }
func (c QRDynamicCreate) TTL() time.Duration             { return time.Duration(c.TTLMinutes) * time.Minute }

// QRDynamicStatusRead reads the current payment snapshot of a QR code.
type QRDynamicStatusRead struct {
	QRID string `json:"qrId"`
}

func (c QRDynamicStatusRead) Kind() CommandKind { return CommandQRDynamicStatusRead }

// QRDynamicCancel requests cancellation of a still in-process payment.
// Cancelling an already-canceled payment is a no-op that returns the same
// terminal snapshot.
type QRDynamicCancel struct {
	QRID string `json:"qrId"`
}

func (c QRDynamicCancel) Kind() CommandKind { return CommandQRDynamicCancel }

// RefundCreate asks the gateway to refund Amount minor units of a paid QR
// payment. Partial refunds accumulate up to the payment amount.
type RefundCreate struct {
	Key        IdempotencyKey `json:"key"`
	QRID       string         `json:"qrId"`
	Amount     int64          `json:"amount"`
	TTLMinutes int            `json:"ttl"`
}

func (c RefundCreate) Kind() CommandKind              { return CommandRefundCreate }
func (c RefundCreate) IdempotencyKey() IdempotencyKey { return c.Key }
func (c RefundCreate) TTL() time.Duration             { return time.Duration(c.TTLMinutes) * time.Minute }

// RefundStatusRead reads the current snapshot of a refund.
type RefundStatusRead struct {
	RefundID string `json:"refundId"`
}

func (c RefundStatusRead) Kind() CommandKind { return CommandRefundStatusRead }

// commandEnvelope is the wire form of a command submission.
type commandEnvelope struct {
	Kind    CommandKind     `json:"kind"`
	Command json.RawMessage `json:"command"`
}

// EncodeCommand marshals a command into its wire envelope and validates it
// against the command's JSON schema. Validation failures are reported with
// code ErrCodeInvalidCommand; nothing is sent for an invalid command.
func EncodeCommand(cmd Command) ([]byte, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s command: %w", cmd.Kind(), err)
	}

	env, err := json.Marshal(commandEnvelope{Kind: cmd.Kind(), Command: body})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command envelope: %w", err)
	}

	if err := ValidateCommandJSON(cmd.Kind(), env); err != nil {
		return nil, err
	}
	return env, nil
}

// DecodeCommand unmarshals a wire envelope back into a typed command.
// Used by test doubles and by gateway-side tooling.
func DecodeCommand(data []byte) (Command, error) {
	var env commandEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid command envelope: %w", err)
	}

	var cmd Command
	switch env.Kind {
	case CommandQRDynamicCreate:
		var c QRDynamicCreate
		if err := json.Unmarshal(env.Command, &c); err != nil {
			return nil, fmt.Errorf("invalid %s command: %w", env.Kind, err)
		}
		cmd = c
	case CommandQRDynamicStatusRead:
		var c QRDynamicStatusRead
		if err := json.Unmarshal(env.Command, &c); err != nil {
			return nil, fmt.Errorf("invalid %s command: %w", env.Kind, err)
		}
		cmd = c
	case CommandQRDynamicCancel:
		var c QRDynamicCancel
		if err := json.Unmarshal(env.Command, &c); err != nil {
			return nil, fmt.Errorf("invalid %s command: %w", env.Kind, err)
		}
		cmd = c
	case CommandRefundCreate:
		var c RefundCreate
		if err := json.Unmarshal(env.Command, &c); err != nil {
			return nil, fmt.Errorf("invalid %s command: %w", env.Kind, err)
		}
		cmd = c
	case CommandRefundStatusRead:
		var c RefundStatusRead
		if err := json.Unmarshal(env.Command, &c); err != nil {
			return nil, fmt.Errorf("invalid %s command: %w", env.Kind, err)
		}
		cmd = c
	default:
		return nil, fmt.Errorf("unknown command kind: %s", env.Kind)
	}
	return cmd, nil
}
