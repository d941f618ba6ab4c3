package sbpgate

import (
	"encoding/json"
	"fmt"
)

// CommandReturn is the tagged outcome of a gateway command. The concrete
// shape varies by command kind; callers switch on Kind and decode the
// variant they expect instead of downcasting.
type CommandReturn struct {
	Kind CommandKind
	raw  json.RawMessage
}

// returnEnvelope is the wire form of a command outcome.
type returnEnvelope struct {
	Kind   CommandKind     `json:"kind"`
	Return json.RawMessage `json:"return"`
}

// UnmarshalJSON decodes the wire envelope, keeping the variant payload raw
// until a caller asks for a concrete type.
func (r *CommandReturn) UnmarshalJSON(data []byte) error {
	var env returnEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("invalid command return envelope: %w", err)
	}
	if env.Kind == "" {
		return fmt.Errorf("command return envelope missing kind")
	}
	r.Kind = env.Kind
	r.raw = env.Return
	return nil
}

// MarshalJSON re-encodes the envelope. Round-trips bit-for-bit with the
// variant payload the gateway sent, which the idempotency property of
// completed outcomes depends on.
func (r CommandReturn) MarshalJSON() ([]byte, error) {
	return json.Marshal(returnEnvelope{Kind: r.Kind, Return: r.raw})
}

// Raw returns the undecoded variant payload.
func (r *CommandReturn) Raw() json.RawMessage { return r.raw }

func (r *CommandReturn) decode(kind CommandKind, v interface{}) error {
	if r.Kind != kind {
		return Errorf(ErrCodeUnexpectedOutcome, "expected %s outcome, got %s", kind, r.Kind)
	}
	if err := json.Unmarshal(r.raw, v); err != nil {
		return fmt.Errorf("invalid %s outcome: %w", kind, err)
	}
	return nil
}

// QRDynamicCreateReturn is the outcome of a QRDynamicCreate command.
// Data carries the payload to encode into the QR image.
type QRDynamicCreateReturn struct {
	QRID      string `json:"qrId"`
	Data      string `json:"data"`
	IsSuccess bool   `json:"isSuccess"`
	Reason    string `json:"reason,omitempty"`
}

// QRDynamicStatusReturn is the outcome of a QRDynamicStatusRead command.
type QRDynamicStatusReturn struct {
	Payment Payment `json:"payment"`
}

// QRDynamicCancelReturn is the outcome of a QRDynamicCancel command. It
// carries the payment snapshot after the cancellation attempt; for an
// already-terminal payment this is the unchanged terminal snapshot.
type QRDynamicCancelReturn struct {
	Payment Payment `json:"payment"`
}

// RefundCreateReturn is the outcome of a RefundCreate command.
type RefundCreateReturn struct {
	Refund    Refund `json:"refund"`
	IsSuccess bool   `json:"isSuccess"`
	Reason    string `json:"reason,omitempty"`
}

// RefundStatusReturn is the outcome of a RefundStatusRead command.
type RefundStatusReturn struct {
	Refund Refund `json:"refund"`
}

// QRDynamicCreate decodes the outcome of a QRDynamicCreate command.
func (r *CommandReturn) QRDynamicCreate() (*QRDynamicCreateReturn, error) {
	var out QRDynamicCreateReturn
	if err := r.decode(CommandQRDynamicCreate, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QRDynamicStatus decodes the outcome of a QRDynamicStatusRead command.
func (r *CommandReturn) QRDynamicStatus() (*QRDynamicStatusReturn, error) {
	var out QRDynamicStatusReturn
	if err := r.decode(CommandQRDynamicStatusRead, &out); err != nil {
		return nil, err
	}
	if err := out.Payment.CheckInvariants(); err != nil {
		return nil, Errorf(ErrCodeProtocolViolation, "%v", err)
	}
	return &out, nil
}

// QRDynamicCancel decodes the outcome of a QRDynamicCancel command.
func (r *CommandReturn) QRDynamicCancel() (*QRDynamicCancelReturn, error) {
	var out QRDynamicCancelReturn
	if err := r.decode(CommandQRDynamicCancel, &out); err != nil {
		return nil, err
	}
	if err := out.Payment.CheckInvariants(); err != nil {
		return nil, Errorf(ErrCodeProtocolViolation, "%v", err)
	}
	return &out, nil
}

// RefundCreate decodes the outcome of a RefundCreate command.
func (r *CommandReturn) RefundCreate() (*RefundCreateReturn, error) {
	var out RefundCreateReturn
	if err := r.decode(CommandRefundCreate, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefundStatus decodes the outcome of a RefundStatusRead command.
func (r *CommandReturn) RefundStatus() (*RefundStatusReturn, error) {
	var out RefundStatusReturn
	if err := r.decode(CommandRefundStatusRead, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// NewCommandReturn builds a CommandReturn from a concrete variant. Used by
// test doubles and gateway-side tooling.
func NewCommandReturn(kind CommandKind, v interface{}) (*CommandReturn, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s outcome: %w", kind, err)
	}
	return &CommandReturn{Kind: kind, raw: raw}, nil
}
