package sbpgate

import "fmt"

// Error is a protocol-level error carrying a machine-readable code, a
// human-readable message (the gateway's reason where available) and
// optional structured details.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes
const (
	// ErrCodeTrustValidationFailed means the peer's certificate chain did
	// not match any pinned root. Fatal for channel setup, never retried.
	ErrCodeTrustValidationFailed = "trust_validation_failed"
	// ErrCodeDeadlineExceeded means a poll deadline elapsed before the
	// condition became true.
	ErrCodeDeadlineExceeded = "deadline_exceeded"
	// ErrCodeCommandTimedOut means an idempotent command did not complete
	// within its TTL. The caller may resubmit with the same key.
	ErrCodeCommandTimedOut = "command_timed_out"
	// ErrCodeRefundAmountOvertopPaymentAmount means the requested refund
	// exceeds the original payment amount.
	ErrCodeRefundAmountOvertopPaymentAmount = "refund_amount_overtop_payment_amount"
	// ErrCodeRefundAmountOvertopPaymentAllowedRefundAmount means the
	// requested refund exceeds the remaining refundable balance after
	// earlier partial refunds.
	ErrCodeRefundAmountOvertopPaymentAllowedRefundAmount = "refund_amount_overtop_payment_allowed_refund_amount"
	// ErrCodeRefundNotAllowed means the payment is not in a refundable
	// state (not successfully paid) or the amount is not positive.
	ErrCodeRefundNotAllowed = "refund_not_allowed"
	// ErrCodeInvalidCommand means a command failed local validation and
	// was never sent.
	ErrCodeInvalidCommand = "invalid_command"
	// ErrCodeUnexpectedOutcome means the gateway returned an outcome of a
	// kind the caller did not ask for.
	ErrCodeUnexpectedOutcome = "unexpected_outcome"
	// ErrCodeProtocolViolation means the gateway broke a protocol
	// guarantee, such as terminal-state monotonicity.
	ErrCodeProtocolViolation = "protocol_violation"
	// ErrCodeGatewayRejected means the gateway refused the request with a
	// business-rule error of its own.
	ErrCodeGatewayRejected = "gateway_rejected"
)

// NewError creates a new protocol error.
func NewError(code, message string, details map[string]interface{}) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Errorf creates a new protocol error with a formatted message.
func Errorf(code, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsCode reports whether err is a protocol *Error with the given code.
func IsCode(err error, code string) bool {
	pe, ok := err.(*Error)
	return ok && pe.Code == code
}

// RetryableWithSameKey reports whether the failed operation may be retried
// by resubmitting with the same idempotency key. Timeouts are; validation
// rejections and trust failures require changed input and are not.
func RetryableWithSameKey(err error) bool {
	pe, ok := err.(*Error)
	if !ok {
		return false
	}
	switch pe.Code {
	case ErrCodeCommandTimedOut, ErrCodeDeadlineExceeded:
		return true
	}
	return false
}
