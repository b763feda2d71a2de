package donations

import (
	"errors"
	"fmt"
	"strings"

	"meauxbility_api/internal/models"
)

var (
	// ErrValidation marks user-correctable input problems
	ErrValidation = errors.New("validation failed")
	// ErrGateway marks failures talking to the payment gateway
	ErrGateway = errors.New("payment gateway error")
	// ErrSignature marks webhook payloads whose signature does not verify
	ErrSignature = errors.New("webhook signature invalid")
	// ErrReplay marks signed webhook payloads outside the tolerance window
	ErrReplay = errors.New("webhook timestamp outside tolerance")
	// ErrDuplicateKey marks an insert that lost to an existing row
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrInvalidTransition marks a conditional update that matched no row
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrNotFound marks a lookup that found nothing
	ErrNotFound = errors.New("not found")
)

// FieldError describes one invalid request field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every invalid field of a request
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) add(field, format string, args ...interface{}) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// GatewayError wraps a gateway failure. Retryable is false for rejections the
// gateway will repeat no matter how often the call is retried.
type GatewayError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

// SignatureError is returned when a webhook payload fails verification
type SignatureError struct {
	Err error
}

func (e *SignatureError) Error() string { return "webhook signature: " + e.Err.Error() }

func (e *SignatureError) Unwrap() error { return e.Err }

func (e *SignatureError) Is(target error) bool { return target == ErrSignature }

// ReplayError is returned when a correctly signed payload is too old
type ReplayError struct {
	Err error
}

func (e *ReplayError) Error() string { return "webhook replay: " + e.Err.Error() }

func (e *ReplayError) Unwrap() error { return e.Err }

func (e *ReplayError) Is(target error) bool { return target == ErrReplay }

// InvalidTransitionError reports a transition whose expected from-state did
// not match the persisted row.
type InvalidTransitionError struct {
	AttemptID string
	From      models.DonationState
	To        models.DonationState
	Current   models.DonationState
}

func (e *InvalidTransitionError) Error() string {
	if e.Current != "" {
		return fmt.Sprintf("attempt %s: cannot transition %s -> %s (current state %s)", e.AttemptID, e.From, e.To, e.Current)
	}
	return fmt.Sprintf("attempt %s: cannot transition %s -> %s", e.AttemptID, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// IsSecurityError reports whether err came from webhook verification
func IsSecurityError(err error) bool {
	return errors.Is(err, ErrSignature) || errors.Is(err, ErrReplay)
}
