package donations

import (
	"context"
	"time"

	"meauxbility_api/internal/models"
)

// CreateIntentRequest is everything the gateway needs to open a payment intent.
// IdempotencyKey is forwarded to the gateway so repeated calls return the
// original intent.
type CreateIntentRequest struct {
	AmountMinorUnits int64
	Currency         string
	IdempotencyKey   string
	Metadata         map[string]string
	ReceiptEmail     string
	Description      string
}

// Intent is the gateway's view of a payment intent
type Intent struct {
	ID               string
	ClientSecret     string
	AmountMinorUnits int64
	Currency         string
	Status           string
}

// Gateway is the payment processor as seen by intake and reconciliation
type Gateway interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (Intent, error)
	RetrieveIntent(ctx context.Context, intentID string) (Intent, error)
	// VerifyWebhook returns *SignatureError or *ReplayError when the payload
	// cannot be trusted.
	VerifyWebhook(payload []byte, signatureHeader string) (Event, error)
}

// EventMeta is common to every webhook event
type EventMeta struct {
	ID       string
	Type     string
	IntentID string
	// AttemptID comes from the intent metadata and lets an event find its
	// attempt before the intent id has been attached.
	AttemptID string
	CreatedAt time.Time
}

// Event is one verified gateway webhook event. The concrete type is one of
// PaymentSucceeded, PaymentFailed, PaymentCanceled or IgnoredEvent.
type Event interface {
	Meta() EventMeta
}

type PaymentSucceeded struct {
	EventMeta
}

type PaymentFailed struct {
	EventMeta
	Reason string
}

type PaymentCanceled struct {
	EventMeta
	Reason string
}

// IgnoredEvent is any verified event type reconciliation does not act on
type IgnoredEvent struct {
	EventMeta
}

func (e EventMeta) Meta() EventMeta { return e }

// targetState maps an event to the terminal state it asks for. ok is false
// for events that never drive a transition.
func targetState(ev Event) (state models.DonationState, reason string, ok bool) {
	switch e := ev.(type) {
	case PaymentSucceeded:
		return models.DonationStateCompleted, "", true
	case PaymentFailed:
		return models.DonationStateFailed, e.Reason, true
	case PaymentCanceled:
		return models.DonationStateCanceled, e.Reason, true
	}
	return "", "", false
}

// StateChange is published after every applied ledger transition
type StateChange struct {
	AttemptID       string               `json:"attempt_id"`
	State           models.DonationState `json:"state"`
	PreviousState   models.DonationState `json:"previous_state"`
	GatewayIntentID string               `json:"gateway_intent_id,omitempty"`
	Timestamp       time.Time            `json:"timestamp"`
}

// Publisher fans ledger transitions out to other systems
type Publisher interface {
	PublishStateChange(ctx context.Context, change StateChange) error
}

// Email is a rendered message ready for a Mailer
type Email struct {
	To      []string
	Subject string
	HTML    string
	Text    string
	ReplyTo string
}

// Mailer delivers transactional email
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// StaffNotifier pushes a short plain-text alert to staff, e.g. over chat
type StaffNotifier interface {
	NotifyStaff(ctx context.Context, message string) error
}
