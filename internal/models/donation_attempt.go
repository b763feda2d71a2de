package models

import (
	"time"

	"gorm.io/datatypes"
)

// DonationState is the lifecycle state of a donation attempt
type DonationState string

const (
	DonationStateCreated             DonationState = "created"
	DonationStatePendingConfirmation DonationState = "pending_confirmation"
	DonationStateCompleted           DonationState = "completed"
	DonationStateFailed              DonationState = "failed"
	DonationStateCanceled            DonationState = "canceled"
)

// IsTerminal reports whether no further transition is allowed out of s
func (s DonationState) IsTerminal() bool {
	switch s {
	case DonationStateCompleted, DonationStateFailed, DonationStateCanceled:
		return true
	}
	return false
}

// CanTransitionTo reports whether from -> to is a legal ledger transition
func (s DonationState) CanTransitionTo(to DonationState) bool {
	switch s {
	case DonationStateCreated:
		return to == DonationStatePendingConfirmation || to == DonationStateFailed || to == DonationStateCanceled
	case DonationStatePendingConfirmation:
		return to == DonationStateCompleted || to == DonationStateFailed || to == DonationStateCanceled
	}
	return false
}

// ClientOutcome is what the browser reported after confirming with the gateway.
// It is advisory only and never drives State.
type ClientOutcome string

const (
	ClientOutcomeNone      ClientOutcome = ""
	ClientOutcomeSucceeded ClientOutcome = "succeeded"
	ClientOutcomeFailed    ClientOutcome = "failed"
)

// DonationAttempt is one logical donation, keyed by the client's idempotency key.
// Rows are never deleted; they are the audit trail.
type DonationAttempt struct {
	ID              string  `gorm:"type:varchar(36);primaryKey" json:"id"`
	IdempotencyKey  string  `gorm:"type:varchar(255);not null;uniqueIndex" json:"idempotency_key"`
	GatewayIntentID *string `gorm:"type:varchar(255);uniqueIndex" json:"gateway_intent_id"`

	AmountMinorUnits int64             `gorm:"not null" json:"amount_minor_units"`
	Currency         string            `gorm:"type:varchar(3);not null" json:"currency"`
	DonorEmail       string            `gorm:"type:varchar(255)" json:"donor_email,omitempty"`
	DonorName        string            `gorm:"type:varchar(255)" json:"donor_name,omitempty"`
	Metadata         datatypes.JSONMap `json:"metadata,omitempty"`

	State         DonationState `gorm:"type:varchar(32);not null;index:idx_donation_attempts_state_created,priority:1" json:"state"`
	FailureReason string        `gorm:"type:text" json:"failure_reason,omitempty"`
	ClientOutcome ClientOutcome `gorm:"type:varchar(32)" json:"client_outcome,omitempty"`
	NeedsReview   bool          `gorm:"default:false;index" json:"needs_review"`

	CreatedAt        time.Time  `gorm:"index:idx_donation_attempts_state_created,priority:2" json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ReceiptClaimedAt *time.Time `json:"-"`
	NotifiedAt       *time.Time `json:"notified_at,omitempty"`
}

// IntentID returns the gateway intent id or "" when none is attached yet
func (a DonationAttempt) IntentID() string {
	if a.GatewayIntentID == nil {
		return ""
	}
	return *a.GatewayIntentID
}

// StringMetadata returns the metadata as the plain string map the gateway accepts
func (a DonationAttempt) StringMetadata() map[string]string {
	out := make(map[string]string, len(a.Metadata))
	for k, v := range a.Metadata {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
