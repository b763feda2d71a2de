package models

import (
	"time"

	"gorm.io/datatypes"
)

type PaymentGateway string

const (
	PaymentGatewayStripe PaymentGateway = "stripe"
)

// WebhookOutcome is how a delivered gateway event was classified
type WebhookOutcome string

const (
	WebhookOutcomeProcessed    WebhookOutcome = "processed"
	WebhookOutcomeDuplicate    WebhookOutcome = "duplicate"
	WebhookOutcomeDeferred     WebhookOutcome = "deferred"
	WebhookOutcomeDeadLettered WebhookOutcome = "dead_lettered"
	WebhookOutcomeIgnored      WebhookOutcome = "ignored"
)

// WebhookEvent records every verified gateway event once, with a count of
// how many times it was delivered.
type WebhookEvent struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	PaymentGateway  PaymentGateway `gorm:"type:varchar(50);not null" json:"payment_gateway"`
	GatewayEventID  string         `gorm:"type:varchar(255);not null;uniqueIndex" json:"gateway_event_id"`
	EventType       string         `gorm:"type:varchar(100);not null;index" json:"event_type"`
	GatewayIntentID string         `gorm:"type:varchar(255);index" json:"gateway_intent_id"`
	Payload         datatypes.JSON `json:"payload"`
	Outcome         WebhookOutcome `gorm:"type:varchar(32);not null" json:"outcome"`
	Deliveries      int            `gorm:"not null;default:0" json:"deliveries"`
	LastError       string         `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
