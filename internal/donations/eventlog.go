package donations

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"meauxbility_api/internal/models"
)

// webhookOutcomeReceived marks an event row whose processing has not finished
const webhookOutcomeReceived models.WebhookOutcome = "received"

// EventLog records gateway webhook deliveries, one row per gateway event id
type EventLog interface {
	// RecordDelivery inserts the event or bumps its delivery counter and
	// returns the row as it is after the write.
	RecordDelivery(ctx context.Context, meta EventMeta, payload []byte) (*models.WebhookEvent, error)
	SetOutcome(ctx context.Context, eventID string, outcome models.WebhookOutcome, lastErr string) error
	ListDeadLettered(ctx context.Context, limit int) ([]models.WebhookEvent, error)
}

type GormEventLog struct {
	db *gorm.DB
}

func NewGormEventLog(db *gorm.DB) *GormEventLog {
	return &GormEventLog{db: db}
}

func (l *GormEventLog) RecordDelivery(ctx context.Context, meta EventMeta, payload []byte) (*models.WebhookEvent, error) {
	db := l.db.WithContext(ctx)
	now := time.Now().UTC()

	event := models.WebhookEvent{
		PaymentGateway:  models.PaymentGatewayStripe,
		GatewayEventID:  meta.ID,
		EventType:       meta.Type,
		GatewayIntentID: meta.IntentID,
		Payload:         datatypes.JSON(payload),
		Outcome:         webhookOutcomeReceived,
		Deliveries:      1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "gateway_event_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"deliveries": gorm.Expr("webhook_events.deliveries + 1"),
			"updated_at": now,
		}),
	}).Create(&event).Error
	if err != nil {
		return nil, fmt.Errorf("failed to record webhook delivery: %w", err)
	}

	var stored models.WebhookEvent
	if err := db.Where("gateway_event_id = ?", meta.ID).First(&stored).Error; err != nil {
		return nil, fmt.Errorf("failed to load webhook event: %w", err)
	}
	return &stored, nil
}

func (l *GormEventLog) SetOutcome(ctx context.Context, eventID string, outcome models.WebhookOutcome, lastErr string) error {
	err := l.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("gateway_event_id = ?", eventID).
		Updates(map[string]interface{}{"outcome": outcome, "last_error": lastErr}).Error
	if err != nil {
		return fmt.Errorf("failed to set webhook outcome: %w", err)
	}
	return nil
}

func (l *GormEventLog) ListDeadLettered(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := l.db.WithContext(ctx).
		Where("outcome = ?", models.WebhookOutcomeDeadLettered).
		Order("updated_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list dead-lettered events: %w", err)
	}
	return events, nil
}
