package donations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"meauxbility_api/internal/models"
	"meauxbility_api/internal/telemetry"
)

// Ledger is the durable record of donation attempts. Every mutation is a
// conditional update so concurrent writers across replicas need no locks.
type Ledger interface {
	Create(ctx context.Context, attempt *models.DonationAttempt) error
	Get(ctx context.Context, id string) (*models.DonationAttempt, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.DonationAttempt, error)
	FindByGatewayIntentID(ctx context.Context, intentID string) (*models.DonationAttempt, error)

	// AttachIntent sets the gateway intent id once and moves created ->
	// pending_confirmation. moved reports whether this call did the move.
	AttachIntent(ctx context.Context, id, intentID string) (attempt *models.DonationAttempt, moved bool, err error)
	Transition(ctx context.Context, id string, from, to models.DonationState, reason string) (*models.DonationAttempt, error)

	RecordClientOutcome(ctx context.Context, id string, outcome models.ClientOutcome) (*models.DonationAttempt, error)
	FlagForReview(ctx context.Context, id string) error
	ListNeedsReview(ctx context.Context, limit int) ([]models.DonationAttempt, error)

	ClaimReceipt(ctx context.Context, id string, lease time.Duration) (bool, error)
	ReleaseReceipt(ctx context.Context, id string) error
	MarkNotified(ctx context.Context, id string) (bool, error)

	ListStale(ctx context.Context, state models.DonationState, createdBefore time.Time, limit int) ([]models.DonationAttempt, error)
	ListUnnotified(ctx context.Context, updatedBefore time.Time, limit int) ([]models.DonationAttempt, error)
}

// GormLedger stores attempts in the donation_attempts table
type GormLedger struct {
	db        *gorm.DB
	publisher Publisher
	metrics   *telemetry.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

type LedgerOption func(*GormLedger)

// WithPublisher publishes every applied transition. Publish errors are logged.
func WithPublisher(p Publisher) LedgerOption {
	return func(l *GormLedger) { l.publisher = p }
}

func WithLedgerMetrics(m *telemetry.Metrics) LedgerOption {
	return func(l *GormLedger) { l.metrics = m }
}

// WithLedgerClock replaces time.Now, mostly for tests
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *GormLedger) { l.now = now }
}

func NewGormLedger(db *gorm.DB, logger *zap.Logger, opts ...LedgerOption) *GormLedger {
	l := &GormLedger{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *GormLedger) Create(ctx context.Context, attempt *models.DonationAttempt) error {
	now := l.now()
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = now
	}
	attempt.UpdatedAt = attempt.CreatedAt
	if attempt.State == "" {
		attempt.State = models.DonationStateCreated
	}

	if err := l.db.WithContext(ctx).Create(attempt).Error; err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("attempt for key %q: %w", attempt.IdempotencyKey, ErrDuplicateKey)
		}
		return fmt.Errorf("failed to create donation attempt: %w", err)
	}
	return nil
}

func (l *GormLedger) Get(ctx context.Context, id string) (*models.DonationAttempt, error) {
	return l.first(ctx, "id = ?", id)
}

func (l *GormLedger) FindByIdempotencyKey(ctx context.Context, key string) (*models.DonationAttempt, error) {
	return l.first(ctx, "idempotency_key = ?", key)
}

func (l *GormLedger) FindByGatewayIntentID(ctx context.Context, intentID string) (*models.DonationAttempt, error) {
	return l.first(ctx, "gateway_intent_id = ?", intentID)
}

func (l *GormLedger) first(ctx context.Context, query string, arg interface{}) (*models.DonationAttempt, error) {
	var attempt models.DonationAttempt
	err := l.db.WithContext(ctx).Where(query, arg).First(&attempt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("donation attempt (%s %v): %w", strings.TrimSuffix(query, " = ?"), arg, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load donation attempt: %w", err)
	}
	return &attempt, nil
}

func (l *GormLedger) AttachIntent(ctx context.Context, id, intentID string) (*models.DonationAttempt, bool, error) {
	db := l.db.WithContext(ctx)
	now := l.now()

	res := db.Model(&models.DonationAttempt{}).
		Where("id = ? AND gateway_intent_id IS NULL AND state = ?", id, models.DonationStateCreated).
		Updates(map[string]interface{}{
			"gateway_intent_id": intentID,
			"state":             models.DonationStatePendingConfirmation,
			"updated_at":        now,
		})
	if res.Error != nil {
		if isDuplicateKey(res.Error) {
			return nil, false, fmt.Errorf("intent %s already belongs to another attempt: %w", intentID, ErrDuplicateKey)
		}
		return nil, false, fmt.Errorf("failed to attach intent: %w", res.Error)
	}

	if res.RowsAffected == 1 {
		attempt, err := l.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		l.applied(ctx, attempt, models.DonationStateCreated)
		return attempt, true, nil
	}

	attempt, err := l.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if attempt.GatewayIntentID == nil {
		// The attempt left created without an intent (swept). Keep the link
		// for audit so the gateway's events still resolve to this row.
		err := db.Model(&models.DonationAttempt{}).
			Where("id = ? AND gateway_intent_id IS NULL", id).
			Updates(map[string]interface{}{"gateway_intent_id": intentID, "updated_at": now}).Error
		if err != nil {
			return nil, false, fmt.Errorf("failed to attach intent: %w", err)
		}
		attempt, err = l.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
	}
	return attempt, false, nil
}

func (l *GormLedger) Transition(ctx context.Context, id string, from, to models.DonationState, reason string) (*models.DonationAttempt, error) {
	if !from.CanTransitionTo(to) {
		return nil, &InvalidTransitionError{AttemptID: id, From: from, To: to}
	}

	updates := map[string]interface{}{
		"state":      to,
		"updated_at": l.now(),
	}
	if reason != "" {
		updates["failure_reason"] = reason
	}

	res := l.db.WithContext(ctx).Model(&models.DonationAttempt{}).
		Where("id = ? AND state = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to transition attempt: %w", res.Error)
	}

	attempt, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return attempt, &InvalidTransitionError{AttemptID: id, From: from, To: to, Current: attempt.State}
	}

	l.applied(ctx, attempt, from)
	return attempt, nil
}

// applied runs after a transition committed
func (l *GormLedger) applied(ctx context.Context, attempt *models.DonationAttempt, from models.DonationState) {
	l.metrics.Transition(string(attempt.State))
	l.logger.Info("donation state changed",
		zap.String("attempt_id", attempt.ID),
		zap.String("from", string(from)),
		zap.String("to", string(attempt.State)),
	)

	if l.publisher == nil {
		return
	}
	change := StateChange{
		AttemptID:       attempt.ID,
		State:           attempt.State,
		PreviousState:   from,
		GatewayIntentID: attempt.IntentID(),
		Timestamp:       attempt.UpdatedAt,
	}
	if err := l.publisher.PublishStateChange(ctx, change); err != nil {
		l.logger.Warn("failed to publish state change", zap.String("attempt_id", attempt.ID), zap.Error(err))
	}
}

// RecordClientOutcome stores the browser's report. updated_at is left alone
// since it tracks state transitions.
func (l *GormLedger) RecordClientOutcome(ctx context.Context, id string, outcome models.ClientOutcome) (*models.DonationAttempt, error) {
	res := l.db.WithContext(ctx).Model(&models.DonationAttempt{}).
		Where("id = ?", id).
		UpdateColumn("client_outcome", outcome)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to record client outcome: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("donation attempt %s: %w", id, ErrNotFound)
	}
	return l.Get(ctx, id)
}

func (l *GormLedger) FlagForReview(ctx context.Context, id string) error {
	err := l.db.WithContext(ctx).Model(&models.DonationAttempt{}).
		Where("id = ?", id).
		UpdateColumn("needs_review", true).Error
	if err != nil {
		return fmt.Errorf("failed to flag attempt for review: %w", err)
	}
	return nil
}

func (l *GormLedger) ListNeedsReview(ctx context.Context, limit int) ([]models.DonationAttempt, error) {
	var attempts []models.DonationAttempt
	err := l.db.WithContext(ctx).
		Where("needs_review = ?", true).
		Order("updated_at DESC").
		Limit(limit).
		Find(&attempts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts for review: %w", err)
	}
	return attempts, nil
}

// ClaimReceipt takes the right to send the receipt for a completed attempt.
// A claim older than lease is considered abandoned and can be taken over.
func (l *GormLedger) ClaimReceipt(ctx context.Context, id string, lease time.Duration) (bool, error) {
	now := l.now()
	res := l.db.WithContext(ctx).Model(&models.DonationAttempt{}).
		Where("id = ? AND state = ? AND notified_at IS NULL", id, models.DonationStateCompleted).
		Where("(receipt_claimed_at IS NULL OR receipt_claimed_at < ?)", now.Add(-lease)).
		UpdateColumn("receipt_claimed_at", now)
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim receipt: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (l *GormLedger) ReleaseReceipt(ctx context.Context, id string) error {
	err := l.db.WithContext(ctx).Model(&models.DonationAttempt{}).
		Where("id = ? AND notified_at IS NULL", id).
		UpdateColumn("receipt_claimed_at", nil).Error
	if err != nil {
		return fmt.Errorf("failed to release receipt claim: %w", err)
	}
	return nil
}

// MarkNotified sets notified_at if it is still null
func (l *GormLedger) MarkNotified(ctx context.Context, id string) (bool, error) {
	res := l.db.WithContext(ctx).Model(&models.DonationAttempt{}).
		Where("id = ? AND notified_at IS NULL", id).
		UpdateColumn("notified_at", l.now())
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark attempt notified: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (l *GormLedger) ListStale(ctx context.Context, state models.DonationState, createdBefore time.Time, limit int) ([]models.DonationAttempt, error) {
	var attempts []models.DonationAttempt
	err := l.db.WithContext(ctx).
		Where("state = ? AND created_at < ?", state, createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&attempts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale attempts: %w", err)
	}
	return attempts, nil
}

func (l *GormLedger) ListUnnotified(ctx context.Context, updatedBefore time.Time, limit int) ([]models.DonationAttempt, error) {
	var attempts []models.DonationAttempt
	err := l.db.WithContext(ctx).
		Where("state = ? AND notified_at IS NULL AND updated_at < ?", models.DonationStateCompleted, updatedBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&attempts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list unnotified attempts: %w", err)
	}
	return attempts, nil
}

// isDuplicateKey recognises unique violations with or without gorm's
// TranslateError enabled.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "SQLSTATE 23505")
}
