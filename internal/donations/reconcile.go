package donations

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"meauxbility_api/internal/models"
	"meauxbility_api/internal/telemetry"
)

// CompletionNotifier is told about every attempt this process moved to completed
type CompletionNotifier interface {
	Dispatch(attempt models.DonationAttempt)
}

// WebhookResult is how one delivery was classified. Every outcome except
// deferred means the gateway can stop redelivering.
type WebhookResult struct {
	Outcome   models.WebhookOutcome
	EventID   string
	AttemptID string
	State     models.DonationState
}

// Reconciler applies verified gateway events to the ledger. The webhook is
// the only path that writes completed or failed.
type Reconciler struct {
	gateway    Gateway
	ledger     Ledger
	events     EventLog
	notifier   CompletionNotifier
	deadLetter int
	logger     *zap.Logger
	metrics    *telemetry.Metrics
}

type ReconcilerDeps struct {
	Gateway  Gateway
	Ledger   Ledger
	Events   EventLog
	Notifier CompletionNotifier
	// DeadLetterThreshold is the delivery count at which an event for an
	// unknown intent stops being deferred.
	DeadLetterThreshold int
	Logger              *zap.Logger
	Metrics             *telemetry.Metrics
}

func NewReconciler(deps ReconcilerDeps) *Reconciler {
	threshold := deps.DeadLetterThreshold
	if threshold < 1 {
		threshold = 1
	}
	return &Reconciler{
		gateway:    deps.Gateway,
		ledger:     deps.Ledger,
		events:     deps.Events,
		notifier:   deps.Notifier,
		deadLetter: threshold,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
	}
}

// HandleWebhook verifies and applies one delivery. A returned error is either
// a *SignatureError / *ReplayError (reject, never retry) or a persistence
// failure the gateway should retry.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (result WebhookResult, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "donations.HandleWebhook")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			if IsSecurityError(err) {
				r.metrics.Webhook("rejected")
			} else {
				r.metrics.Webhook("error")
			}
			return
		}
		r.metrics.Webhook(string(result.Outcome))
	}()

	event, err := r.gateway.VerifyWebhook(payload, signatureHeader)
	if err != nil {
		r.logger.Warn("rejected webhook", zap.Bool("security", true), zap.Error(err))
		return WebhookResult{}, err
	}
	meta := event.Meta()
	span.SetAttributes(
		attribute.String("webhook.event_id", meta.ID),
		attribute.String("webhook.type", meta.Type),
	)
	log := r.logger.With(
		zap.String("event_id", meta.ID),
		zap.String("event_type", meta.Type),
		zap.String("intent_id", meta.IntentID),
	)

	record, err := r.events.RecordDelivery(ctx, meta, payload)
	if err != nil {
		return WebhookResult{}, err
	}
	result = WebhookResult{EventID: meta.ID}

	switch record.Outcome {
	case webhookOutcomeReceived, models.WebhookOutcomeDeferred:
	default:
		log.Info("duplicate webhook delivery", zap.String("recorded_outcome", string(record.Outcome)), zap.Int("deliveries", record.Deliveries))
		result.Outcome = models.WebhookOutcomeDuplicate
		return result, nil
	}

	target, reason, ok := targetState(event)
	if !ok {
		result.Outcome = models.WebhookOutcomeIgnored
		return result, r.events.SetOutcome(ctx, meta.ID, result.Outcome, "")
	}

	attempt, err := r.lookup(ctx, meta)
	if errors.Is(err, ErrNotFound) {
		result.Outcome = models.WebhookOutcomeDeferred
		if record.Deliveries >= r.deadLetter {
			result.Outcome = models.WebhookOutcomeDeadLettered
		}
		log.Warn("webhook for unknown intent",
			zap.Int("deliveries", record.Deliveries),
			zap.String("outcome", string(result.Outcome)),
		)
		return result, r.events.SetOutcome(ctx, meta.ID, result.Outcome, err.Error())
	}
	if err != nil {
		return WebhookResult{}, err
	}
	result.AttemptID = attempt.ID

	if attempt.State.IsTerminal() {
		return r.settled(ctx, log, meta, attempt, target, result)
	}

	updated, err := r.ledger.Transition(ctx, attempt.ID, attempt.State, target, reason)
	var terr *InvalidTransitionError
	switch {
	case errors.As(err, &terr):
		// A concurrent delivery applied first, or the attempt is in a state
		// this event cannot move.
		log.Info("webhook transition not applied", zap.String("attempt_id", attempt.ID), zap.Error(err))
		if updated == nil {
			if updated, err = r.ledger.Get(ctx, attempt.ID); err != nil {
				return WebhookResult{}, err
			}
		}
		return r.settled(ctx, log, meta, updated, target, result)
	case err != nil:
		return WebhookResult{}, err
	}

	result.Outcome = models.WebhookOutcomeProcessed
	result.State = updated.State

	if err := r.checkReview(ctx, updated); err != nil {
		log.Error("failed to flag attempt for review", zap.String("attempt_id", updated.ID), zap.Error(err))
	}
	if updated.State == models.DonationStateCompleted && r.notifier != nil {
		r.notifier.Dispatch(*updated)
	}

	return result, r.events.SetOutcome(ctx, meta.ID, result.Outcome, "")
}

// settled records an event that arrived after the attempt stopped moving.
// It stays a duplicate for the gateway; an event that disagrees with the
// stored outcome is flagged for review.
func (r *Reconciler) settled(ctx context.Context, log *zap.Logger, meta EventMeta, attempt *models.DonationAttempt, target models.DonationState, result WebhookResult) (WebhookResult, error) {
	result.Outcome = models.WebhookOutcomeDuplicate
	result.State = attempt.State
	if gatewayContradicts(attempt, target) {
		if err := flagForReview(ctx, r.ledger, log, attempt, "gateway event contradicts ledger state",
			zap.String("event_state", string(target)),
		); err != nil {
			log.Error("failed to flag attempt for review", zap.String("attempt_id", attempt.ID), zap.Error(err))
		}
	}
	return result, r.events.SetOutcome(ctx, meta.ID, result.Outcome, "")
}

// lookup finds the attempt by intent id, falling back to the attempt id in
// the intent metadata for events that beat AttachIntent.
func (r *Reconciler) lookup(ctx context.Context, meta EventMeta) (*models.DonationAttempt, error) {
	attempt, err := r.ledger.FindByGatewayIntentID(ctx, meta.IntentID)
	if err == nil || !errors.Is(err, ErrNotFound) || meta.AttemptID == "" {
		return attempt, err
	}

	attempt, err = r.ledger.Get(ctx, meta.AttemptID)
	if err != nil {
		return nil, err
	}
	switch attempt.IntentID() {
	case "":
		attempt, _, err = r.ledger.AttachIntent(ctx, attempt.ID, meta.IntentID)
		if err != nil {
			return nil, err
		}
		if attempt.IntentID() != meta.IntentID {
			return nil, fmt.Errorf("attempt %s bound to intent %s: %w", attempt.ID, attempt.IntentID(), ErrNotFound)
		}
		return attempt, nil
	case meta.IntentID:
		return attempt, nil
	}
	return nil, fmt.Errorf("attempt %s bound to intent %s: %w", attempt.ID, attempt.IntentID(), ErrNotFound)
}

// ConfirmClient records what the browser reported. It never changes state.
func (r *Reconciler) ConfirmClient(ctx context.Context, attemptID string, outcome models.ClientOutcome) (*models.DonationAttempt, error) {
	if outcome != models.ClientOutcomeSucceeded && outcome != models.ClientOutcomeFailed {
		verr := &ValidationError{}
		verr.add("outcome", "must be %q or %q", models.ClientOutcomeSucceeded, models.ClientOutcomeFailed)
		return nil, verr
	}

	attempt, err := r.ledger.RecordClientOutcome(ctx, attemptID, outcome)
	if err != nil {
		return nil, err
	}
	if err := r.checkReview(ctx, attempt); err != nil {
		return nil, err
	}
	return attempt, nil
}

// checkReview flags attempts whose terminal state contradicts the client's
// report. Both writers call it after their own write, so whichever lands
// second sees the conflict.
func (r *Reconciler) checkReview(ctx context.Context, attempt *models.DonationAttempt) error {
	if !clientContradicts(attempt) {
		return nil
	}
	return flagForReview(ctx, r.ledger, r.logger, attempt, "client outcome contradicts ledger state")
}
