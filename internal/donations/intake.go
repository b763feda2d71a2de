package donations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"meauxbility_api/internal/models"
	"meauxbility_api/internal/telemetry"
)

// Organization is stamped onto every intent's metadata
type Organization struct {
	Name string
	EIN  string
}

// IntakeResult is returned to the donor's browser
type IntakeResult struct {
	AttemptID       string               `json:"attemptId"`
	GatewayIntentID string               `json:"gatewayIntentId,omitempty"`
	ClientSecret    string               `json:"clientSecret,omitempty"`
	State           models.DonationState `json:"state"`
}

// RetryPolicy bounds gateway retries on transient failures
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

var DefaultRetryPolicy = RetryPolicy{Attempts: 3, BaseDelay: 200 * time.Millisecond}

// IntakeService turns donation requests into gateway intents. Every caller
// for the same idempotency key runs the same idempotent steps, so retries and
// concurrent duplicates converge on one attempt and one intent.
type IntakeService struct {
	ledger  Ledger
	store   IdempotencyStore
	gateway Gateway
	limits  Limits
	org     Organization
	retry   RetryPolicy
	logger  *zap.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

type IntakeDeps struct {
	Ledger  Ledger
	Store   IdempotencyStore
	Gateway Gateway
	Limits  Limits
	Org     Organization
	Retry   RetryPolicy
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
	Now     func() time.Time
}

func NewIntakeService(deps IntakeDeps) *IntakeService {
	s := &IntakeService{
		ledger:  deps.Ledger,
		store:   deps.Store,
		gateway: deps.Gateway,
		limits:  deps.Limits,
		org:     deps.Org,
		retry:   deps.Retry,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		now:     deps.Now,
	}
	if s.retry.Attempts < 1 {
		s.retry = DefaultRetryPolicy
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Submit validates req and returns the intent for its idempotency key,
// creating attempt and intent on first use.
func (s *IntakeService) Submit(ctx context.Context, req DonationRequest) (result *IntakeResult, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "donations.Submit")
	defer span.End()
	defer func() {
		s.metrics.Intake(intakeOutcome(err))
		if err != nil {
			span.RecordError(err)
		}
	}()

	req.Normalize()
	if err := req.Validate(s.limits); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("donation.idempotency_key", req.IdempotencyKey))

	reservation, err := s.store.Reserve(ctx, req.IdempotencyKey, uuid.NewString())
	if err != nil {
		return nil, err
	}

	attempt, err := s.ensureAttempt(ctx, reservation, req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("donation.attempt_id", attempt.ID))

	if attempt.AmountMinorUnits != req.AmountMinorUnits || attempt.Currency != req.Currency {
		s.logger.Warn("retry differs from original donation request, using original",
			zap.String("attempt_id", attempt.ID),
			zap.Int64("original_amount", attempt.AmountMinorUnits),
			zap.Int64("retry_amount", req.AmountMinorUnits),
			zap.String("original_currency", attempt.Currency),
			zap.String("retry_currency", req.Currency),
		)
	}

	return s.converge(ctx, attempt)
}

// ensureAttempt returns the ledger row for the reserved key, creating it when
// absent. Losing a create race to another caller is not an error.
func (s *IntakeService) ensureAttempt(ctx context.Context, reservation Reservation, req DonationRequest) (*models.DonationAttempt, error) {
	if !reservation.IsNew {
		existing, err := s.ledger.FindByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		// Reserved by a caller that has not written its row yet, or never will.
	}

	attempt := &models.DonationAttempt{
		ID:               reservation.AttemptID,
		IdempotencyKey:   req.IdempotencyKey,
		AmountMinorUnits: req.AmountMinorUnits,
		Currency:         req.Currency,
		DonorEmail:       req.DonorEmail,
		DonorName:        req.DonorName,
		Metadata:         s.metadata(reservation.AttemptID, req),
		State:            models.DonationStateCreated,
		CreatedAt:        s.now(),
	}
	err := s.ledger.Create(ctx, attempt)
	if errors.Is(err, ErrDuplicateKey) {
		return s.ledger.FindByIdempotencyKey(ctx, req.IdempotencyKey)
	}
	if err != nil {
		return nil, err
	}
	return attempt, nil
}

func (s *IntakeService) metadata(attemptID string, req DonationRequest) datatypes.JSONMap {
	md := datatypes.JSONMap{}
	for k, v := range req.Metadata {
		md[k] = v
	}
	md["attempt_id"] = attemptID
	md["idempotency_key"] = req.IdempotencyKey
	md["organization"] = s.org.Name
	md["ein"] = s.org.EIN
	return md
}

// converge brings attempt to pending_confirmation with an attached intent,
// or reports its current state when it is already past that point.
func (s *IntakeService) converge(ctx context.Context, attempt *models.DonationAttempt) (*IntakeResult, error) {
	if attempt.State.IsTerminal() {
		return resultFor(attempt, ""), nil
	}

	if attempt.GatewayIntentID != nil {
		intent, err := s.withRetry(ctx, "retrieve_intent", func(ctx context.Context) (Intent, error) {
			return s.gateway.RetrieveIntent(ctx, *attempt.GatewayIntentID)
		})
		if err != nil {
			return nil, err
		}
		return resultFor(attempt, intent.ClientSecret), nil
	}

	intent, err := s.withRetry(ctx, "create_intent", func(ctx context.Context) (Intent, error) {
		return s.gateway.CreateIntent(ctx, CreateIntentRequest{
			AmountMinorUnits: attempt.AmountMinorUnits,
			Currency:         attempt.Currency,
			IdempotencyKey:   attempt.IdempotencyKey,
			Metadata:         attempt.StringMetadata(),
			ReceiptEmail:     attempt.DonorEmail,
			Description:      s.org.Name + " donation",
		})
	})
	if err != nil {
		return nil, err
	}

	attached, _, err := s.ledger.AttachIntent(ctx, attempt.ID, intent.ID)
	if err != nil {
		return nil, err
	}

	switch {
	case attached.IntentID() != intent.ID:
		// Another caller attached a different intent first; that one wins.
		s.logger.Warn("gateway returned a different intent than the one attached",
			zap.String("attempt_id", attached.ID),
			zap.String("attached_intent_id", attached.IntentID()),
			zap.String("returned_intent_id", intent.ID),
			zap.Bool("review", true),
		)
		return s.converge(ctx, attached)
	case attached.State.IsTerminal():
		return resultFor(attached, ""), nil
	}
	return resultFor(attached, intent.ClientSecret), nil
}

func resultFor(attempt *models.DonationAttempt, clientSecret string) *IntakeResult {
	return &IntakeResult{
		AttemptID:       attempt.ID,
		GatewayIntentID: attempt.IntentID(),
		ClientSecret:    clientSecret,
		State:           attempt.State,
	}
}

// withRetry retries retryable gateway errors with exponential backoff
func (s *IntakeService) withRetry(ctx context.Context, op string, fn func(context.Context) (Intent, error)) (Intent, error) {
	delay := s.retry.BaseDelay
	var lastErr error
	for i := 0; i < s.retry.Attempts; i++ {
		intent, err := fn(ctx)
		if err == nil {
			return intent, nil
		}
		lastErr = err

		var gerr *GatewayError
		if !errors.As(err, &gerr) || !gerr.Retryable {
			return Intent{}, err
		}
		if i == s.retry.Attempts-1 {
			break
		}

		s.logger.Warn("gateway call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", i+1),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return Intent{}, fmt.Errorf("gateway %s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return Intent{}, lastErr
}

func intakeOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrGateway):
		return "gateway_error"
	}
	return "error"
}
