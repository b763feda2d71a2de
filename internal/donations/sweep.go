package donations

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"meauxbility_api/internal/models"
	"meauxbility_api/internal/telemetry"
)

const sweepBatchSize = 100

// SweepResult counts attempts the sweep moved
type SweepResult struct {
	Failed   int `json:"failed"`
	Canceled int `json:"canceled"`
}

// Sweeper bounds the lifetime of attempts the gateway never resolved.
// pending_confirmation rows older than Window become failed; created rows
// that never got an intent become canceled after Grace.
type Sweeper struct {
	ledger  Ledger
	window  time.Duration
	grace   time.Duration
	logger  *zap.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

type SweeperDeps struct {
	Ledger  Ledger
	Window  time.Duration
	Grace   time.Duration
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
	Now     func() time.Time
}

func NewSweeper(deps SweeperDeps) *Sweeper {
	s := &Sweeper{
		ledger:  deps.Ledger,
		window:  deps.Window,
		grace:   deps.Grace,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		now:     deps.Now,
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Sweep runs one pass. Rows created exactly at the cutoff are left alone.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	now := s.now()
	var result SweepResult

	failed, err := s.sweepState(ctx, models.DonationStatePendingConfirmation, models.DonationStateFailed,
		now.Add(-s.window), "no gateway confirmation within sweep window")
	result.Failed = failed
	if err != nil {
		return result, err
	}

	canceled, err := s.sweepState(ctx, models.DonationStateCreated, models.DonationStateCanceled,
		now.Add(-s.grace), "payment intent never created")
	result.Canceled = canceled
	if err != nil {
		return result, err
	}

	if result.Failed > 0 || result.Canceled > 0 {
		s.logger.Info("swept stale donation attempts", zap.Int("failed", result.Failed), zap.Int("canceled", result.Canceled))
	}
	return result, nil
}

func (s *Sweeper) sweepState(ctx context.Context, from, to models.DonationState, cutoff time.Time, reason string) (int, error) {
	moved := 0
	for {
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		batch, err := s.ledger.ListStale(ctx, from, cutoff, sweepBatchSize)
		if err != nil {
			return moved, err
		}

		for _, attempt := range batch {
			swept, err := s.ledger.Transition(ctx, attempt.ID, from, to, reason)
			if errors.Is(err, ErrInvalidTransition) {
				// Resolved by a webhook or another sweeper since it was listed.
				continue
			}
			if err != nil {
				return moved, err
			}
			moved++
			s.metrics.Sweep(string(to))
			if clientContradicts(swept) {
				if err := flagForReview(ctx, s.ledger, s.logger, swept, "swept attempt the client reported as paid"); err != nil {
					return moved, err
				}
			}
		}

		if len(batch) < sweepBatchSize {
			return moved, nil
		}
	}
}
