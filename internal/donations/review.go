package donations

import (
	"context"

	"go.uber.org/zap"

	"meauxbility_api/internal/models"
)

// clientContradicts reports whether a terminal attempt disagrees with what
// the browser reported for it.
func clientContradicts(attempt *models.DonationAttempt) bool {
	if !attempt.State.IsTerminal() || attempt.ClientOutcome == models.ClientOutcomeNone {
		return false
	}
	reportedOK := attempt.ClientOutcome == models.ClientOutcomeSucceeded
	return reportedOK != (attempt.State == models.DonationStateCompleted)
}

// gatewayContradicts reports whether a late event would have settled an
// already terminal attempt on the other side of completed.
func gatewayContradicts(attempt *models.DonationAttempt, target models.DonationState) bool {
	if !attempt.State.IsTerminal() || attempt.State == target {
		return false
	}
	return attempt.State == models.DonationStateCompleted || target == models.DonationStateCompleted
}

// flagForReview marks the attempt for a human and logs it with review=true.
// Already flagged attempts are left alone.
func flagForReview(ctx context.Context, ledger Ledger, log *zap.Logger, attempt *models.DonationAttempt, msg string, fields ...zap.Field) error {
	if attempt.NeedsReview {
		return nil
	}
	log.Warn(msg, append([]zap.Field{
		zap.Bool("review", true),
		zap.String("attempt_id", attempt.ID),
		zap.String("state", string(attempt.State)),
		zap.String("client_outcome", string(attempt.ClientOutcome)),
	}, fields...)...)
	if err := ledger.FlagForReview(ctx, attempt.ID); err != nil {
		return err
	}
	attempt.NeedsReview = true
	return nil
}
