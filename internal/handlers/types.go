package handlers

import (
	"context"
	"time"

	"meauxbility_api/internal/donations"
	"meauxbility_api/internal/models"
)

// Intake creates or resumes a donation attempt
type Intake interface {
	Submit(ctx context.Context, req donations.DonationRequest) (*donations.IntakeResult, error)
}

// Reconciliation applies webhook deliveries and client reports to the ledger
type Reconciliation interface {
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (donations.WebhookResult, error)
	ConfirmClient(ctx context.Context, attemptID string, outcome models.ClientOutcome) (*models.DonationAttempt, error)
}

// AttemptReader is the read side of the ledger used by status and admin pages
type AttemptReader interface {
	Get(ctx context.Context, id string) (*models.DonationAttempt, error)
	ListNeedsReview(ctx context.Context, limit int) ([]models.DonationAttempt, error)
}

// DonationStatus is the public view of an attempt. Donor contact details stay out.
type DonationStatus struct {
	AttemptID        string               `json:"attemptId"`
	GatewayIntentID  string               `json:"gatewayIntentId,omitempty"`
	AmountMinorUnits int64                `json:"amountMinorUnits"`
	Currency         string               `json:"currency"`
	State            models.DonationState `json:"state"`
	ClientOutcome    models.ClientOutcome `json:"clientOutcome,omitempty"`
	UpdatedAt        time.Time            `json:"updatedAt"`
}

func statusOf(a *models.DonationAttempt) DonationStatus {
	return DonationStatus{
		AttemptID:        a.ID,
		GatewayIntentID:  a.IntentID(),
		AmountMinorUnits: a.AmountMinorUnits,
		Currency:         a.Currency,
		State:            a.State,
		ClientOutcome:    a.ClientOutcome,
		UpdatedAt:        a.UpdatedAt,
	}
}

// ConfirmRequest is the body of POST /api/donations/:id/confirm
type ConfirmRequest struct {
	Outcome models.ClientOutcome `json:"outcome"`
}

// MessageResponse is the plain acknowledgement body
type MessageResponse struct {
	Message string `json:"message"`
}
