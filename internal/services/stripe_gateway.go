package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"meauxbility_api/internal/donations"
)

// StripeGateway implements donations.Gateway on Stripe PaymentIntents
type StripeGateway struct {
	client        *stripe.Client
	webhookSecret string
	tolerance     time.Duration
	minAmount     int64
}

// NewStripeGateway builds a gateway client. A non-positive tolerance falls
// back to Stripe's default of five minutes.
func NewStripeGateway(secretKey, webhookSecret string, tolerance time.Duration, minAmount int64) *StripeGateway {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &StripeGateway{
		client:        stripe.NewClient(secretKey),
		webhookSecret: webhookSecret,
		tolerance:     tolerance,
		minAmount:     minAmount,
	}
}

func (g *StripeGateway) CreateIntent(ctx context.Context, req donations.CreateIntentRequest) (donations.Intent, error) {
	if err := donations.ValidateAmount(req.AmountMinorUnits, g.minAmount); err != nil {
		return donations.Intent{}, err
	}

	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(req.AmountMinorUnits),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(req.ReceiptEmail)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.SetIdempotencyKey(req.IdempotencyKey)

	pi, err := g.client.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		return donations.Intent{}, classifyStripeError("create_intent", err)
	}
	return toIntent(pi), nil
}

func (g *StripeGateway) RetrieveIntent(ctx context.Context, intentID string) (donations.Intent, error) {
	pi, err := g.client.V1PaymentIntents.Retrieve(ctx, intentID, nil)
	if err != nil {
		return donations.Intent{}, classifyStripeError("retrieve_intent", err)
	}
	return toIntent(pi), nil
}

func toIntent(pi *stripe.PaymentIntent) donations.Intent {
	return donations.Intent{
		ID:               pi.ID,
		ClientSecret:     pi.ClientSecret,
		AmountMinorUnits: pi.Amount,
		Currency:         string(pi.Currency),
		Status:           string(pi.Status),
	}
}

// classifyStripeError marks which failures are worth retrying with the same
// idempotency key. Network errors never reach Stripe's error decoding.
func classifyStripeError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &donations.GatewayError{Op: op, Retryable: false, Err: err}
	}

	var serr *stripe.Error
	if !errors.As(err, &serr) {
		return &donations.GatewayError{Op: op, Retryable: true, Err: err}
	}

	retryable := serr.HTTPStatusCode >= http.StatusInternalServerError ||
		serr.HTTPStatusCode == http.StatusTooManyRequests ||
		serr.Type == stripe.ErrorTypeAPI
	return &donations.GatewayError{Op: op, Retryable: retryable, Err: fmt.Errorf("%s (%s)", serr.Msg, serr.Code)}
}

// VerifyWebhook checks the Stripe-Signature header and decodes the event
// into one of the donations event variants.
func (g *StripeGateway) VerifyWebhook(payload []byte, signatureHeader string) (donations.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                g.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	switch {
	case errors.Is(err, webhook.ErrTooOld):
		return nil, &donations.ReplayError{Err: err}
	case err != nil:
		return nil, &donations.SignatureError{Err: err}
	}

	meta := donations.EventMeta{
		ID:        event.ID,
		Type:      string(event.Type),
		CreatedAt: time.Unix(event.Created, 0).UTC(),
	}

	switch meta.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
	default:
		return donations.IgnoredEvent{EventMeta: meta}, nil
	}

	var pi stripe.PaymentIntent
	if event.Data == nil {
		return nil, &donations.SignatureError{Err: errors.New("event has no data object")}
	}
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		// Signed by Stripe but not a payment intent we can read.
		return nil, &donations.SignatureError{Err: fmt.Errorf("decode payment intent: %w", err)}
	}
	meta.IntentID = pi.ID
	meta.AttemptID = pi.Metadata["attempt_id"]

	switch meta.Type {
	case "payment_intent.succeeded":
		return donations.PaymentSucceeded{EventMeta: meta}, nil
	case "payment_intent.payment_failed":
		reason := "payment failed"
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			reason = pi.LastPaymentError.Msg
		}
		return donations.PaymentFailed{EventMeta: meta, Reason: reason}, nil
	default:
		reason := string(pi.CancellationReason)
		if reason == "" {
			reason = "canceled"
		}
		return donations.PaymentCanceled{EventMeta: meta, Reason: reason}, nil
	}
}
