package handlers

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"meauxbility_api/internal/donations"
	"meauxbility_api/internal/models"
)

const (
	stripeSignatureHeader = "Stripe-Signature"
	maxWebhookBody        = 1 << 20
)

type WebhookHandler struct {
	reconciler Reconciliation
	logger     *zap.Logger
}

func NewWebhookHandler(reconciler Reconciliation, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, logger: logger}
}

type webhookResponse struct {
	Received bool                  `json:"received"`
	Outcome  models.WebhookOutcome `json:"outcome"`
}

// StripeWebhook handles POST /api/webhooks/stripe. The body is read raw
// because the signature covers the exact bytes.
func (h *WebhookHandler) StripeWebhook(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to read request body")
	}
	if len(payload) > maxWebhookBody {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "Webhook payload too large")
	}

	result, err := h.reconciler.HandleWebhook(c.Request().Context(), payload, c.Request().Header.Get(stripeSignatureHeader))
	if err != nil {
		if donations.IsSecurityError(err) {
			h.logger.Warn("rejected webhook delivery",
				zap.Bool("security", true),
				zap.String("remote_ip", c.RealIP()),
				zap.Error(err),
			)
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid webhook signature")
		}
		return err
	}

	// deferred asks the gateway to redeliver
	status := http.StatusOK
	if result.Outcome == models.WebhookOutcomeDeferred {
		status = http.StatusConflict
	}
	return c.JSON(status, webhookResponse{Received: status == http.StatusOK, Outcome: result.Outcome})
}
