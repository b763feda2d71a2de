package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"meauxbility_api/internal/models"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// DeadLetterReader lists webhook events that gave up waiting for their attempt
type DeadLetterReader interface {
	ListDeadLettered(ctx context.Context, limit int) ([]models.WebhookEvent, error)
}

type AdminHandler struct {
	attempts AttemptReader
	events   DeadLetterReader
}

func NewAdminHandler(attempts AttemptReader, events DeadLetterReader) *AdminHandler {
	return &AdminHandler{attempts: attempts, events: events}
}

type reviewListResponse struct {
	Count    int                      `json:"count"`
	Attempts []models.DonationAttempt `json:"attempts"`
}

type deadLetterResponse struct {
	Count  int                   `json:"count"`
	Events []models.WebhookEvent `json:"events"`
}

// ListReview handles GET /admin/donations/review
func (h *AdminHandler) ListReview(c echo.Context) error {
	attempts, err := h.attempts.ListNeedsReview(c.Request().Context(), pageSize(c))
	if err != nil {
		return err
	}
	if attempts == nil {
		attempts = []models.DonationAttempt{}
	}
	return c.JSON(http.StatusOK, reviewListResponse{Count: len(attempts), Attempts: attempts})
}

// ShowDonation handles GET /admin/donations/:id and includes donor details
func (h *AdminHandler) ShowDonation(c echo.Context) error {
	attempt, err := h.attempts.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, attempt)
}

// ListDeadLettered handles GET /admin/webhooks/dead-letter
func (h *AdminHandler) ListDeadLettered(c echo.Context) error {
	events, err := h.events.ListDeadLettered(c.Request().Context(), pageSize(c))
	if err != nil {
		return err
	}
	if events == nil {
		events = []models.WebhookEvent{}
	}
	return c.JSON(http.StatusOK, deadLetterResponse{Count: len(events), Events: events})
}

func pageSize(c echo.Context) int {
	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}
