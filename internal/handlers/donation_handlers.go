package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"meauxbility_api/internal/donations"
)

type DonationHandler struct {
	intake     Intake
	reconciler Reconciliation
	attempts   AttemptReader
}

func NewDonationHandler(intake Intake, reconciler Reconciliation, attempts AttemptReader) *DonationHandler {
	return &DonationHandler{intake: intake, reconciler: reconciler, attempts: attempts}
}

// CreateDonation handles POST /api/donations
func (h *DonationHandler) CreateDonation(c echo.Context) error {
	var req donations.DonationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	result, err := h.intake.Submit(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// GetDonation handles GET /api/donations/:id
func (h *DonationHandler) GetDonation(c echo.Context) error {
	attempt, err := h.attempts.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, statusOf(attempt))
}

// ConfirmDonation records the outcome the browser saw. The ledger state is
// not changed here; the webhook decides.
func (h *DonationHandler) ConfirmDonation(c echo.Context) error {
	var req ConfirmRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	attempt, err := h.reconciler.ConfirmClient(c.Request().Context(), c.Param("id"), req.Outcome)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, statusOf(attempt))
}
