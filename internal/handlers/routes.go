package handlers

import (
	"github.com/labstack/echo/v4"
)

// Routes bundles the handlers and route-scoped middleware for RegisterRoutes.
// A nil RateLimit or AdminAuth leaves the group unguarded or unregistered.
type Routes struct {
	Donations *DonationHandler
	Webhooks  *WebhookHandler
	Forms     *FormHandler
	Admin     *AdminHandler
	Health    *HealthHandler

	IntakeRateLimit echo.MiddlewareFunc
	AdminAuth       echo.MiddlewareFunc
}

func RegisterRoutes(e *echo.Echo, r Routes) {
	e.GET("/health", r.Health.Health)
	e.GET("/ready", r.Health.Ready)

	api := e.Group("/api")

	intake := []echo.MiddlewareFunc{}
	if r.IntakeRateLimit != nil {
		intake = append(intake, r.IntakeRateLimit)
	}
	api.POST("/donations", r.Donations.CreateDonation, intake...)
	api.GET("/donations/:id", r.Donations.GetDonation)
	api.POST("/donations/:id/confirm", r.Donations.ConfirmDonation)

	api.POST("/webhooks/stripe", r.Webhooks.StripeWebhook)

	if r.Forms != nil {
		api.POST("/forms/contact", r.Forms.SubmitContact)
		api.POST("/subscribe", r.Forms.Subscribe)
	}

	// Admin routes need a verifier; without Firebase they are not served.
	if r.Admin != nil && r.AdminAuth != nil {
		admin := e.Group("/admin", r.AdminAuth)
		admin.GET("/donations/review", r.Admin.ListReview)
		admin.GET("/donations/:id", r.Admin.ShowDonation)
		admin.GET("/webhooks/dead-letter", r.Admin.ListDeadLettered)
	}
}
