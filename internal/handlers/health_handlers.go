package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
)

const serviceName = "meauxbility-api"

// Pinger is a dependency the readiness check can probe
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	checks map[string]Pinger
}

func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{checks: checks}
}

type healthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Health reports liveness only
func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok", Service: serviceName})
}

// Ready pings every dependency and answers 503 if any fails
func (h *HealthHandler) Ready(c echo.Context) error {
	resp := healthResponse{Status: "ok", Service: serviceName, Checks: map[string]string{}}
	status := http.StatusOK
	for name, p := range h.checks {
		if err := p.Ping(c.Request().Context()); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	return c.JSON(status, resp)
}
