package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"meauxbility_api/internal/donations"
)

// ErrorResponse is the JSON body of every error reply
type ErrorResponse struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

// NewErrorHandler maps domain and echo errors to JSON responses
func NewErrorHandler(log *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, body := classify(err)

		switch {
		case code >= http.StatusInternalServerError:
			log.Error("request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Int("status", code),
				zap.Error(err),
			)
		case donations.IsSecurityError(err):
			log.Warn("request rejected", zap.Bool("security", true), zap.String("path", c.Path()), zap.Error(err))
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(code)
		} else {
			writeErr = c.JSON(code, body)
		}
		if writeErr != nil {
			log.Error("failed to write error response", zap.Error(writeErr))
		}
	}
}

func classify(err error) (int, ErrorResponse) {
	var verr *donations.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest, ErrorResponse{Error: "validation failed", Details: verr.Fields}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok && m != "" {
			msg = m
		}
		return he.Code, ErrorResponse{Error: msg}
	}

	switch {
	case errors.Is(err, donations.ErrSignature), errors.Is(err, donations.ErrReplay):
		return http.StatusBadRequest, ErrorResponse{Error: "invalid webhook signature"}
	case errors.Is(err, donations.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "not found"}
	case errors.Is(err, donations.ErrGateway):
		return http.StatusBadGateway, ErrorResponse{Error: "payment provider unavailable, please retry"}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "something went wrong, please try again later"}
}
