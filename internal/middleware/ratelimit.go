package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// WindowCounter counts hits per key in fixed windows
type WindowCounter interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimit allows limit requests per client IP per window. If the counter
// is unreachable the request is let through.
func RateLimit(counter WindowCounter, prefix string, limit int, window time.Duration, log *zap.Logger) echo.MiddlewareFunc {
	if window < time.Second {
		window = time.Minute
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if counter == nil || limit <= 0 {
				return next(c)
			}

			bucket := time.Now().Unix() / int64(window.Seconds())
			key := prefix + c.RealIP() + ":" + strconv.FormatInt(bucket, 10)
			count, err := counter.IncrementWindow(c.Request().Context(), key, window)
			if err != nil {
				log.Warn("rate limit counter unavailable", zap.Error(err))
				return next(c)
			}

			remaining := int64(limit) - count
			if remaining < 0 {
				remaining = 0
			}
			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

			if count > int64(limit) {
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests, slow down")
			}
			return next(c)
		}
	}
}
