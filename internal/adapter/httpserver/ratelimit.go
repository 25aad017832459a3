package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/pscheid92/orderpulse/internal/adapter/metrics"
	apperrors "github.com/pscheid92/orderpulse/internal/platform/errors"
)

const (
	rateLimiterExpiry = 5 * time.Minute
	errTypeRateLimit  = "rate_limited"
)

// newRateLimiter limits control-plane calls per client IP. Rejections are
// answered in the structured error format and counted as HTTP errors.
func newRateLimiter(ratePerSecond float64, burst int, m *metrics.HTTPMetrics) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     burst,
			ExpiresIn: rateLimiterExpiry,
		},
	)
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		Store: store,
		DenyHandler: func(c echo.Context, identifier string, _ error) error {
			m.Error(errTypeRateLimit)
			slog.WarnContext(c.Request().Context(), "Rate limit exceeded", "client_ip", identifier, "path", c.Path())
			return c.JSON(http.StatusTooManyRequests, apperrors.ErrorResponse{
				Error: "rate limit exceeded",
				Type:  errTypeRateLimit,
			})
		},
	})
}
