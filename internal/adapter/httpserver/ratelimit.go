package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

const throttleIdleExpiry = 5 * time.Minute

type throttleResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after_seconds"`
}

// newAdminThrottle limits admin calls per client IP and route, so a polling
// dashboard on ws-state cannot starve publishes from the same host.
func newAdminThrottle(ratePerSecond float64, burst int, throttled *prometheus.CounterVec) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(ratePerSecond),
		Burst:     burst,
		ExpiresIn: throttleIdleExpiry,
	})

	retryAfter := 1
	if ratePerSecond > 0 && ratePerSecond < 1 {
		retryAfter = int(1/ratePerSecond + 0.5)
	}

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return clientIP(c.Request()) + " " + c.Path(), nil
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			throttled.WithLabelValues(c.Path()).Inc()
			c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
			return c.JSON(http.StatusTooManyRequests, throttleResponse{
				Error:      "rate limit exceeded",
				RetryAfter: retryAfter,
			})
		},
	})
}
