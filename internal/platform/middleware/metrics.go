package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/healthlink/healthlink/internal/platform/metrics"
)

// Metrics observes every request under its route template ("/api/v1/orders/:id")
// rather than the raw path. Unrouted requests share one label.
func Metrics(m *metrics.HTTPMetrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.ObserveRequest(c.Request().Method, route, statusOf(c, err), time.Since(start).Seconds())
			return err
		}
	}
}
