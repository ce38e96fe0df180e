package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/healthlink/healthlink/internal/platform/auth"
)

// quietRoutes are polled by health checks and scrapers; successful hits log at debug.
var quietRoutes = map[string]bool{
	"/health":    true,
	"/health/db": true,
	"/metrics":   true,
}

// Logger writes one structured line per request with its status, latency and
// the authenticated subject.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			req := c.Request()
			status := statusOf(c, err)
			rid, _ := c.Get(requestIDKey).(string)

			logger.WithLevel(requestLevel(c.Path(), status, err)).
				Err(err).
				Str("request_id", rid).
				Str("method", req.Method).
				Str("route", c.Path()).
				Str("path", req.URL.Path).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Str("subject", auth.UserIDFromContext(req.Context())).
				Msg("request")
			return err
		}
	}
}

func requestLevel(route string, status int, err error) zerolog.Level {
	switch {
	case status >= 500:
		return zerolog.ErrorLevel
	case err != nil || status >= 400:
		return zerolog.WarnLevel
	case quietRoutes[route]:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// statusOf is the status the error handler will send for err, or the status
// already written.
func statusOf(c echo.Context, err error) int {
	if err != nil && !c.Response().Committed {
		code, _ := resolve(err)
		return code
	}
	return c.Response().Status
}
