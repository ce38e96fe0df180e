package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/healthlink/healthlink/internal/platform/apperr"
	"github.com/healthlink/healthlink/pkg/response"
)

// ErrorHandler writes every handler error as the response envelope. Typed
// domain errors map to their status; unclassified errors become a 500 with a
// generic message and are logged.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, msg := resolve(err)
		if code >= http.StatusInternalServerError {
			rid, _ := c.Get(requestIDKey).(string)
			logger.Error().Err(err).Str("request_id", rid).Str("path", c.Request().URL.Path).Msg("request failed")
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(code)
		} else {
			writeErr = response.Fail(c, code, msg)
		}
		if writeErr != nil {
			logger.Error().Err(writeErr).Msg("write error response")
		}
	}
}

func resolve(err error) (int, string) {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return http.StatusRequestEntityTooLarge, fmt.Sprintf("request body is larger than %d bytes", mbe.Limit)
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if he.Internal != nil {
			if _, ok := he.Internal.(*apperr.Error); ok {
				return resolve(he.Internal)
			}
		}
		return he.Code, fmt.Sprint(he.Message)
	}
	return apperr.HTTPStatus(err), apperr.Message(err)
}
