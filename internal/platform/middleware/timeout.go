package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/healthlink/healthlink/pkg/response"
)

// RequestTimeout gives each request context a deadline. The handler runs on
// the request goroutine and must honour ctx. Output the handler produces after
// the deadline, before anything was sent, is discarded and the client gets a
// 504 instead. Requests under an exempt path prefix (the websocket upgrade,
// the metrics scrape) run unbounded.
func RequestTimeout(timeout time.Duration, exempt ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if timeout <= 0 || underPrefix(req.URL.Path, exempt) {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(req.Context(), timeout)
			defer cancel()
			c.SetRequest(req.WithContext(ctx))

			res := c.Response()
			orig := res.Writer
			dw := &deadlineWriter{ResponseWriter: orig, ctx: ctx}
			res.Writer = dw
			err := next(c)
			res.Writer = orig

			if dw.wrote {
				return err
			}
			if dw.expired || (errors.Is(ctx.Err(), context.DeadlineExceeded) && !res.Committed) {
				res.Committed = false
				res.Status = 0
				res.Size = 0
				return response.Fail(c, http.StatusGatewayTimeout, "request timed out after "+timeout.String())
			}
			return err
		}
	}
}

// deadlineWriter discards the response once ctx has expired, unless the
// handler already started writing.
type deadlineWriter struct {
	http.ResponseWriter
	ctx     context.Context
	wrote   bool
	expired bool
}

func (w *deadlineWriter) late() bool {
	if !w.wrote && !w.expired && errors.Is(w.ctx.Err(), context.DeadlineExceeded) {
		w.expired = true
	}
	return w.expired
}

func (w *deadlineWriter) WriteHeader(code int) {
	if w.late() {
		return
	}
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *deadlineWriter) Write(b []byte) (int, error) {
	if w.late() {
		return 0, http.ErrHandlerTimeout
	}
	w.wrote = true
	return w.ResponseWriter.Write(b)
}

func (w *deadlineWriter) Flush() {
	if w.late() {
		return
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *deadlineWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func underPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		p = strings.TrimSuffix(p, "/")
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
