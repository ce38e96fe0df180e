package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/healthlink/healthlink/pkg/response"
)

const defaultBodyLimit = 1 << 20

var sizeUnits = []struct {
	suffix string
	shift  uint
}{
	{"GB", 30}, {"G", 30},
	{"MB", 20}, {"M", 20},
	{"KB", 10}, {"K", 10},
	{"B", 0},
}

// BodyLimit caps request bodies at limit, a size such as "64K" or "2MB".
// Declared oversize bodies are refused up front; undeclared ones fail on the
// read that crosses the cap and ErrorHandler turns that into a 413.
func BodyLimit(limit string) echo.MiddlewareFunc {
	max, ok := byteSize(limit)
	if !ok {
		max = defaultBodyLimit
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}
			if req.ContentLength > max {
				return response.Fail(c, http.StatusRequestEntityTooLarge,
					fmt.Sprintf("request body is larger than %d bytes", max))
			}
			req.Body = http.MaxBytesReader(c.Response(), req.Body, max)
			return next(c)
		}
	}
}

// byteSize parses a positive size with an optional binary unit suffix.
func byteSize(s string) (int64, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	var shift uint
	for _, u := range sizeUnits {
		if strings.HasSuffix(s, u.suffix) {
			s, shift = strings.TrimSuffix(s, u.suffix), u.shift
			break
		}
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n << shift, true
}
