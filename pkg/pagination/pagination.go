// Package pagination handles the limit/offset window of list endpoints.
package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params is a limit/offset window.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads ?limit= and ?offset=. Missing or malformed values fall
// back to the defaults; limit is capped at MaxLimit.
func FromContext(c echo.Context) Params {
	p := Params{
		Limit:  queryInt(c, "limit", DefaultLimit),
		Offset: queryInt(c, "offset", 0),
	}
	if p.Limit == 0 {
		p.Limit = DefaultLimit
	}
	p.Limit = min(p.Limit, MaxLimit)
	return p
}

func queryInt(c echo.Context, name string, fallback int) int {
	v, err := strconv.Atoi(c.QueryParam(name))
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

// HasNext reports whether rows remain past this window.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// Page is the data payload of a list response.
type Page[T any] struct {
	Items   []T  `json:"items"`
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// NewPage wraps one window of results. A nil slice is sent as [].
func NewPage[T any](items []T, total int, p Params) *Page[T] {
	if items == nil {
		items = []T{}
	}
	return &Page[T]{Items: items, Total: total, Limit: p.Limit, Offset: p.Offset, HasMore: p.HasNext(total)}
}
