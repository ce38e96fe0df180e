// Package response defines the JSON envelope every API endpoint returns.
package response

import (
	"github.com/labstack/echo/v4"
)

// Envelope is the standard response body: {"success", "message", "data"}.
type Envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// OK writes a successful envelope.
func OK(c echo.Context, code int, message string, data interface{}) error {
	return c.JSON(code, Envelope{Success: true, Message: message, Data: data})
}

// Fail writes a failure envelope.
func Fail(c echo.Context, code int, message string) error {
	return c.JSON(code, Envelope{Success: false, Message: message})
}
