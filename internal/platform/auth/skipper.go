package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// publicRoutes bypass authentication, keyed by method and route pattern.
var publicRoutes = map[string]bool{
	"GET /health":                          true,
	"GET /health/db":                       true,
	"GET /metrics":                         true,
	"POST /api/v1/auth/:role/login":        true,
	"POST /api/v1/hospitals":               true,
	"POST /api/v1/medical-stores":          true,
	"POST /api/v1/doctors":                 true,
	"POST /api/v1/doctors/setup-password":  true,
	"POST /api/v1/doctors/reset-passkey":   true,
	"GET /api/v1/hospitals":                true,
	"GET /api/v1/hospitals/:code":          true,
	"GET /api/v1/hospitals/:code/doctors":  true,
	"GET /api/v1/medical-stores":           true,
	"GET /api/v1/doctors/:id":              true,
	"GET /api/v1/doctors/:id/availability": true,
}

// AuthSkipper reports whether the matched route is public.
func AuthSkipper(c echo.Context) bool {
	return IsPublicRoute(c.Request().Method, c.Path())
}

func IsPublicRoute(method, path string) bool {
	if method == http.MethodHead {
		method = http.MethodGet
	}
	return publicRoutes[method+" "+path]
}
