package notification

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/healthlink/healthlink/internal/platform/auth"
	"github.com/healthlink/healthlink/pkg/response"
)

// Handler exposes the notification history to admins.
type Handler struct {
	manager *Manager
}

func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	admin := g.Group("/notifications", auth.RequireRole(auth.RoleAdmin))
	admin.GET("", h.List)
	admin.GET("/stats", h.Stats)
	admin.GET("/:id", h.Get)
	admin.POST("/:id/retry", h.Retry)
}

func (h *Handler) List(c echo.Context) error {
	recipient := c.QueryParam("recipient")
	if recipient == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "recipient is required")
	}
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	items := h.manager.ListByRecipient(c.Request().Context(), recipient, limit)
	if items == nil {
		items = []*Notification{}
	}
	return response.OK(c, http.StatusOK, "", items)
}

func (h *Handler) Get(c echo.Context) error {
	n, err := h.manager.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	}
	return response.OK(c, http.StatusOK, "", n)
}

func (h *Handler) Retry(c echo.Context) error {
	n, err := h.manager.Retry(c.Request().Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	}
	if n == nil && err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return response.OK(c, http.StatusOK, "retry failed: "+err.Error(), n)
	}
	return response.OK(c, http.StatusOK, "notification sent", n)
}

func (h *Handler) Stats(c echo.Context) error {
	return response.OK(c, http.StatusOK, "", h.manager.Stats(c.Request().Context()))
}
