package order

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthlink/healthlink/internal/platform/apperr"
	"github.com/healthlink/healthlink/internal/platform/auth"
	"github.com/healthlink/healthlink/pkg/pagination"
	"github.com/healthlink/healthlink/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/orders")
	g.POST("", h.Place, auth.RequireRole(auth.RolePatient))
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PATCH("/:id/status", h.UpdateStatus, auth.RequireRole(auth.RoleMedicalStore))
}

func hasRole(ctx context.Context, role string) bool {
	return auth.HasRole(auth.RolesFromContext(ctx), role)
}

// CanView allows admins, the ordering patient and the store.
func CanView(ctx context.Context, o *Order) bool {
	if hasRole(ctx, auth.RoleAdmin) {
		return true
	}
	subject := auth.UserIDFromContext(ctx)
	if hasRole(ctx, auth.RolePatient) && subject == o.UserID {
		return true
	}
	return hasRole(ctx, auth.RoleMedicalStore) && subject == o.StoreID.String()
}

func canFulfil(ctx context.Context, o *Order) bool {
	if hasRole(ctx, auth.RoleAdmin) {
		return true
	}
	return hasRole(ctx, auth.RoleMedicalStore) && auth.UserIDFromContext(ctx) == o.StoreID.String()
}

func (h *Handler) load(c echo.Context, allowed func(context.Context, *Order) bool) (*Order, error) {
	ctx := c.Request().Context()
	o, err := h.svc.GetOrder(ctx, c.Param("id"))
	if err != nil {
		return nil, err
	}
	if !allowed(ctx, o) {
		return nil, echo.NewHTTPError(http.StatusForbidden, "not allowed to access this order")
	}
	return o, nil
}

func (h *Handler) Place(c echo.Context) error {
	var req PlaceRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	ctx := c.Request().Context()
	o, err := h.svc.PlaceOrder(ctx, auth.UserIDFromContext(ctx), req)
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusCreated, "order placed", o)
}

func (h *Handler) Get(c echo.Context) error {
	o, err := h.load(c, CanView)
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusOK, "", o)
}

// List returns the caller's orders: a patient's purchases or a store's
// queue. Admins may filter by userId and storeId.
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	p := pagination.FromContext(c)
	f := Filter{Status: c.QueryParam("status")}
	subject := auth.UserIDFromContext(ctx)

	switch {
	case hasRole(ctx, auth.RoleAdmin):
		f.UserID = c.QueryParam("userId")
		f.StoreID = c.QueryParam("storeId")
	case hasRole(ctx, auth.RoleMedicalStore):
		f.StoreID = subject
	case hasRole(ctx, auth.RolePatient):
		f.UserID = subject
	default:
		return echo.NewHTTPError(http.StatusForbidden, "insufficient permissions")
	}
	if f.StoreID != "" {
		if _, err := uuid.Parse(f.StoreID); err != nil {
			return apperr.Validation("invalid storeId")
		}
	}

	items, total, err := h.svc.Search(ctx, f, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusOK, "", pagination.NewPage(items, total, p))
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if _, err := h.load(c, canFulfil); err != nil {
		return err
	}
	o, err := h.svc.UpdateOrderStatus(c.Request().Context(), c.Param("id"), req.Status)
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusOK, "order status updated", o)
}
