package appointment

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
	g := api.Group("/appointments")
	g.POST("", h.Book, auth.RequireRole(auth.RolePatient))
	g.GET("", h.List)
	g.GET("/:id", h.Get)

	staff := g.Group("", auth.RequireRole(auth.RoleHospital, auth.RoleDoctor))
	staff.PATCH("/:id/status", h.UpdateStatus)
	staff.POST("/:id/prescription", h.AddPrescription, auth.RequireRole(auth.RoleDoctor))
}

func bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return apperr.Validation("invalid request body")
	}
	return nil
}

func hasRole(ctx context.Context, role string) bool {
	return auth.HasRole(auth.RolesFromContext(ctx), role)
}

// CanView allows admins, the booking patient, the doctor and the hospital.
func CanView(ctx context.Context, a *Appointment) bool {
	if hasRole(ctx, auth.RoleAdmin) {
		return true
	}
	subject := auth.UserIDFromContext(ctx)
	switch {
	case hasRole(ctx, auth.RolePatient) && subject == a.UserID:
		return true
	case hasRole(ctx, auth.RoleDoctor) && subject == a.DoctorID.String():
		return true
	case hasRole(ctx, auth.RoleHospital) && subject == a.HospitalID.String():
		return true
	}
	return false
}

// canManage allows admins, the doctor and the hospital.
func canManage(ctx context.Context, a *Appointment) bool {
	if hasRole(ctx, auth.RoleAdmin) {
		return true
	}
	subject := auth.UserIDFromContext(ctx)
	if hasRole(ctx, auth.RoleDoctor) && subject == a.DoctorID.String() {
		return true
	}
	return hasRole(ctx, auth.RoleHospital) && subject == a.HospitalID.String()
}

func (h *Handler) load(c echo.Context, allowed func(context.Context, *Appointment) bool) (*Appointment, error) {
	ctx := c.Request().Context()
	a, err := h.svc.GetAppointment(ctx, c.Param("id"))
	if err != nil {
		return nil, err
	}
	if !allowed(ctx, a) {
		return nil, echo.NewHTTPError(http.StatusForbidden, "not allowed to access this appointment")
	}
	return a, nil
}

func (h *Handler) Book(c echo.Context) error {
	var req BookRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	a, err := h.svc.BookAppointment(ctx, auth.UserIDFromContext(ctx), req)
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusCreated, "appointment booked", a)
}

func (h *Handler) Get(c echo.Context) error {
	a, err := h.load(c, CanView)
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusOK, "", a)
}

// List scopes the listing to the caller: patients see their bookings,
// doctors and hospitals their schedule, admins any filter.
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	p := pagination.FromContext(c)
	f := Filter{Date: c.QueryParam("date"), Status: c.QueryParam("status")}
	subject := auth.UserIDFromContext(ctx)

	switch {
	case hasRole(ctx, auth.RoleAdmin):
		f.UserID = c.QueryParam("userId")
		f.DoctorID = c.QueryParam("doctorId")
		f.HospitalID = c.QueryParam("hospitalId")
	case hasRole(ctx, auth.RoleDoctor):
		f.DoctorID = subject
	case hasRole(ctx, auth.RoleHospital):
		f.HospitalID = subject
		f.DoctorID = c.QueryParam("doctorId")
	case hasRole(ctx, auth.RolePatient):
		f.UserID = subject
	default:
		return echo.NewHTTPError(http.StatusForbidden, "insufficient permissions")
	}
	for _, id := range []string{f.DoctorID, f.HospitalID} {
		if id == "" {
			continue
		}
		if _, err := uuid.Parse(id); err != nil {
			return apperr.Validation("invalid id %q", id)
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
	if err := bind(c, &req); err != nil {
		return err
	}
	if _, err := h.load(c, canManage); err != nil {
		return err
	}
	a, err := h.svc.UpdateAppointmentStatus(c.Request().Context(), c.Param("id"), req.Status)
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusOK, "appointment status updated", a)
}

func (h *Handler) AddPrescription(c echo.Context) error {
	var req PrescriptionRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if _, err := h.load(c, canManage); err != nil {
		return err
	}
	a, err := h.svc.AddPrescription(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusCreated, "prescription added", a)
}
