package directory

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
	// Public registration, login and lookup.
	api.POST("/hospitals", h.RegisterHospital)
	api.POST("/medical-stores", h.RegisterMedicalStore)
	api.POST("/doctors", h.RegisterDoctor)
	api.POST("/auth/:role/login", h.Login)
	api.POST("/doctors/setup-password", h.SetupDoctorPassword)
	api.POST("/doctors/reset-passkey", h.ResetDoctorPasskey)
	api.GET("/hospitals", h.ListHospitals)
	api.GET("/hospitals/:code", h.GetHospital)
	api.GET("/hospitals/:code/doctors", h.ListHospitalDoctors)
	api.GET("/medical-stores", h.ListMedicalStores)
	api.GET("/doctors/:id", h.GetDoctor)
	api.GET("/doctors/:id/availability", h.GetAvailability)

	api.POST("/doctors/:id/approve", h.ApproveDoctor, auth.RequireRole(auth.RoleHospital))
	api.PATCH("/hospitals/:code/auto-approve", h.SetHospitalAutoApprove, auth.RequireRole(auth.RoleHospital))

	staff := api.Group("", auth.RequireRole(auth.RoleHospital, auth.RoleDoctor))
	staff.PATCH("/doctors/:id/auto-approve", h.SetDoctorAutoApprove)
	staff.PUT("/doctors/:id/availability", h.SetAvailability)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid id")
	}
	return id, nil
}

func bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return apperr.Validation("invalid request body")
	}
	return nil
}

// isAdmin reports whether the caller holds the admin role.
func isAdmin(ctx context.Context) bool {
	for _, r := range auth.RolesFromContext(ctx) {
		if r == auth.RoleAdmin {
			return true
		}
	}
	return false
}

func hasRole(ctx context.Context, role string) bool {
	for _, r := range auth.RolesFromContext(ctx) {
		if r == role {
			return true
		}
	}
	return false
}

// canManageDoctor allows admins, the doctor, and the doctor's hospital.
func canManageDoctor(ctx context.Context, d *Doctor) bool {
	if isAdmin(ctx) {
		return true
	}
	subject := auth.UserIDFromContext(ctx)
	if hasRole(ctx, auth.RoleDoctor) && subject == d.ID.String() {
		return true
	}
	return hasRole(ctx, auth.RoleHospital) && subject == d.HospitalID.String()
}

func (h *Handler) RegisterHospital(c echo.Context) error {
	var req RegisterFacilityRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	reg, err := h.svc.RegisterHospital(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusCreated, "hospital registered", reg)
}

func (h *Handler) RegisterMedicalStore(c echo.Context) error {
	var req RegisterFacilityRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	reg, err := h.svc.RegisterMedicalStore(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusCreated, "medical store registered", reg)
}

func (h *Handler) RegisterDoctor(c echo.Context) error {
	var req RegisterDoctorRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	reg, err := h.svc.RegisterDoctor(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusCreated, "doctor registered, pending approval", reg)
}

type loginRequest struct {
	Code     string `json:"code"`
	Pin      string `json:"pin"`
	Password string `json:"password"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	secret := req.Pin
	if secret == "" {
		secret = req.Password
	}
	sess, err := h.svc.Login(c.Request().Context(), c.Param("role"), req.Code, secret)
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusOK, "login successful", sess)
}

type setupPasswordRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

func (h *Handler) SetupDoctorPassword(c echo.Context) error {
	var req setupPasswordRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	d, err := h.svc.SetupDoctorPassword(c.Request().Context(), req.Phone, req.Password)
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusOK, "password set", d)
}

type resetPasskeyRequest struct {
	Phone           string `json:"phone"`
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h *Handler) ResetDoctorPasskey(c echo.Context) error {
	var req resetPasskeyRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	d, err := h.svc.ResetDoctorPasskey(c.Request().Context(), req.Phone, req.CurrentPassword, req.NewPassword)
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusOK, "passkey reset", d)
}

func (h *Handler) ApproveDoctor(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if !isAdmin(ctx) {
		d, err := h.svc.GetDoctor(ctx, id)
		if err != nil {
			return err
		}
		if auth.UserIDFromContext(ctx) != d.HospitalID.String() {
			return echo.NewHTTPError(http.StatusForbidden, "doctor belongs to another hospital")
		}
	}
	d, err := h.svc.ApproveDoctor(ctx, id)
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusOK, "doctor approved", d)
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *Handler) SetDoctorAutoApprove(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req toggleRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	d, err := h.svc.GetDoctor(ctx, id)
	if err != nil {
		return err
	}
	if !canManageDoctor(ctx, d) {
		return echo.NewHTTPError(http.StatusForbidden, "not allowed to manage this doctor")
	}
	d, err = h.svc.SetDoctorAutoApprove(ctx, id, req.Enabled)
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusOK, "", d)
}

func (h *Handler) SetHospitalAutoApprove(c echo.Context) error {
	var req toggleRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	code := c.Param("code")
	if !isAdmin(ctx) {
		hosp, err := h.svc.GetHospital(ctx, code)
		if err != nil {
			return err
		}
		if auth.UserIDFromContext(ctx) != hosp.ID.String() {
			return echo.NewHTTPError(http.StatusForbidden, "not allowed to manage this hospital")
		}
	}
	hosp, err := h.svc.SetHospitalAutoApprove(ctx, code, req.Enabled)
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusOK, "", hosp)
}

type availabilityRequest struct {
	Slots []string `json:"slots"`
}

func (h *Handler) SetAvailability(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req availabilityRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	d, err := h.svc.GetDoctor(ctx, id)
	if err != nil {
		return err
	}
	if !canManageDoctor(ctx, d) {
		return echo.NewHTTPError(http.StatusForbidden, "not allowed to manage this doctor")
	}
	d, err = h.svc.SetDoctorAvailability(ctx, id, req.Slots)
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusOK, "", d)
}

func (h *Handler) GetDoctor(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetDoctor(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusOK, "", d)
}

func (h *Handler) GetAvailability(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.DoctorAvailability(c.Request().Context(), id, c.QueryParam("date"))
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusOK, "", a)
}

func (h *Handler) GetHospital(c echo.Context) error {
	hosp, err := h.svc.GetHospital(c.Request().Context(), c.Param("code"))
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusOK, "", hosp)
}

func (h *Handler) ListHospitals(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListHospitals(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusOK, "", pagination.NewPage(items, total, pg))
}

func (h *Handler) ListHospitalDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDoctorsByHospital(c.Request().Context(), c.Param("code"), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusOK, "", pagination.NewPage(items, total, pg))
}

func (h *Handler) ListMedicalStores(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListMedicalStores(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusOK, "", pagination.NewPage(items, total, pg))
}
