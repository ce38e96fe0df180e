package sandbox

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/healthlink/healthlink/internal/platform/apperr"
	"github.com/healthlink/healthlink/internal/platform/auth"
	"github.com/healthlink/healthlink/pkg/response"
)

// SeedHandler exposes the seeder over HTTP. It is mounted in development
// only.
type SeedHandler struct {
	seeder *Seeder
}

func NewSeedHandler(seeder *Seeder) *SeedHandler {
	return &SeedHandler{seeder: seeder}
}

func (h *SeedHandler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/sandbox", auth.RequireRole(auth.RoleAdmin))
	g.POST("/seed", h.handleSeed)
	g.GET("/credentials", h.handleCredentials)
}

func (h *SeedHandler) handleSeed(c echo.Context) error {
	cfg := DefaultSeedConfig()
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&cfg); err != nil {
			return apperr.Validation("invalid seed config")
		}
	}
	if cfg.Hospitals < 0 || cfg.MedicalStores < 0 || cfg.Patients < 0 ||
		cfg.DoctorsPerHospital < 0 || cfg.AppointmentsPerDoctor < 0 || cfg.OrdersPerPatient < 0 {
		return apperr.Validation("counts must not be negative")
	}

	result, err := h.seeder.Generate(c.Request().Context(), cfg)
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusCreated, "demo data seeded", result)
}

func (h *SeedHandler) handleCredentials(c echo.Context) error {
	last := h.seeder.Last()
	if last == nil {
		return c.String(http.StatusOK, "")
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/x-ndjson")
	c.Response().WriteHeader(http.StatusOK)
	return last.ExportNDJSON(c.Response().Writer)
}
