package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/healthlink/healthlink/internal/platform/apperr"
	"github.com/healthlink/healthlink/internal/platform/auth"
	"github.com/healthlink/healthlink/internal/platform/middleware"
)

func newTestHandler() (*Handler, *testEnv, *echo.Echo) {
	env := newTestEnv()
	e := echo.New()
	e.HTTPErrorHandler = middleware.ErrorHandler(zerolog.Nop())
	return NewHandler(env.svc), env, e
}

func jsonRequest(method, body string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func withIdentity(req *http.Request, subject, role string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), subject, []string{role}))
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return env
}

func TestHandler_RegisterHospital(t *testing.T) {
	h, _, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, `{"name":"City Care","address":"Madhapur","pin":"1234"}`), rec)

	if err := h.RegisterHospital(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	body := decode(t, rec)
	var reg Registration
	_ = json.Unmarshal(body.Data, &reg)
	if !body.Success || !strings.HasPrefix(reg.Code, "HOSP-") {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestHandler_RegisterHospital_Duplicate(t *testing.T) {
	h, env, e := newTestHandler()
	env.registerHospital(t, "City Care", "Madhapur")

	c := e.NewContext(jsonRequest(http.MethodPost, `{"name":"Other","address":"MADHAPUR","pin":"1234"}`), httptest.NewRecorder())
	err := h.RegisterHospital(c)
	if apperr.HTTPStatus(err) != http.StatusConflict {
		t.Errorf("expected 409, got %v", err)
	}
}

func TestHandler_RegisterDoctor_NameMismatch(t *testing.T) {
	h, env, e := newTestHandler()
	hosp := env.registerHospital(t, "City Care", "Madhapur")

	body := `{"name":"Dr. X","hospitalCode":"` + hosp.Code + `","hospitalName":"Elsewhere"}`
	c := e.NewContext(jsonRequest(http.MethodPost, body), httptest.NewRecorder())
	err := h.RegisterDoctor(c)
	if apperr.KindOf(err) != apperr.KindNameMismatch || apperr.HTTPStatus(err) != http.StatusBadRequest {
		t.Errorf("expected NameMismatch/400, got %v", err)
	}
}

func TestHandler_Login(t *testing.T) {
	h, env, e := newTestHandler()
	hosp := env.registerHospital(t, "City Care", "Madhapur")

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, `{"code":"`+hosp.Code+`","pin":"1234"}`), rec)
	c.SetParamNames("role")
	c.SetParamValues("hospital")
	if err := h.Login(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var sess auth.Session
	_ = json.Unmarshal(decode(t, rec).Data, &sess)
	if sess.Token == "" || sess.Role != auth.RoleHospital {
		t.Errorf("unexpected session %+v", sess)
	}

	c = e.NewContext(jsonRequest(http.MethodPost, `{"code":"`+hosp.Code+`","pin":"0000"}`), httptest.NewRecorder())
	c.SetParamNames("role")
	c.SetParamValues("hospital")
	if err := h.Login(c); apperr.HTTPStatus(err) != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}

func TestHandler_GetDoctor_InvalidID(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	if err := h.GetDoctor(c); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected Validation, got %v", err)
	}
}

func TestHandler_GetDoctor_NotFound(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	if err := h.GetDoctor(c); apperr.HTTPStatus(err) != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_ApproveDoctor_OwnHospitalOnly(t *testing.T) {
	h, env, e := newTestHandler()
	hosp := env.registerHospital(t, "City Care", "Madhapur")
	other := env.registerHospital(t, "Other Care", "Kondapur")
	doc := env.registerDoctor(t, hosp, "City Care", "")

	req := withIdentity(httptest.NewRequest(http.MethodPost, "/", nil), other.ID.String(), auth.RoleHospital)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(doc.ID.String())
	err := h.ApproveDoctor(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}

	rec := httptest.NewRecorder()
	req = withIdentity(httptest.NewRequest(http.MethodPost, "/", nil), hosp.ID.String(), auth.RoleHospital)
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(doc.ID.String())
	if err := h.ApproveDoctor(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var d Doctor
	_ = json.Unmarshal(decode(t, rec).Data, &d)
	if d.Status != DoctorApproved {
		t.Errorf("expected approved, got %s", d.Status)
	}
}

func TestHandler_SetAvailability_Doctor(t *testing.T) {
	h, env, e := newTestHandler()
	hosp := env.registerHospital(t, "City Care", "Madhapur")
	doc := env.registerDoctor(t, hosp, "City Care", "")

	rec := httptest.NewRecorder()
	req := withIdentity(jsonRequest(http.MethodPut, `{"slots":["09:00 AM","09:30 AM"]}`), doc.ID.String(), auth.RoleDoctor)
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(doc.ID.String())
	if err := h.SetAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored, _ := env.svc.GetDoctor(context.Background(), doc.ID)
	if len(stored.AvailableSlots) != 2 {
		t.Errorf("expected 2 slots, got %v", stored.AvailableSlots)
	}
}

func TestHandler_GetAvailability(t *testing.T) {
	h, env, e := newTestHandler()
	hosp := env.registerHospital(t, "City Care", "Madhapur")
	doc := env.registerDoctor(t, hosp, "City Care", "")

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?date=2026-03-02", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(doc.ID.String())
	if err := h.GetAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var a Availability
	_ = json.Unmarshal(decode(t, rec).Data, &a)
	if a.Date != "2026-03-02" || len(a.Available) != 16 || len(a.Busy) != 0 {
		t.Errorf("unexpected availability %+v", a)
	}
}

func TestHandler_Routes(t *testing.T) {
	h, env, e := newTestHandler()
	hosp := env.registerHospital(t, "City Care", "Madhapur")
	env.registerDoctor(t, hosp, "City Care", "")
	h.RegisterRoutes(e.Group("/api/v1"))

	cases := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/api/v1/hospitals", http.StatusOK},
		{http.MethodGet, "/api/v1/hospitals/" + hosp.Code, http.StatusOK},
		{http.MethodGet, "/api/v1/hospitals/HOSP-NONE", http.StatusNotFound},
		{http.MethodGet, "/api/v1/hospitals/" + hosp.Code + "/doctors", http.StatusOK},
		{http.MethodGet, "/api/v1/medical-stores", http.StatusOK},
		// No identity on the request: role-gated routes refuse.
		{http.MethodPost, "/api/v1/doctors/" + uuid.New().String() + "/approve", http.StatusForbidden},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != tc.want {
			t.Errorf("%s %s: expected %d, got %d (%s)", tc.method, tc.path, tc.want, rec.Code, rec.Body.String())
		}
	}
}
