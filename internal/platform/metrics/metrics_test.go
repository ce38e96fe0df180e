package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestWorkflowMetrics_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWorkflowMetrics(reg)

	m.ObserveBooking("booked")
	m.ObserveBooking("booked")
	m.ObserveBooking("slot_unavailable")
	m.ObserveTransition("appointment", "Accepted")
	m.ObserveEvent("appointment.booked", "delivered")
	m.ObserveNotification("email", "sent")
	m.ObserveSwept(3)
	m.ObserveSwept(0)

	if got := testutil.ToFloat64(m.bookings.WithLabelValues("booked")); got != 2 {
		t.Errorf("expected 2 booked, got %v", got)
	}
	if got := testutil.ToFloat64(m.bookings.WithLabelValues("slot_unavailable")); got != 1 {
		t.Errorf("expected 1 slot_unavailable, got %v", got)
	}
	if got := testutil.ToFloat64(m.sweptSlots); got != 3 {
		t.Errorf("expected 3 swept, got %v", got)
	}
}

func TestWorkflowMetrics_NilSafe(t *testing.T) {
	var m *WorkflowMetrics
	m.ObserveBooking("booked")
	m.ObserveTransition("order", "Delivered")
	m.ObserveEvent("order.placed", "failed")
	m.ObserveNotification("sms", "failed")
	m.ObserveSwept(1)

	var h *HTTPMetrics
	h.ObserveRequest(http.MethodGet, "/health", 200, 0.01)
}

func TestHandler_ExposesCollectors(t *testing.T) {
	reg := NewRegistry()
	h := NewHTTPMetrics(reg)
	h.ObserveRequest(http.MethodPost, "/api/v1/appointments", 201, 0.05)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, `healthlink_http_requests_total{method="POST",route="/api/v1/appointments",status="201"} 1`) {
		t.Errorf("request counter missing from exposition:\n%s", body)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Error("expected Go runtime collector output")
	}
}
