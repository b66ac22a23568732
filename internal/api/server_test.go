package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nugget/tralfaz/internal/appointments"
)

type stubLister struct {
	appts []*appointments.Appointment
	err   error
	owner string
}

func (s *stubLister) ListUpcoming(_ context.Context, owner string, _ time.Time) ([]*appointments.Appointment, error) {
	s.owner = owner
	return s.appts, s.err
}

func newTestServer(t *testing.T, lister AppointmentLister) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "tralfaz_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	srv := httptest.NewServer(NewServer("", 0, reg, lister, "42", nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)
	code, body := get(t, srv.URL+"/health")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if !strings.Contains(body, `"status":"healthy"`) {
		t.Errorf("body = %s", body)
	}
}

func TestVersion(t *testing.T) {
	srv := newTestServer(t, nil)
	code, body := get(t, srv.URL+"/v1/version")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(body), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info["version"] == "" {
		t.Errorf("missing version in %v", info)
	}
}

func TestMetrics(t *testing.T) {
	srv := newTestServer(t, nil)
	code, body := get(t, srv.URL+"/metrics")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if !strings.Contains(body, "tralfaz_test_total 1") {
		t.Errorf("metrics body missing counter:\n%s", body)
	}
}

func TestAppointments(t *testing.T) {
	lister := &stubLister{appts: []*appointments.Appointment{{
		ID:          3,
		Title:       "Lunch with Liz",
		When:        time.Date(2025, 6, 2, 17, 0, 0, 0, time.UTC),
		LeadTime:    30 * time.Minute,
		ExternalRef: "/cal/x.ics",
	}}}
	srv := newTestServer(t, lister)

	code, body := get(t, srv.URL+"/v1/appointments")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var got struct {
		Appointments []appointmentView `json:"appointments"`
	}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Appointments) != 1 {
		t.Fatalf("appointments = %+v", got.Appointments)
	}
	a := got.Appointments[0]
	if a.ID != 3 || a.Reminder != 30 || !a.Calendar {
		t.Errorf("appointment = %+v", a)
	}
	if lister.owner != "42" {
		t.Errorf("owner = %q, want 42", lister.owner)
	}
}

func TestAppointments_Error(t *testing.T) {
	srv := newTestServer(t, &stubLister{err: errors.New("db closed")})
	code, _ := get(t, srv.URL+"/v1/appointments")
	if code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", code)
	}
}

func TestAppointments_DisabledWithoutLister(t *testing.T) {
	srv := newTestServer(t, nil)
	code, _ := get(t, srv.URL+"/v1/appointments")
	if code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", code)
	}
}
