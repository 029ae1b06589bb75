package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/lock"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

type testEnv struct {
	router  http.Handler
	repo    *appointment.MemoryRepository
	doctor  appointment.Doctor
	patient appointment.Patient
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	slot := func(s string) schedule.Slot {
		sl, err := schedule.ParseSlot(s)
		if err != nil {
			t.Fatalf("parse slot: %v", err)
		}
		return sl
	}

	repo := appointment.NewMemoryRepository()
	doctor := appointment.Doctor{
		ID:     uuid.New(),
		Name:   "Dr. Mehta",
		Status: appointment.DoctorActive,
		Template: schedule.WeeklyTemplate{
			WorkingDays: schedule.Weekdays,
			Slots: []schedule.TemplateSlot{
				{Slot: slot("09:00-09:30"), MaxPatients: 1},
				{Slot: slot("09:30-10:00"), MaxPatients: 1},
				{Slot: slot("10:00-10:30"), MaxPatients: 1},
			},
			AppointmentDurationMinutes: 30,
		},
		Pricing: appointment.Pricing{ConsultationFee: 70000, Currency: "INR"},
	}
	patient := appointment.Patient{ID: uuid.New(), Name: "Ravi"}
	repo.AddDoctor(doctor)
	repo.AddPatient(patient)

	svc := appointment.NewService(repo, lock.NewLocalLocker(), nil, zerolog.Nop())
	router := NewRouter(RouterConfig{Service: svc, Logger: zerolog.Nop(), Env: "test"})

	return &testEnv{router: router, repo: repo, doctor: doctor, patient: patient}
}

func (e *testEnv) do(t *testing.T, method, path string, actor uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if actor != uuid.Nil {
		req.Header.Set(ActorHeader, actor.String())
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func (e *testEnv) book(t *testing.T, date, start, end string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodPost, "/appointments", e.patient.ID, CreateAppointmentRequest{
		DoctorID:    e.doctor.ID.String(),
		Date:        date,
		Slot:        SlotRequest{Start: start, End: end},
		Type:        "first-visit",
		Description: "knee pain",
	})
}

func TestGetAvailability(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/doctors/"+e.doctor.ID.String()+"/availability?date=2024-01-17", uuid.Nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	resp := decode[AvailabilityResponse](t, rec)
	if len(resp.Slots) != 3 || resp.Slots[0].String() != "09:00-09:30" {
		t.Errorf("unexpected slots %v", resp.Slots)
	}
	if resp.Fee.Amount != 70000 || resp.DurationMinutes != 30 {
		t.Errorf("unexpected fee/duration %+v %d", resp.Fee, resp.DurationMinutes)
	}
}

func TestGetAvailability_BadInput(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name string
		path string
		code int
	}{
		{"bad date", "/doctors/" + e.doctor.ID.String() + "/availability?date=17-01-2024", http.StatusBadRequest},
		{"bad doctor id", "/doctors/nope/availability?date=2024-01-17", http.StatusBadRequest},
		{"unknown doctor", "/doctors/" + uuid.NewString() + "/availability?date=2024-01-17", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodGet, tt.path, uuid.Nil, nil)
			if rec.Code != tt.code {
				t.Errorf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestGetAvailability_DefaultsToToday(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/doctors/"+e.doctor.ID.String()+"/availability", uuid.Nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[AvailabilityResponse](t, rec)
	if today := schedule.DateOf(time.Now(), time.UTC); resp.Date != today {
		t.Errorf("expected %s, got %s", today, resp.Date)
	}
}

func TestCreateAppointment_ThenConflict(t *testing.T) {
	e := newTestEnv(t)

	rec := e.book(t, "2024-01-17", "09:00", "09:30")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	appt := decode[AppointmentResponse](t, rec)
	if appt.Status != "scheduled" || appt.Fee.Amount != 70000 {
		t.Errorf("unexpected appointment %+v", appt)
	}

	rec = e.book(t, "2024-01-17", "09:00", "09:30")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	errResp := decode[ErrorResponse](t, rec)
	if errResp.Error != "slot_unavailable" || errResp.Reason != "booked" {
		t.Errorf("unexpected error body %+v", errResp)
	}
}

func TestCreateAppointment_ErrorMapping(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name   string
		date   string
		start  string
		end    string
		code   int
		reason string
	}{
		{"closed day", "2024-01-20", "09:00", "09:30", http.StatusConflict, "closed"},
		{"not offered", "2024-01-17", "14:00", "14:30", http.StatusBadRequest, "not_offered"},
		{"malformed slot", "2024-01-17", "9am", "09:30", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.book(t, tt.date, tt.start, tt.end)
			if rec.Code != tt.code {
				t.Fatalf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
			if got := decode[ErrorResponse](t, rec).Reason; got != tt.reason {
				t.Errorf("expected reason %q, got %q", tt.reason, got)
			}
		})
	}
}

func TestCreateAppointment_ActorChecks(t *testing.T) {
	e := newTestEnv(t)
	body := CreateAppointmentRequest{
		DoctorID:    e.doctor.ID.String(),
		Date:        "2024-01-17",
		Slot:        SlotRequest{Start: "09:00", End: "09:30"},
		Type:        "consultation",
		Description: "rash",
	}

	if rec := e.do(t, http.MethodPost, "/appointments", uuid.Nil, body); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without actor, got %d", rec.Code)
	}

	body.PatientID = e.patient.ID.String()
	if rec := e.do(t, http.MethodPost, "/appointments", uuid.New(), body); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for another actor, got %d", rec.Code)
	}
}

func TestBlockAndUnblockSlots(t *testing.T) {
	e := newTestEnv(t)
	path := "/doctors/" + e.doctor.ID.String()
	body := map[string]any{
		"date":  "2024-01-17",
		"slots": []map[string]string{{"start": "10:00", "end": "10:30"}},
	}

	rec := e.do(t, http.MethodPost, path+"/slots/block", e.doctor.ID, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	state := decode[OverrideResponse](t, rec)
	if !state.Overridden || len(state.Offered) != 2 {
		t.Errorf("unexpected override state %+v", state)
	}

	if rec := e.book(t, "2024-01-17", "10:00", "10:30"); rec.Code != http.StatusConflict ||
		decode[ErrorResponse](t, rec).Reason != "blocked" {
		t.Errorf("expected blocked conflict, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, http.MethodPost, path+"/slots/unblock", e.doctor.ID, body)
	if rec.Code != http.StatusOK || decode[OverrideResponse](t, rec).Overridden {
		t.Fatalf("expected override removed, got %d: %s", rec.Code, rec.Body.String())
	}

	if rec := e.do(t, http.MethodPost, path+"/slots/block", e.patient.ID, body); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for a patient blocking slots, got %d", rec.Code)
	}
	if rec := e.do(t, http.MethodPost, path+"/slots/block", e.doctor.ID, map[string]any{"date": "2024-01-17", "slots": []string{"x"}}); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed slots, got %d", rec.Code)
	}
}

func TestUpdateAppointmentStatus(t *testing.T) {
	e := newTestEnv(t)
	appt := decode[AppointmentResponse](t, e.book(t, "2024-01-17", "09:30", "10:00"))
	path := "/appointments/" + appt.ID.String() + "/status"

	if rec := e.do(t, http.MethodPut, path, uuid.New(), UpdateStatusRequest{Status: "completed"}); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for another doctor, got %d", rec.Code)
	}

	rec := e.do(t, http.MethodPut, path, e.doctor.ID, UpdateStatusRequest{Status: "completed"})
	if rec.Code != http.StatusOK || decode[AppointmentResponse](t, rec).Status != "completed" {
		t.Fatalf("expected completed, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, http.MethodPut, path, e.doctor.ID, UpdateStatusRequest{Status: "cancelled"})
	if rec.Code != http.StatusConflict || decode[ErrorResponse](t, rec).Error != "invalid_status_transition" {
		t.Errorf("expected invalid transition, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetAppointment_Visibility(t *testing.T) {
	e := newTestEnv(t)
	appt := decode[AppointmentResponse](t, e.book(t, "2024-01-17", "09:00", "09:30"))
	path := "/appointments/" + appt.ID.String()

	for _, actor := range []uuid.UUID{e.doctor.ID, e.patient.ID} {
		if rec := e.do(t, http.MethodGet, path, actor, nil); rec.Code != http.StatusOK {
			t.Errorf("expected 200 for %s, got %d", actor, rec.Code)
		}
	}
	if rec := e.do(t, http.MethodGet, path, uuid.New(), nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for a stranger, got %d", rec.Code)
	}
}

func TestListAppointments(t *testing.T) {
	e := newTestEnv(t)
	e.book(t, "2024-01-17", "09:00", "09:30")
	e.book(t, "2024-01-18", "09:00", "09:30")

	rec := e.do(t, http.MethodGet, "/doctors/"+e.doctor.ID.String()+"/appointments?from=2024-01-18", e.doctor.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[AppointmentListResponse](t, rec); got.Total != 1 {
		t.Errorf("expected 1 appointment from 2024-01-18, got %d", got.Total)
	}

	rec = e.do(t, http.MethodGet, "/patients/"+e.patient.ID.String()+"/appointments?page=1&limit=1", e.patient.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	list := decode[AppointmentListResponse](t, rec)
	if list.Total != 2 || len(list.Appointments) != 1 {
		t.Errorf("expected page of 1 with total 2, got %d/%d", len(list.Appointments), list.Total)
	}

	for query, want := range map[string][2]int{"": {1, 10}, "?page=2&limit=500": {2, 100}} {
		rec = e.do(t, http.MethodGet, "/patients/"+e.patient.ID.String()+"/appointments"+query, e.patient.ID, nil)
		got := decode[AppointmentListResponse](t, rec)
		if got.Page != want[0] || got.Limit != want[1] {
			t.Errorf("%q: expected page %d limit %d, got %d/%d", query, want[0], want[1], got.Page, got.Limit)
		}
	}

	if rec := e.do(t, http.MethodGet, "/patients/"+e.patient.ID.String()+"/appointments?status=lost", e.patient.ID, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status, got %d", rec.Code)
	}
}

func TestPutAvailability(t *testing.T) {
	e := newTestEnv(t)
	body := map[string]any{
		"working_days":                 []string{"Saturday"},
		"slots":                        []map[string]any{{"start": "08:00", "end": "08:15", "max_patients": 1}},
		"appointment_duration_minutes": 15,
	}

	rec := e.do(t, http.MethodPut, "/doctors/"+e.doctor.ID.String()+"/availability", e.doctor.ID, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, http.MethodGet, "/doctors/"+e.doctor.ID.String()+"/availability?date=2024-01-20", uuid.Nil, nil)
	if got := decode[AvailabilityResponse](t, rec); len(got.Slots) != 1 || got.DurationMinutes != 15 {
		t.Errorf("unexpected availability after update %+v", got)
	}

	templatePath := "/doctors/" + e.doctor.ID.String() + "/availability/template"
	rec = e.do(t, http.MethodGet, templatePath, e.doctor.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	tmpl := decode[TemplateResponse](t, rec).Template
	if !tmpl.WorksOn(time.Saturday) || tmpl.WorksOn(time.Monday) || len(tmpl.Slots) != 1 || tmpl.AppointmentDurationMinutes != 15 {
		t.Errorf("unexpected template %+v", tmpl)
	}

	if rec := e.do(t, http.MethodGet, templatePath, e.patient.ID, nil); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for another actor, got %d", rec.Code)
	}
}

type failingService struct {
	BookingService
}

func (failingService) GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return nil, errors.New("connection reset by peer")
}

func TestInternalErrorsAreOpaque(t *testing.T) {
	router := NewRouter(RouterConfig{Service: failingService{}, Logger: zerolog.Nop()})

	req := httptest.NewRequest(http.MethodGet, "/appointments/"+uuid.NewString(), nil)
	req.Header.Set(ActorHeader, uuid.NewString())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("connection reset")) {
		t.Errorf("internal error details leaked: %s", rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
}

func TestReadiness(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("down") }

	tests := []struct {
		name   string
		checks []Check
		code   int
		status string
	}{
		{"all up", []Check{{Name: "postgres", Critical: true, Ping: ok}, {Name: "redis", Ping: ok}}, http.StatusOK, "ok"},
		{"redis down", []Check{{Name: "postgres", Critical: true, Ping: ok}, {Name: "redis", Ping: down}}, http.StatusOK, "degraded"},
		{"postgres down", []Check{{Name: "postgres", Critical: true, Ping: down}, {Name: "redis", Ping: ok}}, http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.checks, "test", "v1")
			rec := httptest.NewRecorder()
			h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, rec.Code)
			}
			if got := decode[ReadinessResponse](t, rec); got.Status != tt.status {
				t.Errorf("expected status %s, got %s", tt.status, got.Status)
			}
		})
	}
}

func TestRecoverMiddleware(t *testing.T) {
	h := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(zerolog.Nop().WithContext(req.Context()))
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}
