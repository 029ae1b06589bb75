package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

// BookingService is the part of appointment.Service the HTTP layer uses.
type BookingService interface {
	ResolveAvailability(ctx context.Context, doctorID uuid.UUID, date schedule.Date) (*appointment.Availability, error)
	BookAppointment(ctx context.Context, req appointment.BookingRequest) (*appointment.Appointment, error)
	BlockSlots(ctx context.Context, doctorID uuid.UUID, date schedule.Date, slots []schedule.Slot) (*appointment.OverrideState, error)
	UnblockSlots(ctx context.Context, doctorID uuid.UUID, date schedule.Date, slots []schedule.Slot) (*appointment.OverrideState, error)
	UpdateAppointmentStatus(ctx context.Context, id, requester uuid.UUID, to appointment.AppointmentStatus) (*appointment.Appointment, error)
	UpdateAvailability(ctx context.Context, doctorID uuid.UUID, tmpl schedule.WeeklyTemplate) (*appointment.Doctor, error)
	GetAvailabilityTemplate(ctx context.Context, doctorID uuid.UUID) (*appointment.Doctor, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListDoctorAppointments(ctx context.Context, doctorID uuid.UUID, filter appointment.DoctorFilter) ([]appointment.Appointment, error)
	ListPatientAppointments(ctx context.Context, patientID uuid.UUID, status appointment.AppointmentStatus, page, limit int) (*appointment.AppointmentPage, error)
}

type Handler struct {
	svc BookingService
	loc *time.Location
}

// NewHandler builds the handlers. loc is the reference zone that decides
// what "today" is; nil means UTC.
func NewHandler(svc BookingService, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{svc: svc, loc: loc}
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return false
	}
	return true
}

func dateQuery(w http.ResponseWriter, r *http.Request, key string) (*schedule.Date, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, true
	}
	d, err := schedule.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+key, err.Error())
		return nil, false
	}
	return &d, true
}

func intQuery(w http.ResponseWriter, r *http.Request, key string) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "invalid_"+key, key+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := uuidParam(w, r, "doctorID")
	if !ok {
		return
	}
	date, ok := dateQuery(w, r, "date")
	if !ok {
		return
	}
	if date == nil {
		today := schedule.DateOf(time.Now(), h.loc)
		date = &today
	}

	av, err := h.svc.ResolveAvailability(r.Context(), doctorID, *date)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, AvailabilityResponse{
		DoctorID:        av.DoctorID,
		Date:            av.Date,
		Slots:           av.Slots,
		DurationMinutes: av.DurationMinutes,
		Fee:             av.Fee,
	})
}

// GetAvailabilityTemplate lets a doctor read back their own weekly template.
func (h *Handler) GetAvailabilityTemplate(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := uuidParam(w, r, "doctorID")
	if !ok || !requireActor(w, r, doctorID) {
		return
	}

	doc, err := h.svc.GetAvailabilityTemplate(r.Context(), doctorID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, TemplateResponse{DoctorID: doc.ID, Template: doc.Template})
}

func (h *Handler) PutAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := uuidParam(w, r, "doctorID")
	if !ok || !requireActor(w, r, doctorID) {
		return
	}

	var tmpl schedule.WeeklyTemplate
	if !decodeBody(w, r, &tmpl) {
		return
	}

	doc, err := h.svc.UpdateAvailability(r.Context(), doctorID, tmpl)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, TemplateResponse{DoctorID: doc.ID, Template: doc.Template})
}

func (h *Handler) editSlots(block bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "doctorID")
		if !ok || !requireActor(w, r, doctorID) {
			return
		}

		var req SlotsRequest
		if !decodeBody(w, r, &req) {
			return
		}
		date, err := schedule.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}

		var state *appointment.OverrideState
		if block {
			state, err = h.svc.BlockSlots(r.Context(), doctorID, date, req.Slots)
		} else {
			state, err = h.svc.UnblockSlots(r.Context(), doctorID, date, req.Slots)
		}
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toOverrideResponse(state))
	}
}

func (h *Handler) ListDoctorAppointments(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := uuidParam(w, r, "doctorID")
	if !ok || !requireActor(w, r, doctorID) {
		return
	}

	from, ok := dateQuery(w, r, "from")
	if !ok {
		return
	}
	to, ok := dateQuery(w, r, "to")
	if !ok {
		return
	}

	list, err := h.svc.ListDoctorAppointments(r.Context(), doctorID, appointment.DoctorFilter{
		From:   from,
		To:     to,
		Status: appointment.AppointmentStatus(r.URL.Query().Get("status")),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, AppointmentListResponse{
		Appointments: toAppointmentList(list),
		Total:        len(list),
	})
}

func (h *Handler) ListPatientAppointments(w http.ResponseWriter, r *http.Request) {
	patientID, ok := uuidParam(w, r, "patientID")
	if !ok || !requireActor(w, r, patientID) {
		return
	}

	page, ok := intQuery(w, r, "page")
	if !ok {
		return
	}
	limit, ok := intQuery(w, r, "limit")
	if !ok {
		return
	}

	status := appointment.AppointmentStatus(r.URL.Query().Get("status"))
	result, err := h.svc.ListPatientAppointments(r.Context(), patientID, status, page, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, AppointmentListResponse{
		Appointments: toAppointmentList(result.Appointments),
		Total:        result.Total,
		Page:         result.Page,
		Limit:        result.Limit,
	})
}

func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
		return
	}

	patientID := uuid.Nil
	if req.PatientID != "" {
		if patientID, err = uuid.Parse(req.PatientID); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
	} else if patientID, err = actorID(r); err != nil {
		writeError(w, http.StatusUnauthorized, "missing_actor", err.Error())
		return
	}
	if !requireActor(w, r, patientID) {
		return
	}

	appt, err := h.svc.BookAppointment(r.Context(), appointment.BookingRequest{
		PatientID:   patientID,
		DoctorID:    doctorID,
		Date:        req.Date,
		SlotStart:   req.Slot.Start,
		SlotEnd:     req.Slot.End,
		Type:        appointment.AppointmentType(req.Type),
		Description: req.Description,
		Symptoms:    req.Symptoms,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

// GetAppointment is visible to the appointment's doctor and patient only;
// anyone else gets 404.
func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	actor, err := actorID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing_actor", err.Error())
		return
	}

	appt, err := h.svc.GetAppointment(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if actor != appt.DoctorID && actor != appt.PatientID {
		writeServiceError(w, r, appointment.ErrAppointmentNotFound)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handler) UpdateAppointmentStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	actor, err := actorID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing_actor", err.Error())
		return
	}

	var req UpdateStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}

	appt, err := h.svc.UpdateAppointmentStatus(r.Context(), id, actor, appointment.AppointmentStatus(req.Status))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}
