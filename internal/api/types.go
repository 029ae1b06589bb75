package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

// Slot times stay strings here so the service validates them after the
// doctor and patient checks.
type SlotRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type CreateAppointmentRequest struct {
	PatientID   string      `json:"patient_id"`
	DoctorID    string      `json:"doctor_id"`
	Date        string      `json:"date"`
	Slot        SlotRequest `json:"slot"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Symptoms    []string    `json:"symptoms"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type SlotsRequest struct {
	Date  string          `json:"date"`
	Slots []schedule.Slot `json:"slots"`
}

type AppointmentResponse struct {
	ID              uuid.UUID       `json:"id"`
	DoctorID        uuid.UUID       `json:"doctor_id"`
	PatientID       uuid.UUID       `json:"patient_id"`
	Date            schedule.Date   `json:"date"`
	Slot            schedule.Slot   `json:"slot"`
	DurationMinutes int             `json:"duration_minutes"`
	Status          string          `json:"status"`
	Type            string          `json:"type"`
	Description     string          `json:"description"`
	Symptoms        []string        `json:"symptoms"`
	Fee             appointment.Fee `json:"fee"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type AvailabilityResponse struct {
	DoctorID        uuid.UUID       `json:"doctor_id"`
	Date            schedule.Date   `json:"date"`
	Slots           []schedule.Slot `json:"slots"`
	DurationMinutes int             `json:"duration_minutes"`
	Fee             appointment.Fee `json:"fee"`
}

type OverrideResponse struct {
	DoctorID   uuid.UUID               `json:"doctor_id"`
	Date       schedule.Date           `json:"date"`
	Overridden bool                    `json:"overridden"`
	Slots      []schedule.OverrideSlot `json:"slots"`
	Offered    []schedule.Slot         `json:"offered"`
}

type TemplateResponse struct {
	DoctorID uuid.UUID               `json:"doctor_id"`
	Template schedule.WeeklyTemplate `json:"availability"`
}

type AppointmentListResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	Total        int                   `json:"total"`
	Page         int                   `json:"page,omitempty"`
	Limit        int                   `json:"limit,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	symptoms := a.Symptoms
	if symptoms == nil {
		symptoms = []string{}
	}
	return AppointmentResponse{
		ID:              a.ID,
		DoctorID:        a.DoctorID,
		PatientID:       a.PatientID,
		Date:            a.Date,
		Slot:            a.Slot,
		DurationMinutes: a.DurationMinutes,
		Status:          string(a.Status),
		Type:            string(a.Type),
		Description:     a.Description,
		Symptoms:        symptoms,
		Fee:             a.Fee,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func toAppointmentList(list []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(list))
	for i := range list {
		out = append(out, toAppointmentResponse(&list[i]))
	}
	return out
}

func toOverrideResponse(s *appointment.OverrideState) OverrideResponse {
	return OverrideResponse{
		DoctorID:   s.DoctorID,
		Date:       s.Date,
		Overridden: s.Overridden,
		Slots:      s.Slots,
		Offered:    s.Offered,
	}
}
