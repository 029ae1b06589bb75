package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/schedule"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no-show"
)

// ActiveStatuses hold their slot. An appointment in any other status frees it.
var ActiveStatuses = []AppointmentStatus{StatusScheduled, StatusCompleted}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

func (s AppointmentStatus) Active() bool {
	return s == StatusScheduled || s == StatusCompleted
}

// CanTransitionTo reports whether s -> to is allowed. Only scheduled
// appointments move, and nothing moves back to scheduled.
func (s AppointmentStatus) CanTransitionTo(to AppointmentStatus) bool {
	if s != StatusScheduled {
		return false
	}
	switch to {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

type AppointmentType string

const (
	TypeFirstVisit   AppointmentType = "first-visit"
	TypeFollowUp     AppointmentType = "follow-up"
	TypeConsultation AppointmentType = "consultation"
	TypeEmergency    AppointmentType = "emergency"
)

func (t AppointmentType) Valid() bool {
	switch t {
	case TypeFirstVisit, TypeFollowUp, TypeConsultation, TypeEmergency:
		return true
	}
	return false
}

type DoctorStatus string

const (
	DoctorActive    DoctorStatus = "active"
	DoctorInactive  DoctorStatus = "inactive"
	DoctorSuspended DoctorStatus = "suspended"
)

// Fee amounts are in minor currency units (paise, cents).
type Fee struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type Pricing struct {
	ConsultationFee int64  `json:"consultation_fee"`
	Currency        string `json:"currency"`
}

const DefaultCurrency = "INR"

type Doctor struct {
	ID                uuid.UUID
	Name              string
	Specialty         *string
	Status            DoctorStatus
	Template          schedule.WeeklyTemplate
	Pricing           Pricing
	TotalAppointments int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (d *Doctor) Active() bool {
	return d.Status == DoctorActive
}

func (d *Doctor) CurrentFee() Fee {
	currency := d.Pricing.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	return Fee{Amount: d.Pricing.ConsultationFee, Currency: currency}
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Appointment.Fee is captured at booking time and never follows later price
// changes.
type Appointment struct {
	ID              uuid.UUID
	DoctorID        uuid.UUID
	PatientID       uuid.UUID
	Date            schedule.Date
	Slot            schedule.Slot
	DurationMinutes int
	Status          AppointmentStatus
	Type            AppointmentType
	Description     string
	Symptoms        []string
	Fee             Fee
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BookedSlot is what the conflict check needs to know about an appointment.
type BookedSlot struct {
	Slot   schedule.Slot
	Status AppointmentStatus
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	DoctorID      *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// Availability is the bookable set for one doctor and date.
type Availability struct {
	DoctorID        uuid.UUID
	Date            schedule.Date
	Slots           []schedule.Slot
	DurationMinutes int
	Fee             Fee
}

// OverrideState is the per-date override after a block or unblock.
// Overridden is false when the date follows the weekly template. Offered
// ignores existing appointments.
type OverrideState struct {
	DoctorID   uuid.UUID
	Date       schedule.Date
	Overridden bool
	Slots      []schedule.OverrideSlot
	Offered    []schedule.Slot
}

// BookingRequest carries the caller's raw date and slot strings so they are
// validated after the doctor and patient checks.
type BookingRequest struct {
	PatientID   uuid.UUID
	DoctorID    uuid.UUID
	Date        string
	SlotStart   string
	SlotEnd     string
	Type        AppointmentType
	Description string
	Symptoms    []string
}

type DoctorFilter struct {
	From   *schedule.Date
	To     *schedule.Date
	Status AppointmentStatus
}

type PatientFilter struct {
	Status AppointmentStatus
	Limit  int
	Offset int
}

// AppointmentPage is one page of a listing with the bounds actually applied.
type AppointmentPage struct {
	Appointments []Appointment
	Total        int
	Page         int
	Limit        int
}
