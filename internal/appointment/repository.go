package appointment

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/schedule"
)

// OverrideFunc computes the next override from the current one. A nil
// current means the date has no override; a nil result deletes it.
type OverrideFunc func(current *schedule.DateOverride) (*schedule.DateOverride, error)

type DoctorDirectory interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetOverride(ctx context.Context, doctorID uuid.UUID, date schedule.Date) (*schedule.DateOverride, error)

	// UpdateOverride runs fn as the single writer for (doctorID, date) and
	// persists its result.
	UpdateOverride(ctx context.Context, doctorID uuid.UUID, date schedule.Date, fn OverrideFunc) (*schedule.DateOverride, error)

	UpdateAvailability(ctx context.Context, doctorID uuid.UUID, tmpl schedule.WeeklyTemplate) (*Doctor, error)
	UpdatePricing(ctx context.Context, doctorID uuid.UUID, pricing Pricing) (*Doctor, error)

	// Statistics; eventually consistent.
	IncrementTotalAppointments(ctx context.Context, doctorID uuid.UUID, delta int) error
	ReconcileTotalAppointments(ctx context.Context) (int64, error)
}

type PatientDirectory interface {
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)
}

type AppointmentStore interface {
	// ListActive returns the scheduled and completed appointments' slots.
	ListActive(ctx context.Context, doctorID uuid.UUID, date schedule.Date) ([]BookedSlot, error)

	// ReserveIfAbsent inserts draft in one indivisible step unless an active
	// appointment holds the same doctor, date and slot, in which case it
	// returns ErrSlotTaken.
	ReserveIfAbsent(ctx context.Context, draft Appointment) (*Appointment, error)

	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// UpdateStatus moves id from -> to and fails with ErrInvalidTransition if
	// the stored status is no longer from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)

	ListByDoctor(ctx context.Context, doctorID uuid.UUID, filter DoctorFilter) ([]Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, filter PatientFilter) ([]Appointment, int, error)
}

type EventStore interface {
	InsertEvent(ctx context.Context, ev EventLog) error
}

// Repository contains all storage interactions needed by the service.
type Repository interface {
	DoctorDirectory
	PatientDirectory
	AppointmentStore
	EventStore
}
