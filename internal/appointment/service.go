package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/lock"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

const (
	EventAppointmentBooked        = "APPOINTMENT_BOOKED"
	EventAppointmentStatusChanged = "APPOINTMENT_STATUS_CHANGED"
	EventSlotsBlocked             = "SLOTS_BLOCKED"
	EventSlotsUnblocked           = "SLOTS_UNBLOCKED"
	EventAvailabilityUpdated      = "AVAILABILITY_UPDATED"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// StatsRecorder receives booking side effects that are outside the booking's
// atomicity boundary.
type StatsRecorder interface {
	Record(doctorID uuid.UUID)
}

type nopStats struct{}

func (nopStats) Record(uuid.UUID) {}

type Service struct {
	repo   Repository
	locker lock.Locker
	stats  StatsRecorder
	logger zerolog.Logger
}

func NewService(repo Repository, locker lock.Locker, stats StatsRecorder, logger zerolog.Logger) *Service {
	if stats == nil {
		stats = nopStats{}
	}
	return &Service{
		repo:   repo,
		locker: locker,
		stats:  stats,
		logger: logger.With().Str("component", "appointment").Logger(),
	}
}

// SlotLockKey is the reservation key for one doctor, date and slot.
func SlotLockKey(doctorID uuid.UUID, date schedule.Date, slot schedule.Slot) string {
	return fmt.Sprintf("lock:slot:%s:%s:%s", doctorID, date, slot)
}

// dayView is a snapshot read of everything that decides bookability for one
// doctor and date. It may be stale by the time it is used.
type dayView struct {
	override   *schedule.DateOverride
	candidates []schedule.Slot
	booked     []BookedSlot
	bookable   []schedule.Slot
}

func (s *Service) loadDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	doctor, err := s.repo.GetDoctor(ctx, id)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	return doctor, nil
}

func (s *Service) activeDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	doctor, err := s.loadDoctor(ctx, id)
	if err != nil {
		return nil, err
	}
	if !doctor.Active() {
		return nil, ErrDoctorNotFound
	}
	return doctor, nil
}

func (s *Service) dayView(ctx context.Context, doctor *Doctor, date schedule.Date) (*dayView, error) {
	override, err := s.repo.GetOverride(ctx, doctor.ID, date)
	if err != nil {
		return nil, fmt.Errorf("load override: %w", err)
	}

	v := &dayView{
		override:   override,
		candidates: schedule.Resolve(doctor.Template, override, date),
	}
	if len(v.candidates) == 0 {
		v.bookable = v.candidates
		return v, nil
	}

	v.booked, err = s.repo.ListActive(ctx, doctor.ID, date)
	if err != nil {
		return nil, fmt.Errorf("list active appointments: %w", err)
	}

	v.bookable = make([]schedule.Slot, 0, len(v.candidates))
	for _, c := range v.candidates {
		if !v.isBooked(c) {
			v.bookable = append(v.bookable, c)
		}
	}
	return v, nil
}

func (v *dayView) isBooked(slot schedule.Slot) bool {
	for _, b := range v.booked {
		if b.Status.Active() && b.Slot == slot {
			return true
		}
	}
	return false
}

// reason explains why slot is not in the bookable set.
func (v *dayView) reason(tmpl schedule.WeeklyTemplate, date schedule.Date, slot schedule.Slot) UnavailableReason {
	if !tmpl.WorksOn(date.Weekday()) {
		return ReasonClosed
	}
	if v.isBooked(slot) {
		return ReasonBooked
	}
	if v.override != nil {
		entry, ok := v.override.Lookup(slot)
		if ok && !entry.Available {
			return ReasonBlocked
		}
		if !ok {
			return ReasonNotOffered
		}
		return ReasonBooked
	}
	if !schedule.ContainsSlot(tmpl.SlotList(), slot) {
		return ReasonNotOffered
	}
	return ReasonBooked
}

// ResolveAvailability returns the bookable slots for a doctor on date along
// with the appointment duration and the doctor's current fee.
func (s *Service) ResolveAvailability(ctx context.Context, doctorID uuid.UUID, date schedule.Date) (*Availability, error) {
	doctor, err := s.activeDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	view, err := s.dayView(ctx, doctor, date)
	if err != nil {
		return nil, err
	}

	return &Availability{
		DoctorID:        doctor.ID,
		Date:            date,
		Slots:           view.bookable,
		DurationMinutes: doctor.Template.AppointmentDurationMinutes,
		Fee:             doctor.CurrentFee(),
	}, nil
}

func (r BookingRequest) parse() (schedule.Date, schedule.Slot, error) {
	date, err := schedule.ParseDate(r.Date)
	if err != nil {
		return schedule.Date{}, schedule.Slot{}, invalid("date", "%v", err)
	}
	slot, err := schedule.NewSlot(r.SlotStart, r.SlotEnd)
	if err != nil {
		return schedule.Date{}, schedule.Slot{}, invalid("slot", "%v", err)
	}
	if !r.Type.Valid() {
		return schedule.Date{}, schedule.Slot{}, invalid("type", "must be one of first-visit, follow-up, consultation, emergency")
	}
	if strings.TrimSpace(r.Description) == "" {
		return schedule.Date{}, schedule.Slot{}, invalid("description", "is required")
	}
	return date, slot, nil
}

func cleanSymptoms(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// BookAppointment reserves a slot for a patient.
//
// The bookable-set check is only a hint; the slot is actually claimed by the
// store's conditional insert, so of any number of concurrent requests for one
// slot exactly one succeeds and the rest get ErrSlotUnavailable.
func (s *Service) BookAppointment(ctx context.Context, req BookingRequest) (*Appointment, error) {
	doctor, err := s.activeDoctor(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}

	exists, err := s.repo.PatientExists(ctx, req.PatientID)
	if err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if !exists {
		return nil, ErrPatientNotFound
	}

	date, slot, err := req.parse()
	if err != nil {
		return nil, err
	}

	view, err := s.dayView(ctx, doctor, date)
	if err != nil {
		return nil, err
	}
	if !schedule.ContainsSlot(view.bookable, slot) {
		return nil, slotUnavailable(view.reason(doctor.Template, date, slot))
	}

	draft := Appointment{
		ID:              uuid.New(),
		DoctorID:        doctor.ID,
		PatientID:       req.PatientID,
		Date:            date,
		Slot:            slot,
		DurationMinutes: doctor.Template.AppointmentDurationMinutes,
		Status:          StatusScheduled,
		Type:            req.Type,
		Description:     strings.TrimSpace(req.Description),
		Symptoms:        cleanSymptoms(req.Symptoms),
		Fee:             doctor.CurrentFee(),
	}

	var created *Appointment
	err = s.locker.WithLock(ctx, SlotLockKey(doctor.ID, date, slot), func(lockCtx context.Context) error {
		appt, err := s.repo.ReserveIfAbsent(lockCtx, draft)
		if err != nil {
			return err
		}
		created = appt
		return nil
	})
	switch {
	case errors.Is(err, lock.ErrLockNotAcquired):
		s.logger.Debug().
			Str("doctor_id", doctor.ID.String()).
			Str("date", date.String()).
			Str("slot", slot.String()).
			Msg("slot lock held by another request")
		return nil, slotUnavailable(ReasonInProgress)
	case errors.Is(err, ErrSlotTaken):
		s.logger.Debug().
			Str("doctor_id", doctor.ID.String()).
			Str("date", date.String()).
			Str("slot", slot.String()).
			Msg("lost reservation race")
		return nil, slotUnavailable(ReasonBooked)
	case err != nil:
		return nil, fmt.Errorf("reserve slot: %w", err)
	}

	s.stats.Record(doctor.ID)

	s.logEvent(ctx, &created.ID, &created.DoctorID, EventAppointmentBooked, map[string]any{
		"patient_id": created.PatientID.String(),
		"date":       created.Date.String(),
		"slot":       created.Slot.String(),
		"fee":        created.Fee,
	})
	s.logger.Info().
		Str("appointment_id", created.ID.String()).
		Str("doctor_id", created.DoctorID.String()).
		Str("date", created.Date.String()).
		Str("slot", created.Slot.String()).
		Msg("appointment booked")

	return created, nil
}

// UpdateAppointmentStatus applies a doctor's status change. Appointments of
// other doctors are reported as not found.
func (s *Service) UpdateAppointmentStatus(ctx context.Context, id, requester uuid.UUID, to AppointmentStatus) (*Appointment, error) {
	if !to.Valid() {
		return nil, invalid("status", "unknown status %q", to)
	}

	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.DoctorID != requester {
		return nil, ErrAppointmentNotFound
	}
	if !appt.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, to)
	}

	updated, err := s.repo.UpdateStatus(ctx, appt.ID, appt.Status, to)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	s.logEvent(ctx, &updated.ID, &updated.DoctorID, EventAppointmentStatusChanged, map[string]any{
		"from": appt.Status,
		"to":   updated.Status,
	})

	return updated, nil
}

func validateSlots(slots []schedule.Slot) error {
	if len(slots) == 0 {
		return invalid("slots", "at least one slot is required")
	}
	for _, sl := range slots {
		if err := sl.Validate(); err != nil {
			return invalid("slots", "%v", err)
		}
	}
	return nil
}

// BlockSlots makes slots unavailable on date.
func (s *Service) BlockSlots(ctx context.Context, doctorID uuid.UUID, date schedule.Date, slots []schedule.Slot) (*OverrideState, error) {
	if err := validateSlots(slots); err != nil {
		return nil, err
	}
	doctor, err := s.loadDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	next, err := s.repo.UpdateOverride(ctx, doctor.ID, date, func(current *schedule.DateOverride) (*schedule.DateOverride, error) {
		o := schedule.Block(doctor.Template, current, date, slots)
		o.DoctorID = doctor.ID
		return &o, nil
	})
	if err != nil {
		return nil, fmt.Errorf("block slots: %w", err)
	}

	s.logEvent(ctx, nil, &doctor.ID, EventSlotsBlocked, map[string]any{
		"date":  date.String(),
		"slots": slots,
	})

	return overrideState(doctor, date, next), nil
}

// UnblockSlots makes slots available again on date. When no slot remains
// blocked the override is removed and the date follows the template.
func (s *Service) UnblockSlots(ctx context.Context, doctorID uuid.UUID, date schedule.Date, slots []schedule.Slot) (*OverrideState, error) {
	if err := validateSlots(slots); err != nil {
		return nil, err
	}
	doctor, err := s.loadDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	next, err := s.repo.UpdateOverride(ctx, doctor.ID, date, func(current *schedule.DateOverride) (*schedule.DateOverride, error) {
		return schedule.Unblock(current, slots), nil
	})
	if err != nil {
		return nil, fmt.Errorf("unblock slots: %w", err)
	}

	s.logEvent(ctx, nil, &doctor.ID, EventSlotsUnblocked, map[string]any{
		"date":  date.String(),
		"slots": slots,
	})

	return overrideState(doctor, date, next), nil
}

func overrideState(doctor *Doctor, date schedule.Date, o *schedule.DateOverride) *OverrideState {
	state := &OverrideState{
		DoctorID: doctor.ID,
		Date:     date,
		Slots:    []schedule.OverrideSlot{},
		Offered:  schedule.Resolve(doctor.Template, o, date),
	}
	if o != nil {
		state.Overridden = true
		state.Slots = o.Slots
	}
	return state
}

// UpdateAvailability replaces a doctor's weekly template. Existing date
// overrides and appointments are left as they are.
func (s *Service) UpdateAvailability(ctx context.Context, doctorID uuid.UUID, tmpl schedule.WeeklyTemplate) (*Doctor, error) {
	if tmpl.AppointmentDurationMinutes == 0 {
		tmpl.AppointmentDurationMinutes = schedule.DefaultAppointmentDuration
	}
	if err := tmpl.Validate(); err != nil {
		return nil, invalid("availability", "%v", err)
	}

	doctor, err := s.repo.UpdateAvailability(ctx, doctorID, tmpl)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update availability: %w", err)
	}

	s.logEvent(ctx, nil, &doctor.ID, EventAvailabilityUpdated, map[string]any{
		"working_days": tmpl.WorkingDays,
		"slots":        len(tmpl.Slots),
	})

	return doctor, nil
}

// GetAvailabilityTemplate returns the doctor with their weekly template,
// whatever their status.
func (s *Service) GetAvailabilityTemplate(ctx context.Context, doctorID uuid.UUID) (*Doctor, error) {
	return s.loadDoctor(ctx, doctorID)
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// ListDoctorAppointments lists a doctor's appointments ordered by date and slot.
func (s *Service) ListDoctorAppointments(ctx context.Context, doctorID uuid.UUID, filter DoctorFilter) ([]Appointment, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, invalid("status", "unknown status %q", filter.Status)
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, invalid("to", "must not be before from")
	}
	if _, err := s.loadDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	appointments, err := s.repo.ListByDoctor(ctx, doctorID, filter)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return appointments, nil
}

// ListPatientAppointments returns one page of a patient's appointments, most
// recent first, and the total number matching. A zero limit means the
// default; limits above the maximum are capped.
func (s *Service) ListPatientAppointments(ctx context.Context, patientID uuid.UUID, status AppointmentStatus, page, limit int) (*AppointmentPage, error) {
	if status != "" && !status.Valid() {
		return nil, invalid("status", "unknown status %q", status)
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if page < 1 {
		page = 1
	}

	exists, err := s.repo.PatientExists(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if !exists {
		return nil, ErrPatientNotFound
	}

	appointments, total, err := s.repo.ListByPatient(ctx, patientID, PatientFilter{
		Status: status,
		Limit:  limit,
		Offset: (page - 1) * limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return &AppointmentPage{Appointments: appointments, Total: total, Page: page, Limit: limit}, nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID, doctorID *uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("marshal event payload")
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		DoctorID:      doctorID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("insert event log")
	}
}
