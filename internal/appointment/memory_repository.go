package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/schedule"
)

type overrideKey struct {
	doctorID uuid.UUID
	date     schedule.Date
}

type slotKey struct {
	doctorID uuid.UUID
	date     schedule.Date
	slot     schedule.Slot
}

// MemoryRepository keeps everything in process. The active-slot index is
// checked and written under the same lock as the appointment itself, which
// makes ReserveIfAbsent a single indivisible step.
type MemoryRepository struct {
	mu           sync.RWMutex
	doctors      map[uuid.UUID]Doctor
	patients     map[uuid.UUID]Patient
	overrides    map[overrideKey]schedule.DateOverride
	appointments map[uuid.UUID]Appointment
	active       map[slotKey]uuid.UUID
	events       []EventLog

	overrideLocks sync.Map // overrideKey -> *sync.Mutex
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		doctors:      make(map[uuid.UUID]Doctor),
		patients:     make(map[uuid.UUID]Patient),
		overrides:    make(map[overrideKey]schedule.DateOverride),
		appointments: make(map[uuid.UUID]Appointment),
		active:       make(map[slotKey]uuid.UUID),
	}
}

func (r *MemoryRepository) AddDoctor(d Doctor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	r.doctors[d.ID] = d
}

func (r *MemoryRepository) AddPatient(p Patient) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	r.patients[p.ID] = p
}

// Events returns a copy of the recorded event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EventLog(nil), r.events...)
}

func copyOverride(o schedule.DateOverride) *schedule.DateOverride {
	out := o
	out.Slots = append([]schedule.OverrideSlot(nil), o.Slots...)
	return &out
}

func copyAppointment(a Appointment) *Appointment {
	out := a
	out.Symptoms = append([]string(nil), a.Symptoms...)
	return &out
}

func copyDoctor(d Doctor) *Doctor {
	out := d
	out.Template.Slots = append([]schedule.TemplateSlot(nil), d.Template.Slots...)
	return &out
}

func (r *MemoryRepository) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return copyDoctor(d), nil
}

func (r *MemoryRepository) GetOverride(ctx context.Context, doctorID uuid.UUID, date schedule.Date) (*schedule.DateOverride, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.overrides[overrideKey{doctorID, date}]
	if !ok {
		return nil, nil
	}
	return copyOverride(o), nil
}

func (r *MemoryRepository) overrideLock(key overrideKey) *sync.Mutex {
	m, _ := r.overrideLocks.LoadOrStore(key, &sync.Mutex{})
	return m.(*sync.Mutex)
}

func (r *MemoryRepository) UpdateOverride(ctx context.Context, doctorID uuid.UUID, date schedule.Date, fn OverrideFunc) (*schedule.DateOverride, error) {
	key := overrideKey{doctorID, date}
	m := r.overrideLock(key)
	m.Lock()
	defer m.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	current, err := r.GetOverride(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.doctors[doctorID]; !ok {
		return nil, ErrDoctorNotFound
	}
	if next == nil {
		delete(r.overrides, key)
		return nil, nil
	}
	stored := *copyOverride(*next)
	stored.DoctorID = doctorID
	stored.Date = date
	r.overrides[key] = stored
	return copyOverride(stored), nil
}

func (r *MemoryRepository) UpdateAvailability(ctx context.Context, doctorID uuid.UUID, tmpl schedule.WeeklyTemplate) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.doctors[doctorID]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	d.Template = tmpl
	d.Template.Slots = append([]schedule.TemplateSlot(nil), tmpl.Slots...)
	d.UpdatedAt = time.Now()
	r.doctors[doctorID] = d
	return copyDoctor(d), nil
}

func (r *MemoryRepository) UpdatePricing(ctx context.Context, doctorID uuid.UUID, pricing Pricing) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.doctors[doctorID]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	d.Pricing = pricing
	d.UpdatedAt = time.Now()
	r.doctors[doctorID] = d
	return copyDoctor(d), nil
}

func (r *MemoryRepository) IncrementTotalAppointments(ctx context.Context, doctorID uuid.UUID, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.doctors[doctorID]
	if !ok {
		return ErrDoctorNotFound
	}
	d.TotalAppointments += int64(delta)
	r.doctors[doctorID] = d
	return nil
}

// ReconcileTotalAppointments recounts every doctor's appointments and returns
// how many counters were corrected.
func (r *MemoryRepository) ReconcileTotalAppointments(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[uuid.UUID]int64, len(r.doctors))
	for _, a := range r.appointments {
		counts[a.DoctorID]++
	}

	var fixed int64
	for id, d := range r.doctors {
		if d.TotalAppointments != counts[id] {
			d.TotalAppointments = counts[id]
			r.doctors[id] = d
			fixed++
		}
	}
	return fixed, nil
}

func (r *MemoryRepository) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.patients[id]
	return ok, nil
}

func (r *MemoryRepository) ListActive(ctx context.Context, doctorID uuid.UUID, date schedule.Date) ([]BookedSlot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []BookedSlot
	for key, id := range r.active {
		if key.doctorID != doctorID || key.date != date {
			continue
		}
		out = append(out, BookedSlot{Slot: key.slot, Status: r.appointments[id].Status})
	}
	return out, nil
}

func (r *MemoryRepository) ReserveIfAbsent(ctx context.Context, draft Appointment) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := slotKey{draft.DoctorID, draft.Date, draft.Slot}
	if _, taken := r.active[key]; taken {
		return nil, ErrSlotTaken
	}

	if draft.ID == uuid.Nil {
		draft.ID = uuid.New()
	}
	now := time.Now()
	draft.CreatedAt = now
	draft.UpdatedAt = now
	draft.Symptoms = append([]string(nil), draft.Symptoms...)

	r.appointments[draft.ID] = draft
	if draft.Status.Active() {
		r.active[key] = draft.ID
	}
	return copyAppointment(draft), nil
}

func (r *MemoryRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return copyAppointment(a), nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != from {
		return nil, ErrInvalidTransition
	}

	key := slotKey{a.DoctorID, a.Date, a.Slot}
	switch {
	case from.Active() && !to.Active():
		delete(r.active, key)
	case !from.Active() && to.Active():
		if _, taken := r.active[key]; taken {
			return nil, ErrSlotTaken
		}
		r.active[key] = a.ID
	}

	a.Status = to
	a.UpdatedAt = time.Now()
	r.appointments[id] = a
	return copyAppointment(a), nil
}

func (r *MemoryRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID, filter DoctorFilter) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []Appointment{}
	for _, a := range r.appointments {
		if a.DoctorID != doctorID {
			continue
		}
		if filter.From != nil && a.Date.Before(*filter.From) {
			continue
		}
		if filter.To != nil && a.Date.After(*filter.To) {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		out = append(out, *copyAppointment(a))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Slot.Start < out[j].Slot.Start
	})
	return out, nil
}

func (r *MemoryRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, filter PatientFilter) ([]Appointment, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Appointment
	for _, a := range r.appointments {
		if a.PatientID != patientID {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		matched = append(matched, a)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Date != matched[j].Date {
			return matched[i].Date.After(matched[j].Date)
		}
		return matched[i].Slot.Start > matched[j].Slot.Start
	})

	total := len(matched)
	start := min(filter.Offset, total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}

	out := make([]Appointment, 0, end-start)
	for _, a := range matched[start:end] {
		out = append(out, *copyAppointment(a))
	}
	return out, total, nil
}

func (r *MemoryRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = int64(len(r.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	r.events = append(r.events, ev)
	return nil
}
