package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Days is a set of weekdays.
type Days uint8

func NewDays(days ...time.Weekday) Days {
	var s Days
	for _, d := range days {
		s |= 1 << uint(d)
	}
	return s
}

// Weekdays is Monday through Friday.
var Weekdays = NewDays(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday)

func (s Days) Has(d time.Weekday) bool {
	return s&(1<<uint(d)) != 0
}

func (s Days) List() []time.Weekday {
	out := make([]time.Weekday, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

// ParseWeekday accepts full English day names in any case ("monday", "Monday").
func ParseWeekday(s string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), strings.TrimSpace(s)) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", s)
}

func (s Days) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, 7)
	for _, d := range s.List() {
		names = append(names, d.String())
	}
	return json.Marshal(names)
}

func (s *Days) UnmarshalJSON(b []byte) error {
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return err
	}
	var out Days
	for _, n := range names {
		d, err := ParseWeekday(n)
		if err != nil {
			return err
		}
		out |= 1 << uint(d)
	}
	*s = out
	return nil
}

type TemplateSlot struct {
	Slot
	MaxPatients int `json:"max_patients"`
}

// WeeklyTemplate is a doctor's recurring schedule. Slots keep the order the
// doctor defined them in.
type WeeklyTemplate struct {
	WorkingDays                Days           `json:"working_days"`
	Slots                      []TemplateSlot `json:"slots"`
	AppointmentDurationMinutes int            `json:"appointment_duration_minutes"`
	BufferMinutes              int            `json:"buffer_minutes"`
}

const DefaultAppointmentDuration = 30

var ErrDuplicateSlot = errors.New("duplicate slot")

func (t WeeklyTemplate) WorksOn(d time.Weekday) bool {
	return t.WorkingDays.Has(d)
}

func (t WeeklyTemplate) Validate() error {
	if t.AppointmentDurationMinutes <= 0 {
		return fmt.Errorf("appointment_duration_minutes must be > 0")
	}
	if t.BufferMinutes < 0 {
		return fmt.Errorf("buffer_minutes must be >= 0")
	}
	seen := make(map[Slot]bool, len(t.Slots))
	for _, s := range t.Slots {
		if err := s.Validate(); err != nil {
			return err
		}
		if s.MaxPatients < 0 {
			return fmt.Errorf("slot %s: max_patients must be >= 0", s.Slot)
		}
		if seen[s.Slot] {
			return fmt.Errorf("slot %s: %w", s.Slot, ErrDuplicateSlot)
		}
		seen[s.Slot] = true
	}
	return nil
}

// SlotList returns the template's slot windows in definition order.
func (t WeeklyTemplate) SlotList() []Slot {
	out := make([]Slot, 0, len(t.Slots))
	for _, s := range t.Slots {
		out = append(out, s.Slot)
	}
	return out
}

type OverrideSlot struct {
	Slot
	Available bool `json:"available"`
	// Appended marks an entry that exists only because it was blocked.
	// Unblocking it removes the entry instead of offering the slot.
	Appended bool `json:"appended,omitempty"`
}

// DateOverride replaces the template for one calendar date. Its presence is
// authoritative: template slots missing from it are not offered that day.
type DateOverride struct {
	DoctorID uuid.UUID      `json:"doctor_id"`
	Date     Date           `json:"date"`
	Slots    []OverrideSlot `json:"slots"`
}

func (o DateOverride) AllAvailable() bool {
	for _, s := range o.Slots {
		if !s.Available {
			return false
		}
	}
	return true
}

// Lookup returns the override entry for slot, if any.
func (o DateOverride) Lookup(slot Slot) (OverrideSlot, bool) {
	if i := indexOfSlot(o.Slots, slot); i >= 0 {
		return o.Slots[i], true
	}
	return OverrideSlot{}, false
}

func (o DateOverride) clone() DateOverride {
	out := o
	out.Slots = make([]OverrideSlot, len(o.Slots))
	copy(out.Slots, o.Slots)
	return out
}
