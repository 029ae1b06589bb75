package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const timeLayout = "15:04"

// TimeOfDay is a minute-precision wall clock time, stored as minutes after midnight.
type TimeOfDay int

// ParseTimeOfDay parses an "HH:MM" 24h time.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse(timeLayout, strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Slot is one atomic bookable window. Two slots are the same slot only when
// both ends are equal; there is no overlap reasoning.
type Slot struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

var ErrInvalidSlot = errors.New("slot start must be before end")

// ParseSlot parses the "HH:MM-HH:MM" form.
func ParseSlot(s string) (Slot, error) {
	start, end, ok := strings.Cut(s, "-")
	if !ok {
		return Slot{}, fmt.Errorf("invalid slot %q: expected HH:MM-HH:MM", s)
	}
	return NewSlot(start, end)
}

// NewSlot builds a validated slot from two "HH:MM" strings.
func NewSlot(start, end string) (Slot, error) {
	st, err := ParseTimeOfDay(start)
	if err != nil {
		return Slot{}, err
	}
	en, err := ParseTimeOfDay(end)
	if err != nil {
		return Slot{}, err
	}
	sl := Slot{Start: st, End: en}
	if err := sl.Validate(); err != nil {
		return Slot{}, err
	}
	return sl, nil
}

func (s Slot) Validate() error {
	if s.Start < 0 || s.End > 24*60 {
		return fmt.Errorf("slot %s: out of range", s)
	}
	if s.Start >= s.End {
		return fmt.Errorf("slot %s: %w", s, ErrInvalidSlot)
	}
	return nil
}

func (s Slot) Minutes() int {
	return int(s.End - s.Start)
}

func (s Slot) String() string {
	return s.Start.String() + "-" + s.End.String()
}

func indexOfSlot(slots []OverrideSlot, target Slot) int {
	for i, s := range slots {
		if s.Slot == target {
			return i
		}
	}
	return -1
}

// ContainsSlot reports whether target is in slots.
func ContainsSlot(slots []Slot, target Slot) bool {
	for _, s := range slots {
		if s == target {
			return true
		}
	}
	return false
}
