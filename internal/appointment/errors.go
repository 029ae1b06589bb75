package appointment

import (
	"errors"
	"fmt"
)

// Kind classifies errors for callers. Everything not otherwise classified is
// KindInternal.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	}
	return "internal"
}

var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	ErrSlotUnavailable   = errors.New("slot unavailable")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrValidation        = errors.New("validation failed")

	// ErrSlotTaken is returned by stores when the conditional insert finds an
	// active appointment for the same doctor, date and slot.
	ErrSlotTaken = errors.New("slot already reserved")
)

type UnavailableReason string

const (
	ReasonClosed     UnavailableReason = "closed"
	ReasonBooked     UnavailableReason = "booked"
	ReasonBlocked    UnavailableReason = "blocked"
	ReasonNotOffered UnavailableReason = "not_offered"
	// ReasonInProgress means another request holds the slot lock. The holder
	// may still fail, so the caller can retry.
	ReasonInProgress UnavailableReason = "in_progress"
)

// SlotUnavailableError matches ErrSlotUnavailable and says why.
type SlotUnavailableError struct {
	Reason UnavailableReason
}

func (e *SlotUnavailableError) Error() string {
	switch e.Reason {
	case ReasonClosed:
		return "slot unavailable: doctor does not work that day"
	case ReasonBooked:
		return "slot unavailable: already booked"
	case ReasonBlocked:
		return "slot unavailable: blocked by the doctor"
	case ReasonNotOffered:
		return "slot unavailable: not offered that day"
	case ReasonInProgress:
		return "slot unavailable: another booking for this slot is in progress"
	}
	return ErrSlotUnavailable.Error()
}

func (e *SlotUnavailableError) Is(target error) bool {
	return target == ErrSlotUnavailable
}

func slotUnavailable(reason UnavailableReason) error {
	return &SlotUnavailableError{Reason: reason}
}

// ValidationError matches ErrValidation.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// KindOf classifies err. A slot that is not offered at all is a validation
// problem; every other unavailable slot is a conflict.
func KindOf(err error) Kind {
	var su *SlotUnavailableError
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrDoctorNotFound),
		errors.Is(err, ErrPatientNotFound),
		errors.Is(err, ErrAppointmentNotFound):
		return KindNotFound
	case errors.As(err, &su) && su.Reason == ReasonNotOffered:
		return KindValidation
	case errors.Is(err, ErrSlotUnavailable),
		errors.Is(err, ErrSlotTaken),
		errors.Is(err, ErrInvalidTransition):
		return KindConflict
	case errors.Is(err, ErrValidation):
		return KindValidation
	}
	return KindInternal
}

// ReasonOf returns the conflict reason carried by err, if any.
func ReasonOf(err error) string {
	var su *SlotUnavailableError
	if errors.As(err, &su) {
		return string(su.Reason)
	}
	if errors.Is(err, ErrInvalidTransition) {
		return "invalid_transition"
	}
	return ""
}
