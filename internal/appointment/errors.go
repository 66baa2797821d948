package appointment

import (
	"errors"

	"github.com/hackgods/appointment-lifecycle/internal/civiltime"
)

type Reason string

const (
	ReasonResourceUnavailable Reason = "RESOURCE_UNAVAILABLE"
	ReasonSlotConflict        Reason = "SLOT_CONFLICT"
	ReasonDuplicateBooking    Reason = "DUPLICATE_BOOKING"
	ReasonQuotaExceeded       Reason = "QUOTA_EXCEEDED"
	ReasonTooEarly            Reason = "TOO_EARLY"
	ReasonTooLate             Reason = "TOO_LATE"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrAlertNotFound       = errors.New("alert not found")
	ErrStatusChanged       = errors.New("appointment status changed concurrently")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrProviderBusy        = errors.New("provider schedule is being updated, please retry")
	ErrInvalidRequest      = errors.New("invalid booking request")

	ErrResourceUnavailable = &ValidationError{Reason: ReasonResourceUnavailable}
	ErrSlotConflict        = &ValidationError{Reason: ReasonSlotConflict}
	ErrDuplicateBooking    = &ValidationError{Reason: ReasonDuplicateBooking}
	ErrQuotaExceeded       = &ValidationError{Reason: ReasonQuotaExceeded}
	ErrTooEarly            = &ValidationError{Reason: ReasonTooEarly}
	ErrTooLate             = &ValidationError{Reason: ReasonTooLate}

	// ErrFormat matches malformed civil or 12-hour time input.
	ErrFormat = civiltime.ErrFormat
)

// ValidationError is a synchronous rejection surfaced to the caller.
// Two ValidationErrors match under errors.Is when their reasons are equal.
type ValidationError struct {
	Reason  Reason
	Message string

	// MinutesRemaining is set for TOO_EARLY.
	MinutesRemaining int
	// ConflictTime is the 12-hour display time of the clashing booking.
	ConflictTime string
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return string(e.Reason)
	}
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Reason == e.Reason
}
