package appointment

import (
	"fmt"
	"math"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusReminded  Status = "reminded"
	StatusCheckedIn Status = "checked_in"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
)

// CheckInWindow is how early before the start a patient may check in.
const CheckInWindow = 15 * time.Minute

// ActiveStatuses hold a provider's slot.
var ActiveStatuses = []Status{StatusPending, StatusConfirmed, StatusReminded}

// TerminalStatuses accept no further transitions.
var TerminalStatuses = []Status{StatusCompleted, StatusCanceled}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusReminded, StatusCheckedIn, StatusCompleted, StatusCanceled:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// CanTransitionTo reports whether the lifecycle permits moving from s to next.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusConfirmed || next == StatusReminded || next == StatusCheckedIn || next == StatusCanceled
	case StatusConfirmed:
		return next == StatusReminded || next == StatusCheckedIn || next == StatusCanceled
	case StatusReminded:
		return next == StatusCheckedIn || next == StatusCompleted || next == StatusCanceled
	case StatusCheckedIn:
		return next == StatusCompleted || next == StatusCanceled
	case StatusCompleted, StatusCanceled:
		return false
	default:
		return false
	}
}

// Transition moves the appointment to next and records the timestamp that
// belongs to that state. It does not check the check-in window; see CheckIn.
func (a *Appointment) Transition(next Status, at time.Time) error {
	if !a.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, next)
	}

	at = at.UTC()
	switch next {
	case StatusReminded:
		a.ReminderSentAt = &at
	case StatusCheckedIn:
		a.CheckedInAt = &at
	case StatusCompleted:
		a.CompletedAt = &at
	case StatusCanceled:
		if a.EndTimeUTC == nil {
			a.EndTimeUTC = &at
		}
	}

	a.Status = next
	a.UpdatedAt = at
	return nil
}

// CheckIn applies the check-in transition if now falls in
// [StartUTC-15m, StartUTC].
func (a *Appointment) CheckIn(now time.Time) error {
	if !a.Status.CanTransitionTo(StatusCheckedIn) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, StatusCheckedIn)
	}

	opens := a.StartUTC.Add(-CheckInWindow)
	if now.Before(opens) {
		minutes := int(math.Ceil(opens.Sub(now).Minutes()))
		return &ValidationError{
			Reason:           ReasonTooEarly,
			Message:          fmt.Sprintf("check-in opens in %d minutes", minutes),
			MinutesRemaining: minutes,
		}
	}
	if now.After(a.StartUTC) {
		return &ValidationError{
			Reason:  ReasonTooLate,
			Message: "check-in window has closed",
		}
	}

	return a.Transition(StatusCheckedIn, now)
}
