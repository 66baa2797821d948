package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-lifecycle/internal/civiltime"
)

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionCancel Action = "cancel"
)

// Rules are the validator's windows and limits.
type Rules struct {
	SlotBuffer      time.Duration
	DuplicateWindow time.Duration
	DailyQuota      int
}

func DefaultRules() Rules {
	return Rules{
		SlotBuffer:      15 * time.Minute,
		DuplicateWindow: time.Minute,
		DailyQuota:      5,
	}
}

// Request is a prospective booking as seen by the validator.
type Request struct {
	Action       Action
	PatientID    string
	ProviderName string
	Department   string
	StartUTC     time.Time
}

// Validator runs the pre-commit booking checks. The checks read the store
// and decide; callers that need the decision to hold until commit must
// serialize writers per provider.
type Validator struct {
	repo  Repository
	rules Rules
	now   func() time.Time
}

func NewValidator(repo Repository, rules Rules, now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{repo: repo, rules: rules, now: now}
}

// Validate returns nil or the first failed check as a *ValidationError.
// excludeID (uuid.Nil for none) is left out of every query so an update
// never collides with itself. Cancellations are always allowed.
func (v *Validator) Validate(ctx context.Context, req Request, excludeID uuid.UUID) error {
	if req.Action == ActionCancel {
		return nil
	}

	checks := []func(context.Context, Request, uuid.UUID) error{
		v.checkResourceActive,
		v.checkSlotConflict,
		v.checkDuplicate,
		v.checkDailyQuota,
	}
	for _, check := range checks {
		if err := check(ctx, req, excludeID); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) checkResourceActive(ctx context.Context, req Request, _ uuid.UUID) error {
	entries, err := v.repo.ListProviders(ctx, ProviderFilter{
		ProviderName: req.ProviderName,
		Department:   req.Department,
		Status:       ProviderActive,
	})
	if err != nil {
		return fmt.Errorf("load provider catalog: %w", err)
	}
	if len(entries) == 0 {
		return &ValidationError{
			Reason:  ReasonResourceUnavailable,
			Message: fmt.Sprintf("%s is not available for %s", req.ProviderName, req.Department),
		}
	}
	return nil
}

func (v *Validator) checkSlotConflict(ctx context.Context, req Request, excludeID uuid.UUID) error {
	clashes, err := v.repo.FindAppointments(ctx, Filter{
		ProviderName: req.ProviderName,
		Statuses:     ActiveStatuses,
		ExcludeID:    excludeID,
		StartFrom:    req.StartUTC.Add(-v.rules.SlotBuffer),
		StartTo:      req.StartUTC.Add(v.rules.SlotBuffer),
		Limit:        1,
	})
	if err != nil {
		return fmt.Errorf("query slot conflicts: %w", err)
	}
	if len(clashes) > 0 {
		at := civiltime.DisplayTime(clashes[0].StartUTC)
		return &ValidationError{
			Reason:       ReasonSlotConflict,
			Message:      fmt.Sprintf("%s already has an appointment at %s", req.ProviderName, at),
			ConflictTime: at,
		}
	}
	return nil
}

func (v *Validator) checkDuplicate(ctx context.Context, req Request, excludeID uuid.UUID) error {
	dups, err := v.repo.FindAppointments(ctx, Filter{
		ProviderName:    req.ProviderName,
		PatientID:       req.PatientID,
		ExcludeStatuses: []Status{StatusCanceled},
		ExcludeID:       excludeID,
		StartFrom:       req.StartUTC.Add(-v.rules.DuplicateWindow),
		StartTo:         req.StartUTC.Add(v.rules.DuplicateWindow),
		Limit:           1,
	})
	if err != nil {
		return fmt.Errorf("query duplicate bookings: %w", err)
	}
	if len(dups) > 0 {
		return &ValidationError{
			Reason:  ReasonDuplicateBooking,
			Message: "an identical booking already exists",
		}
	}
	return nil
}

func (v *Validator) checkDailyQuota(ctx context.Context, req Request, excludeID uuid.UUID) error {
	// An update does not create a booking, so it cannot push the count up.
	if v.rules.DailyQuota <= 0 || req.Action == ActionUpdate {
		return nil
	}

	dayStart, dayEnd := civiltime.DayBounds(v.now())
	n, err := v.repo.CountAppointments(ctx, Filter{
		PatientID:       req.PatientID,
		ExcludeStatuses: []Status{StatusCanceled},
		ExcludeID:       excludeID,
		CreatedFrom:     dayStart,
		CreatedBefore:   dayEnd,
	})
	if err != nil {
		return fmt.Errorf("count daily bookings: %w", err)
	}
	if n >= v.rules.DailyQuota {
		return &ValidationError{
			Reason:  ReasonQuotaExceeded,
			Message: fmt.Sprintf("daily booking limit of %d reached", v.rules.DailyQuota),
		}
	}
	return nil
}
