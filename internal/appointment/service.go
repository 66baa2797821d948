package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-lifecycle/internal/civiltime"
	"github.com/hackgods/appointment-lifecycle/internal/notify"
	redisclient "github.com/hackgods/appointment-lifecycle/internal/redis"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentUpdated   = "APPOINTMENT_UPDATED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCanceled  = "APPOINTMENT_CANCELED"
	EventAppointmentCheckedIn = "APPOINTMENT_CHECKED_IN"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAlertResolved        = "ALERT_RESOLVED"
)

const codeAttempts = 3

// Notifier receives lifecycle events. Implementations must not block the
// caller on delivery failures.
type Notifier interface {
	Notify(ctx context.Context, ev notify.Event)
}

// BookingInput describes a new appointment. Exactly one of StartLocal or
// StartUTC is used; StartLocal wins when both are set.
type BookingInput struct {
	PatientID    string
	PatientEmail string
	PatientPhone string
	ProviderName string
	Department   string
	StartLocal   string
	StartUTC     *time.Time
}

// UpdateInput changes an appointment. Nil fields are left as they are.
type UpdateInput struct {
	PatientEmail *string
	PatientPhone *string
	ProviderName *string
	Department   *string
	StartLocal   *string
	StartUTC     *time.Time
}

// MutationRequest is the inbound booking mutation payload.
type MutationRequest struct {
	ID     uuid.UUID
	Action Action
	Reason string
	BookingInput
}

type Service struct {
	repo      Repository
	validator *Validator
	locker    redisclient.Locker
	notifier  Notifier
	now       func() time.Time
	newCode   func() (string, error)
	logger    zerolog.Logger
}

func NewService(repo Repository, locker redisclient.Locker, notifier Notifier, rules Rules, now func() time.Time, logger zerolog.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:      repo,
		validator: NewValidator(repo, rules, now),
		locker:    locker,
		notifier:  notifier,
		now:       now,
		newCode:   NewConfirmationCode,
		logger:    logger.With().Str("component", "appointment.service").Logger(),
	}
}

// resolveStart returns the civil start string and its UTC instant.
func resolveStart(local string, utc *time.Time) (string, time.Time, error) {
	if local != "" {
		startUTC, err := civiltime.ToUTC(local)
		if err != nil {
			return "", time.Time{}, err
		}
		return civiltime.FromUTC(startUTC), startUTC, nil
	}
	if utc != nil && !utc.IsZero() {
		t := utc.UTC().Truncate(time.Minute)
		return civiltime.FromUTC(t), t, nil
	}
	return "", time.Time{}, fmt.Errorf("%w: start time is required", ErrInvalidRequest)
}

// Book validates and stores a new pending appointment. Validation and the
// insert run under the provider lock so concurrent bookings for the same
// provider cannot both pass the slot check.
func (s *Service) Book(ctx context.Context, in BookingInput) (*Appointment, error) {
	if in.PatientID == "" || in.ProviderName == "" || in.Department == "" {
		return nil, fmt.Errorf("%w: patient, provider and department are required", ErrInvalidRequest)
	}

	startLocal, startUTC, err := resolveStart(in.StartLocal, in.StartUTC)
	if err != nil {
		return nil, err
	}

	var created *Appointment

	err = s.withProviderLock(ctx, in.ProviderName, func(lockCtx context.Context) error {
		req := Request{
			Action:       ActionCreate,
			PatientID:    in.PatientID,
			ProviderName: in.ProviderName,
			Department:   in.Department,
			StartUTC:     startUTC,
		}
		if err := s.validator.Validate(lockCtx, req, uuid.Nil); err != nil {
			return err
		}

		code, err := s.uniqueCode(lockCtx)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		appt := &Appointment{
			ID:               uuid.New(),
			ConfirmationCode: code,
			PatientID:        in.PatientID,
			PatientEmail:     in.PatientEmail,
			PatientPhone:     in.PatientPhone,
			ProviderName:     in.ProviderName,
			ResourceGroup:    in.Department,
			StartLocal:       startLocal,
			StartUTC:         startUTC,
			ReminderDueUTC:   civiltime.ReminderDue(startUTC),
			Status:           StatusPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		}

		if err := s.repo.BatchWrite(lockCtx, []Write{InsertAppointment(appt)}); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}

		created = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, created, EventAppointmentCreated, notify.ActionCreated, map[string]any{
		"patient_id":    created.PatientID,
		"provider_name": created.ProviderName,
		"start_local":   created.StartLocal,
	})

	return created, nil
}

// Update applies in to an existing appointment. Time edits recompute every
// derived timestamp from the civil start.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*Appointment, error) {
	current, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if current.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s appointment cannot be changed", ErrInvalidTransition, current.Status)
	}

	next := *current
	if in.PatientEmail != nil {
		next.PatientEmail = *in.PatientEmail
	}
	if in.PatientPhone != nil {
		next.PatientPhone = *in.PatientPhone
	}
	if in.ProviderName != nil {
		next.ProviderName = *in.ProviderName
	}
	if in.Department != nil {
		next.ResourceGroup = *in.Department
	}
	if (in.StartLocal != nil && *in.StartLocal != "") || in.StartUTC != nil {
		var local string
		if in.StartLocal != nil {
			local = *in.StartLocal
		}
		next.StartLocal, next.StartUTC, err = resolveStart(local, in.StartUTC)
		if err != nil {
			return nil, err
		}
		next.ReminderDueUTC = civiltime.ReminderDue(next.StartUTC)
		// A new start opens a new reminder window.
		if !next.StartUTC.Equal(current.StartUTC) {
			next.ReminderSentAt = nil
		}
	}

	err = s.withProviderLock(ctx, next.ProviderName, func(lockCtx context.Context) error {
		req := Request{
			Action:       ActionUpdate,
			PatientID:    next.PatientID,
			ProviderName: next.ProviderName,
			Department:   next.ResourceGroup,
			StartUTC:     next.StartUTC,
		}
		if err := s.validator.Validate(lockCtx, req, next.ID); err != nil {
			return err
		}

		next.UpdatedAt = s.now().UTC()
		if err := s.repo.BatchWrite(lockCtx, []Write{PatchAppointment(next.ID, current.Status, MutableFields(&next))}); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, &next, EventAppointmentUpdated, notify.ActionUpdated, map[string]any{
		"previous_start_local": current.StartLocal,
		"start_local":          next.StartLocal,
		"provider_name":        next.ProviderName,
	})

	return &next, nil
}

// Cancel is always permitted for a non-terminal appointment; it skips every
// booking check.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	return s.transition(ctx, id, EventAppointmentCanceled, notify.ActionCanceled, func(a *Appointment, now time.Time) error {
		if err := a.Transition(StatusCanceled, now); err != nil {
			return err
		}
		a.CancelReason = reason
		return nil
	})
}

func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, EventAppointmentConfirmed, notify.ActionConfirmed, func(a *Appointment, now time.Time) error {
		return a.Transition(StatusConfirmed, now)
	})
}

func (s *Service) CheckIn(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, EventAppointmentCheckedIn, notify.ActionCheckedIn, func(a *Appointment, now time.Time) error {
		return a.CheckIn(now)
	})
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, EventAppointmentCompleted, notify.ActionCompleted, func(a *Appointment, now time.Time) error {
		return a.Transition(StatusCompleted, now)
	})
}

// Apply dispatches an inbound mutation payload.
func (s *Service) Apply(ctx context.Context, req MutationRequest) (*Appointment, error) {
	switch req.Action {
	case ActionCreate:
		return s.Book(ctx, req.BookingInput)
	case ActionUpdate:
		if req.ID == uuid.Nil {
			return nil, fmt.Errorf("%w: id is required for update", ErrInvalidRequest)
		}
		in := UpdateInput{StartUTC: req.StartUTC}
		if req.PatientEmail != "" {
			in.PatientEmail = &req.PatientEmail
		}
		if req.PatientPhone != "" {
			in.PatientPhone = &req.PatientPhone
		}
		if req.ProviderName != "" {
			in.ProviderName = &req.ProviderName
		}
		if req.Department != "" {
			in.Department = &req.Department
		}
		if req.StartLocal != "" {
			in.StartLocal = &req.StartLocal
		}
		return s.Update(ctx, req.ID, in)
	case ActionCancel:
		if req.ID == uuid.Nil {
			return nil, fmt.Errorf("%w: id is required for cancel", ErrInvalidRequest)
		}
		return s.Cancel(ctx, req.ID, req.Reason)
	}
	return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidRequest, req.Action)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// LookupByCode returns every appointment carrying code. Codes are not
// unique by construction, so more than one match is possible.
func (s *Service) LookupByCode(ctx context.Context, code string) ([]Appointment, error) {
	if !ValidConfirmationCode(code) {
		return nil, fmt.Errorf("%w: confirmation code must be 6 uppercase letters or digits", ErrInvalidRequest)
	}
	appts, err := s.repo.FindAppointments(ctx, Filter{ConfirmationCode: code})
	if err != nil {
		return nil, fmt.Errorf("lookup by code: %w", err)
	}
	return appts, nil
}

func (s *Service) ListAlerts(ctx context.Context, resolved *bool) ([]Alert, error) {
	alerts, err := s.repo.FindAlerts(ctx, AlertFilter{Resolved: resolved, Limit: 100})
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

func (s *Service) ResolveAlert(ctx context.Context, id uuid.UUID) (*Alert, error) {
	alert, err := s.repo.GetAlert(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load alert: %w", err)
	}
	if alert.Resolved {
		return alert, nil
	}

	now := s.now().UTC()
	alert.Resolved = true
	alert.ResolvedAt = &now
	if err := s.repo.BatchWrite(ctx, []Write{PatchAlert(alert.ID, Fields{ColResolved: true, ColResolvedAt: &now})}); err != nil {
		return nil, fmt.Errorf("resolve alert: %w", err)
	}

	s.logEvent(ctx, alert.AppointmentID, EventAlertResolved, map[string]any{"alert_id": alert.ID.String()})
	return alert, nil
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, eventType, action string, mutate func(*Appointment, time.Time) error) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	prev := appt.Status
	if err := mutate(appt, s.now()); err != nil {
		return nil, err
	}

	if err := s.repo.BatchWrite(ctx, []Write{PatchAppointment(appt.ID, prev, MutableFields(appt))}); err != nil {
		return nil, fmt.Errorf("%s appointment: %w", action, err)
	}

	s.record(ctx, appt, eventType, action, map[string]any{"from": string(prev), "to": string(appt.Status)})
	return appt, nil
}

func (s *Service) withProviderLock(ctx context.Context, provider string, fn func(context.Context) error) error {
	err := s.locker.WithLock(ctx, redisclient.ProviderKey(provider), fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrProviderBusy
	}
	return err
}

func (s *Service) uniqueCode(ctx context.Context) (string, error) {
	var code string
	for range codeAttempts {
		var err error
		code, err = s.newCode()
		if err != nil {
			return "", err
		}
		existing, err := s.repo.FindAppointments(ctx, Filter{ConfirmationCode: code, Limit: 1})
		if err != nil {
			return "", fmt.Errorf("check confirmation code: %w", err)
		}
		if len(existing) == 0 {
			return code, nil
		}
		s.logger.Warn().Str("code", code).Msg("confirmation code collision, regenerating")
	}
	return code, nil
}

func (s *Service) record(ctx context.Context, appt *Appointment, eventType, action string, payload map[string]any) {
	s.logEvent(ctx, appt.ID, eventType, payload)
	if s.notifier != nil {
		s.notifier.Notify(ctx, notify.Event{
			BookingID: appt.ID.String(),
			Action:    action,
			Status:    string(appt.Status),
			Metadata:  payload,
		})
	}
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = []byte("{}")
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now().UTC(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Error().
			Err(err).
			Str("event_type", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}
