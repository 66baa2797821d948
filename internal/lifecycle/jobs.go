package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-lifecycle/internal/appointment"
	"github.com/hackgods/appointment-lifecycle/internal/civiltime"
	"github.com/hackgods/appointment-lifecycle/internal/notify"
)

// runReminders emails every pending appointment starting 23 to 25 hours
// from now whose reminder has not gone out. Reminded appointments that were
// rescheduled have their reminder cleared and are picked up again.
func (s *Scheduler) runReminders(ctx context.Context, res *Result) error {
	now := s.now().UTC()
	due, err := s.repo.FindAppointments(ctx, appointment.Filter{
		Statuses:     []appointment.Status{appointment.StatusPending, appointment.StatusReminded},
		ReminderSent: appointment.Bool(false),
		StartFrom:    now.Add(s.cfg.ReminderFrom),
		StartTo:      now.Add(s.cfg.ReminderTo),
	})
	if err != nil {
		return fmt.Errorf("find due reminders: %w", err)
	}
	res.Selected = len(due)

	for i := range due {
		if err := ctx.Err(); err != nil {
			return err
		}

		a := &due[i]
		if a.PatientEmail == "" {
			res.NoContact++
			s.logger.Info().Str("appointment_id", a.ID.String()).Msg("no email on file, skipping reminder")
			continue
		}

		if err := s.remind(ctx, a); err != nil {
			res.Failed++
			s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("reminder failed")
			continue
		}
		res.Succeeded++
	}
	return nil
}

// remind sends the reminder email and, on success, records it. The flag
// write is guarded by the status the appointment was read with.
func (s *Scheduler) remind(ctx context.Context, a *appointment.Appointment) error {
	prev := a.Status
	if !prev.CanTransitionTo(appointment.StatusReminded) && prev != appointment.StatusReminded {
		return fmt.Errorf("%w: status %s", ErrNotEligible, prev)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ChannelTimeout)
	err := s.channel.SendEmail(callCtx, notify.Email{
		To:       a.PatientEmail,
		Template: notify.TemplateReminder,
		Data: map[string]string{
			"confirmation_code": a.ConfirmationCode,
			"provider_name":     a.ProviderName,
			"department":        a.ResourceGroup,
			"date":              civiltime.InZone(a.StartUTC).Format(civiltime.DateLayout),
			"time":              civiltime.DisplayTime(a.StartUTC),
		},
	})
	cancel()
	if err != nil {
		return err
	}

	now := s.now().UTC()
	if prev == appointment.StatusReminded {
		a.ReminderSentAt = &now
		a.UpdatedAt = now
	} else if err := a.Transition(appointment.StatusReminded, now); err != nil {
		return err
	}

	err = s.repo.BatchWrite(ctx, []appointment.Write{
		appointment.PatchAppointment(a.ID, prev, appointment.Fields{
			appointment.ColStatus:         string(a.Status),
			appointment.ColReminderSentAt: a.ReminderSentAt,
			appointment.ColUpdatedAt:      a.UpdatedAt,
		}),
	})
	if err != nil {
		return fmt.Errorf("record reminder: %w", err)
	}

	s.notify(ctx, a, notify.ActionReminderSent, nil)
	return nil
}

// runSurveys emails a survey invitation for recently completed visits with
// an email on file, pausing between sends to stay under the provider's rate
// limit.
func (s *Scheduler) runSurveys(ctx context.Context, res *Result) error {
	now := s.now().UTC()
	items, err := s.repo.FindAppointments(ctx, appointment.Filter{
		Statuses:    []appointment.Status{appointment.StatusCompleted},
		SurveySent:  appointment.Bool(false),
		UpdatedFrom: now.Add(-s.cfg.SurveyLookback),
		HasEmail:    true,
		Limit:       s.cfg.SurveyBatch,
	})
	if err != nil {
		return fmt.Errorf("find survey candidates: %w", err)
	}
	res.Selected = len(items)

	attempted := 0
	for i := range items {
		a := &items[i]
		if attempted > 0 {
			if err := s.sleep(ctx, s.cfg.SurveyPause); err != nil {
				return err
			}
		}
		attempted++

		if err := s.sendSurvey(ctx, a); err != nil {
			res.Failed++
			s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("survey send failed")
			continue
		}
		res.Succeeded++
	}
	return nil
}

func (s *Scheduler) sendSurvey(ctx context.Context, a *appointment.Appointment) error {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ChannelTimeout)
	err := s.channel.SendEmail(callCtx, notify.Email{
		To:       a.PatientEmail,
		Template: notify.TemplateSurvey,
		Data: map[string]string{
			"confirmation_code": a.ConfirmationCode,
			"provider_name":     a.ProviderName,
			"survey_url":        s.cfg.SurveyURL,
		},
	})
	cancel()
	if err != nil {
		return err
	}

	now := s.now().UTC()
	a.SurveySent = true
	a.SurveySentAt = &now
	a.UpdatedAt = now

	err = s.repo.BatchWrite(ctx, []appointment.Write{
		appointment.PatchAppointment(a.ID, a.Status, appointment.Fields{
			appointment.ColSurveySent:   true,
			appointment.ColSurveySentAt: a.SurveySentAt,
			appointment.ColUpdatedAt:    now,
		}),
	})
	if err != nil {
		return fmt.Errorf("record survey: %w", err)
	}

	s.notify(ctx, a, notify.ActionSurveySent, nil)
	return nil
}

// runVoiceFollowUps places one follow-up call per surveyed appointment with
// a phone on file.
// Only runs Monday to Saturday, 08:00 to 17:00 civil time. The attempt is
// recorded whatever the outcome and never retried by this job.
func (s *Scheduler) runVoiceFollowUps(ctx context.Context, res *Result) error {
	now := s.now().UTC()
	if !civiltime.WithinBusinessHours(now) {
		res.Skipped = true
		s.logger.Debug().Time("now", now).Msg("outside business hours, skipping voice follow-ups")
		return nil
	}

	items, err := s.repo.FindAppointments(ctx, appointment.Filter{
		SurveySent:         appointment.Bool(true),
		VoiceCallAttempted: appointment.Bool(false),
		UpdatedFrom:        now.Add(-s.cfg.VoiceLookback),
		HasPhone:           true,
		Limit:              s.cfg.VoiceBatch,
	})
	if err != nil {
		return fmt.Errorf("find voice follow-up candidates: %w", err)
	}
	res.Selected = len(items)

	attempted := 0
	for i := range items {
		a := &items[i]
		if attempted > 0 {
			if err := s.sleep(ctx, s.cfg.VoicePause); err != nil {
				return err
			}
		}
		attempted++

		_, err := s.call(ctx, a, appointment.TriggerScheduled)
		if err != nil {
			res.Failed++
			s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("voice follow-up failed")
			continue
		}
		res.Succeeded++
	}
	return nil
}

// call places the voice call, then writes the call record, the attempted
// flag and, on failure, an operator alert in one batch.
func (s *Scheduler) call(ctx context.Context, a *appointment.Appointment, trigger appointment.Trigger) (*appointment.VoiceCallRecord, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ChannelTimeout)
	callID, callErr := s.channel.PlaceVoiceCall(callCtx, notify.VoiceCall{
		AppointmentID: a.ID,
		Phone:         a.PatientPhone,
		PatientID:     a.PatientID,
		ProviderName:  a.ProviderName,
		StartLocal:    a.StartLocal,
	})
	cancel()

	now := s.now().UTC()
	rec := &appointment.VoiceCallRecord{
		ID:            uuid.New(),
		AppointmentID: a.ID,
		Status:        appointment.VoiceCallInitiated,
		CallID:        callID,
		Trigger:       trigger,
		CreatedAt:     now,
	}
	if callErr != nil {
		rec.Status = appointment.VoiceCallFailed
		rec.Error = callErr.Error()
	}

	a.VoiceCallAttempted = true
	a.VoiceCallStatus = string(rec.Status)
	a.UpdatedAt = now

	writes := []appointment.Write{
		appointment.InsertVoiceCall(rec),
		appointment.PatchAppointment(a.ID, a.Status, appointment.Fields{
			appointment.ColVoiceCallAttempted: true,
			appointment.ColVoiceCallStatus:    a.VoiceCallStatus,
			appointment.ColUpdatedAt:          now,
		}),
	}
	if callErr != nil {
		writes = append(writes, appointment.InsertAlert(&appointment.Alert{
			ID:            uuid.New(),
			AppointmentID: a.ID,
			Kind:          appointment.AlertVoiceCallFailed,
			Message:       fmt.Sprintf("follow-up call to %s failed: %v", a.PatientPhone, callErr),
			CreatedAt:     now,
		}))
	}

	if err := s.repo.BatchWrite(ctx, writes); err != nil {
		return rec, errors.Join(callErr, fmt.Errorf("%w: %w", ErrNotRecorded, err))
	}

	s.notify(ctx, a, notify.ActionVoiceCall, map[string]any{
		"call_id":     rec.CallID,
		"call_status": string(rec.Status),
		"trigger":     string(trigger),
	})
	return rec, callErr
}

// runCleanup deletes terminal appointments, voice call records and resolved
// alerts past retention, at most CleanupBatch per collection.
func (s *Scheduler) runCleanup(ctx context.Context, res *Result) error {
	cutoff := s.now().UTC().Add(-s.cfg.Retention)
	res.Deleted = map[appointment.Collection]int{}

	appts, err := s.repo.FindAppointments(ctx, appointment.Filter{
		Statuses:      appointment.TerminalStatuses,
		UpdatedBefore: cutoff,
		Limit:         s.cfg.CleanupBatch,
	})
	if err != nil {
		return fmt.Errorf("find expired appointments: %w", err)
	}
	writes := make([]appointment.Write, 0, len(appts))
	for _, a := range appts {
		writes = append(writes, appointment.DeleteAppointment(a.ID, a.Status))
	}
	if err := s.deleteBatch(ctx, res, appointment.CollectionAppointments, writes); err != nil {
		return err
	}

	calls, err := s.repo.FindVoiceCalls(ctx, appointment.VoiceCallFilter{
		CreatedBefore: cutoff,
		Limit:         s.cfg.CleanupBatch,
	})
	if err != nil {
		return fmt.Errorf("find expired voice calls: %w", err)
	}
	writes = make([]appointment.Write, 0, len(calls))
	for _, c := range calls {
		writes = append(writes, appointment.DeleteVoiceCall(c.ID))
	}
	if err := s.deleteBatch(ctx, res, appointment.CollectionVoiceCalls, writes); err != nil {
		return err
	}

	alerts, err := s.repo.FindAlerts(ctx, appointment.AlertFilter{
		Resolved:       appointment.Bool(true),
		ResolvedBefore: cutoff,
		Limit:          s.cfg.CleanupBatch,
	})
	if err != nil {
		return fmt.Errorf("find expired alerts: %w", err)
	}
	writes = make([]appointment.Write, 0, len(alerts))
	for _, a := range alerts {
		writes = append(writes, appointment.DeleteAlert(a.ID))
	}
	return s.deleteBatch(ctx, res, appointment.CollectionAlerts, writes)
}

func (s *Scheduler) deleteBatch(ctx context.Context, res *Result, coll appointment.Collection, writes []appointment.Write) error {
	res.Selected += len(writes)
	if len(writes) == 0 {
		return nil
	}
	if err := s.repo.BatchWrite(ctx, writes); err != nil {
		res.Failed += len(writes)
		return fmt.Errorf("delete expired %s: %w", coll, err)
	}
	res.Deleted[coll] = len(writes)
	res.Succeeded += len(writes)
	return nil
}

// SendReminderNow sends the reminder for one appointment outside the
// cadence and the 23 to 25 hour window.
func (s *Scheduler) SendReminderNow(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	a, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if a.PatientEmail == "" {
		return nil, ErrNoContact
	}
	if err := s.remind(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// CallNow places a follow-up call for one appointment regardless of
// business hours or an earlier attempt.
func (s *Scheduler) CallNow(ctx context.Context, id uuid.UUID) (*appointment.VoiceCallRecord, error) {
	a, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if a.PatientPhone == "" {
		return nil, ErrNoContact
	}
	return s.call(ctx, a, appointment.TriggerManual)
}
