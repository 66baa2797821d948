package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/appointment-lifecycle/internal/appointment"
	"github.com/hackgods/appointment-lifecycle/internal/civiltime"
	"github.com/hackgods/appointment-lifecycle/internal/notify"
	redisclient "github.com/hackgods/appointment-lifecycle/internal/redis"
)

type fakeChannel struct {
	mu        sync.Mutex
	emails    []notify.Email
	calls     []notify.VoiceCall
	emailErr  map[string]error
	callErr   error
	callCount int
}

func (c *fakeChannel) SendEmail(_ context.Context, msg notify.Email) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.emailErr[msg.To]; err != nil {
		return err
	}
	c.emails = append(c.emails, msg)
	return nil
}

func (c *fakeChannel) PlaceVoiceCall(_ context.Context, call notify.VoiceCall) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callCount++
	if c.callErr != nil {
		return "", c.callErr
	}
	c.calls = append(c.calls, call)
	return "call-" + call.AppointmentID.String()[:8], nil
}

type fakeWorkflow struct {
	mu     sync.Mutex
	events []notify.Event
}

func (w *fakeWorkflow) Notify(_ context.Context, ev notify.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, ev)
}

type recordedSleeps struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (r *recordedSleeps) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, d)
	return nil
}

type harness struct {
	repo     *appointment.MemoryRepository
	channel  *fakeChannel
	workflow *fakeWorkflow
	sleeps   *recordedSleeps
	now      time.Time
	sched    *Scheduler
}

// newHarness fixes the clock at a civil time. 2024-06-03 is a Monday.
func newHarness(t *testing.T, civil string, opts ...Option) *harness {
	t.Helper()
	now, err := civiltime.ToUTC(civil)
	require.NoError(t, err)

	h := &harness{
		repo:     appointment.NewMemoryRepository(),
		channel:  &fakeChannel{emailErr: map[string]error{}},
		workflow: &fakeWorkflow{},
		sleeps:   &recordedSleeps{},
		now:      now,
	}
	opts = append([]Option{
		WithClock(func() time.Time { return h.now }),
		WithSleeper(h.sleeps.sleep),
	}, opts...)
	h.sched = New(h.repo, h.channel, h.workflow, DefaultConfig(), zerolog.Nop(), opts...)
	return h
}

func (h *harness) add(t *testing.T, mutate func(a *appointment.Appointment)) *appointment.Appointment {
	t.Helper()
	start := h.now.Add(24 * time.Hour)
	a := &appointment.Appointment{
		ID:               uuid.New(),
		ConfirmationCode: "K7Q2ZP",
		PatientID:        "patient-" + uuid.NewString()[:6],
		PatientEmail:     "patient@example.com",
		PatientPhone:     "+66810000000",
		ProviderName:     "Dr. Somchai",
		ResourceGroup:    "cardiology",
		StartLocal:       civiltime.FromUTC(start),
		StartUTC:         start,
		ReminderDueUTC:   civiltime.ReminderDue(start),
		Status:           appointment.StatusPending,
		CreatedAt:        h.now.Add(-time.Hour),
		UpdatedAt:        h.now.Add(-time.Hour),
	}
	if mutate != nil {
		mutate(a)
	}
	require.NoError(t, h.repo.BatchWrite(context.Background(), []appointment.Write{appointment.InsertAppointment(a)}))
	return a
}

func (h *harness) get(t *testing.T, id uuid.UUID) *appointment.Appointment {
	t.Helper()
	a, err := h.repo.GetAppointment(context.Background(), id)
	require.NoError(t, err)
	return a
}

func TestReminderJobSendsOncePerWindow(t *testing.T) {
	h := newHarness(t, "2024-06-03 10:00")
	a := h.add(t, nil)

	res, err := h.sched.RunJob(context.Background(), JobReminder)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	require.Len(t, h.channel.emails, 1)
	assert.Equal(t, notify.TemplateReminder, h.channel.emails[0].Template)
	assert.Equal(t, "10:00 AM", h.channel.emails[0].Data["time"])

	stored := h.get(t, a.ID)
	assert.Equal(t, appointment.StatusReminded, stored.Status)
	require.NotNil(t, stored.ReminderSentAt)
	assert.Equal(t, h.now, *stored.ReminderSentAt)

	res, err = h.sched.RunJob(context.Background(), JobReminder)
	require.NoError(t, err)
	assert.Zero(t, res.Selected)
	assert.Len(t, h.channel.emails, 1)

	require.Len(t, h.workflow.events, 1)
	assert.Equal(t, notify.ActionReminderSent, h.workflow.events[0].Action)
	assert.Equal(t, a.ID.String(), h.workflow.events[0].BookingID)
}

func TestReminderJobWindow(t *testing.T) {
	h := newHarness(t, "2024-06-03 10:00")
	at := func(d time.Duration) func(*appointment.Appointment) {
		return func(a *appointment.Appointment) {
			a.StartUTC = h.now.Add(d)
			a.StartLocal = civiltime.FromUTC(a.StartUTC)
		}
	}
	h.add(t, at(23*time.Hour))
	h.add(t, at(25*time.Hour))
	tooSoon := h.add(t, at(22*time.Hour+59*time.Minute))
	tooLate := h.add(t, at(25*time.Hour+time.Minute))
	confirmed := h.add(t, func(a *appointment.Appointment) { a.Status = appointment.StatusConfirmed })

	res, err := h.sched.RunJob(context.Background(), JobReminder)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)

	for _, id := range []uuid.UUID{tooSoon.ID, tooLate.ID, confirmed.ID} {
		assert.Nil(t, h.get(t, id).ReminderSentAt)
	}
}

func TestReminderJobResendsAfterReschedule(t *testing.T) {
	h := newHarness(t, "2024-06-03 10:00")
	moved := h.add(t, func(a *appointment.Appointment) { a.Status = appointment.StatusReminded })
	earlier := h.now.Add(-24 * time.Hour)
	sent := h.add(t, func(a *appointment.Appointment) {
		a.Status = appointment.StatusReminded
		a.ReminderSentAt = &earlier
	})

	res, err := h.sched.RunJob(context.Background(), JobReminder)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Selected)
	assert.Equal(t, 1, res.Succeeded)

	stored := h.get(t, moved.ID)
	assert.Equal(t, appointment.StatusReminded, stored.Status)
	require.NotNil(t, stored.ReminderSentAt)
	assert.Equal(t, h.now, *stored.ReminderSentAt)
	assert.Equal(t, earlier, *h.get(t, sent.ID).ReminderSentAt)
}

func TestReminderJobSkipsMissingContactAndRetriesFailures(t *testing.T) {
	h := newHarness(t, "2024-06-03 10:00")
	noEmail := h.add(t, func(a *appointment.Appointment) { a.PatientEmail = "" })
	bounced := h.add(t, func(a *appointment.Appointment) { a.PatientEmail = "bounce@example.com" })
	h.channel.emailErr["bounce@example.com"] = errors.New("mailbox full")

	res, err := h.sched.RunJob(context.Background(), JobReminder)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Selected)
	assert.Equal(t, 1, res.NoContact)
	assert.Equal(t, 1, res.Failed)
	assert.Nil(t, h.get(t, noEmail.ID).ReminderSentAt)
	assert.Nil(t, h.get(t, bounced.ID).ReminderSentAt)

	// The failed item stays eligible and goes out once the channel recovers.
	delete(h.channel.emailErr, "bounce@example.com")
	res, err = h.sched.RunJob(context.Background(), JobReminder)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.NotNil(t, h.get(t, bounced.ID).ReminderSentAt)
}

func completed(h *harness, updatedAgo time.Duration) func(*appointment.Appointment) {
	return func(a *appointment.Appointment) {
		a.Status = appointment.StatusCompleted
		a.StartUTC = h.now.Add(-updatedAgo - time.Hour)
		a.StartLocal = civiltime.FromUTC(a.StartUTC)
		a.UpdatedAt = h.now.Add(-updatedAgo)
	}
}

func TestSurveyJobBatchAndPacing(t *testing.T) {
	h := newHarness(t, "2024-06-03 10:00")
	for range 23 {
		h.add(t, completed(h, time.Hour))
	}
	stale := h.add(t, completed(h, 49*time.Hour))

	res, err := h.sched.RunJob(context.Background(), JobSurvey)
	require.NoError(t, err)
	assert.Equal(t, 20, res.Selected)
	assert.Equal(t, 20, res.Succeeded)
	assert.Len(t, h.channel.emails, 20)

	require.Len(t, h.sleeps.calls, 19)
	for _, d := range h.sleeps.calls {
		assert.Equal(t, time.Second, d)
	}

	sent, err := h.repo.CountAppointments(context.Background(), appointment.Filter{SurveySent: appointment.Bool(true)})
	require.NoError(t, err)
	assert.Equal(t, 20, sent)
	assert.False(t, h.get(t, stale.ID).SurveySent)

	res, err = h.sched.RunJob(context.Background(), JobSurvey)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Succeeded)
}

func TestSurveyJobLeavesFlagUnsetOnFailure(t *testing.T) {
	h := newHarness(t, "2024-06-03 10:00")
	a := h.add(t, completed(h, time.Hour))
	h.channel.emailErr[a.PatientEmail] = errors.New("smtp down")

	res, err := h.sched.RunJob(context.Background(), JobSurvey)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	stored := h.get(t, a.ID)
	assert.False(t, stored.SurveySent)
	assert.Nil(t, stored.SurveySentAt)
}

func TestSurveyJobReachesPatientsBehindContactlessRows(t *testing.T) {
	h := newHarness(t, "2024-06-03 10:00")
	for range 25 {
		h.add(t, func(a *appointment.Appointment) {
			completed(h, time.Hour)(a)
			a.StartUTC = a.StartUTC.Add(-time.Hour)
			a.PatientEmail = ""
		})
	}
	reachable := h.add(t, completed(h, time.Hour))

	for range 2 {
		res, err := h.sched.RunJob(context.Background(), JobSurvey)
		require.NoError(t, err)
		assert.Zero(t, res.NoContact)
		assert.LessOrEqual(t, res.Selected, 1)
	}
	assert.True(t, h.get(t, reachable.ID).SurveySent)
	require.Len(t, h.channel.emails, 1)
	assert.Equal(t, reachable.PatientEmail, h.channel.emails[0].To)
}

func surveyed(h *harness, updatedAgo time.Duration) func(*appointment.Appointment) {
	return func(a *appointment.Appointment) {
		completed(h, updatedAgo)(a)
		sent := h.now.Add(-updatedAgo)
		a.SurveySent = true
		a.SurveySentAt = &sent
	}
}

func TestVoiceJobRecordsEveryAttempt(t *testing.T) {
	h := newHarness(t, "2024-06-03 10:00")
	ok := h.add(t, surveyed(h, time.Hour))

	res, err := h.sched.RunJob(context.Background(), JobVoice)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)

	stored := h.get(t, ok.ID)
	assert.True(t, stored.VoiceCallAttempted)
	assert.Equal(t, string(appointment.VoiceCallInitiated), stored.VoiceCallStatus)

	calls, err := h.repo.FindVoiceCalls(context.Background(), appointment.VoiceCallFilter{AppointmentID: ok.ID})
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, appointment.TriggerScheduled, calls[0].Trigger)
	assert.NotEmpty(t, calls[0].CallID)
}

func TestVoiceJobFailureIsNotRetried(t *testing.T) {
	h := newHarness(t, "2024-06-03 10:00")
	a := h.add(t, surveyed(h, time.Hour))
	h.channel.callErr = errors.New("number unreachable")

	res, err := h.sched.RunJob(context.Background(), JobVoice)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	stored := h.get(t, a.ID)
	assert.True(t, stored.VoiceCallAttempted)
	assert.Equal(t, string(appointment.VoiceCallFailed), stored.VoiceCallStatus)

	calls, err := h.repo.FindVoiceCalls(context.Background(), appointment.VoiceCallFilter{AppointmentID: a.ID})
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, appointment.VoiceCallFailed, calls[0].Status)
	assert.Contains(t, calls[0].Error, "number unreachable")

	alerts, err := h.repo.FindAlerts(context.Background(), appointment.AlertFilter{AppointmentID: a.ID})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, appointment.AlertVoiceCallFailed, alerts[0].Kind)

	// Even after the channel recovers, the job does not call again.
	h.channel.callErr = nil
	res, err = h.sched.RunJob(context.Background(), JobVoice)
	require.NoError(t, err)
	assert.Zero(t, res.Selected)
	assert.Equal(t, 1, h.channel.callCount)
}

func TestVoiceJobBatchPacingAndLookback(t *testing.T) {
	h := newHarness(t, "2024-06-03 10:00")
	for range 12 {
		h.add(t, surveyed(h, time.Hour))
	}
	old := h.add(t, surveyed(h, 8*24*time.Hour))
	noPhone := h.add(t, func(a *appointment.Appointment) {
		surveyed(h, time.Hour)(a)
		a.StartUTC = a.StartUTC.Add(-time.Hour)
		a.PatientPhone = ""
	})

	res, err := h.sched.RunJob(context.Background(), JobVoice)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Selected)
	assert.Zero(t, res.NoContact)
	assert.Equal(t, 10, res.Succeeded)
	require.Len(t, h.sleeps.calls, 9)
	assert.Equal(t, 5*time.Second, h.sleeps.calls[0])

	assert.False(t, h.get(t, old.ID).VoiceCallAttempted)
	assert.False(t, h.get(t, noPhone.ID).VoiceCallAttempted)
}

func TestVoiceJobReachesPatientsBehindPhonelessRows(t *testing.T) {
	h := newHarness(t, "2024-06-03 10:00")
	for range 12 {
		h.add(t, func(a *appointment.Appointment) {
			surveyed(h, time.Hour)(a)
			a.StartUTC = a.StartUTC.Add(-time.Hour)
			a.PatientPhone = ""
		})
	}
	reachable := h.add(t, surveyed(h, time.Hour))

	res, err := h.sched.RunJob(context.Background(), JobVoice)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Selected)
	assert.Equal(t, 1, res.Succeeded)
	assert.True(t, h.get(t, reachable.ID).VoiceCallAttempted)
	assert.Equal(t, 1, h.channel.callCount)
}

func TestVoiceJobBusinessHoursGate(t *testing.T) {
	for _, civil := range []string{"2024-06-02 10:00", "2024-06-03 07:59", "2024-06-03 17:00", "2024-06-08 20:00"} {
		t.Run(civil, func(t *testing.T) {
			h := newHarness(t, civil)
			a := h.add(t, surveyed(h, time.Hour))

			res, err := h.sched.RunJob(context.Background(), JobVoice)
			require.NoError(t, err)
			assert.True(t, res.Skipped)
			assert.Zero(t, h.channel.callCount)
			assert.False(t, h.get(t, a.ID).VoiceCallAttempted)
		})
	}

	t.Run("saturday morning", func(t *testing.T) {
		h := newHarness(t, "2024-06-08 08:00")
		h.add(t, surveyed(h, time.Hour))
		res, err := h.sched.RunJob(context.Background(), JobVoice)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Succeeded)
	})
}

func TestCleanupBoundary(t *testing.T) {
	h := newHarness(t, "2024-06-03 10:00")
	canceledAt := func(ago time.Duration, status appointment.Status) func(*appointment.Appointment) {
		return func(a *appointment.Appointment) {
			a.Status = status
			a.UpdatedAt = h.now.Add(-ago)
		}
	}
	expired := h.add(t, canceledAt(91*24*time.Hour, appointment.StatusCanceled))
	recent := h.add(t, canceledAt(89*24*time.Hour, appointment.StatusCanceled))
	oldButActive := h.add(t, canceledAt(120*24*time.Hour, appointment.StatusConfirmed))

	res, err := h.sched.RunJob(context.Background(), JobCleanup)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted[appointment.CollectionAppointments])

	_, err = h.repo.GetAppointment(context.Background(), expired.ID)
	assert.ErrorIs(t, err, appointment.ErrAppointmentNotFound)
	h.get(t, recent.ID)
	h.get(t, oldButActive.ID)
}

func TestCleanupCapsEachCollection(t *testing.T) {
	h := newHarness(t, "2024-06-03 10:00")
	ctx := context.Background()
	old := h.now.Add(-100 * 24 * time.Hour)

	var writes []appointment.Write
	for range 105 {
		writes = append(writes, appointment.InsertVoiceCall(&appointment.VoiceCallRecord{
			ID: uuid.New(), AppointmentID: uuid.New(), Status: appointment.VoiceCallInitiated, CreatedAt: old,
		}))
	}
	writes = append(writes,
		appointment.InsertAlert(&appointment.Alert{ID: uuid.New(), Resolved: true, ResolvedAt: &old, CreatedAt: old}),
		appointment.InsertAlert(&appointment.Alert{ID: uuid.New(), Resolved: false, CreatedAt: old}),
	)
	require.NoError(t, h.repo.BatchWrite(ctx, writes))

	res, err := h.sched.RunJob(ctx, JobCleanup)
	require.NoError(t, err)
	assert.Equal(t, 100, res.Deleted[appointment.CollectionVoiceCalls])
	assert.Equal(t, 1, res.Deleted[appointment.CollectionAlerts])

	left, err := h.repo.FindVoiceCalls(ctx, appointment.VoiceCallFilter{})
	require.NoError(t, err)
	assert.Len(t, left, 5)

	open, err := h.repo.FindAlerts(ctx, appointment.AlertFilter{})
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestSendReminderNow(t *testing.T) {
	h := newHarness(t, "2024-06-03 10:00")
	far := h.add(t, func(a *appointment.Appointment) {
		a.Status = appointment.StatusConfirmed
		a.StartUTC = h.now.Add(72 * time.Hour)
		a.StartLocal = civiltime.FromUTC(a.StartUTC)
	})

	a, err := h.sched.SendReminderNow(context.Background(), far.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusReminded, a.Status)
	assert.Len(t, h.channel.emails, 1)

	// A second manual send is allowed and keeps the status.
	a, err = h.sched.SendReminderNow(context.Background(), far.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusReminded, a.Status)
	assert.Len(t, h.channel.emails, 2)

	done := h.add(t, completed(h, time.Hour))
	_, err = h.sched.SendReminderNow(context.Background(), done.ID)
	assert.ErrorIs(t, err, ErrNotEligible)

	noEmail := h.add(t, func(a *appointment.Appointment) { a.PatientEmail = "" })
	_, err = h.sched.SendReminderNow(context.Background(), noEmail.ID)
	assert.ErrorIs(t, err, ErrNoContact)
}

func TestCallNowIgnoresGateAndPriorAttempt(t *testing.T) {
	h := newHarness(t, "2024-06-09 22:00") // Sunday night
	a := h.add(t, func(a *appointment.Appointment) {
		surveyed(h, time.Hour)(a)
		a.VoiceCallAttempted = true
	})

	rec, err := h.sched.CallNow(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.TriggerManual, rec.Trigger)
	assert.Equal(t, appointment.VoiceCallInitiated, rec.Status)
	assert.Equal(t, 1, h.channel.callCount)

	h.channel.callErr = errors.New("busy")
	rec, err = h.sched.CallNow(context.Background(), a.ID)
	require.Error(t, err)
	assert.Equal(t, appointment.VoiceCallFailed, rec.Status)

	_, err = h.sched.CallNow(context.Background(), uuid.New())
	assert.ErrorIs(t, err, appointment.ErrAppointmentNotFound)
}

func TestRunJobSkipsWhenLockHeldElsewhere(t *testing.T) {
	locker := redisclient.NewLocalLocker(time.Minute)
	h := newHarness(t, "2024-06-03 10:00", WithLocker(locker))
	h.add(t, nil)

	err := locker.WithLock(context.Background(), redisclient.JobKey(string(JobReminder)), func(ctx context.Context) error {
		res, err := h.sched.RunJob(ctx, JobReminder)
		require.NoError(t, err)
		assert.True(t, res.Skipped)
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, h.channel.emails)
}

func TestRunJobIsNotReentrant(t *testing.T) {
	h := newHarness(t, "2024-06-03 10:00")
	h.add(t, completed(h, time.Hour))
	h.add(t, completed(h, time.Hour))

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.sched.sleep = func(ctx context.Context, _ time.Duration) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.sched.RunJob(context.Background(), JobSurvey)
		done <- err
	}()

	<-entered
	_, err := h.sched.RunJob(context.Background(), JobSurvey)
	assert.ErrorIs(t, err, ErrJobRunning)

	// Other jobs are unaffected.
	_, err = h.sched.RunJob(context.Background(), JobCleanup)
	assert.NoError(t, err)

	close(release)
	require.NoError(t, <-done)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestRunJobRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newHarness(t, "2024-06-03 10:00", WithMetrics(NewMetrics(reg)))
	h.add(t, nil)
	h.add(t, func(a *appointment.Appointment) { a.PatientEmail = "" })

	_, err := h.sched.RunJob(context.Background(), JobReminder)
	require.NoError(t, err)

	assert.Equal(t, 1.0, counterValue(t, reg, "lifecycle_job_runs_total", map[string]string{"job": "reminder", "outcome": "ok"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "lifecycle_job_items_total", map[string]string{"job": "reminder", "result": "succeeded"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "lifecycle_job_items_total", map[string]string{"job": "reminder", "result": "skipped"}))
}

func TestParseJob(t *testing.T) {
	j, err := ParseJob("voice_followup")
	require.NoError(t, err)
	assert.Equal(t, JobVoice, j)

	_, err = ParseJob("archive")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, "2024-06-03 10:00")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.sched.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
