package appointment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/appointment-lifecycle/internal/civiltime"
	"github.com/hackgods/appointment-lifecycle/internal/notify"
	redisclient "github.com/hackgods/appointment-lifecycle/internal/redis"
)

type serviceFixture struct {
	repo     *MemoryRepository
	svc      *Service
	clock    *testClock
	notifier *recordingNotifier
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	repo := NewMemoryRepository()
	seedProvider(t, repo, drSomchai, cardio, ProviderActive)
	clock := newTestClock("2024-05-31 10:00")
	notifier := &recordingNotifier{}
	svc := NewService(repo, redisclient.NewLocalLocker(5*time.Second), notifier, DefaultRules(), clock.Now, zerolog.Nop())
	return &serviceFixture{repo: repo, svc: svc, clock: clock, notifier: notifier}
}

func booking(patient, startLocal string) BookingInput {
	return BookingInput{
		PatientID:    patient,
		PatientEmail: patient + "@example.com",
		ProviderName: drSomchai,
		Department:   cardio,
		StartLocal:   startLocal,
	}
}

func TestServiceBook(t *testing.T) {
	f := newServiceFixture(t)

	appt, err := f.svc.Book(context.Background(), booking("patient-1", "2024-06-01 09:00"))
	require.NoError(t, err)

	assert.True(t, ValidConfirmationCode(appt.ConfirmationCode))
	assert.Equal(t, StatusPending, appt.Status)
	assert.Equal(t, time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC), appt.StartUTC)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), appt.ReminderDueUTC)
	assert.Equal(t, f.clock.Now(), appt.CreatedAt)

	stored, err := f.svc.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appt.ConfirmationCode, stored.ConfirmationCode)

	assert.Equal(t, []string{notify.ActionCreated}, f.notifier.Actions())
	events := f.repo.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventAppointmentCreated, events[0].EventType)
}

func TestServiceBookFromUTCStart(t *testing.T) {
	f := newServiceFixture(t)
	start := time.Date(2024, 6, 1, 2, 0, 30, 0, time.UTC)

	in := booking("patient-1", "")
	in.StartUTC = &start
	appt, err := f.svc.Book(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01 09:00", appt.StartLocal)
	assert.Equal(t, start.Truncate(time.Minute), appt.StartUTC)
}

func TestServiceBookRejects(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.Book(ctx, booking("patient-1", "2024-06-01 09:00"))
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, booking("patient-2", "2024-06-01 09:10"))
	assert.ErrorIs(t, err, ErrSlotConflict)

	_, err = f.svc.Book(ctx, booking("patient-2", "01/06/2024 09:00"))
	assert.ErrorIs(t, err, ErrFormat)

	_, err = f.svc.Book(ctx, BookingInput{PatientID: "patient-2", ProviderName: drSomchai, Department: cardio})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	// Rejections are not persisted and not announced.
	n, err := f.repo.CountAppointments(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, f.notifier.Actions(), 1)
}

func TestServiceConcurrentBookingsForOneSlot(t *testing.T) {
	f := newServiceFixture(t)

	const workers = 12
	var wg sync.WaitGroup
	results := make(chan error, workers)

	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Book(context.Background(), booking(fmt.Sprintf("patient-%d", i), "2024-06-01 09:00"))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	for err := range results {
		if err != nil {
			assert.True(t, errors.Is(err, ErrSlotConflict) || errors.Is(err, ErrProviderBusy), err.Error())
		}
	}

	active, err := f.repo.FindAppointments(context.Background(), Filter{ProviderName: drSomchai, Statuses: ActiveStatuses})
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestServiceUpdateReschedule(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, booking("patient-1", "2024-06-01 09:00"))
	require.NoError(t, err)

	newStart := "2024-06-01 09:10"
	updated, err := f.svc.Update(ctx, appt.ID, UpdateInput{StartLocal: &newStart})
	require.NoError(t, err, "moving within its own buffer must not conflict with itself")

	wantUTC, err := civiltime.ToUTC(newStart)
	require.NoError(t, err)
	assert.Equal(t, wantUTC, updated.StartUTC)
	assert.Equal(t, civiltime.ReminderDue(wantUTC), updated.ReminderDueUTC)

	stored, err := f.repo.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, newStart, stored.StartLocal)
	assert.Equal(t, wantUTC, stored.StartUTC)
}

func TestServiceRescheduleReopensReminderWindow(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, booking("patient-1", "2024-06-01 09:00"))
	require.NoError(t, err)
	sentAt := f.clock.Now()
	require.NoError(t, f.repo.BatchWrite(ctx, []Write{
		PatchAppointment(appt.ID, StatusPending, Fields{
			ColStatus:         string(StatusReminded),
			ColReminderSentAt: &sentAt,
		}),
	}))

	phone := "+66812345678"
	kept, err := f.svc.Update(ctx, appt.ID, UpdateInput{PatientPhone: &phone})
	require.NoError(t, err)
	require.NotNil(t, kept.ReminderSentAt, "a contact edit keeps the sent reminder")

	newStart := "2024-06-02 14:00"
	moved, err := f.svc.Update(ctx, appt.ID, UpdateInput{StartLocal: &newStart})
	require.NoError(t, err)
	assert.Nil(t, moved.ReminderSentAt)
	assert.Equal(t, StatusReminded, moved.Status)

	stored, err := f.repo.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ReminderSentAt)
}

func TestServiceUpdateContactOnly(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, booking("patient-1", "2024-06-01 09:00"))
	require.NoError(t, err)

	phone := "+66 81 234 5678"
	updated, err := f.svc.Update(ctx, appt.ID, UpdateInput{PatientPhone: &phone})
	require.NoError(t, err)
	assert.Equal(t, phone, updated.PatientPhone)
	assert.Equal(t, appt.StartUTC, updated.StartUTC)
}

func TestServiceUpdateIntoConflict(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.Book(ctx, booking("patient-1", "2024-06-01 09:00"))
	require.NoError(t, err)
	second, err := f.svc.Book(ctx, booking("patient-2", "2024-06-01 11:00"))
	require.NoError(t, err)

	clash := "2024-06-01 09:05"
	_, err = f.svc.Update(ctx, second.ID, UpdateInput{StartLocal: &clash})
	assert.ErrorIs(t, err, ErrSlotConflict)
}

func TestServiceCancel(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, booking("patient-1", "2024-06-01 09:00"))
	require.NoError(t, err)

	// Deactivating the provider does not block cancellation.
	seedProvider(t, f.repo, drSomchai, cardio, ProviderInactive)

	canceled, err := f.svc.Cancel(ctx, appt.ID, "patient request")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, canceled.Status)
	require.NotNil(t, canceled.EndTimeUTC)
	assert.Equal(t, "patient request", canceled.CancelReason)

	_, err = f.svc.Cancel(ctx, appt.ID, "again")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	start := "2024-06-02 09:00"
	_, err = f.svc.Update(ctx, appt.ID, UpdateInput{StartLocal: &start})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	assert.Equal(t, []string{notify.ActionCreated, notify.ActionCanceled}, f.notifier.Actions())
}

func TestServiceLifecycleTransitions(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, booking("patient-1", "2024-06-01 09:00"))
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, appt.ID)
	require.NoError(t, err)

	_, err = f.svc.CheckIn(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrTooEarly)

	f.clock.Set(appt.StartUTC.Add(-10 * time.Minute))
	checked, err := f.svc.CheckIn(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCheckedIn, checked.Status)

	done, err := f.svc.Complete(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	assert.Equal(t, []string{
		notify.ActionCreated,
		notify.ActionConfirmed,
		notify.ActionCheckedIn,
		notify.ActionCompleted,
	}, f.notifier.Actions())
}

func TestServiceTransitionLosesToConcurrentStatusChange(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, booking("patient-1", "2024-06-01 09:00"))
	require.NoError(t, err)

	// A writer that read the appointment as pending must not overwrite it
	// once it has been canceled.
	require.NoError(t, f.repo.BatchWrite(ctx, []Write{
		PatchAppointment(appt.ID, StatusPending, Fields{ColStatus: string(StatusCanceled)}),
	}))
	err = f.repo.BatchWrite(ctx, []Write{
		PatchAppointment(appt.ID, StatusPending, Fields{ColStatus: string(StatusReminded)}),
	})
	assert.ErrorIs(t, err, ErrStatusChanged)
}

func TestServiceLookupByCode(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	a := fixture(t, "p1", drSomchai, "2024-06-05 09:00", StatusPending)
	a.ConfirmationCode = "ZX81QQ"
	b := fixture(t, "p2", drSomchai, "2024-06-06 09:00", StatusPending)
	b.ConfirmationCode = "ZX81QQ"
	insert(t, f.repo, a, b)

	got, err := f.svc.LookupByCode(ctx, "ZX81QQ")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = f.svc.LookupByCode(ctx, "zx81")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestServiceApply(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	created, err := f.svc.Apply(ctx, MutationRequest{Action: ActionCreate, BookingInput: booking("patient-1", "2024-06-01 09:00")})
	require.NoError(t, err)

	updated, err := f.svc.Apply(ctx, MutationRequest{
		ID:           created.ID,
		Action:       ActionUpdate,
		BookingInput: BookingInput{StartLocal: "2024-06-01 13:30"},
	})
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01 13:30", updated.StartLocal)

	canceled, err := f.svc.Apply(ctx, MutationRequest{ID: created.ID, Action: ActionCancel})
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, canceled.Status)

	_, err = f.svc.Apply(ctx, MutationRequest{Action: ActionCancel})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.svc.Apply(ctx, MutationRequest{Action: "archive"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestServiceResolveAlert(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	alert := &Alert{ID: uuid.New(), AppointmentID: uuid.New(), Kind: AlertVoiceCallFailed, CreatedAt: f.clock.Now()}
	require.NoError(t, f.repo.BatchWrite(ctx, []Write{InsertAlert(alert)}))

	resolved, err := f.svc.ResolveAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	require.NotNil(t, resolved.ResolvedAt)

	open, err := f.svc.ListAlerts(ctx, Bool(false))
	require.NoError(t, err)
	assert.Empty(t, open)

	_, err = f.svc.ResolveAlert(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestServiceProviderBusy(t *testing.T) {
	repo := NewMemoryRepository()
	seedProvider(t, repo, drSomchai, cardio, ProviderActive)
	locker := redisclient.NewLocalLocker(time.Second)
	svc := NewService(repo, locker, nil, DefaultRules(), nil, zerolog.Nop())

	err := locker.WithLock(context.Background(), redisclient.ProviderKey(drSomchai), func(ctx context.Context) error {
		_, err := svc.Book(ctx, booking("patient-1", "2030-06-01 09:00"))
		return err
	})
	assert.ErrorIs(t, err, ErrProviderBusy)
}

func codeSequence(codes ...string) func() (string, error) {
	var mu sync.Mutex
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		code := codes[0]
		if len(codes) > 1 {
			codes = codes[1:]
		}
		return code, nil
	}
}

func TestServiceBookRegeneratesCollidingCode(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	taken := fixture(t, "p0", drSomchai, "2024-06-05 09:00", StatusPending)
	taken.ConfirmationCode = "AAAAAA"
	insert(t, f.repo, taken)

	f.svc.newCode = codeSequence("AAAAAA", "AAAAAA", "BBBBBB")
	appt, err := f.svc.Book(ctx, booking("patient-1", "2024-06-01 09:00"))
	require.NoError(t, err)
	assert.Equal(t, "BBBBBB", appt.ConfirmationCode)

	// Collisions on every attempt still book, keeping the last code.
	f.svc.newCode = codeSequence("AAAAAA")
	appt, err = f.svc.Book(ctx, booking("patient-2", "2024-06-01 11:00"))
	require.NoError(t, err)
	assert.Equal(t, "AAAAAA", appt.ConfirmationCode)
}

func TestServiceEventPayloadFallsBackToEmptyObject(t *testing.T) {
	f := newServiceFixture(t)

	id := uuid.New()
	f.svc.logEvent(context.Background(), id, EventAppointmentUpdated, map[string]any{"bad": make(chan int)})

	events := f.repo.Events()
	require.Len(t, events, 1)
	assert.JSONEq(t, `{}`, string(events[0].Payload))
	assert.Equal(t, id, *events[0].AppointmentID)
}
