package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/appointment-lifecycle/internal/civiltime"
	"github.com/hackgods/appointment-lifecycle/internal/notify"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(civil string) *testClock {
	t, err := civiltime.ToUTC(civil)
	if err != nil {
		panic(err)
	}
	return &testClock{t: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(_ context.Context, ev notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) Actions() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, ev := range n.events {
		out[i] = ev.Action
	}
	return out
}

func seedProvider(t *testing.T, repo Repository, name, dept string, status ProviderStatus) {
	t.Helper()
	require.NoError(t, repo.UpsertProvider(context.Background(), ProviderEntry{
		ProviderName: name,
		Department:   dept,
		Status:       status,
	}))
}

// fixture builds an appointment at a civil start time. createdAt defaults
// to the start minus one day.
func fixture(t *testing.T, patient, provider, startLocal string, status Status) *Appointment {
	t.Helper()
	startUTC, err := civiltime.ToUTC(startLocal)
	require.NoError(t, err)

	created := startUTC.Add(-24 * time.Hour)
	return &Appointment{
		ID:               uuid.New(),
		ConfirmationCode: "ABC123",
		PatientID:        patient,
		PatientEmail:     gofakeit.Email(),
		PatientPhone:     gofakeit.Phone(),
		ProviderName:     provider,
		ResourceGroup:    "cardiology",
		StartLocal:       startLocal,
		StartUTC:         startUTC,
		ReminderDueUTC:   civiltime.ReminderDue(startUTC),
		Status:           status,
		CreatedAt:        created,
		UpdatedAt:        created,
	}
}

func insert(t *testing.T, repo Repository, appts ...*Appointment) {
	t.Helper()
	writes := make([]Write, len(appts))
	for i, a := range appts {
		writes[i] = InsertAppointment(a)
	}
	require.NoError(t, repo.BatchWrite(context.Background(), writes))
}
