package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Collection string

const (
	CollectionAppointments Collection = "appointments"
	CollectionVoiceCalls   Collection = "voice_call_records"
	CollectionAlerts       Collection = "alerts"
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Column names accepted in Fields patches.
const (
	ColPatientEmail       = "patient_email"
	ColPatientPhone       = "patient_phone"
	ColProviderName       = "provider_name"
	ColResourceGroup      = "department"
	ColStartLocal         = "start_local"
	ColStartUTC           = "start_utc"
	ColReminderDueUTC     = "reminder_due_utc"
	ColEndTimeUTC         = "end_time_utc"
	ColStatus             = "status"
	ColReminderSentAt     = "reminder_sent_at"
	ColSurveySent         = "survey_sent"
	ColSurveySentAt       = "survey_sent_at"
	ColVoiceCallAttempted = "voice_call_attempted"
	ColVoiceCallStatus    = "voice_call_status"
	ColCheckedInAt        = "checked_in_at"
	ColCompletedAt        = "completed_at"
	ColCancelReason       = "cancel_reason"
	ColUpdatedAt          = "updated_at"
	ColResolved           = "resolved"
	ColResolvedAt         = "resolved_at"
)

// Fields is a column -> value patch.
type Fields map[string]any

// Write is one element of an all-or-nothing batch.
type Write struct {
	Collection Collection
	Op         Op
	ID         uuid.UUID

	// Doc is the inserted document: *Appointment, *VoiceCallRecord or *Alert.
	Doc    any
	Fields Fields

	// ExpectStatus guards appointment updates and deletes. When set and the
	// stored status differs, the batch fails with ErrStatusChanged.
	ExpectStatus Status
}

func InsertAppointment(a *Appointment) Write {
	return Write{Collection: CollectionAppointments, Op: OpInsert, ID: a.ID, Doc: a}
}

func PatchAppointment(id uuid.UUID, expect Status, fields Fields) Write {
	return Write{Collection: CollectionAppointments, Op: OpUpdate, ID: id, Fields: fields, ExpectStatus: expect}
}

func DeleteAppointment(id uuid.UUID, expect Status) Write {
	return Write{Collection: CollectionAppointments, Op: OpDelete, ID: id, ExpectStatus: expect}
}

func InsertVoiceCall(r *VoiceCallRecord) Write {
	return Write{Collection: CollectionVoiceCalls, Op: OpInsert, ID: r.ID, Doc: r}
}

func DeleteVoiceCall(id uuid.UUID) Write {
	return Write{Collection: CollectionVoiceCalls, Op: OpDelete, ID: id}
}

func InsertAlert(a *Alert) Write {
	return Write{Collection: CollectionAlerts, Op: OpInsert, ID: a.ID, Doc: a}
}

func PatchAlert(id uuid.UUID, fields Fields) Write {
	return Write{Collection: CollectionAlerts, Op: OpUpdate, ID: id, Fields: fields}
}

func DeleteAlert(id uuid.UUID) Write {
	return Write{Collection: CollectionAlerts, Op: OpDelete, ID: id}
}

// MutableFields returns every column a full appointment update writes.
func MutableFields(a *Appointment) Fields {
	return Fields{
		ColPatientEmail:       a.PatientEmail,
		ColPatientPhone:       a.PatientPhone,
		ColProviderName:       a.ProviderName,
		ColResourceGroup:      a.ResourceGroup,
		ColStartLocal:         a.StartLocal,
		ColStartUTC:           a.StartUTC,
		ColReminderDueUTC:     a.ReminderDueUTC,
		ColEndTimeUTC:         a.EndTimeUTC,
		ColStatus:             string(a.Status),
		ColReminderSentAt:     a.ReminderSentAt,
		ColSurveySent:         a.SurveySent,
		ColSurveySentAt:       a.SurveySentAt,
		ColVoiceCallAttempted: a.VoiceCallAttempted,
		ColVoiceCallStatus:    a.VoiceCallStatus,
		ColCheckedInAt:        a.CheckedInAt,
		ColCompletedAt:        a.CompletedAt,
		ColCancelReason:       a.CancelReason,
		ColUpdatedAt:          a.UpdatedAt,
	}
}

// Filter selects appointments. Zero fields are ignored. Start bounds are
// inclusive; Created and Updated "Before" bounds are exclusive.
type Filter struct {
	ProviderName     string
	Department       string
	PatientID        string
	ConfirmationCode string

	Statuses        []Status
	ExcludeStatuses []Status
	ExcludeID       uuid.UUID

	StartFrom time.Time
	StartTo   time.Time

	CreatedFrom   time.Time
	CreatedBefore time.Time

	UpdatedFrom   time.Time
	UpdatedBefore time.Time

	ReminderSent       *bool
	SurveySent         *bool
	VoiceCallAttempted *bool

	// HasEmail and HasPhone keep rows without that contact out of the
	// result, so Limit only counts reachable patients.
	HasEmail bool
	HasPhone bool

	Limit int
}

type ProviderFilter struct {
	ProviderName string
	Department   string
	Status       ProviderStatus
}

type VoiceCallFilter struct {
	AppointmentID uuid.UUID
	CreatedBefore time.Time
	Limit         int
}

type AlertFilter struct {
	AppointmentID  uuid.UUID
	Resolved       *bool
	ResolvedBefore time.Time
	Limit          int
}

// Repository is the booking store. Reads and BatchWrite are not isolated
// from each other.
type Repository interface {
	ListProviders(ctx context.Context, f ProviderFilter) ([]ProviderEntry, error)
	UpsertProvider(ctx context.Context, p ProviderEntry) error

	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	FindAppointments(ctx context.Context, f Filter) ([]Appointment, error)
	CountAppointments(ctx context.Context, f Filter) (int, error)

	FindVoiceCalls(ctx context.Context, f VoiceCallFilter) ([]VoiceCallRecord, error)
	GetAlert(ctx context.Context, id uuid.UUID) (*Alert, error)
	FindAlerts(ctx context.Context, f AlertFilter) ([]Alert, error)

	BatchWrite(ctx context.Context, writes []Write) error

	InsertEvent(ctx context.Context, ev EventLog) error
}

func Bool(b bool) *bool { return &b }
