package appointment

import (
	"time"

	"github.com/google/uuid"
)

type ProviderStatus string

const (
	ProviderActive   ProviderStatus = "active"
	ProviderInactive ProviderStatus = "inactive"
)

type VoiceCallStatus string

const (
	VoiceCallInitiated VoiceCallStatus = "initiated"
	VoiceCallFailed    VoiceCallStatus = "failed"
)

type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

type AlertKind string

const (
	AlertVoiceCallFailed AlertKind = "voice_call_failed"
)

// ProviderEntry is one catalog row: a provider offering a department.
type ProviderEntry struct {
	ID           uuid.UUID      `json:"id"`
	ProviderName string         `json:"provider_name"`
	Department   string         `json:"department"`
	Status       ProviderStatus `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Appointment is the central lifecycle entity. StartUTC and ReminderDueUTC
// are always derived from StartLocal.
type Appointment struct {
	ID               uuid.UUID `json:"id"`
	ConfirmationCode string    `json:"confirmation_code"`

	PatientID     string `json:"patient_id"`
	PatientEmail  string `json:"patient_email,omitempty"`
	PatientPhone  string `json:"patient_phone,omitempty"`
	ProviderName  string `json:"provider_name"`
	ResourceGroup string `json:"department"`

	StartLocal     string     `json:"start_local"`
	StartUTC       time.Time  `json:"start_utc"`
	ReminderDueUTC time.Time  `json:"reminder_due_utc"`
	EndTimeUTC     *time.Time `json:"end_time_utc,omitempty"`

	Status             Status     `json:"status"`
	ReminderSentAt     *time.Time `json:"reminder_sent_at,omitempty"`
	SurveySent         bool       `json:"survey_sent"`
	SurveySentAt       *time.Time `json:"survey_sent_at,omitempty"`
	VoiceCallAttempted bool       `json:"voice_call_attempted"`
	VoiceCallStatus    string     `json:"voice_call_status,omitempty"`
	CheckedInAt        *time.Time `json:"checked_in_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CancelReason       string     `json:"cancel_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasContact reports whether the patient can be reached by email or phone.
func (a *Appointment) HasContact() bool {
	return a.PatientEmail != "" || a.PatientPhone != ""
}

// VoiceCallRecord is one follow-up call attempt.
type VoiceCallRecord struct {
	ID            uuid.UUID       `json:"id"`
	AppointmentID uuid.UUID       `json:"appointment_id"`
	Status        VoiceCallStatus `json:"status"`
	CallID        string          `json:"call_id,omitempty"`
	Error         string          `json:"error,omitempty"`
	Trigger       Trigger         `json:"trigger"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Alert flags an item that needs operator attention.
type Alert struct {
	ID            uuid.UUID  `json:"id"`
	AppointmentID uuid.UUID  `json:"appointment_id"`
	Kind          AlertKind  `json:"kind"`
	Message       string     `json:"message"`
	Resolved      bool       `json:"resolved"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type EventLog struct {
	ID            int64      `json:"id"`
	EventType     string     `json:"event_type"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	Payload       []byte     `json:"payload"`
	CreatedAt     time.Time  `json:"created_at"`
}
