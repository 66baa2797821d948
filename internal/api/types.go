package api

import (
	"time"
)

type CreateAppointmentRequest struct {
	PatientID    string     `json:"patient_id" validate:"required"`
	PatientEmail string     `json:"patient_email" validate:"omitempty,email"`
	PatientPhone string     `json:"patient_phone" validate:"omitempty,e164"`
	ProviderName string     `json:"provider_name" validate:"required"`
	Department   string     `json:"department" validate:"required"`
	StartLocal   string     `json:"start_local" validate:"required_without=StartUTC"`
	StartUTC     *time.Time `json:"start_utc"`
}

// UpdateAppointmentRequest leaves absent fields unchanged.
type UpdateAppointmentRequest struct {
	PatientEmail *string    `json:"patient_email" validate:"omitempty,email"`
	PatientPhone *string    `json:"patient_phone" validate:"omitempty,e164"`
	ProviderName *string    `json:"provider_name" validate:"omitempty,min=1"`
	Department   *string    `json:"department" validate:"omitempty,min=1"`
	StartLocal   *string    `json:"start_local"`
	StartUTC     *time.Time `json:"start_utc"`
}

type CancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// BookingMutation is the inbound mutation payload accepted on /bookings.
type BookingMutation struct {
	ID           string     `json:"id" validate:"omitempty,uuid"`
	Action       string     `json:"action" validate:"required,oneof=create update cancel"`
	PatientID    string     `json:"patientId"`
	PatientEmail string     `json:"patientEmail" validate:"omitempty,email"`
	PatientPhone string     `json:"patientPhone" validate:"omitempty,e164"`
	ProviderName string     `json:"providerName"`
	Department   string     `json:"department"`
	StartLocal   string     `json:"startLocal"`
	StartUTC     *time.Time `json:"startUTC"`
	Reason       string     `json:"reason"`
}

type LookupResponse struct {
	Code         string `json:"code"`
	Appointments any    `json:"appointments"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`

	MinutesRemaining int    `json:"minutes_remaining,omitempty"`
	ConflictTime     string `json:"conflict_time,omitempty"`
}
