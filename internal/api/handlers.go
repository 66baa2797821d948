package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hackgods/appointment-lifecycle/internal/appointment"
	"github.com/hackgods/appointment-lifecycle/internal/lifecycle"
)

var validate = validator.New()

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if !decode(w, r, &req) {
			return
		}

		appt, err := svc.Book(r.Context(), appointment.BookingInput{
			PatientID:    req.PatientID,
			PatientEmail: req.PatientEmail,
			PatientPhone: req.PatientPhone,
			ProviderName: req.ProviderName,
			Department:   req.Department,
			StartLocal:   req.StartLocal,
			StartUTC:     req.StartUTC,
		})
		if err != nil {
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, appt)
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

// lookupAppointmentsHandler serves GET /appointments?code=XXXXXX.
func lookupAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("code")))
		if code == "" {
			writeError(w, http.StatusBadRequest, "missing_code", "code query parameter is required")
			return
		}

		appts, err := svc.LookupByCode(r.Context(), code)
		if err != nil {
			handleError(w, err)
			return
		}
		if len(appts) == 0 {
			writeError(w, http.StatusNotFound, "appointment_not_found", "no appointment carries this code")
			return
		}
		writeJSON(w, http.StatusOK, LookupResponse{Code: code, Appointments: appts})
	}
}

func updateAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req UpdateAppointmentRequest
		if !decode(w, r, &req) {
			return
		}

		appt, err := svc.Update(r.Context(), id, appointment.UpdateInput{
			PatientEmail: req.PatientEmail,
			PatientPhone: req.PatientPhone,
			ProviderName: req.ProviderName,
			Department:   req.Department,
			StartLocal:   req.StartLocal,
			StartUTC:     req.StartUTC,
		})
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		var req CancelRequest
		if r.ContentLength != 0 && !decode(w, r, &req) {
			return
		}

		appt, err := svc.Cancel(r.Context(), id, req.Reason)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

// transitionHandler covers the body-less state changes: confirm, check-in
// and complete.
func transitionHandler(op func(*http.Request, uuid.UUID) (*appointment.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		appt, err := op(r, id)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

func bookingMutationHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookingMutation
		if !decode(w, r, &req) {
			return
		}

		var id uuid.UUID
		if req.ID != "" {
			id = uuid.MustParse(req.ID)
		}

		appt, err := svc.Apply(r.Context(), appointment.MutationRequest{
			ID:     id,
			Action: appointment.Action(req.Action),
			Reason: req.Reason,
			BookingInput: appointment.BookingInput{
				PatientID:    req.PatientID,
				PatientEmail: req.PatientEmail,
				PatientPhone: req.PatientPhone,
				ProviderName: req.ProviderName,
				Department:   req.Department,
				StartLocal:   req.StartLocal,
				StartUTC:     req.StartUTC,
			},
		})
		if err != nil {
			handleError(w, err)
			return
		}

		status := http.StatusOK
		if req.Action == string(appointment.ActionCreate) {
			status = http.StatusCreated
		}
		writeJSON(w, status, appt)
	}
}

func sendReminderHandler(sched *lifecycle.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		appt, err := sched.SendReminderNow(r.Context(), id)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

func placeCallHandler(sched *lifecycle.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		rec, err := sched.CallNow(r.Context(), id)
		if err != nil && (rec == nil || rec.Status != appointment.VoiceCallFailed || errors.Is(err, lifecycle.ErrNotRecorded)) {
			handleError(w, err)
			return
		}
		// A failed call that was recorded is reported with its record.
		status := http.StatusOK
		if rec.Status == appointment.VoiceCallFailed {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, rec)
	}
}

func runJobHandler(sched *lifecycle.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := lifecycle.ParseJob(chi.URLParam(r, "job"))
		if err != nil {
			writeError(w, http.StatusNotFound, "unknown_job", err.Error())
			return
		}

		res, err := sched.RunJob(r.Context(), job)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func listAlertsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var resolved *bool
		if v := r.URL.Query().Get("resolved"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_resolved", "resolved must be true or false")
				return
			}
			resolved = &b
		}

		alerts, err := svc.ListAlerts(r.Context(), resolved)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, alerts)
	}
}

func resolveAlertHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		alert, err := svc.ResolveAlert(r.Context(), id)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, alert)
	}
}

func handleError(w http.ResponseWriter, err error) {
	var verr *appointment.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, validationStatus(verr.Reason), ErrorResponse{
			Error:            strings.ToLower(string(verr.Reason)),
			Details:          verr.Error(),
			MinutesRemaining: verr.MinutesRemaining,
			ConflictTime:     verr.ConflictTime,
		})
		return
	}

	switch {
	case errors.Is(err, appointment.ErrFormat):
		writeError(w, http.StatusBadRequest, "invalid_time_format", err.Error())
	case errors.Is(err, appointment.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrAlertNotFound):
		writeError(w, http.StatusNotFound, "alert_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrStatusChanged):
		writeError(w, http.StatusConflict, "status_changed", err.Error())
	case errors.Is(err, appointment.ErrProviderBusy):
		writeError(w, http.StatusConflict, "provider_busy", "provider schedule is being updated, please retry shortly")
	case errors.Is(err, lifecycle.ErrNoContact):
		writeError(w, http.StatusUnprocessableEntity, "no_contact", err.Error())
	case errors.Is(err, lifecycle.ErrNotEligible):
		writeError(w, http.StatusConflict, "not_eligible", err.Error())
	case errors.Is(err, lifecycle.ErrJobRunning):
		writeError(w, http.StatusConflict, "job_running", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// validationStatus maps booking rejections: 409 for clashes with other
// bookings, 422 for everything about the request itself.
func validationStatus(reason appointment.Reason) int {
	switch reason {
	case appointment.ReasonSlotConflict, appointment.ReasonDuplicateBooking, appointment.ReasonQuotaExceeded:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
