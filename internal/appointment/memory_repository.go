package appointment

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository for local runs and tests.
type MemoryRepository struct {
	mu           sync.RWMutex
	providers    map[string]ProviderEntry
	appointments map[uuid.UUID]Appointment
	voiceCalls   map[uuid.UUID]VoiceCallRecord
	alerts       map[uuid.UUID]Alert
	events       []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		providers:    make(map[string]ProviderEntry),
		appointments: make(map[uuid.UUID]Appointment),
		voiceCalls:   make(map[uuid.UUID]VoiceCallRecord),
		alerts:       make(map[uuid.UUID]Alert),
	}
}

func providerKey(name, department string) string {
	return name + "|" + department
}

func (r *MemoryRepository) ListProviders(_ context.Context, f ProviderFilter) ([]ProviderEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ProviderEntry
	for _, p := range r.providers {
		if f.ProviderName != "" && p.ProviderName != f.ProviderName {
			continue
		}
		if f.Department != "" && p.Department != f.Department {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return providerKey(out[i].ProviderName, out[i].Department) < providerKey(out[j].ProviderName, out[j].Department)
	})
	return out, nil
}

func (r *MemoryRepository) UpsertProvider(_ context.Context, p ProviderEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := providerKey(p.ProviderName, p.Department)
	now := time.Now().UTC()
	if existing, ok := r.providers[key]; ok {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	} else {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	r.providers[key] = p
	return nil
}

func (r *MemoryRepository) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) FindAppointments(_ context.Context, f Filter) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := r.match(f)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) CountAppointments(_ context.Context, f Filter) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.match(f)), nil
}

func (r *MemoryRepository) match(f Filter) []Appointment {
	var out []Appointment
	for _, a := range r.appointments {
		if matchesFilter(&a, f) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartUTC.Equal(out[j].StartUTC) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].StartUTC.Before(out[j].StartUTC)
	})
	return out
}

func matchesFilter(a *Appointment, f Filter) bool {
	switch {
	case f.ProviderName != "" && a.ProviderName != f.ProviderName:
		return false
	case f.Department != "" && a.ResourceGroup != f.Department:
		return false
	case f.PatientID != "" && a.PatientID != f.PatientID:
		return false
	case f.ConfirmationCode != "" && a.ConfirmationCode != f.ConfirmationCode:
		return false
	case len(f.Statuses) > 0 && !slices.Contains(f.Statuses, a.Status):
		return false
	case slices.Contains(f.ExcludeStatuses, a.Status):
		return false
	case f.ExcludeID != uuid.Nil && a.ID == f.ExcludeID:
		return false
	case !f.StartFrom.IsZero() && a.StartUTC.Before(f.StartFrom):
		return false
	case !f.StartTo.IsZero() && a.StartUTC.After(f.StartTo):
		return false
	case !f.CreatedFrom.IsZero() && a.CreatedAt.Before(f.CreatedFrom):
		return false
	case !f.CreatedBefore.IsZero() && !a.CreatedAt.Before(f.CreatedBefore):
		return false
	case !f.UpdatedFrom.IsZero() && a.UpdatedAt.Before(f.UpdatedFrom):
		return false
	case !f.UpdatedBefore.IsZero() && !a.UpdatedAt.Before(f.UpdatedBefore):
		return false
	case f.ReminderSent != nil && (a.ReminderSentAt != nil) != *f.ReminderSent:
		return false
	case f.SurveySent != nil && a.SurveySent != *f.SurveySent:
		return false
	case f.VoiceCallAttempted != nil && a.VoiceCallAttempted != *f.VoiceCallAttempted:
		return false
	case f.HasEmail && a.PatientEmail == "":
		return false
	case f.HasPhone && a.PatientPhone == "":
		return false
	}
	return true
}

func (r *MemoryRepository) FindVoiceCalls(_ context.Context, f VoiceCallFilter) ([]VoiceCallRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []VoiceCallRecord
	for _, v := range r.voiceCalls {
		if f.AppointmentID != uuid.Nil && v.AppointmentID != f.AppointmentID {
			continue
		}
		if !f.CreatedBefore.IsZero() && !v.CreatedAt.Before(f.CreatedBefore) {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) GetAlert(_ context.Context, id uuid.UUID) (*Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.alerts[id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) FindAlerts(_ context.Context, f AlertFilter) ([]Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Alert
	for _, a := range r.alerts {
		if f.AppointmentID != uuid.Nil && a.AppointmentID != f.AppointmentID {
			continue
		}
		if f.Resolved != nil && a.Resolved != *f.Resolved {
			continue
		}
		if !f.ResolvedBefore.IsZero() && (a.ResolvedAt == nil || !a.ResolvedAt.Before(f.ResolvedBefore)) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// BatchWrite applies writes to copies of the collections and swaps them in
// only when every write succeeds.
func (r *MemoryRepository) BatchWrite(_ context.Context, writes []Write) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	appts := cloneMap(r.appointments)
	calls := cloneMap(r.voiceCalls)
	alerts := cloneMap(r.alerts)

	for i, w := range writes {
		var err error
		switch w.Collection {
		case CollectionAppointments:
			err = applyAppointmentWrite(appts, w)
		case CollectionVoiceCalls:
			err = applyVoiceCallWrite(calls, w)
		case CollectionAlerts:
			err = applyAlertWrite(alerts, w)
		default:
			err = fmt.Errorf("unknown collection %q", w.Collection)
		}
		if err != nil {
			return fmt.Errorf("batch write %d (%s %s): %w", i, w.Op, w.Collection, err)
		}
	}

	r.appointments = appts
	r.voiceCalls = calls
	r.alerts = alerts
	return nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.events)
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func applyAppointmentWrite(m map[uuid.UUID]Appointment, w Write) error {
	switch w.Op {
	case OpInsert:
		a, ok := w.Doc.(*Appointment)
		if !ok {
			return fmt.Errorf("insert expects *Appointment, got %T", w.Doc)
		}
		if _, exists := m[a.ID]; exists {
			return fmt.Errorf("appointment %s already exists", a.ID)
		}
		m[a.ID] = *a
	case OpUpdate:
		a, ok := m[w.ID]
		if !ok {
			return ErrAppointmentNotFound
		}
		if w.ExpectStatus != "" && a.Status != w.ExpectStatus {
			return ErrStatusChanged
		}
		if err := applyAppointmentFields(&a, w.Fields); err != nil {
			return err
		}
		m[w.ID] = a
	case OpDelete:
		a, ok := m[w.ID]
		if !ok {
			return nil
		}
		if w.ExpectStatus != "" && a.Status != w.ExpectStatus {
			return ErrStatusChanged
		}
		delete(m, w.ID)
	default:
		return fmt.Errorf("unknown op %q", w.Op)
	}
	return nil
}

func applyAppointmentFields(a *Appointment, fields Fields) error {
	for col, v := range fields {
		var ok bool
		switch col {
		case ColPatientEmail:
			a.PatientEmail, ok = v.(string)
		case ColPatientPhone:
			a.PatientPhone, ok = v.(string)
		case ColProviderName:
			a.ProviderName, ok = v.(string)
		case ColResourceGroup:
			a.ResourceGroup, ok = v.(string)
		case ColStartLocal:
			a.StartLocal, ok = v.(string)
		case ColStartUTC:
			a.StartUTC, ok = v.(time.Time)
		case ColReminderDueUTC:
			a.ReminderDueUTC, ok = v.(time.Time)
		case ColEndTimeUTC:
			a.EndTimeUTC, ok = v.(*time.Time)
		case ColStatus:
			var s string
			s, ok = v.(string)
			a.Status = Status(s)
		case ColReminderSentAt:
			a.ReminderSentAt, ok = v.(*time.Time)
		case ColSurveySent:
			a.SurveySent, ok = v.(bool)
		case ColSurveySentAt:
			a.SurveySentAt, ok = v.(*time.Time)
		case ColVoiceCallAttempted:
			a.VoiceCallAttempted, ok = v.(bool)
		case ColVoiceCallStatus:
			a.VoiceCallStatus, ok = v.(string)
		case ColCheckedInAt:
			a.CheckedInAt, ok = v.(*time.Time)
		case ColCompletedAt:
			a.CompletedAt, ok = v.(*time.Time)
		case ColCancelReason:
			a.CancelReason, ok = v.(string)
		case ColUpdatedAt:
			a.UpdatedAt, ok = v.(time.Time)
		default:
			return fmt.Errorf("unknown appointment column %q", col)
		}
		if !ok {
			return fmt.Errorf("column %q: unexpected value type %T", col, v)
		}
	}
	return nil
}

func applyVoiceCallWrite(m map[uuid.UUID]VoiceCallRecord, w Write) error {
	switch w.Op {
	case OpInsert:
		v, ok := w.Doc.(*VoiceCallRecord)
		if !ok {
			return fmt.Errorf("insert expects *VoiceCallRecord, got %T", w.Doc)
		}
		m[v.ID] = *v
	case OpDelete:
		delete(m, w.ID)
	default:
		return fmt.Errorf("op %q not supported for voice call records", w.Op)
	}
	return nil
}

func applyAlertWrite(m map[uuid.UUID]Alert, w Write) error {
	switch w.Op {
	case OpInsert:
		a, ok := w.Doc.(*Alert)
		if !ok {
			return fmt.Errorf("insert expects *Alert, got %T", w.Doc)
		}
		m[a.ID] = *a
	case OpUpdate:
		a, ok := m[w.ID]
		if !ok {
			return ErrAlertNotFound
		}
		for col, v := range w.Fields {
			var typed bool
			switch col {
			case ColResolved:
				a.Resolved, typed = v.(bool)
			case ColResolvedAt:
				a.ResolvedAt, typed = v.(*time.Time)
			default:
				return fmt.Errorf("unknown alert column %q", col)
			}
			if !typed {
				return fmt.Errorf("column %q: unexpected value type %T", col, v)
			}
		}
		m[w.ID] = a
	case OpDelete:
		delete(m, w.ID)
	default:
		return fmt.Errorf("unknown op %q", w.Op)
	}
	return nil
}
