package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var dialect = goqu.Dialect("postgres")

var appointmentColumns = []any{
	"id", "confirmation_code", "patient_id", "patient_email", "patient_phone",
	"provider_name", "department", "start_local", "start_utc", "reminder_due_utc",
	"end_time_utc", "status", "reminder_sent_at", "survey_sent", "survey_sent_at",
	"voice_call_attempted", "voice_call_status", "checked_in_at", "completed_at",
	"cancel_reason", "created_at", "updated_at",
}

var providerColumns = []any{"id", "provider_name", "department", "status", "created_at", "updated_at"}

var voiceCallColumns = []any{"id", "appointment_id", "status", "call_id", "error", "trigger", "created_at"}

var alertColumns = []any{"id", "appointment_id", "kind", "message", "resolved", "resolved_at", "created_at"}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string

	err := row.Scan(
		&a.ID,
		&a.ConfirmationCode,
		&a.PatientID,
		&a.PatientEmail,
		&a.PatientPhone,
		&a.ProviderName,
		&a.ResourceGroup,
		&a.StartLocal,
		&a.StartUTC,
		&a.ReminderDueUTC,
		&a.EndTimeUTC,
		&status,
		&a.ReminderSentAt,
		&a.SurveySent,
		&a.SurveySentAt,
		&a.VoiceCallAttempted,
		&a.VoiceCallStatus,
		&a.CheckedInAt,
		&a.CompletedAt,
		&a.CancelReason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Status = Status(status)
	return &a, nil
}

func scanProvider(row pgx.Row) (*ProviderEntry, error) {
	var p ProviderEntry
	var status string

	if err := row.Scan(&p.ID, &p.ProviderName, &p.Department, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}

	p.Status = ProviderStatus(status)
	return &p, nil
}

func scanVoiceCall(row pgx.Row) (*VoiceCallRecord, error) {
	var v VoiceCallRecord
	var status, trigger string

	if err := row.Scan(&v.ID, &v.AppointmentID, &status, &v.CallID, &v.Error, &trigger, &v.CreatedAt); err != nil {
		return nil, err
	}

	v.Status = VoiceCallStatus(status)
	v.Trigger = Trigger(trigger)
	return &v, nil
}

func scanAlert(row pgx.Row) (*Alert, error) {
	var a Alert
	var kind string

	err := row.Scan(&a.ID, &a.AppointmentID, &kind, &a.Message, &a.Resolved, &a.ResolvedAt, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, err
	}

	a.Kind = AlertKind(kind)
	return &a, nil
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// appointmentConditions translates a Filter into goqu expressions.
func appointmentConditions(f Filter) []exp.Expression {
	eq := goqu.Ex{}
	if f.ProviderName != "" {
		eq["provider_name"] = f.ProviderName
	}
	if f.Department != "" {
		eq["department"] = f.Department
	}
	if f.PatientID != "" {
		eq["patient_id"] = f.PatientID
	}
	if f.ConfirmationCode != "" {
		eq["confirmation_code"] = f.ConfirmationCode
	}
	if len(f.Statuses) > 0 {
		eq["status"] = statusStrings(f.Statuses)
	}
	if f.SurveySent != nil {
		eq["survey_sent"] = *f.SurveySent
	}
	if f.VoiceCallAttempted != nil {
		eq["voice_call_attempted"] = *f.VoiceCallAttempted
	}

	conds := []exp.Expression{}
	if len(eq) > 0 {
		conds = append(conds, eq)
	}
	if len(f.ExcludeStatuses) > 0 {
		conds = append(conds, goqu.C("status").NotIn(statusStrings(f.ExcludeStatuses)))
	}
	if f.ExcludeID != uuid.Nil {
		conds = append(conds, goqu.C("id").Neq(f.ExcludeID.String()))
	}
	if !f.StartFrom.IsZero() {
		conds = append(conds, goqu.C("start_utc").Gte(f.StartFrom))
	}
	if !f.StartTo.IsZero() {
		conds = append(conds, goqu.C("start_utc").Lte(f.StartTo))
	}
	if !f.CreatedFrom.IsZero() {
		conds = append(conds, goqu.C("created_at").Gte(f.CreatedFrom))
	}
	if !f.CreatedBefore.IsZero() {
		conds = append(conds, goqu.C("created_at").Lt(f.CreatedBefore))
	}
	if !f.UpdatedFrom.IsZero() {
		conds = append(conds, goqu.C("updated_at").Gte(f.UpdatedFrom))
	}
	if !f.UpdatedBefore.IsZero() {
		conds = append(conds, goqu.C("updated_at").Lt(f.UpdatedBefore))
	}
	if f.ReminderSent != nil {
		if *f.ReminderSent {
			conds = append(conds, goqu.C("reminder_sent_at").IsNotNull())
		} else {
			conds = append(conds, goqu.C("reminder_sent_at").IsNull())
		}
	}
	if f.HasEmail {
		conds = append(conds, goqu.C("patient_email").Neq(""))
	}
	if f.HasPhone {
		conds = append(conds, goqu.C("patient_phone").Neq(""))
	}
	return conds
}

func findAppointmentsQuery(f Filter) (string, []any, error) {
	ds := dialect.From("appointments").
		Select(appointmentColumns...).
		Where(appointmentConditions(f)...).
		Order(goqu.C("start_utc").Asc(), goqu.C("id").Asc())
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit))
	}
	return ds.Prepared(true).ToSQL()
}

func countAppointmentsQuery(f Filter) (string, []any, error) {
	return dialect.From("appointments").
		Select(goqu.COUNT("*")).
		Where(appointmentConditions(f)...).
		Prepared(true).
		ToSQL()
}

// writeQuery renders one batch element. guarded reports whether zero
// affected rows must fail the batch.
func writeQuery(w Write) (sql string, args []any, guarded bool, err error) {
	table := string(w.Collection)

	switch w.Op {
	case OpInsert:
		rec, err := insertRecord(w.Doc)
		if err != nil {
			return "", nil, false, err
		}
		sql, args, err = dialect.Insert(table).Rows(rec).Prepared(true).ToSQL()
		return sql, args, false, err

	case OpUpdate:
		if len(w.Fields) == 0 {
			return "", nil, false, fmt.Errorf("update of %s %s has no fields", table, w.ID)
		}
		where := goqu.Ex{"id": w.ID.String()}
		if w.ExpectStatus != "" {
			where["status"] = string(w.ExpectStatus)
		}
		sql, args, err = dialect.Update(table).
			Set(goqu.Record(w.Fields)).
			Where(where).
			Prepared(true).
			ToSQL()
		return sql, args, true, err

	case OpDelete:
		where := goqu.Ex{"id": w.ID.String()}
		if w.ExpectStatus != "" {
			where["status"] = string(w.ExpectStatus)
		}
		sql, args, err = dialect.Delete(table).Where(where).Prepared(true).ToSQL()
		return sql, args, false, err
	}

	return "", nil, false, fmt.Errorf("unknown op %q", w.Op)
}

func insertRecord(doc any) (goqu.Record, error) {
	switch d := doc.(type) {
	case *Appointment:
		rec := goqu.Record(MutableFields(d))
		rec["id"] = d.ID.String()
		rec["confirmation_code"] = d.ConfirmationCode
		rec["patient_id"] = d.PatientID
		rec["created_at"] = d.CreatedAt
		return rec, nil
	case *VoiceCallRecord:
		return goqu.Record{
			"id":             d.ID.String(),
			"appointment_id": d.AppointmentID.String(),
			"status":         string(d.Status),
			"call_id":        d.CallID,
			"error":          d.Error,
			"trigger":        string(d.Trigger),
			"created_at":     d.CreatedAt,
		}, nil
	case *Alert:
		return goqu.Record{
			"id":             d.ID.String(),
			"appointment_id": d.AppointmentID.String(),
			"kind":           string(d.Kind),
			"message":        d.Message,
			"resolved":       d.Resolved,
			"resolved_at":    d.ResolvedAt,
			"created_at":     d.CreatedAt,
		}, nil
	}
	return nil, fmt.Errorf("unsupported document type %T", doc)
}

// Interface methods

func (r *PgRepository) ListProviders(ctx context.Context, f ProviderFilter) ([]ProviderEntry, error) {
	eq := goqu.Ex{}
	if f.ProviderName != "" {
		eq["provider_name"] = f.ProviderName
	}
	if f.Department != "" {
		eq["department"] = f.Department
	}
	if f.Status != "" {
		eq["status"] = string(f.Status)
	}

	sql, args, err := dialect.From("providers").
		Select(providerColumns...).
		Where(eq).
		Order(goqu.C("provider_name").Asc(), goqu.C("department").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build provider query: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query providers: %w", err)
	}
	defer rows.Close()

	var out []ProviderEntry
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *PgRepository) UpsertProvider(ctx context.Context, p ProviderEntry) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO providers (id, provider_name, department, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (provider_name, department)
		DO UPDATE SET status = EXCLUDED.status, updated_at = NOW()
	`, p.ID, p.ProviderName, p.Department, string(p.Status))
	if err != nil {
		return fmt.Errorf("upsert provider: %w", err)
	}
	return nil
}

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	sql, args, err := dialect.From("appointments").
		Select(appointmentColumns...).
		Where(goqu.Ex{"id": id.String()}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build appointment query: %w", err)
	}
	return scanAppointment(r.pool.QueryRow(ctx, sql, args...))
}

func (r *PgRepository) FindAppointments(ctx context.Context, f Filter) ([]Appointment, error) {
	sql, args, err := findAppointmentsQuery(f)
	if err != nil {
		return nil, fmt.Errorf("build appointment query: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *PgRepository) CountAppointments(ctx context.Context, f Filter) (int, error) {
	sql, args, err := countAppointmentsQuery(f)
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}

	var n int
	if err := r.pool.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count appointments: %w", err)
	}
	return n, nil
}

func (r *PgRepository) FindVoiceCalls(ctx context.Context, f VoiceCallFilter) ([]VoiceCallRecord, error) {
	conds := []exp.Expression{}
	if f.AppointmentID != uuid.Nil {
		conds = append(conds, goqu.Ex{"appointment_id": f.AppointmentID.String()})
	}
	if !f.CreatedBefore.IsZero() {
		conds = append(conds, goqu.C("created_at").Lt(f.CreatedBefore))
	}

	ds := dialect.From("voice_call_records").
		Select(voiceCallColumns...).
		Where(conds...).
		Order(goqu.C("created_at").Asc())
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit))
	}
	sql, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build voice call query: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query voice calls: %w", err)
	}
	defer rows.Close()

	var out []VoiceCallRecord
	for rows.Next() {
		v, err := scanVoiceCall(rows)
		if err != nil {
			return nil, fmt.Errorf("scan voice call: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func (r *PgRepository) GetAlert(ctx context.Context, id uuid.UUID) (*Alert, error) {
	sql, args, err := dialect.From("alerts").
		Select(alertColumns...).
		Where(goqu.Ex{"id": id.String()}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build alert query: %w", err)
	}
	return scanAlert(r.pool.QueryRow(ctx, sql, args...))
}

func (r *PgRepository) FindAlerts(ctx context.Context, f AlertFilter) ([]Alert, error) {
	conds := []exp.Expression{}
	if f.AppointmentID != uuid.Nil {
		conds = append(conds, goqu.Ex{"appointment_id": f.AppointmentID.String()})
	}
	if f.Resolved != nil {
		conds = append(conds, goqu.Ex{"resolved": *f.Resolved})
	}
	if !f.ResolvedBefore.IsZero() {
		conds = append(conds, goqu.C("resolved_at").Lt(f.ResolvedBefore))
	}

	ds := dialect.From("alerts").
		Select(alertColumns...).
		Where(conds...).
		Order(goqu.C("created_at").Asc())
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit))
	}
	sql, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build alert query: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// BatchWrite commits every write in one transaction. A guarded update that
// matches no row rolls the whole batch back.
func (r *PgRepository) BatchWrite(ctx context.Context, writes []Write) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for i, w := range writes {
		sql, args, guarded, err := writeQuery(w)
		if err != nil {
			return fmt.Errorf("build batch write %d: %w", i, err)
		}

		tag, err := tx.Exec(ctx, sql, args...)
		if err != nil {
			return fmt.Errorf("batch write %d (%s %s): %w", i, w.Op, w.Collection, err)
		}

		if guarded && tag.RowsAffected() == 0 {
			return fmt.Errorf("batch write %d (%s %s): %w", i, w.Op, w.Collection, missingRowError(w))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func missingRowError(w Write) error {
	switch {
	case w.Collection == CollectionAlerts:
		return ErrAlertNotFound
	case w.ExpectStatus != "":
		return ErrStatusChanged
	default:
		return ErrAppointmentNotFound
	}
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`, ev.EventType, ev.AppointmentID, ev.Payload, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}
