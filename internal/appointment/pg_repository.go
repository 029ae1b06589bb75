package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-booking/internal/schedule"
)

const uniqueViolation = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

const doctorColumns = `id, name, specialty, status, template, consultation_fee, currency, total_appointments, created_at, updated_at`

const appointmentColumns = `id, doctor_id, patient_id, appointment_date, slot_start, slot_end, duration_minutes,
	status, type, description, symptoms, fee_amount, fee_currency, created_at, updated_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var specialty *string
	var template []byte

	err := row.Scan(
		&d.ID,
		&d.Name,
		&specialty,
		&d.Status,
		&template,
		&d.Pricing.ConsultationFee,
		&d.Pricing.Currency,
		&d.TotalAppointments,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	if len(template) > 0 {
		if err := json.Unmarshal(template, &d.Template); err != nil {
			return nil, fmt.Errorf("decode template: %w", err)
		}
	}

	d.Specialty = specialty
	return &d, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date time.Time
	var start, end int

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&date,
		&start,
		&end,
		&a.DurationMinutes,
		&a.Status,
		&a.Type,
		&a.Description,
		&a.Symptoms,
		&a.Fee.Amount,
		&a.Fee.Currency,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Date = schedule.DateOf(date, time.UTC)
	a.Slot = schedule.Slot{Start: schedule.TimeOfDay(start), End: schedule.TimeOfDay(end)}
	return &a, nil
}

func scanOverride(row pgx.Row, doctorID uuid.UUID, date schedule.Date) (*schedule.DateOverride, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	o := schedule.DateOverride{DoctorID: doctorID, Date: date}
	if err := json.Unmarshal(raw, &o.Slots); err != nil {
		return nil, fmt.Errorf("decode override slots: %w", err)
	}
	return &o, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	result := []Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Seeding

func (r *PgRepository) CreateDoctor(ctx context.Context, d Doctor) (*Doctor, error) {
	template, err := json.Marshal(d.Template)
	if err != nil {
		return nil, fmt.Errorf("encode template: %w", err)
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Status == "" {
		d.Status = DoctorActive
	}
	if d.Pricing.Currency == "" {
		d.Pricing.Currency = DefaultCurrency
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO doctors (id, name, specialty, status, template, consultation_fee, currency, total_appointments, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, now(), now())
		RETURNING `+doctorColumns,
		d.ID, d.Name, d.Specialty, d.Status, template, d.Pricing.ConsultationFee, d.Pricing.Currency)
	return scanDoctor(row)
}

func (r *PgRepository) CreatePatient(ctx context.Context, p Patient) (*Patient, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO patients (id, name, email, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING created_at, updated_at
	`, p.ID, p.Name, p.Email).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert patient: %w", err)
	}
	return &p, nil
}

// Doctors

func (r *PgRepository) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+doctorColumns+` FROM doctors WHERE id = $1`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetOverride(ctx context.Context, doctorID uuid.UUID, date schedule.Date) (*schedule.DateOverride, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT slots
		FROM date_overrides
		WHERE doctor_id = $1 AND override_date = $2
	`, doctorID, date.Time())
	return scanOverride(row, doctorID, date)
}

// UpdateOverride serializes writers for one doctor and date with a
// transaction-scoped advisory lock, so concurrent block and unblock requests
// never lose each other's changes.
func (r *PgRepository) UpdateOverride(ctx context.Context, doctorID uuid.UUID, date schedule.Date, fn OverrideFunc) (*schedule.DateOverride, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	lockKey := fmt.Sprintf("override:%s:%s", doctorID, date)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		return nil, fmt.Errorf("acquire override lock: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM doctors WHERE id = $1)`, doctorID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check doctor: %w", err)
	}
	if !exists {
		return nil, ErrDoctorNotFound
	}

	current, err := scanOverride(tx.QueryRow(ctx, `
		SELECT slots
		FROM date_overrides
		WHERE doctor_id = $1 AND override_date = $2
	`, doctorID, date.Time()), doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("load override: %w", err)
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}

	if next == nil {
		if _, err := tx.Exec(ctx, `
			DELETE FROM date_overrides
			WHERE doctor_id = $1 AND override_date = $2
		`, doctorID, date.Time()); err != nil {
			return nil, fmt.Errorf("delete override: %w", err)
		}
	} else {
		slots, err := json.Marshal(next.Slots)
		if err != nil {
			return nil, fmt.Errorf("encode override slots: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO date_overrides (doctor_id, override_date, slots, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (doctor_id, override_date)
			DO UPDATE SET slots = EXCLUDED.slots, updated_at = now()
		`, doctorID, date.Time(), slots); err != nil {
			return nil, fmt.Errorf("upsert override: %w", err)
		}
		next.DoctorID = doctorID
		next.Date = date
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return next, nil
}

func (r *PgRepository) UpdateAvailability(ctx context.Context, doctorID uuid.UUID, tmpl schedule.WeeklyTemplate) (*Doctor, error) {
	template, err := json.Marshal(tmpl)
	if err != nil {
		return nil, fmt.Errorf("encode template: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE doctors
		SET template = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+doctorColumns, doctorID, template)
	return scanDoctor(row)
}

func (r *PgRepository) UpdatePricing(ctx context.Context, doctorID uuid.UUID, pricing Pricing) (*Doctor, error) {
	currency := pricing.Currency
	if currency == "" {
		currency = DefaultCurrency
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE doctors
		SET consultation_fee = $2,
		    currency = $3,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+doctorColumns, doctorID, pricing.ConsultationFee, currency)
	return scanDoctor(row)
}

func (r *PgRepository) IncrementTotalAppointments(ctx context.Context, doctorID uuid.UUID, delta int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE doctors
		SET total_appointments = total_appointments + $2
		WHERE id = $1
	`, doctorID, delta)
	if err != nil {
		return fmt.Errorf("increment total appointments: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDoctorNotFound
	}
	return nil
}

func (r *PgRepository) ReconcileTotalAppointments(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE doctors d
		SET total_appointments = c.n,
		    updated_at = now()
		FROM (
			SELECT doc.id, COUNT(a.id) AS n
			FROM doctors doc
			LEFT JOIN appointments a ON a.doctor_id = doc.id
			GROUP BY doc.id
		) c
		WHERE d.id = c.id
		  AND d.total_appointments <> c.n
	`)
	if err != nil {
		return 0, fmt.Errorf("reconcile total appointments: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Patients

func (r *PgRepository) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// Appointments

func (r *PgRepository) ListActive(ctx context.Context, doctorID uuid.UUID, date schedule.Date) ([]BookedSlot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT slot_start, slot_end, status
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2
		  AND status IN ('scheduled', 'completed')
	`, doctorID, date.Time())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []BookedSlot
	for rows.Next() {
		var start, end int
		var b BookedSlot
		if err := rows.Scan(&start, &end, &b.Status); err != nil {
			return nil, err
		}
		b.Slot = schedule.Slot{Start: schedule.TimeOfDay(start), End: schedule.TimeOfDay(end)}
		result = append(result, b)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// ReserveIfAbsent relies on the partial unique index over active
// appointments: a conflicting row makes the insert a no-op and RETURNING
// yields nothing.
func (r *PgRepository) ReserveIfAbsent(ctx context.Context, draft Appointment) (*Appointment, error) {
	if draft.ID == uuid.Nil {
		draft.ID = uuid.New()
	}
	symptoms := draft.Symptoms
	if symptoms == nil {
		symptoms = []string{}
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, appointment_date, slot_start, slot_end, duration_minutes,
			status, type, description, symptoms, fee_amount, fee_currency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now(), now())
		ON CONFLICT (doctor_id, appointment_date, slot_start, slot_end)
			WHERE status IN ('scheduled', 'completed')
		DO NOTHING
		RETURNING `+appointmentColumns,
		draft.ID, draft.DoctorID, draft.PatientID, draft.Date.Time(), int(draft.Slot.Start), int(draft.Slot.End),
		draft.DurationMinutes, draft.Status, draft.Type, draft.Description, symptoms, draft.Fee.Amount, draft.Fee.Currency)

	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return a, nil
}

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns, id, to, from)

	a, err := scanAppointment(row)
	switch {
	case err == nil:
		return a, nil
	case isUniqueViolation(err):
		return nil, ErrSlotTaken
	case errors.Is(err, ErrAppointmentNotFound):
		// Either the row is gone or another writer moved it first.
		if _, getErr := r.GetAppointment(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrInvalidTransition
	}
	return nil, err
}

func (r *PgRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID, filter DoctorFilter) ([]Appointment, error) {
	where := []string{"doctor_id = $1"}
	args := []any{doctorID}

	if filter.From != nil {
		args = append(args, filter.From.Time())
		where = append(where, fmt.Sprintf("appointment_date >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, filter.To.Time())
		where = append(where, fmt.Sprintf("appointment_date <= $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY appointment_date, slot_start
	`, args...)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, filter PatientFilter) ([]Appointment, int, error) {
	where := "patient_id = $1"
	args := []any{patientID}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += " AND status = $2"
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM appointments WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = total
	}
	args = append(args, limit, filter.Offset)

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE %s
		ORDER BY appointment_date DESC, slot_start DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}

	result, err := collectAppointments(rows)
	if err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

// Events

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, doctor_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.AppointmentID, ev.DoctorID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
