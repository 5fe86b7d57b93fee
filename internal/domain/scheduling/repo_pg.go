package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

type appointmentRepoPG struct {
	pool *pgxpool.Pool
}

func NewAppointmentRepo(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const apptCols = `id, patient_id, doctor_id, dept_id, dept_name, schedule_time, appointment_type,
	status, reason, notes, fee::float8, is_paid, payment_method, payment_tx_hash, created_at, updated_at`

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (
			id, patient_id, doctor_id, dept_id, dept_name, schedule_time, appointment_type,
			status, reason, notes, fee, is_paid, payment_method, payment_tx_hash
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.DeptID, a.DeptName, a.ScheduleTime, a.AppointmentType,
		a.Status, a.Reason, a.Notes, a.Fee, a.IsPaid, a.PaymentMethod, a.PaymentTxHash,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("%w: patient or doctor does not exist", ErrInvalid)
	}
	return err
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments SET
			schedule_time=$2, appointment_type=$3, status=$4, reason=$5, notes=$6,
			fee=$7, is_paid=$8, payment_method=$9, payment_tx_hash=$10, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.ScheduleTime, a.AppointmentType, a.Status, a.Reason, a.Notes,
		a.Fee, a.IsPaid, a.PaymentMethod, a.PaymentTxHash,
	).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *appointmentRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error) {
	q := db.NewSearchQuery("appointments", apptCols)
	if f.PatientID != uuid.Nil {
		q.AddEq("patient_id", f.PatientID)
	}
	if f.DoctorID != uuid.Nil {
		q.AddEq("doctor_id", f.DoctorID)
	}
	if f.Status != "" {
		q.AddEq("status", f.Status)
	}
	if f.From != nil {
		q.AddGE("schedule_time", *f.From)
	}
	if f.To != nil {
		q.AddLE("schedule_time", *f.To)
	}
	q.OrderBy("schedule_time, id")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []*Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID, &a.PatientID, &a.DoctorID, &a.DeptID, &a.DeptName, &a.ScheduleTime, &a.AppointmentType,
		&a.Status, &a.Reason, &a.Notes, &a.Fee, &a.IsPaid, &a.PaymentMethod, &a.PaymentTxHash,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
