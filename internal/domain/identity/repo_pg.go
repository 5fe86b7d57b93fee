package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

// -- Patient Repository --

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepo(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const patientCols = `id, name, id_card, phone, email, address, birth_date::text, gender,
	emergency_contact, emergency_phone, medical_card_id, blockchain_addr,
	insurance_type, insurance_number, allergies, medical_history,
	is_active, created_at, updated_at`

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (
			id, name, id_card, phone, email, address, birth_date, gender,
			emergency_contact, emergency_phone, medical_card_id, blockchain_addr,
			insurance_type, insurance_number, allergies, medical_history, is_active
		) VALUES ($1,$2,$3,$4,$5,$6,$7::date,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.IDCard, p.Phone, p.Email, p.Address, p.BirthDate, p.Gender,
		p.EmergencyContact, p.EmergencyPhone, p.MedicalCardID, p.BlockchainAddr,
		p.InsuranceType, p.InsuranceNumber, p.Allergies, p.MedicalHistory, p.IsActive,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("patient with this id card or medical card: %w", ErrDuplicate)
	}
	return err
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patients SET
			name=$2, phone=$3, email=$4, address=$5, birth_date=$6::date, gender=$7,
			emergency_contact=$8, emergency_phone=$9, medical_card_id=$10, blockchain_addr=$11,
			insurance_type=$12, insurance_number=$13, allergies=$14, medical_history=$15,
			updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.Name, p.Phone, p.Email, p.Address, p.BirthDate, p.Gender,
		p.EmergencyContact, p.EmergencyPhone, p.MedicalCardID, p.BlockchainAddr,
		p.InsuranceType, p.InsuranceNumber, p.Allergies, p.MedicalHistory,
	).Scan(&p.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case db.IsUniqueViolation(err):
		return fmt.Errorf("medical card already registered: %w", ErrDuplicate)
	}
	return err
}

func (r *patientRepoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE patients SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *patientRepoPG) List(ctx context.Context, f PatientFilter, limit, offset int) ([]*Patient, int, error) {
	q := db.NewSearchQuery("patients", patientCols)
	q.AddEq("is_active", true)
	q.AddContains(f.Search, "name", "id_card", "medical_card_id")
	q.OrderBy("created_at DESC, id")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	patients := []*Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		patients = append(patients, p)
	}
	return patients, total, rows.Err()
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID, &p.Name, &p.IDCard, &p.Phone, &p.Email, &p.Address, &p.BirthDate, &p.Gender,
		&p.EmergencyContact, &p.EmergencyPhone, &p.MedicalCardID, &p.BlockchainAddr,
		&p.InsuranceType, &p.InsuranceNumber, &p.Allergies, &p.MedicalHistory,
		&p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// -- Doctor Repository --

type doctorRepoPG struct {
	pool *pgxpool.Pool
}

func NewDoctorRepo(pool *pgxpool.Pool) DoctorRepository {
	return &doctorRepoPG{pool: pool}
}

func (r *doctorRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const doctorCols = `id, name, title, dept_id, dept_name, license_no, phone, email,
	specialization, education, experience, blockchain_addr, is_active, created_at, updated_at`

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	d.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctors (
			id, name, title, dept_id, dept_name, license_no, phone, email,
			specialization, education, experience, blockchain_addr, is_active
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		d.ID, d.Name, d.Title, d.DeptID, d.DeptName, d.LicenseNo, d.Phone, d.Email,
		d.Specialization, d.Education, d.Experience, d.BlockchainAddr, d.IsActive,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("doctor with this license number: %w", ErrDuplicate)
	}
	return err
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := scanDoctor(r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctors WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

func (r *doctorRepoPG) Update(ctx context.Context, d *Doctor) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE doctors SET
			name=$2, title=$3, dept_id=$4, dept_name=$5, phone=$6, email=$7,
			specialization=$8, education=$9, experience=$10, blockchain_addr=$11,
			updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		d.ID, d.Name, d.Title, d.DeptID, d.DeptName, d.Phone, d.Email,
		d.Specialization, d.Education, d.Experience, d.BlockchainAddr,
	).Scan(&d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *doctorRepoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE doctors SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *doctorRepoPG) List(ctx context.Context, f DoctorFilter, limit, offset int) ([]*Doctor, int, error) {
	q := db.NewSearchQuery("doctors", doctorCols)
	q.AddEq("is_active", true)
	if f.DeptID != "" {
		q.AddEq("dept_id", f.DeptID)
	}
	q.AddContains(f.Search, "name", "license_no", "specialization")
	q.OrderBy("name, id")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	doctors := []*Doctor{}
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, 0, err
		}
		doctors = append(doctors, d)
	}
	return doctors, total, rows.Err()
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(
		&d.ID, &d.Name, &d.Title, &d.DeptID, &d.DeptName, &d.LicenseNo, &d.Phone, &d.Email,
		&d.Specialization, &d.Education, &d.Experience, &d.BlockchainAddr,
		&d.IsActive, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
