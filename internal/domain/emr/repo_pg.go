package emr

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/integrity"
	"github.com/hms/hms/internal/platform/db"
)

type recordRepoPG struct {
	pool *pgxpool.Pool
}

func NewRecordRepo(pool *pgxpool.Pool) RecordRepository {
	return &recordRepoPG{pool: pool}
}

func (r *recordRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const recordCols = `id, patient_id, doctor_id, record_type, title, content, diagnosis, treatment,
	prescription, notes, ipfs_cid, blockchain_tx_hash, blockchain_hash, fingerprint_scheme,
	block_number, is_confidential, is_active, created_at, updated_at`

func (r *recordRepoPG) Create(ctx context.Context, m *MedicalRecord) error {
	m.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO emr_records (
			id, patient_id, doctor_id, record_type, title, content, diagnosis, treatment,
			prescription, notes, ipfs_cid, blockchain_hash, fingerprint_scheme, is_confidential, is_active
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING created_at, updated_at`,
		m.ID, m.PatientID, m.DoctorID, m.RecordType, m.Title, m.Content, m.Diagnosis, m.Treatment,
		m.Prescription, m.Notes, m.IPFSCID, m.BlockchainHash, m.FingerprintScheme, m.IsConfidential, m.IsActive,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("%w: patient or doctor does not exist", ErrInvalid)
	}
	return err
}

func (r *recordRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	m, err := scanRecord(r.conn(ctx).QueryRow(ctx, `SELECT `+recordCols+` FROM emr_records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

func (r *recordRepoPG) Update(ctx context.Context, m *MedicalRecord) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE emr_records SET
			record_type=$2, title=$3, content=$4, diagnosis=$5, treatment=$6, prescription=$7,
			notes=$8, ipfs_cid=$9, blockchain_hash=$10, fingerprint_scheme=$11, is_confidential=$12,
			updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		m.ID, m.RecordType, m.Title, m.Content, m.Diagnosis, m.Treatment, m.Prescription,
		m.Notes, m.IPFSCID, m.BlockchainHash, m.FingerprintScheme, m.IsConfidential,
	).Scan(&m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *recordRepoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE emr_records SET is_active = false, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *recordRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*MedicalRecord, int, error) {
	q := db.NewSearchQuery("emr_records", recordCols)
	q.AddEq("is_active", true)
	if f.PatientID != uuid.Nil {
		q.AddEq("patient_id", f.PatientID)
	}
	if f.DoctorID != uuid.Nil {
		q.AddEq("doctor_id", f.DoctorID)
	}
	if f.RecordType != "" {
		q.AddEq("record_type", f.RecordType)
	}
	if f.Search != "" {
		q.AddContains(f.Search, "title", "content", "diagnosis")
	}
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

	out := []*MedicalRecord{}
	for rows.Next() {
		m, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

// -- integrity.RecordStore --

func (r *recordRepoPG) GetRecord(ctx context.Context, id uuid.UUID) (*integrity.Record, error) {
	m, err := r.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("medical record %s: %w", id, integrity.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return toIntegrity(m), nil
}

// SaveAnchor locks the row and refuses to store an anchor for content that
// was edited after the binder fingerprinted it.
func (r *recordRepoPG) SaveAnchor(ctx context.Context, id uuid.UUID, scheme integrity.Scheme, fingerprint, txRef string) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		m, err := scanRecord(r.conn(ctx).QueryRow(ctx,
			`SELECT `+recordCols+` FROM emr_records WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("medical record %s: %w", id, integrity.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if scheme.Compute(m.ClinicalFields()) != fingerprint {
			return fmt.Errorf("medical record %s: %w", id, integrity.ErrRecordChanged)
		}
		_, err = r.conn(ctx).Exec(ctx, `
			UPDATE emr_records SET
				blockchain_hash = $2, fingerprint_scheme = $3, blockchain_tx_hash = $4,
				block_number = NULL, updated_at = NOW()
			WHERE id = $1`, id, fingerprint, string(scheme), txRef)
		return err
	})
}

func (r *recordRepoPG) SetAnchorBlock(ctx context.Context, id uuid.UUID, block int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE emr_records SET block_number = $2 WHERE id = $1`, id, block)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("medical record %s: %w", id, integrity.ErrNotFound)
	}
	return nil
}

func scanRecord(row pgx.Row) (*MedicalRecord, error) {
	var m MedicalRecord
	err := row.Scan(
		&m.ID, &m.PatientID, &m.DoctorID, &m.RecordType, &m.Title, &m.Content, &m.Diagnosis, &m.Treatment,
		&m.Prescription, &m.Notes, &m.IPFSCID, &m.BlockchainTxHash, &m.BlockchainHash, &m.FingerprintScheme,
		&m.BlockNumber, &m.IsConfidential, &m.IsActive, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
