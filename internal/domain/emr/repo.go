package emr

import (
	"context"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/integrity"
)

// RecordRepository persists medical records. Update writes the clinical
// columns and the fingerprint but never the anchoring columns, which are
// owned by the integrity.RecordStore methods.
type RecordRepository interface {
	integrity.RecordStore

	Create(ctx context.Context, r *MedicalRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error)
	Update(ctx context.Context, r *MedicalRecord) error
	Deactivate(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*MedicalRecord, int, error)
}

// toIntegrity projects a stored record onto the binder's view of it.
func toIntegrity(r *MedicalRecord) *integrity.Record {
	return &integrity.Record{
		ID:             r.ID,
		PatientID:      r.PatientID,
		DoctorID:       r.DoctorID,
		RecordType:     r.RecordType,
		Clinical:       r.ClinicalFields(),
		Fingerprint:    r.BlockchainHash,
		Scheme:         integrity.Scheme(r.FingerprintScheme),
		AnchorTxRef:    r.BlockchainTxHash,
		AnchorBlockRef: r.BlockNumber,
	}
}
