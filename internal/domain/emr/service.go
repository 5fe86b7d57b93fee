package emr

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/integrity"
)

// Participants resolves the patient and doctor a record belongs to.
// Satisfied by *identity.Service.
type Participants interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*identity.Patient, error)
	GetDoctor(ctx context.Context, id uuid.UUID) (*identity.Doctor, error)
}

type Service struct {
	records RecordRepository
	people  Participants
	binder  *integrity.Binder
}

func NewService(records RecordRepository, people Participants, binder *integrity.Binder) *Service {
	return &Service{records: records, people: people, binder: binder}
}

func (s *Service) checkParticipants(ctx context.Context, r *MedicalRecord) error {
	if _, err := s.people.GetPatient(ctx, r.PatientID); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return fmt.Errorf("patient %s: %w", r.PatientID, ErrNotFound)
		}
		return err
	}
	if _, err := s.people.GetDoctor(ctx, r.DoctorID); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return fmt.Errorf("doctor %s: %w", r.DoctorID, ErrNotFound)
		}
		return err
	}
	return nil
}

// CreateRecord stores a new record with a fresh fingerprint. Any anchoring
// fields supplied by the caller are discarded.
func (s *Service) CreateRecord(ctx context.Context, r *MedicalRecord) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if err := s.checkParticipants(ctx, r); err != nil {
		return err
	}
	r.BlockchainTxHash = nil
	r.BlockNumber = nil
	r.IsActive = true
	s.binder.OnCreate(r)
	return s.records.Create(ctx, r)
}

func (s *Service) GetRecord(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	return s.records.GetByID(ctx, id)
}

// UpdateRecord applies u. The fingerprint is recomputed only when u touches
// a clinical field.
func (s *Service) UpdateRecord(ctx context.Context, id uuid.UUID, u Update) (*MedicalRecord, error) {
	r, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	changed := u.Apply(r)
	if err := r.Validate(); err != nil {
		return nil, err
	}
	s.binder.OnUpdate(r, changed)
	if err := s.records.Update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) DeactivateRecord(ctx context.Context, id uuid.UUID) error {
	return s.records.Deactivate(ctx, id)
}

func (s *Service) ListRecords(ctx context.Context, f Filter, limit, offset int) ([]*MedicalRecord, int, error) {
	return s.records.List(ctx, f, limit, offset)
}

// AnchorRecord submits the record's fingerprint to the ledger.
func (s *Service) AnchorRecord(ctx context.Context, id uuid.UUID) (*integrity.AnchorResult, error) {
	return s.binder.Anchor(ctx, id)
}

// VerifyRecord checks claimed against the record and its anchor. The claim
// is compared byte for byte and echoed back unchanged; an empty claim is
// simply invalid. Inactive records remain verifiable.
func (s *Service) VerifyRecord(ctx context.Context, id uuid.UUID, claimed string) (*integrity.VerifyResult, error) {
	return s.binder.Verify(ctx, id, claimed)
}
