package emr

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/integrity"
)

var (
	ErrNotFound = errors.New("medical record not found")
	ErrInvalid  = errors.New("invalid input")
)

// Record types.
const (
	TypeEMR          = "EMR"
	TypePrescription = "PRESCRIPTION"
	TypeSurgery      = "SURGERY"
	TypeReport       = "REPORT"
)

var validRecordTypes = map[string]bool{
	TypeEMR: true, TypePrescription: true, TypeSurgery: true, TypeReport: true,
}

const maxTitleLength = 200

// MedicalRecord maps to the emr_records table. BlockchainHash is the
// fingerprint of the clinical fields under FingerprintScheme;
// BlockchainTxHash and BlockNumber record the last anchor and are only
// written by the integrity binder.
type MedicalRecord struct {
	ID                uuid.UUID `json:"id"`
	PatientID         uuid.UUID `json:"patient_id"`
	DoctorID          uuid.UUID `json:"doctor_id"`
	RecordType        string    `json:"record_type"`
	Title             string    `json:"title"`
	Content           string    `json:"content"`
	Diagnosis         *string   `json:"diagnosis"`
	Treatment         *string   `json:"treatment"`
	Prescription      *string   `json:"prescription"`
	Notes             *string   `json:"notes"`
	IPFSCID           *string   `json:"ipfs_cid"`
	BlockchainTxHash  *string   `json:"blockchain_tx_hash"`
	BlockchainHash    string    `json:"blockchain_hash"`
	FingerprintScheme string    `json:"fingerprint_scheme"`
	BlockNumber       *int64    `json:"block_number"`
	IsConfidential    bool      `json:"is_confidential"`
	IsActive          bool      `json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (r *MedicalRecord) ClinicalFields() integrity.ClinicalFields {
	return integrity.ClinicalFields{
		Title:        r.Title,
		Content:      r.Content,
		Diagnosis:    r.Diagnosis,
		Treatment:    r.Treatment,
		Prescription: r.Prescription,
	}
}

func (r *MedicalRecord) SetFingerprint(fp string, scheme integrity.Scheme) {
	r.BlockchainHash = fp
	r.FingerprintScheme = string(scheme)
}

func (r *MedicalRecord) Validate() error {
	if r.PatientID == uuid.Nil {
		return fmt.Errorf("%w: patient_id is required", ErrInvalid)
	}
	if r.DoctorID == uuid.Nil {
		return fmt.Errorf("%w: doctor_id is required", ErrInvalid)
	}
	if !validRecordTypes[r.RecordType] {
		return fmt.Errorf("%w: record_type must be one of EMR, PRESCRIPTION, SURGERY, REPORT", ErrInvalid)
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if utf8.RuneCountInString(r.Title) > maxTitleLength {
		return fmt.Errorf("%w: title must be at most %d characters", ErrInvalid, maxTitleLength)
	}
	if strings.TrimSpace(r.Content) == "" {
		return fmt.Errorf("%w: content is required", ErrInvalid)
	}
	return nil
}

// Update is a partial update. The anchoring columns are not client
// writable.
type Update struct {
	RecordType     *string `json:"record_type"`
	Title          *string `json:"title"`
	Content        *string `json:"content"`
	Diagnosis      *string `json:"diagnosis"`
	Treatment      *string `json:"treatment"`
	Prescription   *string `json:"prescription"`
	Notes          *string `json:"notes"`
	IPFSCID        *string `json:"ipfs_cid"`
	IsConfidential *bool   `json:"is_confidential"`
}

// Apply merges u into r and returns the column names it set.
func (u Update) Apply(r *MedicalRecord) []string {
	var changed []string
	setStr := func(name string, dst *string, v *string) {
		if v != nil {
			*dst = *v
			changed = append(changed, name)
		}
	}
	setOpt := func(name string, dst **string, v *string) {
		if v != nil {
			*dst = v
			changed = append(changed, name)
		}
	}

	setStr("record_type", &r.RecordType, u.RecordType)
	setStr(integrity.FieldTitle, &r.Title, u.Title)
	setStr(integrity.FieldContent, &r.Content, u.Content)
	setOpt(integrity.FieldDiagnosis, &r.Diagnosis, u.Diagnosis)
	setOpt(integrity.FieldTreatment, &r.Treatment, u.Treatment)
	setOpt(integrity.FieldPrescription, &r.Prescription, u.Prescription)
	setOpt("notes", &r.Notes, u.Notes)
	setOpt("ipfs_cid", &r.IPFSCID, u.IPFSCID)
	if u.IsConfidential != nil {
		r.IsConfidential = *u.IsConfidential
		changed = append(changed, "is_confidential")
	}
	return changed
}

// Filter narrows record listings to active records.
type Filter struct {
	PatientID  uuid.UUID
	DoctorID   uuid.UUID
	RecordType string
	Search     string
}

// VerifyRequest is the body of POST /medical-records/:id/verify. HashValue
// is nil when the field is absent, which differs from an empty claim.
type VerifyRequest struct {
	HashValue *string `json:"hash_value"`
}
