package integrity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrLedgerWriteFailed = errors.New("ledger write failed")
	ErrAnchorInFlight    = errors.New("anchor already in progress for record")
	ErrRecordChanged     = errors.New("record changed while anchoring")

	// Returned by LedgerReader implementations.
	ErrTxNotFound        = errors.New("ledger transaction not found")
	ErrLedgerUnavailable = errors.New("ledger unavailable")
)

// Record is the binding's view of a stored clinical record.
type Record struct {
	ID             uuid.UUID
	PatientID      uuid.UUID
	DoctorID       uuid.UUID
	RecordType     string
	Clinical       ClinicalFields
	Fingerprint    string
	// Scheme produced Fingerprint. Empty means SchemeLegacy.
	Scheme         Scheme
	AnchorTxRef    *string
	AnchorBlockRef *int64
}

// RecordStore loads and updates the anchoring columns of stored records.
type RecordStore interface {
	// GetRecord returns ErrNotFound (possibly wrapped) for unknown ids.
	// Inactive records are returned.
	GetRecord(ctx context.Context, id uuid.UUID) (*Record, error)
	// SaveAnchor writes fingerprint, its scheme and txRef together and
	// clears any previously recorded block reference. It returns
	// ErrRecordChanged when the stored clinical fields no longer hash to
	// fingerprint under scheme.
	SaveAnchor(ctx context.Context, id uuid.UUID, scheme Scheme, fingerprint, txRef string) error
	SetAnchorBlock(ctx context.Context, id uuid.UUID, block int64) error
}

// Receipt is the ledger's answer for a transaction reference.
type Receipt struct {
	TxRef       string
	Confirmed   bool
	BlockNumber int64
}

// LedgerReader resolves transaction references. Implementations return
// ErrTxNotFound for unknown references and ErrLedgerUnavailable when the
// ledger cannot be reached.
type LedgerReader interface {
	Receipt(ctx context.Context, txRef string) (*Receipt, error)
}

// AnchorRequest carries the fingerprint and the record metadata submitted
// to the ledger.
type AnchorRequest struct {
	RecordID    uuid.UUID
	PatientID   uuid.UUID
	DoctorID    uuid.UUID
	RecordType  string
	Fingerprint string
}

// LedgerWriter submits fingerprints and returns the transaction reference.
type LedgerWriter interface {
	SubmitRecordHash(ctx context.Context, req AnchorRequest) (string, error)
}

// Locker serialises anchoring across processes. Acquire returns
// ErrAnchorInFlight when another holder owns key.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Observer receives verify and anchor outcomes.
type Observer interface {
	ObserveVerify(outcome string)
	ObserveAnchor(outcome string)
}

// Verify outcomes.
const (
	OutcomeConfirmed  = "confirmed"
	OutcomeDegraded   = "degraded"
	OutcomeUnanchored = "unanchored"
	OutcomeNotFound   = "not_found"
)

// Anchor outcomes.
const (
	OutcomeAnchored     = "anchored"
	OutcomeWriteFailed  = "write_failed"
	OutcomeInFlight     = "in_flight"
	OutcomeStoreFailure = "store_failed"
)

// Fingerprintable is implemented by record models that carry a fingerprint
// and the scheme that produced it.
type Fingerprintable interface {
	ClinicalFields() ClinicalFields
	SetFingerprint(fp string, scheme Scheme)
}
