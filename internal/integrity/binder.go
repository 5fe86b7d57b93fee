package integrity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// VerifyResult is returned by Binder.Verify. BlockchainVerified is true only
// when the record's anchor transaction was confirmed by the ledger during
// this call.
type VerifyResult struct {
	RecordID           uuid.UUID `json:"record_id"`
	Valid              bool      `json:"valid"`
	BlockchainVerified bool      `json:"blockchain_verified"`
	AnchorBlockRef     *int64    `json:"anchor_block_ref,omitempty"`
	AnchorTxRef        *string   `json:"anchor_tx_ref,omitempty"`
	CurrentHash        string    `json:"current_hash"`
	ProvidedHash       string    `json:"provided_hash"`
}

// AnchorResult is returned by Binder.Anchor.
type AnchorResult struct {
	RecordID    uuid.UUID `json:"record_id"`
	TxRef       string    `json:"tx_hash"`
	Fingerprint string    `json:"hash_value"`
	Scheme      Scheme    `json:"fingerprint_scheme"`
}

// Binder keeps record fingerprints current and moves them to and from the
// ledger. It holds no per-record state; concurrent anchors of the same
// record within a process share one ledger submission.
type Binder struct {
	store    RecordStore
	reader   LedgerReader
	writer   LedgerWriter
	scheme   Scheme
	locker   Locker
	observer Observer
	timeout  time.Duration
	logger   zerolog.Logger

	inflight singleflight.Group
}

type Option func(*Binder)

func WithScheme(s Scheme) Option { return func(b *Binder) { b.scheme = s } }

// WithLocker adds a cross-process lock around Anchor.
func WithLocker(l Locker) Option { return func(b *Binder) { b.locker = l } }

func WithObserver(o Observer) Option { return func(b *Binder) { b.observer = o } }

// WithLedgerTimeout bounds each ledger call. Zero disables the bound.
func WithLedgerTimeout(d time.Duration) Option { return func(b *Binder) { b.timeout = d } }

func WithLogger(l zerolog.Logger) Option { return func(b *Binder) { b.logger = l } }

func NewBinder(store RecordStore, reader LedgerReader, writer LedgerWriter, opts ...Option) *Binder {
	b := &Binder{
		store:  store,
		reader: reader,
		writer: writer,
		scheme: SchemeLegacy,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Scheme returns the scheme new fingerprints are written with.
func (b *Binder) Scheme() Scheme { return b.scheme }

// OnCreate sets the fingerprint of a new record.
func (b *Binder) OnCreate(r Fingerprintable) {
	r.SetFingerprint(b.scheme.Compute(r.ClinicalFields()), b.scheme)
}

// OnUpdate recomputes the fingerprint when changed names a clinical field and
// reports whether it did. A recomputed fingerprint moves the record to the
// binder's scheme. Updates to other fields leave fingerprint and scheme
// untouched, so they keep matching.
func (b *Binder) OnUpdate(r Fingerprintable, changed []string) bool {
	if !TouchesClinical(changed) {
		return false
	}
	r.SetFingerprint(b.scheme.Compute(r.ClinicalFields()), b.scheme)
	return true
}

// Verify compares claimed against the record's current fingerprint, computed
// with the scheme the record was fingerprinted under, and, when the record is
// anchored, asks the ledger for confirmation. Ledger failures of any kind
// degrade the result to a local-only check; the only error returned is from
// loading the record.
func (b *Binder) Verify(ctx context.Context, id uuid.UUID, claimed string) (*VerifyResult, error) {
	rec, err := b.store.GetRecord(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			b.observeVerify(OutcomeNotFound)
		}
		return nil, err
	}

	current := rec.Scheme.Compute(rec.Clinical)
	res := &VerifyResult{
		RecordID:     rec.ID,
		Valid:        current == claimed,
		AnchorTxRef:  rec.AnchorTxRef,
		CurrentHash:  current,
		ProvidedHash: claimed,
	}

	if rec.AnchorTxRef == nil || *rec.AnchorTxRef == "" {
		b.observeVerify(OutcomeUnanchored)
		return res, nil
	}

	rcpt, err := b.receipt(ctx, *rec.AnchorTxRef)
	if err != nil || rcpt == nil || !rcpt.Confirmed {
		evt := b.logger.Warn().
			Str("record_id", id.String()).
			Str("tx_ref", *rec.AnchorTxRef)
		if err != nil {
			evt = evt.Err(err)
		}
		evt.Msg("ledger confirmation unavailable, returning local verification")
		b.observeVerify(OutcomeDegraded)
		return res, nil
	}

	block := rcpt.BlockNumber
	res.BlockchainVerified = true
	res.AnchorBlockRef = &block
	b.observeVerify(OutcomeConfirmed)

	if rec.AnchorBlockRef == nil || *rec.AnchorBlockRef != block {
		if err := b.store.SetAnchorBlock(ctx, id, block); err != nil {
			b.logger.Warn().Err(err).Str("record_id", id.String()).
				Int64("block", block).Msg("failed to record anchor block")
		}
	}
	return res, nil
}

// Anchor submits the record's current fingerprint, under the binder's
// scheme, to the ledger and stores fingerprint, scheme and transaction
// reference together. When the ledger write fails the record is left
// unmodified and the error wraps ErrLedgerWriteFailed.
//
// Concurrent callers for one record share a single submission. The shared
// call is not tied to any caller's cancellation; a caller whose context ends
// stops waiting and gets ctx.Err() while the others still get the result.
// The ledger call itself stays bounded by WithLedgerTimeout.
func (b *Binder) Anchor(ctx context.Context, id uuid.UUID) (*AnchorResult, error) {
	detached := context.WithoutCancel(ctx)
	ch := b.inflight.DoChan(id.String(), func() (interface{}, error) {
		return b.anchor(detached, id)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Shared {
			b.logger.Debug().Str("record_id", id.String()).Msg("joined in-flight anchor")
		}
		if r.Err != nil {
			return nil, r.Err
		}
		res := *r.Val.(*AnchorResult)
		return &res, nil
	}
}

func (b *Binder) anchor(ctx context.Context, id uuid.UUID) (*AnchorResult, error) {
	if b.locker != nil {
		release, err := b.locker.Acquire(ctx, "anchor:"+id.String())
		if err != nil {
			if errors.Is(err, ErrAnchorInFlight) {
				b.observeAnchor(OutcomeInFlight)
				return nil, err
			}
			return nil, fmt.Errorf("acquire anchor lock: %w", err)
		}
		defer release()
	}

	rec, err := b.store.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	fp := b.scheme.Compute(rec.Clinical)

	wctx, cancel := b.ledgerContext(ctx)
	txRef, err := b.writer.SubmitRecordHash(wctx, AnchorRequest{
		RecordID:    rec.ID,
		PatientID:   rec.PatientID,
		DoctorID:    rec.DoctorID,
		RecordType:  rec.RecordType,
		Fingerprint: fp,
	})
	cancel()
	if err != nil {
		b.observeAnchor(OutcomeWriteFailed)
		b.logger.Error().Err(err).Str("record_id", id.String()).Msg("ledger write failed")
		return nil, fmt.Errorf("%w: %v", ErrLedgerWriteFailed, err)
	}

	if err := b.store.SaveAnchor(ctx, id, b.scheme, fp, txRef); err != nil {
		b.observeAnchor(OutcomeStoreFailure)
		b.logger.Error().Err(err).Str("record_id", id.String()).
			Str("tx_ref", txRef).Msg("ledger write succeeded but anchor was not persisted")
		return nil, fmt.Errorf("persist anchor: %w", err)
	}

	b.observeAnchor(OutcomeAnchored)
	b.logger.Info().Str("record_id", id.String()).Str("tx_ref", txRef).Msg("record anchored")
	return &AnchorResult{RecordID: rec.ID, TxRef: txRef, Fingerprint: fp, Scheme: b.scheme}, nil
}

func (b *Binder) receipt(ctx context.Context, txRef string) (*Receipt, error) {
	if b.reader == nil {
		return nil, ErrLedgerUnavailable
	}
	rctx, cancel := b.ledgerContext(ctx)
	defer cancel()
	return b.reader.Receipt(rctx, txRef)
}

func (b *Binder) ledgerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout > 0 {
		return context.WithTimeout(ctx, b.timeout)
	}
	return context.WithCancel(ctx)
}

func (b *Binder) observeVerify(outcome string) {
	if b.observer != nil {
		b.observer.ObserveVerify(outcome)
	}
}

func (b *Binder) observeAnchor(outcome string) {
	if b.observer != nil {
		b.observer.ObserveAnchor(outcome)
	}
}
