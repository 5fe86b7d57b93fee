package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/hms/hms/internal/integrity"
)

// CallObserver records ledger call outcomes. Satisfied by *metrics.Metrics.
type CallObserver interface {
	ObserveLedgerCall(op, outcome string, took time.Duration)
}

// Instrumented reports every call on the wrapped ledger to an observer.
type Instrumented struct {
	Ledger
	obs CallObserver
}

func Instrument(l Ledger, obs CallObserver) *Instrumented {
	return &Instrumented{Ledger: l, obs: obs}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, integrity.ErrTxNotFound):
		return "not_found"
	case errors.Is(err, integrity.ErrLedgerUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return "unavailable"
	default:
		return "error"
	}
}

func (i *Instrumented) observe(op string, start time.Time, err error) {
	i.obs.ObserveLedgerCall(op, outcome(err), time.Since(start))
}

func (i *Instrumented) Receipt(ctx context.Context, txRef string) (*integrity.Receipt, error) {
	start := time.Now()
	r, err := i.Ledger.Receipt(ctx, txRef)
	i.observe("receipt", start, err)
	return r, err
}

func (i *Instrumented) SubmitRecordHash(ctx context.Context, req integrity.AnchorRequest) (string, error) {
	start := time.Now()
	tx, err := i.Ledger.SubmitRecordHash(ctx, req)
	i.observe("submit_record_hash", start, err)
	return tx, err
}

func (i *Instrumented) GrantAccess(ctx context.Context, req GrantRequest) (string, error) {
	start := time.Now()
	tx, err := i.Ledger.GrantAccess(ctx, req)
	i.observe("grant_access", start, err)
	return tx, err
}

func (i *Instrumented) RevokeAccess(ctx context.Context, grantID string) (string, error) {
	start := time.Now()
	tx, err := i.Ledger.RevokeAccess(ctx, grantID)
	i.observe("revoke_access", start, err)
	return tx, err
}

func (i *Instrumented) CreateItem(ctx context.Context, item TraceItem) (string, error) {
	start := time.Now()
	tx, err := i.Ledger.CreateItem(ctx, item)
	i.observe("create_item", start, err)
	return tx, err
}

func (i *Instrumented) Status(ctx context.Context) (*Status, error) {
	start := time.Now()
	s, err := i.Ledger.Status(ctx)
	i.observe("status", start, err)
	return s, err
}
