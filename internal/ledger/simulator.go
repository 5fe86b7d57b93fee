package ledger

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/integrity"
)

// Simulator encodes every contract call but never broadcasts it. Writes
// return SimulatedTxHash and no reference is ever confirmed.
type Simulator struct {
	contracts *Contracts
	logger    zerolog.Logger
}

func NewSimulator(contracts *Contracts, logger zerolog.Logger) *Simulator {
	return &Simulator{contracts: contracts, logger: logger}
}

func (s *Simulator) Mode() string { return ModeSimulator }

func (s *Simulator) submit(ctx context.Context, c call, err error) (string, error) {
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.logger.Debug().
		Str("contract", c.Contract).
		Str("method", c.Method).
		Str("selector", hex.EncodeToString(c.Data[:4])).
		Int("calldata_bytes", len(c.Data)).
		Msg("simulated contract call")
	return SimulatedTxHash, nil
}

func (s *Simulator) SubmitRecordHash(ctx context.Context, req integrity.AnchorRequest) (string, error) {
	c, err := s.contracts.createRecord(req)
	return s.submit(ctx, c, err)
}

func (s *Simulator) GrantAccess(ctx context.Context, req GrantRequest) (string, error) {
	c, err := s.contracts.grantAccess(req)
	return s.submit(ctx, c, err)
}

func (s *Simulator) RevokeAccess(ctx context.Context, grantID string) (string, error) {
	c, err := s.contracts.revokeAccess(grantID)
	return s.submit(ctx, c, err)
}

func (s *Simulator) CreateItem(ctx context.Context, item TraceItem) (string, error) {
	c, err := s.contracts.createItem(item)
	return s.submit(ctx, c, err)
}

func (s *Simulator) Receipt(_ context.Context, txRef string) (*integrity.Receipt, error) {
	return nil, fmt.Errorf("%s: %w", txRef, integrity.ErrTxNotFound)
}

func (s *Simulator) Status(context.Context) (*Status, error) {
	return &Status{Mode: ModeSimulator, Connected: false}, nil
}

func (s *Simulator) Close() error { return nil }
