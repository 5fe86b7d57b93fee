package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/integrity"
	"github.com/hms/hms/internal/ledger"
)

// Ledger is the write and status side of the ledger used by the facade.
type Ledger interface {
	GrantAccess(ctx context.Context, req ledger.GrantRequest) (string, error)
	RevokeAccess(ctx context.Context, grantID string) (string, error)
	CreateItem(ctx context.Context, item ledger.TraceItem) (string, error)
	Status(ctx context.Context) (*ledger.Status, error)
}

// Integrity anchors and verifies medical records. Satisfied by
// *integrity.Binder.
type Integrity interface {
	Anchor(ctx context.Context, id uuid.UUID) (*integrity.AnchorResult, error)
	Verify(ctx context.Context, id uuid.UUID, claimed string) (*integrity.VerifyResult, error)
}

// AddressResolver returns the blockchain address registered for a user, or
// "" when none is set.
type AddressResolver interface {
	BlockchainAddr(ctx context.Context, userID string) (string, error)
}

type Service struct {
	ledger    Ledger
	integrity Integrity
	hashes    DataHashRepository
	grants    AccessGrantRepository
	contracts ContractRepository
	addrs     AddressResolver
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(l Ledger, in Integrity, hashes DataHashRepository, grants AccessGrantRepository,
	contracts ContractRepository, addrs AddressResolver, logger zerolog.Logger) *Service {
	return &Service{
		ledger:    l,
		integrity: in,
		hashes:    hashes,
		grants:    grants,
		contracts: contracts,
		addrs:     addrs,
		logger:    logger,
		now:       time.Now,
	}
}

func writeFailed(err error) error {
	return fmt.Errorf("%w: %v", integrity.ErrLedgerWriteFailed, err)
}

func (s *Service) Status(ctx context.Context) (*ledger.Status, error) {
	return s.ledger.Status(ctx)
}

func (s *Service) Contracts(ctx context.Context) ([]*Contract, error) {
	return s.contracts.ListActive(ctx)
}

func (s *Service) contractAddress(ctx context.Context, name string) *string {
	contracts, err := s.contracts.ListActive(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("contract registry unavailable")
		return nil
	}
	for _, c := range contracts {
		if c.Name == name {
			addr := c.Address
			return &addr
		}
	}
	return nil
}

func parseRecordID(v string) (uuid.UUID, error) {
	if strings.TrimSpace(v) == "" {
		return uuid.Nil, fmt.Errorf("%w: record_id required", ErrInvalid)
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid record_id", ErrInvalid)
	}
	return id, nil
}

// Verify compares hashValue, unmodified, with the record's current
// fingerprint.
func (s *Service) Verify(ctx context.Context, recordID, hashValue string) (*integrity.VerifyResult, error) {
	id, err := parseRecordID(recordID)
	if err != nil {
		return nil, err
	}
	return s.integrity.Verify(ctx, id, hashValue)
}

// StoreHash anchors a record and appends a data_hashes audit row. A failed
// audit insert is logged; the anchor itself already succeeded.
func (s *Service) StoreHash(ctx context.Context, req StoreHashRequest) (*integrity.AnchorResult, error) {
	id, err := parseRecordID(req.RecordID)
	if err != nil {
		return nil, err
	}
	if err := required([2]string{"record_type", req.RecordType}); err != nil {
		return nil, err
	}

	res, err := s.integrity.Anchor(ctx, id)
	if err != nil {
		return nil, err
	}

	tx := res.TxRef
	h := &DataHash{
		DataType:        req.RecordType,
		OriginalID:      id,
		HashValue:       res.Fingerprint,
		TxHash:          &tx,
		ContractAddress: s.contractAddress(ctx, ledger.ContractMedicalRecord),
	}
	if err := s.hashes.Create(ctx, h); err != nil {
		s.logger.Error().Err(err).Str("record_id", id.String()).Str("tx_hash", tx).
			Msg("failed to record data hash")
	}
	return res, nil
}

// GrantAccess records a grant on the ledger and in access_grants.
func (s *Service) GrantAccess(ctx context.Context, userID string, req GrantRequest) (*AccessGrant, error) {
	if err := required(
		[2]string{"grant_id", req.GrantID},
		[2]string{"grantee_address", req.GranteeAddress},
		[2]string{"data_id", req.DataID},
		[2]string{"data_type", req.DataType},
	); err != nil {
		return nil, err
	}
	if err := validAddress("grantee_address", req.GranteeAddress); err != nil {
		return nil, err
	}
	dataID, err := uuid.Parse(req.DataID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid data_id", ErrInvalid)
	}
	duration := int64(ledger.DefaultGrantDuration / time.Second)
	if req.Duration != nil {
		duration = *req.Duration
	}
	if duration <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrInvalid)
	}

	grantor := req.GrantorAddress
	if grantor == "" && s.addrs != nil {
		if grantor, err = s.addrs.BlockchainAddr(ctx, userID); err != nil {
			return nil, err
		}
	}
	if grantor == "" {
		return nil, fmt.Errorf("%w: grantor has no blockchain address", ErrInvalid)
	}
	if err := validAddress("grantor_address", grantor); err != nil {
		return nil, err
	}

	if _, err := s.grants.GetByGrantID(ctx, req.GrantID); err == nil {
		return nil, fmt.Errorf("grant %s: %w", req.GrantID, ErrDuplicate)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	tx, err := s.ledger.GrantAccess(ctx, ledger.GrantRequest{
		GrantID:  req.GrantID,
		Grantee:  req.GranteeAddress,
		DataID:   req.DataID,
		DataType: req.DataType,
		Duration: time.Duration(duration) * time.Second,
	})
	if err != nil {
		return nil, writeFailed(err)
	}

	now := s.now().UTC()
	g := &AccessGrant{
		GrantID:          req.GrantID,
		GrantorAddr:      grantor,
		GranteeAddr:      req.GranteeAddress,
		DataID:           dataID,
		DataType:         req.DataType,
		GrantTime:        now,
		ExpireTime:       now.Add(time.Duration(duration) * time.Second),
		IsActive:         true,
		BlockchainTxHash: &tx,
	}
	if err := s.grants.Create(ctx, g); err != nil {
		s.logger.Error().Err(err).Str("grant_id", req.GrantID).Str("tx_hash", tx).
			Msg("grant written to ledger but not recorded")
		return nil, err
	}
	return g, nil
}

// RevokeAccess revokes an active grant.
func (s *Service) RevokeAccess(ctx context.Context, grantID string) (*AccessGrant, error) {
	if err := required([2]string{"grant_id", grantID}); err != nil {
		return nil, err
	}
	g, err := s.grants.GetByGrantID(ctx, grantID)
	if err != nil {
		return nil, err
	}
	if !g.IsActive {
		return nil, fmt.Errorf("grant %s already revoked: %w", grantID, ErrNotFound)
	}

	tx, err := s.ledger.RevokeAccess(ctx, grantID)
	if err != nil {
		return nil, writeFailed(err)
	}
	if err := s.grants.Deactivate(ctx, g.ID, tx); err != nil {
		return nil, err
	}
	g.IsActive = false
	g.BlockchainTxHash = &tx
	return g, nil
}

// CreateItem registers a traceable drug batch.
func (s *Service) CreateItem(ctx context.Context, req ItemRequest) (string, error) {
	item, err := req.toTraceItem()
	if err != nil {
		return "", err
	}
	tx, err := s.ledger.CreateItem(ctx, item)
	if err != nil {
		return "", writeFailed(err)
	}
	return tx, nil
}

// LedgerRegistry returns the ABI and address of the newest active contract
// per name, for ledger.Options.
func LedgerRegistry(ctx context.Context, repo ContractRepository) (abis, addresses map[string]string, err error) {
	contracts, err := repo.ListActive(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load contract registry: %w", err)
	}
	abis = make(map[string]string)
	addresses = make(map[string]string)
	for _, c := range contracts {
		if _, seen := addresses[c.Name]; seen {
			continue
		}
		addresses[c.Name] = c.Address
		if c.ABI != nil {
			abis[c.Name] = *c.ABI
		}
	}
	return abis, addresses, nil
}
