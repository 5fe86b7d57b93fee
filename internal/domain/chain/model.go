// Package chain exposes the blockchain facade: ledger status, the contract
// registry, record hash anchoring and access-grant bookkeeping.
package chain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/hms/hms/internal/ledger"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrInvalid   = errors.New("invalid input")
	ErrDuplicate = errors.New("already exists")
)

// DataHash is an audit row for every fingerprint stored through the facade.
type DataHash struct {
	ID              uuid.UUID `json:"id"`
	DataType        string    `json:"data_type"`
	OriginalID      uuid.UUID `json:"original_id"`
	HashValue       string    `json:"hash_value"`
	TxHash          *string   `json:"tx_hash"`
	BlockNumber     *int64    `json:"block_number"`
	ContractAddress *string   `json:"contract_address"`
	GasUsed         *int64    `json:"gas_used"`
	GasPrice        *int64    `json:"gas_price"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AccessGrant records a time-limited grant of one data item to a grantee.
type AccessGrant struct {
	ID               uuid.UUID `json:"id"`
	GrantID          string    `json:"grant_id"`
	GrantorAddr      string    `json:"grantor_addr"`
	GranteeAddr      string    `json:"grantee_addr"`
	DataID           uuid.UUID `json:"data_id"`
	DataType         string    `json:"data_type"`
	GrantTime        time.Time `json:"grant_time"`
	ExpireTime       time.Time `json:"expire_time"`
	IsActive         bool      `json:"is_active"`
	BlockchainTxHash *string   `json:"blockchain_tx_hash"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Contract is a deployed contract in the registry.
type Contract struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Address    string    `json:"address"`
	ABI        *string   `json:"abi"`
	Network    string    `json:"network"`
	DeployTime time.Time `json:"deploy_time"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// StoreHashRequest is the body of POST /blockchain/store_hash.
type StoreHashRequest struct {
	RecordID   string `json:"record_id"`
	RecordType string `json:"record_type"`
}

// GrantRequest is the body of POST /blockchain/grant_access. Duration is in
// seconds. GrantorAddress defaults to the caller's registered address.
type GrantRequest struct {
	GrantID        string `json:"grant_id"`
	GranteeAddress string `json:"grantee_address"`
	GrantorAddress string `json:"grantor_address"`
	DataID         string `json:"data_id"`
	DataType       string `json:"data_type"`
	Duration       *int64 `json:"duration"`
}

// RevokeRequest is the body of POST /blockchain/revoke_access.
type RevokeRequest struct {
	GrantID string `json:"grant_id"`
}

// ItemRequest is the body of POST /blockchain/create_item. Dates are Unix
// seconds.
type ItemRequest struct {
	ItemID         string `json:"item_id"`
	Name           string `json:"name"`
	Specification  string `json:"specification"`
	Manufacturer   string `json:"manufacturer"`
	BatchNumber    string `json:"batch_number"`
	ProductionDate *int64 `json:"production_date"`
	ExpiryDate     *int64 `json:"expiry_date"`
	Category       string `json:"category"`
}

func required(fields ...[2]string) error {
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f[1]) == "" {
			missing = append(missing, f[0])
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", ErrInvalid, strings.Join(missing, ", "))
	}
	return nil
}

func (r ItemRequest) toTraceItem() (ledger.TraceItem, error) {
	if err := required(
		[2]string{"item_id", r.ItemID},
		[2]string{"name", r.Name},
		[2]string{"specification", r.Specification},
		[2]string{"manufacturer", r.Manufacturer},
		[2]string{"batch_number", r.BatchNumber},
		[2]string{"category", r.Category},
	); err != nil {
		return ledger.TraceItem{}, err
	}
	if r.ProductionDate == nil || r.ExpiryDate == nil {
		return ledger.TraceItem{}, fmt.Errorf("%w: production_date and expiry_date required", ErrInvalid)
	}
	if *r.ProductionDate < 0 || *r.ExpiryDate < *r.ProductionDate {
		return ledger.TraceItem{}, fmt.Errorf("%w: expiry_date must not precede production_date", ErrInvalid)
	}
	return ledger.TraceItem{
		ItemID:         r.ItemID,
		Name:           r.Name,
		Specification:  r.Specification,
		Manufacturer:   r.Manufacturer,
		BatchNumber:    r.BatchNumber,
		ProductionDate: *r.ProductionDate,
		ExpiryDate:     *r.ExpiryDate,
		Category:       r.Category,
	}, nil
}

func validAddress(field, addr string) error {
	if !common.IsHexAddress(addr) {
		return fmt.Errorf("%w: %s is not a valid address", ErrInvalid, field)
	}
	return nil
}
