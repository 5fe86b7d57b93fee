// Package ledger provides the blockchain backends behind the integrity
// binding and the access-grant facade: a simulator that never broadcasts, a
// hash-chained local ledger on LevelDB and a read-through Ethereum client.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/integrity"
)

// SimulatedTxHash is returned by every write that is not actually broadcast.
var SimulatedTxHash = "0x" + strings.Repeat("0", 64)

const (
	ModeSimulator = "simulator"
	ModeLocal     = "local"
	ModeEthereum  = "ethereum"
)

// DefaultGrantDuration applies when a grant request omits a duration.
const DefaultGrantDuration = 24 * time.Hour

// Status describes the ledger connection.
type Status struct {
	Mode        string `json:"mode"`
	Connected   bool   `json:"connected"`
	LatestBlock *int64 `json:"latest_block"`
	NetworkID   *int64 `json:"network_id"`
}

// GrantRequest grants grantee access to one data item for Duration.
type GrantRequest struct {
	GrantID  string
	Grantee  string
	DataID   string
	DataType string
	Duration time.Duration
}

// TraceItem registers a traceable drug batch.
type TraceItem struct {
	ItemID         string
	Name           string
	Specification  string
	Manufacturer   string
	BatchNumber    string
	ProductionDate int64
	ExpiryDate     int64
	Category       string
}

// Ledger is the full set of operations the service needs from a chain.
type Ledger interface {
	integrity.LedgerReader
	integrity.LedgerWriter
	GrantAccess(ctx context.Context, req GrantRequest) (string, error)
	RevokeAccess(ctx context.Context, grantID string) (string, error)
	CreateItem(ctx context.Context, item TraceItem) (string, error)
	Status(ctx context.Context) (*Status, error)
	Mode() string
	Close() error
}

// Options configures Open.
type Options struct {
	Mode        string
	RPCURL      string
	DataDir     string
	FromAddress string
	// ContractABIs overrides the built-in ABI JSON by contract name.
	ContractABIs map[string]string
	// ContractAddresses maps contract names to deployed addresses.
	ContractAddresses map[string]string
	Logger            zerolog.Logger
}

// Open builds the ledger selected by opts.Mode.
func Open(ctx context.Context, opts Options) (Ledger, error) {
	contracts, err := LoadContracts(opts.ContractABIs)
	if err != nil {
		return nil, err
	}

	switch opts.Mode {
	case "", ModeSimulator:
		return NewSimulator(contracts, opts.Logger), nil
	case ModeLocal:
		chain, err := OpenLocalChain(opts.DataDir, contracts, opts.Logger)
		if err != nil {
			return nil, err
		}
		return chain, nil
	case ModeEthereum:
		eth, err := DialEthereum(ctx, opts.RPCURL, contracts, opts.ContractAddresses, opts.FromAddress, opts.Logger)
		if err != nil {
			return nil, err
		}
		return eth, nil
	default:
		return nil, fmt.Errorf("unknown ledger mode %q", opts.Mode)
	}
}
