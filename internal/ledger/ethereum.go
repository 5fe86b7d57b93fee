package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hms/hms/internal/integrity"
)

// ethBackend is the part of *ethclient.Client the ledger uses.
type ethBackend interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	Close()
}

var gasLimits = map[string]uint64{
	"createRecord": 200000,
	"grantAccess":  200000,
	"revokeAccess": 100000,
	"createItem":   300000,
}

// Ethereum reads receipts and chain state from a JSON-RPC node. Writes are
// priced and built against the node but not signed or sent; they return
// SimulatedTxHash.
type Ethereum struct {
	backend   ethBackend
	contracts *Contracts
	addresses map[string]common.Address
	from      common.Address
	logger    zerolog.Logger
}

// DialEthereum connects to the node at rpcURL. addresses maps contract
// names to deployed addresses; writes to a contract without an address fail.
func DialEthereum(ctx context.Context, rpcURL string, contracts *Contracts, addresses map[string]string, from string, logger zerolog.Logger) (*Ethereum, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial ethereum node %s: %w", rpcURL, err)
	}
	return newEthereum(client, contracts, addresses, from, logger), nil
}

func newEthereum(backend ethBackend, contracts *Contracts, addresses map[string]string, from string, logger zerolog.Logger) *Ethereum {
	addrs := make(map[string]common.Address, len(addresses))
	for name, a := range addresses {
		if common.IsHexAddress(a) {
			addrs[name] = common.HexToAddress(a)
		}
	}
	return &Ethereum{
		backend:   backend,
		contracts: contracts,
		addresses: addrs,
		from:      common.HexToAddress(from),
		logger:    logger,
	}
}

func (e *Ethereum) Mode() string { return ModeEthereum }

func (e *Ethereum) submit(ctx context.Context, c call, err error) (string, error) {
	if err != nil {
		return "", err
	}
	to, ok := e.addresses[c.Contract]
	if !ok {
		return "", fmt.Errorf("%s contract not available", c.Contract)
	}

	gasPrice, err := e.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: suggest gas price: %v", integrity.ErrLedgerUnavailable, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		To:       &to,
		Gas:      gasLimits[c.Method],
		GasPrice: gasPrice,
		Data:     c.Data,
	})
	e.logger.Info().
		Str("contract", c.Contract).
		Str("method", c.Method).
		Str("to", to.Hex()).
		Str("from", e.from.Hex()).
		Uint64("gas", tx.Gas()).
		Str("gas_price", gasPrice.String()).
		Msg("contract call built, not broadcast")
	return SimulatedTxHash, nil
}

func (e *Ethereum) SubmitRecordHash(ctx context.Context, req integrity.AnchorRequest) (string, error) {
	c, err := e.contracts.createRecord(req)
	return e.submit(ctx, c, err)
}

func (e *Ethereum) GrantAccess(ctx context.Context, req GrantRequest) (string, error) {
	c, err := e.contracts.grantAccess(req)
	return e.submit(ctx, c, err)
}

func (e *Ethereum) RevokeAccess(ctx context.Context, grantID string) (string, error) {
	c, err := e.contracts.revokeAccess(grantID)
	return e.submit(ctx, c, err)
}

func (e *Ethereum) CreateItem(ctx context.Context, item TraceItem) (string, error) {
	c, err := e.contracts.createItem(item)
	return e.submit(ctx, c, err)
}

// isTxHash reports whether s is 0x followed by 64 hex digits.
func isTxHash(s string) bool {
	if len(s) != 66 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, r := range s[2:] {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}

func (e *Ethereum) Receipt(ctx context.Context, txRef string) (*integrity.Receipt, error) {
	if txRef == SimulatedTxHash || !isTxHash(txRef) {
		return nil, fmt.Errorf("%s: %w", txRef, integrity.ErrTxNotFound)
	}

	r, err := e.backend.TransactionReceipt(ctx, common.HexToHash(txRef))
	if errors.Is(err, ethereum.NotFound) {
		return nil, fmt.Errorf("%s: %w", txRef, integrity.ErrTxNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", integrity.ErrLedgerUnavailable, err)
	}

	rcpt := &integrity.Receipt{TxRef: txRef, Confirmed: r.Status == types.ReceiptStatusSuccessful}
	if r.BlockNumber != nil {
		rcpt.BlockNumber = r.BlockNumber.Int64()
	} else {
		rcpt.Confirmed = false
	}
	return rcpt, nil
}

// Status queries the latest block and chain id concurrently. An unreachable
// node yields Connected=false rather than an error.
func (e *Ethereum) Status(ctx context.Context) (*Status, error) {
	var (
		latest  uint64
		chainID *big.Int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := e.backend.BlockNumber(gctx)
		latest = n
		return err
	})
	g.Go(func() error {
		id, err := e.backend.ChainID(gctx)
		chainID = id
		return err
	})
	if err := g.Wait(); err != nil {
		e.logger.Warn().Err(err).Msg("ethereum node unreachable")
		return &Status{Mode: ModeEthereum, Connected: false}, nil
	}

	block := int64(latest)
	id := chainID.Int64()
	return &Status{Mode: ModeEthereum, Connected: true, LatestBlock: &block, NetworkID: &id}, nil
}

func (e *Ethereum) Close() error {
	e.backend.Close()
	return nil
}
