package ledger

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/hms/hms/internal/integrity"
)

// LocalChainID is reported as the network id of the local chain.
const LocalChainID int64 = 1337

var ErrChainCorrupt = errors.New("local chain corrupt")

// Block is one entry of the local chain. Every write produces exactly one
// block holding one encoded contract call.
type Block struct {
	Height    int64  `json:"height"`
	PrevHash  string `json:"prev_hash"`
	Hash      string `json:"hash"`
	TxHash    string `json:"tx_hash"`
	Contract  string `json:"contract"`
	Method    string `json:"method"`
	Calldata  string `json:"calldata"`
	Timestamp int64  `json:"timestamp"`
}

const (
	keyHeight   = "meta:height"
	blockPrefix = "block:"
	txPrefix    = "tx:"
)

func blockKey(height int64) []byte { return []byte(fmt.Sprintf("%s%012d", blockPrefix, height)) }
func txKey(hash string) []byte     { return []byte(txPrefix + strings.ToLower(hash)) }

// LocalChain is an append-only, hash-linked ledger kept in LevelDB. Blocks
// are numbered from 1; writes are confirmed immediately.
type LocalChain struct {
	mu        sync.Mutex
	db        *leveldb.DB
	contracts *Contracts
	logger    zerolog.Logger
	now       func() time.Time
}

// OpenLocalChain opens (or creates) the chain stored under dir.
func OpenLocalChain(dir string, contracts *Contracts, logger zerolog.Logger) (*LocalChain, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open local chain at %s: %w", dir, err)
	}
	logger.Info().Str("dir", dir).Msg("local chain opened")
	return NewLocalChain(db, contracts, logger), nil
}

func NewLocalChain(db *leveldb.DB, contracts *Contracts, logger zerolog.Logger) *LocalChain {
	return &LocalChain{db: db, contracts: contracts, logger: logger, now: time.Now}
}

func (l *LocalChain) Mode() string { return ModeLocal }

// Height returns the number of the latest block, 0 for an empty chain.
func (l *LocalChain) Height() (int64, error) {
	v, err := l.db.Get([]byte(keyHeight), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read chain height: %w", err)
	}
	return strconv.ParseInt(string(v), 10, 64)
}

// Block loads the block at height.
func (l *LocalChain) Block(height int64) (*Block, error) {
	raw, err := l.db.Get(blockKey(height), nil)
	if err != nil {
		return nil, fmt.Errorf("read block %d: %w", height, err)
	}
	var b Block
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("decode block %d: %w", height, err)
	}
	return &b, nil
}

func hashBlock(b *Block) string {
	var n [16]byte
	binary.BigEndian.PutUint64(n[:8], uint64(b.Height))
	binary.BigEndian.PutUint64(n[8:], uint64(b.Timestamp))
	return crypto.Keccak256Hash([]byte(b.PrevHash), []byte(b.TxHash), n[:]).Hex()
}

func hashTx(data []byte, height int64, prev string) string {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(height))
	return crypto.Keccak256Hash(data, n[:], []byte(prev)).Hex()
}

func (l *LocalChain) append(ctx context.Context, c call, err error) (string, error) {
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	height, err := l.Height()
	if err != nil {
		return "", err
	}
	prev := ""
	if height > 0 {
		tip, err := l.Block(height)
		if err != nil {
			return "", err
		}
		prev = tip.Hash
	}

	b := &Block{
		Height:    height + 1,
		PrevHash:  prev,
		Contract:  c.Contract,
		Method:    c.Method,
		Calldata:  hex.EncodeToString(c.Data),
		Timestamp: l.now().UnixNano(),
	}
	b.TxHash = hashTx(c.Data, b.Height, prev)
	b.Hash = hashBlock(b)

	raw, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("encode block: %w", err)
	}

	batch := new(leveldb.Batch)
	batch.Put(blockKey(b.Height), raw)
	batch.Put(txKey(b.TxHash), []byte(strconv.FormatInt(b.Height, 10)))
	batch.Put([]byte(keyHeight), []byte(strconv.FormatInt(b.Height, 10)))
	if err := l.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return "", fmt.Errorf("write block %d: %w", b.Height, err)
	}

	l.logger.Debug().Int64("height", b.Height).Str("tx_hash", b.TxHash).
		Str("method", c.Method).Msg("local block appended")
	return b.TxHash, nil
}

func (l *LocalChain) SubmitRecordHash(ctx context.Context, req integrity.AnchorRequest) (string, error) {
	c, err := l.contracts.createRecord(req)
	return l.append(ctx, c, err)
}

func (l *LocalChain) GrantAccess(ctx context.Context, req GrantRequest) (string, error) {
	c, err := l.contracts.grantAccess(req)
	return l.append(ctx, c, err)
}

func (l *LocalChain) RevokeAccess(ctx context.Context, grantID string) (string, error) {
	c, err := l.contracts.revokeAccess(grantID)
	return l.append(ctx, c, err)
}

func (l *LocalChain) CreateItem(ctx context.Context, item TraceItem) (string, error) {
	c, err := l.contracts.createItem(item)
	return l.append(ctx, c, err)
}

func (l *LocalChain) Receipt(ctx context.Context, txRef string) (*integrity.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", integrity.ErrLedgerUnavailable, err)
	}
	v, err := l.db.Get(txKey(txRef), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", txRef, integrity.ErrTxNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", integrity.ErrLedgerUnavailable, err)
	}
	height, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad tx index for %s", ErrChainCorrupt, txRef)
	}
	return &integrity.Receipt{TxRef: txRef, Confirmed: true, BlockNumber: height}, nil
}

func (l *LocalChain) Status(context.Context) (*Status, error) {
	height, err := l.Height()
	if err != nil {
		return &Status{Mode: ModeLocal, Connected: false}, nil
	}
	id := LocalChainID
	return &Status{Mode: ModeLocal, Connected: true, LatestBlock: &height, NetworkID: &id}, nil
}

// VerifyChain walks every block and checks its hash and its link to the
// previous block. It returns the number of blocks checked.
func (l *LocalChain) VerifyChain(ctx context.Context) (int64, error) {
	height, err := l.Height()
	if err != nil {
		return 0, err
	}

	prev := ""
	for h := int64(1); h <= height; h++ {
		if err := ctx.Err(); err != nil {
			return h - 1, err
		}
		b, err := l.Block(h)
		if err != nil {
			return h - 1, fmt.Errorf("%w: %v", ErrChainCorrupt, err)
		}
		if b.Height != h {
			return h - 1, fmt.Errorf("%w: block %d records height %d", ErrChainCorrupt, h, b.Height)
		}
		if b.PrevHash != prev {
			return h - 1, fmt.Errorf("%w: block %d does not link to block %d", ErrChainCorrupt, h, h-1)
		}
		data, err := hex.DecodeString(b.Calldata)
		if err != nil {
			return h - 1, fmt.Errorf("%w: block %d calldata: %v", ErrChainCorrupt, h, err)
		}
		if hashTx(data, b.Height, b.PrevHash) != b.TxHash {
			return h - 1, fmt.Errorf("%w: block %d tx hash mismatch", ErrChainCorrupt, h)
		}
		if hashBlock(b) != b.Hash {
			return h - 1, fmt.Errorf("%w: block %d hash mismatch", ErrChainCorrupt, h)
		}
		prev = b.Hash
	}
	return height, nil
}

func (l *LocalChain) Close() error {
	return l.db.Close()
}
