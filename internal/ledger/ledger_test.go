package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/hms/hms/internal/integrity"
)

func testContracts(t *testing.T) *Contracts {
	t.Helper()
	c, err := LoadContracts(nil)
	require.NoError(t, err)
	return c
}

func anchorRequest() integrity.AnchorRequest {
	return integrity.AnchorRequest{
		RecordID:    uuid.New(),
		PatientID:   uuid.New(),
		DoctorID:    uuid.New(),
		RecordType:  "EMR",
		Fingerprint: integrity.Fingerprint(integrity.ClinicalFields{Title: "Flu", Content: "Patient has flu"}),
	}
}

const grantee = "0x71C7656EC7ab88b098defB751B7401B5f6d8976F"

// -- Contracts --

func TestLoadContracts_Defaults(t *testing.T) {
	c := testContracts(t)
	assert.Contains(t, c.MedicalRecord.Methods, "createRecord")
	assert.Contains(t, c.AccessControl.Methods, "grantAccess")
	assert.Contains(t, c.AccessControl.Methods, "revokeAccess")
	assert.Contains(t, c.DrugTrace.Methods, "createItem")
}

func TestLoadContracts_OverrideMissingMethod(t *testing.T) {
	_, err := LoadContracts(map[string]string{
		ContractMedicalRecord: `[{"type":"function","name":"somethingElse","inputs":[],"outputs":[]}]`,
	})
	assert.Error(t, err)
}

func TestLoadContracts_InvalidJSON(t *testing.T) {
	_, err := LoadContracts(map[string]string{ContractDrugTrace: `not json`})
	assert.Error(t, err)
}

func TestLoadContracts_IgnoresUnknownNames(t *testing.T) {
	_, err := LoadContracts(map[string]string{"Unrelated": `garbage`})
	assert.NoError(t, err)
}

func TestCreateRecordCalldataRoundTrip(t *testing.T) {
	c := testContracts(t)
	req := anchorRequest()

	encoded, err := c.createRecord(req)
	require.NoError(t, err)

	method := c.MedicalRecord.Methods["createRecord"]
	assert.Equal(t, method.ID, encoded.Data[:4])

	args, err := method.Inputs.Unpack(encoded.Data[4:])
	require.NoError(t, err)
	require.Len(t, args, 5)
	assert.Equal(t, req.RecordID.String(), args[0])
	assert.Equal(t, req.Fingerprint, args[4])
}

func TestGrantAccess_RejectsBadAddress(t *testing.T) {
	c := testContracts(t)
	_, err := c.grantAccess(GrantRequest{GrantID: "g1", Grantee: "not-an-address", DataID: "d", DataType: "EMR"})
	assert.Error(t, err)
}

func TestGrantAccess_DefaultDuration(t *testing.T) {
	c := testContracts(t)
	encoded, err := c.grantAccess(GrantRequest{GrantID: "g1", Grantee: grantee, DataID: "d", DataType: "EMR"})
	require.NoError(t, err)

	args, err := c.AccessControl.Methods["grantAccess"].Inputs.Unpack(encoded.Data[4:])
	require.NoError(t, err)
	duration, ok := args[4].(*big.Int)
	require.True(t, ok)
	assert.Equal(t, int64(86400), duration.Int64())
}

// -- Simulator --

func TestSimulator_WritesReturnZeroHash(t *testing.T) {
	sim := NewSimulator(testContracts(t), zerolog.Nop())
	ctx := context.Background()

	tx, err := sim.SubmitRecordHash(ctx, anchorRequest())
	require.NoError(t, err)
	assert.Equal(t, "0x0000000000000000000000000000000000000000000000000000000000000000", tx)

	tx, err = sim.GrantAccess(ctx, GrantRequest{GrantID: "g1", Grantee: grantee, DataID: "d1", DataType: "EMR"})
	require.NoError(t, err)
	assert.Equal(t, SimulatedTxHash, tx)

	tx, err = sim.RevokeAccess(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, SimulatedTxHash, tx)

	tx, err = sim.CreateItem(ctx, TraceItem{ItemID: "i1", Name: "Aspirin", ProductionDate: 1700000000, ExpiryDate: 1800000000})
	require.NoError(t, err)
	assert.Equal(t, SimulatedTxHash, tx)
}

func TestSimulator_NeverConfirms(t *testing.T) {
	sim := NewSimulator(testContracts(t), zerolog.Nop())
	_, err := sim.Receipt(context.Background(), SimulatedTxHash)
	assert.ErrorIs(t, err, integrity.ErrTxNotFound)

	st, err := sim.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Connected)
	assert.Equal(t, ModeSimulator, st.Mode)
}

func TestSimulator_CancelledContext(t *testing.T) {
	sim := NewSimulator(testContracts(t), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sim.SubmitRecordHash(ctx, anchorRequest())
	assert.Error(t, err)
}

// -- Local chain --

func newMemChain(t *testing.T) *LocalChain {
	t.Helper()
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	require.NoError(t, err)
	chain := NewLocalChain(db, testContracts(t), zerolog.Nop())
	t.Cleanup(func() { chain.Close() })
	return chain
}

func TestLocalChain_AnchorIsConfirmed(t *testing.T) {
	chain := newMemChain(t)
	ctx := context.Background()

	tx, err := chain.SubmitRecordHash(ctx, anchorRequest())
	require.NoError(t, err)
	assert.True(t, isTxHash(tx))
	assert.NotEqual(t, SimulatedTxHash, tx)

	rcpt, err := chain.Receipt(ctx, tx)
	require.NoError(t, err)
	assert.True(t, rcpt.Confirmed)
	assert.Equal(t, int64(1), rcpt.BlockNumber)
}

func TestLocalChain_UnknownTx(t *testing.T) {
	chain := newMemChain(t)
	_, err := chain.Receipt(context.Background(), SimulatedTxHash)
	assert.ErrorIs(t, err, integrity.ErrTxNotFound)
}

func TestLocalChain_BlocksAreLinked(t *testing.T) {
	chain := newMemChain(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := chain.SubmitRecordHash(ctx, anchorRequest())
		require.NoError(t, err)
	}
	_, err := chain.GrantAccess(ctx, GrantRequest{GrantID: "g", Grantee: grantee, DataID: "d", DataType: "EMR"})
	require.NoError(t, err)

	height, err := chain.Height()
	require.NoError(t, err)
	assert.Equal(t, int64(4), height)

	first, err := chain.Block(1)
	require.NoError(t, err)
	second, err := chain.Block(2)
	require.NoError(t, err)
	assert.Equal(t, "", first.PrevHash)
	assert.Equal(t, first.Hash, second.PrevHash)

	checked, err := chain.VerifyChain(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), checked)

	st, err := chain.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Connected)
	assert.Equal(t, int64(4), *st.LatestBlock)
	assert.Equal(t, LocalChainID, *st.NetworkID)
}

func TestLocalChain_DetectsTampering(t *testing.T) {
	chain := newMemChain(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := chain.SubmitRecordHash(ctx, anchorRequest())
		require.NoError(t, err)
	}

	b, err := chain.Block(2)
	require.NoError(t, err)
	b.Calldata = b.Calldata[:len(b.Calldata)-2] + "ff"
	raw, err := json.Marshal(b)
	require.NoError(t, err)
	require.NoError(t, chain.db.Put(blockKey(2), raw, nil))

	checked, err := chain.VerifyChain(ctx)
	assert.ErrorIs(t, err, ErrChainCorrupt)
	assert.Equal(t, int64(1), checked)
}

func TestLocalChain_ConcurrentAppends(t *testing.T) {
	chain := newMemChain(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := chain.SubmitRecordHash(ctx, anchorRequest())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	checked, err := chain.VerifyChain(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), checked)
}

// -- Ethereum --

type fakeEth struct {
	receipts map[common.Hash]*types.Receipt
	err      error
	gasErr   error
	closed   bool
}

func (f *fakeEth) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.receipts[h]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeEth) BlockNumber(context.Context) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return 12345, nil
}

func (f *fakeEth) ChainID(context.Context) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return big.NewInt(31337), nil
}

func (f *fakeEth) SuggestGasPrice(context.Context) (*big.Int, error) {
	if f.gasErr != nil {
		return nil, f.gasErr
	}
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeEth) Close() { f.closed = true }

var testAddresses = map[string]string{
	ContractMedicalRecord: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
	ContractAccessControl: "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512",
}

const minedTx = "0x88df016429689c079f3b2f6ad39fa052532c56795b733da78a91ebe6a713944b"

func TestEthereum_ConfirmedReceipt(t *testing.T) {
	backend := &fakeEth{receipts: map[common.Hash]*types.Receipt{
		common.HexToHash(minedTx): {Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(12345)},
	}}
	eth := newEthereum(backend, testContracts(t), testAddresses, grantee, zerolog.Nop())

	rcpt, err := eth.Receipt(context.Background(), minedTx)
	require.NoError(t, err)
	assert.True(t, rcpt.Confirmed)
	assert.Equal(t, int64(12345), rcpt.BlockNumber)
}

func TestEthereum_FailedReceiptIsUnconfirmed(t *testing.T) {
	backend := &fakeEth{receipts: map[common.Hash]*types.Receipt{
		common.HexToHash(minedTx): {Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(5)},
	}}
	eth := newEthereum(backend, testContracts(t), testAddresses, grantee, zerolog.Nop())

	rcpt, err := eth.Receipt(context.Background(), minedTx)
	require.NoError(t, err)
	assert.False(t, rcpt.Confirmed)
}

func TestEthereum_ReceiptErrors(t *testing.T) {
	eth := newEthereum(&fakeEth{receipts: map[common.Hash]*types.Receipt{}}, testContracts(t), testAddresses, grantee, zerolog.Nop())

	_, err := eth.Receipt(context.Background(), minedTx)
	assert.ErrorIs(t, err, integrity.ErrTxNotFound)

	_, err = eth.Receipt(context.Background(), SimulatedTxHash)
	assert.ErrorIs(t, err, integrity.ErrTxNotFound)

	_, err = eth.Receipt(context.Background(), "0x1234")
	assert.ErrorIs(t, err, integrity.ErrTxNotFound)

	down := newEthereum(&fakeEth{err: errors.New("dial tcp: connection refused")}, testContracts(t), testAddresses, grantee, zerolog.Nop())
	_, err = down.Receipt(context.Background(), minedTx)
	assert.ErrorIs(t, err, integrity.ErrLedgerUnavailable)
}

func TestEthereum_Status(t *testing.T) {
	eth := newEthereum(&fakeEth{}, testContracts(t), testAddresses, grantee, zerolog.Nop())
	st, err := eth.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Connected)
	assert.Equal(t, int64(12345), *st.LatestBlock)
	assert.Equal(t, int64(31337), *st.NetworkID)

	down := newEthereum(&fakeEth{err: errors.New("timeout")}, testContracts(t), testAddresses, grantee, zerolog.Nop())
	st, err = down.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Connected)
	assert.Nil(t, st.LatestBlock)
}

func TestEthereum_Writes(t *testing.T) {
	eth := newEthereum(&fakeEth{}, testContracts(t), testAddresses, grantee, zerolog.Nop())

	tx, err := eth.SubmitRecordHash(context.Background(), anchorRequest())
	require.NoError(t, err)
	assert.Equal(t, SimulatedTxHash, tx)

	_, err = eth.CreateItem(context.Background(), TraceItem{ItemID: "i1"})
	assert.Error(t, err, "DrugTrace has no configured address")

	failing := newEthereum(&fakeEth{gasErr: errors.New("rpc down")}, testContracts(t), testAddresses, grantee, zerolog.Nop())
	_, err = failing.SubmitRecordHash(context.Background(), anchorRequest())
	assert.ErrorIs(t, err, integrity.ErrLedgerUnavailable)
}

func TestEthereum_Close(t *testing.T) {
	backend := &fakeEth{}
	eth := newEthereum(backend, testContracts(t), testAddresses, grantee, zerolog.Nop())
	require.NoError(t, eth.Close())
	assert.True(t, backend.closed)
}

// -- Open / Instrumented --

func TestOpen_Modes(t *testing.T) {
	l, err := Open(context.Background(), Options{Mode: ModeSimulator, Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, ModeSimulator, l.Mode())

	l, err = Open(context.Background(), Options{Mode: ModeLocal, DataDir: t.TempDir(), Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, ModeLocal, l.Mode())
	require.NoError(t, l.Close())

	_, err = Open(context.Background(), Options{Mode: "fabric"})
	assert.Error(t, err)
}

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (c *callLog) ObserveLedgerCall(op, outcome string, _ time.Duration) {
	c.mu.Lock()
	c.calls = append(c.calls, op+":"+outcome)
	c.mu.Unlock()
}

func TestInstrumented(t *testing.T) {
	obs := &callLog{}
	l := Instrument(NewSimulator(testContracts(t), zerolog.Nop()), obs)
	ctx := context.Background()

	_, _ = l.SubmitRecordHash(ctx, anchorRequest())
	_, _ = l.Receipt(ctx, SimulatedTxHash)
	_, _ = l.GrantAccess(ctx, GrantRequest{GrantID: "g", Grantee: "bad"})
	_, _ = l.Status(ctx)

	assert.Equal(t, []string{
		"submit_record_hash:ok",
		"receipt:not_found",
		"grant_access:error",
		"status:ok",
	}, obs.calls)
	assert.Equal(t, ModeSimulator, l.Mode())
}
