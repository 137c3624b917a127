package miner

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/stratusevm/stratus/pkg/chain"
	"github.com/stratusevm/stratus/pkg/executor"
	"github.com/stratusevm/stratus/pkg/storage"
	"github.com/stratusevm/stratus/pkg/storage/memory"
)

var (
	aliceKey, _ = crypto.HexToECDSA("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	alice       = crypto.PubkeyToAddress(aliceKey.PublicKey)
	bob         = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

func newTestMiner(t *testing.T, config Config) (*Miner, *memory.Store) {
	t.Helper()
	store := memory.New()
	config.EnableGenesis = true
	config.EnableTestAccounts = true
	m := New(store, executor.New(), config)
	require.NoError(t, m.EnsureGenesis(context.Background()))
	return m, store
}

func transfer(t *testing.T, nonce uint64, value int64) *types.Transaction {
	t.Helper()
	tx, err := types.SignNewTx(aliceKey, chain.Signer, &types.LegacyTx{
		Nonce:    nonce,
		To:       &bob,
		Value:    big.NewInt(value),
		Gas:      chain.MaxGasPerTransaction,
		GasPrice: big.NewInt(0),
	})
	require.NoError(t, err)
	return tx
}

func TestGenesisBlock(t *testing.T) {
	_, store := newTestMiner(t, Config{})
	ctx := context.Background()

	head, hasHead, err := store.Head(ctx)
	require.NoError(t, err)
	require.True(t, hasHead)
	require.Equal(t, uint64(0), head)

	genesis, err := store.ReadBlock(ctx, storage.SelectEarliest())
	require.NoError(t, err)
	require.Empty(t, genesis.Transactions)
	require.Equal(t, chain.EmptyTransactionsRoot, genesis.Header.TxHash)
	require.Equal(t, chain.EmptyUncleHash, genesis.Header.UncleHash)

	// funded dev accounts are live at height 0
	account, err := store.ReadAccount(ctx, alice, 0)
	require.NoError(t, err)
	require.Equal(t, chain.TestAccountBalance, account.Balance)
}

func TestGenesisIsIdempotent(t *testing.T) {
	m, store := newTestMiner(t, Config{})
	ctx := context.Background()

	require.NoError(t, m.EnsureGenesis(ctx))
	head, _, err := store.Head(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(0), head)
}

func TestMineTransferBlock(t *testing.T) {
	m, store := newTestMiner(t, Config{})
	ctx := context.Background()

	tx := transfer(t, 0, 100)
	hash, err := m.SendTransaction(ctx, tx)
	require.NoError(t, err)
	require.Equal(t, tx.Hash(), hash)
	require.Equal(t, 1, m.PendingCount())

	require.NoError(t, m.Mine(ctx))
	require.Equal(t, 0, m.PendingCount())

	head, _, err := store.Head(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), head)

	block, err := store.ReadBlock(ctx, storage.SelectLatest())
	require.NoError(t, err)
	require.Len(t, block.Transactions, 1)

	mined := block.Transactions[0]
	require.Equal(t, tx.Hash(), mined.Hash())
	require.Equal(t, uint64(0), mined.Index)
	require.Equal(t, block.Hash(), mined.BlockHash)
	require.Equal(t, block.Number(), mined.BlockNumber)
	require.Equal(t, types.ReceiptStatusSuccessful, mined.Status)

	// sender nonce advanced, receiver nonce untouched
	sender, err := store.ReadAccount(ctx, alice, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), sender.Nonce)
	receiver, err := store.ReadAccount(ctx, bob, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(0), receiver.Nonce)
	require.Equal(t, big.NewInt(100), receiver.Balance)

	// genesis state is untouched at height 0
	before, err := store.ReadAccount(ctx, bob, 0)
	require.NoError(t, err)
	require.Equal(t, 0, before.Balance.Sign())
}

func TestMineEmptyTickMinesNothing(t *testing.T) {
	m, store := newTestMiner(t, Config{})
	ctx := context.Background()

	require.NoError(t, m.Mine(ctx))
	head, _, err := store.Head(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(0), head)
}

func TestSequentialTransactionsShareOneBlock(t *testing.T) {
	m, store := newTestMiner(t, Config{})
	ctx := context.Background()

	// the second transfer's nonce is only valid against the pending overlay
	_, err := m.SendTransaction(ctx, transfer(t, 0, 1))
	require.NoError(t, err)
	_, err = m.SendTransaction(ctx, transfer(t, 1, 2))
	require.NoError(t, err)

	require.NoError(t, m.Mine(ctx))

	block, err := store.ReadBlock(ctx, storage.SelectLatest())
	require.NoError(t, err)
	require.Len(t, block.Transactions, 2)
	require.Equal(t, uint64(0), block.Transactions[0].Index)
	require.Equal(t, uint64(1), block.Transactions[1].Index)

	sender, err := store.ReadAccount(ctx, alice, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(2), sender.Nonce)
	receiver, err := store.ReadAccount(ctx, bob, 1)
	require.NoError(t, err)
	require.Equal(t, new(big.Int).Add(chain.TestAccountBalance, big.NewInt(3)), receiver.Balance)
}

func TestDuplicateSubmissionReturnsPriorHash(t *testing.T) {
	m, _ := newTestMiner(t, Config{})
	ctx := context.Background()

	tx := transfer(t, 0, 1)
	first, err := m.SendTransaction(ctx, tx)
	require.NoError(t, err)
	second, err := m.SendTransaction(ctx, tx)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, m.PendingCount())

	// still deduplicated after mining
	require.NoError(t, m.Mine(ctx))
	third, err := m.SendTransaction(ctx, tx)
	require.NoError(t, err)
	require.Equal(t, first, third)
	require.Equal(t, 0, m.PendingCount())
}

func TestPendingBound(t *testing.T) {
	m, _ := newTestMiner(t, Config{PendingBound: 1})
	ctx := context.Background()

	_, err := m.SendTransaction(ctx, transfer(t, 0, 1))
	require.NoError(t, err)

	_, err = m.SendTransaction(ctx, transfer(t, 1, 1))
	require.ErrorIs(t, err, ErrPoolFull)
}

func TestAdmissionRejectsBadNonce(t *testing.T) {
	m, _ := newTestMiner(t, Config{})
	ctx := context.Background()

	_, err := m.SendTransaction(ctx, transfer(t, 7, 1))
	var admission *executor.AdmissionError
	require.ErrorAs(t, err, &admission)
	require.Equal(t, 0, m.PendingCount())
}

func TestPauseStopsProduction(t *testing.T) {
	m, _ := newTestMiner(t, Config{})
	require.False(t, m.Paused())
	m.Pause()
	require.True(t, m.Paused())
	m.Resume()
	require.False(t, m.Paused())
}
