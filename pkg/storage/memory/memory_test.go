package memory

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/stratusevm/stratus/pkg/chain"
	"github.com/stratusevm/stratus/pkg/storage"
)

var (
	aliceKey, _ = crypto.HexToECDSA("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	alice       = crypto.PubkeyToAddress(aliceKey.PublicKey)
	bob         = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

func signedTransfer(t *testing.T, nonce uint64) *types.Transaction {
	t.Helper()
	tx, err := types.SignNewTx(aliceKey, chain.Signer, &types.LegacyTx{
		Nonce:    nonce,
		To:       &bob,
		Value:    big.NewInt(0),
		Gas:      chain.MaxGasPerTransaction,
		GasPrice: big.NewInt(0),
	})
	require.NoError(t, err)
	return tx
}

// emptyBlock builds a block with no transactions on top of the given parent.
func emptyBlock(number uint64, parentHash common.Hash) *chain.Block {
	return &chain.Block{Header: chain.NewHeader(number, parentHash, 1700000000+number, nil)}
}

// transferBlock builds a single-transfer block carrying the matching signer
// account version.
func transferBlock(t *testing.T, number uint64, parentHash common.Hash, nonce uint64, logs []*chain.MinedLog) *chain.Block {
	t.Helper()
	mined := &chain.MinedTransaction{
		Tx:          signedTransfer(t, nonce),
		From:        alice,
		Index:       0,
		BlockNumber: number,
		Status:      types.ReceiptStatusSuccessful,
		GasUsed:     21000,
		Logs:        logs,
	}
	for _, l := range logs {
		l.TransactionHash = mined.Hash()
		l.BlockNumber = number
	}
	header := chain.NewHeader(number, parentHash, 1700000000+number, []*chain.MinedTransaction{mined})
	mined.BlockHash = header.Hash()
	for _, l := range logs {
		l.BlockHash = header.Hash()
	}
	return &chain.Block{
		Header:       header,
		Transactions: []*chain.MinedTransaction{mined},
		Accounts: []*chain.Account{
			{Address: alice, Nonce: nonce + 1, Balance: big.NewInt(1000), BlockNumber: number},
		},
	}
}

func TestCommitRequiresGenesisFirst(t *testing.T) {
	store := New()
	ctx := context.Background()

	err := store.CommitBlock(ctx, emptyBlock(1, common.Hash{}))
	var integrity *storage.IntegrityError
	require.ErrorAs(t, err, &integrity)

	require.NoError(t, store.CommitBlock(ctx, emptyBlock(0, common.Hash{})))
	head, hasHead, err := store.Head(ctx)
	require.NoError(t, err)
	require.True(t, hasHead)
	require.Equal(t, uint64(0), head)
}

func TestCommitMonotonicity(t *testing.T) {
	store := New()
	ctx := context.Background()

	genesis := emptyBlock(0, common.Hash{})
	require.NoError(t, store.CommitBlock(ctx, genesis))

	// a gap is a conflict, the caller rebuilds and retries
	err := store.CommitBlock(ctx, emptyBlock(2, genesis.Hash()))
	require.ErrorIs(t, err, storage.ErrConflict)

	require.NoError(t, store.CommitBlock(ctx, emptyBlock(1, genesis.Hash())))

	// the taken number conflicts as well
	err = store.CommitBlock(ctx, emptyBlock(1, genesis.Hash()))
	require.ErrorIs(t, err, storage.ErrConflict)
}

func TestCommitRejectsWrongRoot(t *testing.T) {
	store := New()
	ctx := context.Background()
	genesis := emptyBlock(0, common.Hash{})
	require.NoError(t, store.CommitBlock(ctx, genesis))

	// header derived without the transaction it claims to carry
	header := chain.NewHeader(1, genesis.Hash(), 1700000001, nil)
	mined := &chain.MinedTransaction{
		Tx:          signedTransfer(t, 0),
		From:        alice,
		BlockNumber: 1,
		BlockHash:   header.Hash(),
		Status:      types.ReceiptStatusSuccessful,
		GasUsed:     21000,
	}
	block := &chain.Block{Header: header, Transactions: []*chain.MinedTransaction{mined}}

	var integrity *storage.IntegrityError
	require.ErrorAs(t, store.CommitBlock(ctx, block), &integrity)
	require.Equal(t, "tx-root", integrity.Check)
}

func TestCommitRejectsWrongSignerNonce(t *testing.T) {
	store := New()
	ctx := context.Background()
	genesis := emptyBlock(0, common.Hash{})
	require.NoError(t, store.CommitBlock(ctx, genesis))

	block := transferBlock(t, 1, genesis.Hash(), 0, nil)
	block.Accounts[0].Nonce = 5

	var integrity *storage.IntegrityError
	require.ErrorAs(t, store.CommitBlock(ctx, block), &integrity)
	require.Equal(t, "nonce", integrity.Check)
}

func TestPointInTimeReads(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.SaveAccounts(ctx, []*chain.Account{
		{Address: alice, Nonce: 0, Balance: big.NewInt(100)},
	}))

	genesis := emptyBlock(0, common.Hash{})
	require.NoError(t, store.CommitBlock(ctx, genesis))

	one := emptyBlock(1, genesis.Hash())
	one.Accounts = []*chain.Account{{Address: alice, Nonce: 1, Balance: big.NewInt(50), BlockNumber: 1}}
	one.Slots = []*chain.SlotVersion{{Address: alice, Index: common.HexToHash("0x01"), Value: common.HexToHash("0xff"), BlockNumber: 1}}
	require.NoError(t, store.CommitBlock(ctx, one))

	at0, err := store.ReadAccount(ctx, alice, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(0), at0.Nonce)
	require.Equal(t, big.NewInt(100), at0.Balance)

	at1, err := store.ReadAccount(ctx, alice, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), at1.Nonce)

	// beyond the head the latest version remains visible
	at9, err := store.ReadAccount(ctx, alice, 9)
	require.NoError(t, err)
	require.Equal(t, uint64(1), at9.Nonce)

	// unknown addresses read as empty accounts
	empty, err := store.ReadAccount(ctx, bob, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(0), empty.Nonce)
	require.Equal(t, 0, empty.Balance.Sign())

	slot0, err := store.ReadSlot(ctx, alice, common.HexToHash("0x01"), 0)
	require.NoError(t, err)
	require.Equal(t, common.Hash{}, slot0)

	slot1, err := store.ReadSlot(ctx, alice, common.HexToHash("0x01"), 1)
	require.NoError(t, err)
	require.Equal(t, common.HexToHash("0xff"), slot1)
}

func TestSnapshotIsolation(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.SaveAccounts(ctx, []*chain.Account{
		{Address: alice, Nonce: 0, Balance: big.NewInt(100)},
	}))
	genesis := emptyBlock(0, common.Hash{})
	require.NoError(t, store.CommitBlock(ctx, genesis))

	snapshot := storage.NewSnapshot(ctx, store, 0)
	before, err := snapshot.Account(alice)
	require.NoError(t, err)

	one := emptyBlock(1, genesis.Hash())
	one.Accounts = []*chain.Account{{Address: alice, Nonce: 7, Balance: big.NewInt(1), BlockNumber: 1}}
	require.NoError(t, store.CommitBlock(ctx, one))

	after, err := snapshot.Account(alice)
	require.NoError(t, err)
	require.Equal(t, before.Nonce, after.Nonce)
	require.Equal(t, before.Balance, after.Balance)
}

func TestReadBlockSelections(t *testing.T) {
	store := New()
	ctx := context.Background()

	genesis := emptyBlock(0, common.Hash{})
	require.NoError(t, store.CommitBlock(ctx, genesis))
	one := transferBlock(t, 1, genesis.Hash(), 0, nil)
	require.NoError(t, store.CommitBlock(ctx, one))

	latest, err := store.ReadBlock(ctx, storage.SelectLatest())
	require.NoError(t, err)
	require.Equal(t, uint64(1), latest.Number())

	earliest, err := store.ReadBlock(ctx, storage.SelectEarliest())
	require.NoError(t, err)
	require.Equal(t, uint64(0), earliest.Number())

	byNumber, err := store.ReadBlock(ctx, storage.SelectNumber(1))
	require.NoError(t, err)
	require.Equal(t, one.Hash(), byNumber.Hash())

	byHash, err := store.ReadBlock(ctx, storage.SelectHash(genesis.Hash()))
	require.NoError(t, err)
	require.Equal(t, uint64(0), byHash.Number())

	missing, err := store.ReadBlock(ctx, storage.SelectNumber(9))
	require.NoError(t, err)
	require.Nil(t, missing)

	mined, err := store.ReadTransaction(ctx, one.Transactions[0].Hash())
	require.NoError(t, err)
	require.Equal(t, uint64(1), mined.BlockNumber)
	require.Equal(t, one.Hash(), mined.BlockHash)
}

func TestReadLogsFilter(t *testing.T) {
	store := New()
	ctx := context.Background()

	contract := common.HexToAddress("0x3333333333333333333333333333333333333333")
	topicAdd := common.HexToHash("0xaa")
	topicSub := common.HexToHash("0xbb")

	genesis := emptyBlock(0, common.Hash{})
	require.NoError(t, store.CommitBlock(ctx, genesis))

	one := transferBlock(t, 1, genesis.Hash(), 0, []*chain.MinedLog{
		{Address: contract, Topics: []common.Hash{topicAdd}, LogIndex: 0},
		{Address: contract, Topics: []common.Hash{topicAdd}, LogIndex: 1},
	})
	require.NoError(t, store.CommitBlock(ctx, one))

	two := transferBlock(t, 2, one.Hash(), 1, []*chain.MinedLog{
		{Address: contract, Topics: []common.Hash{topicSub}, LogIndex: 0},
	})
	require.NoError(t, store.CommitBlock(ctx, two))

	all, err := store.ReadLogs(ctx, &chain.LogFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	fromTwo, err := store.ReadLogs(ctx, &chain.LogFilter{FromBlock: 2})
	require.NoError(t, err)
	require.Len(t, fromTwo, 1)

	to := uint64(1)
	bounded, err := store.ReadLogs(ctx, &chain.LogFilter{ToBlock: &to})
	require.NoError(t, err)
	require.Len(t, bounded, 2)

	adds, err := store.ReadLogs(ctx, &chain.LogFilter{Topics: [][]common.Hash{{topicAdd}}})
	require.NoError(t, err)
	require.Len(t, adds, 2)

	subs, err := store.ReadLogs(ctx, &chain.LogFilter{Topics: [][]common.Hash{{topicSub}}})
	require.NoError(t, err)
	require.Len(t, subs, 1)
}

func TestResetAt(t *testing.T) {
	store := New()
	ctx := context.Background()

	genesis := emptyBlock(0, common.Hash{})
	require.NoError(t, store.CommitBlock(ctx, genesis))
	one := transferBlock(t, 1, genesis.Hash(), 0, nil)
	require.NoError(t, store.CommitBlock(ctx, one))

	require.NoError(t, store.ResetAt(ctx, 0))

	head, hasHead, err := store.Head(ctx)
	require.NoError(t, err)
	require.True(t, hasHead)
	require.Equal(t, uint64(0), head)

	mined, err := store.ReadTransaction(ctx, one.Transactions[0].Hash())
	require.NoError(t, err)
	require.Nil(t, mined)

	account, err := store.ReadAccount(ctx, alice, 5)
	require.NoError(t, err)
	require.Equal(t, uint64(0), account.Nonce)

	// the freed number can be committed again
	require.NoError(t, store.CommitBlock(ctx, transferBlock(t, 1, genesis.Hash(), 0, nil)))
}
