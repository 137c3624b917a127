package pg

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/stratusevm/stratus/pkg/chain"
	"github.com/stratusevm/stratus/pkg/storage"
	"github.com/stratusevm/stratus/test"
)

func TestInsertStatements(t *testing.T) {
	require.Equal(t,
		"INSERT INTO blocks (number, hash, transactions_root, gas, logs_bloom, timestamp_in_secs, header) VALUES ($1, $2, $3, $4, $5, $6, $7) ",
		TableBlocks.ToInsertStatement(),
	)
	require.Equal(t,
		"INSERT INTO account_slots (idx, value, account_address, block_number) VALUES ($1, $2, $3, $4) ON CONFLICT (idx, account_address, block_number) DO NOTHING",
		TableAccountSlots.ToInsertStatement(),
	)

	for _, tbl := range []Table{TableBlocks, TableTransactions, TableLogs, TableTopics, TableAccounts, TableAccountSlots} {
		stmt := tbl.ToInsertStatement()
		require.True(t, strings.HasPrefix(stmt, "INSERT INTO "+tbl.Name+" ("))
		require.Equal(t, len(tbl.Columns), strings.Count(stmt, "$"))
	}
}

func TestSchemaNamesEveryInsertColumn(t *testing.T) {
	for _, tbl := range []Table{TableBlocks, TableTransactions, TableLogs, TableTopics, TableAccounts, TableAccountSlots} {
		for _, col := range tbl.Columns {
			require.Contains(t, Schema, col.name, "column %s of %s missing from DDL", col.name, tbl.Name)
		}
	}
}

func TestRoundtrip(t *testing.T) {
	test.NeedsDB(t)
	ctx := context.Background()

	store, err := New(ctx, Config{URI: test.DBConnectionString(), MaxOpen: 4})
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.ResetAt(ctx, 0))

	require.NoError(t, store.SaveAccounts(ctx, chain.TestAccounts()))

	genesis := &chain.Block{Header: chain.NewHeader(0, common.Hash{}, 1700000000, nil)}
	err = store.CommitBlock(ctx, genesis)
	if err != nil {
		require.ErrorIs(t, err, storage.ErrConflict) // pre-seeded database
	}

	head, hasHead, err := store.Head(ctx)
	require.NoError(t, err)
	require.True(t, hasHead)

	block, err := store.ReadBlock(ctx, storage.SelectNumber(head))
	require.NoError(t, err)
	require.NotNil(t, block)
	require.Equal(t, head, block.Number())

	account, err := store.ReadAccount(ctx, chain.TestAccounts()[0].Address, head)
	require.NoError(t, err)
	require.NotEqual(t, new(big.Int), account.Balance)
}
