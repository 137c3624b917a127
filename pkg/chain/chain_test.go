package chain

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

func TestCanonicalConstants(t *testing.T) {
	// the fixed hashes must agree with the go-ethereum sentinels, otherwise
	// external tooling cannot verify our headers
	require.Equal(t, types.EmptyUncleHash, EmptyUncleHash)
	require.Equal(t, types.EmptyRootHash, EmptyTransactionsRoot)
}

func TestEmptyHeader(t *testing.T) {
	header := NewHeader(0, common.Hash{}, 1234567890, nil)

	require.Equal(t, uint64(0), header.Number.Uint64())
	require.Equal(t, EmptyTransactionsRoot, header.TxHash)
	require.Equal(t, EmptyTransactionsRoot, header.ReceiptHash)
	require.Equal(t, EmptyUncleHash, header.UncleHash)
	require.Equal(t, types.Bloom{}, header.Bloom)
	require.Equal(t, common.Hash{}, header.ParentHash)
	require.NotEqual(t, common.Hash{}, header.Hash())

	// hashing is a pure function of the contents
	again := NewHeader(0, common.Hash{}, 1234567890, nil)
	require.Equal(t, header.Hash(), again.Hash())
}

func TestHeaderParentLink(t *testing.T) {
	genesis := NewHeader(0, common.Hash{}, 1234567890, nil)
	next := NewHeader(1, genesis.Hash(), 1234567891, nil)

	require.Equal(t, genesis.Hash(), next.ParentHash)
	require.NotEqual(t, genesis.Hash(), next.Hash())
}

func TestLogFilterMatches(t *testing.T) {
	contract := common.HexToAddress("0x1111111111111111111111111111111111111111")
	other := common.HexToAddress("0x2222222222222222222222222222222222222222")
	topicA := common.HexToHash("0xaa")
	topicB := common.HexToHash("0xbb")

	log := &MinedLog{Address: contract, Topics: []common.Hash{topicA, topicB}}

	for _, tc := range []struct {
		name   string
		filter LogFilter
		want   bool
	}{
		{"empty filter", LogFilter{}, true},
		{"address match", LogFilter{Addresses: []common.Address{contract}}, true},
		{"address mismatch", LogFilter{Addresses: []common.Address{other}}, false},
		{"address list", LogFilter{Addresses: []common.Address{other, contract}}, true},
		{"first topic", LogFilter{Topics: [][]common.Hash{{topicA}}}, true},
		{"first topic mismatch", LogFilter{Topics: [][]common.Hash{{topicB}}}, false},
		{"wildcard then match", LogFilter{Topics: [][]common.Hash{nil, {topicB}}}, true},
		{"topic alternatives", LogFilter{Topics: [][]common.Hash{{topicB, topicA}}}, true},
		{"more topics than log", LogFilter{Topics: [][]common.Hash{{topicA}, {topicB}, {topicA}}}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.filter.Matches(log))
		})
	}
}

func TestTestAccounts(t *testing.T) {
	accounts := TestAccounts()
	require.NotEmpty(t, accounts)
	for _, account := range accounts {
		require.Equal(t, TestAccountBalance, account.Balance)
		require.False(t, account.IsContract())
	}
	// funding is per-call state, not shared
	accounts[0].Balance.SetUint64(1)
	require.Equal(t, TestAccountBalance, TestAccounts()[0].Balance)
}
