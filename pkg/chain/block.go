// Copyright © 2024 Stratus
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/trie"
)

// Block is the bundle committed to storage as one atomic unit: a header, the
// mined transactions, and the account/slot versions they produced. Children
// are referenced by value; block, transaction, log and topic rows are joined
// by number/hash, never by in-memory back-pointers.
type Block struct {
	Header       *types.Header
	Transactions []*MinedTransaction
	Accounts     []*Account
	Slots        []*SlotVersion
}

// Number returns the block height.
func (b *Block) Number() uint64 {
	return b.Header.Number.Uint64()
}

// Hash returns the keccak of the RLP-encoded header.
func (b *Block) Hash() common.Hash {
	return b.Header.Hash()
}

// Logs returns the block's logs ordered by (transaction index, emission order).
func (b *Block) Logs() []*MinedLog {
	var logs []*MinedLog
	for _, tx := range b.Transactions {
		logs = append(logs, tx.Logs...)
	}
	return logs
}

// NewHeader assembles a canonical Stratus header. Transactions root, receipts
// root and bloom are derived from the mined transactions so that the header
// hash verifies with standard Ethereum tooling.
func NewHeader(number uint64, parentHash common.Hash, timestamp uint64, txs []*MinedTransaction) *types.Header {
	var (
		list     types.Transactions
		receipts types.Receipts
		gasUsed  uint64
	)
	cumulative := uint64(0)
	for _, tx := range txs {
		list = append(list, tx.Tx)
		cumulative += tx.GasUsed
		gasUsed += tx.GasUsed
		receipts = append(receipts, tx.Receipt(cumulative))
	}

	header := &types.Header{
		ParentHash: parentHash,
		UncleHash:  types.EmptyUncleHash,
		Root:       types.EmptyRootHash,
		TxHash:     types.EmptyRootHash,
		ReceiptHash: types.EmptyRootHash,
		Difficulty: new(big.Int),
		Number:     new(big.Int).SetUint64(number),
		GasLimit:   BlockGasLimit,
		GasUsed:    gasUsed,
		Time:       timestamp,
	}
	if len(list) > 0 {
		header.TxHash = types.DeriveSha(list, trie.NewStackTrie(nil))
		header.ReceiptHash = types.DeriveSha(receipts, trie.NewStackTrie(nil))
		header.Bloom = types.CreateBloom(receipts)
	}
	return header
}
