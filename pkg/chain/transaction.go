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
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// MinedTransaction is a transaction included in a block together with its
// execution outcome.
type MinedTransaction struct {
	Tx   *types.Transaction
	From common.Address

	Index       uint64
	BlockNumber uint64
	BlockHash   common.Hash

	Status          uint64 // types.ReceiptStatusSuccessful or ...Failed
	GasUsed         uint64
	Output          []byte
	ContractAddress *common.Address // set for contract creations
	Logs            []*MinedLog
}

// Hash returns the transaction hash.
func (m *MinedTransaction) Hash() common.Hash {
	return m.Tx.Hash()
}

// Receipt assembles the consensus receipt for root and bloom derivation.
func (m *MinedTransaction) Receipt(cumulativeGas uint64) *types.Receipt {
	receipt := &types.Receipt{
		Type:              m.Tx.Type(),
		Status:            m.Status,
		CumulativeGasUsed: cumulativeGas,
		TxHash:            m.Tx.Hash(),
		GasUsed:           m.GasUsed,
		Logs:              make([]*types.Log, 0, len(m.Logs)),
		TransactionIndex:  uint(m.Index),
		BlockNumber:       nil,
	}
	if m.ContractAddress != nil {
		receipt.ContractAddress = *m.ContractAddress
	}
	for _, l := range m.Logs {
		receipt.Logs = append(receipt.Logs, l.EthLog())
	}
	receipt.Bloom = types.CreateBloom(types.Receipts{receipt})
	return receipt
}
