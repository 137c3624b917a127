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

// MinedLog is a log emitted by a mined transaction. A log carries up to four
// topics; topics are persisted in their own table joined by the same keys.
type MinedLog struct {
	Address common.Address
	Data    []byte
	Topics  []common.Hash

	TransactionHash  common.Hash
	TransactionIndex uint64
	LogIndex         uint64
	BlockNumber      uint64
	BlockHash        common.Hash
}

// EthLog converts to the go-ethereum log used for bloom derivation and RPC.
func (l *MinedLog) EthLog() *types.Log {
	return &types.Log{
		Address:     l.Address,
		Topics:      l.Topics,
		Data:        l.Data,
		BlockNumber: l.BlockNumber,
		TxHash:      l.TransactionHash,
		TxIndex:     uint(l.TransactionIndex),
		BlockHash:   l.BlockHash,
		Index:       uint(l.LogIndex),
	}
}
