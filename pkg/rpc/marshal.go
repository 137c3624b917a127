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

package rpc

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/stratusevm/stratus/pkg/chain"
)

// marshalBlock renders a block in the standard Ethereum JSON layout, so that
// external clients can re-hash the header and get block.hash back.
func marshalBlock(block *chain.Block, fullTx bool) map[string]interface{} {
	header := block.Header
	size := uint64(0)
	if encoded, err := rlp.EncodeToBytes(header); err == nil {
		size = uint64(len(encoded))
	}

	result := map[string]interface{}{
		"number":           (*hexutil.Big)(header.Number),
		"hash":             header.Hash(),
		"parentHash":       header.ParentHash,
		"nonce":            header.Nonce,
		"mixHash":          header.MixDigest,
		"sha3Uncles":       header.UncleHash,
		"logsBloom":        header.Bloom,
		"stateRoot":        header.Root,
		"miner":            header.Coinbase,
		"difficulty":       (*hexutil.Big)(header.Difficulty),
		"totalDifficulty":  (*hexutil.Big)(new(big.Int)),
		"extraData":        hexutil.Bytes(header.Extra),
		"size":             hexutil.Uint64(size),
		"gasLimit":         hexutil.Uint64(header.GasLimit),
		"gasUsed":          hexutil.Uint64(header.GasUsed),
		"timestamp":        hexutil.Uint64(header.Time),
		"transactionsRoot": header.TxHash,
		"receiptsRoot":     header.ReceiptHash,
		"uncles":           []interface{}{},
	}

	if fullTx {
		txs := make([]interface{}, 0, len(block.Transactions))
		for _, mined := range block.Transactions {
			txs = append(txs, marshalTransaction(mined))
		}
		result["transactions"] = txs
	} else {
		hashes := make([]interface{}, 0, len(block.Transactions))
		for _, mined := range block.Transactions {
			hashes = append(hashes, mined.Hash())
		}
		result["transactions"] = hashes
	}
	return result
}

// marshalTransaction renders a mined transaction in the standard layout.
func marshalTransaction(mined *chain.MinedTransaction) map[string]interface{} {
	tx := mined.Tx
	v, r, s := tx.RawSignatureValues()
	result := map[string]interface{}{
		"blockHash":        mined.BlockHash,
		"blockNumber":      hexutil.Uint64(mined.BlockNumber),
		"from":             mined.From,
		"gas":              hexutil.Uint64(tx.Gas()),
		"gasPrice":         (*hexutil.Big)(tx.GasPrice()),
		"hash":             tx.Hash(),
		"input":            hexutil.Bytes(tx.Data()),
		"nonce":            hexutil.Uint64(tx.Nonce()),
		"to":               tx.To(),
		"transactionIndex": hexutil.Uint64(mined.Index),
		"value":            (*hexutil.Big)(tx.Value()),
		"type":             hexutil.Uint64(tx.Type()),
		"chainId":          (*hexutil.Big)(tx.ChainId()),
		"v":                (*hexutil.Big)(v),
		"r":                (*hexutil.Big)(r),
		"s":                (*hexutil.Big)(s),
	}
	return result
}

// marshalReceipt renders the receipt of a mined transaction.
func marshalReceipt(mined *chain.MinedTransaction, cumulativeGas uint64) map[string]interface{} {
	logs := make([]*types.Log, 0, len(mined.Logs))
	for _, l := range mined.Logs {
		logs = append(logs, l.EthLog())
	}

	result := map[string]interface{}{
		"blockHash":         mined.BlockHash,
		"blockNumber":       hexutil.Uint64(mined.BlockNumber),
		"transactionHash":   mined.Hash(),
		"transactionIndex":  hexutil.Uint64(mined.Index),
		"from":              mined.From,
		"to":                mined.Tx.To(),
		"gasUsed":           hexutil.Uint64(mined.GasUsed),
		"cumulativeGasUsed": hexutil.Uint64(cumulativeGas),
		"effectiveGasPrice": (*hexutil.Big)(new(big.Int)),
		"contractAddress":   mined.ContractAddress,
		"logs":              logs,
		"logsBloom":         types.BytesToBloom(types.LogsBloom(logs)),
		"status":            hexutil.Uint64(mined.Status),
		"type":              hexutil.Uint64(mined.Tx.Type()),
	}
	return result
}
