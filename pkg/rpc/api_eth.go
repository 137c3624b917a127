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
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/eth/filters"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/stratusevm/stratus/pkg/chain"
	"github.com/stratusevm/stratus/pkg/executor"
	"github.com/stratusevm/stratus/pkg/node"
	"github.com/stratusevm/stratus/pkg/storage"
)

// EthAPI implements the eth_ namespace subset bound to the core.
type EthAPI struct {
	node *node.Node
}

// NewEthAPI creates the eth namespace handler.
func NewEthAPI(n *node.Node) *EthAPI {
	return &EthAPI{node: n}
}

// ChainId returns the canonical chain id.
func (api *EthAPI) ChainId() *hexutil.Big {
	return (*hexutil.Big)(big.NewInt(chain.ChainID))
}

// GasPrice is fixed at zero.
func (api *EthAPI) GasPrice() *hexutil.Big {
	return (*hexutil.Big)(new(big.Int))
}

// BlockNumber returns the highest committed block number.
func (api *EthAPI) BlockNumber(ctx context.Context) (hexutil.Uint64, error) {
	head, _, err := api.node.Store().Head(ctx)
	if err != nil {
		return 0, err
	}
	return hexutil.Uint64(head), nil
}

// resolveHeight maps a block tag to a concrete height. The pending tag reads
// the latest committed state, matching a node without speculative blocks.
func (api *EthAPI) resolveHeight(ctx context.Context, number rpc.BlockNumber) (uint64, error) {
	switch number {
	case rpc.PendingBlockNumber, rpc.LatestBlockNumber, rpc.FinalizedBlockNumber, rpc.SafeBlockNumber:
		head, _, err := api.node.Store().Head(ctx)
		return head, err
	case rpc.EarliestBlockNumber:
		return 0, nil
	default:
		if number < 0 {
			return 0, fmt.Errorf("invalid block number %d", number)
		}
		return uint64(number), nil
	}
}

// GetBalance reads an account balance at the given height.
func (api *EthAPI) GetBalance(ctx context.Context, address common.Address, number rpc.BlockNumber) (*hexutil.Big, error) {
	at, err := api.resolveHeight(ctx, number)
	if err != nil {
		return nil, err
	}
	account, err := api.node.Store().ReadAccount(ctx, address, at)
	if err != nil {
		return nil, err
	}
	return (*hexutil.Big)(account.Balance), nil
}

// GetTransactionCount reads an account nonce at the given height.
func (api *EthAPI) GetTransactionCount(ctx context.Context, address common.Address, number rpc.BlockNumber) (hexutil.Uint64, error) {
	at, err := api.resolveHeight(ctx, number)
	if err != nil {
		return 0, err
	}
	account, err := api.node.Store().ReadAccount(ctx, address, at)
	if err != nil {
		return 0, err
	}
	return hexutil.Uint64(account.Nonce), nil
}

// GetCode reads contract bytecode at the given height.
func (api *EthAPI) GetCode(ctx context.Context, address common.Address, number rpc.BlockNumber) (hexutil.Bytes, error) {
	at, err := api.resolveHeight(ctx, number)
	if err != nil {
		return nil, err
	}
	account, err := api.node.Store().ReadAccount(ctx, address, at)
	if err != nil {
		return nil, err
	}
	return account.Bytecode, nil
}

// GetStorageAt reads a storage slot at the given height.
func (api *EthAPI) GetStorageAt(ctx context.Context, address common.Address, index common.Hash, number rpc.BlockNumber) (hexutil.Bytes, error) {
	at, err := api.resolveHeight(ctx, number)
	if err != nil {
		return nil, err
	}
	value, err := api.node.Store().ReadSlot(ctx, address, index, at)
	if err != nil {
		return nil, err
	}
	return value.Bytes(), nil
}

// GetBlockByNumber returns a block by height or tag.
func (api *EthAPI) GetBlockByNumber(ctx context.Context, number rpc.BlockNumber, fullTx bool) (map[string]interface{}, error) {
	var selection storage.BlockSelection
	switch number {
	case rpc.PendingBlockNumber, rpc.LatestBlockNumber, rpc.FinalizedBlockNumber, rpc.SafeBlockNumber:
		selection = storage.SelectLatest()
	case rpc.EarliestBlockNumber:
		selection = storage.SelectEarliest()
	default:
		if number < 0 {
			return nil, fmt.Errorf("invalid block number %d", number)
		}
		selection = storage.SelectNumber(uint64(number))
	}
	block, err := api.node.Store().ReadBlock(ctx, selection)
	if err != nil || block == nil {
		return nil, err
	}
	return marshalBlock(block, fullTx), nil
}

// GetBlockByHash returns a block by header hash.
func (api *EthAPI) GetBlockByHash(ctx context.Context, hash common.Hash, fullTx bool) (map[string]interface{}, error) {
	block, err := api.node.Store().ReadBlock(ctx, storage.SelectHash(hash))
	if err != nil || block == nil {
		return nil, err
	}
	return marshalBlock(block, fullTx), nil
}

// GetTransactionByHash returns a mined transaction.
func (api *EthAPI) GetTransactionByHash(ctx context.Context, hash common.Hash) (map[string]interface{}, error) {
	mined, err := api.node.Store().ReadTransaction(ctx, hash)
	if err != nil || mined == nil {
		return nil, err
	}
	return marshalTransaction(mined), nil
}

// GetTransactionReceipt returns the receipt of a mined transaction.
func (api *EthAPI) GetTransactionReceipt(ctx context.Context, hash common.Hash) (map[string]interface{}, error) {
	mined, err := api.node.Store().ReadTransaction(ctx, hash)
	if err != nil || mined == nil {
		return nil, err
	}
	block, err := api.node.Store().ReadBlock(ctx, storage.SelectNumber(mined.BlockNumber))
	if err != nil {
		return nil, err
	}
	cumulative := uint64(0)
	if block != nil {
		for _, tx := range block.Transactions {
			cumulative += tx.GasUsed
			if tx.Index == mined.Index {
				break
			}
		}
	}
	return marshalReceipt(mined, cumulative), nil
}

// SendRawTransaction decodes, admits, executes and enqueues a signed
// transaction, returning keccak256 of the raw bytes.
func (api *EthAPI) SendRawTransaction(ctx context.Context, input hexutil.Bytes) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(input); err != nil {
		return common.Hash{}, &invalidParamsError{message: fmt.Sprintf("invalid raw transaction: %v", err)}
	}
	hash, err := api.node.SendTransaction(ctx, tx)
	if err != nil {
		return common.Hash{}, mapSendError(err)
	}
	return hash, nil
}

// GetLogs filters logs by block range, address and positional topics.
func (api *EthAPI) GetLogs(ctx context.Context, criteria filters.FilterCriteria) ([]*types.Log, error) {
	filter := &chain.LogFilter{
		Addresses: criteria.Addresses,
		Topics:    criteria.Topics,
	}
	if criteria.FromBlock != nil && criteria.FromBlock.Sign() >= 0 {
		filter.FromBlock = criteria.FromBlock.Uint64()
	}
	if criteria.ToBlock != nil && criteria.ToBlock.Sign() >= 0 {
		to := criteria.ToBlock.Uint64()
		filter.ToBlock = &to
	}
	if criteria.BlockHash != nil {
		block, err := api.node.Store().ReadBlock(ctx, storage.SelectHash(*criteria.BlockHash))
		if err != nil {
			return nil, err
		}
		if block == nil {
			return []*types.Log{}, nil
		}
		number := block.Number()
		filter.FromBlock = number
		filter.ToBlock = &number
	}

	mined, err := api.node.Store().ReadLogs(ctx, filter)
	if err != nil {
		return nil, err
	}
	logs := make([]*types.Log, 0, len(mined))
	for _, l := range mined {
		logs = append(logs, l.EthLog())
	}
	return logs, nil
}

// TransactionArgs are the arguments of eth_call.
type TransactionArgs struct {
	From     *common.Address `json:"from"`
	To       *common.Address `json:"to"`
	Gas      *hexutil.Uint64 `json:"gas"`
	GasPrice *hexutil.Big    `json:"gasPrice"`
	Value    *hexutil.Big    `json:"value"`
	Data     *hexutil.Bytes  `json:"data"`
	Input    *hexutil.Bytes  `json:"input"`
}

func (args *TransactionArgs) data() []byte {
	if args.Input != nil {
		return *args.Input
	}
	if args.Data != nil {
		return *args.Data
	}
	return nil
}

// Call executes a read-only call at the given height.
func (api *EthAPI) Call(ctx context.Context, args TransactionArgs, number rpc.BlockNumber) (hexutil.Bytes, error) {
	at, err := api.resolveHeight(ctx, number)
	if err != nil {
		return nil, err
	}

	from := common.Address{}
	if args.From != nil {
		from = *args.From
	}
	gas := uint64(0)
	if args.Gas != nil {
		gas = uint64(*args.Gas)
	}
	var value *big.Int
	if args.Value != nil {
		value = (*big.Int)(args.Value)
	}

	block, err := api.node.Store().ReadBlock(ctx, storage.SelectNumber(at))
	if err != nil {
		return nil, err
	}
	timestamp := uint64(0)
	if block != nil {
		timestamp = block.Header.Time
	}

	snapshot := storage.NewSnapshot(ctx, api.node.Store(), at)
	output, err := api.node.Executor().Call(from, args.To, args.data(), gas, value, snapshot, executor.BlockContext{
		Number:    at,
		Timestamp: timestamp,
	})
	if err != nil {
		return output, err
	}
	return output, nil
}
