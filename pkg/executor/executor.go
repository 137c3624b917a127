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

// Package executor runs EVM semantics against a snapshot of world state and
// extracts the per-transaction state diff. The interpreter is go-ethereum's;
// only the state access layer is ours.
package executor

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/stratusevm/stratus/pkg/chain"
)

// StateReader supplies point-in-time account and slot reads. Both storage
// snapshots and the miner's pending overlay implement it.
type StateReader interface {
	Account(addr common.Address) (*chain.Account, error)
	Slot(addr common.Address, index common.Hash) (common.Hash, error)
}

// BlockContext pins the environment a transaction executes in. Execution is
// deterministic given (transaction, reader, context).
type BlockContext struct {
	Number    uint64
	Timestamp uint64
	Coinbase  common.Address
	GetHash   func(uint64) common.Hash
}

// SlotChange is one storage slot upsert.
type SlotChange struct {
	Index common.Hash
	Value common.Hash
}

// AccountChange is the final state of one touched account plus its ordered
// slot writes.
type AccountChange struct {
	Address  common.Address
	Nonce    uint64
	Balance  *big.Int
	Bytecode []byte
	Slots    []SlotChange
}

// Diff is the ordered list of account changes a transaction produced.
type Diff struct {
	Changes []*AccountChange
}

// Execution is the outcome of running one transaction: the receipt fields
// and the diff the miner turns into account and slot versions.
type Execution struct {
	Tx   *types.Transaction
	From common.Address

	Status          uint64
	GasUsed         uint64
	Output          []byte
	ContractAddress *common.Address
	Logs            []*types.Log
	VMError         string

	Diff *Diff
}

// Hash returns the executed transaction's hash.
func (e *Execution) Hash() common.Hash {
	return e.Tx.Hash()
}

// Executor runs transactions. It is stateless; every call receives the
// reader to execute against.
type Executor struct{}

// New creates an executor.
func New() *Executor {
	return &Executor{}
}

// Execute runs a signed transaction against the reader. EVM-level failures
// (revert, out of gas, invalid opcode) produce a failed execution with the
// nonce and gas consumed; deeper errors (unknown sender, state read failure)
// are returned as errors and produce nothing.
func (e *Executor) Execute(tx *types.Transaction, reader StateReader, blockCtx BlockContext) (*Execution, error) {
	from, err := types.Sender(chain.Signer, tx)
	if err != nil {
		return nil, &AdmissionError{Kind: AdmissionInvalidSignature, Detail: err.Error()}
	}
	return e.execute(tx, from, reader, blockCtx, false)
}

// ExecuteExternal re-executes a transaction shipped inside an upstream block,
// bypassing admission. Account checks still run; an honest upstream passes
// them by construction.
func (e *Executor) ExecuteExternal(tx *types.Transaction, from common.Address, reader StateReader, blockCtx BlockContext) (*Execution, error) {
	return e.execute(tx, from, reader, blockCtx, false)
}

func (e *Executor) execute(tx *types.Transaction, from common.Address, reader StateReader, blockCtx BlockContext, skipChecks bool) (*Execution, error) {
	sdb := newStateDB(reader)
	evm := newEVM(sdb, blockCtx, from, tx.GasPrice())

	msg := &core.Message{
		To:                tx.To(),
		From:              from,
		Nonce:             tx.Nonce(),
		Value:             tx.Value(),
		GasLimit:          tx.Gas(),
		GasPrice:          tx.GasPrice(),
		GasFeeCap:         tx.GasFeeCap(),
		GasTipCap:         tx.GasTipCap(),
		Data:              tx.Data(),
		AccessList:        tx.AccessList(),
		SkipAccountChecks: skipChecks,
	}

	gp := new(core.GasPool).AddGas(tx.Gas())
	result, err := core.ApplyMessage(evm, msg, gp)
	if err != nil {
		return nil, fmt.Errorf("applying message %s: %w", tx.Hash(), err)
	}
	if sdb.dbErr != nil {
		return nil, fmt.Errorf("state read during %s: %w", tx.Hash(), sdb.dbErr)
	}

	execution := &Execution{
		Tx:      tx,
		From:    from,
		Status:  types.ReceiptStatusSuccessful,
		GasUsed: result.UsedGas,
		Output:  result.ReturnData,
		Logs:    sdb.logs,
		Diff:    sdb.diff(),
	}
	if result.Failed() {
		execution.Status = types.ReceiptStatusFailed
		execution.VMError = result.Err.Error()
	}
	if tx.To() == nil && !result.Failed() {
		contract := crypto.CreateAddress(from, tx.Nonce())
		execution.ContractAddress = &contract
	}
	return execution, nil
}

// Call executes a read-only call against the reader. Nothing is persisted;
// revert data is returned alongside the error.
func (e *Executor) Call(from common.Address, to *common.Address, input []byte, gas uint64, value *big.Int, reader StateReader, blockCtx BlockContext) ([]byte, error) {
	if gas == 0 || gas > chain.MaxGasPerTransaction {
		gas = chain.MaxGasPerTransaction
	}
	if value == nil {
		value = new(big.Int)
	}
	sdb := newStateDB(reader)
	evm := newEVM(sdb, blockCtx, from, new(big.Int))

	msg := &core.Message{
		To:                to,
		From:              from,
		Nonce:             sdb.GetNonce(from),
		Value:             value,
		GasLimit:          gas,
		GasPrice:          new(big.Int),
		GasFeeCap:         new(big.Int),
		GasTipCap:         new(big.Int),
		Data:              input,
		SkipAccountChecks: true,
	}
	gp := new(core.GasPool).AddGas(gas)
	result, err := core.ApplyMessage(evm, msg, gp)
	if err != nil {
		return nil, err
	}
	if result.Failed() {
		return result.Revert(), &RevertError{Reason: result.Err.Error(), Data: result.Revert()}
	}
	return result.Return(), nil
}

func newEVM(sdb *stateDB, blockCtx BlockContext, origin common.Address, gasPrice *big.Int) *vm.EVM {
	getHash := blockCtx.GetHash
	if getHash == nil {
		getHash = func(uint64) common.Hash { return common.Hash{} }
	}
	random := common.Hash{}
	ctx := vm.BlockContext{
		CanTransfer: core.CanTransfer,
		Transfer:    core.Transfer,
		GetHash:     getHash,
		Coinbase:    blockCtx.Coinbase,
		GasLimit:    chain.BlockGasLimit,
		BlockNumber: new(big.Int).SetUint64(blockCtx.Number),
		Time:        blockCtx.Timestamp,
		Difficulty:  new(big.Int),
		BaseFee:     new(big.Int),
		Random:      &random,
	}
	txCtx := vm.TxContext{
		Origin:   origin,
		GasPrice: gasPrice,
	}
	return vm.NewEVM(ctx, txCtx, sdb, chain.Config, vm.Config{NoBaseFee: true})
}
