package executor

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
	"github.com/stratusevm/stratus/pkg/storage/memory"
)

var (
	aliceKey, _ = crypto.HexToECDSA("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	alice       = crypto.PubkeyToAddress(aliceKey.PublicKey)
	bob         = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

// counterRuntime increments slot 0 and emits one log with topic 0x..aa on
// every call:
//
//	PUSH1 0 SLOAD PUSH1 1 ADD PUSH1 0 SSTORE
//	PUSH1 0xaa PUSH1 0 PUSH1 0 LOG1
//	STOP
var counterRuntime = common.Hex2Bytes("60005460010160005560aa60006000a100")

// counterInit returns counterRuntime as the deployed code.
var counterInit = common.Hex2Bytes("7060005460010160005560aa60006000a1006000526011600ff3")

// returnerRuntime returns the 32-byte word 42.
var returnerRuntime = common.Hex2Bytes("602a60005260206000f3")

// invalidRuntime hits an invalid opcode immediately.
var invalidRuntime = common.Hex2Bytes("fe")

var counterTopic = common.HexToHash("0xaa")

func newTestReader(t *testing.T, contracts map[common.Address][]byte) StateReader {
	t.Helper()
	store := memory.New()
	ctx := context.Background()

	accounts := []*chain.Account{
		{Address: alice, Nonce: 0, Balance: new(big.Int).Set(chain.TestAccountBalance)},
	}
	for addr, code := range contracts {
		accounts = append(accounts, &chain.Account{
			Address: addr, Balance: new(big.Int), Bytecode: code,
		})
	}
	require.NoError(t, store.SaveAccounts(ctx, accounts))
	return storage.NewSnapshot(ctx, store, 0)
}

func testBlockCtx() BlockContext {
	return BlockContext{Number: 1, Timestamp: 1700000000}
}

func sign(t *testing.T, inner *types.LegacyTx) *types.Transaction {
	t.Helper()
	tx, err := types.SignNewTx(aliceKey, chain.Signer, inner)
	require.NoError(t, err)
	return tx
}

func TestAdmit(t *testing.T) {
	reader := newTestReader(t, nil)

	t.Run("valid", func(t *testing.T) {
		tx := sign(t, &types.LegacyTx{Nonce: 0, To: &bob, Gas: 21000, GasPrice: big.NewInt(0), Value: big.NewInt(1)})
		from, err := Admit(tx, reader)
		require.NoError(t, err)
		require.Equal(t, alice, from)
	})

	t.Run("wrong chain id", func(t *testing.T) {
		foreign := types.LatestSignerForChainID(big.NewInt(1))
		tx, err := types.SignNewTx(aliceKey, foreign, &types.LegacyTx{Nonce: 0, To: &bob, Gas: 21000, GasPrice: big.NewInt(0)})
		require.NoError(t, err)
		_, err = Admit(tx, reader)
		requireAdmissionKind(t, err, AdmissionInvalidChainID)
	})

	t.Run("gas above cap", func(t *testing.T) {
		tx := sign(t, &types.LegacyTx{Nonce: 0, To: &bob, Gas: chain.MaxGasPerTransaction + 1, GasPrice: big.NewInt(0)})
		_, err := Admit(tx, reader)
		requireAdmissionKind(t, err, AdmissionGasTooHigh)
	})

	t.Run("nonce too high", func(t *testing.T) {
		tx := sign(t, &types.LegacyTx{Nonce: 3, To: &bob, Gas: 21000, GasPrice: big.NewInt(0)})
		_, err := Admit(tx, reader)
		requireAdmissionKind(t, err, AdmissionNonceTooHigh)
	})

	t.Run("insufficient balance", func(t *testing.T) {
		value := new(big.Int).Add(chain.TestAccountBalance, big.NewInt(1))
		tx := sign(t, &types.LegacyTx{Nonce: 0, To: &bob, Gas: 21000, GasPrice: big.NewInt(0), Value: value})
		_, err := Admit(tx, reader)
		requireAdmissionKind(t, err, AdmissionInsufficientBalance)
	})
}

func requireAdmissionKind(t *testing.T, err error, kind AdmissionKind) {
	t.Helper()
	var admission *AdmissionError
	require.ErrorAs(t, err, &admission)
	require.Equal(t, kind, admission.Kind)
}

func TestExecuteTransfer(t *testing.T) {
	reader := newTestReader(t, nil)
	exec := New()

	tx := sign(t, &types.LegacyTx{Nonce: 0, To: &bob, Gas: chain.MaxGasPerTransaction, GasPrice: big.NewInt(0), Value: big.NewInt(100)})
	execution, err := exec.Execute(tx, reader, testBlockCtx())
	require.NoError(t, err)

	require.Equal(t, types.ReceiptStatusSuccessful, execution.Status)
	require.Equal(t, uint64(21000), execution.GasUsed)
	require.Empty(t, execution.Logs)
	require.Nil(t, execution.ContractAddress)

	require.Len(t, execution.Diff.Changes, 2)
	sender := execution.Diff.Changes[0]
	require.Equal(t, alice, sender.Address)
	require.Equal(t, uint64(1), sender.Nonce)
	require.Equal(t, new(big.Int).Sub(chain.TestAccountBalance, big.NewInt(100)), sender.Balance)

	receiver := execution.Diff.Changes[1]
	require.Equal(t, bob, receiver.Address)
	require.Equal(t, uint64(0), receiver.Nonce)
	require.Equal(t, big.NewInt(100), receiver.Balance)
}

func TestExecuteZeroValueTransferTouchesOnlySender(t *testing.T) {
	reader := newTestReader(t, nil)
	exec := New()

	tx := sign(t, &types.LegacyTx{Nonce: 0, To: &bob, Gas: chain.MaxGasPerTransaction, GasPrice: big.NewInt(0), Value: big.NewInt(0)})
	execution, err := exec.Execute(tx, reader, testBlockCtx())
	require.NoError(t, err)

	require.Equal(t, types.ReceiptStatusSuccessful, execution.Status)
	require.Len(t, execution.Diff.Changes, 1)
	require.Equal(t, alice, execution.Diff.Changes[0].Address)
	require.Equal(t, uint64(1), execution.Diff.Changes[0].Nonce)
}

func TestExecuteContractCreation(t *testing.T) {
	reader := newTestReader(t, nil)
	exec := New()

	tx := sign(t, &types.LegacyTx{Nonce: 0, Gas: chain.MaxGasPerTransaction, GasPrice: big.NewInt(0), Data: counterInit})
	execution, err := exec.Execute(tx, reader, testBlockCtx())
	require.NoError(t, err)

	require.Equal(t, types.ReceiptStatusSuccessful, execution.Status)
	require.NotNil(t, execution.ContractAddress)
	require.Equal(t, crypto.CreateAddress(alice, 0), *execution.ContractAddress)

	var contract *AccountChange
	for _, change := range execution.Diff.Changes {
		if change.Address == *execution.ContractAddress {
			contract = change
		}
	}
	require.NotNil(t, contract)
	require.Equal(t, counterRuntime, contract.Bytecode)
	require.Equal(t, uint64(1), contract.Nonce)
}

func TestExecuteContractCall(t *testing.T) {
	contract := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	reader := newTestReader(t, map[common.Address][]byte{contract: counterRuntime})
	exec := New()

	tx := sign(t, &types.LegacyTx{Nonce: 0, To: &contract, Gas: chain.MaxGasPerTransaction, GasPrice: big.NewInt(0)})
	execution, err := exec.Execute(tx, reader, testBlockCtx())
	require.NoError(t, err)
	require.Equal(t, types.ReceiptStatusSuccessful, execution.Status)

	require.Len(t, execution.Logs, 1)
	require.Equal(t, contract, execution.Logs[0].Address)
	require.Equal(t, []common.Hash{counterTopic}, execution.Logs[0].Topics)

	var slots []SlotChange
	for _, change := range execution.Diff.Changes {
		if change.Address == contract {
			slots = change.Slots
		}
	}
	require.Len(t, slots, 1)
	require.Equal(t, common.Hash{}, slots[0].Index)
	require.Equal(t, common.HexToHash("0x01"), slots[0].Value)
}

func TestExecuteInvalidOpcode(t *testing.T) {
	contract := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	reader := newTestReader(t, map[common.Address][]byte{contract: invalidRuntime})
	exec := New()

	tx := sign(t, &types.LegacyTx{Nonce: 0, To: &contract, Gas: chain.MaxGasPerTransaction, GasPrice: big.NewInt(0)})
	execution, err := exec.Execute(tx, reader, testBlockCtx())
	require.NoError(t, err)

	require.Equal(t, types.ReceiptStatusFailed, execution.Status)
	require.NotEmpty(t, execution.VMError)
	require.Empty(t, execution.Logs)

	// only the nonce consumption survives the revert
	require.Len(t, execution.Diff.Changes, 1)
	require.Equal(t, alice, execution.Diff.Changes[0].Address)
	require.Equal(t, uint64(1), execution.Diff.Changes[0].Nonce)
	require.Equal(t, chain.TestAccountBalance, execution.Diff.Changes[0].Balance)
}

func TestExecuteDeterminism(t *testing.T) {
	exec := New()
	tx := sign(t, &types.LegacyTx{Nonce: 0, Gas: chain.MaxGasPerTransaction, GasPrice: big.NewInt(0), Data: counterInit})

	first, err := exec.Execute(tx, newTestReader(t, nil), testBlockCtx())
	require.NoError(t, err)
	second, err := exec.Execute(tx, newTestReader(t, nil), testBlockCtx())
	require.NoError(t, err)

	require.Equal(t, first.Status, second.Status)
	require.Equal(t, first.GasUsed, second.GasUsed)
	require.Equal(t, first.Diff, second.Diff)
}

func TestCall(t *testing.T) {
	contract := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	reader := newTestReader(t, map[common.Address][]byte{contract: returnerRuntime})
	exec := New()

	output, err := exec.Call(alice, &contract, nil, 0, nil, reader, testBlockCtx())
	require.NoError(t, err)
	require.Len(t, output, 32)
	require.Equal(t, byte(42), output[31])
}

func TestCallRevert(t *testing.T) {
	contract := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	reader := newTestReader(t, map[common.Address][]byte{contract: common.Hex2Bytes("60006000fd")})
	exec := New()

	_, err := exec.Call(alice, &contract, nil, 0, nil, reader, testBlockCtx())
	var revert *RevertError
	require.ErrorAs(t, err, &revert)
}
