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

package executor

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"

	"github.com/stratusevm/stratus/pkg/chain"
)

var _ vm.StateDB = (*stateDB)(nil)

var emptyCodeHash = crypto.Keccak256Hash(nil)

// stateObject is the in-flight view of one account during a transaction.
type stateObject struct {
	exists bool // had a non-empty committed version

	origNonce   uint64
	origBalance *big.Int
	origCode    []byte

	nonce    uint64
	balance  *big.Int
	code     []byte
	codeSet  bool
	suicided bool
	created  bool // storage reads ignore committed values

	origStorage  map[common.Hash]common.Hash
	dirtyStorage map[common.Hash]common.Hash
	slotOrder    []common.Hash
}

func (obj *stateObject) copy() *stateObject {
	dup := *obj
	dup.balance = new(big.Int).Set(obj.balance)
	dup.dirtyStorage = copyStorage(obj.dirtyStorage)
	dup.slotOrder = append([]common.Hash(nil), obj.slotOrder...)
	// origStorage only caches committed reads, safe to share
	return &dup
}

func copyStorage(storage map[common.Hash]common.Hash) map[common.Hash]common.Hash {
	dup := make(map[common.Hash]common.Hash, len(storage))
	for k, v := range storage {
		dup[k] = v
	}
	return dup
}

// stateDB implements vm.StateDB over a StateReader, journaling every write so
// the transaction's diff can be extracted afterwards. Reverts restore deep
// copies of the small per-transaction write set.
type stateDB struct {
	reader StateReader

	objects map[common.Address]*stateObject
	order   []common.Address // first-touch order

	logs      []*types.Log
	refund    uint64
	transient map[common.Address]map[common.Hash]common.Hash

	accessAddrs map[common.Address]struct{}
	accessSlots map[common.Address]map[common.Hash]struct{}

	snapshots []stateSnapshot
	dbErr     error
}

type stateSnapshot struct {
	id        int
	objects   map[common.Address]*stateObject
	order     []common.Address
	logCount  int
	refund    uint64
	transient map[common.Address]map[common.Hash]common.Hash
}

func newStateDB(reader StateReader) *stateDB {
	return &stateDB{
		reader:      reader,
		objects:     make(map[common.Address]*stateObject),
		transient:   make(map[common.Address]map[common.Hash]common.Hash),
		accessAddrs: make(map[common.Address]struct{}),
		accessSlots: make(map[common.Address]map[common.Hash]struct{}),
	}
}

func (s *stateDB) setError(err error) {
	if s.dbErr == nil {
		s.dbErr = err
	}
}

func (s *stateDB) getObject(addr common.Address) *stateObject {
	if obj, ok := s.objects[addr]; ok {
		return obj
	}
	account, err := s.reader.Account(addr)
	if err != nil {
		s.setError(err)
		account = chain.EmptyAccount(addr)
	}
	obj := &stateObject{
		exists:       account.Nonce > 0 || account.Balance.Sign() > 0 || account.IsContract(),
		origNonce:    account.Nonce,
		origBalance:  new(big.Int).Set(account.Balance),
		origCode:     account.Bytecode,
		nonce:        account.Nonce,
		balance:      new(big.Int).Set(account.Balance),
		code:         account.Bytecode,
		origStorage:  make(map[common.Hash]common.Hash),
		dirtyStorage: make(map[common.Hash]common.Hash),
	}
	s.objects[addr] = obj
	s.order = append(s.order, addr)
	return obj
}

func (s *stateDB) CreateAccount(addr common.Address) {
	obj := s.getObject(addr)
	obj.created = true
	obj.exists = true
	obj.dirtyStorage = make(map[common.Hash]common.Hash)
	obj.slotOrder = nil
}

func (s *stateDB) SubBalance(addr common.Address, amount *big.Int) {
	if amount.Sign() == 0 {
		s.getObject(addr)
		return
	}
	obj := s.getObject(addr)
	obj.balance = new(big.Int).Sub(obj.balance, amount)
}

func (s *stateDB) AddBalance(addr common.Address, amount *big.Int) {
	if amount.Sign() == 0 {
		s.getObject(addr)
		return
	}
	obj := s.getObject(addr)
	obj.balance = new(big.Int).Add(obj.balance, amount)
}

func (s *stateDB) GetBalance(addr common.Address) *big.Int {
	return new(big.Int).Set(s.getObject(addr).balance)
}

func (s *stateDB) GetNonce(addr common.Address) uint64 {
	return s.getObject(addr).nonce
}

func (s *stateDB) SetNonce(addr common.Address, nonce uint64) {
	s.getObject(addr).nonce = nonce
}

func (s *stateDB) GetCodeHash(addr common.Address) common.Hash {
	obj := s.getObject(addr)
	if !obj.exists {
		return common.Hash{}
	}
	if len(obj.code) == 0 {
		return emptyCodeHash
	}
	return crypto.Keccak256Hash(obj.code)
}

func (s *stateDB) GetCode(addr common.Address) []byte {
	return s.getObject(addr).code
}

func (s *stateDB) SetCode(addr common.Address, code []byte) {
	obj := s.getObject(addr)
	obj.code = code
	obj.codeSet = true
}

func (s *stateDB) GetCodeSize(addr common.Address) int {
	return len(s.getObject(addr).code)
}

func (s *stateDB) AddRefund(gas uint64) {
	s.refund += gas
}

func (s *stateDB) SubRefund(gas uint64) {
	if gas > s.refund {
		s.refund = 0
		return
	}
	s.refund -= gas
}

func (s *stateDB) GetRefund() uint64 {
	return s.refund
}

func (s *stateDB) GetCommittedState(addr common.Address, key common.Hash) common.Hash {
	obj := s.getObject(addr)
	if obj.created {
		return common.Hash{}
	}
	if value, ok := obj.origStorage[key]; ok {
		return value
	}
	value, err := s.reader.Slot(addr, key)
	if err != nil {
		s.setError(err)
		value = common.Hash{}
	}
	obj.origStorage[key] = value
	return value
}

func (s *stateDB) GetState(addr common.Address, key common.Hash) common.Hash {
	obj := s.getObject(addr)
	if value, ok := obj.dirtyStorage[key]; ok {
		return value
	}
	return s.GetCommittedState(addr, key)
}

func (s *stateDB) SetState(addr common.Address, key, value common.Hash) {
	obj := s.getObject(addr)
	if _, ok := obj.dirtyStorage[key]; !ok {
		obj.slotOrder = append(obj.slotOrder, key)
	}
	obj.dirtyStorage[key] = value
}

func (s *stateDB) GetTransientState(addr common.Address, key common.Hash) common.Hash {
	return s.transient[addr][key]
}

func (s *stateDB) SetTransientState(addr common.Address, key, value common.Hash) {
	slots, ok := s.transient[addr]
	if !ok {
		slots = make(map[common.Hash]common.Hash)
		s.transient[addr] = slots
	}
	slots[key] = value
}

func (s *stateDB) Suicide(addr common.Address) bool {
	obj := s.getObject(addr)
	if !obj.exists {
		return false
	}
	obj.suicided = true
	obj.balance = new(big.Int)
	return true
}

func (s *stateDB) HasSuicided(addr common.Address) bool {
	return s.getObject(addr).suicided
}

func (s *stateDB) Exist(addr common.Address) bool {
	obj := s.getObject(addr)
	return obj.exists || obj.nonce > 0 || obj.balance.Sign() > 0 || len(obj.code) > 0
}

func (s *stateDB) Empty(addr common.Address) bool {
	obj := s.getObject(addr)
	return obj.nonce == 0 && obj.balance.Sign() == 0 && len(obj.code) == 0
}

func (s *stateDB) AddressInAccessList(addr common.Address) bool {
	_, ok := s.accessAddrs[addr]
	return ok
}

func (s *stateDB) SlotInAccessList(addr common.Address, slot common.Hash) (bool, bool) {
	_, addrOk := s.accessAddrs[addr]
	_, slotOk := s.accessSlots[addr][slot]
	return addrOk, slotOk
}

func (s *stateDB) AddAddressToAccessList(addr common.Address) {
	s.accessAddrs[addr] = struct{}{}
}

func (s *stateDB) AddSlotToAccessList(addr common.Address, slot common.Hash) {
	s.accessAddrs[addr] = struct{}{}
	slots, ok := s.accessSlots[addr]
	if !ok {
		slots = make(map[common.Hash]struct{})
		s.accessSlots[addr] = slots
	}
	slots[slot] = struct{}{}
}

func (s *stateDB) Prepare(rules params.Rules, sender, coinbase common.Address, dest *common.Address, precompiles []common.Address, txAccesses types.AccessList) {
	s.accessAddrs = make(map[common.Address]struct{})
	s.accessSlots = make(map[common.Address]map[common.Hash]struct{})
	s.transient = make(map[common.Address]map[common.Hash]common.Hash)
	if !rules.IsBerlin {
		return
	}
	s.AddAddressToAccessList(sender)
	if dest != nil {
		s.AddAddressToAccessList(*dest)
	}
	for _, addr := range precompiles {
		s.AddAddressToAccessList(addr)
	}
	for _, el := range txAccesses {
		s.AddAddressToAccessList(el.Address)
		for _, key := range el.StorageKeys {
			s.AddSlotToAccessList(el.Address, key)
		}
	}
	if rules.IsShanghai {
		s.AddAddressToAccessList(coinbase)
	}
}

func (s *stateDB) Snapshot() int {
	id := len(s.snapshots)
	objects := make(map[common.Address]*stateObject, len(s.objects))
	for addr, obj := range s.objects {
		objects[addr] = obj.copy()
	}
	transient := make(map[common.Address]map[common.Hash]common.Hash, len(s.transient))
	for addr, slots := range s.transient {
		transient[addr] = copyStorage(slots)
	}
	s.snapshots = append(s.snapshots, stateSnapshot{
		id:        id,
		objects:   objects,
		order:     append([]common.Address(nil), s.order...),
		logCount:  len(s.logs),
		refund:    s.refund,
		transient: transient,
	})
	return id
}

func (s *stateDB) RevertToSnapshot(id int) {
	if id < 0 || id >= len(s.snapshots) {
		return
	}
	snap := s.snapshots[id]
	s.objects = snap.objects
	s.order = snap.order
	s.logs = s.logs[:snap.logCount]
	s.refund = snap.refund
	s.transient = snap.transient
	s.snapshots = s.snapshots[:id]
}

func (s *stateDB) AddLog(log *types.Log) {
	s.logs = append(s.logs, log)
}

func (s *stateDB) AddPreimage(common.Hash, []byte) {
	// preimage recording is not used
}

// diff extracts the ordered account and slot upserts produced by the
// transaction. Accounts whose final state equals the committed state are
// omitted.
func (s *stateDB) diff() *Diff {
	diff := &Diff{}
	for _, addr := range s.order {
		obj := s.objects[addr]
		change := &AccountChange{
			Address:  addr,
			Nonce:    obj.nonce,
			Balance:  new(big.Int).Set(obj.balance),
			Bytecode: obj.code,
		}
		if obj.suicided {
			// record the deletion as a cleared version that still marks the
			// address as having been a contract
			change.Nonce = 0
			change.Balance = new(big.Int)
			change.Bytecode = []byte{}
		}
		for _, key := range obj.slotOrder {
			value := obj.dirtyStorage[key]
			if !obj.created && value == obj.origStorage[key] {
				if _, seen := obj.origStorage[key]; seen {
					continue
				}
			}
			change.Slots = append(change.Slots, SlotChange{Index: key, Value: value})
		}
		if !obj.suicided && !obj.created && len(change.Slots) == 0 &&
			obj.nonce == obj.origNonce && obj.balance.Cmp(obj.origBalance) == 0 && !obj.codeSet {
			continue
		}
		diff.Changes = append(diff.Changes, change)
	}
	return diff
}
