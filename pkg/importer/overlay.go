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

package importer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stratusevm/stratus/pkg/chain"
	"github.com/stratusevm/stratus/pkg/executor"
	"github.com/stratusevm/stratus/pkg/storage"
)

// sequentialOverlay layers the diffs of already re-executed transactions
// over the pre-block snapshot, so transaction N reads the writes of
// transactions 0..N-1 of the same block. At the end it yields the block's
// account and slot versions.
type sequentialOverlay struct {
	base *storage.Snapshot

	accountOrder []common.Address
	accounts     map[common.Address]*chain.Account
	slotOrder    []slotRef
	slots        map[slotRef]common.Hash
}

type slotRef struct {
	addr  common.Address
	index common.Hash
}

func newSequentialOverlay(base *storage.Snapshot) *sequentialOverlay {
	return &sequentialOverlay{
		base:     base,
		accounts: make(map[common.Address]*chain.Account),
		slots:    make(map[slotRef]common.Hash),
	}
}

var _ executor.StateReader = (*sequentialOverlay)(nil)

func (o *sequentialOverlay) Account(addr common.Address) (*chain.Account, error) {
	if account, ok := o.accounts[addr]; ok {
		return account.Copy(), nil
	}
	return o.base.Account(addr)
}

func (o *sequentialOverlay) Slot(addr common.Address, index common.Hash) (common.Hash, error) {
	if value, ok := o.slots[slotRef{addr, index}]; ok {
		return value, nil
	}
	return o.base.Slot(addr, index)
}

func (o *sequentialOverlay) apply(diff *executor.Diff) {
	for _, change := range diff.Changes {
		if _, ok := o.accounts[change.Address]; !ok {
			o.accountOrder = append(o.accountOrder, change.Address)
		}
		o.accounts[change.Address] = &chain.Account{
			Address:  change.Address,
			Nonce:    change.Nonce,
			Balance:  new(big.Int).Set(change.Balance),
			Bytecode: change.Bytecode,
		}
		for _, slot := range change.Slots {
			ref := slotRef{change.Address, slot.Index}
			if _, ok := o.slots[ref]; !ok {
				o.slotOrder = append(o.slotOrder, ref)
			}
			o.slots[ref] = slot.Value
		}
	}
}

// versions materializes one account and slot version per touched key.
func (o *sequentialOverlay) versions(number uint64) ([]*chain.Account, []*chain.SlotVersion) {
	accounts := make([]*chain.Account, 0, len(o.accountOrder))
	for _, addr := range o.accountOrder {
		account := o.accounts[addr].Copy()
		account.BlockNumber = number
		accounts = append(accounts, account)
	}
	slots := make([]*chain.SlotVersion, 0, len(o.slotOrder))
	for _, ref := range o.slotOrder {
		slots = append(slots, &chain.SlotVersion{
			Address:     ref.addr,
			Index:       ref.index,
			Value:       o.slots[ref],
			BlockNumber: number,
		})
	}
	return accounts, slots
}
