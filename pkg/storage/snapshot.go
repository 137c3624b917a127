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

package storage

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stratusevm/stratus/pkg/chain"
)

// Snapshot is a read handle pinned to a block height. Because versions are
// append-only and the head only advances after a commit completes, reads
// through a snapshot are repeatable regardless of concurrent commits.
type Snapshot struct {
	store PermanentStorage
	at    uint64
	ctx   context.Context
}

// NewSnapshot pins a snapshot at the given height.
func NewSnapshot(ctx context.Context, store PermanentStorage, at uint64) *Snapshot {
	return &Snapshot{store: store, at: at, ctx: ctx}
}

// BlockNumber returns the pinned height.
func (s *Snapshot) BlockNumber() uint64 {
	return s.at
}

// Account reads the account version visible at the pinned height.
func (s *Snapshot) Account(addr common.Address) (*chain.Account, error) {
	return s.store.ReadAccount(s.ctx, addr, s.at)
}

// Slot reads the slot value visible at the pinned height.
func (s *Snapshot) Slot(addr common.Address, index common.Hash) (common.Hash, error) {
	return s.store.ReadSlot(s.ctx, addr, index, s.at)
}
