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

// Package storage defines the versioned world-state store. Accounts and slots
// are append-only per-block versions; blocks, transactions, logs and topics
// are immutable once committed. One block is the atomic commit unit.
package storage

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stratusevm/stratus/pkg/chain"
)

// PermanentStorage is the contract every backend implements. Point-in-time
// reads return the version with the greatest block number at or below the
// requested height, or the zero value when none exists.
type PermanentStorage interface {
	// Head returns the highest committed block number and whether any block
	// has been committed at all.
	Head(ctx context.Context) (uint64, bool, error)

	ReadAccount(ctx context.Context, addr common.Address, at uint64) (*chain.Account, error)
	ReadSlot(ctx context.Context, addr common.Address, index common.Hash, at uint64) (common.Hash, error)

	ReadBlock(ctx context.Context, selection BlockSelection) (*chain.Block, error)
	ReadTransaction(ctx context.Context, hash common.Hash) (*chain.MinedTransaction, error)
	ReadLogs(ctx context.Context, filter *chain.LogFilter) ([]*chain.MinedLog, error)

	// CommitBlock atomically persists the header, transactions, logs, topics
	// and state versions of one block. It returns ErrConflict when the block
	// number was taken by a concurrent commit and *IntegrityError when the
	// bundle violates a structural invariant.
	CommitBlock(ctx context.Context, block *chain.Block) error

	// SaveAccounts seeds genesis accounts as block-0 versions.
	SaveAccounts(ctx context.Context, accounts []*chain.Account) error

	// ResetAt discards all history above the given block number.
	ResetAt(ctx context.Context, number uint64) error

	Close() error
}

// BlockSelection picks a block by tag, number or hash.
type BlockSelection struct {
	Latest   bool
	Earliest bool
	Number   *uint64
	Hash     *common.Hash
}

// SelectLatest selects the highest committed block.
func SelectLatest() BlockSelection { return BlockSelection{Latest: true} }

// SelectEarliest selects the genesis block.
func SelectEarliest() BlockSelection { return BlockSelection{Earliest: true} }

// SelectNumber selects a block by height.
func SelectNumber(n uint64) BlockSelection { return BlockSelection{Number: &n} }

// SelectHash selects a block by header hash.
func SelectHash(h common.Hash) BlockSelection { return BlockSelection{Hash: &h} }
