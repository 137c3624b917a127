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

// Package memory implements the versioned store with in-process maps. It
// backs the "no-storage" mode and the test suites; the contract is identical
// to the relational backend.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stratusevm/stratus/pkg/chain"
	"github.com/stratusevm/stratus/pkg/storage"
)

var _ storage.PermanentStorage = (*Store)(nil)

type slotKey struct {
	addr  common.Address
	index common.Hash
}

// Store keeps per-key version slices ordered by block number. Reads binary
// search for the greatest version at or below the requested height. The head
// is only advanced after the whole bundle is in place, so snapshot reads at
// height H never observe a commit of H+1 in flight.
type Store struct {
	mu sync.RWMutex

	accounts map[common.Address][]*chain.Account
	slots    map[slotKey][]*chain.SlotVersion

	blocks  []*chain.Block
	byHash  map[common.Hash]*chain.Block
	txs     map[common.Hash]*chain.MinedTransaction
	hasHead bool
	head    uint64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		accounts: make(map[common.Address][]*chain.Account),
		slots:    make(map[slotKey][]*chain.SlotVersion),
		byHash:   make(map[common.Hash]*chain.Block),
		txs:      make(map[common.Hash]*chain.MinedTransaction),
	}
}

func (s *Store) Head(ctx context.Context) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head, s.hasHead, nil
}

func (s *Store) ReadAccount(ctx context.Context, addr common.Address, at uint64) (*chain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.accounts[addr]
	if v := latestAccount(versions, at); v != nil {
		return v.Copy(), nil
	}
	return chain.EmptyAccount(addr), nil
}

func (s *Store) ReadSlot(ctx context.Context, addr common.Address, index common.Hash, at uint64) (common.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.slots[slotKey{addr, index}]
	i := sort.Search(len(versions), func(i int) bool { return versions[i].BlockNumber > at })
	if i == 0 {
		return common.Hash{}, nil
	}
	return versions[i-1].Value, nil
}

func (s *Store) ReadBlock(ctx context.Context, selection storage.BlockSelection) (*chain.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch {
	case selection.Latest:
		if len(s.blocks) == 0 {
			return nil, nil
		}
		return s.blocks[len(s.blocks)-1], nil
	case selection.Earliest:
		if len(s.blocks) == 0 {
			return nil, nil
		}
		return s.blocks[0], nil
	case selection.Number != nil:
		n := *selection.Number
		if n >= uint64(len(s.blocks)) {
			return nil, nil
		}
		return s.blocks[n], nil
	case selection.Hash != nil:
		return s.byHash[*selection.Hash], nil
	}
	return nil, nil
}

func (s *Store) ReadTransaction(ctx context.Context, hash common.Hash) (*chain.MinedTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.txs[hash], nil
}

func (s *Store) ReadLogs(ctx context.Context, filter *chain.LogFilter) ([]*chain.MinedLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*chain.MinedLog
	for _, block := range s.blocks {
		if block.Number() < filter.FromBlock {
			continue
		}
		if filter.ToBlock != nil && block.Number() > *filter.ToBlock {
			break
		}
		for _, log := range block.Logs() {
			if filter.Matches(log) {
				result = append(result, log)
			}
		}
	}
	return result, nil
}

func (s *Store) CommitBlock(ctx context.Context, block *chain.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	read := func(_ context.Context, addr common.Address, at uint64) (*chain.Account, error) {
		if v := latestAccount(s.accounts[addr], at); v != nil {
			return v, nil
		}
		return chain.EmptyAccount(addr), nil
	}
	if err := storage.ValidateBundle(ctx, read, s.head, s.hasHead, block); err != nil {
		return err
	}
	if _, taken := s.byHash[block.Hash()]; taken {
		return storage.IntegrityErrf("block-hash", "hash %s already committed", block.Hash())
	}

	for _, account := range block.Accounts {
		s.accounts[account.Address] = append(s.accounts[account.Address], account.Copy())
	}
	for _, slot := range block.Slots {
		key := slotKey{slot.Address, slot.Index}
		dup := *slot
		s.slots[key] = append(s.slots[key], &dup)
	}
	for _, tx := range block.Transactions {
		s.txs[tx.Hash()] = tx
	}
	s.blocks = append(s.blocks, block)
	s.byHash[block.Hash()] = block
	s.head = block.Number()
	s.hasHead = true
	return nil
}

func (s *Store) SaveAccounts(ctx context.Context, accounts []*chain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, account := range accounts {
		version := account.Copy()
		version.BlockNumber = 0
		s.accounts[account.Address] = append(s.accounts[account.Address], version)
	}
	return nil
}

func (s *Store) ResetAt(ctx context.Context, number uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for addr, versions := range s.accounts {
		s.accounts[addr] = truncateAccounts(versions, number)
	}
	for key, versions := range s.slots {
		i := sort.Search(len(versions), func(i int) bool { return versions[i].BlockNumber > number })
		s.slots[key] = versions[:i]
	}
	for uint64(len(s.blocks)) > number+1 {
		block := s.blocks[len(s.blocks)-1]
		delete(s.byHash, block.Hash())
		for _, tx := range block.Transactions {
			delete(s.txs, tx.Hash())
		}
		s.blocks = s.blocks[:len(s.blocks)-1]
	}
	if len(s.blocks) > 0 {
		s.head = s.blocks[len(s.blocks)-1].Number()
	} else {
		s.hasHead = false
		s.head = 0
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}

func latestAccount(versions []*chain.Account, at uint64) *chain.Account {
	i := sort.Search(len(versions), func(i int) bool { return versions[i].BlockNumber > at })
	if i == 0 {
		return nil
	}
	return versions[i-1]
}

func truncateAccounts(versions []*chain.Account, number uint64) []*chain.Account {
	i := sort.Search(len(versions), func(i int) bool { return versions[i].BlockNumber > number })
	return versions[:i]
}
