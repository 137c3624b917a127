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

package miner

import (
	"errors"
	"math/big"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"

	"github.com/stratusevm/stratus/pkg/chain"
	"github.com/stratusevm/stratus/pkg/executor"
	"github.com/stratusevm/stratus/pkg/storage"
)

// ErrPoolFull rejects admission when the pending pool is at its bound.
var ErrPoolFull = errors.New("miner: transaction pool is full")

// pendingAccount is the overlay view of an account touched by a pending
// execution.
type pendingAccount struct {
	nonce    uint64
	balance  *big.Int
	bytecode []byte
}

// Pending is the bounded FIFO of executed-but-unmined transactions plus the
// state overlay their diffs produce, so a later submission observes the
// effects of earlier pending ones. Admission is the single writer, the miner
// the single reader; a short critical section serializes them.
type Pending struct {
	mu sync.Mutex

	bound int
	seen  mapset.Set[common.Hash]
	queue []*executor.Execution

	base     *storage.Snapshot
	accounts map[common.Address]*pendingAccount
	slots    map[common.Address]map[common.Hash]common.Hash
}

// NewPending creates a pool over the given base snapshot.
func NewPending(base *storage.Snapshot, bound int) *Pending {
	if bound <= 0 {
		bound = chain.DefaultPendingBound
	}
	return &Pending{
		bound:    bound,
		seen:     mapset.NewSet[common.Hash](),
		base:     base,
		accounts: make(map[common.Address]*pendingAccount),
		slots:    make(map[common.Address]map[common.Hash]common.Hash),
	}
}

// Submit admits one execution under the pool lock. The build callback runs
// with a reader layering the pending overlay over the base snapshot; it is
// where admission checks and the EVM run. Duplicate hashes short-circuit
// without re-execution.
func (p *Pending) Submit(hash common.Hash, build func(reader executor.StateReader) (*executor.Execution, error)) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.seen.Contains(hash) {
		return true, nil
	}
	if len(p.queue) >= p.bound {
		return false, ErrPoolFull
	}

	execution, err := build(&overlayReader{p})
	if err != nil {
		return false, err
	}
	p.apply(execution.Diff)
	p.seen.Add(hash)
	p.queue = append(p.queue, execution)
	return false, nil
}

// Drain returns the queued executions in admission order and empties the
// queue. The overlay is kept until Rebase so concurrent submissions still
// observe the drained effects.
func (p *Pending) Drain() []*executor.Execution {
	p.mu.Lock()
	defer p.mu.Unlock()

	drained := p.queue
	p.queue = nil
	return drained
}

// Requeue puts drained executions back at the front after a failed commit
// attempt that will be retried.
func (p *Pending) Requeue(executions []*executor.Execution) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(executions, p.queue...)
}

// Forget drops the hashes of executions that will never be mined, so a
// resubmission is executed afresh.
func (p *Pending) Forget(executions []*executor.Execution) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, execution := range executions {
		p.seen.Remove(execution.Hash())
	}
}

// Rebase pins the pool to a new snapshot and rebuilds the overlay from
// whatever is still queued.
func (p *Pending) Rebase(base *storage.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.base = base
	p.accounts = make(map[common.Address]*pendingAccount)
	p.slots = make(map[common.Address]map[common.Hash]common.Hash)
	for _, execution := range p.queue {
		p.apply(execution.Diff)
	}
}

// Len returns the number of queued executions.
func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pending) apply(diff *executor.Diff) {
	for _, change := range diff.Changes {
		p.accounts[change.Address] = &pendingAccount{
			nonce:    change.Nonce,
			balance:  new(big.Int).Set(change.Balance),
			bytecode: change.Bytecode,
		}
		for _, slot := range change.Slots {
			slots, ok := p.slots[change.Address]
			if !ok {
				slots = make(map[common.Hash]common.Hash)
				p.slots[change.Address] = slots
			}
			slots[slot.Index] = slot.Value
		}
	}
}

// overlayReader serves reads from the pending overlay, falling back to the
// base snapshot. It is only used while the pool lock is held.
type overlayReader struct {
	p *Pending
}

func (r *overlayReader) Account(addr common.Address) (*chain.Account, error) {
	if pending, ok := r.p.accounts[addr]; ok {
		return &chain.Account{
			Address:  addr,
			Nonce:    pending.nonce,
			Balance:  new(big.Int).Set(pending.balance),
			Bytecode: pending.bytecode,
		}, nil
	}
	return r.p.base.Account(addr)
}

func (r *overlayReader) Slot(addr common.Address, index common.Hash) (common.Hash, error) {
	if slots, ok := r.p.slots[addr]; ok {
		if value, ok := slots[index]; ok {
			return value, nil
		}
	}
	return r.p.base.Slot(addr, index)
}
