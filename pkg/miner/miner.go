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

// Package miner assembles executed transactions into blocks at a fixed
// cadence and commits them to the versioned store.
package miner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	log "github.com/sirupsen/logrus"

	"github.com/stratusevm/stratus/pkg/chain"
	"github.com/stratusevm/stratus/pkg/executor"
	"github.com/stratusevm/stratus/pkg/prom"
	"github.com/stratusevm/stratus/pkg/storage"
)

// DefaultInterval is the mining cadence when none is configured.
const DefaultInterval = time.Second

// Config tunes the miner.
type Config struct {
	Interval           time.Duration
	PendingBound       int
	EnableGenesis      bool
	EnableTestAccounts bool
}

// Miner drives the leader's block production: admission executes
// transactions into the pending pool, the interval loop drains it into
// blocks. A single periodic task does the mining; the pool's critical
// section is the only synchronization with admission.
type Miner struct {
	store    storage.PermanentStorage
	executor *executor.Executor
	config   Config

	pending *Pending
	paused  atomic.Bool
	halted  atomic.Bool

	mineMu sync.Mutex // one block attempt at a time
	logger *log.Entry
}

// New creates a miner over the given store.
func New(store storage.PermanentStorage, exec *executor.Executor, config Config) *Miner {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	m := &Miner{
		store:    store,
		executor: exec,
		config:   config,
		logger:   log.WithField("component", "miner"),
	}
	m.pending = NewPending(m.snapshotAtHead(context.Background()), config.PendingBound)
	return m
}

func (m *Miner) snapshotAtHead(ctx context.Context) *storage.Snapshot {
	head, _, err := m.store.Head(ctx)
	if err != nil {
		m.logger.WithError(err).Error("failed to read head for snapshot")
	}
	return storage.NewSnapshot(ctx, m.store, head)
}

// EnsureGenesis emits block 0 with the canonical empty roots and seeds the
// funded test accounts. It is a no-op when the store already has blocks or
// genesis is disabled.
func (m *Miner) EnsureGenesis(ctx context.Context) error {
	if !m.config.EnableGenesis {
		return nil
	}
	if _, hasHead, err := m.store.Head(ctx); err != nil {
		return err
	} else if hasHead {
		return nil
	}

	if m.config.EnableTestAccounts {
		if err := m.store.SaveAccounts(ctx, chain.TestAccounts()); err != nil {
			return err
		}
		m.logger.Info("seeded genesis test accounts")
	}

	genesis := &chain.Block{
		Header: chain.NewHeader(0, common.Hash{}, uint64(time.Now().Unix()), nil),
	}
	if err := m.store.CommitBlock(ctx, genesis); err != nil {
		return err
	}
	m.pending.Rebase(storage.NewSnapshot(ctx, m.store, 0))
	m.logger.WithField("hash", genesis.Hash()).Info("genesis block committed")
	return nil
}

// Run ticks at the configured interval until the context is cancelled.
func (m *Miner) Run(ctx context.Context) error {
	m.logger.WithField("interval", m.config.Interval).Info("interval miner started")
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("interval miner stopped")
			return ctx.Err()
		case <-ticker.C:
			if m.paused.Load() || m.halted.Load() {
				continue
			}
			if err := m.Mine(ctx); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.WithError(err).Error("block attempt failed")
			}
		}
	}
}

// SendTransaction admits, executes and enqueues one transaction. A duplicate
// of a pending or mined transaction returns the prior hash without
// re-execution. With transactions flowing only through here, at-most-once
// inclusion of any hash holds.
func (m *Miner) SendTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	hash := tx.Hash()

	if mined, err := m.store.ReadTransaction(ctx, hash); err != nil {
		return common.Hash{}, err
	} else if mined != nil {
		return hash, nil
	}

	head, _, err := m.store.Head(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	blockCtx := executor.BlockContext{
		Number:    head + 1,
		Timestamp: uint64(time.Now().Unix()),
		GetHash:   m.blockHashGetter(ctx),
	}

	_, err = m.pending.Submit(hash, func(reader executor.StateReader) (*executor.Execution, error) {
		from, err := executor.Admit(tx, reader)
		if err != nil {
			return nil, err
		}
		execution, err := m.executor.ExecuteExternal(tx, from, reader, blockCtx)
		if err != nil {
			return nil, err
		}
		prom.IncTransactionsAdmitted()
		return execution, nil
	})
	if err != nil {
		return common.Hash{}, err
	}
	prom.SetPendingPoolSize(m.pending.Len())
	return hash, nil
}

// PendingCount reports the pending pool size.
func (m *Miner) PendingCount() int {
	return m.pending.Len()
}

// Pause stops block production without stopping the interval task.
func (m *Miner) Pause() { m.paused.Store(true) }

// Resume restarts block production.
func (m *Miner) Resume() { m.paused.Store(false) }

// Paused reports whether production is paused.
func (m *Miner) Paused() bool { return m.paused.Load() }

// Halted reports whether a fatal commit failure stopped the miner.
func (m *Miner) Halted() bool { return m.halted.Load() }

// Mine drains the pending pool into one block and commits it. Empty ticks
// mine nothing. A number conflict re-drives the build once against the new
// head; an integrity failure halts the miner and surfaces through health.
func (m *Miner) Mine(ctx context.Context) error {
	m.mineMu.Lock()
	defer m.mineMu.Unlock()

	drained := m.pending.Drain()
	if len(drained) == 0 {
		return nil
	}

	err := m.commitDrained(ctx, drained)
	if errors.Is(err, storage.ErrConflict) {
		m.logger.Warn("block number conflict, retrying against new head")
		err = m.commitDrained(ctx, drained)
	}

	var integrity *storage.IntegrityError
	if errors.As(err, &integrity) {
		m.halted.Store(true)
		m.pending.Forget(drained)
		m.pending.Rebase(m.snapshotAtHead(ctx))
		prom.IncCommitFailures()
		m.logger.WithError(err).Error("integrity violation, miner halted")
		return err
	}
	if err != nil {
		m.pending.Requeue(drained)
		prom.IncCommitFailures()
		return err
	}

	prom.SetPendingPoolSize(m.pending.Len())
	return nil
}

func (m *Miner) commitDrained(ctx context.Context, drained []*executor.Execution) error {
	block, err := m.buildBlock(ctx, drained)
	if err != nil {
		return err
	}
	if err := m.store.CommitBlock(ctx, block); err != nil {
		return err
	}

	m.pending.Rebase(storage.NewSnapshot(ctx, m.store, block.Number()))
	prom.IncBlocksMined()
	prom.SetChainHead(block.Number())
	m.logger.WithFields(log.Fields{
		"number": block.Number(),
		"hash":   block.Hash(),
		"txs":    len(block.Transactions),
	}).Info("block mined")
	return nil
}

// buildBlock assembles the bundle: dense transaction and log indices, header
// roots and bloom derived from the contents, and one account/slot version
// per touched key.
func (m *Miner) buildBlock(ctx context.Context, drained []*executor.Execution) (*chain.Block, error) {
	head, hasHead, err := m.store.Head(ctx)
	if err != nil {
		return nil, err
	}
	number := uint64(0)
	parentHash := common.Hash{}
	if hasHead {
		number = head + 1
		parent, err := m.store.ReadBlock(ctx, storage.SelectNumber(head))
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, storage.IntegrityErrf("parent", "head block %d not found", head)
		}
		parentHash = parent.Hash()
	}

	timestamp := uint64(time.Now().Unix())
	txs := make([]*chain.MinedTransaction, 0, len(drained))
	logIdx := uint64(0)
	for i, execution := range drained {
		mined := &chain.MinedTransaction{
			Tx:              execution.Tx,
			From:            execution.From,
			Index:           uint64(i),
			BlockNumber:     number,
			Status:          execution.Status,
			GasUsed:         execution.GasUsed,
			Output:          execution.Output,
			ContractAddress: execution.ContractAddress,
		}
		if mined.Status == types.ReceiptStatusSuccessful {
			for _, evmLog := range execution.Logs {
				mined.Logs = append(mined.Logs, &chain.MinedLog{
					Address:          evmLog.Address,
					Data:             evmLog.Data,
					Topics:           evmLog.Topics,
					TransactionHash:  mined.Hash(),
					TransactionIndex: mined.Index,
					LogIndex:         logIdx,
					BlockNumber:      number,
				})
				logIdx++
			}
		}
		txs = append(txs, mined)
	}

	// the header derives from the contents; the hash only exists afterwards,
	// so the block hash back-references are filled in last
	header := chain.NewHeader(number, parentHash, timestamp, txs)
	blockHash := header.Hash()
	for _, mined := range txs {
		mined.BlockHash = blockHash
		for _, mlog := range mined.Logs {
			mlog.BlockHash = blockHash
		}
	}

	accounts, slots := foldDiffs(number, drained)
	return &chain.Block{
		Header:       header,
		Transactions: txs,
		Accounts:     accounts,
		Slots:        slots,
	}, nil
}

// foldDiffs reduces the per-transaction diffs into one account version and
// one slot version per touched key, applied in transaction order so later
// writes win.
func foldDiffs(number uint64, drained []*executor.Execution) ([]*chain.Account, []*chain.SlotVersion) {
	type slotRef struct {
		addr  common.Address
		index common.Hash
	}
	var (
		accountOrder []common.Address
		accounts     = make(map[common.Address]*chain.Account)
		slotOrder    []slotRef
		slots        = make(map[slotRef]*chain.SlotVersion)
	)
	for _, execution := range drained {
		for _, change := range execution.Diff.Changes {
			if _, ok := accounts[change.Address]; !ok {
				accountOrder = append(accountOrder, change.Address)
			}
			accounts[change.Address] = &chain.Account{
				Address:     change.Address,
				Nonce:       change.Nonce,
				Balance:     change.Balance,
				Bytecode:    change.Bytecode,
				BlockNumber: number,
			}
			for _, slot := range change.Slots {
				ref := slotRef{change.Address, slot.Index}
				if _, ok := slots[ref]; !ok {
					slotOrder = append(slotOrder, ref)
				}
				slots[ref] = &chain.SlotVersion{
					Address:     change.Address,
					Index:       slot.Index,
					Value:       slot.Value,
					BlockNumber: number,
				}
			}
		}
	}

	accountList := make([]*chain.Account, 0, len(accountOrder))
	for _, addr := range accountOrder {
		accountList = append(accountList, accounts[addr])
	}
	slotList := make([]*chain.SlotVersion, 0, len(slotOrder))
	for _, ref := range slotOrder {
		slotList = append(slotList, slots[ref])
	}
	return accountList, slotList
}

func (m *Miner) blockHashGetter(ctx context.Context) func(uint64) common.Hash {
	return func(n uint64) common.Hash {
		block, err := m.store.ReadBlock(ctx, storage.SelectNumber(n))
		if err != nil || block == nil {
			return common.Hash{}
		}
		return block.Hash()
	}
}
