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

// Package node owns the leader/follower mode machine. Mode flips at runtime
// under a single-flight guard, gated on quiescent transaction ingestion and
// a disabled miner.
package node

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	log "github.com/sirupsen/logrus"

	"github.com/stratusevm/stratus/pkg/executor"
	"github.com/stratusevm/stratus/pkg/miner"
	"github.com/stratusevm/stratus/pkg/storage"
)

// quiescencePoll is the wait between pending-count checks during a mode flip.
const quiescencePoll = 10 * time.Millisecond

// Importer is the follower-side block sync task.
type Importer interface {
	Run(ctx context.Context) error
	Healthy() bool
}

// FollowerParams binds an importer to a leader.
type FollowerParams struct {
	HTTPURL      string
	WSURL        string
	RPCTimeout   time.Duration
	SyncInterval time.Duration
}

// ImporterFactory builds an importer for the given leader endpoints.
type ImporterFactory func(params FollowerParams) (Importer, error)

// State is the observable snapshot exposed via stratus_state.
type State struct {
	IsLeader               bool `json:"is_leader"`
	IsImporterShutdown     bool `json:"is_importer_shutdown"`
	IsIntervalMinerRunning bool `json:"is_interval_miner_running"`
	MinerPaused            bool `json:"miner_paused"`
	TransactionsEnabled    bool `json:"transactions_enabled"`
}

// Node couples the miner, the importer and the versioned store under one
// mode machine. The mode guard is a binary semaphore distinct from the state
// mutex, so state stays readable during a long transition.
type Node struct {
	store       storage.PermanentStorage
	executor    *executor.Executor
	miner       *miner.Miner
	newImporter ImporterFactory

	modeGuard chan struct{}

	mu             sync.Mutex // guards the fields below
	baseCtx        context.Context
	leader         bool
	txEnabled      bool
	minerCancel    context.CancelFunc
	importer       Importer
	importerCancel context.CancelFunc

	logger *log.Entry
}

// New assembles a node. StartLeader or StartFollower establishes the initial role.
func New(store storage.PermanentStorage, exec *executor.Executor, m *miner.Miner, factory ImporterFactory) *Node {
	return &Node{
		store:       store,
		executor:    exec,
		miner:       m,
		newImporter: factory,
		modeGuard:   make(chan struct{}, 1),
		logger:      log.WithField("component", "node"),
	}
}

// StartLeader boots the node in the leader role: genesis (when enabled),
// interval miner, transaction ingestion on.
func (n *Node) StartLeader(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.baseCtx = ctx
	if err := n.miner.EnsureGenesis(ctx); err != nil {
		return err
	}
	n.startMinerLocked()
	n.leader = true
	n.txEnabled = true
	n.logger.Info("node started as leader")
	return nil
}

// StartFollower boots the node in the follower role: importer bound to the
// leader, local transaction acceptance off.
func (n *Node) StartFollower(ctx context.Context, params FollowerParams) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.baseCtx = ctx
	if err := n.startImporterLocked(params); err != nil {
		return err
	}
	n.leader = false
	n.txEnabled = false
	n.logger.WithField("leader", params.HTTPURL).Info("node started as follower")
	return nil
}

func (n *Node) startMinerLocked() {
	ctx, cancel := context.WithCancel(n.baseCtx)
	n.minerCancel = cancel
	go n.miner.Run(ctx)
}

func (n *Node) stopMinerLocked() {
	if n.minerCancel != nil {
		n.minerCancel()
		n.minerCancel = nil
	}
}

func (n *Node) startImporterLocked(params FollowerParams) error {
	imp, err := n.newImporter(params)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(n.baseCtx)
	n.importer = imp
	n.importerCancel = cancel
	go imp.Run(ctx)
	return nil
}

func (n *Node) stopImporterLocked() {
	if n.importerCancel != nil {
		n.importerCancel()
		n.importerCancel = nil
		n.importer = nil
	}
}

// tryAcquireModeGuard is the single-flight entry of every mode change.
func (n *Node) tryAcquireModeGuard() error {
	select {
	case n.modeGuard <- struct{}{}:
		return nil
	default:
		return ErrModeChangeInProgress
	}
}

func (n *Node) releaseModeGuard() {
	<-n.modeGuard
}

// ChangeToFollower flips a leader into a follower. Preconditions: ingestion
// disabled, miner disabled, pending pool drained. Returns false without
// action when already a follower.
func (n *Node) ChangeToFollower(params FollowerParams) (bool, error) {
	if err := n.tryAcquireModeGuard(); err != nil {
		return false, err
	}
	defer n.releaseModeGuard()

	n.mu.Lock()
	leader := n.leader
	txEnabled := n.txEnabled
	minerRunning := n.minerCancel != nil
	n.mu.Unlock()

	if !leader {
		return false, nil
	}
	if txEnabled {
		return false, ErrTransactionsEnabled
	}
	if minerRunning && !n.miner.Paused() {
		return false, ErrMinerEnabled
	}

	// point of no return: wait out the pending pool, then swap the tasks
	for n.miner.PendingCount() > 0 {
		time.Sleep(quiescencePoll)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopMinerLocked()
	if err := n.startImporterLocked(params); err != nil {
		// the miner task is gone but the role is unchanged; the caller can
		// retry or flip back explicitly
		return false, err
	}
	n.leader = false
	n.logger.Info("changed mode to follower")
	return true, nil
}

// ChangeToLeader flips a follower into a leader. Precondition: ingestion
// disabled. Returns false without action when already a leader.
func (n *Node) ChangeToLeader() (bool, error) {
	if err := n.tryAcquireModeGuard(); err != nil {
		return false, err
	}
	defer n.releaseModeGuard()

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.leader {
		return false, nil
	}
	if n.txEnabled {
		return false, ErrTransactionsEnabled
	}

	n.stopImporterLocked()
	n.startMinerLocked()
	n.leader = true
	n.logger.Info("changed mode to leader")
	return true, nil
}

// EnableTransactions turns ingestion on and returns the new value.
func (n *Node) EnableTransactions() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.txEnabled = true
	return true
}

// DisableTransactions turns ingestion off and returns the new value.
func (n *Node) DisableTransactions() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.txEnabled = false
	return false
}

// EnableMiner unpauses block production and returns the new value.
func (n *Node) EnableMiner() bool {
	n.miner.Resume()
	return true
}

// DisableMiner pauses block production and returns the new value.
func (n *Node) DisableMiner() bool {
	n.miner.Pause()
	return false
}

// State reports the observable mode flags.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return State{
		IsLeader:               n.leader,
		IsImporterShutdown:     n.importerCancel == nil,
		IsIntervalMinerRunning: n.minerCancel != nil,
		MinerPaused:            n.miner.Paused(),
		TransactionsEnabled:    n.txEnabled,
	}
}

// Healthy reports whether the node is fully functional in its current role:
// a leader's miner has not halted, a follower's importer is in sync.
func (n *Node) Healthy() bool {
	n.mu.Lock()
	leader := n.leader
	imp := n.importer
	n.mu.Unlock()

	if leader {
		return !n.miner.Halted()
	}
	return imp != nil && imp.Healthy()
}

// SendTransaction is the admission path: leader role with ingestion enabled,
// then straight into the miner's pending pool.
func (n *Node) SendTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	n.mu.Lock()
	accepting := n.leader && n.txEnabled
	n.mu.Unlock()

	if !accepting {
		return common.Hash{}, ErrTransactionsDisabled
	}
	return n.miner.SendTransaction(ctx, tx)
}

// PendingTransactionsCount reports the pending pool size.
func (n *Node) PendingTransactionsCount() int {
	return n.miner.PendingCount()
}

// Store exposes the versioned store to the RPC layer.
func (n *Node) Store() storage.PermanentStorage {
	return n.store
}

// Executor exposes the executor for read-only calls.
func (n *Node) Executor() *executor.Executor {
	return n.executor
}
