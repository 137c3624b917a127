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

// Package importer pulls blocks from the leader and applies them locally.
// Every transaction is re-executed against local state; a divergence between
// the recomputed block and the upstream one is fatal, because it is the only
// way to detect upstream corruption.
package importer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	log "github.com/sirupsen/logrus"

	"github.com/stratusevm/stratus/pkg/chain"
	"github.com/stratusevm/stratus/pkg/executor"
	"github.com/stratusevm/stratus/pkg/prom"
	"github.com/stratusevm/stratus/pkg/storage"
)

// DefaultSyncInterval is the leader polling cadence.
const DefaultSyncInterval = 100 * time.Millisecond

// fetchRetries bounds the backoff retries of one upstream call.
const fetchRetries = 3

// ChainClient is the slice of the upstream RPC surface the importer needs.
// *ethclient.Client satisfies it.
type ChainClient interface {
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// Config binds the importer to a leader.
type Config struct {
	Client       ChainClient
	RPCTimeout   time.Duration
	SyncInterval time.Duration
}

// Importer re-executes upstream blocks through the executor bypass path and
// commits them through the same store contract the miner uses.
type Importer struct {
	store    storage.PermanentStorage
	executor *executor.Executor
	config   Config

	lastPoll atomic.Int64 // unix nano of the last completed poll
	failed   atomic.Bool

	logger *log.Entry
}

// Dial connects an ethclient to the leader's HTTP endpoint.
func Dial(ctx context.Context, httpURL string) (ChainClient, error) {
	rpcClient, err := rpc.DialContext(ctx, httpURL)
	if err != nil {
		return nil, fmt.Errorf("dialing leader %s: %w", httpURL, err)
	}
	return ethclient.NewClient(rpcClient), nil
}

// New creates an importer over the given store.
func New(store storage.PermanentStorage, exec *executor.Executor, config Config) *Importer {
	if config.SyncInterval <= 0 {
		config.SyncInterval = DefaultSyncInterval
	}
	return &Importer{
		store:    store,
		executor: exec,
		config:   config,
		logger:   log.WithField("component", "importer"),
	}
}

// Run polls the leader until the context is cancelled or a verification
// mismatch stops the importer.
func (i *Importer) Run(ctx context.Context) error {
	i.logger.WithField("interval", i.config.SyncInterval).Info("importer started")
	defer i.config.Client.Close()

	ticker := time.NewTicker(i.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			i.logger.Info("importer stopped")
			return ctx.Err()
		case <-ticker.C:
			if i.failed.Load() {
				continue
			}
			if err := i.poll(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					continue
				}
				var mismatch *MismatchError
				if errors.As(err, &mismatch) {
					i.failed.Store(true)
					i.logger.WithError(err).Error("upstream verification failed, importer stopped")
					continue
				}
				i.logger.WithError(err).Warn("import attempt failed")
			}
		}
	}
}

// Healthy reports whether the importer is alive and sufficiently in sync:
// no verification failure and a completed poll within the lag threshold.
func (i *Importer) Healthy() bool {
	if i.failed.Load() {
		return false
	}
	last := i.lastPoll.Load()
	if last == 0 {
		return true // still warming up
	}
	return time.Since(time.Unix(0, last)) <= i.lagThreshold()
}

// lagThreshold tolerates one sync interval of silence, floored so that a
// sub-second polling cadence does not flap health on a single slow poll.
func (i *Importer) lagThreshold() time.Duration {
	if i.config.SyncInterval > time.Second {
		return i.config.SyncInterval
	}
	return time.Second
}

// poll imports the next block if the leader has it.
func (i *Importer) poll(ctx context.Context) error {
	head, hasHead, err := i.store.Head(ctx)
	if err != nil {
		return err
	}
	next := uint64(0)
	if hasHead {
		next = head + 1
	}

	block, err := i.fetchBlock(ctx, next)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			i.lastPoll.Store(time.Now().UnixNano())
			return nil // leader has not mined it yet
		}
		return err
	}

	if err := i.importBlock(ctx, block); err != nil {
		return err
	}
	i.lastPoll.Store(time.Now().UnixNano())
	return nil
}

func (i *Importer) fetchBlock(ctx context.Context, number uint64) (*types.Block, error) {
	var block *types.Block
	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, i.config.RPCTimeout)
		defer cancel()
		var err error
		block, err = i.config.Client.BlockByNumber(callCtx, new(big.Int).SetUint64(number))
		if errors.Is(err, ethereum.NotFound) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), fetchRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return block, nil
}

func (i *Importer) fetchReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, i.config.RPCTimeout)
		defer cancel()
		var err error
		receipt, err = i.config.Client.TransactionReceipt(callCtx, hash)
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), fetchRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return receipt, nil
}

// importBlock re-executes the block's transactions in order against local
// state, verifies the recomputed header against the upstream one and commits
// the bundle.
func (i *Importer) importBlock(ctx context.Context, upstream *types.Block) error {
	number := upstream.NumberU64()
	head, hasHead, err := i.store.Head(ctx)
	if err != nil {
		return err
	}

	parentHash := common.Hash{}
	if hasHead {
		parent, err := i.store.ReadBlock(ctx, storage.SelectNumber(head))
		if err != nil {
			return err
		}
		if parent == nil {
			return fmt.Errorf("local head block %d not found", head)
		}
		parentHash = parent.Hash()
	}

	blockCtx := executor.BlockContext{
		Number:    number,
		Timestamp: upstream.Time(),
		Coinbase:  upstream.Coinbase(),
		GetHash: func(n uint64) common.Hash {
			block, err := i.store.ReadBlock(ctx, storage.SelectNumber(n))
			if err != nil || block == nil {
				return common.Hash{}
			}
			return block.Hash()
		},
	}

	reader := newSequentialOverlay(storage.NewSnapshot(ctx, i.store, head))
	var (
		txs    []*chain.MinedTransaction
		logIdx uint64
	)
	for idx, tx := range upstream.Transactions() {
		from, err := types.Sender(chain.Signer, tx)
		if err != nil {
			return &MismatchError{Field: "signature", Detail: fmt.Sprintf("tx %s: %v", tx.Hash(), err)}
		}
		execution, err := i.executor.ExecuteExternal(tx, from, reader, blockCtx)
		if err != nil {
			return fmt.Errorf("re-executing %s: %w", tx.Hash(), err)
		}
		reader.apply(execution.Diff)

		receipt, err := i.fetchReceipt(ctx, tx.Hash())
		if err != nil {
			return err
		}
		if receipt.Status != execution.Status {
			return &MismatchError{Field: "status", Detail: fmt.Sprintf("tx %s: local %d, upstream %d", tx.Hash(), execution.Status, receipt.Status)}
		}
		if receipt.GasUsed != execution.GasUsed {
			return &MismatchError{Field: "gas_used", Detail: fmt.Sprintf("tx %s: local %d, upstream %d", tx.Hash(), execution.GasUsed, receipt.GasUsed)}
		}

		mined := &chain.MinedTransaction{
			Tx:              tx,
			From:            from,
			Index:           uint64(idx),
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
					TransactionHash:  tx.Hash(),
					TransactionIndex: uint64(idx),
					LogIndex:         logIdx,
					BlockNumber:      number,
				})
				logIdx++
			}
		}
		txs = append(txs, mined)
	}

	header := chain.NewHeader(number, parentHash, upstream.Time(), txs)
	if header.TxHash != upstream.TxHash() {
		return &MismatchError{Field: "transactions_root", Detail: fmt.Sprintf("block %d: local %s, upstream %s", number, header.TxHash, upstream.TxHash())}
	}
	if header.Bloom != upstream.Bloom() {
		return &MismatchError{Field: "logs_bloom", Detail: fmt.Sprintf("block %d", number)}
	}
	if header.Hash() != upstream.Hash() {
		return &MismatchError{Field: "block_hash", Detail: fmt.Sprintf("block %d: local %s, upstream %s", number, header.Hash(), upstream.Hash())}
	}

	blockHash := header.Hash()
	for _, mined := range txs {
		mined.BlockHash = blockHash
		for _, mlog := range mined.Logs {
			mlog.BlockHash = blockHash
		}
	}

	accounts, slots := reader.versions(number)
	bundle := &chain.Block{
		Header:       header,
		Transactions: txs,
		Accounts:     accounts,
		Slots:        slots,
	}
	if err := i.store.CommitBlock(ctx, bundle); err != nil {
		return err
	}

	prom.IncBlocksImported()
	prom.SetChainHead(number)
	i.logger.WithFields(log.Fields{
		"number": number,
		"hash":   blockHash,
		"txs":    len(txs),
	}).Info("block imported")
	return nil
}

// MismatchError reports a divergence between the local re-execution and the
// upstream block. It stops the importer.
type MismatchError struct {
	Field  string
	Detail string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("importer: upstream mismatch on %s: %s", e.Field, e.Detail)
}
