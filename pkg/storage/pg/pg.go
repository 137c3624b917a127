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

// Package pg implements the versioned store on PostgreSQL. Every block is
// committed inside a single transaction across the blocks, transactions,
// logs, topics, accounts and account_slots tables.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"

	"github.com/stratusevm/stratus/pkg/chain"
	"github.com/stratusevm/stratus/pkg/storage"
)

var _ storage.PermanentStorage = (*Store)(nil)

const uniqueViolation = "23505"

// Config carries the connection settings bound in cmd/.
type Config struct {
	URI             string
	MaxOpen         int
	MaxIdle         int
	MaxConnLifetime time.Duration
}

type accountKey struct {
	addr common.Address
	at   uint64
}

type slotKey struct {
	addr  common.Address
	index common.Hash
	at    uint64
}

// Store is the PostgreSQL-backed permanent storage. Point-in-time reads at or
// below the committed head are immutable, so they are served from small LRU
// caches in front of the pool.
type Store struct {
	db *sqlx.DB

	head     atomic.Uint64
	hasHead  atomic.Bool
	accounts *lru.Cache[accountKey, *chain.Account]
	slots    *lru.Cache[slotKey, common.Hash]
}

// New opens the pool, applies the schema and loads the current head.
func New(ctx context.Context, config Config) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", config.URI)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpen)
	db.SetMaxIdleConns(config.MaxIdle)
	db.SetConnMaxLifetime(config.MaxConnLifetime)

	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	accounts, _ := lru.New[accountKey, *chain.Account](8192)
	slots, _ := lru.New[slotKey, common.Hash](8192)
	s := &Store{db: db, accounts: accounts, slots: slots}

	if _, _, err := s.Head(ctx); err != nil {
		return nil, err
	}
	log.WithField("head", s.head.Load()).Info("postgres storage ready")
	return s, nil
}

// DB exposes the underlying pool for metrics collection.
func (s *Store) DB() *sql.DB {
	return s.db.DB
}

func (s *Store) Head(ctx context.Context) (uint64, bool, error) {
	var head sql.NullInt64
	if err := s.db.GetContext(ctx, &head, `SELECT max(number) FROM blocks`); err != nil {
		return 0, false, fmt.Errorf("reading head: %w", err)
	}
	if !head.Valid {
		return 0, false, nil
	}
	s.head.Store(uint64(head.Int64))
	s.hasHead.Store(true)
	return uint64(head.Int64), true, nil
}

type accountRow struct {
	Address     []byte `db:"address"`
	Nonce       string `db:"nonce"`
	Balance     string `db:"balance"`
	Bytecode    []byte `db:"bytecode"`
	BlockNumber int64  `db:"block_number"`
}

func (s *Store) ReadAccount(ctx context.Context, addr common.Address, at uint64) (*chain.Account, error) {
	key := accountKey{addr, at}
	if cached, ok := s.accounts.Get(key); ok {
		return cached.Copy(), nil
	}

	var row accountRow
	err := s.db.GetContext(ctx, &row,
		`SELECT address, nonce, balance, bytecode, block_number
		   FROM accounts WHERE address = $1 AND block_number <= $2
		  ORDER BY block_number DESC LIMIT 1`, addr.Bytes(), int64(at))
	if errors.Is(err, sql.ErrNoRows) {
		return chain.EmptyAccount(addr), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading account %s: %w", addr, err)
	}

	account, err := row.toAccount()
	if err != nil {
		return nil, err
	}
	if s.cacheable(at) {
		s.accounts.Add(key, account.Copy())
	}
	return account, nil
}

func (row *accountRow) toAccount() (*chain.Account, error) {
	nonce, ok := new(big.Int).SetString(row.Nonce, 10)
	if !ok {
		return nil, fmt.Errorf("malformed nonce %q", row.Nonce)
	}
	balance, ok := new(big.Int).SetString(row.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("malformed balance %q", row.Balance)
	}
	return &chain.Account{
		Address:     common.BytesToAddress(row.Address),
		Nonce:       nonce.Uint64(),
		Balance:     balance,
		Bytecode:    row.Bytecode,
		BlockNumber: uint64(row.BlockNumber),
	}, nil
}

func (s *Store) ReadSlot(ctx context.Context, addr common.Address, index common.Hash, at uint64) (common.Hash, error) {
	key := slotKey{addr, index, at}
	if cached, ok := s.slots.Get(key); ok {
		return cached, nil
	}

	var value []byte
	err := s.db.GetContext(ctx, &value,
		`SELECT value FROM account_slots
		  WHERE account_address = $1 AND idx = $2 AND block_number <= $3
		  ORDER BY block_number DESC LIMIT 1`, addr.Bytes(), index.Bytes(), int64(at))
	if errors.Is(err, sql.ErrNoRows) {
		return common.Hash{}, nil
	}
	if err != nil {
		return common.Hash{}, fmt.Errorf("reading slot %s/%s: %w", addr, index, err)
	}

	result := common.BytesToHash(value)
	if s.cacheable(at) {
		s.slots.Add(key, result)
	}
	return result, nil
}

// cacheable reports whether a read at the given height is already immutable:
// commits only append versions above the current head.
func (s *Store) cacheable(at uint64) bool {
	return s.hasHead.Load() && at <= s.head.Load()
}

type blockRow struct {
	Number int64  `db:"number"`
	Header []byte `db:"header"`
}

func (s *Store) ReadBlock(ctx context.Context, selection storage.BlockSelection) (*chain.Block, error) {
	var (
		row blockRow
		err error
	)
	switch {
	case selection.Latest:
		err = s.db.GetContext(ctx, &row, `SELECT number, header FROM blocks ORDER BY number DESC LIMIT 1`)
	case selection.Earliest:
		err = s.db.GetContext(ctx, &row, `SELECT number, header FROM blocks WHERE number = 0`)
	case selection.Number != nil:
		err = s.db.GetContext(ctx, &row, `SELECT number, header FROM blocks WHERE number = $1`, int64(*selection.Number))
	case selection.Hash != nil:
		err = s.db.GetContext(ctx, &row, `SELECT number, header FROM blocks WHERE hash = $1`, selection.Hash.Bytes())
	default:
		return nil, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading block: %w", err)
	}

	header := new(types.Header)
	if err := rlp.DecodeBytes(row.Header, header); err != nil {
		return nil, fmt.Errorf("decoding header %d: %w", row.Number, err)
	}

	txs, err := s.readBlockTransactions(ctx, row.Number)
	if err != nil {
		return nil, err
	}
	return &chain.Block{Header: header, Transactions: txs}, nil
}

type transactionRow struct {
	Hash            []byte `db:"hash"`
	SignerAddress   []byte `db:"signer_address"`
	GasUsed         string `db:"gas_used"`
	Status          int16  `db:"status"`
	Output          []byte `db:"output"`
	ContractAddress []byte `db:"contract_address"`
	IdxInBlock      int32  `db:"idx_in_block"`
	BlockNumber     int64  `db:"block_number"`
	BlockHash       []byte `db:"block_hash"`
	Raw             []byte `db:"raw"`
}

func (row *transactionRow) toMined() (*chain.MinedTransaction, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(row.Raw); err != nil {
		return nil, fmt.Errorf("decoding transaction %x: %w", row.Hash, err)
	}
	gasUsed, ok := new(big.Int).SetString(row.GasUsed, 10)
	if !ok {
		return nil, fmt.Errorf("malformed gas_used %q", row.GasUsed)
	}
	mined := &chain.MinedTransaction{
		Tx:          tx,
		From:        common.BytesToAddress(row.SignerAddress),
		Index:       uint64(row.IdxInBlock),
		BlockNumber: uint64(row.BlockNumber),
		BlockHash:   common.BytesToHash(row.BlockHash),
		Status:      uint64(row.Status),
		GasUsed:     gasUsed.Uint64(),
		Output:      row.Output,
	}
	if len(row.ContractAddress) > 0 {
		addr := common.BytesToAddress(row.ContractAddress)
		mined.ContractAddress = &addr
	}
	return mined, nil
}

func (s *Store) readBlockTransactions(ctx context.Context, number int64) ([]*chain.MinedTransaction, error) {
	var rows []transactionRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT hash, signer_address, gas_used, status, output, contract_address,
		        idx_in_block, block_number, block_hash, raw
		   FROM transactions WHERE block_number = $1 ORDER BY idx_in_block`, number)
	if err != nil {
		return nil, fmt.Errorf("reading transactions of block %d: %w", number, err)
	}

	logs, err := s.readLogRows(ctx, `WHERE block_number = $1`, number)
	if err != nil {
		return nil, err
	}
	byTx := partitionLogs(logs)

	txs := make([]*chain.MinedTransaction, 0, len(rows))
	for i := range rows {
		mined, err := rows[i].toMined()
		if err != nil {
			return nil, err
		}
		mined.Logs = byTx[mined.Hash()]
		txs = append(txs, mined)
	}
	return txs, nil
}

func (s *Store) ReadTransaction(ctx context.Context, hash common.Hash) (*chain.MinedTransaction, error) {
	var row transactionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT hash, signer_address, gas_used, status, output, contract_address,
		        idx_in_block, block_number, block_hash, raw
		   FROM transactions WHERE hash = $1`, hash.Bytes())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading transaction %s: %w", hash, err)
	}

	mined, err := row.toMined()
	if err != nil {
		return nil, err
	}
	logs, err := s.readLogRows(ctx, `WHERE transaction_hash = $1`, hash.Bytes())
	if err != nil {
		return nil, err
	}
	mined.Logs = partitionLogs(logs)[hash]
	return mined, nil
}

type logRow struct {
	Address         []byte `db:"address"`
	Data            []byte `db:"data"`
	TransactionHash []byte `db:"transaction_hash"`
	TransactionIdx  int32  `db:"transaction_idx"`
	LogIdx          int32  `db:"log_idx"`
	BlockNumber     int64  `db:"block_number"`
	BlockHash       []byte `db:"block_hash"`
	Topics          []byte `db:"topics"` // concatenated 32-byte topics, position order
}

// readLogRows fetches logs with their topics aggregated in one round trip.
func (s *Store) readLogRows(ctx context.Context, where string, args ...interface{}) ([]logRow, error) {
	query := fmt.Sprintf(
		`SELECT l.address, l.data, l.transaction_hash, l.transaction_idx, l.log_idx,
		        l.block_number, l.block_hash,
		        coalesce((SELECT string_agg(t.topic, ''::bytea ORDER BY t.idx)
		                    FROM topics t
		                   WHERE t.block_number = l.block_number AND t.log_idx = l.log_idx), ''::bytea) AS topics
		   FROM logs l %s ORDER BY l.block_number, l.log_idx`, where)

	var rows []logRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("reading logs: %w", err)
	}
	return rows, nil
}

func (row *logRow) toMined() *chain.MinedLog {
	mined := &chain.MinedLog{
		Address:          common.BytesToAddress(row.Address),
		Data:             row.Data,
		TransactionHash:  common.BytesToHash(row.TransactionHash),
		TransactionIndex: uint64(row.TransactionIdx),
		LogIndex:         uint64(row.LogIdx),
		BlockNumber:      uint64(row.BlockNumber),
		BlockHash:        common.BytesToHash(row.BlockHash),
	}
	for i := 0; i+32 <= len(row.Topics); i += 32 {
		mined.Topics = append(mined.Topics, common.BytesToHash(row.Topics[i:i+32]))
	}
	return mined
}

func partitionLogs(rows []logRow) map[common.Hash][]*chain.MinedLog {
	byTx := make(map[common.Hash][]*chain.MinedLog)
	for i := range rows {
		mined := rows[i].toMined()
		byTx[mined.TransactionHash] = append(byTx[mined.TransactionHash], mined)
	}
	return byTx
}

func (s *Store) ReadLogs(ctx context.Context, filter *chain.LogFilter) ([]*chain.MinedLog, error) {
	where := `WHERE l.block_number >= $1`
	args := []interface{}{int64(filter.FromBlock)}
	if filter.ToBlock != nil {
		where += ` AND l.block_number <= $2`
		args = append(args, int64(*filter.ToBlock))
	}

	rows, err := s.readLogRows(ctx, where, args...)
	if err != nil {
		return nil, err
	}
	var result []*chain.MinedLog
	for i := range rows {
		mined := rows[i].toMined()
		if filter.Matches(mined) {
			result = append(result, mined)
		}
	}
	return result, nil
}

func (s *Store) CommitBlock(ctx context.Context, block *chain.Block) error {
	head, hasHead, err := s.Head(ctx)
	if err != nil {
		return err
	}
	read := func(ctx context.Context, addr common.Address, at uint64) (*chain.Account, error) {
		return s.ReadAccount(ctx, addr, at)
	}
	if err := storage.ValidateBundle(ctx, read, head, hasHead, block); err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning block transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rberr := tx.Rollback(); rberr != nil && !errors.Is(rberr, sql.ErrTxDone) {
				log.WithError(rberr).Error("rollback failed")
			}
		}
	}()

	if err = insertBundle(ctx, tx, block); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return mapCommitError(fmt.Errorf("committing block %d: %w", block.Number(), err))
	}

	s.head.Store(block.Number())
	s.hasHead.Store(true)
	return nil
}

func insertBundle(ctx context.Context, tx *sqlx.Tx, block *chain.Block) error {
	headerRLP, err := rlp.EncodeToBytes(block.Header)
	if err != nil {
		return fmt.Errorf("encoding header: %w", err)
	}
	_, err = tx.ExecContext(ctx, TableBlocks.ToInsertStatement(),
		int64(block.Number()),
		block.Hash().Bytes(),
		block.Header.TxHash.Bytes(),
		int64(block.Header.GasUsed),
		block.Header.Bloom.Bytes(),
		int64(block.Header.Time),
		headerRLP,
	)
	if err != nil {
		return mapCommitError(fmt.Errorf("inserting block %d: %w", block.Number(), err))
	}

	for _, mined := range block.Transactions {
		raw, err := mined.Tx.MarshalBinary()
		if err != nil {
			return fmt.Errorf("encoding transaction %s: %w", mined.Hash(), err)
		}
		var to, contract []byte
		if mined.Tx.To() != nil {
			to = mined.Tx.To().Bytes()
		}
		if mined.ContractAddress != nil {
			contract = mined.ContractAddress.Bytes()
		}
		_, err = tx.ExecContext(ctx, TableTransactions.ToInsertStatement(),
			mined.Hash().Bytes(),
			mined.From.Bytes(),
			int64(mined.Tx.Nonce()),
			mined.From.Bytes(),
			to,
			mined.Tx.Data(),
			int64(mined.Tx.Gas()),
			int64(mined.GasUsed),
			int16(mined.Status),
			mined.Output,
			contract,
			int32(mined.Index),
			int64(mined.BlockNumber),
			mined.BlockHash.Bytes(),
			raw,
		)
		if err != nil {
			return mapCommitError(fmt.Errorf("inserting transaction %s: %w", mined.Hash(), err))
		}

		for _, mlog := range mined.Logs {
			_, err = tx.ExecContext(ctx, TableLogs.ToInsertStatement(),
				mlog.Address.Bytes(),
				mlog.Data,
				mlog.TransactionHash.Bytes(),
				int32(mlog.TransactionIndex),
				int32(mlog.LogIndex),
				int64(mlog.BlockNumber),
				mlog.BlockHash.Bytes(),
			)
			if err != nil {
				return mapCommitError(fmt.Errorf("inserting log %d: %w", mlog.LogIndex, err))
			}
			for i, topic := range mlog.Topics {
				_, err = tx.ExecContext(ctx, TableTopics.ToInsertStatement(),
					topic.Bytes(),
					int32(i),
					mlog.TransactionHash.Bytes(),
					int32(mlog.TransactionIndex),
					int32(mlog.LogIndex),
					int64(mlog.BlockNumber),
					mlog.BlockHash.Bytes(),
				)
				if err != nil {
					return mapCommitError(fmt.Errorf("inserting topic %d of log %d: %w", i, mlog.LogIndex, err))
				}
			}
		}
	}

	for _, account := range block.Accounts {
		_, err = tx.ExecContext(ctx, TableAccounts.ToInsertStatement(),
			account.Address.Bytes(),
			int64(account.Nonce),
			account.Balance.String(),
			account.Bytecode,
			int64(account.BlockNumber),
		)
		if err != nil {
			return mapCommitError(fmt.Errorf("inserting account %s: %w", account.Address, err))
		}
	}
	for _, slot := range block.Slots {
		_, err = tx.ExecContext(ctx, TableAccountSlots.ToInsertStatement(),
			slot.Index.Bytes(),
			slot.Value.Bytes(),
			slot.Address.Bytes(),
			int64(slot.BlockNumber),
		)
		if err != nil {
			return mapCommitError(fmt.Errorf("inserting slot %s/%s: %w", slot.Address, slot.Index, err))
		}
	}
	return nil
}

// mapCommitError turns a unique violation on the block tables into the
// retryable conflict error.
func mapCommitError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return storage.ErrConflict
	}
	return err
}

func (s *Store) SaveAccounts(ctx context.Context, accounts []*chain.Account) error {
	for _, account := range accounts {
		_, err := s.db.ExecContext(ctx, TableAccounts.ToInsertStatement(),
			account.Address.Bytes(),
			int64(account.Nonce),
			account.Balance.String(),
			account.Bytecode,
			0,
		)
		if err != nil {
			return fmt.Errorf("seeding account %s: %w", account.Address, err)
		}
	}
	return nil
}

func (s *Store) ResetAt(ctx context.Context, number uint64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	for _, stmt := range []string{
		`DELETE FROM topics WHERE block_number > $1`,
		`DELETE FROM logs WHERE block_number > $1`,
		`DELETE FROM transactions WHERE block_number > $1`,
		`DELETE FROM account_slots WHERE block_number > $1`,
		`DELETE FROM accounts WHERE block_number > $1`,
		`DELETE FROM blocks WHERE number > $1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, int64(number)); err != nil {
			tx.Rollback()
			return fmt.Errorf("resetting at %d: %w", number, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.accounts.Purge()
	s.slots.Purge()
	s.hasHead.Store(false)
	_, _, err = s.Head(ctx)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}
