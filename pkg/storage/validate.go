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
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/trie"

	"github.com/stratusevm/stratus/pkg/chain"
)

// AccountReader reads the account version visible before this commit.
type AccountReader func(ctx context.Context, addr common.Address, at uint64) (*chain.Account, error)

// ValidateBundle enforces the commit invariants shared by every backend:
//
//  1. header.number == head+1 (or 0 for the first commit)
//  2. transactions root and logs bloom match the contents
//  3. transaction rows reference the header and are densely indexed from 0
//  4. every state version carries the header's number
//  5. a signer's new nonce equals its prior nonce plus its transaction count
//
// Violation 1 is reported as ErrConflict (retryable), except a non-zero first
// commit, which is an IntegrityError; the rest are fatal.
func ValidateBundle(ctx context.Context, read AccountReader, head uint64, hasHead bool, block *chain.Block) error {
	number := block.Number()
	switch {
	case !hasHead:
		if number != 0 {
			return IntegrityErrf("genesis", "first committed block must be 0, got %d", number)
		}
	case number != head+1:
		return ErrConflict
	}

	var txList types.Transactions
	signerTxs := make(map[common.Address]uint64)
	for i, tx := range block.Transactions {
		if tx.BlockNumber != number {
			return IntegrityErrf("tx-block-number", "tx %s carries block %d, header is %d", tx.Hash(), tx.BlockNumber, number)
		}
		if tx.BlockHash != block.Hash() {
			return IntegrityErrf("tx-block-hash", "tx %s carries hash %s, header is %s", tx.Hash(), tx.BlockHash, block.Hash())
		}
		if tx.Index != uint64(i) {
			return IntegrityErrf("tx-index", "tx %s has index %d at position %d", tx.Hash(), tx.Index, i)
		}
		txList = append(txList, tx.Tx)
		signerTxs[tx.From]++
	}

	txRoot := types.EmptyRootHash
	if len(txList) > 0 {
		txRoot = types.DeriveSha(txList, trie.NewStackTrie(nil))
	}
	if block.Header.TxHash != txRoot {
		return IntegrityErrf("tx-root", "header root %s, derived %s", block.Header.TxHash, txRoot)
	}

	var logs []*types.Log
	for _, l := range block.Logs() {
		logs = append(logs, l.EthLog())
		if len(l.Topics) > 4 {
			return IntegrityErrf("topics", "log %d of tx %s has %d topics", l.LogIndex, l.TransactionHash, len(l.Topics))
		}
	}
	if bloom := types.BytesToBloom(types.LogsBloom(logs)); block.Header.Bloom != bloom {
		return IntegrityErrf("logs-bloom", "header bloom does not match block logs")
	}

	for _, account := range block.Accounts {
		if account.BlockNumber != number {
			return IntegrityErrf("account-version", "account %s version %d in block %d", account.Address, account.BlockNumber, number)
		}
		if account.Balance == nil || account.Balance.Sign() < 0 {
			return IntegrityErrf("balance", "account %s has negative or missing balance", account.Address)
		}
		txCount, isSigner := signerTxs[account.Address]
		if !isSigner {
			continue
		}
		prior, err := read(ctx, account.Address, head)
		if err != nil {
			return err
		}
		priorNonce := uint64(0)
		if hasHead && prior != nil {
			priorNonce = prior.Nonce
		}
		if account.Nonce != priorNonce+txCount {
			return IntegrityErrf("nonce", "signer %s nonce %d, expected %d", account.Address, account.Nonce, priorNonce+txCount)
		}
	}

	for _, slot := range block.Slots {
		if slot.BlockNumber != number {
			return IntegrityErrf("slot-version", "slot %s/%s version %d in block %d", slot.Address, slot.Index, slot.BlockNumber, number)
		}
	}
	return nil
}
