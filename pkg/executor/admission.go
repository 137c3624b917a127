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

package executor

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/stratusevm/stratus/pkg/chain"
)

// Admit validates a transaction for entry into the pending pool and returns
// the recovered sender. Rejected transactions never produce a receipt.
func Admit(tx *types.Transaction, reader StateReader) (common.Address, error) {
	if tx.ChainId() == nil || tx.ChainId().Uint64() != chain.ChainID {
		return common.Address{}, &AdmissionError{
			Kind:   AdmissionInvalidChainID,
			Detail: fmt.Sprintf("expected %d, got %v", chain.ChainID, tx.ChainId()),
		}
	}
	from, err := types.Sender(chain.Signer, tx)
	if err != nil {
		return common.Address{}, &AdmissionError{Kind: AdmissionInvalidSignature, Detail: err.Error()}
	}
	if tx.Gas() > chain.MaxGasPerTransaction {
		return common.Address{}, &AdmissionError{
			Kind:   AdmissionGasTooHigh,
			Detail: fmt.Sprintf("limit %d exceeds cap %d", tx.Gas(), chain.MaxGasPerTransaction),
		}
	}
	if len(tx.Data()) > chain.MaxInputSize {
		return common.Address{}, &AdmissionError{
			Kind:   AdmissionInputTooLarge,
			Detail: fmt.Sprintf("%d bytes exceeds cap %d", len(tx.Data()), chain.MaxInputSize),
		}
	}

	account, err := reader.Account(from)
	if err != nil {
		return common.Address{}, err
	}
	switch {
	case tx.Nonce() < account.Nonce:
		return common.Address{}, &AdmissionError{
			Kind:   AdmissionNonceTooLow,
			Detail: fmt.Sprintf("tx nonce %d, account nonce %d", tx.Nonce(), account.Nonce),
		}
	case tx.Nonce() > account.Nonce:
		return common.Address{}, &AdmissionError{
			Kind:   AdmissionNonceTooHigh,
			Detail: fmt.Sprintf("tx nonce %d, account nonce %d", tx.Nonce(), account.Nonce),
		}
	}
	if account.Balance.Cmp(tx.Value()) < 0 {
		return common.Address{}, &AdmissionError{
			Kind:   AdmissionInsufficientBalance,
			Detail: fmt.Sprintf("balance %s, value %s", account.Balance, tx.Value()),
		}
	}
	return from, nil
}
