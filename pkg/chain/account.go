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

package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Account is one version of an account. The live value at height H is the
// version with the greatest BlockNumber <= H.
type Account struct {
	Address     common.Address
	Nonce       uint64
	Balance     *big.Int
	Bytecode    []byte // nil for externally owned accounts
	BlockNumber uint64
}

// EmptyAccount returns the zero-valued account used when an address has no
// recorded version.
func EmptyAccount(addr common.Address) *Account {
	return &Account{Address: addr, Balance: new(big.Int)}
}

// IsContract reports whether a bytecode version was ever set.
func (a *Account) IsContract() bool {
	return a.Bytecode != nil
}

// Copy returns a deep copy of the account version.
func (a *Account) Copy() *Account {
	dup := *a
	dup.Balance = new(big.Int).Set(a.Balance)
	if a.Bytecode != nil {
		dup.Bytecode = append([]byte(nil), a.Bytecode...)
	}
	return &dup
}

// SlotVersion is one version of a contract storage slot, keyed by
// (Address, Index) with the same max-version-at-or-below rule as accounts.
type SlotVersion struct {
	Address     common.Address
	Index       common.Hash
	Value       common.Hash
	BlockNumber uint64
}
