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

// TestAccountBalance funds each well-known dev account at genesis.
var TestAccountBalance, _ = new(big.Int).SetString("1000000000000000000000000", 10) // 1M ETH

// testAccountAddresses are the standard dev-wallet addresses used by the
// e2e suites; their private keys are public knowledge.
var testAccountAddresses = []string{
	"0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", // alice
	"0x70997970C51812dc3A010C7d01b50e0d17dc79C8", // bob
	"0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC", // charlie
	"0x90F79bf6EB2c4f870365E785982E1f101E93b906",
	"0x15d34AAf54267DB7D7c367839AAf71A00a2C6A65",
	"0x9965507D1a55bcC2695C58ba16FB37d819B0A4dc",
}

// TestAccounts returns the pre-funded genesis accounts enabled by the
// enable-test-accounts flag.
func TestAccounts() []*Account {
	accounts := make([]*Account, 0, len(testAccountAddresses))
	for _, hex := range testAccountAddresses {
		accounts = append(accounts, &Account{
			Address: common.HexToAddress(hex),
			Balance: new(big.Int).Set(TestAccountBalance),
		})
	}
	return accounts
}
