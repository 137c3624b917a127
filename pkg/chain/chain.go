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

// Package chain holds the primitive types shared by the storage, executor,
// miner and RPC layers. It builds on go-ethereum types instead of redefining
// addresses, hashes and transactions.
package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
)

const (
	// ChainID identifies the canonical Stratus test network.
	ChainID = 2008

	// ClientVersion is reported by web3_clientVersion.
	ClientVersion = "stratus"

	// MaxGasPerTransaction caps the gas limit accepted at admission.
	MaxGasPerTransaction = 500_000

	// MaxBytecodeSize and MaxInputSize bound contract code and call data.
	MaxBytecodeSize = 24_000
	MaxInputSize    = 24_000

	// BlockGasLimit is the fixed gas limit advertised in every block header.
	BlockGasLimit = 100_000_000

	// DefaultPendingBound caps the pending pool when no bound is configured.
	DefaultPendingBound = 10_000
)

var (
	// EmptyUncleHash is the sha3Uncles of every block (uncles are always empty).
	EmptyUncleHash = common.HexToHash("0x1dcc4de8dec75d7aab85b567b6ccd41ad312451b948a7413f0a142fd40d49347")

	// EmptyTransactionsRoot is the transactions root of a block with no transactions.
	EmptyTransactionsRoot = common.HexToHash("0x56e81f171bcc55a6ff8345e692c0f86e5b48e01b996cadc001622fb5e363b421")
)

// Config is the fork schedule of the Stratus network: every supported fork is
// active from genesis and the chain runs post-merge with zero difficulty.
var Config = &params.ChainConfig{
	ChainID:                       big.NewInt(ChainID),
	HomesteadBlock:                big.NewInt(0),
	EIP150Block:                   big.NewInt(0),
	EIP155Block:                   big.NewInt(0),
	EIP158Block:                   big.NewInt(0),
	ByzantiumBlock:                big.NewInt(0),
	ConstantinopleBlock:           big.NewInt(0),
	PetersburgBlock:               big.NewInt(0),
	IstanbulBlock:                 big.NewInt(0),
	MuirGlacierBlock:              big.NewInt(0),
	BerlinBlock:                   big.NewInt(0),
	LondonBlock:                   big.NewInt(0),
	ArrowGlacierBlock:             big.NewInt(0),
	GrayGlacierBlock:              big.NewInt(0),
	MergeNetsplitBlock:            big.NewInt(0),
	TerminalTotalDifficulty:       big.NewInt(0),
	TerminalTotalDifficultyPassed: true,
}

// Signer recovers senders for the Stratus chain id.
var Signer = types.LatestSignerForChainID(big.NewInt(ChainID))
