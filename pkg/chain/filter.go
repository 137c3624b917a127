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
	"github.com/ethereum/go-ethereum/common"
)

// LogFilter selects logs by block range, emitting address and positional
// topics. A nil ToBlock means "up to the head"; an empty topic position
// matches any topic at that position.
type LogFilter struct {
	FromBlock uint64
	ToBlock   *uint64
	Addresses []common.Address
	Topics    [][]common.Hash
}

// Matches reports whether the log passes the address and topic criteria.
// The block range is applied by the storage scan, not here.
func (f *LogFilter) Matches(log *MinedLog) bool {
	if len(f.Addresses) > 0 {
		found := false
		for _, addr := range f.Addresses {
			if addr == log.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Topics) > len(log.Topics) {
		return false
	}
	for i, alternatives := range f.Topics {
		if len(alternatives) == 0 {
			continue // wildcard position
		}
		matched := false
		for _, topic := range alternatives {
			if topic == log.Topics[i] {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
