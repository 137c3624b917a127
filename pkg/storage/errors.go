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
	"errors"
	"fmt"
)

// ErrConflict is returned by CommitBlock when another commit took the next
// block number first. The caller rebuilds the bundle against the new head and
// retries.
var ErrConflict = errors.New("storage: block number conflict")

// ErrNotFound is returned by point reads that require the row to exist.
var ErrNotFound = errors.New("storage: not found")

// IntegrityError reports a bundle that violates a structural invariant.
// It is fatal to the block attempt; the miner halts and surfaces it.
type IntegrityError struct {
	Check  string
	Detail string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("storage: integrity violation (%s): %s", e.Check, e.Detail)
}

// IntegrityErrf builds an IntegrityError with a formatted detail.
func IntegrityErrf(check, format string, args ...interface{}) *IntegrityError {
	return &IntegrityError{Check: check, Detail: fmt.Sprintf(format, args...)}
}
