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

import "fmt"

// AdmissionKind classifies why a transaction was refused before entering the
// pending pool.
type AdmissionKind string

const (
	AdmissionInvalidChainID      AdmissionKind = "invalid chain id"
	AdmissionInvalidSignature    AdmissionKind = "invalid signature"
	AdmissionNonceTooLow         AdmissionKind = "nonce too low"
	AdmissionNonceTooHigh        AdmissionKind = "nonce too high"
	AdmissionInsufficientBalance AdmissionKind = "insufficient balance"
	AdmissionGasTooHigh          AdmissionKind = "gas limit too high"
	AdmissionInputTooLarge       AdmissionKind = "input too large"
)

// AdmissionError rejects a transaction at the door. It is reported to the
// RPC caller and never persisted.
type AdmissionError struct {
	Kind   AdmissionKind
	Detail string
}

func (e *AdmissionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("transaction rejected: %s", e.Kind)
	}
	return fmt.Sprintf("transaction rejected: %s: %s", e.Kind, e.Detail)
}

// RevertError carries the revert reason of a read-only call.
type RevertError struct {
	Reason string
	Data   []byte
}

func (e *RevertError) Error() string {
	return fmt.Sprintf("execution reverted: %s", e.Reason)
}

// ErrorData returns the ABI-encoded revert payload for the RPC layer.
func (e *RevertError) ErrorData() interface{} {
	return fmt.Sprintf("0x%x", e.Data)
}
