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

package node

// RPCError carries a JSON-RPC error code; the rpc layer passes it through
// verbatim.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string { return e.Message }

// ErrorCode implements the go-ethereum rpc.Error interface.
func (e *RPCError) ErrorCode() int { return e.Code }

var (
	// ErrModeChangeInProgress rejects a second concurrent mode change.
	ErrModeChangeInProgress = &RPCError{Code: -32009, Message: "Stratus node is already in the process of changing mode."}

	// ErrTransactionsEnabled rejects a mode change while ingestion is on.
	ErrTransactionsEnabled = &RPCError{Code: -32009, Message: "Transaction processing is enabled."}

	// ErrMinerEnabled rejects leaving leader mode while the miner produces.
	ErrMinerEnabled = &RPCError{Code: -32603, Message: "Miner is enabled."}

	// ErrTransactionsDisabled rejects transaction ingestion outside leader
	// duty or while disabled.
	ErrTransactionsDisabled = &RPCError{Code: -32009, Message: "Transaction processing is temporarily disabled."}
)
