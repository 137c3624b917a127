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

package rpc

import (
	"errors"

	"github.com/stratusevm/stratus/pkg/executor"
	"github.com/stratusevm/stratus/pkg/miner"
)

// invalidParamsError maps malformed inputs to the standard code.
type invalidParamsError struct {
	message string
}

func (e *invalidParamsError) Error() string  { return e.message }
func (e *invalidParamsError) ErrorCode() int { return -32602 }

// sendError carries a -32000-class admission failure.
type sendError struct {
	message string
}

func (e *sendError) Error() string  { return e.message }
func (e *sendError) ErrorCode() int { return -32000 }

// mapSendError translates admission-path failures into coded RPC errors.
// node.RPCError values already carry their code and pass through.
func mapSendError(err error) error {
	var admission *executor.AdmissionError
	if errors.As(err, &admission) {
		return &sendError{message: admission.Error()}
	}
	if errors.Is(err, miner.ErrPoolFull) {
		return &sendError{message: "transaction pool is full"}
	}
	return err
}
