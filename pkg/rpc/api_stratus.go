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
	"fmt"
	"strconv"
	"time"

	"github.com/stratusevm/stratus/pkg/chain"
	"github.com/stratusevm/stratus/pkg/node"
)

// NetAPI implements the net_ namespace.
type NetAPI struct{}

// Version returns the network id.
func (api *NetAPI) Version() string {
	return strconv.Itoa(chain.ChainID)
}

// Web3API implements the web3_ namespace.
type Web3API struct{}

// ClientVersion identifies this client.
func (api *Web3API) ClientVersion() string {
	return chain.ClientVersion
}

// StratusAPI implements the stratus_ admin namespace.
type StratusAPI struct {
	node *node.Node
}

// NewStratusAPI creates the admin namespace handler.
func NewStratusAPI(n *node.Node) *StratusAPI {
	return &StratusAPI{node: n}
}

// Health reports whether the node is fully functional in its current role.
func (api *StratusAPI) Health() bool {
	return api.node.Healthy()
}

// State reports the observable mode flags.
func (api *StratusAPI) State() node.State {
	return api.node.State()
}

// EnableTransactions turns transaction ingestion on.
func (api *StratusAPI) EnableTransactions() bool {
	return api.node.EnableTransactions()
}

// DisableTransactions turns transaction ingestion off.
func (api *StratusAPI) DisableTransactions() bool {
	return api.node.DisableTransactions()
}

// EnableMiner unpauses block production.
func (api *StratusAPI) EnableMiner() bool {
	return api.node.EnableMiner()
}

// DisableMiner pauses block production.
func (api *StratusAPI) DisableMiner() bool {
	return api.node.DisableMiner()
}

// PendingTransactionsCount reports the pending pool size.
func (api *StratusAPI) PendingTransactionsCount() int {
	return api.node.PendingTransactionsCount()
}

// ChangeToLeader flips the node into the leader role.
func (api *StratusAPI) ChangeToLeader() (bool, error) {
	return api.node.ChangeToLeader()
}

// ChangeToFollower flips the node into the follower role, bound to the given
// leader endpoints. Timeouts are duration strings like "2s" and "100ms".
func (api *StratusAPI) ChangeToFollower(httpURL, wsURL, rpcTimeout, syncInterval string) (bool, error) {
	timeout, err := time.ParseDuration(rpcTimeout)
	if err != nil {
		return false, &invalidParamsError{message: fmt.Sprintf("invalid rpc timeout: %v", err)}
	}
	interval, err := time.ParseDuration(syncInterval)
	if err != nil {
		return false, &invalidParamsError{message: fmt.Sprintf("invalid sync interval: %v", err)}
	}
	return api.node.ChangeToFollower(node.FollowerParams{
		HTTPURL:      httpURL,
		WSURL:        wsURL,
		RPCTimeout:   timeout,
		SyncInterval: interval,
	})
}
