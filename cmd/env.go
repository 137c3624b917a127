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

package cmd

// ENV variables
const (
	LOGRUS_LEVEL = "LOGRUS_LEVEL"
	LOGRUS_FILE  = "LOGRUS_FILE"

	PROM_METRICS   = "PROM_METRICS"
	PROM_HTTP      = "PROM_HTTP"
	PROM_HTTP_ADDR = "PROM_HTTP_ADDR"
	PROM_HTTP_PORT = "PROM_HTTP_PORT"
	PROM_DB_STATS  = "PROM_DB_STATS"

	RPC_ADDRESS = "RPC_ADDRESS"

	STORAGE_BACKEND = "STORAGE_BACKEND"

	DATABASE_NAME                 = "DATABASE_NAME"
	DATABASE_HOSTNAME             = "DATABASE_HOSTNAME"
	DATABASE_PORT                 = "DATABASE_PORT"
	DATABASE_USER                 = "DATABASE_USER"
	DATABASE_PASSWORD             = "DATABASE_PASSWORD"
	DATABASE_MAX_IDLE_CONNECTIONS = "DATABASE_MAX_IDLE_CONNECTIONS"
	DATABASE_MAX_OPEN_CONNECTIONS = "DATABASE_MAX_OPEN_CONNECTIONS"
	DATABASE_MAX_CONN_LIFETIME    = "DATABASE_MAX_CONN_LIFETIME"

	MINER_INTERVAL      = "MINER_INTERVAL"
	MINER_PENDING_BOUND = "MINER_PENDING_BOUND"

	GENESIS_ENABLE        = "GENESIS_ENABLE"
	GENESIS_TEST_ACCOUNTS = "GENESIS_TEST_ACCOUNTS"

	NODE_ROLE              = "NODE_ROLE"
	FOLLOWER_LEADER_HTTP   = "FOLLOWER_LEADER_HTTP"
	FOLLOWER_LEADER_WS     = "FOLLOWER_LEADER_WS"
	FOLLOWER_RPC_TIMEOUT   = "FOLLOWER_RPC_TIMEOUT"
	FOLLOWER_SYNC_INTERVAL = "FOLLOWER_SYNC_INTERVAL"
)

// TOML bindings
const (
	LOGRUS_LEVEL_TOML = "log.level"
	LOGRUS_FILE_TOML  = "log.file"

	PROM_METRICS_TOML   = "prom.metrics"
	PROM_HTTP_TOML      = "prom.http"
	PROM_HTTP_ADDR_TOML = "prom.httpAddr"
	PROM_HTTP_PORT_TOML = "prom.httpPort"
	PROM_DB_STATS_TOML  = "prom.dbStats"

	RPC_ADDRESS_TOML = "rpc.address"

	STORAGE_BACKEND_TOML = "storage.backend"

	DATABASE_NAME_TOML                 = "database.name"
	DATABASE_HOSTNAME_TOML             = "database.hostname"
	DATABASE_PORT_TOML                 = "database.port"
	DATABASE_USER_TOML                 = "database.user"
	DATABASE_PASSWORD_TOML             = "database.password"
	DATABASE_MAX_IDLE_CONNECTIONS_TOML = "database.maxIdle"
	DATABASE_MAX_OPEN_CONNECTIONS_TOML = "database.maxOpen"
	DATABASE_MAX_CONN_LIFETIME_TOML    = "database.maxLifetime"

	MINER_INTERVAL_TOML      = "miner.interval"
	MINER_PENDING_BOUND_TOML = "miner.pendingBound"

	GENESIS_ENABLE_TOML        = "genesis.enable"
	GENESIS_TEST_ACCOUNTS_TOML = "genesis.testAccounts"

	NODE_ROLE_TOML              = "node.role"
	FOLLOWER_LEADER_HTTP_TOML   = "follower.leaderHttp"
	FOLLOWER_LEADER_WS_TOML     = "follower.leaderWs"
	FOLLOWER_RPC_TIMEOUT_TOML   = "follower.rpcTimeout"
	FOLLOWER_SYNC_INTERVAL_TOML = "follower.syncInterval"
)

// CLI flags
const (
	LOGRUS_LEVEL_CLI = "log-level"
	LOGRUS_FILE_CLI  = "log-file"

	PROM_METRICS_CLI   = "prom-metrics"
	PROM_HTTP_CLI      = "prom-http"
	PROM_HTTP_ADDR_CLI = "prom-httpAddr"
	PROM_HTTP_PORT_CLI = "prom-httpPort"
	PROM_DB_STATS_CLI  = "prom-dbStats"

	RPC_ADDRESS_CLI = "rpc-address"

	STORAGE_BACKEND_CLI = "storage-backend"

	DATABASE_NAME_CLI                 = "database-name"
	DATABASE_HOSTNAME_CLI             = "database-hostname"
	DATABASE_PORT_CLI                 = "database-port"
	DATABASE_USER_CLI                 = "database-user"
	DATABASE_PASSWORD_CLI             = "database-password"
	DATABASE_MAX_IDLE_CONNECTIONS_CLI = "database-max-idle"
	DATABASE_MAX_OPEN_CONNECTIONS_CLI = "database-max-open"
	DATABASE_MAX_CONN_LIFETIME_CLI    = "database-max-lifetime"

	MINER_INTERVAL_CLI      = "block-interval"
	MINER_PENDING_BOUND_CLI = "pending-bound"

	GENESIS_ENABLE_CLI        = "enable-genesis"
	GENESIS_TEST_ACCOUNTS_CLI = "enable-test-accounts"

	NODE_ROLE_CLI              = "role"
	FOLLOWER_LEADER_HTTP_CLI   = "leader-http"
	FOLLOWER_LEADER_WS_CLI     = "leader-ws"
	FOLLOWER_RPC_TIMEOUT_CLI   = "leader-rpc-timeout"
	FOLLOWER_SYNC_INTERVAL_CLI = "sync-interval"
)
