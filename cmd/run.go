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

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/stratusevm/stratus/pkg/chain"
	"github.com/stratusevm/stratus/pkg/executor"
	"github.com/stratusevm/stratus/pkg/importer"
	"github.com/stratusevm/stratus/pkg/miner"
	"github.com/stratusevm/stratus/pkg/node"
	"github.com/stratusevm/stratus/pkg/prom"
	"github.com/stratusevm/stratus/pkg/rpc"
	"github.com/stratusevm/stratus/pkg/storage"
	"github.com/stratusevm/stratus/pkg/storage/memory"
	"github.com/stratusevm/stratus/pkg/storage/pg"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the stratus node",
	Long: `Usage

./stratus run --config={path to toml config file}`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startMetrics()

	store, err := newStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := assembleNode(ctx, store)
	if err != nil {
		return err
	}

	server, err := rpc.NewServer(n, viper.GetString(RPC_ADDRESS_TOML))
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return server.Run(groupCtx) })
	if err := group.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// assembleNode builds the executor, miner and importer factory, then boots
// the node in its configured role.
func assembleNode(ctx context.Context, store storage.PermanentStorage) (*node.Node, error) {
	exec := executor.New()
	m := miner.New(store, exec, miner.Config{
		Interval:           viper.GetDuration(MINER_INTERVAL_TOML),
		PendingBound:       viper.GetInt(MINER_PENDING_BOUND_TOML),
		EnableGenesis:      viper.GetBool(GENESIS_ENABLE_TOML),
		EnableTestAccounts: viper.GetBool(GENESIS_TEST_ACCOUNTS_TOML),
	})

	factory := func(params node.FollowerParams) (node.Importer, error) {
		client, err := importer.Dial(ctx, params.HTTPURL)
		if err != nil {
			return nil, err
		}
		return importer.New(store, exec, importer.Config{
			Client:       client,
			RPCTimeout:   params.RPCTimeout,
			SyncInterval: params.SyncInterval,
		}), nil
	}

	n := node.New(store, exec, m, factory)
	switch role := viper.GetString(NODE_ROLE_TOML); role {
	case "leader":
		if err := n.StartLeader(ctx); err != nil {
			return nil, err
		}
	case "follower":
		if err := seedFollowerAccounts(ctx, store); err != nil {
			return nil, err
		}
		if err := n.StartFollower(ctx, node.FollowerParams{
			HTTPURL:      viper.GetString(FOLLOWER_LEADER_HTTP_TOML),
			WSURL:        viper.GetString(FOLLOWER_LEADER_WS_TOML),
			RPCTimeout:   viper.GetDuration(FOLLOWER_RPC_TIMEOUT_TOML),
			SyncInterval: viper.GetDuration(FOLLOWER_SYNC_INTERVAL_TOML),
		}); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown node role %q", role)
	}
	return n, nil
}

// seedFollowerAccounts mirrors the leader's genesis account funding so the
// follower's re-execution starts from the same state.
func seedFollowerAccounts(ctx context.Context, store storage.PermanentStorage) error {
	if !viper.GetBool(GENESIS_TEST_ACCOUNTS_TOML) {
		return nil
	}
	if _, hasHead, err := store.Head(ctx); err != nil {
		return err
	} else if hasHead {
		return nil
	}
	return store.SaveAccounts(ctx, chain.TestAccounts())
}

func newStore(ctx context.Context) (storage.PermanentStorage, error) {
	switch backend := viper.GetString(STORAGE_BACKEND_TOML); backend {
	case "memory":
		log.Info("using in-memory storage, state will not survive a restart")
		return memory.New(), nil
	case "postgres":
		store, err := pg.New(ctx, pg.Config{
			URI:             databaseURI(),
			MaxOpen:         viper.GetInt(DATABASE_MAX_OPEN_CONNECTIONS_TOML),
			MaxIdle:         viper.GetInt(DATABASE_MAX_IDLE_CONNECTIONS_TOML),
			MaxConnLifetime: viper.GetDuration(DATABASE_MAX_CONN_LIFETIME_TOML),
		})
		if err != nil {
			return nil, err
		}
		if viper.GetBool(PROM_DB_STATS_TOML) {
			prom.RegisterDBCollector(viper.GetString(DATABASE_NAME_TOML), store.DB())
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

func databaseURI() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		viper.GetString(DATABASE_USER_TOML),
		viper.GetString(DATABASE_PASSWORD_TOML),
		viper.GetString(DATABASE_HOSTNAME_TOML),
		viper.GetInt(DATABASE_PORT_TOML),
		viper.GetString(DATABASE_NAME_TOML),
	)
}

func startMetrics() {
	if !viper.GetBool(PROM_METRICS_TOML) {
		return
	}
	prom.Init()
	if viper.GetBool(PROM_HTTP_TOML) {
		addr := fmt.Sprintf("%s:%s",
			viper.GetString(PROM_HTTP_ADDR_TOML),
			viper.GetString(PROM_HTTP_PORT_TOML))
		log.WithField("addr", addr).Info("serving prometheus metrics")
		prom.Serve(addr)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	flags := runCmd.PersistentFlags()

	flags.String(RPC_ADDRESS_CLI, "0.0.0.0:3000", "json-rpc listen address")
	flags.String(STORAGE_BACKEND_CLI, "memory", "storage backend (memory, postgres)")
	flags.Duration(MINER_INTERVAL_CLI, time.Second, "block production interval")
	flags.Int(MINER_PENDING_BOUND_CLI, chain.DefaultPendingBound, "pending pool bound")
	flags.Bool(GENESIS_ENABLE_CLI, true, "mine the genesis block on first start")
	flags.Bool(GENESIS_TEST_ACCOUNTS_CLI, false, "fund the well-known test accounts at genesis")
	flags.String(NODE_ROLE_CLI, "leader", "initial role (leader, follower)")
	flags.String(FOLLOWER_LEADER_HTTP_CLI, "", "leader json-rpc http url")
	flags.String(FOLLOWER_LEADER_WS_CLI, "", "leader json-rpc ws url")
	flags.Duration(FOLLOWER_RPC_TIMEOUT_CLI, 2*time.Second, "leader rpc timeout")
	flags.Duration(FOLLOWER_SYNC_INTERVAL_CLI, importer.DefaultSyncInterval, "leader polling interval")

	flags.String(DATABASE_NAME_CLI, "stratus", "database name")
	flags.String(DATABASE_HOSTNAME_CLI, "localhost", "database hostname")
	flags.Int(DATABASE_PORT_CLI, 5432, "database port")
	flags.String(DATABASE_USER_CLI, "", "database user")
	flags.String(DATABASE_PASSWORD_CLI, "", "database password")
	flags.Int(DATABASE_MAX_IDLE_CONNECTIONS_CLI, 2, "database max idle connections")
	flags.Int(DATABASE_MAX_OPEN_CONNECTIONS_CLI, 8, "database max open connections")
	flags.Duration(DATABASE_MAX_CONN_LIFETIME_CLI, 0, "database max connection lifetime")

	flags.Bool(PROM_METRICS_CLI, false, "enable prometheus metrics")
	flags.Bool(PROM_HTTP_CLI, false, "enable prometheus http service")
	flags.String(PROM_HTTP_ADDR_CLI, "127.0.0.1", "prometheus http host")
	flags.String(PROM_HTTP_PORT_CLI, "8086", "prometheus http port")
	flags.Bool(PROM_DB_STATS_CLI, false, "enables prometheus db stats")

	bind(flags, RPC_ADDRESS_TOML, RPC_ADDRESS, RPC_ADDRESS_CLI)
	bind(flags, STORAGE_BACKEND_TOML, STORAGE_BACKEND, STORAGE_BACKEND_CLI)
	bind(flags, MINER_INTERVAL_TOML, MINER_INTERVAL, MINER_INTERVAL_CLI)
	bind(flags, MINER_PENDING_BOUND_TOML, MINER_PENDING_BOUND, MINER_PENDING_BOUND_CLI)
	bind(flags, GENESIS_ENABLE_TOML, GENESIS_ENABLE, GENESIS_ENABLE_CLI)
	bind(flags, GENESIS_TEST_ACCOUNTS_TOML, GENESIS_TEST_ACCOUNTS, GENESIS_TEST_ACCOUNTS_CLI)
	bind(flags, NODE_ROLE_TOML, NODE_ROLE, NODE_ROLE_CLI)
	bind(flags, FOLLOWER_LEADER_HTTP_TOML, FOLLOWER_LEADER_HTTP, FOLLOWER_LEADER_HTTP_CLI)
	bind(flags, FOLLOWER_LEADER_WS_TOML, FOLLOWER_LEADER_WS, FOLLOWER_LEADER_WS_CLI)
	bind(flags, FOLLOWER_RPC_TIMEOUT_TOML, FOLLOWER_RPC_TIMEOUT, FOLLOWER_RPC_TIMEOUT_CLI)
	bind(flags, FOLLOWER_SYNC_INTERVAL_TOML, FOLLOWER_SYNC_INTERVAL, FOLLOWER_SYNC_INTERVAL_CLI)

	bind(flags, DATABASE_NAME_TOML, DATABASE_NAME, DATABASE_NAME_CLI)
	bind(flags, DATABASE_HOSTNAME_TOML, DATABASE_HOSTNAME, DATABASE_HOSTNAME_CLI)
	bind(flags, DATABASE_PORT_TOML, DATABASE_PORT, DATABASE_PORT_CLI)
	bind(flags, DATABASE_USER_TOML, DATABASE_USER, DATABASE_USER_CLI)
	bind(flags, DATABASE_PASSWORD_TOML, DATABASE_PASSWORD, DATABASE_PASSWORD_CLI)
	bind(flags, DATABASE_MAX_IDLE_CONNECTIONS_TOML, DATABASE_MAX_IDLE_CONNECTIONS, DATABASE_MAX_IDLE_CONNECTIONS_CLI)
	bind(flags, DATABASE_MAX_OPEN_CONNECTIONS_TOML, DATABASE_MAX_OPEN_CONNECTIONS, DATABASE_MAX_OPEN_CONNECTIONS_CLI)
	bind(flags, DATABASE_MAX_CONN_LIFETIME_TOML, DATABASE_MAX_CONN_LIFETIME, DATABASE_MAX_CONN_LIFETIME_CLI)

	bind(flags, PROM_METRICS_TOML, PROM_METRICS, PROM_METRICS_CLI)
	bind(flags, PROM_HTTP_TOML, PROM_HTTP, PROM_HTTP_CLI)
	bind(flags, PROM_HTTP_ADDR_TOML, PROM_HTTP_ADDR, PROM_HTTP_ADDR_CLI)
	bind(flags, PROM_HTTP_PORT_TOML, PROM_HTTP_PORT, PROM_HTTP_PORT_CLI)
	bind(flags, PROM_DB_STATS_TOML, PROM_DB_STATS, PROM_DB_STATS_CLI)
}
