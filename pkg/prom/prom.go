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
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package prom

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const (
	namespace = "stratus"

	connSubsystem  = "connections"
	statsSubsystem = "stats"
)

var (
	metrics bool

	transactionsAdmitted prometheus.Counter
	blocksMined          prometheus.Counter
	blocksImported       prometheus.Counter
	commitFailures       prometheus.Counter

	pendingPoolSize prometheus.Gauge
	chainHead       prometheus.Gauge
)

func Init() {
	metrics = true

	transactionsAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: statsSubsystem,
		Name:      "transactions_admitted",
		Help:      "Number of transactions admitted to the pending pool",
	})

	blocksMined = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: statsSubsystem,
		Name:      "blocks_mined",
		Help:      "Number of blocks mined by the interval miner",
	})

	blocksImported = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: statsSubsystem,
		Name:      "blocks_imported",
		Help:      "Number of blocks imported from the leader",
	})

	commitFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: statsSubsystem,
		Name:      "commit_failures",
		Help:      "Number of failed block commit attempts",
	})

	pendingPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: statsSubsystem,
		Name:      "pending_pool_size",
		Help:      "Number of executed transactions waiting to be mined",
	})

	chainHead = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: statsSubsystem,
		Name:      "chain_head",
		Help:      "Highest committed block number",
	})
}

// Serve starts the prometheus http endpoint.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.WithError(err).Error("prometheus http server failed")
		}
	}()
}

// RegisterDBCollector creates a metric collector for the given connection.
func RegisterDBCollector(name string, db DBStatsGetter) {
	if metrics {
		prometheus.Register(NewDBStatsCollector(name, db))
	}
}

// IncTransactionsAdmitted increments the number of admitted transactions.
func IncTransactionsAdmitted() {
	if metrics {
		transactionsAdmitted.Inc()
	}
}

// IncBlocksMined increments the number of mined blocks.
func IncBlocksMined() {
	if metrics {
		blocksMined.Inc()
	}
}

// IncBlocksImported increments the number of imported blocks.
func IncBlocksImported() {
	if metrics {
		blocksImported.Inc()
	}
}

// IncCommitFailures increments the number of failed commit attempts.
func IncCommitFailures() {
	if metrics {
		commitFailures.Inc()
	}
}

// SetPendingPoolSize records the pending pool size.
func SetPendingPoolSize(n int) {
	if metrics {
		pendingPoolSize.Set(float64(n))
	}
}

// SetChainHead records the highest committed block number.
func SetChainHead(n uint64) {
	if metrics {
		chainHead.Set(float64(n))
	}
}
