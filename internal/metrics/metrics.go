// Package metrics defines the Prometheus collectors instrumenting the
// store, indexer, mempool tracker, caches, query layer and JSON-RPC
// server, grounded on raidoNetwork-RDO_v2's metrics packages (package-level
// promauto collectors, one file per subsystem) and served the way
// raidoNetwork-RDO_v2/metrics/service.go exposes promhttp.Handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Store

	StoreCommitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "electrscash_store_commit_duration_seconds",
		Help: "Duration of a single indexer batch commit to the store.",
	})
	StoreRowsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "electrscash_store_rows_written_total",
		Help: "Rows written to the store, by column family.",
	}, []string{"family"})

	// Indexer

	IndexerTipHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "electrscash_indexer_tip_height",
		Help: "Height of the most recently indexed block.",
	})
	IndexerBlocksIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "electrscash_indexer_blocks_indexed_total",
		Help: "Blocks successfully indexed since startup.",
	})
	IndexerReorgsHandled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "electrscash_indexer_reorgs_total",
		Help: "Reorganizations detected and rolled back.",
	})

	// Mempool

	MempoolTrackedTxs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "electrscash_mempool_tracked_transactions",
		Help: "Transactions currently held in the shadow mempool index.",
	})
	MempoolPollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "electrscash_mempool_poll_duration_seconds",
		Help: "Duration of a full mempool diff cycle against the node.",
	})

	// Caches

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "electrscash_cache_hits_total",
		Help: "Cache lookups served from memory, by cache name.",
	}, []string{"cache"})
	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "electrscash_cache_misses_total",
		Help: "Cache lookups that fell through to the store, by cache name.",
	}, []string{"cache"})

	// Query

	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "electrscash_query_duration_seconds",
		Help: "Duration of a query-layer call, by method.",
	}, []string{"method"})

	// Subscriptions

	SubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "electrscash_subscriptions_active",
		Help: "Live scripthash subscriptions across all connections.",
	})
	NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "electrscash_notifications_sent_total",
		Help: "Scripthash status notifications pushed to clients.",
	})
	NotificationsCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "electrscash_notifications_coalesced_total",
		Help: "Pending notifications overwritten in place before delivery.",
	})

	// JSON-RPC

	RPCConnectionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "electrscash_rpc_connections_active",
		Help: "Live client connections, by transport.",
	}, []string{"transport"})
	RPCConnectionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "electrscash_rpc_connections_rejected_total",
		Help: "Connections refused by the admission controller.",
	})
	RPCRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "electrscash_rpc_request_duration_seconds",
		Help: "Duration of a dispatched JSON-RPC request, by method.",
	}, []string{"method"})
	RPCRequestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "electrscash_rpc_request_errors_total",
		Help: "Dispatched requests that returned a JSON-RPC error, by kind.",
	}, []string{"kind"})
)
