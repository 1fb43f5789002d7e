package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SnapshotHits tracks reads that found an entry, by part.
	SnapshotHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_snapshot_hits_total",
			Help: "Total number of snapshot reads that found an entry",
		},
		[]string{"part"}, // "data", "meta"
	)

	// SnapshotMisses tracks reads that found nothing, by part.
	SnapshotMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_snapshot_misses_total",
			Help: "Total number of snapshot reads that found no entry",
		},
		[]string{"part"},
	)

	// SnapshotWrites tracks stored snapshots by source.
	SnapshotWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_snapshot_writes_total",
			Help: "Total number of snapshots written",
		},
		[]string{"source"},
	)

	// SnapshotSize tracks the size of the latest stored snapshot by source.
	SnapshotSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "market_snapshot_size_bytes",
			Help: "Size of the latest stored snapshot in bytes",
		},
		[]string{"source"},
	)

	// SnapshotErrors tracks store operation errors.
	SnapshotErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_snapshot_errors_total",
			Help: "Total number of snapshot store operation errors",
		},
		[]string{"operation"}, // "get", "get_meta", "set", "delete"
	)
)
