// Package metrics defines and registers all custom Prometheus metrics for the
// tracking relay. It is the single source of truth for metric names, labels,
// and help strings.
//
// Collectors are registered with the default Prometheus registry on package
// init via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tracking"

// ── Ingest metrics ────────────────────────────────────────────────────────────

// SamplesIngestedTotal counts location samples by outcome.
// Label:
//   - result: "accepted", "duplicate" or "rejected"
var SamplesIngestedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "samples_ingested_total",
		Help:      "Total number of driver location samples, labelled by outcome.",
	},
	[]string{"result"},
)

// SamplesSuspectTotal counts accepted samples whose derived speed was clamped.
var SamplesSuspectTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "samples_suspect_total",
		Help:      "Total number of accepted samples flagged as suspect.",
	},
)

// IngestDuration measures validation plus store update for one sample.
var IngestDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ingest_duration_seconds",
		Help:      "Duration of a single location sample from dequeue to fan-out.",
		Buckets:   prometheus.DefBuckets,
	},
)

// IngestQueueDepth tracks samples waiting in each dispatcher worker channel.
// Label:
//   - worker_id: numeric worker index
var IngestQueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ingest_queue_depth",
		Help:      "Current number of samples pending in each dispatcher worker channel.",
	},
	[]string{"worker_id"},
)

// ── Lifecycle metrics ─────────────────────────────────────────────────────────

// TransitionsTotal counts milestone transitions.
// Labels:
//   - status: target status
//   - result: "applied" or "rejected"
var TransitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transitions_total",
		Help:      "Total number of milestone transitions, by target status and result.",
	},
	[]string{"status", "result"},
)

// ActiveParcels is the number of parcels currently held in memory.
var ActiveParcels = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_parcels",
		Help:      "Number of parcels currently tracked in memory.",
	},
)

// ArchivedParcelsTotal counts delivered parcels moved to the archive.
var ArchivedParcelsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "archived_parcels_total",
		Help:      "Total number of delivered parcels archived and evicted from memory.",
	},
)

// ETAUpdatesTotal counts published ETA revisions.
// Label:
//   - direction: "later", "earlier" or "initial"
var ETAUpdatesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "eta_updates_total",
		Help:      "Total number of ETA revisions published.",
	},
	[]string{"direction"},
)

// ── Relay metrics ─────────────────────────────────────────────────────────────

// RelayConnections is the number of open event channel connections.
var RelayConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "relay_connections",
		Help:      "Number of connections registered with the subscription router.",
	},
)

// RelaySubscriptions is the number of (connection, parcel) subscriptions.
var RelaySubscriptions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "relay_subscriptions",
		Help:      "Number of active parcel subscriptions across all connections.",
	},
)

// FanoutEventsTotal counts events enqueued to subscriber connections.
// Label:
//   - type: event type (e.g. "driver-location-update")
var FanoutEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fanout_events_total",
		Help:      "Total number of events enqueued to subscriber connections.",
	},
	[]string{"type"},
)

// FanoutDroppedTotal counts events discarded because a queue was full.
// Label:
//   - policy: overflow policy in effect ("drop-oldest" or "disconnect")
var FanoutDroppedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fanout_dropped_total",
		Help:      "Total number of events dropped on full outbound queues.",
	},
	[]string{"policy"},
)

// ── Downstream metrics ────────────────────────────────────────────────────────

// DownstreamErrorsTotal counts failed writes to non-critical sinks.
// Label:
//   - sink: "kafka", "rabbitmq", "archive" or "audit"
var DownstreamErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "downstream_errors_total",
		Help:      "Total number of failed writes to downstream sinks.",
	},
	[]string{"sink"},
)
