// Package metrics exposes the Prometheus instrumentation for cache hit
// rate, fetch latency and decode throughput (ambient stack: every
// package-level collector here is registered at import time the same way
// the teacher's metrics package registers its RPC collectors).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var CacheRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "casc_cache_requests_total",
		Help: "Cache lookups by layer and outcome",
	},
	[]string{"layer", "outcome"}, // layer: mem|disk, outcome: hit|miss
)

var FetchLatencyHistogram = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "casc_fetch_latency_seconds",
		Help:    "Transport fetch latency",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	},
	[]string{"transport", "kind"}, // transport: tact|ribbit|local
)

var FetchErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "casc_fetch_errors_total",
		Help: "Transport fetch failures by transport and reason",
	},
	[]string{"transport", "reason"},
)

var DecodeBytesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "casc_decode_bytes_total",
		Help: "Bytes produced by the BLTE decoder",
	},
	[]string{"stage"}, // stage: compressed|decompressed
)

var DecodeLatencyHistogram = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "casc_decode_latency_seconds",
		Help:    "BLTE decode latency per payload",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	},
	[]string{"mode"}, // BLTE chunk mode: N|Z|4|F|E
)

var ResolveLatencyHistogram = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "casc_resolve_latency_seconds",
		Help:    "End-to-end resolve latency, name/FDID to decoded bytes",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
	},
	[]string{"outcome"},
)

var InFlightFetches = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "casc_inflight_fetches",
		Help: "Number of transport fetches currently in flight",
	},
)
