// Package metrics holds the Prometheus collectors shared across the service.
package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/bookcost/internal/domain"
)

const namespace = "bookcost"

var (
	EstimateLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "estimate_latency_seconds",
		Help:      "Time spent computing one cost estimate by source",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
	}, []string{"source"})

	EstimatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "estimates_total",
		Help:      "Cost estimates applied by source and fill outcome",
	}, []string{"source", "fill"})

	StaleResultsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stale_results_discarded_total",
		Help:      "Estimates discarded because a newer computation was issued",
	})

	SnapshotsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshots_total",
		Help:      "Order book snapshots received by exchange and symbol",
	}, []string{"exchange", "symbol"})

	InvalidLevelsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "invalid_levels_total",
		Help:      "Wire book entries dropped as invalid",
	}, []string{"exchange", "symbol"})

	FeedReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_reconnects_total",
		Help:      "Feed reconnect attempts scheduled after a failure or drop",
	})

	FeedState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "feed_state",
		Help:      "1 for the current feed connection state, 0 otherwise",
	}, []string{"state"})

	ExternalFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "external_estimator_failures_total",
		Help:      "External estimator calls that fell back, by reason",
	}, []string{"reason"})

	ArchivedSnapshotsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "archived_snapshots_total",
		Help:      "Snapshots written to object storage",
	})
)

var feedStates = []domain.ConnState{
	domain.StateConnecting, domain.StateConnected, domain.StateDisconnected, domain.StateError,
}

// SetFeedState marks s as the only active feed state.
func SetFeedState(s domain.ConnState) {
	for _, st := range feedStates {
		v := 0.0
		if st == s {
			v = 1
		}
		FeedState.WithLabelValues(string(st)).Set(v)
	}
}

// Init registers every collector on a fresh registry.
func Init(logger *slog.Logger) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	toRegister := []prometheus.Collector{
		EstimateLatencySeconds, EstimatesTotal, StaleResultsTotal,
		SnapshotsTotal, InvalidLevelsTotal, FeedReconnectsTotal, FeedState,
		ExternalFailuresTotal, ArchivedSnapshotsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range toRegister {
		if err := reg.Register(c); err != nil {
			logger.Warn("metrics: register collector", slog.String("error", err.Error()))
		}
	}
	logger.Info("prometheus metrics initialized")
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
