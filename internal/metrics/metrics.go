// Package metrics exposes the oracle service's Prometheus instrumentation:
// read outcomes, feed latency, breaker trips, and the freeze gauge.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/driftwoodfi/oracled/internal/oracle"
	"github.com/driftwoodfi/oracled/internal/oracle/feed"
)

// Registry holds every oracled metric, registered against its own
// Prometheus registerer so tests can run side by side.
type Registry struct {
	registry *prometheus.Registry

	PriceReads     *prometheus.CounterVec
	PriceAlive     *prometheus.GaugeVec
	FrozenAssets   prometheus.Gauge
	StateMutations *prometheus.CounterVec
	FeedRequests   *prometheus.HistogramVec
	FeedErrors     *prometheus.CounterVec
}

// New creates and registers the oracled metric set.
func New() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		PriceReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oracled_price_reads_total",
				Help: "Price reads served by the aggregator, by asset and outcome",
			},
			[]string{"asset", "outcome"},
		),

		PriceAlive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "oracled_price_alive",
				Help: "1 when the asset's last reading was fresh, 0 otherwise",
			},
			[]string{"asset"},
		),

		FrozenAssets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "oracled_frozen_assets",
				Help: "Number of currently frozen assets",
			},
		),

		StateMutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oracled_state_mutations_total",
				Help: "Oracle state mutations, by event type",
			},
			[]string{"event"},
		),

		FeedRequests: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oracled_feed_request_duration_seconds",
				Help:    "Upstream feed request latency, by vendor",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"vendor"},
		),

		FeedErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oracled_feed_errors_total",
				Help: "Failed upstream feed requests, by vendor and feed",
			},
			[]string{"vendor", "feed"},
		),
	}

	r.registry.MustRegister(
		r.PriceReads,
		r.PriceAlive,
		r.FrozenAssets,
		r.StateMutations,
		r.FeedRequests,
		r.FeedErrors,
	)
	return r
}

// Gatherer returns the registry for the /metrics endpoint.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.registry }

// ObserveRead implements oracle.ReadObserver.
func (r *Registry) ObserveRead(asset oracle.Asset, outcome string, alive bool) {
	r.PriceReads.WithLabelValues(string(asset), outcome).Inc()
	v := 0.0
	if alive {
		v = 1.0
	}
	r.PriceAlive.WithLabelValues(string(asset)).Set(v)
}

// Publish implements oracle.EventSink, counting mutations and tracking the
// freeze gauge from the event stream.
func (r *Registry) Publish(ev oracle.Event) {
	r.StateMutations.WithLabelValues(string(ev.Type)).Inc()
	switch ev.Type {
	case oracle.EventAssetFrozen:
		r.FrozenAssets.Inc()
	case oracle.EventAssetUnfrozen:
		r.FrozenAssets.Dec()
	}
}

// FeedCallback returns a feed.MetricsCallback recording latency and errors.
func (r *Registry) FeedCallback() feed.MetricsCallback {
	return func(vendor feed.Vendor, address string, duration time.Duration, err error) {
		r.FeedRequests.WithLabelValues(string(vendor)).Observe(duration.Seconds())
		if err != nil {
			r.FeedErrors.WithLabelValues(string(vendor), address).Inc()
		}
	}
}
