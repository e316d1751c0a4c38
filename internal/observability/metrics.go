// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the detector.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Stream metrics
	BatchesReceived prometheus.Counter
	Candidates      prometheus.Counter
	Heartbeats      *prometheus.CounterVec
	TradesEmitted   *prometheus.CounterVec
	InFlightFetches prometheus.Gauge
	WatchedAssets   prometheus.Gauge

	// Connection metrics
	Reconnects prometheus.Counter
	Stale      prometheus.Counter

	// Latency metrics
	RPCCallLatency *prometheus.HistogramVec

	// Sink metrics
	SinkWriteDuration *prometheus.HistogramVec
	SinkErrors        *prometheus.CounterVec

	// Health metrics
	LastTradeTimestamp prometheus.Gauge
}

// NewMetrics creates metrics registered on reg.
// A nil reg creates unregistered collectors.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "swap_detector"
	}
	f := promauto.With(reg)

	return &Metrics{
		BatchesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "batches_received_total",
			Help:      "Total number of log batches received from the subscription",
		}),
		Candidates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "candidates_total",
			Help:      "Total number of log batches that passed the candidate filter",
		}),
		Heartbeats: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "heartbeats_total",
			Help:      "Total number of heartbeats by reason",
		}, []string{"reason"}),
		TradesEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "trades_emitted_total",
			Help:      "Total number of trade events emitted by side",
		}, []string{"side"}),
		InFlightFetches: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "in_flight_fetches",
			Help:      "Number of transaction fetches currently in flight",
		}),
		WatchedAssets: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "watched_assets",
			Help:      "Number of assets in the watch set",
		}),

		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "reconnects_total",
			Help:      "Total number of forced reconnects",
		}),
		Stale: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "stale_total",
			Help:      "Total number of stale connection detections",
		}),

		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		SinkWriteDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "write_duration_seconds",
			Help:      "Trade sink write duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sink"}),
		SinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "errors_total",
			Help:      "Total number of trade sink write errors",
		}, []string{"sink"}),

		LastTradeTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_trade_timestamp",
			Help:      "Unix timestamp of the last emitted trade",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordBatch increments the received batches counter.
func (m *Metrics) RecordBatch() {
	if m == nil {
		return
	}
	m.BatchesReceived.Inc()
}

// RecordCandidate increments the candidates counter.
func (m *Metrics) RecordCandidate() {
	if m == nil {
		return
	}
	m.Candidates.Inc()
}

// RecordHeartbeat records a heartbeat by reason.
func (m *Metrics) RecordHeartbeat(reason string) {
	if m == nil {
		return
	}
	m.Heartbeats.WithLabelValues(reason).Inc()
}

// RecordTrade records an emitted trade.
func (m *Metrics) RecordTrade(side string) {
	if m == nil {
		return
	}
	m.TradesEmitted.WithLabelValues(side).Inc()
	m.LastTradeTimestamp.Set(float64(time.Now().Unix()))
}

// AddInFlight adjusts the in-flight fetch gauge.
func (m *Metrics) AddInFlight(delta float64) {
	if m == nil {
		return
	}
	m.InFlightFetches.Add(delta)
}

// SetWatchedAssets sets the watch set size gauge.
func (m *Metrics) SetWatchedAssets(n int) {
	if m == nil {
		return
	}
	m.WatchedAssets.Set(float64(n))
}

// RecordStale increments the stale detections counter.
func (m *Metrics) RecordStale() {
	if m == nil {
		return
	}
	m.Stale.Inc()
}

// RecordReconnect increments the forced reconnects counter.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

// ObserveRPC records RPC call latency. Matches solana.WithLatencyObserver.
func (m *Metrics) ObserveRPC(method string, d time.Duration) {
	if m == nil {
		return
	}
	m.RPCCallLatency.WithLabelValues(method).Observe(d.Seconds())
}

// RecordSinkWrite records a sink write and its outcome.
func (m *Metrics) RecordSinkWrite(sink string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.SinkWriteDuration.WithLabelValues(sink).Observe(d.Seconds())
	if err != nil {
		m.SinkErrors.WithLabelValues(sink).Inc()
	}
}
