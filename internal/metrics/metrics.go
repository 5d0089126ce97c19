// Registers:
//
//	#marketfeed_fetch_total
//	#marketfeed_fetch_duration_seconds
//	#marketfeed_records_emitted_total
//	#marketfeed_records_rejected_total
//	#marketfeed_sink_writes_total
//	#marketfeed_stream_messages_total
//	#go_* and process_* system metrics
//
// Handler exposes them for the HTTP API's /metrics route.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marketfeed/config"
)

var (
	once     sync.Once
	registry *prometheus.Registry

	fetchTotal      *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	recordsEmitted  *prometheus.CounterVec
	recordsRejected *prometheus.CounterVec
	sinkWrites      *prometheus.CounterVec
	streamMessages  *prometheus.CounterVec

	usedWeightEnabled atomic.Bool
)

func init() {
	usedWeightEnabled.Store(true)
}

// Init registers the collectors on a private registry. It is safe to call
// more than once; Observe* calls before Init are no-ops.
func Init() {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		fetchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketfeed_fetch_total",
				Help: "Provider fetches by outcome",
			},
			[]string{"provider", "interval", "outcome"},
		)
		fetchDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketfeed_fetch_duration_seconds",
				Help:    "Latency of one provider round trip",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		)
		recordsEmitted = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketfeed_records_emitted_total",
				Help: "Canonical records handed to consumers",
			},
			[]string{"provider"},
		)
		recordsRejected = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketfeed_records_rejected_total",
				Help: "Provider rows dropped during normalization",
			},
			[]string{"provider"},
		)
		sinkWrites = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketfeed_sink_writes_total",
				Help: "Series exports by sink and outcome",
			},
			[]string{"sink", "outcome"},
		)
		streamMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketfeed_stream_messages_total",
				Help: "Live kline messages received",
			},
			[]string{"provider", "symbol"},
		)

		registry.MustRegister(fetchTotal, fetchDuration, recordsEmitted, recordsRejected, sinkWrites, streamMessages)
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Configure applies feature toggles from the metrics config section.
func Configure(cfg config.MetricsConfig) {
	usedWeightEnabled.Store(cfg.UsedWeight)
	if cfg.Prometheus.Enabled {
		Init()
	}
}

// UsedWeightEnabled reports whether provider quota headers should be reported.
func UsedWeightEnabled() bool {
	return usedWeightEnabled.Load()
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveFetch records one provider round trip. An empty kind means success.
func ObserveFetch(provider, interval, kind string, d time.Duration) {
	if fetchTotal == nil {
		return
	}
	outcome := kind
	if outcome == "" {
		outcome = "ok"
	}
	fetchTotal.WithLabelValues(provider, interval, outcome).Inc()
	fetchDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func ObserveRecords(provider string, emitted, rejected int) {
	if recordsEmitted == nil {
		return
	}
	recordsEmitted.WithLabelValues(provider).Add(float64(emitted))
	recordsRejected.WithLabelValues(provider).Add(float64(rejected))
}

func ObserveSinkWrite(sink string, err error) {
	if sinkWrites == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	sinkWrites.WithLabelValues(sink, outcome).Inc()
}

func ObserveStreamMessage(provider, symbol string) {
	if streamMessages == nil {
		return
	}
	streamMessages.WithLabelValues(provider, symbol).Inc()
}
