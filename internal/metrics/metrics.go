// Package metrics holds the Prometheus instruments for ingestion and the
// processing pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the kline pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	PagesFetched     prometheus.Counter
	FetchRetries     prometheus.Counter
	FetchFailures    prometheus.Counter
	CandlesAssembled prometheus.Counter
	CacheHits        prometheus.Counter
	StageDuration    *prometheus.HistogramVec // labels: stage
}

// New creates the metrics and registers them on reg.
// Passing nil registers on prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		PagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "klines_pages_fetched_total",
			Help: "Kline pages successfully fetched from the source",
		}),
		FetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "klines_fetch_retries_total",
			Help: "Page fetch attempts that were retried",
		}),
		FetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "klines_fetch_failures_total",
			Help: "Page fetches that failed after exhausting retries",
		}),
		CandlesAssembled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "klines_candles_assembled_total",
			Help: "Unique candles added to assembled series",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "klines_cache_hits_total",
			Help: "Pages served from the page cache",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "klines_stage_duration_seconds",
			Help:    "Duration of pipeline stages",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 15, 60, 300},
		}, []string{"stage"}),
	}
	reg.MustRegister(
		m.PagesFetched,
		m.FetchRetries,
		m.FetchFailures,
		m.CandlesAssembled,
		m.CacheHits,
		m.StageDuration,
	)
	return m
}

func (m *Metrics) IncPages() {
	if m != nil {
		m.PagesFetched.Inc()
	}
}

func (m *Metrics) IncRetries() {
	if m != nil {
		m.FetchRetries.Inc()
	}
}

func (m *Metrics) IncFailures() {
	if m != nil {
		m.FetchFailures.Inc()
	}
}

func (m *Metrics) AddCandles(n int) {
	if m != nil && n > 0 {
		m.CandlesAssembled.Add(float64(n))
	}
}

func (m *Metrics) IncCacheHits() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

// ObserveStage records how long a named stage took since start.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m != nil {
		m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}
