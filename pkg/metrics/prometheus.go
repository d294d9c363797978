package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	syncOutcomes  *prometheus.CounterVec
	fetchAttempts *prometheus.CounterVec
	rowsDropped   *prometheus.CounterVec
	staleWrites   *prometheus.CounterVec
	bestPrice     *prometheus.GaugeVec
	syncDuration  *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		syncOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricesync_records_total",
				Help: "Record reconciliation outcomes by region",
			},
			[]string{"region", "outcome"},
		),
		fetchAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricesync_fetch_attempts_total",
				Help: "Report downloads attempted per report family",
			},
			[]string{"class"},
		),
		rowsDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricesync_rows_dropped_total",
				Help: "Payload rows dropped during parsing",
			},
			[]string{"reason"},
		),
		staleWrites: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricesync_stale_writes_total",
				Help: "Cache writes rejected by the monotonic rule",
			},
			[]string{"class"},
		),
		bestPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pricesync_export_price",
				Help: "Latest derived export price per region",
			},
			[]string{"region"},
		),
		syncDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricesync_pass_duration_seconds",
				Help:    "Duration of sync and backfill passes",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
	}
}

// RecordSyncOutcome counts one reconciled record.
func (r *Recorder) RecordSyncOutcome(region, outcome string) {
	r.syncOutcomes.WithLabelValues(region, outcome).Inc()
}

// RecordFetchAttempt counts one report download.
func (r *Recorder) RecordFetchAttempt(class string) {
	r.fetchAttempts.WithLabelValues(class).Inc()
}

// RecordRowDropped counts one dropped payload row.
func (r *Recorder) RecordRowDropped(reason string) {
	r.rowsDropped.WithLabelValues(reason).Inc()
}

// RecordStaleWrite counts one monotonic rejection.
func (r *Recorder) RecordStaleWrite(class string) {
	r.staleWrites.WithLabelValues(class).Inc()
}

// RecordBestPrice publishes the latest export price for a region.
func (r *Recorder) RecordBestPrice(region string, price float64) {
	r.bestPrice.WithLabelValues(region).Set(price)
}

// RecordSyncDuration records a pass duration in seconds.
func (r *Recorder) RecordSyncDuration(kind string, seconds float64) {
	r.syncDuration.WithLabelValues(kind).Observe(seconds)
}
