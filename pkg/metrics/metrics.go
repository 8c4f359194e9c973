package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Placement metrics
	FilesPlacedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_files_placed_total",
			Help: "Total number of data files placed, by volume",
		},
		[]string{"volume"},
	)

	PlacementErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_placement_errors_total",
			Help: "Total number of failed placement attempts",
		},
	)

	// Rewrite metrics
	RewriteRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_rewrite_rows_total",
			Help: "Total number of metadata rows rewritten, by row kind",
		},
		[]string{"kind"},
	)

	RewriteConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_rewrite_conflicts_total",
			Help: "Total number of rewrite passes aborted by concurrent structural changes",
		},
	)

	RewritePendingRows = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quarry_rewrite_pending_rows",
			Help: "Rows matching a replacement rule that could not be rewritten yet",
		},
	)

	RewriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quarry_rewrite_duration_seconds",
			Help:    "Time taken by one rewrite pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Decommission metrics
	ResidualReferences = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quarry_residual_references",
			Help: "References still pointing at a draining volume",
		},
		[]string{"volume"},
	)

	VolumesByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quarry_volumes_total",
			Help: "Number of volumes by lifecycle state",
		},
		[]string{"state"},
	)

	VerificationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quarry_decommission_verification_duration_seconds",
			Help:    "Time taken by one decommission verification pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(FilesPlacedTotal)
	prometheus.MustRegister(PlacementErrorsTotal)
	prometheus.MustRegister(RewriteRowsTotal)
	prometheus.MustRegister(RewriteConflictsTotal)
	prometheus.MustRegister(RewritePendingRows)
	prometheus.MustRegister(RewriteDuration)
	prometheus.MustRegister(ResidualReferences)
	prometheus.MustRegister(VolumesByState)
	prometheus.MustRegister(VerificationDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation for histogram observation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time into a histogram
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(t.Duration().Seconds())
}
