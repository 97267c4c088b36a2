package shape

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shapekit_requests_total",
		Help: "Total HTTP requests by path",
	}, []string{"path"})
	JobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shapekit_jobs_total",
		Help: "Total toolkit jobs by tool and status",
	}, []string{"tool", "status"})
	JobDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shapekit_job_duration_ms",
		Help:    "Job duration in milliseconds",
		Buckets: []float64{5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000, 10000},
	}, []string{"tool"})
	UploadBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "shapekit_upload_bytes",
		Help:    "Uploaded archive size in bytes",
		Buckets: []float64{1 << 10, 10 << 10, 100 << 10, 1 << 20, 10 << 20, 64 << 20},
	})
	DedupeRemovedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shapekit_dedupe_removed_total",
		Help: "Total features removed as duplicates",
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobDurationMs)
	prometheus.MustRegister(UploadBytes)
	prometheus.MustRegister(DedupeRemovedTotal)
}

// MetricsHandler returns the Prometheus scrape handler for /metrics.
func MetricsHandler() http.Handler { return promhttp.Handler() }
