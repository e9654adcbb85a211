// Package observability exposes the service's prometheus metrics.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// JobsTotal counts jobs by kind and terminal status.
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nomusic",
		Name:      "jobs_total",
		Help:      "Jobs by kind and terminal status.",
	}, []string{"kind", "status"})

	// JobsActive tracks currently running jobs by kind.
	JobsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nomusic",
		Name:      "jobs_active",
		Help:      "Jobs currently running.",
	}, []string{"kind"})

	// QueueDepth tracks pending download queue items.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nomusic",
		Name:      "download_queue_depth",
		Help:      "Pending items in the download queue.",
	})

	// SeparatorSeconds observes wall time per separator run.
	SeparatorSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nomusic",
		Name:      "separator_seconds",
		Help:      "Wall time of separator runs.",
		Buckets:   prometheus.ExponentialBuckets(10, 2, 10),
	}, []string{"driver"})

	// DownloadRetries counts download retry attempts.
	DownloadRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nomusic",
		Name:      "download_retries_total",
		Help:      "Download retry attempts.",
	})
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
