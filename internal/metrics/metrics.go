// Package metrics provides Prometheus metrics for the upload server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the Prometheus registry for all server metrics.
var Registry = prometheus.NewRegistry()

func init() {
	// Register standard Go metrics
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Metrics holds all Prometheus metrics for the upload server. The kind label
// distinguishes image and paste collections.
type Metrics struct {
	UploadsTotal   *prometheus.CounterVec // accepted uploads, labels: kind
	UploadBytes    *prometheus.CounterVec // accepted payload bytes, labels: kind
	EvictionsTotal *prometheus.CounterVec // objects displaced by newer uploads, labels: kind

	AdmissionDenied    prometheus.Counter // uploads rejected by the rate limiter
	UnsupportedContent prometheus.Counter // uploads rejected by content classification
	PayloadTooLarge    prometheus.Counter // uploads rejected for exceeding the size cap
}

// New initializes all metrics on the package registry.
func New() *Metrics {
	return NewWith(Registry)
}

// NewWith initializes all metrics on reg. Tests use this to avoid duplicate
// registration on the package registry.
func NewWith(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		UploadsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "snapbin_uploads_total",
			Help: "Total accepted uploads",
		}, []string{"kind"}),
		UploadBytes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "snapbin_upload_bytes_total",
			Help: "Total payload bytes of accepted uploads",
		}, []string{"kind"}),
		EvictionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "snapbin_evictions_total",
			Help: "Total objects deleted to make room for newer uploads",
		}, []string{"kind"}),
		AdmissionDenied: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "snapbin_admission_denied_total",
			Help: "Total uploads rejected by the per-client rate limiter",
		}),
		UnsupportedContent: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "snapbin_unsupported_content_total",
			Help: "Total uploads rejected because the payload format was not recognized",
		}),
		PayloadTooLarge: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "snapbin_payload_too_large_total",
			Help: "Total uploads rejected for exceeding the size cap",
		}),
	}
}
