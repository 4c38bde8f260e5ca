// Package metrics holds the Prometheus collectors of the document storage service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeConflict = "conflict"
	OutcomeNotFound = "not_found"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
//
// Collectors:
//   - erpdrive_drive_requests_total{operation,outcome}
//   - erpdrive_drive_request_duration_seconds{operation}
//   - erpdrive_folder_resolutions_total{result} - "reused", "created", "peer"
//   - erpdrive_document_deletes_total{phase,outcome}
//   - erpdrive_token_refreshes_total{outcome}
type Metrics struct {
	DriveRequests     *prometheus.CounterVec
	DriveDuration     *prometheus.HistogramVec
	FolderResolutions *prometheus.CounterVec
	DocumentDeletes   *prometheus.CounterVec
	TokenRefreshes    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DriveRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "erpdrive_drive_requests_total",
				Help: "Drive API calls by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		DriveDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "erpdrive_drive_request_duration_seconds",
				Help:    "Drive API call latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		FolderResolutions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "erpdrive_folder_resolutions_total",
				Help: "Folder ensure calls by result",
			},
			[]string{"result"},
		),
		DocumentDeletes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "erpdrive_document_deletes_total",
				Help: "Document delete phases by outcome",
			},
			[]string{"phase", "outcome"},
		),
		TokenRefreshes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "erpdrive_token_refreshes_total",
				Help: "Service-account token exchanges by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// ObserveDrive records one Drive API call.
func (m *Metrics) ObserveDrive(operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.DriveRequests.WithLabelValues(operation, outcome).Inc()
	m.DriveDuration.WithLabelValues(operation).Observe(seconds)
}

func (m *Metrics) FolderResolved(result string) {
	if m == nil {
		return
	}
	m.FolderResolutions.WithLabelValues(result).Inc()
}

func (m *Metrics) DocumentDeleted(phase, outcome string) {
	if m == nil {
		return
	}
	m.DocumentDeletes.WithLabelValues(phase, outcome).Inc()
}

func (m *Metrics) TokenRefreshed(outcome string) {
	if m == nil {
		return
	}
	m.TokenRefreshes.WithLabelValues(outcome).Inc()
}
