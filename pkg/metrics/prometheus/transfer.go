// Package prometheus holds the Prometheus implementations of the component
// Metrics interfaces. Each constructor registers its collectors on the
// shared registry and must be called at most once per registry.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dicomgw/pkg/errkind"
	"github.com/marmos91/dicomgw/pkg/metrics"
	"github.com/marmos91/dicomgw/pkg/transfer"
)

// durationBucketsMs covers object transfers from a LAN blob store up to a
// slow uplink.
var durationBucketsMs = []float64{5, 10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000}

type transferMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	bytes      *prometheus.CounterVec
	queueDepth *prometheus.GaugeVec
}

// NewTransferMetrics returns metrics shared by the upload and fetch pools,
// or nil when metrics are disabled.
func NewTransferMetrics() transfer.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	return &transferMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dicomgw_transfer_operations_total",
				Help: "Blob transfers by operation and outcome",
			},
			[]string{"operation", "status"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dicomgw_transfer_duration_milliseconds",
				Help:    "Duration of blob transfers in milliseconds",
				Buckets: durationBucketsMs,
			},
			[]string{"operation"},
		),
		bytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dicomgw_transfer_bytes_total",
				Help: "Bytes moved by successful transfers",
			},
			[]string{"operation"},
		),
		queueDepth: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dicomgw_transfer_queue_depth",
				Help: "Items waiting in worker inbound queues",
			},
			[]string{"operation"},
		),
	}
}

func (m *transferMetrics) ObserveTransfer(op string, d time.Duration, bytes int64, err error) {
	m.operations.WithLabelValues(op, outcome(err)).Inc()
	m.duration.WithLabelValues(op).Observe(float64(d.Microseconds()) / 1000)
	if err == nil && bytes > 0 {
		m.bytes.WithLabelValues(op).Add(float64(bytes))
	}
}

func (m *transferMetrics) SetQueueDepth(op string, depth int) {
	m.queueDepth.WithLabelValues(op).Set(float64(depth))
}

// outcome labels an error by kind, or "success".
func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return errkind.KindOf(err).String()
}
