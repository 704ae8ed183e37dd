package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dicomgw/pkg/metrics"
	"github.com/marmos91/dicomgw/pkg/storage"
)

type storageMetrics struct {
	freeBytes    prometheus.Gauge
	pressure     prometheus.Gauge
	sampleErrors prometheus.Counter
}

// NewStorageMetrics returns storage monitor metrics, or nil when metrics
// are disabled.
func NewStorageMetrics() storage.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	return &storageMetrics{
		freeBytes: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "dicomgw_storage_free_bytes",
			Help: "Free space on the work tree volume",
		}),
		pressure: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "dicomgw_storage_pressure",
			Help: "Disk pressure level: 0 none, 1 throttle, 2 out of resources",
		}),
		sampleErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dicomgw_storage_sample_errors_total",
			Help: "Failed free-space samples",
		}),
	}
}

func (m *storageMetrics) SetFreeBytes(n uint64) {
	m.freeBytes.Set(float64(n))
}

func (m *storageMetrics) SetPressure(p storage.Pressure) {
	m.pressure.Set(float64(p))
}

func (m *storageMetrics) RecordSampleError() {
	m.sampleErrors.Inc()
}
