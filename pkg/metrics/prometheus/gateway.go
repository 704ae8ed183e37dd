package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dicomgw/pkg/dimse"
	"github.com/marmos91/dicomgw/pkg/gateway"
	"github.com/marmos91/dicomgw/pkg/metrics"
)

type gatewayMetrics struct {
	stores       *prometheus.CounterVec
	storeLatency prometheus.Histogram
	throttles    prometheus.Counter
	associations prometheus.Gauge
	completions  prometheus.Counter
	relayed      prometheus.Counter
}

// NewGatewayMetrics returns inbound handler and orchestrator metrics, or
// nil when metrics are disabled.
func NewGatewayMetrics() gateway.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	return &gatewayMetrics{
		stores: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dicomgw_inbound_stores_total",
				Help: "Inbound store requests by response status",
			},
			[]string{"status"},
		),
		storeLatency: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "dicomgw_inbound_store_duration_milliseconds",
			Help:    "Time to persist one inbound object, throttle delay included",
			Buckets: durationBucketsMs,
		}),
		throttles: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dicomgw_inbound_throttled_total",
			Help: "Stores delayed because of disk pressure",
		}),
		associations: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "dicomgw_inbound_active_associations",
			Help: "Open inbound associations",
		}),
		completions: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dicomgw_inbound_completions_total",
			Help: "Associations relayed and notified",
		}),
		relayed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dicomgw_inbound_relayed_objects_total",
			Help: "Objects covered by completion notifications",
		}),
	}
}

func (m *gatewayMetrics) ObserveStore(s dimse.Status, d time.Duration) {
	m.stores.WithLabelValues(s.String()).Inc()
	m.storeLatency.Observe(float64(d.Microseconds()) / 1000)
}

func (m *gatewayMetrics) ObserveThrottle() {
	m.throttles.Inc()
}

func (m *gatewayMetrics) SetActiveAssociations(n int) {
	m.associations.Set(float64(n))
}

func (m *gatewayMetrics) ObserveCompletion(objects int) {
	m.completions.Inc()
	m.relayed.Add(float64(objects))
}

// NewMetricsSet builds every engine metric once. Fields are nil when
// metrics are disabled.
func NewMetricsSet() gateway.MetricsSet {
	return gateway.MetricsSet{
		Transfer: NewTransferMetrics(),
		Send:     NewSendMetrics(),
		Notify:   NewNotifyMetrics(),
		Intake:   NewIntakeMetrics(),
		Gateway:  NewGatewayMetrics(),
	}
}
