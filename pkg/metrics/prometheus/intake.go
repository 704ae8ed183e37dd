package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dicomgw/pkg/intake"
	"github.com/marmos91/dicomgw/pkg/metrics"
)

type intakeMetrics struct {
	messages  *prometheus.CounterVec
	instances prometheus.Counter
}

// NewIntakeMetrics returns job intake metrics, or nil when metrics are
// disabled.
func NewIntakeMetrics() intake.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	return &intakeMetrics{
		messages: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dicomgw_intake_messages_total",
				Help: "Forward requests received by outcome",
			},
			[]string{"outcome"},
		),
		instances: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dicomgw_intake_instances_total",
				Help: "Instances expanded from accepted forward requests",
			},
		),
	}
}

func (m *intakeMetrics) ObserveMessage(outcome string, instances int) {
	m.messages.WithLabelValues(outcome).Inc()
	if instances > 0 {
		m.instances.Add(float64(instances))
	}
}
