package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dicomgw/pkg/metrics"
	"github.com/marmos91/dicomgw/pkg/notify"
)

type notifyMetrics struct {
	published *prometheus.CounterVec
	backlog   *prometheus.GaugeVec
}

// NewNotifyMetrics returns metrics shared by both publishers, or nil when
// metrics are disabled.
func NewNotifyMetrics() notify.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	return &notifyMetrics{
		published: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dicomgw_notifications_total",
				Help: "Notification publish attempts by direction and outcome",
			},
			[]string{"direction", "status"},
		),
		backlog: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dicomgw_notification_backlog",
				Help: "Notifications waiting to be published",
			},
			[]string{"direction"},
		),
	}
}

func (m *notifyMetrics) ObservePublish(direction string, err error) {
	m.published.WithLabelValues(direction, outcome(err)).Inc()
}

func (m *notifyMetrics) SetBacklog(direction string, n int) {
	m.backlog.WithLabelValues(direction).Set(float64(n))
}
