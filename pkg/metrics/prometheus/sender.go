package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dicomgw/pkg/metrics"
	"github.com/marmos91/dicomgw/pkg/sender"
)

type sendMetrics struct {
	jobs        *prometheus.CounterVec
	jobDuration prometheus.Histogram
	objects     *prometheus.CounterVec
}

// NewSendMetrics returns send pool metrics, or nil when metrics are
// disabled.
func NewSendMetrics() sender.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	return &sendMetrics{
		jobs: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dicomgw_send_jobs_total",
				Help: "Send jobs by outcome",
			},
			[]string{"outcome"},
		),
		jobDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dicomgw_send_job_duration_milliseconds",
				Help:    "Duration of send jobs in milliseconds",
				Buckets: durationBucketsMs,
			},
		),
		objects: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dicomgw_send_objects_total",
				Help: "Objects sent over outbound associations by outcome",
			},
			[]string{"status"},
		),
	}
}

func (m *sendMetrics) ObserveJob(outcome string, _ int, d time.Duration) {
	m.jobs.WithLabelValues(outcome).Inc()
	m.jobDuration.Observe(float64(d.Microseconds()) / 1000)
}

func (m *sendMetrics) ObserveObject(err error) {
	m.objects.WithLabelValues(outcome(err)).Inc()
}
