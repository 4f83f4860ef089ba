package notify

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ceer-lab/ceer/internal/domain"
)

type dispatchMetrics struct {
	deliveries *prometheus.CounterVec
	drops      *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	depth      prometheus.Gauge
}

func newDispatchMetrics(reg prometheus.Registerer) *dispatchMetrics {
	m := &dispatchMetrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ceer_notifications_total",
			Help: "Notification deliveries by sink, kind and outcome.",
		}, []string{"sink", "kind", "outcome"}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ceer_notifications_dropped_total",
			Help: "Notifications dropped because the queue was full or closed.",
		}, []string{"kind"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ceer_notification_delivery_seconds",
			Help:    "Time spent delivering a notification to a sink, retries included.",
			Buckets: prometheus.DefBuckets,
		}, []string{"sink"}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ceer_notification_queue_depth",
			Help: "Notifications waiting for a worker.",
		}),
	}
	for _, collector := range []prometheus.Collector{m.deliveries, m.drops, m.latency, m.depth} {
		if err := reg.Register(collector); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				continue
			}
			switch existing := are.ExistingCollector.(type) {
			case *prometheus.CounterVec:
				if collector == m.deliveries {
					m.deliveries = existing
				} else if collector == m.drops {
					m.drops = existing
				}
			case *prometheus.HistogramVec:
				m.latency = existing
			case prometheus.Gauge:
				m.depth = existing
			}
		}
	}
	return m
}

func (m *dispatchMetrics) observe(sink string, kind domain.NotificationKind, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "delivered"
	switch {
	case errors.Is(err, ErrUndeliverable):
		outcome = "skipped"
	case err != nil:
		outcome = "failed"
	}
	m.deliveries.WithLabelValues(sink, string(kind), outcome).Inc()
	m.latency.WithLabelValues(sink).Observe(elapsed.Seconds())
}

func (m *dispatchMetrics) dropped(kind domain.NotificationKind) {
	if m == nil {
		return
	}
	m.drops.WithLabelValues(string(kind)).Inc()
}

func (m *dispatchMetrics) queued(depth int) {
	if m == nil {
		return
	}
	m.depth.Set(float64(depth))
}
