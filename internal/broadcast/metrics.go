package broadcast

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce     sync.Once
	subscriberGauge prometheus.Gauge
	messagesTotal   *prometheus.CounterVec
	droppedTotal    prometheus.Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		subscriberGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pulse",
			Subsystem: "broadcast",
			Name:      "subscribers",
			Help:      "Number of currently connected dashboard channels",
		})
		messagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulse",
			Subsystem: "broadcast",
			Name:      "messages_total",
			Help:      "Count of fan-out broadcasts by message kind",
		}, []string{"kind"})
		droppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pulse",
			Subsystem: "broadcast",
			Name:      "dropped_total",
			Help:      "Messages dropped because the broadcaster queue was full",
		})

		if err := prometheus.Register(subscriberGauge); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				subscriberGauge = are.ExistingCollector.(prometheus.Gauge)
			}
		}
		if err := prometheus.Register(messagesTotal); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				messagesTotal = are.ExistingCollector.(*prometheus.CounterVec)
			}
		}
		if err := prometheus.Register(droppedTotal); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				droppedTotal = are.ExistingCollector.(prometheus.Counter)
			}
		}
	})
}
