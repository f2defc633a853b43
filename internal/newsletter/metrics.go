package newsletter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "deals247"

var (
	subscriptionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "newsletter",
			Name:      "subscription_events_total",
			Help:      "Subscribe and unsubscribe calls by result",
		},
		[]string{"operation", "result"},
	)

	activeSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "newsletter",
			Name:      "active_subscribers",
			Help:      "Number of active newsletter subscribers at last collection",
		},
	)
)

// recordSubscriptionEvent records the result of a subscribe or unsubscribe call.
func recordSubscriptionEvent(operation, result string) {
	subscriptionEvents.WithLabelValues(operation, result).Inc()
}

// RecordActiveSubscribers updates the active subscriber gauge.
func RecordActiveSubscribers(total int64) {
	activeSubscribers.Set(float64(total))
}
