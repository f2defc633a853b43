package email

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "deals247"

var (
	welcomeEmails = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "newsletter",
			Name:      "welcome_emails_total",
			Help:      "Welcome emails by result: queued, dropped, sent, retry, failed",
		},
		[]string{"result"},
	)

	welcomeEmailDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "newsletter",
			Name:      "welcome_email_send_duration_seconds",
			Help:      "Time from dequeue to successful delivery, retries included",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)
)

func recordWelcomeEmail(result string) {
	welcomeEmails.WithLabelValues(result).Inc()
}

func recordWelcomeEmailDuration(d time.Duration) {
	welcomeEmailDuration.Observe(d.Seconds())
}
