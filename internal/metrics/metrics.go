package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationDuration tracks the latency of registry RPCs
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "promo_operation_duration_seconds",
			Help: "Duration of promo registry operations in seconds",
			Buckets: []float64{
				0.001, // 1ms
				0.005, // 5ms
				0.01,  // 10ms
				0.025, // 25ms
				0.05,  // 50ms
				0.1,   // 100ms
				0.25,  // 250ms
				0.5,   // 500ms
				1.0,   // 1s
				2.5,   // 2.5s
				5.0,   // 5s
			},
		},
		[]string{"operation", "status"},
	)

	// CodesGenerated counts promo codes created
	CodesGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promo_codes_generated_total",
		Help: "Number of promo codes generated",
	})

	// CodesAssigned counts promo codes handed to agents, by mode (single or bulk)
	CodesAssigned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promo_codes_assigned_total",
			Help: "Number of promo code assignments",
		},
		[]string{"mode"},
	)

	// Redemptions counts logged redemptions
	Redemptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promo_redemptions_total",
		Help: "Number of redemptions logged",
	})

	// NotificationFailures counts notifications that could not be published
	NotificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promo_notification_failures_total",
		Help: "Number of notifications that failed to publish",
	})
)

// RecordOperationDuration records the duration of one operation
func RecordOperationDuration(operation, status string, duration float64) {
	OperationDuration.WithLabelValues(operation, status).Observe(duration)
}
