package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tripline",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	syncDrains = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tripline",
			Name:      "sync_drains_total",
			Help:      "Sync queue drains by trigger.",
		},
		[]string{"trigger"},
	)

	syncEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tripline",
			Name:      "sync_entries_total",
			Help:      "Drained sync queue entries by result.",
		},
		[]string{"result"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tripline",
			Name:      "sync_queue_depth",
			Help:      "Pending sync queue entries after the last drain.",
		},
	)

	realtimeEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tripline",
			Name:      "realtime_events_total",
			Help:      "Realtime change notifications by action.",
		},
		[]string{"action"},
	)

	paymentInitiations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tripline",
			Name:      "payment_initiations_total",
			Help:      "Payment gateway initiations by result.",
		},
		[]string{"result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			syncDrains,
			syncEntries,
			queueDepth,
			realtimeEvents,
			paymentInitiations,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncDrain counts one drain run for a trigger ("reconnect" or "manual").
func IncDrain(trigger string) {
	syncDrains.WithLabelValues(trigger).Inc()
}

// AddDrainedEntries counts drained entries for a result ("synced" or "failed").
func AddDrainedEntries(result string, n int) {
	if n <= 0 {
		return
	}
	syncEntries.WithLabelValues(result).Add(float64(n))
}

// SetQueueDepth records the current pending entry count.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// IncRealtimeEvent counts one change notification.
func IncRealtimeEvent(action string) {
	realtimeEvents.WithLabelValues(action).Inc()
}

// IncPaymentInitiation counts one gateway call ("ok" or "error").
func IncPaymentInitiation(result string) {
	paymentInitiations.WithLabelValues(result).Inc()
}
