package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all delivery engine metrics
type Metrics struct {
	// Delivery attempt metrics
	DeliveriesAttempted prometheus.Counter
	DeliveriesSucceeded prometheus.Counter
	DeliveriesFailed    prometheus.Counter
	DeliveryDuration    prometheus.Histogram
	CircuitOpenSkips    prometheus.Counter
	RetriesScheduled    prometheus.Counter

	// Background job metrics
	SchedulerTicksSkipped prometheus.Counter
	DeliveriesCleaned     prometheus.Counter

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
}

// NewMetrics creates and registers all delivery engine metrics on the
// default registry.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		DeliveriesAttempted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_attempted_total",
			Help:      "Total number of delivery attempts that reached the network call",
		}),
		DeliveriesSucceeded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_succeeded_total",
			Help:      "Total number of deliveries acknowledged with a 2xx response",
		}),
		DeliveriesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_failed_total",
			Help:      "Total number of deliveries that reached a terminal failed state",
		}),
		DeliveryDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Time spent performing a single delivery attempt",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		CircuitOpenSkips: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_open_skips_total",
			Help:      "Attempts deferred because the endpoint circuit was open",
		}),
		RetriesScheduled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_scheduled_total",
			Help:      "Total number of retries scheduled after failed attempts",
		}),
		SchedulerTicksSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_ticks_skipped_total",
			Help:      "Scheduler ticks skipped because the previous tick was still running",
		}),
		DeliveriesCleaned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_cleaned_total",
			Help:      "Delivery rows removed by the retention cleanup job",
		}),
		DatabaseOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}
}

// New creates metrics without registering them, for use in tests.
func New(namespace string) *Metrics {
	return &Metrics{
		DeliveriesAttempted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "deliveries_attempted_total",
		}),
		DeliveriesSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "deliveries_succeeded_total",
		}),
		DeliveriesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "deliveries_failed_total",
		}),
		DeliveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "delivery_duration_seconds",
		}),
		CircuitOpenSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "circuit_open_skips_total",
		}),
		RetriesScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "retries_scheduled_total",
		}),
		SchedulerTicksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "scheduler_ticks_skipped_total",
		}),
		DeliveriesCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "deliveries_cleaned_total",
		}),
		DatabaseOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "database_operations_total",
		}, []string{"operation", "status"}),
	}
}
