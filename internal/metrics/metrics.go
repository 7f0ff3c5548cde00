// Package metrics provides Prometheus metrics for the HTTP server and the
// dispense path. All metrics register with the default registry during
// package initialization.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestTotals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_request_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	HTTPRequestInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_request_in_flight",
			Help: "Current in-flight requests",
		},
	)

	DispensesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispenses_total",
			Help: "Dispense requests by outcome",
		},
		[]string{"outcome"},
	)

	UnitsDispensedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "units_dispensed_total",
			Help: "Total units taken out of stock",
		},
	)

	ExpiringBatches = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "expiring_batches",
			Help: "Batches expiring within the alert window, from the last stock scan",
		},
	)

	LowStockMedications = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "low_stock_medications",
			Help: "Medications at or below the low-stock threshold, from the last stock scan",
		},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequestTotals)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(HTTPRequestInFlight)
	prometheus.MustRegister(DispensesTotal)
	prometheus.MustRegister(UnitsDispensedTotal)
	prometheus.MustRegister(ExpiringBatches)
	prometheus.MustRegister(LowStockMedications)
}
