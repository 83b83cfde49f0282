package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type CheckoutMetrics struct {
	Checkouts      *prometheus.CounterVec // outcome: accepted | empty_cart | stale_variation | insufficient_stock | error
	PaymentResults *prometheus.CounterVec // outcome: paid | declined | reconcile | duplicate
	SweptTotal     prometheus.Counter
	LatencyMS      *prometheus.HistogramVec
}

func NewCheckoutMetrics(service string) *CheckoutMetrics {
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkout",
		Subsystem: service,
		Name:      "attempts_total",
		Help:      "Checkout attempts by outcome.",
	}, []string{"outcome"})
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkout",
		Subsystem: service,
		Name:      "payment_results_total",
		Help:      "Payment results by outcome.",
	}, []string{"outcome"})
	swept := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "checkout",
		Subsystem: service,
		Name:      "reservations_swept_total",
		Help:      "Expired reservations released by the sweeper.",
	})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "checkout",
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	prometheus.MustRegister(checkouts, payments, swept, latency)
	return &CheckoutMetrics{
		Checkouts:      checkouts,
		PaymentResults: payments,
		SweptTotal:     swept,
		LatencyMS:      latency,
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
