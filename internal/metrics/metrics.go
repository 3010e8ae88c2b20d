// Package metrics registers the service's Prometheus metrics with the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pharmacy"

// HTTPRequestDuration measures request latency.
// Labels: method, route (chi pattern), status.
var HTTPRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests by method, route pattern and status code.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route", "status"},
)

// OrdersPlacedTotal counts order placement attempts.
// Label result: "success", "insufficient_stock", "not_found", "rejected" or "error".
var OrdersPlacedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_placed_total",
		Help:      "Total number of order placement attempts by result.",
	},
	[]string{"result"},
)

// CacheLookupsTotal counts drug cache reads.
// Labels: key ("list" or "detail"), result ("hit", "miss" or "error").
var CacheLookupsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Total number of drug cache lookups by key kind and result.",
	},
	[]string{"key", "result"},
)

var OTPIssuedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "otp_issued_total",
		Help:      "Total number of password reset codes issued.",
	},
)

// OTPVerificationsTotal counts reset code checks. Label result: "valid" or "invalid".
var OTPVerificationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "otp_verifications_total",
		Help:      "Total number of password reset code verifications by result.",
	},
	[]string{"result"},
)
