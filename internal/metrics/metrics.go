package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_http_requests_total",
			Help: "Total number of storefront HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storefront_http_request_duration_seconds",
			Help:    "Duration of storefront HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	CartMutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_mutations_total",
			Help: "Cart mutations by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	CartRefreshSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cart_refresh_seconds",
			Help:    "Latency of remote cart refreshes",
			Buckets: prometheus.DefBuckets,
		},
	)

	VoucherOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voucher_outcomes_total",
			Help: "Voucher applications by outcome",
		},
		[]string{"outcome"},
	)

	OrderSubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_submissions_total",
			Help: "Order submissions by settlement kind and outcome",
		},
		[]string{"settlement", "outcome"},
	)

	IdentityTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_transitions_total",
			Help: "Observed identity transitions",
		},
		[]string{"kind"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "storefront_active_sessions",
			Help: "Current number of live storefront sessions",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		CartMutationsTotal,
		CartRefreshSeconds,
		VoucherOutcomesTotal,
		OrderSubmissionsTotal,
		IdentityTransitionsTotal,
		ActiveSessions,
	)
}

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeApplied  = "applied"
	OutcomeRejected = "rejected"
)

// ObserveHTTPRequest records metrics for an HTTP request
func ObserveHTTPRequest(method, path string, status int, elapsed time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, statusLabel(status)).Inc()
	HTTPRequestDurationSeconds.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// ObserveCartMutation counts a finished cart mutation.
func ObserveCartMutation(op string, err error) {
	CartMutationsTotal.WithLabelValues(op, outcome(err)).Inc()
}

func ObserveCartRefresh(elapsed time.Duration) {
	CartRefreshSeconds.Observe(elapsed.Seconds())
}

func ObserveVoucher(outcome string) {
	VoucherOutcomesTotal.WithLabelValues(outcome).Inc()
}

func ObserveOrderSubmission(settlement string, err error) {
	OrderSubmissionsTotal.WithLabelValues(settlement, outcome(err)).Inc()
}

func ObserveIdentityTransition(kind string) {
	IdentityTransitionsTotal.WithLabelValues(kind).Inc()
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	}
	return "2xx"
}
