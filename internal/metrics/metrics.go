package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// POSMetrics records request, checkout and dashboard telemetry.
type POSMetrics struct {
	requestDuration *prometheus.HistogramVec
	checkouts       *prometheus.CounterVec
	salesAmount     *prometheus.CounterVec
	stockWarnings   prometheus.Counter
	metricFailures  *prometheus.CounterVec
}

// New registers the POS metrics on reg. A nil registerer yields a recorder
// whose methods do nothing.
func New(reg prometheus.Registerer) *POSMetrics {
	if reg == nil {
		return &POSMetrics{}
	}
	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tdpos_http_request_duration_seconds",
		Help:    "Duration of HTTP requests by route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tdpos_checkouts_total",
		Help: "Checkout attempts by payment method and outcome code.",
	}, []string{"method", "outcome"})
	salesAmount := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tdpos_sales_amount_total",
		Help: "Sum of completed order totals by branch.",
	}, []string{"branch"})
	stockWarnings := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tdpos_cart_stock_warnings_total",
		Help: "Cart mutations rejected by the stock guard.",
	})
	metricFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tdpos_dashboard_metric_failures_total",
		Help: "Dashboard metrics that failed to compute.",
	}, []string{"metric"})
	reg.MustRegister(requestDuration, checkouts, salesAmount, stockWarnings, metricFailures)
	return &POSMetrics{
		requestDuration: requestDuration,
		checkouts:       checkouts,
		salesAmount:     salesAmount,
		stockWarnings:   stockWarnings,
		metricFailures:  metricFailures,
	}
}

func (m *POSMetrics) ObserveRequest(method, route string, status int, duration time.Duration) {
	if m == nil || m.requestDuration == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, normalizeLabel(route), strconv.Itoa(status)).Observe(duration.Seconds())
}

// ObserveCheckout counts a checkout attempt; outcome is "ok" or an error code.
func (m *POSMetrics) ObserveCheckout(method, outcome string) {
	if m == nil || m.checkouts == nil {
		return
	}
	m.checkouts.WithLabelValues(normalizeLabel(method), normalizeLabel(outcome)).Inc()
}

func (m *POSMetrics) AddSales(branchID string, amount float64) {
	if m == nil || m.salesAmount == nil {
		return
	}
	m.salesAmount.WithLabelValues(normalizeLabel(branchID)).Add(amount)
}

func (m *POSMetrics) IncStockWarning() {
	if m == nil || m.stockWarnings == nil {
		return
	}
	m.stockWarnings.Inc()
}

func (m *POSMetrics) IncMetricFailure(metric string) {
	if m == nil || m.metricFailures == nil {
		return
	}
	m.metricFailures.WithLabelValues(normalizeLabel(metric)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
