package observability

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const namespace = "ticketledger"

type httpMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics

	billingMetricsOnce sync.Once
	billingRegistry    *BillingMetrics
)

// HTTP returns the lazily-initialised registry recording ledgerd request
// activity.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total ledger API requests segmented by route, method and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "Total ledger API errors segmented by route, method and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for ledger API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Count of ledger API requests rejected by throttling policies.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(
			httpRegistry.requests,
			httpRegistry.errors,
			httpRegistry.latency,
			httpRegistry.throttles,
		)
	})
	return httpRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *httpMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied route and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *httpMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(route, reason).Inc()
}

// BillingMetrics tracks the resale accounting engine: operation outcomes and
// the value moved per flow. Flows are mirrored to the global OpenTelemetry
// meter so OTLP collectors see them without scraping.
type BillingMetrics struct {
	operations *prometheus.CounterVec
	errors     *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	flows      *prometheus.CounterVec
	flowCount  *prometheus.CounterVec

	otelFlows metric.Float64Counter
}

// Billing returns the singleton metrics registry for the billing engine.
func Billing() *BillingMetrics {
	billingMetricsOnce.Do(func() {
		billingRegistry = &BillingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "billing",
				Name:      "operations_total",
				Help:      "Count of billing operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "billing",
				Name:      "errors_total",
				Help:      "Count of billing failures segmented by operation and reason.",
			}, []string{"operation", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "billing",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for billing operations including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			flows: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "billing",
				Name:      "flow_amount_total",
				Help:      "Sum of minor units moved segmented by flow and currency.",
			}, []string{"flow", "currency"}),
			flowCount: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "billing",
				Name:      "flows_total",
				Help:      "Count of individual money movements segmented by flow and currency.",
			}, []string{"flow", "currency"}),
		}
		prometheus.MustRegister(
			billingRegistry.operations,
			billingRegistry.errors,
			billingRegistry.latency,
			billingRegistry.flows,
			billingRegistry.flowCount,
		)
		counter, err := otel.Meter("ticketledger/billing").Float64Counter(
			"ticketledger.billing.flow_amount",
			metric.WithDescription("Minor units moved by the billing engine."),
		)
		if err == nil {
			billingRegistry.otelFlows = counter
		}
	})
	return billingRegistry
}

// Observe records the execution metrics for a billing operation.
func (m *BillingMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(op, errorReason(err)).Inc()
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordFlow adds amount to the flow counters.
func (m *BillingMetrics) RecordFlow(flow, currency string, amount *big.Int) {
	if m == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	symbol := labelCurrency(currency)
	value := bigToFloat(amount)
	m.flows.WithLabelValues(flow, symbol).Add(value)
	m.flowCount.WithLabelValues(flow, symbol).Inc()
	if m.otelFlows != nil {
		m.otelFlows.Add(context.Background(), value, metric.WithAttributes(
			attribute.String("flow", flow),
			attribute.String("currency", symbol),
		))
	}
}

// errorReason keeps the label set bounded: wrapped errors carry request
// specific detail after the first ": " that follows the package prefix.
func errorReason(err error) string {
	reason := strings.TrimSpace(err.Error())
	if reason == "" {
		return "unknown"
	}
	if prefix, rest, ok := strings.Cut(reason, ": "); ok {
		if head, _, ok := strings.Cut(rest, ": "); ok {
			return prefix + ": " + head
		}
	}
	return reason
}

func labelCurrency(currency string) string {
	trimmed := strings.TrimSpace(currency)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
