package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "defiledger"

type httpMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics

	ledgerOnce sync.Once
	ledgerReg  *LedgerMetrics
)

// HTTP returns the lazily-initialised registry recording API requests.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route, method, and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route, method, and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by the rate limiter.",
			}, []string{"reason"}),
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

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *httpMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *httpMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// LedgerMetrics captures orchestrator activity and the latest aggregate state
// of every market and pool.
type LedgerMetrics struct {
	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	errors       *prometheus.CounterVec
	liquidations *prometheus.CounterVec
	markets      *prometheus.GaugeVec
	pools        *prometheus.GaugeVec
}

// Ledger returns the singleton metrics registry for ledger operations.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerReg = &LedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Count of ledger operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for ledger operations including persistence.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "errors_total",
				Help:      "Count of rejected ledger operations segmented by operation and reason.",
			}, []string{"operation", "reason"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "liquidations_total",
				Help:      "Count of liquidated borrow positions per debt market.",
			}, []string{"market"}),
			markets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "market",
				Name:      "state",
				Help:      "Latest lending market aggregates (supplied, borrowed, utilisation, supply_apy, borrow_apy).",
			}, []string{"market", "field"}),
			pools: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "state",
				Help:      "Latest liquidity pool balances (reserve_a, reserve_b, shares).",
			}, []string{"pool", "field"}),
		}
		prometheus.MustRegister(
			ledgerReg.operations,
			ledgerReg.latency,
			ledgerReg.errors,
			ledgerReg.liquidations,
			ledgerReg.markets,
			ledgerReg.pools,
		)
	})
	return ledgerReg
}

// Observe records a ledger operation. An empty reason marks success; callers
// pass a stable error class such as "insufficient_liquidity" otherwise.
func (m *LedgerMetrics) Observe(operation string, duration time.Duration, reason string) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if reason = strings.TrimSpace(reason); reason != "" {
		outcome = "error"
		m.errors.WithLabelValues(op, reason).Inc()
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordLiquidation increments the liquidation counter for market.
func (m *LedgerMetrics) RecordLiquidation(market string) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(labelSymbol(market)).Inc()
}

// RecordMarket publishes the aggregates of a market snapshot.
func (m *LedgerMetrics) RecordMarket(market string, fields map[string]float64) {
	if m == nil {
		return
	}
	symbol := labelSymbol(market)
	for field, value := range fields {
		m.markets.WithLabelValues(symbol, field).Set(value)
	}
}

// RecordPool publishes the balances of a pool snapshot.
func (m *LedgerMetrics) RecordPool(pool string, fields map[string]float64) {
	if m == nil {
		return
	}
	id := strings.TrimSpace(pool)
	if id == "" {
		id = "unknown"
	}
	for field, value := range fields {
		m.pools.WithLabelValues(id, field).Set(value)
	}
}

func labelSymbol(symbol string) string {
	normalized := strings.TrimSpace(strings.ToUpper(symbol))
	if normalized == "" {
		return "UNKNOWN"
	}
	return normalized
}
