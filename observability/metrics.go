package observability

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tokensale/core/events"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	presaleMetricsOnce sync.Once
	presaleRegistry    *PresaleMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record HTTP
// API activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tokensale",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module, route and outcome.",
			}, []string{"module", "route", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tokensale",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, route and status code.",
			}, []string{"module", "route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "tokensale",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tokensale",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, route, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, route, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, route).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// PresaleMetrics tracks ledger activity. It implements events.Emitter so it
// can be attached directly to the engine.
type PresaleMetrics struct {
	purchases   *prometheus.CounterVec
	tokensSold  prometheus.Gauge
	settlements *prometheus.CounterVec
	sweeps      *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	admin       *prometheus.CounterVec

	mu       sync.RWMutex
	decimals uint8
}

// Presale returns the lazily-initialised presale metrics registry.
func Presale() *PresaleMetrics {
	presaleMetricsOnce.Do(func() {
		presaleRegistry = &PresaleMetrics{
			decimals: 18,
			purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tokensale",
				Subsystem: "presale",
				Name:      "purchases_total",
				Help:      "Accepted purchases segmented by payment method reference.",
			}, []string{"method"}),
			tokensSold: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "tokensale",
				Subsystem: "presale",
				Name:      "tokens_sold",
				Help:      "Running total of tokens sold, in whole tokens.",
			}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tokensale",
				Subsystem: "presale",
				Name:      "settlements_total",
				Help:      "Completed buyer settlements segmented by kind.",
			}, []string{"kind"}),
			sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tokensale",
				Subsystem: "presale",
				Name:      "sweeps_total",
				Help:      "Operator sweeps segmented by asset reference.",
			}, []string{"asset"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tokensale",
				Subsystem: "presale",
				Name:      "rejections_total",
				Help:      "Rejected ledger calls segmented by operation and reason.",
			}, []string{"operation", "reason"}),
			admin: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tokensale",
				Subsystem: "presale",
				Name:      "admin_actions_total",
				Help:      "Administrative state changes segmented by event type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(
			presaleRegistry.purchases,
			presaleRegistry.tokensSold,
			presaleRegistry.settlements,
			presaleRegistry.sweeps,
			presaleRegistry.rejections,
			presaleRegistry.admin,
		)
	})
	return presaleRegistry
}

// SetDecimals configures how base-unit totals are scaled for the tokens_sold
// gauge.
func (m *PresaleMetrics) SetDecimals(decimals uint8) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.decimals = decimals
	m.mu.Unlock()
}

// Emit implements events.Emitter.
func (m *PresaleMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	attrs := payload.Attributes
	switch payload.Type {
	case "presale.purchased":
		m.purchases.WithLabelValues(normalizeLabel(attrs["method"])).Inc()
		if total, ok := new(big.Int).SetString(attrs["totalSold"], 10); ok {
			m.tokensSold.Set(m.wholeTokens(total))
		}
	case "presale.redeemed":
		m.settlements.WithLabelValues("redeemed").Inc()
	case "presale.refunded":
		m.settlements.WithLabelValues("refunded").Inc()
	case "presale.swept":
		m.sweeps.WithLabelValues(normalizeLabel(attrs["asset"])).Inc()
	default:
		if strings.HasPrefix(payload.Type, "presale.") {
			m.admin.WithLabelValues(payload.Type).Inc()
		}
	}
}

// RecordRejection counts a failed ledger call. Reasons should be stable error
// codes.
func (m *PresaleMetrics) RecordRejection(operation, reason string) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.rejections.WithLabelValues(operation, reason).Inc()
}

func (m *PresaleMetrics) wholeTokens(amount *big.Int) float64 {
	m.mu.RLock()
	decimals := m.decimals
	m.mu.RUnlock()
	unit := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	value, _ := new(big.Float).Quo(new(big.Float).SetInt(amount), unit).Float64()
	return value
}

func normalizeLabel(v string) string {
	trimmed := strings.ToLower(strings.TrimSpace(v))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
