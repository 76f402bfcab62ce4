package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting gateway metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - HTTP request volume and latency at the gateway's own endpoints
//   - Backend (LLM provider) request performance, retries, and token usage
//   - Rate-limit cooldowns entering and clearing (C10)
//   - Conversation-state reconciliation outcomes (C3)
//   - Signature store (C1) hit/miss behavior
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordHTTPRequest("POST", "/v1/messages", "200", 0.042)
//	metrics.RecordBackendRequest("anthropic", "claude-3-opus", "success", 1.2, 120, 430)
type Metrics struct {
	// HTTPRequestCounter counts requests served at the gateway's own endpoints.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// HTTPRequestDuration measures gateway-side HTTP request latency.
	// Labels: method, path
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	HTTPRequestDuration *prometheus.HistogramVec

	// BackendRequestCounter counts proxied requests by backend, model, and outcome.
	// Labels: backend, model, status (success|error)
	BackendRequestCounter *prometheus.CounterVec

	// BackendRequestDuration measures backend round-trip latency in seconds.
	// Labels: backend, model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	BackendRequestDuration *prometheus.HistogramVec

	// TokensUsed tracks token consumption by backend, model, and kind.
	// Labels: backend, model, type (prompt|completion)
	TokensUsed *prometheus.CounterVec

	// RetryAttempts counts proxy retry outcomes (C9/C10).
	// Labels: backend, status (success|retry|exhausted)
	RetryAttempts *prometheus.CounterVec

	// RateLimitCooldowns counts a backend entering cooldown after a 429/5xx.
	// Labels: backend, reason
	RateLimitCooldowns *prometheus.CounterVec

	// ActiveRateLimits is a gauge of backends currently in cooldown.
	// Labels: backend
	ActiveRateLimits *prometheus.GaugeVec

	// SignatureStoreOps counts C1 signature store lookups by tier and outcome.
	// Labels: tier (l1|l2), outcome (hit|miss|error)
	SignatureStoreOps *prometheus.CounterVec

	// ConversationReconciliations counts C3's merge outcomes.
	// Labels: outcome (merged|fallback|error)
	ConversationReconciliations *prometheus.CounterVec

	// ErrorCounter tracks errors by component and error type.
	// Labels: component, error_type
	ErrorCounter *prometheus.CounterVec

	// DatabaseQueryDuration measures signature/conversation-state query latency.
	// Labels: operation (select|insert|update|delete), table
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	DatabaseQueryDuration *prometheus.HistogramVec

	// DatabaseQueryCounter counts signature/conversation-state queries.
	// Labels: operation, table, status (success|error)
	DatabaseQueryCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics are automatically registered with Prometheus's default registry
// and will be available at the /metrics endpoint when metrics are enabled.
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmgateway_http_requests_total",
				Help: "Total number of HTTP requests served by the gateway",
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llmgateway_http_request_duration_seconds",
				Help:    "Duration of gateway HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path"},
		),

		BackendRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmgateway_backend_requests_total",
				Help: "Total number of proxied requests by backend, model, and status",
			},
			[]string{"backend", "model", "status"},
		),

		BackendRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llmgateway_backend_request_duration_seconds",
				Help:    "Duration of backend round trips in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"backend", "model"},
		),

		TokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmgateway_tokens_total",
				Help: "Total number of tokens used by backend, model, and type",
			},
			[]string{"backend", "model", "type"},
		),

		RetryAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmgateway_retry_attempts_total",
				Help: "Total number of proxy retry attempts by backend and outcome",
			},
			[]string{"backend", "status"},
		),

		RateLimitCooldowns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmgateway_rate_limit_cooldowns_total",
				Help: "Total number of times a backend entered cooldown",
			},
			[]string{"backend", "reason"},
		),

		ActiveRateLimits: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "llmgateway_active_rate_limits",
				Help: "Current number of backends in cooldown",
			},
			[]string{"backend"},
		),

		SignatureStoreOps: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmgateway_signature_store_ops_total",
				Help: "Total number of signature store lookups by tier and outcome",
			},
			[]string{"tier", "outcome"},
		),

		ConversationReconciliations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmgateway_conversation_reconciliations_total",
				Help: "Total number of conversation-state merge outcomes",
			},
			[]string{"outcome"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmgateway_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		DatabaseQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llmgateway_database_query_duration_seconds",
				Help:    "Duration of signature/conversation-state queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "table"},
		),

		DatabaseQueryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmgateway_database_queries_total",
				Help: "Total number of signature/conversation-state queries",
			},
			[]string{"operation", "table", "status"},
		),
	}
}

// RecordHTTPRequest records metrics for a gateway-served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(durationSeconds)
}

// RecordBackendRequest records metrics for one completed backend round trip.
func (m *Metrics) RecordBackendRequest(backend, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.BackendRequestCounter.WithLabelValues(backend, model, status).Inc()
	m.BackendRequestDuration.WithLabelValues(backend, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.TokensUsed.WithLabelValues(backend, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.TokensUsed.WithLabelValues(backend, model, "completion").Add(float64(completionTokens))
	}
}

// RecordRetryAttempt records a single attempt within route_with_fallback.
func (m *Metrics) RecordRetryAttempt(backend, status string) {
	m.RetryAttempts.WithLabelValues(backend, status).Inc()
}

// RecordRateLimitEntered records a backend entering cooldown and updates the
// active-cooldown gauge. Call RecordRateLimitCleared when it recovers.
func (m *Metrics) RecordRateLimitEntered(backend, reason string) {
	m.RateLimitCooldowns.WithLabelValues(backend, reason).Inc()
	m.ActiveRateLimits.WithLabelValues(backend).Inc()
}

// RecordRateLimitCleared records a backend leaving cooldown.
func (m *Metrics) RecordRateLimitCleared(backend string) {
	m.ActiveRateLimits.WithLabelValues(backend).Dec()
}

// RecordSignatureStoreOp records one C1 lookup outcome.
func (m *Metrics) RecordSignatureStoreOp(tier, outcome string) {
	m.SignatureStoreOps.WithLabelValues(tier, outcome).Inc()
}

// RecordConversationReconciliation records one C3 merge outcome.
func (m *Metrics) RecordConversationReconciliation(outcome string) {
	m.ConversationReconciliations.WithLabelValues(outcome).Inc()
}

// RecordError increments the error counter for a given component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RecordDatabaseQuery records metrics for a signature/conversation-state query.
func (m *Metrics) RecordDatabaseQuery(operation, table, status string, durationSeconds float64) {
	m.DatabaseQueryCounter.WithLabelValues(operation, table, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(durationSeconds)
}
