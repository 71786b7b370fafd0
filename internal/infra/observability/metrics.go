package observability

import (
	"time"

	"github.com/boddenberg/budget-tracker-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the budget API.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	externalErrors  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	tokensUsed      *prometheus.CounterVec
	assistantTotal  *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	indexEvents     *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. A private registry lets tests call NewMetrics
// repeatedly without "duplicate collector" panics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "budget_operation_duration_seconds",
				Help:    "Duration of service operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "budget_external_errors_total",
				Help: "Total errors from external services and stores.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "budget_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "budget_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		tokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "budget_llm_tokens_total",
				Help: "Total LLM tokens consumed.",
			},
			[]string{"type"},
		),
		assistantTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "budget_assistant_requests_total",
				Help: "Assistant questions processed.",
			},
			[]string{"status"},
		),
		rateLimited: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "budget_rate_limited_total",
				Help: "Requests rejected by the rate limiter.",
			},
			[]string{"scope"},
		),
		indexEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "budget_index_events_total",
				Help: "Purchase index events by action and outcome.",
			},
			[]string{"action", "outcome"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordTokens records prompt and completion token usage.
func (m *Metrics) RecordTokens(prompt, completion int) {
	m.tokensUsed.WithLabelValues("prompt").Add(float64(prompt))
	m.tokensUsed.WithLabelValues("completion").Add(float64(completion))
}

// IncrAssistant counts an assistant request by status (success, error).
func (m *Metrics) IncrAssistant(status string) {
	m.assistantTotal.WithLabelValues(status).Inc()
}

// IncrRateLimited counts a rejected request.
func (m *Metrics) IncrRateLimited(scope string) {
	m.rateLimited.WithLabelValues(scope).Inc()
}

// IncrIndexEvent counts a processed index event.
func (m *Metrics) IncrIndexEvent(action, outcome string) {
	m.indexEvents.WithLabelValues(action, outcome).Inc()
}

// GetAssistantSnapshot returns cumulative assistant metrics for
// GET /api/metrics/assistant.
func (m *Metrics) GetAssistantSnapshot() *domain.AssistantMetrics {
	promptTokens := getCounterValue(m.tokensUsed, "prompt")
	completionTokens := getCounterValue(m.tokensUsed, "completion")
	successCount := getCounterValue(m.assistantTotal, "success")
	errorCount := getCounterValue(m.assistantTotal, "error")
	totalRequests := successCount + errorCount
	cacheHits := getCounterValue(m.cacheHits, "stats")
	cacheMisses := getCounterValue(m.cacheMisses, "stats")

	avgTokens := float64(0)
	errorRate := float64(0)
	cacheHitRate := float64(0)

	if totalRequests > 0 {
		errorRate = errorCount / totalRequests
	}
	if successCount > 0 {
		avgTokens = (promptTokens + completionTokens) / successCount
	}
	if cacheHits+cacheMisses > 0 {
		cacheHitRate = cacheHits / (cacheHits + cacheMisses)
	}

	return &domain.AssistantMetrics{
		TotalRequests:       int64(totalRequests),
		ErrorRate:           errorRate,
		AvgTokensPerRequest: avgTokens,
		PromptTokens:        int64(promptTokens),
		CompletionTokens:    int64(completionTokens),
		StatsCacheHitRate:   cacheHitRate,
		Period:              "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
