package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the cache method being instrumented.
type CacheOperation string

const (
	CacheOperationLookup CacheOperation = "lookup"
	CacheOperationStore  CacheOperation = "store"
	CacheOperationClear  CacheOperation = "clear"
)

// CacheOutcome captures the result of a cache operation.
type CacheOutcome string

const (
	CacheHit    CacheOutcome = "hit"
	CacheMiss   CacheOutcome = "miss"
	CacheBypass CacheOutcome = "bypass"
	CacheStored CacheOutcome = "stored"
	CacheError  CacheOutcome = "error"
)

// Recorder publishes Prometheus metrics for proxy activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec

	cacheOperations *prometheus.CounterVec

	upstreamFetches *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "frontproxy",
		Name:      "requests_total",
		Help:      "Total inbound requests answered by the proxy.",
	}, []string{"tenant", "mode", "outcome", "status_code", "from_cache"})

	requestLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "frontproxy",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for inbound requests.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"tenant", "mode"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "frontproxy",
		Name:      "cache_operations_total",
		Help:      "Page cache operations executed by the proxy.",
	}, []string{"tenant", "operation", "result"})

	upstreamFetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "frontproxy",
		Name:      "upstream_fetches_total",
		Help:      "Outbound calls to the frontend repository, API backend and hit endpoint.",
	}, []string{"target", "outcome"})

	upstreamLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "frontproxy",
		Name:      "upstream_fetch_duration_seconds",
		Help:      "Latency distribution for outbound calls.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"target"})

	reg.MustRegister(requests, requestLatency, cacheOperations, upstreamFetches, upstreamLatency)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:        reg,
		handler:         handler,
		requests:        requests,
		requestLatency:  requestLatency,
		cacheOperations: cacheOperations,
		upstreamFetches: upstreamFetches,
		upstreamLatency: upstreamLatency,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveRequest records the outcome and latency of an inbound request.
func (r *Recorder) ObserveRequest(tenant, mode, outcome string, statusCode int, fromCache bool, duration time.Duration) {
	if r == nil {
		return
	}
	tenantLabel := normalizeLabel(tenant)
	modeLabel := normalizeLabel(mode)
	statusLabel := strconv.Itoa(statusCode)
	if statusCode <= 0 {
		statusLabel = "unknown"
	}
	r.requests.WithLabelValues(tenantLabel, modeLabel, normalizeLabel(outcome), statusLabel, strconv.FormatBool(fromCache)).Inc()
	r.requestLatency.WithLabelValues(tenantLabel, modeLabel).Observe(duration.Seconds())
}

// ObserveCache records a page cache operation.
func (r *Recorder) ObserveCache(tenant string, operation CacheOperation, result CacheOutcome) {
	if r == nil {
		return
	}
	opLabel := string(operation)
	if opLabel == "" {
		opLabel = string(CacheOperationLookup)
	}
	resLabel := string(result)
	if resLabel == "" {
		resLabel = string(CacheError)
	}
	r.cacheOperations.WithLabelValues(normalizeLabel(tenant), opLabel, resLabel).Inc()
}

// ObserveUpstreamFetch records one outbound call.
func (r *Recorder) ObserveUpstreamFetch(target, outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	targetLabel := normalizeLabel(target)
	r.upstreamFetches.WithLabelValues(targetLabel, normalizeLabel(outcome)).Inc()
	r.upstreamLatency.WithLabelValues(targetLabel).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
