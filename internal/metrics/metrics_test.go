package metrics

import (
	"math"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestRecorderObserveRequest(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveRequest("shop-test", "frontend", "served", 200, true, 250*time.Millisecond)

	families := gather(t, rec, "frontproxy_requests_total", "frontproxy_request_duration_seconds")

	counter := findMetric(t, families["frontproxy_requests_total"], map[string]string{
		"tenant":      "shop-test",
		"mode":        "frontend",
		"outcome":     "served",
		"status_code": "200",
		"from_cache":  "true",
	})
	if counter.GetCounter() == nil {
		t.Fatalf("expected counter metric for requests")
	}
	if got := counter.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected counter value 1, got %v", got)
	}

	histMetric := findMetric(t, families["frontproxy_request_duration_seconds"], map[string]string{
		"tenant": "shop-test",
		"mode":   "frontend",
	})
	hist := histMetric.GetHistogram()
	if hist == nil {
		t.Fatalf("expected histogram metric for request latency")
	}
	if hist.GetSampleCount() != 1 {
		t.Fatalf("expected histogram count 1, got %d", hist.GetSampleCount())
	}
	want := 0.25
	if diff := math.Abs(hist.GetSampleSum() - want); diff > 0.001 {
		t.Fatalf("expected histogram sum near %v, got %v", want, hist.GetSampleSum())
	}
}

func TestRecorderObserveRequestUnknownLabels(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveRequest("", " ", "", 0, false, time.Millisecond)

	families := gather(t, rec, "frontproxy_requests_total")
	findMetric(t, families["frontproxy_requests_total"], map[string]string{
		"tenant":      "unknown",
		"mode":        "unknown",
		"status_code": "unknown",
		"from_cache":  "false",
	})
}

func TestRecorderObserveCacheOperations(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveCache("alpha", CacheOperationLookup, CacheHit)
	rec.ObserveCache("alpha", CacheOperationStore, CacheStored)
	rec.ObserveCache("alpha", CacheOperationStore, CacheStored)

	families := gather(t, rec, "frontproxy_cache_operations_total")

	lookupMetric := findMetric(t, families["frontproxy_cache_operations_total"], map[string]string{
		"tenant":    "alpha",
		"operation": string(CacheOperationLookup),
		"result":    string(CacheHit),
	})
	if got := lookupMetric.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected lookup counter 1, got %v", got)
	}

	storeMetric := findMetric(t, families["frontproxy_cache_operations_total"], map[string]string{
		"tenant":    "alpha",
		"operation": string(CacheOperationStore),
		"result":    string(CacheStored),
	})
	if got := storeMetric.GetCounter().GetValue(); got != 2 {
		t.Fatalf("expected store counter 2, got %v", got)
	}
}

func TestRecorderObserveUpstreamFetch(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveUpstreamFetch("frontend", "ok", 5*time.Millisecond)

	families := gather(t, rec, "frontproxy_upstream_fetches_total", "frontproxy_upstream_fetch_duration_seconds")
	fetches := findMetric(t, families["frontproxy_upstream_fetches_total"], map[string]string{
		"target":  "frontend",
		"outcome": "ok",
	})
	if got := fetches.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected fetch counter 1, got %v", got)
	}
	latency := findMetric(t, families["frontproxy_upstream_fetch_duration_seconds"], map[string]string{"target": "frontend"})
	if diff := math.Abs(latency.GetHistogram().GetSampleSum() - 0.005); diff > 0.001 {
		t.Fatalf("expected histogram sum near 0.005, got %v", latency.GetHistogram().GetSampleSum())
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var rec *Recorder
	rec.ObserveRequest("a", "b", "c", 200, false, time.Second)
	rec.ObserveCache("a", CacheOperationClear, CacheStored)
	rec.ObserveUpstreamFetch("api", "error", time.Second)

	rr := httptest.NewRecorder()
	rec.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != 503 {
		t.Fatalf("expected 503 from nil recorder, got %d", rr.Code)
	}
}

func TestRecorderHandler(t *testing.T) {
	rec := NewRecorder(nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)

	rec.Handler().ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200 response, got %d", rr.Code)
	}
	if rr.Body.Len() == 0 {
		t.Fatalf("expected response body")
	}
}

func gather(t *testing.T, rec *Recorder, names ...string) map[string][]*dto.Metric {
	t.Helper()
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	families, err := rec.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	collected := make(map[string][]*dto.Metric, len(names))
	for _, mf := range families {
		if !wanted[mf.GetName()] {
			continue
		}
		collected[mf.GetName()] = append(collected[mf.GetName()], mf.GetMetric()...)
	}
	for _, name := range names {
		if len(collected[name]) == 0 {
			t.Fatalf("metric %q not collected", name)
		}
	}
	return collected
}

func findMetric(t *testing.T, metrics []*dto.Metric, labels map[string]string) *dto.Metric {
	t.Helper()
	for _, metric := range metrics {
		if matchLabels(metric, labels) {
			return metric
		}
	}
	t.Fatalf("metric with labels %v not found", labels)
	return nil
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) < len(labels) {
		return false
	}
	for key, expected := range labels {
		found := false
		for _, label := range metric.GetLabel() {
			if label.GetName() == key && label.GetValue() == expected {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
