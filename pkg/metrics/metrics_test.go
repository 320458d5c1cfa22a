package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()
	m.RecordHit()
	m.RecordHit()
	m.RecordMiss("uri-miss")
	m.RecordCacheError("get")

	if v := testutil.ToFloat64(m.cacheHitsTotal); v != 2 {
		t.Fatalf("Hits: %v", v)
	}
	if v := testutil.ToFloat64(m.cacheMissesTotal.WithLabelValues("uri-miss")); v != 1 {
		t.Fatalf("Misses: %v", v)
	}
	if v := testutil.ToFloat64(m.cacheErrorsTotal.WithLabelValues("get")); v != 1 {
		t.Fatalf("Errors: %v", v)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	// none of these may panic
	m.RecordHit()
	m.RecordMiss("bypass")
	m.RecordRequest("text", 200)
	m.RecordCacheError("set")
	m.RecordUpstream(200, time.Second)
	m.RecordUpstreamError("unreachable")
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordRequest("graphql-query", 200)
	m.RecordUpstream(200, 10*time.Millisecond)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rr.Result().Body)
	if !strings.Contains(string(body), `grache_requests_total{body="graphql-query",status="200"} 1`) {
		t.Fatalf("Body is %s", body)
	}
	if !strings.Contains(string(body), "grache_upstream_duration_seconds_count") {
		t.Fatalf("Histogram missing from %s", body)
	}
}
