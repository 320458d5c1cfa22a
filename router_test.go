package grache

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/always-cache/grache/cache"
	"github.com/always-cache/grache/pkg/metrics"
)

func TestRouterProxiesPost(t *testing.T) {
	o, srv := newOrigin(t, okHandler)
	handler := NewRouter(newProxy(srv, cache.NewMemCache()), nil)

	rr := post(handler, "/", pingQuery, nil)
	if rr.Code != http.StatusOK || o.count() != 1 {
		t.Fatalf("Status is %d, upstream called %d times", rr.Code, o.count())
	}
	if rr.Header().Get("Request-Id") == "" {
		t.Fatal("No request id")
	}
}

func TestRouterRejectsOtherMethods(t *testing.T) {
	o, srv := newOrigin(t, okHandler)
	handler := NewRouter(newProxy(srv, cache.NewMemCache()), nil)

	for _, method := range []string{"GET", "PUT", "DELETE"} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(method, "/", nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: status is %d", method, rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "Only POST method supported") {
			t.Fatalf("%s: body is %s", method, rr.Body.String())
		}
	}
	if o.count() != 0 {
		t.Fatalf("Upstream called %d times", o.count())
	}
}

func TestRouterPreflight(t *testing.T) {
	_, srv := newOrigin(t, okHandler)
	handler := NewRouter(newProxy(srv, cache.NewMemCache()), nil)

	req := httptest.NewRequest("OPTIONS", "/", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "Grache-Expiration")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Status is %d", rr.Code)
	}
	if o := rr.Header().Get("Access-Control-Allow-Origin"); o != "https://shop.example.com" {
		t.Fatalf("Allowed origin is %q", o)
	}
	if h := rr.Header().Get("Access-Control-Allow-Headers"); !strings.EqualFold(h, "Grache-Expiration") {
		t.Fatalf("Allowed headers are %q", h)
	}
}

func TestRouterPlainOptions(t *testing.T) {
	_, srv := newOrigin(t, okHandler)
	handler := NewRouter(newProxy(srv, cache.NewMemCache()), nil)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("OPTIONS", "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Status is %d", rr.Code)
	}
}

func TestRouterHealthAndMetrics(t *testing.T) {
	_, srv := newOrigin(t, okHandler)
	m := metrics.New()
	g := newProxy(srv, cache.NewMemCache())
	g.metrics = m
	handler := NewRouter(g, m)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Health status is %d", rr.Code)
	}

	post(handler, "/", pingQuery, nil)
	post(handler, "/", pingQuery, nil)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rr.Result().Body)
	if !strings.Contains(string(body), "grache_cache_hits_total 1") {
		t.Fatalf("Metrics are %s", body)
	}
	if !strings.Contains(string(body), `grache_requests_total{body="graphql-query",status="200"} 2`) {
		t.Fatalf("Metrics are %s", body)
	}
}
