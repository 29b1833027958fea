package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveQuote(t *testing.T) {
	m := New()
	m.ObserveQuote("dscr", OutcomePriced, 2*time.Millisecond)
	m.ObserveQuote("dscr", OutcomePriced, time.Millisecond)
	m.ObserveQuote("dscr", OutcomeIneligible, time.Millisecond)

	if got := testutil.ToFloat64(m.Quotes.WithLabelValues("dscr", OutcomePriced)); got != 2 {
		t.Errorf("expected 2 priced quotes, got %v", got)
	}
	if got := testutil.ToFloat64(m.Quotes.WithLabelValues("dscr", OutcomeIneligible)); got != 1 {
		t.Errorf("expected 1 ineligible quote, got %v", got)
	}
}

func TestCounters(t *testing.T) {
	m := New()
	m.SkippedVariant("acme", "no_ltv_band")
	m.CacheLookup("memo", true)
	m.CacheLookup("memo", false)
	m.CacheLookup("memo", false)
	m.ObserveHTTP("POST", "/pricing", 200, time.Millisecond)

	if got := testutil.ToFloat64(m.SkippedVariants.WithLabelValues("acme", "no_ltv_band")); got != 1 {
		t.Errorf("expected 1 skip, got %v", got)
	}
	if got := testutil.ToFloat64(m.MatrixCache.WithLabelValues("memo", "miss")); got != 2 {
		t.Errorf("expected 2 misses, got %v", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("POST", "/pricing", "200")); got != 1 {
		t.Errorf("expected 1 request, got %v", got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveQuote("dscr", OutcomePriced, time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, name := range []string{"loanpricer_quotes_total", "loanpricer_quote_duration_seconds", "go_goroutines"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("expected %s in exposition", name)
		}
	}
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.RateLimited.WithLabelValues("t1").Inc()
	if got := testutil.ToFloat64(b.RateLimited.WithLabelValues("t1")); got != 0 {
		t.Errorf("expected separate registries, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveQuote("dscr", OutcomePriced, time.Millisecond)
	m.SkippedVariant("acme", "other")
	m.CacheLookup("memo", true)
	m.ObserveHTTP("GET", "/health", 200, time.Millisecond)
	m.BreakerChanged("store", 2)
	m.RateLimitRejected("t1")
}
