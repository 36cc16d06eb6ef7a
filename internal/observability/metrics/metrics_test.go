package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"AgentHub/internal/dispatch"
)

func TestObserveDispatch(t *testing.T) {
	c := New()
	c.ObserveDispatch("writer", dispatch.OutcomeSucceeded, 120*time.Millisecond)
	c.ObserveDispatch("writer", dispatch.OutcomeTimeout, 2*time.Second)
	c.ObserveDispatch("writer", dispatch.OutcomeSucceeded, 10*time.Millisecond)

	if got := testutil.ToFloat64(c.dispatches.WithLabelValues("writer", "succeeded")); got != 2 {
		t.Fatalf("expected 2 successes, got %v", got)
	}
	if got := testutil.ToFloat64(c.dispatches.WithLabelValues("writer", "timeout")); got != 1 {
		t.Fatalf("expected 1 timeout, got %v", got)
	}
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	c := New()
	handler := c.Middleware("commands", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/commands", nil))
	}

	if got := testutil.ToFloat64(c.requests.WithLabelValues("commands", http.MethodPost, "502")); got != 3 {
		t.Fatalf("expected 3 requests, got %v", got)
	}
	if got := testutil.ToFloat64(c.requestErrors.WithLabelValues("commands", http.MethodPost)); got != 3 {
		t.Fatalf("expected 3 errors, got %v", got)
	}
}

func TestHandlerExposesGauge(t *testing.T) {
	c := New()
	if err := c.Gauge("dispatch_in_flight", "Tasks currently in flight.", func() float64 { return 4 }); err != nil {
		t.Fatalf("register gauge: %v", err)
	}
	c.ObserveHTTPRequest("snapshot", http.MethodGet, http.StatusOK, time.Millisecond)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		"agenthub_dispatch_in_flight 4",
		`agenthub_http_requests_total{code="200",handler="snapshot",method="GET"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestStartServerStopsOnCancel(t *testing.T) {
	c := New()
	if err := c.StartServer(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty address")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.StartServer(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not stop")
	}
}
