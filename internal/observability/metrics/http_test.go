package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveHTTPRequestCountsErrors(t *testing.T) {
	before := testutil.ToFloat64(httpErrors.WithLabelValues("/api/v1/test", http.MethodGet))

	ObserveHTTPRequest("/api/v1/test", http.MethodGet, http.StatusOK, 10*time.Millisecond)
	ObserveHTTPRequest("/api/v1/test", http.MethodGet, http.StatusInternalServerError, 20*time.Millisecond)

	if got := testutil.ToFloat64(httpRequests.WithLabelValues("/api/v1/test", http.MethodGet, "200")); got < 1 {
		t.Fatalf("expected request counter to increase, got %v", got)
	}
	if got := testutil.ToFloat64(httpErrors.WithLabelValues("/api/v1/test", http.MethodGet)); got != before+1 {
		t.Fatalf("expected one more error, got %v (before %v)", got, before)
	}
}

func TestObserveEventPublish(t *testing.T) {
	ObserveEventPublish("todo.created", nil)
	ObserveEventPublish("todo.created", errors.New("down"))

	if got := testutil.ToFloat64(eventsPublished.WithLabelValues("todo.created", "ok")); got < 1 {
		t.Fatalf("expected ok counter, got %v", got)
	}
	if got := testutil.ToFloat64(eventsPublished.WithLabelValues("todo.created", "error")); got < 1 {
		t.Fatalf("expected error counter, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	ObserveHTTPRequest("/healthz", http.MethodGet, http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, want := range []string{
		"smarttodo_http_requests_total",
		"smarttodo_http_request_duration_seconds_bucket",
		`handler="/healthz"`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
