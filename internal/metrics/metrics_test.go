package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStatusClass(t *testing.T) {
	tests := map[int]string{
		200: "2xx",
		201: "2xx",
		304: "3xx",
		404: "4xx",
		503: "5xx",
		0:   "unknown",
	}
	for code, want := range tests {
		if got := StatusClass(code); got != want {
			t.Errorf("StatusClass(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	m := New()
	m.RecordHTTPRequest("GET", "/api/todos", 200, 10*time.Millisecond)
	m.RecordHTTPRequest("GET", "/api/todos", 204, 10*time.Millisecond)
	m.RecordHTTPRequest("GET", "/api/todos", 404, time.Millisecond)

	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/todos", "2xx")); got != 2 {
		t.Errorf("2xx count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/todos", "4xx")); got != 1 {
		t.Errorf("4xx count = %v, want 1", got)
	}
}

func TestRecordKVOperation(t *testing.T) {
	m := New()
	m.RecordKVOperation("memory", "get", "ok", time.Millisecond)
	m.RecordKVOperation("memory", "get", "not_found", time.Millisecond)

	if got := testutil.ToFloat64(m.KVOperationsTotal.WithLabelValues("memory", "get", "ok")); got != 1 {
		t.Errorf("ok count = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.KVOperationDuration); got != 2 {
		t.Errorf("duration series = %d, want one per result", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordHTTPRequest("GET", "/", 200, time.Millisecond)
	m.RecordKVOperation("memory", "put", "ok", time.Millisecond)
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.RecordKVOperation("sqlite", "put", "ok", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "todo_kv_operations_total") {
		t.Errorf("metrics output missing todo_kv_operations_total:\n%s", body)
	}
}
