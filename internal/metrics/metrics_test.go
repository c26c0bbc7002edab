package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SessionOpened("shell")
	m.SessionClosed("shell")
	m.CommandFinished("compose-up", "ok", time.Second)
	m.Rejected("sensitive")
	m.Request("GET", 200, time.Millisecond)
}

func TestSessionGauge(t *testing.T) {
	m := New()
	m.SessionOpened("logs")
	m.SessionOpened("logs")
	m.SessionClosed("logs")

	if got := testutil.ToFloat64(m.SessionsActive.WithLabelValues("logs")); got != 1 {
		t.Errorf("active logs sessions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SessionsTotal.WithLabelValues("logs")); got != 2 {
		t.Errorf("total logs sessions = %v, want 2", got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.Rejected("container")

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `stackdeck_rate_limited_total{class="container"} 1`) {
		t.Errorf("rate limited counter missing from exposition")
	}
}
