package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RequestCount.WithLabelValues("/infer", "200").Inc()
	m.PipelineFailures.WithLabelValues("/explain", "TRANSFORMED").Inc()
	m.ObserveStage("PREDICTED", time.Now().Add(-time.Millisecond))

	if got := testutil.ToFloat64(m.RequestCount.WithLabelValues("/infer", "200")); got != 1 {
		t.Fatalf("expected 1 request, got %v", got)
	}

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		"inferserve_requests_total",
		"inferserve_pipeline_failures_total",
		"inferserve_stage_duration_seconds_bucket",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %s", want)
		}
	}
}

func TestObserveStageOnNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveStage("PREDICTED", time.Now())
}
