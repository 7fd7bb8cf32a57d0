package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsIndependentRegistries(t *testing.T) {
	// Two instances with the same namespace must not panic on registration.
	a := NewMetrics("brandely_test")
	b := NewMetrics("brandely_test")

	a.SafetyVerdicts.WithLabelValues("unsafe", "log").Inc()
	a.ObserveCompletionLatency("mock", 120*time.Millisecond)
	b.RateLimited.Inc()

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)
	if !strings.Contains(out, `brandely_test_safety_verdicts_total{enforcement="log",result="unsafe"} 1`) {
		t.Fatalf("metrics output missing safety verdict counter:\n%s", out)
	}
	if strings.Contains(out, "brandely_test_rate_limited_total 1") {
		t.Fatalf("metrics leaked between registries")
	}

	snap := a.SnapshotStages()
	if len(snap.Stages) != 1 || snap.Stages[0].Stage != StageCompletion || snap.Stages[0].Provider != "mock" {
		t.Fatalf("unexpected stage snapshot: %+v", snap.Stages)
	}
	if snap.Stages[0].LastMS != 120 {
		t.Fatalf("LastMS = %.2f, want 120", snap.Stages[0].LastMS)
	}
}
