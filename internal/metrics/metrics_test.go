package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit_Idempotent(t *testing.T) {
	Init()
	Init()
}

func TestHandler_ExposesCollectors(t *testing.T) {
	Init()
	RunsTotal.WithLabelValues("settled").Inc()
	DispatchResults.WithLabelValues("failed").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, name := range []string{"payday_runs_total", "payday_dispatch_results_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(AmountSettled.WithLabelValues("capture"))
	AmountSettled.WithLabelValues("capture").Add(2.5)
	if got := testutil.ToFloat64(AmountSettled.WithLabelValues("capture")) - before; got != 2.5 {
		t.Errorf("capture amount delta = %v, want 2.5", got)
	}
}
