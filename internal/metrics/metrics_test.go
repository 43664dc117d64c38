package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsUpdates(t *testing.T) {
	Init()

	startMsgs := testutil.ToFloat64(messagesTotal.WithLabelValues("AddOrderShort"))
	startBBO := testutil.ToFloat64(bboChangesTotal.WithLabelValues("A"))
	startGaps := testutil.ToFloat64(gapsTotal)
	startFailed := testutil.ToFloat64(sessionsTotal.WithLabelValues("failed"))
	startPub := testutil.ToFloat64(publishErrorsTotal.WithLabelValues("redis"))

	AddMessages("AddOrderShort", 5)
	IncBBOChange("A")
	AddGaps(2)
	ObserveSession("failed", 3*time.Second)
	IncPublishError("redis")

	if got := testutil.ToFloat64(messagesTotal.WithLabelValues("AddOrderShort")); got != startMsgs+5 {
		t.Fatalf("cfebook_messages_total mismatch: got %v want %v", got, startMsgs+5)
	}
	if got := testutil.ToFloat64(bboChangesTotal.WithLabelValues("A")); got != startBBO+1 {
		t.Fatalf("cfebook_bbo_changes_total mismatch: got %v want %v", got, startBBO+1)
	}
	if got := testutil.ToFloat64(gapsTotal); got != startGaps+2 {
		t.Fatalf("cfebook_gaps_total mismatch: got %v want %v", got, startGaps+2)
	}
	if got := testutil.ToFloat64(sessionsTotal.WithLabelValues("failed")); got != startFailed+1 {
		t.Fatalf("cfebook_sessions_total mismatch: got %v want %v", got, startFailed+1)
	}
	if got := testutil.ToFloat64(publishErrorsTotal.WithLabelValues("redis")); got != startPub+1 {
		t.Fatalf("cfebook_publish_errors_total mismatch: got %v want %v", got, startPub+1)
	}
}

func TestNoopAdds(t *testing.T) {
	startGaps := testutil.ToFloat64(gapsTotal)
	AddGaps(0)
	AddGaps(-1)
	AddMessages("Time", 0)
	if got := testutil.ToFloat64(gapsTotal); got != startGaps {
		t.Fatalf("gaps changed on noop: got %v want %v", got, startGaps)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	IncBBOChange("E")
	ObserveSession("completed", time.Second)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, name := range []string{"cfebook_bbo_changes_total", "cfebook_session_duration_seconds", "cfebook_sessions_total"} {
		if !strings.Contains(body, name) {
			t.Fatalf("metrics output missing %s", name)
		}
	}

	count, err := testutil.GatherAndCount(registry, "cfebook_bbo_changes_total")
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if count < 1 {
		t.Fatalf("expected bbo changes series, got %d", count)
	}
}
