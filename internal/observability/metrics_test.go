package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crm-voice/internal/calls"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveSession_CountsEndsAndDurations(t *testing.T) {
	m := NewMetrics("crm_voice", prometheus.NewRegistry())

	start := time.Unix(1700000000, 0)
	connected := start.Add(3 * time.Second)
	ended := connected.Add(90 * time.Second)
	s := calls.Session{StartedAt: start, ConnectedAt: &connected, EndedAt: &ended, EndReason: "hangup"}

	m.ObserveSession(calls.EventConnected, s)
	m.ObserveSession(calls.EventEnded, s)

	if got := testutil.ToFloat64(m.CallEnds.WithLabelValues("hangup")); got != 1 {
		t.Fatalf("expected one hangup, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionEvents.WithLabelValues("ended")); got != 1 {
		t.Fatalf("expected one ended event, got %v", got)
	}
	if n := testutil.CollectAndCount(m.CallDuration); n != 1 {
		t.Fatalf("expected duration histogram, got %d series", n)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveSession(calls.EventEnded, calls.Session{})
	m.SetGauges(1, 2)
	m.ObserveMessage("inbound", "register", "ok")
	m.ObserveError("not_found")
}

func TestHandlerServesRegistry(t *testing.T) {
	m := NewMetrics("crm_voice", prometheus.NewRegistry())
	m.SetGauges(2, 5)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), "crm_voice_ws_connections 5") {
		t.Fatalf("gauge missing from exposition:\n%s", w.Body.String())
	}
}
