package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusHandler_ExposesCountersSorted(t *testing.T) {
	m := New()
	m.Inc(ParticipantJoined)
	m.Inc(ParticipantJoined)
	m.Inc(RoomCreated)

	rec := httptest.NewRecorder()
	PrometheusHandler(m).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `roomrelay_events_total{event="participant_joined"} 2`) {
		t.Fatalf("missing participant_joined counter:\n%s", body)
	}
	if !strings.Contains(body, `roomrelay_events_total{event="room_created"} 1`) {
		t.Fatalf("missing room_created counter:\n%s", body)
	}
	if strings.Index(body, "participant_joined") > strings.Index(body, "room_created") {
		t.Fatalf("expected sorted counter output:\n%s", body)
	}
}

func TestMetrics_NilSafeInc(t *testing.T) {
	var m *Metrics
	m.Inc(RoomCreated) // must not panic
	if got := m.Get(RoomCreated); got != 0 {
		t.Fatalf("nil metrics Get: got %d, want 0", got)
	}
}
