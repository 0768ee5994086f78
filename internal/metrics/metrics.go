package metrics

import "sync"

// Event counter names.
const (
	RoomCreated       = "room_created"
	RoomDeleted       = "room_deleted"
	ParticipantJoined = "participant_joined"
	ParticipantLeft   = "participant_left"
	SignalRelayed     = "signal_relayed"
	StateUpdated      = "state_updated"
	ProtocolError     = "protocol_error"

	DropReasonSlowConsumer = "dropped_slow_consumer"
	DropReasonRateLimited  = "dropped_rate_limited"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// Counters are exposed for scraping via PrometheusHandler; keeping the
// registry in-process avoids a metrics dependency while leaving the signaling
// paths cheap to instrument.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
