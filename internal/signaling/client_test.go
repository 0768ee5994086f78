package signaling

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/roomrelay/roomrelay/internal/ratelimit"
	"github.com/roomrelay/roomrelay/internal/rooms"
)

// newRawClient upgrades one websocket connection into a client without
// starting its read or write loops, so tests can drive the handlers and
// teardown in a chosen order.
func newRawClient(t *testing.T, srv *Server) *client {
	t.Helper()

	clientCh := make(chan *client, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := srv.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		c := &client{
			srv:     srv,
			conn:    conn,
			log:     srv.log,
			limiter: ratelimit.NewTokenBucket(ratelimit.RealClock{}, srv.maxMessagesPerSecond(), srv.maxMessagesPerSecond()),
			send:    make(chan []byte, srv.sendQueueSize()),
			done:    make(chan struct{}),
		}
		srv.track(c)
		clientCh <- c
	}))
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return <-clientCh
}

func TestTeardownDuringJoinLeavesNoGhostMember(t *testing.T) {
	registry := rooms.NewRegistry(rooms.Options{})
	srv := NewServer(Config{Registry: registry})
	c := newRawClient(t, srv)

	// The write loop can tear the connection down while a join sits between
	// the registry commit and the client recording its membership. The join
	// must notice and undo itself; a later teardown sees no join state.
	c.teardown()
	c.handleJoin(Message{Type: MessageTypeJoin, RoomID: "room123", DisplayName: "Alice"})
	c.teardown()

	stats := registry.Stats()
	if stats.Rooms != 0 || stats.Participants != 0 {
		t.Fatalf("stats=%+v, want no rooms or participants once the connection is gone", stats)
	}
}

func TestJoinBeforeTeardownIsRemovedExactlyOnce(t *testing.T) {
	registry := rooms.NewRegistry(rooms.Options{})
	srv := NewServer(Config{Registry: registry})
	c := newRawClient(t, srv)

	c.handleJoin(Message{Type: MessageTypeJoin, RoomID: "room123", DisplayName: "Alice"})
	if stats := registry.Stats(); stats.Participants != 1 {
		t.Fatalf("stats=%+v, want 1 participant after join", stats)
	}

	c.teardown()
	c.teardown()

	stats := registry.Stats()
	if stats.Rooms != 0 || stats.Participants != 0 {
		t.Fatalf("stats=%+v, want empty registry after teardown", stats)
	}
}
