package signaling

import (
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roomrelay/roomrelay/internal/metrics"
	"github.com/roomrelay/roomrelay/internal/ratelimit"
	"github.com/roomrelay/roomrelay/internal/rooms"
)

const (
	defaultIdleTimeout       = 60 * time.Second
	defaultPingInterval      = 20 * time.Second
	defaultMaxMessageBytes   = 64 * 1024
	defaultMessagesPerSecond = 50
	defaultSendQueueSize     = 64
)

// Config wires a Server. The zero value of every field except Registry is
// usable; Logger and Metrics default to no-ops.
type Config struct {
	Registry *rooms.Registry
	Logger   *slog.Logger
	Metrics  *metrics.Metrics

	// OnJoin, when set, is invoked on its own goroutine after each successful
	// join. Used for side channels such as chat notifications.
	OnJoin func(roomID string, p rooms.Participant)

	// IdleTimeout is how long a connection may go without any inbound frame,
	// pong replies included, before it is dropped.
	IdleTimeout  time.Duration
	PingInterval time.Duration

	MaxMessageBytes      int64
	MaxMessagesPerSecond int64

	// SendQueueSize bounds each connection's outbound queue. A participant
	// whose queue overflows is disconnected rather than backpressuring the
	// room.
	SendQueueSize int
}

// Server upgrades websocket connections and runs the room signaling protocol
// over them.
//
// Origin checks are left to the HTTP middleware in front of the handler, so
// the upgrader accepts any origin here.
type Server struct {
	registry *rooms.Registry
	log      *slog.Logger
	metrics  *metrics.Metrics
	onJoin   func(roomID string, p rooms.Participant)
	cfg      Config
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		registry: cfg.Registry,
		log:      log,
		metrics:  cfg.Metrics,
		onJoin:   cfg.OnJoin,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{
		srv:     s,
		conn:    conn,
		log:     s.log.With("remote_addr", conn.RemoteAddr().String()),
		limiter: ratelimit.NewTokenBucket(ratelimit.RealClock{}, s.maxMessagesPerSecond(), s.maxMessagesPerSecond()),
		send:    make(chan []byte, s.sendQueueSize()),
		done:    make(chan struct{}),
	}

	if !s.track(c) {
		_ = conn.Close()
		return
	}

	go c.writeLoop()
	c.run()
}

// Close tears down every live connection. New upgrades are refused afterward.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		c.teardown()
	}
}

func (s *Server) track(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) idleTimeout() time.Duration {
	if s.cfg.IdleTimeout > 0 {
		return s.cfg.IdleTimeout
	}
	return defaultIdleTimeout
}

func (s *Server) pingInterval() time.Duration {
	if s.cfg.PingInterval > 0 {
		return s.cfg.PingInterval
	}
	return defaultPingInterval
}

func (s *Server) maxMessageBytes() int64 {
	if s.cfg.MaxMessageBytes > 0 {
		return s.cfg.MaxMessageBytes
	}
	return defaultMaxMessageBytes
}

func (s *Server) maxMessagesPerSecond() int64 {
	if s.cfg.MaxMessagesPerSecond > 0 {
		return s.cfg.MaxMessagesPerSecond
	}
	return defaultMessagesPerSecond
}

func (s *Server) sendQueueSize() int {
	if s.cfg.SendQueueSize > 0 {
		return s.cfg.SendQueueSize
	}
	return defaultSendQueueSize
}
