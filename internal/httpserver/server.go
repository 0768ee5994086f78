package httpserver

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/roomrelay/roomrelay/internal/config"
	"github.com/roomrelay/roomrelay/internal/metrics"
	"github.com/roomrelay/roomrelay/internal/rooms"
	"github.com/roomrelay/roomrelay/internal/telegram"
	"github.com/roomrelay/roomrelay/internal/turnrest"
)

var ErrServerClosed = http.ErrServerClosed

type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

// Options carries the wired subsystems the HTTP surface exposes. Signaling is
// an http.Handler so the server does not depend on the websocket package.
type Options struct {
	Registry  *rooms.Registry
	Metrics   *metrics.Metrics
	Signaling http.Handler

	// TURNMinter is nil unless TURN REST credentials are configured.
	TURNMinter *turnrest.Minter

	// Telegram is nil unless a bot token is configured; it backs the
	// participant profile photo lookup.
	Telegram *telegram.Client

	Build BuildInfo
}

type Server struct {
	log  *slog.Logger
	cfg  config.Config
	opts Options

	ready atomic.Bool

	mux *http.ServeMux
	srv *http.Server
}

func New(cfg config.Config, logger *slog.Logger, opts Options) *Server {
	s := &Server{
		log:  logger,
		cfg:  cfg,
		opts: opts,
		mux:  http.NewServeMux(),
	}

	s.registerRoutes()

	handler := chain(s.mux,
		recoverMiddleware(s.log),
		requestIDMiddleware(),
		requestLoggerMiddleware(s.log),
	)

	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		// Other timeouts stay zero: the signaling endpoint holds upgraded
		// long-lived connections.
	}

	return s
}

// Handler returns the fully wired handler, for tests that want to serve it
// through httptest instead of a real listener.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) Serve(l net.Listener) error {
	s.ready.Store(true)
	s.log.Info("http server serving", "addr", l.Addr().String())
	return s.srv.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	return s.srv.Shutdown(ctx)
}

func (s *Server) Close() error {
	s.ready.Store(false)
	return s.srv.Close()
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"ok": true}
		if s.opts.Registry != nil {
			stats := s.opts.Registry.Stats()
			body["activeRooms"] = stats.Rooms
			body["activeParticipants"] = stats.Participants
		}
		WriteJSON(w, http.StatusOK, body)
	})

	s.mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
			return
		}
		if err := s.cfg.ICEConfigError(); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "error": err.Error()})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"ready": true})
	})

	s.mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, s.opts.Build)
	})

	s.mux.Handle("GET /metrics", metrics.PrometheusHandler(s.opts.Metrics))

	s.mux.HandleFunc("GET /api/ice", s.withOriginPolicy(s.handleICEConfig))
	s.mux.HandleFunc("GET /api/rooms/{roomID}/participants", s.withOriginPolicy(s.handleRoomParticipants))
	s.mux.HandleFunc("GET /api/users/{userID}/photo", s.withOriginPolicy(s.handleUserPhoto))

	if s.opts.Signaling != nil {
		s.mux.Handle("GET /ws", s.withOriginPolicy(s.opts.Signaling.ServeHTTP))
	}
}

func (s *Server) handleRoomParticipants(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")
	if s.opts.Registry == nil {
		http.Error(w, "rooms not configured", http.StatusInternalServerError)
		return
	}

	members := s.opts.Registry.Members(roomID)
	participants := make([]rooms.Participant, 0, len(members))
	for _, m := range members {
		participants = append(participants, m.Participant)
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"roomId":       roomID,
		"participants": participants,
	})
}

// handleUserPhoto resolves a participant's Telegram profile photo to a
// downloadable URL. Participant IDs are Telegram user IDs when clients join
// through the bot flow, so the lookup only makes sense for numeric IDs.
func (s *Server) handleUserPhoto(w http.ResponseWriter, r *http.Request) {
	if !s.opts.Telegram.Enabled() {
		http.Error(w, "profile photos not configured", http.StatusNotFound)
		return
	}

	userID, err := strconv.ParseInt(r.PathValue("userID"), 10, 64)
	if err != nil {
		http.Error(w, "user id must be numeric", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	fileID, ok, err := s.opts.Telegram.ProfilePhotoFileID(ctx, userID)
	if err != nil {
		s.log.Warn("profile photo lookup failed", "err", err, "user_id", userID)
		http.Error(w, "photo lookup failed", http.StatusBadGateway)
		return
	}
	if !ok {
		WriteJSON(w, http.StatusOK, map[string]any{"userId": userID, "photoUrl": nil})
		return
	}

	photoURL, err := s.opts.Telegram.FileURL(ctx, fileID)
	if err != nil {
		s.log.Warn("profile photo file resolution failed", "err", err, "user_id", userID)
		http.Error(w, "photo lookup failed", http.StatusBadGateway)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"userId": userID, "photoUrl": photoURL})
}

type Middleware func(http.Handler) http.Handler

func chain(handler http.Handler, middlewares ...Middleware) http.Handler {
	h := handler
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

func recoverMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic in http handler", "recover", rec, "stack", string(debug.Stack()))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func requestIDMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				var buf [16]byte
				if _, err := rand.Read(buf[:]); err == nil {
					reqID = hex.EncodeToString(buf[:])
				}
			}
			if reqID != "" {
				r.Header.Set("X-Request-ID", reqID)
				w.Header().Set("X-Request-ID", reqID)
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack is forwarded so the websocket upgrade works through the logging
// middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}

func requestLoggerMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(sw, r)

			reqID := r.Header.Get("X-Request-ID")
			logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
				"request_id", reqID,
			)
		})
	}
}

// WriteJSON writes a JSON response body and sets the Content-Type header.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}
