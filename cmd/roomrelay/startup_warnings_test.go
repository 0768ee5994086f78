package main

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/roomrelay/roomrelay/internal/config"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

type recordingHandler struct {
	mu      *sync.Mutex
	records *[]recordedLog
	attrs   []slog.Attr
	groups  []string
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	h := &recordingHandler{mu: mu, records: records}
	logger := slog.New(h)
	return logger, func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		out := make([]recordedLog, len(*records))
		copy(out, *records)
		return out
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{
		level: r.Level,
		msg:   r.Message,
		attrs: map[string]any{},
	}
	for _, a := range h.attrs {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := h.clone()
	nh.attrs = append(nh.attrs, attrs...)
	return nh
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	nh := h.clone()
	nh.groups = append(nh.groups, name)
	return nh
}

func (h *recordingHandler) clone() *recordingHandler {
	cp := &recordingHandler{
		mu:      h.mu,
		records: h.records,
	}
	if len(h.attrs) > 0 {
		cp.attrs = append([]slog.Attr(nil), h.attrs...)
	}
	if len(h.groups) > 0 {
		cp.groups = append([]string(nil), h.groups...)
	}
	return cp
}

func (h *recordingHandler) key(k string) string {
	if len(h.groups) == 0 {
		return k
	}
	out := h.groups[0]
	for _, g := range h.groups[1:] {
		out += "." + g
	}
	return out + "." + k
}

func warningCodes(records []recordedLog) map[string]recordedLog {
	out := map[string]recordedLog{}
	for _, r := range records {
		if r.level != slog.LevelWarn {
			continue
		}
		if code, ok := r.attrs["warning_code"].(string); ok {
			out[code] = r
		}
	}
	return out
}

func stunOnly() []webrtc.ICEServer {
	return []webrtc.ICEServer{{URLs: []string{"stun:stun.example.com:3478"}}}
}

func TestStartupWarnings_AllowedOriginsWildcard(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:           config.ModeDev,
		AllowedOrigins: []string{"*"},
		ICEServers:     stunOnly(),
	}

	logStartupWarnings(logger, cfg)

	codes := warningCodes(records())
	if _, ok := codes["allowed_origins_wildcard"]; !ok {
		t.Fatalf("expected warning_code=allowed_origins_wildcard, got %#v", records())
	}
}

func TestStartupWarnings_UnlimitedRoomsInProd(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:       config.ModeProd,
		ICEServers: stunOnly(),
	}

	logStartupWarnings(logger, cfg)

	codes := warningCodes(records())
	r, ok := codes["max_room_participants_unlimited_in_prod"]
	if !ok {
		t.Fatalf("expected warning_code=max_room_participants_unlimited_in_prod, got %#v", records())
	}
	if r.attrs["mode"] != config.ModeProd {
		t.Fatalf("mode attr = %#v, want %q", r.attrs["mode"], config.ModeProd)
	}

	cfg.MaxRoomParticipants = 16
	logger2, records2 := newRecordingLogger()
	logStartupWarnings(logger2, cfg)
	if _, ok := warningCodes(records2())["max_room_participants_unlimited_in_prod"]; ok {
		t.Fatal("did not expect room limit warning when a limit is set")
	}
}

func TestStartupWarnings_NoTURNConfigured(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:       config.ModeDev,
		ICEServers: stunOnly(),
	}

	logStartupWarnings(logger, cfg)

	if _, ok := warningCodes(records())["no_turn_configured"]; !ok {
		t.Fatalf("expected warning_code=no_turn_configured, got %#v", records())
	}

	// A static TURN server with credentials silences it.
	cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{
		URLs:       []string{"turn:turn.example.com:3478"},
		Username:   "user",
		Credential: "pass",
	})
	logger2, records2 := newRecordingLogger()
	logStartupWarnings(logger2, cfg)
	if _, ok := warningCodes(records2())["no_turn_configured"]; ok {
		t.Fatal("did not expect no_turn_configured with a static TURN server")
	}

	// TURN REST silences it too.
	cfg.ICEServers = stunOnly()
	cfg.TURNREST = config.TurnRESTConfig{SharedSecret: "s3cret", TTLSeconds: 3600, UsernamePrefix: "roomrelay"}
	logger3, records3 := newRecordingLogger()
	logStartupWarnings(logger3, cfg)
	if _, ok := warningCodes(records3())["no_turn_configured"]; ok {
		t.Fatal("did not expect no_turn_configured with TURN REST enabled")
	}
}

func TestStartupWarnings_LargeTURNRESTTTL(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:       config.ModeProd,
		ICEServers: stunOnly(),
		TURNREST: config.TurnRESTConfig{
			SharedSecret:   "s3cret",
			TTLSeconds:     7 * 24 * 3600,
			UsernamePrefix: "roomrelay",
		},
	}

	logStartupWarnings(logger, cfg)

	if _, ok := warningCodes(records())["turn_rest_ttl_large"]; !ok {
		t.Fatalf("expected warning_code=turn_rest_ttl_large, got %#v", records())
	}
}

func TestStartupWarnings_InsecureTelegramBaseURL(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:       config.ModeDev,
		ICEServers: stunOnly(),
		Telegram: config.TelegramConfig{
			BotToken:   "123:abc",
			APIBaseURL: "http://tg-proxy.internal",
		},
	}

	logStartupWarnings(logger, cfg)

	if _, ok := warningCodes(records())["telegram_api_base_url_insecure"]; !ok {
		t.Fatalf("expected warning_code=telegram_api_base_url_insecure, got %#v", records())
	}
}
