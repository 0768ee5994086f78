package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"syscall"
	"time"

	"github.com/roomrelay/roomrelay/internal/config"
	"github.com/roomrelay/roomrelay/internal/httpserver"
	"github.com/roomrelay/roomrelay/internal/metrics"
	"github.com/roomrelay/roomrelay/internal/rooms"
	"github.com/roomrelay/roomrelay/internal/signaling"
	"github.com/roomrelay/roomrelay/internal/telegram"
	"github.com/roomrelay/roomrelay/internal/turnrest"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting roomrelay",
		"listen_addr", cfg.ListenAddr,
		"public_base_url", cfg.PublicBaseURL,
		"mode", cfg.Mode,
		"max_room_participants", cfg.MaxRoomParticipants,
		"signaling_ws_idle_timeout", cfg.SignalingWSIdleTimeout,
		"signaling_ws_ping_interval", cfg.SignalingWSPingInterval,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
		"ice_servers", len(cfg.ICEServers),
		"turn_rest_enabled", cfg.TURNREST.Enabled(),
		"telegram_enabled", cfg.Telegram.Enabled(),
	)

	logStartupWarnings(logger, cfg)

	m := metrics.New()
	registry := rooms.NewRegistry(rooms.Options{MaxParticipants: cfg.MaxRoomParticipants})

	var minter *turnrest.Minter
	if cfg.TURNREST.Enabled() {
		minter, err = turnrest.New(turnrest.Config{
			SharedSecret:   cfg.TURNREST.SharedSecret,
			TTL:            time.Duration(cfg.TURNREST.TTLSeconds) * time.Second,
			UsernamePrefix: cfg.TURNREST.UsernamePrefix,
		})
		if err != nil {
			logger.Error("failed to configure turn rest credentials", "err", err)
			os.Exit(2)
		}
	}

	var bot *telegram.Client
	if cfg.Telegram.Enabled() {
		bot = telegram.New(telegram.Config{
			BotToken:   cfg.Telegram.BotToken,
			APIBaseURL: cfg.Telegram.APIBaseURL,
			Logger:     logger,
		})
	}

	sig := signaling.NewServer(signaling.Config{
		Registry:             registry,
		Logger:               logger,
		Metrics:              m,
		OnJoin:               joinNotifier(logger, bot),
		IdleTimeout:          cfg.SignalingWSIdleTimeout,
		PingInterval:         cfg.SignalingWSPingInterval,
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: int64(cfg.MaxSignalingMessagesPerSecond),
		SendQueueSize:        cfg.SendQueueSize,
	})

	commit, builtAt := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.Options{
		Registry:   registry,
		Metrics:    m,
		Signaling:  sig,
		TURNMinter: minter,
		Telegram:   bot,
		Build:      httpserver.BuildInfo{Commit: commit, BuildTime: builtAt},
	})

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		sig.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	sig.Close()

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

// joinNotifier adapts the optional Telegram client into a signaling OnJoin
// hook. Participant IDs that are numeric are treated as Telegram chat IDs;
// anything else joined from outside the bot flow and is skipped.
func joinNotifier(logger *slog.Logger, bot *telegram.Client) func(roomID string, p rooms.Participant) {
	if !bot.Enabled() {
		return nil
	}
	return func(roomID string, p rooms.Participant) {
		chatID, err := strconv.ParseInt(p.ID, 10, 64)
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := bot.NotifyJoined(ctx, chatID, p.DisplayName, roomID); err != nil {
			logger.Warn("telegram join notification failed",
				"err", err,
				"room_id", roomID,
				"participant_id", p.ID,
			)
		}
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
