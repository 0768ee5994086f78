package main

import (
	"log/slog"
	"strings"
	"time"

	"github.com/roomrelay/roomrelay/internal/config"
)

func logStartupWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := cfg.ICEConfigError(); err != nil {
		logger.Warn("startup warning: ICE server configuration is invalid; /api/ice and /readyz will return 503 until fixed",
			"warning_code", "ice_config_invalid",
			"err", err,
			"mode", cfg.Mode,
		)
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxRoomParticipants <= 0 {
		logger.Warn("startup security warning: MAX_ROOM_PARTICIPANTS is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_room_participants_unlimited_in_prod",
			"max_room_participants", cfg.MaxRoomParticipants,
			"mode", cfg.Mode,
		)
	}

	// Warn if the signaling message cap is unusually large, since this weakens
	// the relay's oversized message DoS hardening.
	if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (increases per-message allocation risk)",
			"warning_code", "max_signaling_message_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}

	if cfg.TURNREST.Enabled() && cfg.TURNREST.TTLSeconds > int64((24*time.Hour).Seconds()) {
		logger.Warn("startup security warning: TURN_REST_TTL_SECONDS is very large (leaked credentials stay usable for the full TTL)",
			"warning_code", "turn_rest_ttl_large",
			"turn_rest_ttl_seconds", cfg.TURNREST.TTLSeconds,
			"mode", cfg.Mode,
		)
	}

	if !cfg.TURNREST.Enabled() && !hasStaticTURNServer(cfg) {
		logger.Warn("startup warning: no TURN server configured; peers behind symmetric NAT will fail to connect",
			"warning_code", "no_turn_configured",
			"ice_servers", len(cfg.ICEServers),
			"mode", cfg.Mode,
		)
	}

	if cfg.Telegram.Enabled() && strings.HasPrefix(cfg.Telegram.APIBaseURL, "http://") {
		logger.Warn("startup security warning: TELEGRAM_API_BASE_URL uses plain http (bot token sent in cleartext)",
			"warning_code", "telegram_api_base_url_insecure",
			"mode", cfg.Mode,
		)
	}
}

func hasStaticTURNServer(cfg config.Config) bool {
	for _, server := range cfg.ICEServers {
		for _, raw := range server.URLs {
			url := strings.ToLower(strings.TrimSpace(raw))
			if strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") {
				return true
			}
		}
	}
	return false
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}
