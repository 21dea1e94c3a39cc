package config

import (
	"errors"
	"fmt"
	"strings"
)

func (c *Config) platform() string {
	p := strings.ToLower(strings.TrimSpace(c.Platform))
	if p == "" {
		return PlatformTelegram
	}
	return p
}

// ActivePlatform returns the selected platform with the default applied.
func (c *Config) ActivePlatform() string { return c.platform() }

// Validate checks the config for values that would fail at startup.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	switch cfg.platform() {
	case PlatformTelegram:
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			add("telegram.token is required (or set TOKEN)")
		}
		if cfg.Logging.Chat.Enabled && cfg.Telegram.LogChat == 0 {
			add("logging.chat.enabled requires telegram.log_chat")
		}
	case PlatformDiscord:
		if strings.TrimSpace(cfg.Discord.Token) == "" {
			add("discord.token is required (or set TOKEN)")
		}
		if cfg.Logging.Chat.Enabled && strings.TrimSpace(cfg.Discord.LogChannelID) == "" {
			add("logging.chat.enabled requires discord.log_channel_id")
		}
	default:
		add("platform: unknown %q (want telegram or discord)", cfg.Platform)
	}
	if cfg.Telegram.Workers < 0 {
		add("telegram.workers must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add("storage.path is required for sqlite (or set DATABASE_URL)")
		}
	case "memory":
	default:
		add("storage.driver: unknown %q (want sqlite or memory)", cfg.Storage.Driver)
	}

	if cfg.Delivery.RatePerSec < 0 {
		add("delivery.rate_per_sec must be >= 0")
	}
	if cfg.Logging.Chat.RatePerSec < 0 {
		add("logging.chat.rate_per_sec must be >= 0")
	}

	errs = append(errs, checkDurations(cfg)...)
	return errors.Join(errs...)
}
