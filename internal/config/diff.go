package config

import (
	"reflect"
	"strings"

	logx "schedbot/pkg/logx"
)

// SummarizeConfigChange lists the sections that differ between two configs,
// log fields describing the new values (tokens are never included) and the
// changed sections that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, needRestart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	if oldCfg.platform() != newCfg.platform() {
		changed = append(changed, "platform")
		needRestart = append(needRestart, "platform")
		attrs = append(attrs, logx.String("platform", newCfg.platform()))
	}

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) {
		needRestart = append(needRestart, "telegram")
	}
	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.log_chat_set", newCfg.Telegram.LogChat != 0),
			logx.String("telegram.command_timeout", newCfg.Telegram.CommandTimeout),
		)
	}

	if !reflect.DeepEqual(oldCfg.Discord, newCfg.Discord) {
		changed = append(changed, "discord")
		needRestart = append(needRestart, "discord")
		attrs = append(attrs, logx.Int("discord.guild_count", len(newCfg.Discord.GuildIDs)))
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat", newCfg.Logging.Chat.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		needRestart = append(needRestart, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	if !reflect.DeepEqual(oldCfg.Delivery, newCfg.Delivery) {
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.String("delivery.interval", newCfg.Delivery.Interval),
			logx.Int("delivery.rate_per_sec", newCfg.Delivery.RatePerSec),
		)
	}
	return changed, attrs, needRestart
}
