package config

// Config is the on-disk configuration (JSON or YAML).
//
// Secrets may be left out of the file and supplied through the environment
// instead; see Env.
type Config struct {
	// Platform selects the chat transport: "telegram" (default) or "discord".
	Platform string         `json:"platform,omitempty"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Delivery DeliveryConfig `json:"delivery"`
}

const (
	PlatformTelegram = "telegram"
	PlatformDiscord  = "discord"
)

type TelegramConfig struct {
	Token        string  `json:"token,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// LogChat receives forwarded log lines when logging.chat is enabled.
	LogChat     int64 `json:"log_chat,omitempty"`
	LogThreadID int   `json:"log_thread_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// CommandTimeout bounds a single command handler. Default "30s".
	CommandTimeout string `json:"command_timeout,omitempty"`
	// Workers is the command handler pool size. Default 4.
	Workers int `json:"workers,omitempty"`
}

type DiscordConfig struct {
	Token string `json:"token,omitempty"`
	// GuildIDs limits slash command registration to these guilds, which makes
	// command changes visible immediately. Empty registers commands globally.
	GuildIDs     []string `json:"guild_ids,omitempty"`
	LogChannelID string   `json:"log_channel_id,omitempty"`
	// RemoveCommandsOnStop deletes registered slash commands at shutdown.
	RemoveCommandsOnStop bool `json:"remove_commands_on_stop,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat forwards log lines to the platform's log chat
// (telegram.log_chat or discord.log_channel_id).
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the scheduled-message store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/schedbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// DeliveryConfig controls the delivery pass.
//
// Urgent and MentionEveryone are pointers so an omitted key keeps the default (true).
type DeliveryConfig struct {
	// Interval: Go duration, HH:MM, "@every 10s" or cron. Default "10s".
	Interval    string `json:"interval,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`

	Urgent          *bool `json:"urgent,omitempty"`
	MentionEveryone *bool `json:"mention_everyone,omitempty"`
}
