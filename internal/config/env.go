package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Env holds settings read from the process environment. They override the
// config file so deployments can keep secrets out of it.
type Env struct {
	// Token is the bot token for the selected platform.
	Token string `envconfig:"TOKEN"`
	// DatabaseURL is the sqlite database path.
	DatabaseURL string `envconfig:"DATABASE_URL"`
	Platform    string `envconfig:"SCHEDBOT_PLATFORM"`
	LogLevel    string `envconfig:"SCHEDBOT_LOG_LEVEL"`
}

// LoadDotEnv loads variables from the given .env files (default ".env") into
// the environment. Existing variables win. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// ReadEnv reads Env from the process environment.
func ReadEnv() (Env, error) {
	var e Env
	if err := envconfig.Process("", &e); err != nil {
		return Env{}, err
	}
	return e, nil
}

// Overlay applies non-empty environment values onto cfg.
func (e Env) Overlay(cfg *Config) {
	if cfg == nil {
		return
	}
	if p := strings.TrimSpace(e.Platform); p != "" {
		cfg.Platform = strings.ToLower(p)
	}
	if t := strings.TrimSpace(e.Token); t != "" {
		switch cfg.platform() {
		case PlatformDiscord:
			cfg.Discord.Token = t
		default:
			cfg.Telegram.Token = t
		}
	}
	if u := strings.TrimSpace(e.DatabaseURL); u != "" {
		cfg.Storage.Path = databasePath(u)
		if cfg.Storage.Driver == "" || cfg.Storage.Driver == "memory" {
			cfg.Storage.Driver = "sqlite"
		}
	}
	if l := strings.TrimSpace(e.LogLevel); l != "" {
		cfg.Logging.Level = l
	}
}

// databasePath accepts a bare path or a sqlite:// / file: URL.
func databasePath(u string) string {
	for _, prefix := range []string{"sqlite3://", "sqlite://", "file:"} {
		if strings.HasPrefix(strings.ToLower(u), prefix) {
			return u[len(prefix):]
		}
	}
	return u
}
