package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

const yamlConfig = `
platform: telegram
telegram:
  token: "123:abc"
  owner_user_ids: [42]
logging:
  level: info
  console: true
storage:
  driver: sqlite
  path: ./data/bot.db
delivery:
  interval: 10s
  urgent: false
`

func TestParse_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, yamlConfig)

	cfg, err := NewConfigManager(path, Env{}).Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || len(cfg.Telegram.OwnerUserIDs) != 1 {
		t.Fatalf("telegram=%+v", cfg.Telegram)
	}
	if cfg.Delivery.Urgent == nil || *cfg.Delivery.Urgent {
		t.Fatalf("urgent should be an explicit false")
	}
	if cfg.Delivery.MentionEveryone != nil {
		t.Fatalf("mention_everyone should be omitted")
	}
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"telegram":{"token":"x"},"storage":{"path":"a.db"},"schedulr":{}}`)
	if _, err := NewConfigManager(path, Env{}).Parse(); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestParse_YAMLNonStringKeyNamesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "telegram:\n  token: x\nlogging:\n  chat:\n    1: true\n")

	_, err := NewConfigManager(path, Env{}).Parse()
	if err == nil {
		t.Fatalf("expected error for integer key")
	}
	for _, w := range []string{"config.yaml", "logging.chat", "key 1"} {
		if !strings.Contains(err.Error(), w) {
			t.Fatalf("error %q does not mention %q", err, w)
		}
	}
}

func TestNormalizeYAML_Paths(t *testing.T) {
	in := map[string]any{
		"telegram": map[string]any{"owner_user_ids": []any{42, map[any]any{true: "x"}}},
	}
	_, err := normalizeYAML("", in)
	if err == nil || !strings.Contains(err.Error(), "telegram.owner_user_ids[1]") {
		t.Fatalf("err=%v", err)
	}

	out, err := normalizeYAML("", map[any]any{"storage": map[any]any{"path": "a.db"}})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	storage, ok := out.(map[string]any)["storage"].(map[string]any)
	if !ok || storage["path"] != "a.db" {
		t.Fatalf("out=%#v", out)
	}

	if _, err := normalizeYAML("", map[any]any{7: "x"}); err == nil || !strings.Contains(err.Error(), "top level") {
		t.Fatalf("err=%v", err)
	}
}

func TestParse_EnvOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"platform":"discord","storage":{"driver":"memory"}}`)

	cfg, err := NewConfigManager(path, Env{Token: "disc-token", DatabaseURL: "sqlite://bot.db"}).Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Discord.Token != "disc-token" || cfg.Telegram.Token != "" {
		t.Fatalf("token went to the wrong platform: %+v %+v", cfg.Discord, cfg.Telegram)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != "bot.db" {
		t.Fatalf("storage=%+v", cfg.Storage)
	}
}

func TestReadEnv(t *testing.T) {
	t.Setenv("TOKEN", "tok")
	t.Setenv("DATABASE_URL", "db.sqlite")
	t.Setenv("SCHEDBOT_PLATFORM", "Discord")
	e, err := ReadEnv()
	if err != nil {
		t.Fatalf("read env: %v", err)
	}
	if e.Token != "tok" || e.DatabaseURL != "db.sqlite" || e.Platform != "Discord" {
		t.Fatalf("env=%+v", e)
	}
	var cfg Config
	e.Overlay(&cfg)
	if cfg.ActivePlatform() != PlatformDiscord {
		t.Fatalf("platform=%q", cfg.Platform)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	writeFile(t, envFile, "SCHEDBOT_LOG_LEVEL=debug\n")
	t.Setenv("SCHEDBOT_LOG_LEVEL", "")
	os.Unsetenv("SCHEDBOT_LOG_LEVEL")

	if err := LoadDotEnv(envFile, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := os.Getenv("SCHEDBOT_LOG_LEVEL"); got != "debug" {
		t.Fatalf("SCHEDBOT_LOG_LEVEL=%q", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want []string
	}{
		{
			name: "ok",
			cfg:  Config{Telegram: TelegramConfig{Token: "t"}, Storage: StorageConfig{Path: "a.db"}},
		},
		{
			name: "missing token and path",
			cfg:  Config{},
			want: []string{"telegram.token", "storage.path"},
		},
		{
			name: "bad platform and driver",
			cfg:  Config{Platform: "irc", Storage: StorageConfig{Driver: "mongo"}},
			want: []string{"platform", "storage.driver"},
		},
		{
			name: "bad durations",
			cfg: Config{
				Telegram: TelegramConfig{Token: "t", PollTimeout: "soon"},
				Storage:  StorageConfig{Driver: "memory"},
				Delivery: DeliveryConfig{SendTimeout: "-1s"},
			},
			want: []string{"telegram.poll_timeout", "delivery.send_timeout"},
		},
		{
			name: "chat log without target",
			cfg: Config{
				Platform: "discord",
				Discord:  DiscordConfig{Token: "t"},
				Storage:  StorageConfig{Driver: "memory"},
				Logging:  LoggingConfig{Chat: LoggingChat{Enabled: true}},
			},
			want: []string{"discord.log_channel_id"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.cfg)
			if len(tt.want) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error")
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Fatalf("error %q does not mention %q", err, w)
				}
			}
		})
	}
}

func TestValidate_DurationErrorsInFieldOrder(t *testing.T) {
	cfg := Config{
		Telegram: TelegramConfig{Token: "t", PollTimeout: "soon", CommandTimeout: "later"},
		Storage:  StorageConfig{Driver: "memory", BusyTimeout: "-2s"},
		Delivery: DeliveryConfig{SendTimeout: "x"},
	}
	want := []string{"telegram.poll_timeout", "telegram.command_timeout", "storage.busy_timeout", "delivery.send_timeout"}
	for i := 0; i < 5; i++ {
		err := Validate(&cfg)
		if err == nil {
			t.Fatalf("expected error")
		}
		msg := err.Error()
		last := -1
		for _, w := range want {
			at := strings.Index(msg, w)
			if at <= last {
				t.Fatalf("%q out of order in %q", w, msg)
			}
			last = at
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg := &Config{Telegram: TelegramConfig{Token: "a"}, Storage: StorageConfig{Path: "a.db"}}
	newCfg := &Config{Telegram: TelegramConfig{Token: "a"}, Storage: StorageConfig{Path: "b.db"},
		Delivery: DeliveryConfig{Interval: "30s"}}

	changed, _, restart := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "storage,delivery" {
		t.Fatalf("changed=%v", changed)
	}
	if strings.Join(restart, ",") != "storage" {
		t.Fatalf("restart=%v", restart)
	}
}

func TestWatch_PublishesValidChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"telegram":{"token":"t"},"storage":{"path":"a.db"},"delivery":{"interval":"10s"}}`)

	m := NewConfigManager(path, Env{})
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// Invalid content is ignored.
	writeFile(t, path, `{"telegram":{"token":"t"},"storage":{"path":"a.db"},"delivery":{"send_timeout":"x"}}`)
	time.Sleep(500 * time.Millisecond)
	if m.Get().Delivery.Interval != "10s" {
		t.Fatalf("invalid config was committed")
	}

	writeFile(t, path, `{"telegram":{"token":"t"},"storage":{"path":"a.db"},"delivery":{"interval":"30s"}}`)
	select {
	case cfg := <-sub:
		if cfg.Delivery.Interval != "30s" {
			t.Fatalf("interval=%q", cfg.Delivery.Interval)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no config published")
	}
}
