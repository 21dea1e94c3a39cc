package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "schedbot/internal/transport"
)

type captureSender struct {
	mu   sync.Mutex
	to   []kit.ChatTarget
	msgs []string
}

func (c *captureSender) Start(context.Context, chan<- kit.Update) error { return nil }
func (c *captureSender) Stop(context.Context) error                     { return nil }
func (c *captureSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.to = append(c.to, to)
	c.msgs = append(c.msgs, text)
	return kit.MessageRef{}, nil
}

func (c *captureSender) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

func TestWriterLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "delivery"))

	log.Debug("hidden")
	log.Info("pass done", Int("sent", 3), Uint64("dest", 1<<63), Err(nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &m))
	assert.Equal(t, "pass done", m["message"])
	assert.Equal(t, "delivery", m["comp"])
	assert.Equal(t, float64(3), m["sent"])
	assert.NotContains(t, m, "err")
	assert.True(t, strings.HasPrefix(m["caller"].(string), "logging_test.go:"), m["caller"])
}

func TestZeroAndNop(t *testing.T) {
	var zero Logger
	assert.True(t, zero.IsZero())
	zero.Info("no panic")

	nop := Nop()
	assert.False(t, nop.IsZero())
	nop.Error("dropped", String("k", "v"))
}

func TestService_ChatSink(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bot.log")
	sender := &captureSender{}

	svc, log := New(Config{
		Level: "debug",
		File:  FileConfig{Enabled: true, Path: path},
		Chat:  ChatConfig{Enabled: true, MinLevel: "warn", RatePerSec: 50},
	}, sender)
	defer svc.Close()
	svc.SetChatTarget(kit.ChatTarget{ChatID: -5, ThreadID: 2})

	log.Info("routine")
	log.Warn("send failed", String("dest", "42"))

	require.Eventually(t, func() bool { return len(sender.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := sender.snapshot()[0]
	assert.True(t, strings.HasPrefix(got, "[WARN] send failed"), got)
	assert.Contains(t, got, "- dest=42")
	assert.Equal(t, kit.ChatTarget{ChatID: -5, ThreadID: 2}, sender.to[0])

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "routine")
	assert.Contains(t, string(b), "send failed")
}

func TestService_ApplyChangesLevel(t *testing.T) {
	svc, log := New(Config{Level: "error", File: FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "a.log")}}, nil)
	defer svc.Close()

	assert.False(t, log.Enabled(LevelInfo))
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "b.log")}})
	assert.True(t, log.Enabled(LevelDebug))
}

func TestFormatChatLine(t *testing.T) {
	line := `{"level":"error","time":"x","message":"boom","b":2,"a":"one"}`
	assert.Equal(t, "[ERROR] boom\n- a=one\n- b=2", formatChatLine([]byte(line)))
	assert.Equal(t, "not json", formatChatLine([]byte("  not json \n")))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.WarnLevel, parseLevel("warning", zerolog.InfoLevel))
	assert.Equal(t, zerolog.DebugLevel, parseLevel(" debug ", zerolog.InfoLevel))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("", zerolog.InfoLevel))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "abcdefg...", truncate(strings.Repeat("abcdefg", 5)[:7]+"xyzxyz", 10))
}
