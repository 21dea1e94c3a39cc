package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	kit "schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }
func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) waitFor(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		if len(f.texts) >= n {
			out := append([]string(nil), f.texts...)
			f.mu.Unlock()
			return out
		}
		f.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d replies", n)
	return nil
}

type fakeAdmins map[int64]int64 // chat -> admin user

func (f fakeAdmins) IsChatAdmin(_ context.Context, chatID, userID int64) (bool, error) {
	return f[chatID] == userID, nil
}

func msg(chat, from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chat, FromID: from, Text: text}}
}

func startRouter(t *testing.T, ad *fakeAdapter, cmds []Command) chan kit.Update {
	t.Helper()
	r := New(logx.Nop(), ad, fakeAdmins{-100: 7}, []int64{1}, Options{Workers: 2})
	r.SetUsername("schedbot")
	ctx, cancel := context.WithCancel(context.Background())
	r.SetRegistry(ctx, cmds)
	updates := make(chan kit.Update, 8)
	done := make(chan struct{})
	go func() {
		_ = r.DispatchLoop(ctx, updates)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return updates
}

func echoCommand(name string, access Access) Command {
	return Command{
		Name:   name,
		Access: access,
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, name+":"+req.RawArgs)
		},
	}
}

func TestRouter_Dispatch(t *testing.T) {
	ad := &fakeAdapter{}
	updates := startRouter(t, ad, []Command{echoCommand("echo", AccessEveryone)})

	updates <- msg(5, 2, "/echo@schedbot  keep   spacing\nand lines")
	got := ad.waitFor(t, 1)
	if got[0] != "echo:keep   spacing\nand lines" {
		t.Fatalf("reply=%q", got[0])
	}
}

func TestRouter_IgnoresOtherBots(t *testing.T) {
	ad := &fakeAdapter{}
	updates := startRouter(t, ad, []Command{echoCommand("echo", AccessEveryone)})

	updates <- msg(5, 2, "/echo@otherbot hi")
	updates <- msg(5, 2, "/echo mine")
	got := ad.waitFor(t, 1)
	if got[0] != "echo:mine" {
		t.Fatalf("reply=%q", got[0])
	}
}

func TestRouter_Access(t *testing.T) {
	ad := &fakeAdapter{}
	updates := startRouter(t, ad, []Command{
		echoCommand("flush", AccessOwnerOnly),
	})

	updates <- msg(5, 2, "/flush")
	got := ad.waitFor(t, 1)
	if !strings.Contains(got[0], "not allowed") {
		t.Fatalf("non-owner reply=%q", got[0])
	}

	updates <- msg(5, 1, "/flush")
	got = ad.waitFor(t, 2)
	if got[1] != "flush:" {
		t.Fatalf("owner reply=%q", got[1])
	}
}

func TestRouter_HelpAndUnknown(t *testing.T) {
	ad := &fakeAdapter{}
	updates := startRouter(t, ad, []Command{{
		Name:        "schedule_message",
		Description: "schedule a message",
		Usage:       "/schedule_message <chat> <date> <time> <text>",
		Access:      AccessOwnerOnly,
		Handle:      func(context.Context, *Request) error { return nil },
	}})

	updates <- msg(5, 2, "/nope")
	updates <- msg(5, 2, "/help")
	got := ad.waitFor(t, 2)
	joined := strings.Join(got, "\n")
	if !strings.Contains(joined, "unknown command") {
		t.Fatalf("missing unknown reply: %q", joined)
	}
	if !strings.Contains(joined, "/schedule_message</code> - schedule a message") {
		t.Fatalf("help missing command: %q", joined)
	}

	updates <- msg(5, 2, "/help schedule_message")
	got = ad.waitFor(t, 3)
	if !strings.Contains(got[2], "Bot owners only") || !strings.Contains(got[2], "&lt;chat&gt;") {
		t.Fatalf("detail help=%q", got[2])
	}
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		in, word, rest string
		ok             bool
	}{
		{in: "/ping", word: "ping", ok: true},
		{in: "  /ping@bot  a b ", word: "ping@bot", rest: "a b ", ok: true},
		{in: "/s x\ny", word: "s", rest: "x\ny", ok: true},
		{in: "hello", ok: false},
		{in: "/", ok: false},
	}
	for _, tt := range tests {
		word, rest, ok := splitCommand(tt.in)
		if ok != tt.ok || word != tt.word || rest != tt.rest {
			t.Fatalf("splitCommand(%q) = %q, %q, %v", tt.in, word, rest, ok)
		}
	}
}

func TestSplitArgs(t *testing.T) {
	head, rest, ok := SplitArgs("-100 2024/01/01 10:00:00 hello  world\nline2", 3)
	if !ok || strings.Join(head, "|") != "-100|2024/01/01|10:00:00" || rest != "hello  world\nline2" {
		t.Fatalf("head=%q rest=%q ok=%v", head, rest, ok)
	}

	_, rest, ok = SplitArgs(". 2024/01/01 10:00:00\nbody\n  indented", 3)
	if !ok || rest != "body\n  indented" {
		t.Fatalf("rest=%q ok=%v", rest, ok)
	}

	head, rest, ok = SplitArgs("a b c", 3)
	if !ok || len(head) != 3 || rest != "" {
		t.Fatalf("head=%q rest=%q ok=%v", head, rest, ok)
	}

	if _, _, ok := SplitArgs("a b", 3); ok {
		t.Fatalf("expected not ok")
	}
}

func TestSanitizeTelegramCommand(t *testing.T) {
	tests := map[string]string{
		"ping":              "ping",
		"Schedule-Message":  "schedule_message",
		"view scheduled":    "view_scheduled",
		"1st":               "cmd_1st",
		"__x__":             "x",
		"émoji!":            "moji",
		strings.Repeat("a", 40): strings.Repeat("a", 32),
	}
	for in, want := range tests {
		if got := sanitizeTelegramCommand(in); got != want {
			t.Fatalf("sanitize(%q)=%q want %q", in, got, want)
		}
	}
}
