// Package discord connects to the Discord gateway, serves the slash commands
// and delivers scheduled messages to channels.
package discord

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	kit "schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

type Config struct {
	Token string
	// GuildIDs scopes command registration; empty registers globally.
	GuildIDs             []string
	RemoveCommandsOnStop bool
}

// Adapter is a discordgo session plus the slash command handlers.
type Adapter struct {
	cfg   Config
	log   logx.Logger
	sched Scheduler

	s       *discordgo.Session
	latency func() time.Duration

	mu         sync.Mutex
	running    bool
	registered map[string][]*discordgo.ApplicationCommand // guild -> commands
	handlerCtx context.Context
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("discord token is empty")
	}
	if !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}
	s, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("discord: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{
		cfg:        cfg,
		log:        log.With(logx.String("comp", "discord")),
		s:          s,
		latency:    s.HeartbeatLatency,
		registered: map[string][]*discordgo.ApplicationCommand{},
		handlerCtx: context.Background(),
	}
	s.AddHandler(a.onReady)
	s.AddHandler(a.onInteraction)
	return a, nil
}

// Start opens the gateway connection and registers slash commands. Commands
// are handled inside the adapter, so out is unused.
func (a *Adapter) Start(ctx context.Context, _ chan<- kit.Update) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}
	if a.sched == nil {
		return errors.New("discord: scheduler not set")
	}
	a.handlerCtx = ctx
	if err := a.s.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	a.running = true

	if a.s.State.User == nil {
		return errors.New("discord: no user after ready")
	}
	appID := a.s.State.User.ID
	guilds := a.cfg.GuildIDs
	if len(guilds) == 0 {
		guilds = []string{""}
	}
	for _, g := range guilds {
		cmds, err := a.s.ApplicationCommandBulkOverwrite(appID, g, commandDefinitions(), discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("register commands (guild=%q): %w", g, err)
		}
		a.registered[g] = cmds
		a.log.Info("slash commands registered", logx.String("guild", g), logx.Int("count", len(cmds)))
	}
	return nil
}

// SetScheduler installs the service behind the slash commands. It must be
// called before Start.
func (a *Adapter) SetScheduler(s Scheduler) { a.sched = s }

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return nil
	}
	a.running = false
	if a.cfg.RemoveCommandsOnStop && a.s.State.User != nil {
		appID := a.s.State.User.ID
		for g, cmds := range a.registered {
			for _, c := range cmds {
				if err := a.s.ApplicationCommandDelete(appID, g, c.ID, discordgo.WithContext(ctx)); err != nil {
					a.log.Warn("remove command failed", logx.String("name", c.Name), logx.Err(err))
				}
			}
		}
		a.registered = map[string][]*discordgo.ApplicationCommand{}
	}
	return a.s.Close()
}

func (a *Adapter) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	a.log.Info("discord session ready",
		logx.String("user", r.User.Username),
		logx.Int("guilds", len(r.Guilds)),
	)
}

// SendText posts plain text to a channel. Mentions in text are not resolved.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	channelID := formatID(kit.ID(to.ChatID))
	var first kit.MessageRef
	for i, chunk := range splitText(text, messageLimit) {
		m, err := a.s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
			Content:         chunk,
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		}, discordgo.WithContext(ctx))
		if err != nil {
			return first, err
		}
		if i == 0 {
			id, _ := parseID(m.ID)
			first = kit.MessageRef{ChatID: to.ChatID, MessageID: int(id)}
		}
	}
	return first, nil
}

// Deliver posts a scheduled message. Urgent sets the URGENT flag and
// MentionEveryone lets @everyone in the body ping the channel.
func (a *Adapter) Deliver(ctx context.Context, destinationID uint64, body string, flags kit.DeliveryFlags) error {
	channelID := formatID(destinationID)
	for i, chunk := range splitText(body, messageLimit) {
		send := deliveryMessage(chunk, flags)
		if i > 0 {
			send.AllowedMentions = &discordgo.MessageAllowedMentions{}
		}
		if _, err := a.s.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx)); err != nil {
			return err
		}
	}
	return nil
}

func deliveryMessage(content string, flags kit.DeliveryFlags) *discordgo.MessageSend {
	send := &discordgo.MessageSend{
		Content:         content,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if flags.Urgent {
		send.Flags |= discordgo.MessageFlagsUrgent
	}
	if flags.MentionEveryone {
		send.AllowedMentions.Parse = []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeEveryone}
	}
	return send
}

func parseID(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(s), 10, 64)
}

func formatID(id uint64) string { return strconv.FormatUint(id, 10) }
