package discord

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"schedbot/internal/schedule"
	"schedbot/internal/storage"
	logx "schedbot/pkg/logx"
)

const commandTimeout = 10 * time.Second

// Scheduler is the subset of schedule.Service the slash commands use.
type Scheduler interface {
	Now() time.Time
	Schedule(ctx context.Context, req schedule.Request) (storage.ScheduledMessage, error)
	ListForOwner(ctx context.Context, ownerID uint64, now time.Time) ([]storage.ScheduledMessage, error)
	Cancel(ctx context.Context, key storage.Key) error
}

const (
	cmdPing     = "ping"
	cmdSchedule = "schedule_message"
	cmdView     = "view_scheduled_messages"
	cmdCancel   = "cancel_scheduled_message"
)

var (
	adminPerms int64 = discordgo.PermissionAdministrator
	noDM             = false
	textChans        = []discordgo.ChannelType{
		discordgo.ChannelTypeGuildText,
		discordgo.ChannelTypeGuildNews,
	}
)

func commandDefinitions() []*discordgo.ApplicationCommand {
	channelOpt := &discordgo.ApplicationCommandOption{
		Type:         discordgo.ApplicationCommandOptionChannel,
		Name:         "channel",
		Description:  "Channel to post in",
		ChannelTypes: textChans,
		Required:     true,
	}
	timeOpt := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "time",
		Description: "UTC time as yyyy/mm/dd HH:MM:SS",
		Required:    true,
	}
	return []*discordgo.ApplicationCommand{
		{
			Name:        cmdPing,
			Description: "Check that the bot is alive",
		},
		{
			Name:                     cmdSchedule,
			Description:              "Schedule a message for a channel",
			DefaultMemberPermissions: &adminPerms,
			DMPermission:             &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				channelOpt,
				timeOpt,
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "message",
					Description: `Message text; \n starts a new line`,
					MaxLength:   messageLimit,
					Required:    true,
				},
			},
		},
		{
			Name:        cmdView,
			Description: "List your upcoming scheduled messages",
		},
		{
			Name:                     cmdCancel,
			Description:              "Cancel one of your scheduled messages",
			DefaultMemberPermissions: &adminPerms,
			DMPermission:             &noDM,
			Options:                  []*discordgo.ApplicationCommandOption{channelOpt, timeOpt},
		},
	}
}

// interaction is the platform-neutral view of a slash command invocation.
type interaction struct {
	Name    string
	GuildID string
	UserID  uint64
	Admin   bool
	Options map[string]string
}

func fromInteraction(i *discordgo.InteractionCreate) (interaction, error) {
	data := i.ApplicationCommandData()
	in := interaction{
		Name:    data.Name,
		GuildID: i.GuildID,
		Options: make(map[string]string, len(data.Options)),
	}
	var userID string
	switch {
	case i.Member != nil && i.Member.User != nil:
		userID = i.Member.User.ID
		in.Admin = i.Member.Permissions&discordgo.PermissionAdministrator != 0
	case i.User != nil:
		userID = i.User.ID
	}
	id, err := parseID(userID)
	if err != nil {
		return in, fmt.Errorf("interaction user id %q: %w", userID, err)
	}
	in.UserID = id
	for _, opt := range data.Options {
		switch opt.Type {
		case discordgo.ApplicationCommandOptionChannel:
			in.Options[opt.Name] = opt.ChannelValue(nil).ID
		case discordgo.ApplicationCommandOptionString:
			in.Options[opt.Name] = opt.StringValue()
		}
	}
	return in, nil
}

func (a *Adapter) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("interaction panic",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()

	var reply string
	in, err := fromInteraction(i)
	if err != nil {
		a.log.Warn("bad interaction", logx.Err(err))
		reply = "Something went wrong."
	} else {
		ctx, cancel := context.WithTimeout(a.handlerCtx, commandTimeout)
		start := time.Now()
		reply = a.handle(ctx, in)
		cancel()
		a.log.Debug("command handled",
			logx.String("cmd", in.Name),
			logx.Uint64("user_id", in.UserID),
			logx.String("guild", in.GuildID),
			logx.Duration("took", time.Since(start)),
		)
	}

	err = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content:         reply,
			Flags:           discordgo.MessageFlagsEphemeral,
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		},
	})
	if err != nil {
		a.log.Warn("interaction respond failed", logx.String("cmd", in.Name), logx.Err(err))
	}
}

// handle runs one command and returns the ephemeral reply text.
func (a *Adapter) handle(ctx context.Context, in interaction) string {
	switch in.Name {
	case cmdPing:
		return fmt.Sprintf("Pong! %dms", a.latency().Milliseconds())
	case cmdSchedule:
		return a.handleSchedule(ctx, in)
	case cmdView:
		return a.handleView(ctx, in)
	case cmdCancel:
		return a.handleCancel(ctx, in)
	default:
		return "Unknown command."
	}
}

func (a *Adapter) handleSchedule(ctx context.Context, in interaction) string {
	if msg := requireGuildAdmin(in, "schedule messages"); msg != "" {
		return msg
	}
	channelID, sendAt, errMsg := parseTarget(in)
	if errMsg != "" {
		return errMsg
	}
	body := schedule.NormalizeBody(in.Options["message"])
	// One Discord message per delivery, so a failed later chunk never
	// re-sends an earlier one.
	if n := utf8.RuneCountInString(body); n > messageLimit {
		return fmt.Sprintf("Message is %d characters; the limit is %d.", n, messageLimit)
	}
	msg, err := a.sched.Schedule(ctx, schedule.Request{
		OwnerID:       in.UserID,
		DestinationID: channelID,
		SendAt:        sendAt,
		Body:          body,
	})
	switch {
	case err == nil:
	case errors.Is(err, schedule.ErrMalformedInput):
		return "Can't schedule that: " + strings.TrimPrefix(err.Error(), schedule.ErrMalformedInput.Error()+": ")
	case errors.Is(err, storage.ErrDuplicateKey):
		return "You already have a message scheduled for that channel at that time."
	default:
		a.log.Error("schedule failed", logx.Uint64("user_id", in.UserID), logx.Err(err))
		return "Something went wrong while saving the message."
	}
	return "Scheduled: " + formatEntry(msg)
}

func (a *Adapter) handleView(ctx context.Context, in interaction) string {
	msgs, err := a.sched.ListForOwner(ctx, in.UserID, a.sched.Now())
	if err != nil {
		a.log.Error("list failed", logx.Uint64("user_id", in.UserID), logx.Err(err))
		return "Something went wrong while reading your messages."
	}
	if len(msgs) == 0 {
		return "You have no scheduled messages."
	}
	return formatListing(msgs, messageLimit)
}

func (a *Adapter) handleCancel(ctx context.Context, in interaction) string {
	if msg := requireGuildAdmin(in, "cancel messages"); msg != "" {
		return msg
	}
	channelID, sendAt, errMsg := parseTarget(in)
	if errMsg != "" {
		return errMsg
	}
	key := storage.Key{OwnerID: in.UserID, DestinationID: channelID, SendAt: sendAt}
	switch err := a.sched.Cancel(ctx, key); {
	case err == nil:
		return fmt.Sprintf("Cancelled the message for <#%d> at %s.", channelID, timestamp(sendAt, "F"))
	case errors.Is(err, storage.ErrNotFound):
		return "No such scheduled message. It may already have been sent."
	default:
		a.log.Error("cancel failed", logx.Uint64("user_id", in.UserID), logx.Err(err))
		return "Something went wrong while cancelling the message."
	}
}

func requireGuildAdmin(in interaction, what string) string {
	if in.GuildID == "" {
		return "This command only works in a server."
	}
	if !in.Admin {
		return "You need the Administrator permission to " + what + "."
	}
	return ""
}

func parseTarget(in interaction) (uint64, time.Time, string) {
	channelID, err := parseID(in.Options["channel"])
	if err != nil || channelID == 0 {
		return 0, time.Time{}, "Pick a channel."
	}
	sendAt, err := schedule.ParseSendAt(in.Options["time"])
	if err != nil {
		return 0, time.Time{}, "Time must look like 2024/01/31 18:30:00 (UTC)."
	}
	return channelID, sendAt, ""
}
