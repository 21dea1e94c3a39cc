package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"schedbot/internal/delivery"
	"schedbot/internal/schedule"
	"schedbot/internal/storage"
	kit "schedbot/internal/transport"
	"schedbot/internal/transport/telegram/router"
	logx "schedbot/pkg/logx"
	"schedbot/pkg/tgui"
)

const (
	usageSchedule = "/schedule_message <chat_id|.> <yyyy/mm/dd> <HH:MM:SS> <message>"
	usageCancel   = "/cancel_scheduled <chat_id|.> <yyyy/mm/dd> <HH:MM:SS>"
)

func (a *App) commands() []router.Command {
	return []router.Command{
		{
			Name:        "ping",
			Description: "check that the bot is alive",
			Usage:       "/ping",
			Handle:      a.cmdPing,
		},
		{
			Name:        "schedule_message",
			Aliases:     []string{"schedule"},
			Description: "schedule a message for a chat (UTC time)",
			Usage:       usageSchedule,
			Handle:      a.cmdSchedule,
		},
		{
			Name:        "scheduled",
			Aliases:     []string{"view_scheduled_messages"},
			Description: "list your upcoming scheduled messages",
			Usage:       "/scheduled",
			Handle:      a.cmdScheduled,
		},
		{
			Name:        "cancel_scheduled",
			Aliases:     []string{"cancel_scheduled_message"},
			Description: "cancel one of your scheduled messages",
			Usage:       usageCancel,
			Handle:      a.cmdCancel,
		},
		{
			Name:        "flush_scheduled",
			Description: "deliver due messages now",
			Usage:       "/flush_scheduled",
			Access:      router.AccessOwnerOnly,
			Timeout:     2 * time.Minute,
			Handle:      a.cmdFlush,
		},
		{
			Name:        "status",
			Description: "runtime status",
			Usage:       "/status",
			Access:      router.AccessOwnerOnly,
			Handle:      a.cmdStatus,
		},
	}
}

func (a *App) cmdPing(ctx context.Context, req *router.Request) error {
	msg := req.Update.Message
	if msg == nil || msg.SentAt.IsZero() {
		return req.Reply(ctx, "pong")
	}
	lag := time.Since(msg.SentAt).Round(time.Millisecond)
	return req.Reply(ctx, fmt.Sprintf("pong (update lag %s)", lag))
}

func (a *App) cmdSchedule(ctx context.Context, req *router.Request) error {
	head, body, ok := router.SplitArgs(req.RawArgs, 3)
	if !ok || strings.TrimSpace(body) == "" {
		return req.Reply(ctx, "usage: "+usageSchedule)
	}
	chatID, err := resolveChat(head[0], req.Chat.ChatID)
	if err != nil {
		return req.Reply(ctx, err.Error())
	}
	sendAt, err := schedule.ParseSendAt(head[1] + " " + head[2])
	if err != nil {
		return req.Reply(ctx, "time must look like 2024/01/31 18:30:00 (UTC)")
	}
	if reply, ok := a.checkManage(ctx, req, chatID); !ok {
		return req.Reply(ctx, reply)
	}

	msg, err := a.sched.Schedule(ctx, schedule.Request{
		OwnerID:       kit.ID(req.FromID),
		DestinationID: kit.ID(chatID),
		SendAt:        sendAt,
		Body:          schedule.NormalizeBody(body),
	})
	switch {
	case err == nil:
	case errors.Is(err, schedule.ErrMalformedInput):
		return req.Reply(ctx, "can't schedule that: "+strings.TrimPrefix(err.Error(), schedule.ErrMalformedInput.Error()+": "))
	case errors.Is(err, storage.ErrDuplicateKey):
		return req.Reply(ctx, "you already have a message scheduled for that chat at that time")
	default:
		return err
	}

	when := msg.SendAt.Format(schedule.InputLayout)
	if msg.SendAt.Before(a.sched.Now()) {
		return req.Reply(ctx, fmt.Sprintf("scheduled for chat %d at %s UTC (already due, sending shortly)", chatID, when))
	}
	return req.Reply(ctx, fmt.Sprintf("scheduled for chat %d at %s UTC", chatID, when))
}

func (a *App) cmdScheduled(ctx context.Context, req *router.Request) error {
	msgs, err := a.sched.ListForOwner(ctx, kit.ID(req.FromID), a.sched.Now())
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return req.Reply(ctx, "you have no scheduled messages")
	}
	return req.ReplyHTML(ctx, formatScheduled(msgs))
}

// listPreviewRunes bounds each body in /scheduled so a long list splits
// between entries rather than inside one.
const listPreviewRunes = 300

func formatScheduled(msgs []storage.ScheduledMessage) string {
	parts := make([]tgui.H, 0, len(msgs)*2)
	for i, m := range msgs {
		if i > 0 {
			parts = append(parts, "")
		}
		parts = append(parts,
			tgui.Concat(
				tgui.B(strconv.Itoa(i+1)+"."), " chat ",
				tgui.Code(strconv.FormatInt(kit.ChatID(m.DestinationID), 10)), " at ",
				tgui.Code(m.SendAt.Format(schedule.InputLayout)), " UTC",
			),
			tgui.Quote(tgui.TruncRunes(m.Body, listPreviewRunes)),
		)
	}
	return tgui.Lines(parts...).String()
}

func (a *App) cmdCancel(ctx context.Context, req *router.Request) error {
	head, _, ok := router.SplitArgs(req.RawArgs, 3)
	if !ok {
		return req.Reply(ctx, "usage: "+usageCancel)
	}
	chatID, err := resolveChat(head[0], req.Chat.ChatID)
	if err != nil {
		return req.Reply(ctx, err.Error())
	}
	sendAt, err := schedule.ParseSendAt(head[1] + " " + head[2])
	if err != nil {
		return req.Reply(ctx, "time must look like 2024/01/31 18:30:00 (UTC)")
	}

	key := storage.Key{OwnerID: kit.ID(req.FromID), DestinationID: kit.ID(chatID), SendAt: sendAt}
	switch err := a.sched.Cancel(ctx, key); {
	case err == nil:
		return req.Reply(ctx, "cancelled")
	case errors.Is(err, storage.ErrNotFound):
		return req.Reply(ctx, "no such scheduled message (it may already have been sent)")
	default:
		return err
	}
}

func (a *App) cmdFlush(ctx context.Context, req *router.Request) error {
	res, err := a.delivery.RunPass(ctx)
	if errors.Is(err, delivery.ErrPassInProgress) {
		return req.Reply(ctx, "a delivery pass is already running")
	}
	if err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("due %d, sent %d, failed %d (%s)",
		res.Due, res.Sent, res.Failed, res.Took.Round(time.Millisecond)))
}

func (a *App) cmdStatus(ctx context.Context, req *router.Request) error {
	var b strings.Builder
	fmt.Fprintf(&b, "platform: %s\n", a.platform)
	if p, ok := a.delivery.LastPass(); ok {
		fmt.Fprintf(&b, "last pass: %s UTC, due %d, sent %d, failed %d\n",
			p.At.Format(schedule.InputLayout), p.Due, p.Sent, p.Failed)
	} else {
		b.WriteString("last pass: none yet\n")
	}
	if a.bus != nil {
		fmt.Fprintf(&b, "events dropped: %d\n", a.bus.Dropped())
	}
	if a.sup != nil {
		snap := a.sup.Snapshot()
		fmt.Fprintf(&b, "goroutines: %d active, %d started", snap.Active, snap.Started)
		for _, g := range snap.Goroutines {
			fmt.Fprintf(&b, "\n- %s active=%d restarts=%d panics=%d", g.Name, g.Active, g.Restarts, g.Panics)
			if g.LastErr != "" {
				fmt.Fprintf(&b, " last_err=%q", g.LastErr)
			}
		}
	}
	return req.Reply(ctx, b.String())
}

// checkManage returns a reply and false when the caller may not schedule into chatID.
func (a *App) checkManage(ctx context.Context, req *router.Request, chatID int64) (string, bool) {
	ok, err := req.CanManage(ctx, chatID)
	if err != nil {
		a.log.Warn("admin check failed", logx.Int64("chat_id", chatID), logx.Int64("user_id", req.FromID), logx.Err(err))
		return "can't check your permissions in that chat (is the bot a member?)", false
	}
	if !ok {
		return "you must be an administrator of that chat", false
	}
	return "", true
}

// resolveChat turns "." into the current chat and parses anything else as a chat id.
func resolveChat(arg string, current int64) (int64, error) {
	if arg == "." {
		return current, nil
	}
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("bad chat id %q: use a numeric id or . for this chat", arg)
	}
	return id, nil
}
