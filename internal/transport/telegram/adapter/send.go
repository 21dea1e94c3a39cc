package adapter

import (
	"context"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

// Telegram allows 4096 characters; keep headroom for entities.
const telegramTextLimit = 4000

// emptyBody stands in for rows stored without a body; Telegram rejects empty text.
const emptyBody = "\u200b"

// splitTelegramText splits s into chunks of at most limit runes, preferring
// newline boundaries. With HTML parse mode it avoids cutting inside a tag.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			// Last newline in the window, unless it leaves a tiny chunk.
			for i := end - 1; i-start >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		if strings.EqualFold(parseMode, tele.ModeHTML) && end < len(rs) {
			open, closed := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					open = i
				case '>':
					closed = i
				}
			}
			if open > closed && open > start+1 {
				end = open
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	sendOpt := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		DisableNotification:   opt.Silent,
		ThreadID:              to.ThreadID,
	}
	first, err := a.sendChunks(ctx, &tele.Chat{ID: to.ChatID}, text, sendOpt)
	if first == nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: first.ID}, err
}

// sendChunks sends text split to the platform limit and returns the first
// message sent, if any.
func (a *Adapter) sendChunks(ctx context.Context, chat *tele.Chat, text string, opt *tele.SendOptions) (*tele.Message, error) {
	if text == "" {
		text = emptyBody
	}
	var first *tele.Message
	for _, chunk := range splitTelegramText(text, telegramTextLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := call(ctx, func() (*tele.Message, error) { return a.bot.Send(chat, chunk, opt) })
		if err != nil {
			return first, err
		}
		if first == nil {
			first = msg
		}
	}
	return first, nil
}

// Deliver sends a scheduled message. Urgent messages notify; with
// MentionEveryone the message is also pinned with a notification to all
// members, Telegram's nearest equivalent of @everyone. A failed pin does not
// fail the delivery.
func (a *Adapter) Deliver(ctx context.Context, destinationID uint64, body string, flags kit.DeliveryFlags) error {
	chat := &tele.Chat{ID: kit.ChatID(destinationID)}
	first, err := a.sendChunks(ctx, chat, body, &tele.SendOptions{
		DisableWebPagePreview: true,
		DisableNotification:   !flags.Urgent,
	})
	if err != nil {
		return err
	}
	if flags.MentionEveryone && first != nil {
		if _, perr := call(ctx, func() (struct{}, error) { return struct{}{}, a.bot.Pin(first) }); perr != nil {
			a.log.Warn("pin after delivery failed",
				logx.Int64("chat_id", chat.ID),
				logx.Int("message_id", first.ID),
				logx.Err(perr),
			)
		}
	}
	return nil
}
