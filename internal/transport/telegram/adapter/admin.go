package adapter

import (
	"context"
	"hash/fnv"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

type adminKey struct {
	chatID int64
	userID int64
}

type adminEntry struct {
	admin bool
	until time.Time
}

// IsChatAdmin reports whether userID is the creator or an administrator of chatID.
// Answers are cached for AdminCacheTTL.
func (a *Adapter) IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	k := adminKey{chatID: chatID, userID: userID}
	now := time.Now()

	a.adminMu.Lock()
	if e, ok := a.adminCache[k]; ok && now.Before(e.until) {
		a.adminMu.Unlock()
		return e.admin, nil
	}
	a.adminMu.Unlock()

	member, err := call(ctx, func() (*tele.ChatMember, error) {
		return a.bot.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	})
	if err != nil {
		return false, err
	}
	admin := isAdminRole(member.Role)

	a.adminMu.Lock()
	a.adminCache[k] = adminEntry{admin: admin, until: now.Add(a.cfg.AdminCacheTTL)}
	a.adminMu.Unlock()
	return admin, nil
}

func isAdminRole(r tele.MemberStatus) bool {
	return r == tele.Creator || r == tele.Administrator
}

// UpdateMenuCommands publishes the command menu. It is a no-op when the list
// has not changed since the last successful call.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		if len(d) > 256 {
			d = d[:256]
		}
		h.Write([]byte(c.Command))
		h.Write([]byte{0})
		h.Write([]byte(d))
		h.Write([]byte{0})
		out = append(out, tele.Command{Text: c.Command, Description: d})
		if len(out) >= 100 {
			break
		}
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if _, err := call(ctx, func() (struct{}, error) { return struct{}{}, a.bot.SetCommands(out) }); err != nil {
		return err
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(out)))
	return nil
}
