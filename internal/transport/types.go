package transport

import (
	"context"
	"time"
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
	SentAt       time.Time
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Silent         bool
}

// DeliveryFlags are the per-message policy switches a scheduled delivery is
// sent with. Each platform maps them onto its closest native feature.
type DeliveryFlags struct {
	Urgent          bool
	MentionEveryone bool
}

// Adapter is the platform connection used by commands and the log sink.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Deliverer sends one scheduled message body to a destination.
type Deliverer interface {
	Deliver(ctx context.Context, destinationID uint64, body string, flags DeliveryFlags) error
}

// AdminChecker reports whether a user administers a chat.
type AdminChecker interface {
	IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error)
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific command menus.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

// ID carries a platform identifier as an opaque 64-bit value. Signed platform
// IDs (Telegram group chats are negative) keep their bit pattern.
func ID(v int64) uint64 { return uint64(v) }

// ChatID is the inverse of ID.
func ChatID(id uint64) int64 { return int64(id) }
