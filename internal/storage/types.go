package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDuplicateKey = errors.New("scheduled message already exists")
	ErrNotFound     = errors.New("scheduled message not found")
	ErrClosed       = errors.New("storage closed")
)

// TimeLayout is the on-disk form of send_at: UTC, second precision.
// Lexicographic order of the text equals chronological order.
const TimeLayout = "2006-01-02 15:04:05"

// Config configures storage.
//
// If Driver is empty, "sqlite" is used.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ScheduledMessage is one pending delivery.
type ScheduledMessage struct {
	OwnerID       uint64
	DestinationID uint64
	SendAt        time.Time
	Body          string
}

// Key identifies a scheduled message.
type Key struct {
	OwnerID       uint64
	DestinationID uint64
	SendAt        time.Time
}

func (m ScheduledMessage) Key() Key {
	return Key{OwnerID: m.OwnerID, DestinationID: m.DestinationID, SendAt: m.SendAt}
}

// Due reports whether the message should be delivered at now.
func (m ScheduledMessage) Due(now time.Time) bool {
	return !NormalizeTime(m.SendAt).After(NormalizeTime(now))
}

// NormalizeTime converts t to the precision send times are stored with.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// Store is the persistence API used by the schedule and delivery services.
type Store interface {
	// Insert persists msg. It fails with ErrDuplicateKey if the key exists.
	Insert(ctx context.Context, msg ScheduledMessage) error
	// ListDue returns every message with send_at <= now.
	ListDue(ctx context.Context, now time.Time) ([]ScheduledMessage, error)
	// ListUpcoming returns every message with send_at >= now, for all owners.
	ListUpcoming(ctx context.Context, now time.Time) ([]ScheduledMessage, error)
	// Delete removes exactly the message matching key, or returns ErrNotFound.
	Delete(ctx context.Context, key Key) error
	Close() error
}
