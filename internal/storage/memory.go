package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is a process-local Store. Rows are lost when the process exits.
type Memory struct {
	mu     sync.Mutex
	rows   map[Key]string
	closed bool
}

func NewMemory() *Memory {
	return &Memory{rows: make(map[Key]string)}
}

func normalizeKey(k Key) Key {
	k.SendAt = NormalizeTime(k.SendAt)
	return k
}

func (m *Memory) Insert(_ context.Context, msg ScheduledMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	k := normalizeKey(msg.Key())
	if _, ok := m.rows[k]; ok {
		return ErrDuplicateKey
	}
	m.rows[k] = msg.Body
	return nil
}

func (m *Memory) ListDue(_ context.Context, now time.Time) ([]ScheduledMessage, error) {
	now = NormalizeTime(now)
	return m.filter(func(at time.Time) bool { return !at.After(now) })
}

func (m *Memory) ListUpcoming(_ context.Context, now time.Time) ([]ScheduledMessage, error) {
	now = NormalizeTime(now)
	return m.filter(func(at time.Time) bool { return !at.Before(now) })
}

func (m *Memory) filter(keep func(time.Time) bool) ([]ScheduledMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]ScheduledMessage, 0, len(m.rows))
	for k, body := range m.rows {
		if !keep(k.SendAt) {
			continue
		}
		out = append(out, ScheduledMessage{
			OwnerID:       k.OwnerID,
			DestinationID: k.DestinationID,
			SendAt:        k.SendAt,
			Body:          body,
		})
	}
	SortMessages(out)
	return out, nil
}

func (m *Memory) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	k := normalizeKey(key)
	if _, ok := m.rows[k]; !ok {
		return ErrNotFound
	}
	delete(m.rows, k)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// SortMessages orders msgs by send time, then owner, then destination.
// IDs compare by their signed bit pattern, matching the sqlite driver.
func SortMessages(msgs []ScheduledMessage) {
	sort.Slice(msgs, func(i, j int) bool {
		a, b := msgs[i], msgs[j]
		if !a.SendAt.Equal(b.SendAt) {
			return a.SendAt.Before(b.SendAt)
		}
		if a.OwnerID != b.OwnerID {
			return int64(a.OwnerID) < int64(b.OwnerID)
		}
		return int64(a.DestinationID) < int64(b.DestinationID)
	})
}
