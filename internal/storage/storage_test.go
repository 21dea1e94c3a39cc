package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "schedbot/pkg/logx"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	require.NoError(t, err)
	mem, err := Open(Config{Driver: "memory"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sq.Close()
		_ = mem.Close()
	})
	return map[string]Store{"sqlite": sq, "memory": mem}
}

func eachDriver(t *testing.T, fn func(t *testing.T, st Store)) {
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) { fn(t, st) })
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	require.Error(t, err)
}

func TestOpen_SQLiteRequiresPath(t *testing.T) {
	_, err := Open(Config{Driver: "sqlite"}, logx.Nop())
	require.Error(t, err)
}

func TestInsertThenListDue(t *testing.T) {
	eachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		msg := ScheduledMessage{OwnerID: 1, DestinationID: 10, SendAt: t0, Body: "hi"}
		require.NoError(t, st.Insert(ctx, msg))

		due, err := st.ListDue(ctx, t0.Add(-time.Second))
		require.NoError(t, err)
		assert.Empty(t, due)

		due, err = st.ListDue(ctx, t0)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, msg.OwnerID, due[0].OwnerID)
		assert.Equal(t, msg.DestinationID, due[0].DestinationID)
		assert.True(t, due[0].SendAt.Equal(t0))
		assert.Equal(t, "hi", due[0].Body)
	})
}

func TestInsert_DuplicateKey(t *testing.T) {
	eachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		require.NoError(t, st.Insert(ctx, ScheduledMessage{OwnerID: 1, DestinationID: 10, SendAt: t0, Body: "a"}))
		err := st.Insert(ctx, ScheduledMessage{OwnerID: 1, DestinationID: 10, SendAt: t0, Body: "b"})
		require.ErrorIs(t, err, ErrDuplicateKey)

		// The first row is untouched.
		due, err := st.ListDue(ctx, t0)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, "a", due[0].Body)

		// Any differing key component is a distinct row.
		require.NoError(t, st.Insert(ctx, ScheduledMessage{OwnerID: 2, DestinationID: 10, SendAt: t0, Body: "c"}))
		require.NoError(t, st.Insert(ctx, ScheduledMessage{OwnerID: 1, DestinationID: 11, SendAt: t0, Body: "d"}))
		require.NoError(t, st.Insert(ctx, ScheduledMessage{OwnerID: 1, DestinationID: 10, SendAt: t0.Add(time.Second), Body: "e"}))
	})
}

func TestListUpcoming_Boundary(t *testing.T) {
	eachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		require.NoError(t, st.Insert(ctx, ScheduledMessage{OwnerID: 1, DestinationID: 10, SendAt: t0.Add(-time.Second), Body: "past"}))
		require.NoError(t, st.Insert(ctx, ScheduledMessage{OwnerID: 1, DestinationID: 10, SendAt: t0, Body: "now"}))
		require.NoError(t, st.Insert(ctx, ScheduledMessage{OwnerID: 2, DestinationID: 20, SendAt: t0.Add(time.Hour), Body: "later"}))

		up, err := st.ListUpcoming(ctx, t0)
		require.NoError(t, err)
		require.Len(t, up, 2)
		assert.Equal(t, "now", up[0].Body)
		assert.Equal(t, "later", up[1].Body)

		// Rows at exactly now are both due and upcoming.
		due, err := st.ListDue(ctx, t0)
		require.NoError(t, err)
		require.Len(t, due, 2)
		assert.Equal(t, "past", due[0].Body)
		assert.Equal(t, "now", due[1].Body)
	})
}

func TestList_Ordering(t *testing.T) {
	eachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		rows := []ScheduledMessage{
			{OwnerID: 3, DestinationID: 1, SendAt: t0, Body: "c"},
			{OwnerID: 1, DestinationID: 2, SendAt: t0, Body: "b"},
			{OwnerID: 1, DestinationID: 1, SendAt: t0, Body: "a"},
			{OwnerID: 1, DestinationID: 1, SendAt: t0.Add(-time.Minute), Body: "first"},
		}
		for _, r := range rows {
			require.NoError(t, st.Insert(ctx, r))
		}
		due, err := st.ListDue(ctx, t0)
		require.NoError(t, err)
		var bodies []string
		for _, m := range due {
			bodies = append(bodies, m.Body)
		}
		assert.Equal(t, []string{"first", "a", "b", "c"}, bodies)
	})
}

func TestDelete(t *testing.T) {
	eachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		msg := ScheduledMessage{OwnerID: 1, DestinationID: 10, SendAt: t0, Body: "x"}
		require.NoError(t, st.Insert(ctx, msg))
		require.NoError(t, st.Insert(ctx, ScheduledMessage{OwnerID: 1, DestinationID: 11, SendAt: t0, Body: "y"}))

		require.ErrorIs(t, st.Delete(ctx, Key{OwnerID: 1, DestinationID: 10, SendAt: t0.Add(time.Second)}), ErrNotFound)

		require.NoError(t, st.Delete(ctx, msg.Key()))
		require.ErrorIs(t, st.Delete(ctx, msg.Key()), ErrNotFound)

		due, err := st.ListDue(ctx, t0)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, "y", due[0].Body)
	})
}

func TestRoundTrip_FullWidthIDsAndBody(t *testing.T) {
	eachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		// Telegram group ids are negative; they travel as their 64-bit pattern.
		group := int64(-1001234567890)
		msg := ScheduledMessage{
			OwnerID:       1<<63 + 5,
			DestinationID: uint64(group),
			SendAt:        t0.Add(500 * time.Millisecond),
			Body:          "line one\nline two ✓",
		}
		require.NoError(t, st.Insert(ctx, msg))

		due, err := st.ListDue(ctx, t0.Add(time.Minute))
		require.NoError(t, err)
		require.Len(t, due, 1)
		got := due[0]
		assert.Equal(t, msg.OwnerID, got.OwnerID)
		assert.Equal(t, group, int64(got.DestinationID))
		assert.True(t, got.SendAt.Equal(t0), "send_at is stored at second precision")
		assert.Equal(t, msg.Body, got.Body)

		require.NoError(t, st.Delete(ctx, msg.Key()))
	})
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "bot.db")
	ctx := context.Background()

	st, err := Open(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Insert(ctx, ScheduledMessage{OwnerID: 7, DestinationID: 8, SendAt: t0, Body: "kept"}))
	require.NoError(t, st.Close())

	st, err = Open(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	up, err := st.ListUpcoming(ctx, t0)
	require.NoError(t, err)
	require.Len(t, up, 1)
	assert.Equal(t, "kept", up[0].Body)
}

func TestMemory_Closed(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Close())
	require.ErrorIs(t, m.Insert(context.Background(), ScheduledMessage{OwnerID: 1, DestinationID: 1, SendAt: t0}), ErrClosed)
	_, err := m.ListDue(context.Background(), t0)
	require.ErrorIs(t, err, ErrClosed)
}

func TestScheduledMessage_Due(t *testing.T) {
	m := ScheduledMessage{SendAt: t0}
	assert.False(t, m.Due(t0.Add(-time.Second)))
	assert.True(t, m.Due(t0))
	assert.True(t, m.Due(t0.Add(time.Hour)))
}
