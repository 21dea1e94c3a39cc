package schedule

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedbot/internal/clock"
	"schedbot/internal/delivery"
	"schedbot/internal/eventbus"
	"schedbot/internal/storage"
	kit "schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newSQLite(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSchedule_InsertsAndPublishes(t *testing.T) {
	st := newSQLite(t)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4, eventbus.TypeScheduleCreated)
	defer unsub()
	svc := New(st, clock.NewManual(t0), bus, logx.Nop())

	msg, err := svc.Schedule(context.Background(), Request{
		OwnerID: 1, DestinationID: 10, SendAt: t0.Add(time.Minute + 300*time.Millisecond), Body: "hi",
	})
	require.NoError(t, err)
	assert.True(t, msg.SendAt.Equal(t0.Add(time.Minute)))

	e := <-events
	assert.Equal(t, uint64(10), e.Data.(eventbus.MessageRef).DestinationID)

	up, err := svc.ListForOwner(context.Background(), 1, t0)
	require.NoError(t, err)
	require.Len(t, up, 1)
	assert.Equal(t, "hi", up[0].Body)
}

func TestSchedule_Duplicate(t *testing.T) {
	svc := New(storage.NewMemory(), nil, nil, logx.Nop())
	req := Request{OwnerID: 1, DestinationID: 10, SendAt: t0, Body: "a"}
	_, err := svc.Schedule(context.Background(), req)
	require.NoError(t, err)

	req.Body = "b"
	_, err = svc.Schedule(context.Background(), req)
	require.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestSchedule_PastTimeIsImmediatelyDue(t *testing.T) {
	st := storage.NewMemory()
	svc := New(st, clock.NewManual(t0), nil, logx.Nop())
	_, err := svc.Schedule(context.Background(), Request{OwnerID: 1, DestinationID: 10, SendAt: t0.Add(-time.Hour), Body: "late"})
	require.NoError(t, err)

	due, err := st.ListDue(context.Background(), t0)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestSchedule_Validation(t *testing.T) {
	svc := New(storage.NewMemory(), nil, nil, logx.Nop())
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{name: "time", req: Request{OwnerID: 1, DestinationID: 1, Body: "x"}, want: "sendat is required"},
		{name: "long body", req: Request{OwnerID: 1, DestinationID: 1, SendAt: t0, Body: strings.Repeat("é", MaxBodyRunes+1)}, want: "longer than 4000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Schedule(context.Background(), tt.req)
			require.ErrorIs(t, err, ErrMalformedInput)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	// Exactly at the limit is fine, counted in characters rather than bytes.
	_, err := svc.Schedule(context.Background(), Request{OwnerID: 1, DestinationID: 1, SendAt: t0, Body: strings.Repeat("é", MaxBodyRunes)})
	require.NoError(t, err)
}

type recordSender struct {
	dests  []uint64
	bodies []string
}

func (r *recordSender) Deliver(_ context.Context, dest uint64, body string, _ kit.DeliveryFlags) error {
	r.dests = append(r.dests, dest)
	r.bodies = append(r.bodies, body)
	return nil
}

func TestSchedule_EmptyBodyAndZeroIDsRoundTrip(t *testing.T) {
	stores := map[string]storage.Store{"sqlite": newSQLite(t), "memory": storage.NewMemory()}
	for name, st := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clk := clock.NewManual(t0)
			svc := New(st, clk, nil, logx.Nop())

			_, err := svc.Schedule(ctx, Request{OwnerID: 1, DestinationID: 10, SendAt: t0.Add(time.Minute), Body: ""})
			require.NoError(t, err)
			_, err = svc.Schedule(ctx, Request{OwnerID: 0, DestinationID: 0, SendAt: t0.Add(time.Minute), Body: "x"})
			require.NoError(t, err)

			mine, err := svc.ListForOwner(ctx, 1, t0)
			require.NoError(t, err)
			require.Len(t, mine, 1)
			assert.Equal(t, "", mine[0].Body)

			zero, err := svc.ListForOwner(ctx, 0, t0)
			require.NoError(t, err)
			require.Len(t, zero, 1)
			assert.Equal(t, uint64(0), zero[0].DestinationID)

			clk.Advance(time.Minute)
			sender := &recordSender{}
			res, err := delivery.New(delivery.DefaultConfig(), st, sender, clk, nil, logx.Nop()).RunPass(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, res.Sent)
			// Store order: owner 0 before owner 1 at the same send time.
			assert.Equal(t, []uint64{0, 10}, sender.dests)
			assert.Equal(t, []string{"x", ""}, sender.bodies)

			left, err := st.ListUpcoming(ctx, t0)
			require.NoError(t, err)
			assert.Empty(t, left)
		})
	}
}

func TestListForOwner_FiltersOwnerAndPast(t *testing.T) {
	ctx := context.Background()
	svc := New(storage.NewMemory(), nil, nil, logx.Nop())
	for _, r := range []Request{
		{OwnerID: 1, DestinationID: 10, SendAt: t0.Add(-time.Second), Body: "past"},
		{OwnerID: 1, DestinationID: 10, SendAt: t0, Body: "now"},
		{OwnerID: 2, DestinationID: 10, SendAt: t0.Add(time.Hour), Body: "other"},
		{OwnerID: 1, DestinationID: 11, SendAt: t0.Add(2 * time.Hour), Body: "later"},
	} {
		_, err := svc.Schedule(ctx, r)
		require.NoError(t, err)
	}

	got, err := svc.ListForOwner(ctx, 1, t0)
	require.NoError(t, err)
	var bodies []string
	for _, m := range got {
		bodies = append(bodies, m.Body)
	}
	assert.Equal(t, []string{"now", "later"}, bodies)

	none, err := svc.ListForOwner(ctx, 3, t0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4, eventbus.TypeScheduleCancelled)
	defer unsub()
	svc := New(storage.NewMemory(), nil, bus, logx.Nop())

	msg, err := svc.Schedule(ctx, Request{OwnerID: 1, DestinationID: 10, SendAt: t0, Body: "x"})
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(ctx, msg.Key()))
	assert.Len(t, events, 1)
	require.ErrorIs(t, svc.Cancel(ctx, msg.Key()), storage.ErrNotFound)
}

func TestParseSendAt(t *testing.T) {
	got, err := ParseSendAt("2024/01/31 18:30:05")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 1, 31, 18, 30, 5, 0, time.UTC)))
	assert.Equal(t, time.UTC, got.Location())

	got, err = ParseSendAt("  2024/01/31   18:30:05 ")
	require.NoError(t, err)
	assert.Equal(t, 18, got.Hour())

	for _, bad := range []string{"", "2024-01-31 18:30:05", "2024/13/01 00:00:00", "2024/01/31 25:00:00", "2024/01/31", "tomorrow"} {
		_, err := ParseSendAt(bad)
		assert.ErrorIs(t, err, ErrMalformedInput, bad)
	}
}

func TestNormalizeBody(t *testing.T) {
	assert.Equal(t, "a\nb", NormalizeBody(`a\nb`))
	assert.Equal(t, "a\nb\n", NormalizeBody(`a\nb\n`))
	assert.Equal(t, "plain", NormalizeBody("plain"))
	assert.Equal(t, "real\nnewline", NormalizeBody("real\nnewline"))
}
