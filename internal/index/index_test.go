package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wiredm/internal/core"
	"github.com/vovakirdan/wiredm/internal/service/messages"
	"github.com/vovakirdan/wiredm/internal/store"
	"github.com/vovakirdan/wiredm/internal/store/sqlite"
)

type view struct {
	ID     int64
	Text   string
	IsRead bool
}

func project(in map[int64]*store.Message) map[int64]view {
	out := make(map[int64]view, len(in))
	for k, m := range in {
		out[k] = view{ID: m.ID, Text: m.Text, IsRead: m.IsRead}
	}
	return out
}

type staticSource struct {
	last   map[int64]*store.Message
	unread map[int64]int
}

func (s staticSource) LastMessages(context.Context, int64) (map[int64]*store.Message, error) {
	return s.last, nil
}

func (s staticSource) UnreadCounts(context.Context, int64) (map[int64]int, error) {
	return s.unread, nil
}

var t0 = time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

func TestApplyRejectsOlderLastMessage(t *testing.T) {
	x := New(1)

	newer := &store.Message{ID: 2, SenderID: 2, ReceiverID: 1, Text: "newer"}
	older := &store.Message{ID: 1, SenderID: 2, ReceiverID: 1, Text: "older"}

	require.True(t, x.Apply(&core.Event{Kind: core.EventLastMessageChanged, CounterpartID: 2, LastMessage: newer, At: t0.Add(2 * time.Second)}))
	require.False(t, x.Apply(&core.Event{Kind: core.EventLastMessageChanged, CounterpartID: 2, LastMessage: older, At: t0.Add(time.Second)}))

	got, ok := x.LastMessage(2)
	require.True(t, ok)
	require.Equal(t, int64(2), got.ID)

	// Replaying the same event is a no-op.
	require.False(t, x.Apply(&core.Event{Kind: core.EventLastMessageChanged, CounterpartID: 2, LastMessage: newer, At: t0.Add(2 * time.Second)}))
}

func TestApplyEmptyMarkerClearsEntry(t *testing.T) {
	x := New(1)
	msg := &store.Message{ID: 5, SenderID: 1, ReceiverID: 3, Text: "bye"}

	x.Apply(&core.Event{Kind: core.EventLastMessageChanged, CounterpartID: 3, LastMessage: msg, At: t0})
	x.Apply(&core.Event{Kind: core.EventLastMessageChanged, CounterpartID: 3, At: t0.Add(time.Second)})

	_, ok := x.LastMessage(3)
	require.False(t, ok)
	require.Empty(t, x.LastMessages())

	// A delayed older write must not resurrect the deleted message.
	require.False(t, x.Apply(&core.Event{Kind: core.EventLastMessageChanged, CounterpartID: 3, LastMessage: msg, At: t0}))
}

func TestApplyDeletedTombstonesCurrentLast(t *testing.T) {
	x := New(1)
	msg := &store.Message{ID: 9, SenderID: 2, ReceiverID: 1, Text: "gone"}
	x.Apply(&core.Event{Kind: core.EventMessageCreated, Message: msg, At: t0})

	require.False(t, x.Apply(&core.Event{Kind: core.EventMessageDeleted, MessageID: 8, SenderID: 2, ReceiverID: 1, At: t0.Add(time.Second)}))
	require.True(t, x.Apply(&core.Event{Kind: core.EventMessageDeleted, MessageID: 9, SenderID: 2, ReceiverID: 1, At: t0.Add(time.Second)}))
	_, ok := x.LastMessage(2)
	require.False(t, ok)
}

func TestApplyUnreadCountsAbsolute(t *testing.T) {
	x := New(1)
	incoming := &store.Message{ID: 3, SenderID: 2, ReceiverID: 1, Text: "hi"}
	x.Apply(&core.Event{Kind: core.EventMessageCreated, Message: incoming, At: t0})

	require.True(t, x.Apply(&core.Event{Kind: core.EventUnreadCountsChanged, UnreadCounts: map[int64]int{2: 1}, At: t0.Add(time.Second)}))
	require.False(t, x.Apply(&core.Event{Kind: core.EventUnreadCountsChanged, UnreadCounts: map[int64]int{2: 7}, At: t0}))
	require.Equal(t, 1, x.Unread(2))

	require.True(t, x.Apply(&core.Event{Kind: core.EventUnreadCountsChanged, UnreadCounts: map[int64]int{}, At: t0.Add(2 * time.Second)}))
	require.Zero(t, x.Unread(2))

	last, ok := x.LastMessage(2)
	require.True(t, ok)
	require.True(t, last.IsRead)
	require.False(t, incoming.IsRead, "applied events must not be mutated")
}

func TestApplyReadStatusMarksOwnLastMessage(t *testing.T) {
	x := New(1)
	sent := &store.Message{ID: 4, SenderID: 1, ReceiverID: 2, Text: "ping"}
	x.Apply(&core.Event{Kind: core.EventLastMessageChanged, CounterpartID: 2, LastMessage: sent, At: t0})

	require.True(t, x.Apply(&core.Event{Kind: core.EventReadStatusChanged, ReaderID: 2, At: t0.Add(time.Second)}))
	last, _ := x.LastMessage(2)
	require.True(t, last.IsRead)
	require.False(t, x.Apply(&core.Event{Kind: core.EventReadStatusChanged, ReaderID: 2, At: t0.Add(2 * time.Second)}))
}

func TestRefreshKeepsNewerEntries(t *testing.T) {
	x := New(1)
	live := &store.Message{ID: 10, SenderID: 2, ReceiverID: 1, Text: "live"}
	x.Apply(&core.Event{Kind: core.EventLastMessageChanged, CounterpartID: 2, LastMessage: live, At: t0.Add(time.Minute)})
	x.Apply(&core.Event{Kind: core.EventUnreadCountsChanged, UnreadCounts: map[int64]int{2: 4}, At: t0.Add(time.Minute)})

	src := staticSource{
		last: map[int64]*store.Message{
			2: {ID: 9, SenderID: 2, ReceiverID: 1, Text: "stale"},
			3: {ID: 8, SenderID: 1, ReceiverID: 3, Text: "other"},
		},
		unread: map[int64]int{2: 3},
	}
	require.NoError(t, x.Refresh(context.Background(), src, t0))

	got := project(x.LastMessages())
	require.Equal(t, int64(10), got[2].ID)
	require.Equal(t, int64(8), got[3].ID)
	require.Equal(t, 4, x.Unread(2))

	// A later snapshot wins and drops pairs that no longer have messages.
	src.last = map[int64]*store.Message{2: {ID: 10, SenderID: 2, ReceiverID: 1, Text: "live"}}
	require.NoError(t, x.Refresh(context.Background(), src, t0.Add(time.Hour)))
	require.Len(t, x.LastMessages(), 1)
	require.Equal(t, 3, x.Unread(2))
}

// drain applies every event queued for c up to the marker published after the scenario.
func drain(t *testing.T, hub *core.Hub, c *core.Client, x *Index) {
	t.Helper()

	hub.Publish(core.To(c.UserID, core.Event{Kind: core.EventError}))
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-c.Events:
			if ev.Kind == core.EventError {
				return
			}
			x.Apply(ev)
		case <-timeout:
			t.Fatalf("marker not received for user %d", c.UserID)
		}
	}
}

func TestApplyConvergesWithRefresh(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema)
	require.NoError(t, err)
	defer st.Close()

	var ids []int64
	for _, name := range []string{"alice", "bob", "carol"} {
		u, err := st.CreateUser(ctx, name, name, "hash")
		require.NoError(t, err)
		ids = append(ids, u.ID)
	}
	alice, bob, carol := ids[0], ids[1], ids[2]

	hub := core.NewHub(nil, nil)
	go hub.Run(ctx)
	svc := messages.New(st, hub, hub.Presence(), nil, messages.Options{})

	clients := map[int64]*core.Client{}
	indices := map[int64]*Index{}
	for _, id := range []int64{alice, bob} {
		c := core.NewClient(id, 256)
		hub.RegisterClient(c)
		clients[id] = c
		indices[id] = New(id)
		require.NoError(t, indices[id].Refresh(ctx, svc, time.Now()))
	}

	send := func(from, to int64, text string) *store.Message {
		m, err := svc.Send(ctx, from, to, text, "")
		require.NoError(t, err)
		return m
	}

	a1 := send(alice, bob, "a1")
	send(bob, alice, "b1")
	a2 := send(alice, bob, "a2")
	c1 := send(carol, alice, "c1")
	send(carol, bob, "c2")
	_, err = svc.Edit(ctx, a2.ID, alice, "a2 edited")
	require.NoError(t, err)
	_, err = svc.MarkAllRead(ctx, carol, alice)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, a2.ID, alice))
	_, err = svc.MarkAllRead(ctx, alice, bob)
	require.NoError(t, err)
	send(alice, bob, "a3")
	require.NoError(t, svc.Delete(ctx, a1.ID, alice))
	require.NoError(t, svc.Delete(ctx, c1.ID, carol))
	send(bob, carol, "b2")

	for _, id := range []int64{alice, bob} {
		drain(t, hub, clients[id], indices[id])

		fresh := New(id)
		require.NoError(t, fresh.Refresh(ctx, svc, time.Now()))

		require.Equal(t, project(fresh.LastMessages()), project(indices[id].LastMessages()), "last messages of user %d", id)
		require.Equal(t, fresh.UnreadCounts(), indices[id].UnreadCounts(), "unread counts of user %d", id)
	}
}
