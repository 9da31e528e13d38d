// Package index maintains one user's Last-Message and Unread-Count indices.
//
// The indices have two entry points: Refresh rebuilds them from an authoritative
// source, Apply merges a single pushed event. Both keep, per entry, the server time
// of the write that produced it and ignore older writes, so replayed or reordered
// events cannot regress state.
package index

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/vovakirdan/wiredm/internal/core"
	"github.com/vovakirdan/wiredm/internal/store"
)

// Source recomputes the indices of a user from the message store.
type Source interface {
	LastMessages(ctx context.Context, userID int64) (map[int64]*store.Message, error)
	UnreadCounts(ctx context.Context, userID int64) (map[int64]int, error)
}

type lastEntry struct {
	msg *store.Message // nil marks a pair with no messages
	at  time.Time
}

// Index holds the indices of a single user. It is safe for concurrent use.
type Index struct {
	userID int64

	mu       sync.RWMutex
	last     map[int64]lastEntry
	unread   map[int64]int
	unreadAt time.Time
}

// New returns an empty index owned by userID.
func New(userID int64) *Index {
	return &Index{
		userID: userID,
		last:   make(map[int64]lastEntry),
		unread: make(map[int64]int),
	}
}

// UserID returns the owner of the index.
func (x *Index) UserID() int64 {
	return x.userID
}

// Refresh replaces the indices with a full recompute taken at asOf.
// Entries written by events newer than asOf survive the refresh.
func (x *Index) Refresh(ctx context.Context, src Source, asOf time.Time) error {
	last, err := src.LastMessages(ctx, x.userID)
	if err != nil {
		return fmt.Errorf("refresh last messages: %w", err)
	}
	unread, err := src.UnreadCounts(ctx, x.userID)
	if err != nil {
		return fmt.Errorf("refresh unread counts: %w", err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	for counterpart, e := range x.last {
		if e.at.After(asOf) {
			continue
		}
		if _, ok := last[counterpart]; !ok {
			delete(x.last, counterpart)
		}
	}
	for counterpart, msg := range last {
		if e, ok := x.last[counterpart]; ok && e.at.After(asOf) {
			continue
		}
		x.last[counterpart] = lastEntry{msg: cloneMessage(msg), at: asOf}
	}

	if !x.unreadAt.After(asOf) {
		x.unread = cleanCounts(unread)
		x.unreadAt = asOf
	}
	return nil
}

// Apply merges ev into the indices and reports whether anything changed.
func (x *Index) Apply(ev *core.Event) bool {
	if ev == nil {
		return false
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	switch ev.Kind {
	case core.EventLastMessageChanged:
		return x.setLast(ev.CounterpartID, ev.LastMessage, ev.At)

	case core.EventMessageCreated:
		if ev.Message == nil || !ev.Message.Involves(x.userID) {
			return false
		}
		return x.setLast(ev.Message.Counterpart(x.userID), ev.Message, ev.At)

	case core.EventMessageUpdated:
		if ev.Message == nil || !ev.Message.Involves(x.userID) {
			return false
		}
		counterpart := ev.Message.Counterpart(x.userID)
		e, ok := x.last[counterpart]
		if !ok || e.msg == nil || e.msg.ID != ev.Message.ID {
			return false
		}
		return x.setLast(counterpart, ev.Message, ev.At)

	case core.EventMessageDeleted:
		counterpart := ev.ReceiverID
		if counterpart == x.userID {
			counterpart = ev.SenderID
		}
		e, ok := x.last[counterpart]
		if !ok || e.msg == nil || e.msg.ID != ev.MessageID {
			return false
		}
		return x.setLast(counterpart, nil, ev.At)

	case core.EventReadStatusChanged:
		e, ok := x.last[ev.ReaderID]
		if !ok || e.msg == nil || e.msg.SenderID != x.userID || e.msg.IsRead {
			return false
		}
		read := cloneMessage(e.msg)
		read.IsRead = true
		x.last[ev.ReaderID] = lastEntry{msg: read, at: e.at}
		return true

	case core.EventUnreadCountsChanged:
		if !ev.At.After(x.unreadAt) {
			return false
		}
		x.unread = cleanCounts(ev.UnreadCounts)
		x.unreadAt = ev.At
		x.markReadFromCounts()
		return true
	}
	return false
}

// setLast stores msg for counterpart unless a newer write is already there.
func (x *Index) setLast(counterpart int64, msg *store.Message, at time.Time) bool {
	if e, ok := x.last[counterpart]; ok && !at.After(e.at) {
		return false
	}
	x.last[counterpart] = lastEntry{msg: cloneMessage(msg), at: at}
	return true
}

// markReadFromCounts flags incoming last messages as read once their sender has no unread left.
func (x *Index) markReadFromCounts() {
	for counterpart, e := range x.last {
		if e.msg == nil || e.msg.IsRead || e.msg.SenderID != counterpart {
			continue
		}
		if x.unread[counterpart] == 0 {
			read := cloneMessage(e.msg)
			read.IsRead = true
			x.last[counterpart] = lastEntry{msg: read, at: e.at}
		}
	}
}

// LastMessages returns a copy of the Last-Message Index.
func (x *Index) LastMessages() map[int64]*store.Message {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make(map[int64]*store.Message, len(x.last))
	for counterpart, e := range x.last {
		if e.msg != nil {
			out[counterpart] = cloneMessage(e.msg)
		}
	}
	return out
}

// LastMessage returns the last message shared with counterpart.
func (x *Index) LastMessage(counterpart int64) (*store.Message, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	e, ok := x.last[counterpart]
	if !ok || e.msg == nil {
		return nil, false
	}
	return cloneMessage(e.msg), true
}

// UnreadCounts returns a copy of the Unread-Count Index.
func (x *Index) UnreadCounts() map[int64]int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return maps.Clone(x.unread)
}

// Unread returns the number of unread messages from sender.
func (x *Index) Unread(sender int64) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.unread[sender]
}

func cloneMessage(m *store.Message) *store.Message {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

func cleanCounts(in map[int64]int) map[int64]int {
	out := make(map[int64]int, len(in))
	for sender, n := range in {
		if n > 0 {
			out[sender] = n
		}
	}
	return out
}
