package client

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/vovakirdan/wiredm/internal/core"
	"github.com/vovakirdan/wiredm/internal/index"
	"github.com/vovakirdan/wiredm/internal/store"
)

// Backend is what the reconciliation state needs from the server.
type Backend interface {
	index.Source
	History(ctx context.Context, otherID int64) ([]*store.Message, error)
	MarkAllRead(ctx context.Context, senderID int64) (int64, error)
}

// State is the client-side view of one user: the open conversation, the
// indices and the online set. Local caches change only after the server
// confirmed an operation or pushed an event.
type State struct {
	userID  int64
	backend Backend
	index   *index.Index

	mu       sync.Mutex
	open     int64 // counterpart of the open conversation, 0 when none
	messages []*store.Message
	online   map[int64]bool
	onlineAt time.Time
	lastAt   time.Time
	replaced bool
}

// NewState creates an empty state for userID.
func NewState(userID int64, b Backend) *State {
	return &State{
		userID:  userID,
		backend: b,
		index:   index.New(userID),
		online:  make(map[int64]bool),
	}
}

// Index exposes the Last-Message and Unread-Count indices.
func (s *State) Index() *index.Index {
	return s.index
}

// Refresh recomputes the indices from the server, e.g. after a reconnect.
// Entries written by events newer than the last one seen are kept.
func (s *State) Refresh(ctx context.Context) error {
	s.mu.Lock()
	asOf := s.lastAt
	s.mu.Unlock()

	return s.index.Refresh(ctx, s.backend, asOf)
}

// Open makes counterpart the open conversation: the history is fetched and, if
// any fetched message addressed to the user is unread, everything is marked read.
func (s *State) Open(ctx context.Context, counterpart int64) error {
	s.mu.Lock()
	s.open = counterpart
	s.messages = nil
	s.mu.Unlock()

	history, err := s.backend.History(ctx, counterpart)
	if err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}

	s.mu.Lock()
	if s.open != counterpart {
		s.mu.Unlock()
		return nil
	}
	// Keep anything pushed while the history was in flight.
	s.messages = mergeMessages(history, s.messages)
	needRead := s.hasUnreadFromLocked(counterpart)
	s.mu.Unlock()

	if needRead {
		return s.markRead(ctx, counterpart)
	}
	return nil
}

// Confirm records a message the server accepted from this user, e.g. the result of a send.
func (s *State) Confirm(m *store.Message) {
	if m == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inOpenLocked(m) {
		s.messages = mergeMessages(s.messages, []*store.Message{m})
	}
}

// CloseConversation leaves the open conversation.
func (s *State) CloseConversation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = 0
	s.messages = nil
}

// Handle applies one pushed event. A message arriving in the open conversation
// is marked read right away; messages of other conversations only move the indices.
func (s *State) Handle(ctx context.Context, ev *core.Event) error {
	if ev == nil {
		return nil
	}
	s.index.Apply(ev)

	s.mu.Lock()
	if ev.At.After(s.lastAt) {
		s.lastAt = ev.At
	}

	needRead := int64(0)
	switch ev.Kind {
	case core.EventPresenceChanged:
		if ev.At.After(s.onlineAt) || ev.At.IsZero() {
			s.online = make(map[int64]bool, len(ev.OnlineUserIDs))
			for _, id := range ev.OnlineUserIDs {
				s.online[id] = true
			}
			s.onlineAt = ev.At
		}

	case core.EventMessageCreated:
		if s.inOpenLocked(ev.Message) {
			s.messages = mergeMessages(s.messages, []*store.Message{ev.Message})
			if ev.Message.ReceiverID == s.userID && !ev.Message.IsRead {
				needRead = ev.Message.SenderID
			}
		}

	case core.EventMessageUpdated:
		if s.inOpenLocked(ev.Message) {
			for i, m := range s.messages {
				if m.ID == ev.Message.ID {
					updated := *ev.Message
					s.messages[i] = &updated
				}
			}
		}

	case core.EventMessageDeleted:
		s.messages = slices.DeleteFunc(s.messages, func(m *store.Message) bool {
			return m.ID == ev.MessageID
		})

	case core.EventReadStatusChanged:
		if s.open == ev.ReaderID {
			s.setReadLocked(s.userID, ev.ReaderID)
		}

	case core.EventSessionReplaced:
		s.replaced = true
	}
	s.mu.Unlock()

	if needRead != 0 {
		return s.markRead(ctx, needRead)
	}
	return nil
}

// OpenWith returns the counterpart of the open conversation, 0 when none.
func (s *State) OpenWith() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Messages returns a copy of the open conversation, oldest first.
func (s *State) Messages() []store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]store.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, *m)
	}
	return out
}

// IsOnline reports whether userID was online in the last presence update.
func (s *State) IsOnline(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online[userID]
}

// OnlineUserIDs returns the sorted online set.
func (s *State) OnlineUserIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.online))
	for id := range s.online {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Replaced reports whether the server moved this user to a newer channel.
func (s *State) Replaced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaced
}

func (s *State) markRead(ctx context.Context, sender int64) error {
	if _, err := s.backend.MarkAllRead(ctx, sender); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.setReadLocked(sender, s.userID)
	return nil
}

func (s *State) inOpenLocked(m *store.Message) bool {
	return m != nil && s.open != 0 && m.Involves(s.userID) && m.Counterpart(s.userID) == s.open
}

func (s *State) hasUnreadFromLocked(sender int64) bool {
	for _, m := range s.messages {
		if m.SenderID == sender && m.ReceiverID == s.userID && !m.IsRead {
			return true
		}
	}
	return false
}

// setReadLocked flags the listed messages from sender to receiver as read.
func (s *State) setReadLocked(sender, receiver int64) {
	for i, m := range s.messages {
		if m.SenderID == sender && m.ReceiverID == receiver && !m.IsRead {
			read := *m
			read.IsRead = true
			s.messages[i] = &read
		}
	}
}

// mergeMessages unions two lists by id, later copies winning, ordered by creation time then id.
func mergeMessages(base, extra []*store.Message) []*store.Message {
	byID := make(map[int64]*store.Message, len(base)+len(extra))
	for _, m := range base {
		byID[m.ID] = m
	}
	for _, m := range extra {
		c := *m
		byID[m.ID] = &c
	}

	out := make([]*store.Message, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b *store.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}
