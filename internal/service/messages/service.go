package messages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiredm/internal/core"
	"github.com/vovakirdan/wiredm/internal/metrics"
	"github.com/vovakirdan/wiredm/internal/store"
)

const defaultMaxMessageBytes = 4096

// Store is the persistence the service needs.
type Store interface {
	store.MessageStore
	GetUserByID(ctx context.Context, id int64) (*store.User, error)
	ListUsersExcept(ctx context.Context, userID int64) ([]*store.User, error)
}

// OnlineChecker answers live presence questions.
type OnlineChecker interface {
	IsOnline(userID int64) bool
}

// Partner is a conversation candidate as shown in the partner list.
type Partner struct {
	User     *store.User
	IsOnline bool
}

// Options tune the service.
type Options struct {
	MaxMessageBytes int
	Metrics         *metrics.Metrics
	Now             func() time.Time
}

// Service implements the message operations and emits their fan-out events.
// Every mutation and the publish of its events happen under one lock, so the
// events of two mutations are never interleaved and reach the hub in commit order.
type Service struct {
	store   Store
	pub     core.Publisher
	online  OnlineChecker
	log     *zerolog.Logger
	metrics *metrics.Metrics
	maxText int
	now     func() time.Time

	mu sync.Mutex
}

// New creates a message service. online may be nil, in which case every partner is reported offline.
func New(st Store, pub core.Publisher, online OnlineChecker, logger *zerolog.Logger, opts Options) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = defaultMaxMessageBytes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:   st,
		pub:     pub,
		online:  online,
		log:     logger,
		metrics: opts.Metrics,
		maxText: opts.MaxMessageBytes,
		now:     opts.Now,
	}
}

// Send persists a new message from senderID to receiverID and notifies both participants.
func (s *Service) Send(ctx context.Context, senderID, receiverID int64, text, image string) (*store.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" && image == "" {
		return nil, core.Validation("message must have text or an image")
	}
	if err := s.checkText(text); err != nil {
		return nil, err
	}
	if senderID == receiverID {
		return nil, core.Validation("cannot send a message to yourself")
	}

	// Receiver must exist
	if _, err := s.store.GetUserByID(ctx, receiverID); err != nil {
		return nil, classify("get receiver", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.store.CreateMessage(ctx, &store.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		Image:      image,
		CreatedAt:  s.now().UTC(),
	})
	if err != nil {
		return nil, classify("send", err)
	}
	msg := res.Message
	s.metrics.MessageSent()

	s.pub.Publish(
		core.To(receiverID, core.Event{Kind: core.EventMessageCreated, Message: msg}),
		core.To(receiverID, core.Event{Kind: core.EventUnreadCountsChanged, UnreadCounts: res.ReceiverUnread}),
		core.To(receiverID, core.Event{Kind: core.EventLastMessageChanged, CounterpartID: senderID, LastMessage: msg}),
		core.To(senderID, core.Event{Kind: core.EventLastMessageChanged, CounterpartID: receiverID, LastMessage: msg}),
	)

	s.log.Debug().Int64("message_id", msg.ID).Int64("user_id", senderID).Int64("receiver_id", receiverID).Msg("message sent")
	return msg, nil
}

// Edit replaces the text of a message. Only the original sender may edit.
func (s *Service) Edit(ctx context.Context, messageID, requesterID int64, text string) (*store.Message, error) {
	text = strings.TrimSpace(text)
	if err := s.checkText(text); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, classify("get message", err)
	}
	if msg.SenderID != requesterID {
		return nil, fmt.Errorf("edit message %d: %w", messageID, core.ErrForbidden)
	}
	if text == "" && msg.Image == "" {
		return nil, core.Validation("message must have text or an image")
	}

	updated, err := s.store.UpdateMessageText(ctx, messageID, text)
	if err != nil {
		return nil, classify("edit", err)
	}

	envs := []core.Envelope{
		core.To(updated.SenderID, core.Event{Kind: core.EventMessageUpdated, Message: updated}),
		core.To(updated.ReceiverID, core.Event{Kind: core.EventMessageUpdated, Message: updated}),
	}

	// Keep last-message previews in step when the edited message is the newest of the pair
	last, err := s.store.LastMessageBetween(ctx, updated.SenderID, updated.ReceiverID)
	if err != nil {
		s.log.Warn().Err(err).Int64("message_id", messageID).Msg("failed to load last message after edit")
	} else if last != nil && last.ID == updated.ID {
		envs = append(envs, lastMessageEnvelopes(updated.SenderID, updated.ReceiverID, last)...)
	}
	s.pub.Publish(envs...)

	return updated, nil
}

// Delete removes a message. Only the original sender may delete.
// Participants are told the message is gone, then receive the refreshed unread
// counts (receiver, only if the message was unread) and their new last message.
func (s *Service) Delete(ctx context.Context, messageID, requesterID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return classify("get message", err)
	}
	if msg.SenderID != requesterID {
		return fmt.Errorf("delete message %d: %w", messageID, core.ErrForbidden)
	}

	res, err := s.store.DeleteMessage(ctx, messageID)
	if err != nil {
		return classify("delete", err)
	}
	deleted := res.Deleted

	gone := core.Event{
		Kind:       core.EventMessageDeleted,
		MessageID:  deleted.ID,
		SenderID:   deleted.SenderID,
		ReceiverID: deleted.ReceiverID,
	}
	envs := []core.Envelope{
		core.To(deleted.SenderID, gone),
		core.To(deleted.ReceiverID, gone),
	}
	if res.ReceiverUnread != nil {
		envs = append(envs, core.To(deleted.ReceiverID, core.Event{
			Kind:         core.EventUnreadCountsChanged,
			UnreadCounts: res.ReceiverUnread,
		}))
	}
	envs = append(envs, lastMessageEnvelopes(deleted.SenderID, deleted.ReceiverID, res.LastMessage)...)
	s.pub.Publish(envs...)

	s.log.Debug().Int64("message_id", messageID).Int64("user_id", requesterID).Msg("message deleted")
	return nil
}

// MarkAllRead flags every unread message from senderID to receiverID as read and
// returns how many changed. Nothing is published when nothing changed.
func (s *Service) MarkAllRead(ctx context.Context, senderID, receiverID int64) (int64, error) {
	if senderID == receiverID {
		return 0, core.Validation("cannot mark your own messages as read")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.store.MarkAllRead(ctx, senderID, receiverID)
	if err != nil {
		return 0, classify("mark read", err)
	}
	if res.Count == 0 {
		return 0, nil
	}

	s.pub.Publish(
		core.To(senderID, core.Event{Kind: core.EventReadStatusChanged, ReaderID: receiverID}),
		core.To(receiverID, core.Event{Kind: core.EventUnreadCountsChanged, UnreadCounts: res.ReceiverUnread}),
	)

	s.log.Debug().Int64("user_id", receiverID).Int64("sender_id", senderID).Int64("count", res.Count).Msg("messages marked read")
	return res.Count, nil
}

// ListBetween returns the conversation between userID and otherID, oldest first.
func (s *Service) ListBetween(ctx context.Context, userID, otherID int64) ([]*store.Message, error) {
	msgs, err := s.store.ListBetween(ctx, userID, otherID)
	if err != nil {
		return nil, classify("list messages", err)
	}
	return msgs, nil
}

// LastMessages returns the Last-Message Index of userID.
func (s *Service) LastMessages(ctx context.Context, userID int64) (map[int64]*store.Message, error) {
	last, err := s.store.LastMessagePerCounterpart(ctx, userID)
	if err != nil {
		return nil, classify("last messages", err)
	}
	return last, nil
}

// UnreadCounts returns the Unread-Count Index of userID.
func (s *Service) UnreadCounts(ctx context.Context, userID int64) (map[int64]int, error) {
	counts, err := s.store.UnreadCountsBySender(ctx, userID)
	if err != nil {
		return nil, classify("unread counts", err)
	}
	return counts, nil
}

// ListPartners returns every other user with their live presence.
func (s *Service) ListPartners(ctx context.Context, userID int64) ([]Partner, error) {
	users, err := s.store.ListUsersExcept(ctx, userID)
	if err != nil {
		return nil, classify("list users", err)
	}

	partners := make([]Partner, 0, len(users))
	for _, u := range users {
		online := s.online != nil && s.online.IsOnline(u.ID)
		partners = append(partners, Partner{User: u, IsOnline: online})
	}
	return partners, nil
}

func (s *Service) checkText(text string) error {
	if len(text) > s.maxText {
		return core.Validation(fmt.Sprintf("message text exceeds %d bytes", s.maxText))
	}
	if !utf8.ValidString(text) {
		return core.Validation("message text must be valid UTF-8")
	}
	return nil
}

// lastMessageEnvelopes addresses each participant with their entry for the other one.
func lastMessageEnvelopes(a, b int64, last *store.Message) []core.Envelope {
	return []core.Envelope{
		core.To(a, core.Event{Kind: core.EventLastMessageChanged, CounterpartID: b, LastMessage: last}),
		core.To(b, core.Event{Kind: core.EventLastMessageChanged, CounterpartID: a, LastMessage: last}),
	}
}

func classify(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, core.ErrNotFound)
	}
	return core.Storage(op, err)
}
