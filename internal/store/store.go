package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// User represents a user in the system.
type User struct {
	ID           int64
	Username     string
	FullName     string
	PasswordHash string
	IsOnline     bool
	LastSeen     *time.Time
	CreatedAt    time.Time
}

// Message represents a persisted direct message.
type Message struct {
	ID         int64
	SenderID   int64
	ReceiverID int64
	Text       string
	Image      string // public reference, e.g. /uploads/<name>
	IsRead     bool
	CreatedAt  time.Time
}

// Counterpart returns the other participant of the message as seen by userID.
func (m *Message) Counterpart(userID int64) int64 {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Involves reports whether userID is the sender or the receiver.
func (m *Message) Involves(userID int64) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// SendResult is the consistent snapshot produced by a send.
type SendResult struct {
	Message *Message
	// ReceiverUnread is the receiver's full unread-count index after the insert.
	ReceiverUnread map[int64]int
}

// DeleteResult is the consistent snapshot produced by a delete.
// Everything in it was read inside the same transaction as the delete.
type DeleteResult struct {
	Deleted *Message
	// ReceiverUnread is set only when the deleted message was unread.
	ReceiverUnread map[int64]int
	// LastMessage is the surviving last message of the pair, nil if none remain.
	LastMessage *Message
}

// ReadResult is the consistent snapshot produced by marking messages read.
type ReadResult struct {
	Count          int64
	ReceiverUnread map[int64]int
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, fullName, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// ListUsersExcept lists every user other than userID, ordered by username.
	ListUsersExcept(ctx context.Context, userID int64) ([]*User, error)

	// SetPresence persists the online flag and, when going offline, the last-seen time.
	SetPresence(ctx context.Context, userID int64, online bool, lastSeen time.Time) error
}

// MessageStore handles message persistence and the derived aggregations.
type MessageStore interface {
	// CreateMessage inserts msg, assigns its ID and recomputes the receiver's unread index.
	CreateMessage(ctx context.Context, msg *Message) (*SendResult, error)

	// GetMessage retrieves a message by ID.
	GetMessage(ctx context.Context, id int64) (*Message, error)

	// UpdateMessageText replaces the text of a message and returns the updated record.
	UpdateMessageText(ctx context.Context, id int64, text string) (*Message, error)

	// DeleteMessage removes a message and recomputes the affected indices atomically.
	DeleteMessage(ctx context.Context, id int64) (*DeleteResult, error)

	// MarkAllRead flags every unread message from senderID to receiverID as read.
	MarkAllRead(ctx context.Context, senderID, receiverID int64) (*ReadResult, error)

	// ListBetween lists every message between two users ordered by creation time.
	ListBetween(ctx context.Context, userA, userB int64) ([]*Message, error)

	// LastMessageBetween returns the most recent message of the pair, nil if none.
	LastMessageBetween(ctx context.Context, userA, userB int64) (*Message, error)

	// LastMessagePerCounterpart returns counterpart -> most recent message for userID.
	LastMessagePerCounterpart(ctx context.Context, userID int64) (map[int64]*Message, error)

	// UnreadCountsBySender returns sender -> unread count for messages addressed to userID.
	UnreadCountsBySender(ctx context.Context, userID int64) (map[int64]int, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
