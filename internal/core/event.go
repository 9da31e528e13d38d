package core

import (
	"time"

	"github.com/vovakirdan/wiredm/internal/store"
)

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventPresenceChanged carries the full set of online user ids.
	EventPresenceChanged EventKind = iota
	// EventMessageCreated delivers a new message to its receiver.
	EventMessageCreated
	// EventMessageUpdated delivers an edited message to both participants.
	EventMessageUpdated
	// EventMessageDeleted tells both participants a message is gone.
	EventMessageDeleted
	// EventReadStatusChanged tells a sender that ReaderID has read their messages.
	EventReadStatusChanged
	// EventUnreadCountsChanged carries a receiver's full unread-count index.
	EventUnreadCountsChanged
	// EventLastMessageChanged carries the last message for one counterpart, or none.
	EventLastMessageChanged
	// EventSessionReplaced is sent once to a channel displaced by a newer connection.
	EventSessionReplaced
	// EventError notifies a client about a failed inbound command.
	EventError
)

var eventKindNames = map[EventKind]string{
	EventPresenceChanged:     "presence_changed",
	EventMessageCreated:      "message_created",
	EventMessageUpdated:      "message_updated",
	EventMessageDeleted:      "message_deleted",
	EventReadStatusChanged:   "read_status_changed",
	EventUnreadCountsChanged: "unread_counts_changed",
	EventLastMessageChanged:  "last_message_changed",
	EventSessionReplaced:     "session_replaced",
	EventError:               "error",
}

// String returns the wire name of the event kind.
func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseEventKind maps a wire name back to its kind.
func ParseEventKind(name string) (EventKind, bool) {
	for k, n := range eventKindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// Event is sent to clients to describe what happened in the system.
// Seq and At are stamped by the hub when the event is dispatched.
type Event struct {
	Kind EventKind
	Seq  uint64
	At   time.Time

	OnlineUserIDs []int64        // EventPresenceChanged
	Message       *store.Message // EventMessageCreated, EventMessageUpdated

	MessageID  int64 // EventMessageDeleted
	SenderID   int64 // EventMessageDeleted
	ReceiverID int64 // EventMessageDeleted

	ReaderID int64 // EventReadStatusChanged

	UnreadCounts map[int64]int // EventUnreadCountsChanged

	CounterpartID int64          // EventLastMessageChanged
	LastMessage   *store.Message // EventLastMessageChanged, nil when the pair has no messages

	Error *CoreError // EventError
}

// Envelope addresses an event to one user, or to every live channel when Broadcast is set.
type Envelope struct {
	To        int64
	Broadcast bool
	Event     Event
}

// To addresses ev to userID.
func To(userID int64, ev Event) Envelope {
	return Envelope{To: userID, Event: ev}
}

// Broadcast addresses ev to all connected channels.
func Broadcast(ev Event) Envelope {
	return Envelope{Broadcast: true, Event: ev}
}
