package proto

import (
	"encoding/json"
	"time"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	ProtocolVersion = 1

	InboundTypeHello    = "hello"
	InboundTypeMarkRead = "mark_read"
	InboundTypePing     = "ping"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"
	OutboundTypePong  = "pong"
)

// HelloData authenticates the channel. It must be the first inbound message.
type HelloData struct {
	Token    string `json:"token"`
	Protocol int    `json:"protocol,omitempty"`
}

// MarkReadData asks to mark every message from SenderID to the current user as read.
type MarkReadData struct {
	SenderID int64 `json:"sender_id"`
}

// Outbound is the envelope for messages sent to the client.
// Seq and At (unix nanoseconds, server clock) are set on events.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Seq   uint64 `json:"seq,omitempty"`
	At    int64  `json:"at,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// RawOutbound is Outbound as decoded by a client, with Data left undecoded.
type RawOutbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Seq   uint64          `json:"seq,omitempty"`
	At    int64           `json:"at,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// Message is the wire form of a direct message.
type Message struct {
	ID         int64     `json:"id"`
	SenderID   int64     `json:"sender_id"`
	ReceiverID int64     `json:"receiver_id"`
	Text       string    `json:"text,omitempty"`
	Image      string    `json:"image,omitempty"`
	IsRead     bool      `json:"is_read"`
	CreatedAt  time.Time `json:"created_at"`
}

// EventPresence carries every online user id.
type EventPresence struct {
	OnlineUserIDs []int64 `json:"online_user_ids"`
}

// EventMessageDeleted notifies both participants that a message is gone.
type EventMessageDeleted struct {
	MessageID  int64 `json:"message_id"`
	SenderID   int64 `json:"sender_id"`
	ReceiverID int64 `json:"receiver_id"`
}

// EventReadStatus tells a sender that ReaderID has read their messages.
type EventReadStatus struct {
	ReaderID int64 `json:"reader_id"`
}

// EventUnreadCounts carries the full sender -> count mapping of the recipient.
type EventUnreadCounts struct {
	Counts map[int64]int `json:"counts"`
}

// EventLastMessage carries the last message shared with CounterpartID.
// Message is null when the pair has no messages left.
type EventLastMessage struct {
	CounterpartID int64    `json:"counterpart_id"`
	Message       *Message `json:"message"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
