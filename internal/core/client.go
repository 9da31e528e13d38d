package core

import "github.com/google/uuid"

const defaultEventBuffer = 32

// Client is one live transport channel as seen by the core layer.
// Events is written only by the hub and closed by it once the channel is gone.
type Client struct {
	ID     string
	UserID int64
	Events chan *Event

	closed bool // guarded by the hub loop
}

// NewClient constructs a channel for userID with a fresh channel id.
func NewClient(userID int64, buffer int) *Client {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	return &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Events: make(chan *Event, buffer),
	}
}

// push delivers without blocking. It reports false when the buffer is full.
func (c *Client) push(ev *Event) bool {
	if c.closed {
		return false
	}
	select {
	case c.Events <- ev:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.Events)
}
