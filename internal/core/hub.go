package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiredm/internal/metrics"
)

const (
	defaultPresenceTimeout = 3 * time.Second
	presenceQueueSize      = 256
)

// PresenceStore persists the online flag and last-seen time of a user.
type PresenceStore interface {
	SetPresence(ctx context.Context, userID int64, online bool, lastSeen time.Time) error
}

// Publisher queues events for fan-out.
type Publisher interface {
	Publish(envs ...Envelope)
}

// Hub owns the presence registry and is the single dispatcher of outbound events.
// Registration, unregistration and every published batch are handled one at a time on
// the Run loop, so events reach each channel in the order they were published.
type Hub struct {
	presence        *Presence
	store           PresenceStore
	log             *zerolog.Logger
	metrics         *metrics.Metrics
	presenceTimeout time.Duration
	now             func() time.Time

	register   chan *Client
	unregister chan *Client
	publish    chan []Envelope
	writes     chan presenceWrite
	done       chan struct{}

	seq    uint64
	lastAt time.Time
}

// HubOption customizes a Hub.
type HubOption func(*Hub)

// WithMetrics records fan-out metrics.
func WithMetrics(m *metrics.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// WithPresenceTimeout bounds each presence write.
func WithPresenceTimeout(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.presenceTimeout = d
		}
	}
}

// NewHub creates a hub. st may be nil, in which case presence is not persisted.
func NewHub(st PresenceStore, logger *zerolog.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	h := &Hub{
		presence:        NewPresence(),
		store:           st,
		log:             logger,
		presenceTimeout: defaultPresenceTimeout,
		now:             time.Now,
		register:        make(chan *Client),
		unregister:      make(chan *Client),
		publish:         make(chan []Envelope, 256),
		writes:          make(chan presenceWrite, presenceQueueSize),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Presence exposes the read side of the registry.
func (h *Hub) Presence() *Presence {
	return h.presence
}

// Done is closed once Run has returned and every queued presence write is stored.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Run processes registrations and published events until ctx is cancelled.
// On shutdown every connected user is persisted offline and every channel is closed.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePresence()
	}()

	for {
		select {
		case <-ctx.Done():
			for _, c := range h.presence.channels() {
				h.persistPresence(c.UserID, false)
				c.close()
			}
			close(h.writes)
			<-writerDone
			h.metrics.SetConnected(0)
			return
		case c := <-h.register:
			h.connect(c)
		case c := <-h.unregister:
			h.disconnect(c)
		case batch := <-h.publish:
			h.dispatch(batch)
		}
	}
}

// RegisterClient makes c the active channel of its user. Once the hub has stopped,
// c is closed immediately.
func (h *Hub) RegisterClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.close()
	}
}

// UnregisterClient removes c. Unregistering a displaced channel is a no-op for presence.
func (h *Hub) UnregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Publish queues a batch of envelopes. Events of one batch are dispatched back to back.
func (h *Hub) Publish(envs ...Envelope) {
	if len(envs) == 0 {
		return
	}
	select {
	case h.publish <- envs:
	case <-h.done:
	}
}

func (h *Hub) connect(c *Client) {
	prev := h.presence.Connect(c)
	if prev != nil {
		h.log.Info().
			Int64("user_id", c.UserID).
			Str("channel_id", prev.ID).
			Str("new_channel_id", c.ID).
			Msg("channel replaced by newer connection")
		h.metrics.SessionReplaced()
		prev.push(h.stamp(Event{Kind: EventSessionReplaced}))
		prev.close()
	}

	h.persistPresence(c.UserID, true)
	h.metrics.SetConnected(len(h.presence.channels()))
	h.log.Debug().Int64("user_id", c.UserID).Str("channel_id", c.ID).Msg("channel connected")
	h.broadcastPresence()
}

func (h *Hub) disconnect(c *Client) {
	userID, active := h.presence.Disconnect(c.ID)
	c.close()
	if !active {
		return
	}

	h.persistPresence(userID, false)
	h.metrics.SetConnected(len(h.presence.channels()))
	h.log.Debug().Int64("user_id", userID).Str("channel_id", c.ID).Msg("channel disconnected")
	h.broadcastPresence()
}

type presenceWrite struct {
	userID int64
	online bool
	at     time.Time
}

// persistPresence queues a presence write. The queue only blocks the loop when
// presenceQueueSize writes are already pending.
func (h *Hub) persistPresence(userID int64, online bool) {
	if h.store == nil {
		return
	}
	h.writes <- presenceWrite{userID: userID, online: online, at: h.now()}
}

// writePresence stores queued writes in order until the queue is closed.
// Failures are logged only: the in-memory registry stays authoritative.
func (h *Hub) writePresence() {
	for w := range h.writes {
		ctx, cancel := context.WithTimeout(context.Background(), h.presenceTimeout)
		err := h.store.SetPresence(ctx, w.userID, w.online, w.at)
		cancel()
		if err != nil {
			h.log.Warn().Err(err).Int64("user_id", w.userID).Bool("online", w.online).Msg("failed to persist presence")
		}
	}
}

func (h *Hub) broadcastPresence() {
	h.dispatch([]Envelope{Broadcast(Event{
		Kind:          EventPresenceChanged,
		OnlineUserIDs: h.presence.OnlineUserIDs(),
	})})
}

func (h *Hub) dispatch(batch []Envelope) {
	for _, env := range batch {
		ev := h.stamp(env.Event)
		if env.Broadcast {
			for _, c := range h.presence.channels() {
				h.deliver(c, ev)
			}
			continue
		}

		c, ok := h.presence.ChannelFor(env.To)
		if !ok {
			h.metrics.Dropped(ev.Kind.String(), metrics.DropOffline)
			h.log.Debug().Int64("user_id", env.To).Str("event", ev.Kind.String()).Msg("target offline, event dropped")
			continue
		}
		h.deliver(c, ev)
	}
}

func (h *Hub) deliver(c *Client, ev *Event) {
	if !c.push(ev) {
		h.metrics.Dropped(ev.Kind.String(), metrics.DropSlow)
		h.log.Debug().Int64("user_id", c.UserID).Str("channel_id", c.ID).Str("event", ev.Kind.String()).Msg("slow consumer, event dropped")
		return
	}
	h.metrics.Delivered(ev.Kind.String())
}

// stamp assigns the next sequence number and a strictly increasing timestamp.
func (h *Hub) stamp(ev Event) *Event {
	h.seq++
	at := h.now()
	if !at.After(h.lastAt) {
		at = h.lastAt.Add(time.Nanosecond)
	}
	h.lastAt = at

	ev.Seq = h.seq
	ev.At = at
	return &ev
}
