package core

import (
	"slices"
	"sync"
)

// Presence maps each online user to their single active channel.
// A second connect from the same user replaces the first (last connection wins).
type Presence struct {
	mu        sync.RWMutex
	byUser    map[int64]*Client
	byChannel map[string]int64
}

// NewPresence returns an empty registry.
func NewPresence() *Presence {
	return &Presence{
		byUser:    make(map[int64]*Client),
		byChannel: make(map[string]int64),
	}
}

// Connect makes c the active channel of its user and returns the channel it displaced, if any.
func (p *Presence) Connect(c *Client) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.byUser[c.UserID]
	if prev != nil {
		delete(p.byChannel, prev.ID)
	}
	p.byUser[c.UserID] = c
	p.byChannel[c.ID] = c.UserID
	if prev == c {
		return nil
	}
	return prev
}

// Disconnect removes the entry owned by channelID. It reports the owning user and whether
// the channel was still the active one; a displaced channel leaves the registry untouched.
func (p *Presence) Disconnect(channelID string) (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	userID, ok := p.byChannel[channelID]
	if !ok {
		return 0, false
	}
	delete(p.byChannel, channelID)
	if cur := p.byUser[userID]; cur != nil && cur.ID == channelID {
		delete(p.byUser, userID)
		return userID, true
	}
	return userID, false
}

// ChannelFor returns the active channel of userID.
func (p *Presence) ChannelFor(userID int64) (*Client, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	c, ok := p.byUser[userID]
	return c, ok
}

// IsOnline reports whether userID has an active channel.
func (p *Presence) IsOnline(userID int64) bool {
	_, ok := p.ChannelFor(userID)
	return ok
}

// OnlineUserIDs returns the sorted ids of every connected user.
func (p *Presence) OnlineUserIDs() []int64 {
	p.mu.RLock()
	ids := make([]int64, 0, len(p.byUser))
	for id := range p.byUser {
		ids = append(ids, id)
	}
	p.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

func (p *Presence) channels() []*Client {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*Client, 0, len(p.byUser))
	for _, c := range p.byUser {
		out = append(out, c)
	}
	return out
}
