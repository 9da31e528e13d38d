package core

import (
	"slices"
	"testing"
)

func TestPresenceConnectReplacesPreviousChannel(t *testing.T) {
	p := NewPresence()

	first := NewClient(1, 0)
	if prev := p.Connect(first); prev != nil {
		t.Fatalf("first connect should not displace anything")
	}
	second := NewClient(1, 0)
	if prev := p.Connect(second); prev != first {
		t.Fatalf("expected first channel to be displaced")
	}

	c, ok := p.ChannelFor(1)
	if !ok || c != second {
		t.Fatalf("expected second channel to be active")
	}
}

func TestPresenceStaleDisconnectIsIgnored(t *testing.T) {
	p := NewPresence()

	first := NewClient(1, 0)
	second := NewClient(1, 0)
	p.Connect(first)
	p.Connect(second)

	if _, active := p.Disconnect(first.ID); active {
		t.Fatalf("displaced channel must not be reported active")
	}
	if !p.IsOnline(1) {
		t.Fatalf("user should remain online")
	}

	userID, active := p.Disconnect(second.ID)
	if !active || userID != 1 {
		t.Fatalf("expected active disconnect of user 1, got %d %v", userID, active)
	}
	if p.IsOnline(1) {
		t.Fatalf("user should be offline")
	}
}

func TestPresenceUnknownChannel(t *testing.T) {
	p := NewPresence()
	if _, active := p.Disconnect("nope"); active {
		t.Fatalf("unknown channel reported active")
	}
}

func TestPresenceOnlineUserIDsSorted(t *testing.T) {
	p := NewPresence()
	for _, id := range []int64{5, 1, 3} {
		p.Connect(NewClient(id, 0))
	}
	if got := p.OnlineUserIDs(); !slices.Equal(got, []int64{1, 3, 5}) {
		t.Fatalf("unexpected online ids: %v", got)
	}
}
