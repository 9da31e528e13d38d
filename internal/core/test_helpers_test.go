package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed while waiting for %v", kind)
			}
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// mustClosed drains ch until it is closed and returns what was buffered.
func mustClosed(t *testing.T, ch <-chan *Event) []*Event {
	t.Helper()

	var got []*Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("channel not closed")
			return nil
		}
	}
}

func startHub(t *testing.T, st PresenceStore) *Hub {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(st, nil)
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.done
	})
	return hub
}

type presenceCall struct {
	UserID int64
	Online bool
}

type fakePresenceStore struct {
	mu    sync.Mutex
	calls []presenceCall
	err   error
	// gate, when set, holds every write until it is closed.
	gate chan struct{}
}

func (f *fakePresenceStore) SetPresence(_ context.Context, userID int64, online bool, _ time.Time) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, presenceCall{UserID: userID, Online: online})
	return f.err
}

// waitCalls polls until at least n presence writes were stored.
func (f *fakePresenceStore) waitCalls(t *testing.T, n int) []presenceCall {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if calls := f.snapshot(); len(calls) >= n {
			return calls
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d presence writes, got %+v", n, f.snapshot())
	return nil
}

func (f *fakePresenceStore) snapshot() []presenceCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]presenceCall(nil), f.calls...)
}
