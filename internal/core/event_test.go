package core

import "testing"

func TestEventKindRoundTrip(t *testing.T) {
	for kind := EventPresenceChanged; kind <= EventError; kind++ {
		got, ok := ParseEventKind(kind.String())
		if !ok || got != kind {
			t.Fatalf("kind %d did not round trip via %q", kind, kind.String())
		}
	}
	if _, ok := ParseEventKind("user_joined"); ok {
		t.Fatalf("unknown name parsed")
	}
}
