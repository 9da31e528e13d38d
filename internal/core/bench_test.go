package core

import (
	"context"
	"testing"
)

func benchmarkDirectPublish(b *testing.B, online int) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil, nil)
	go hub.Run(ctx)

	// Other users only add registry entries and presence traffic.
	for i := 0; i < online; i++ {
		c := NewClient(int64(i+2), 0)
		hub.RegisterClient(c)
		go func(cl *Client) {
			for range cl.Events {
			}
		}(c)
	}
	target := NewClient(1, 0)
	hub.RegisterClient(target)
	<-target.Events

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		hub.Publish(To(1, Event{Kind: EventUnreadCountsChanged}))
		<-target.Events
	}
}

func BenchmarkDirectPublish_10(b *testing.B)  { benchmarkDirectPublish(b, 10) }
func BenchmarkDirectPublish_100(b *testing.B) { benchmarkDirectPublish(b, 100) }
func BenchmarkDirectPublish_500(b *testing.B) { benchmarkDirectPublish(b, 500) }
