package stream

import (
	"context"
	"testing"
	"time"

	"facetkit.org/internal/audit"
	"facetkit.org/internal/facet"
)

func TestSubscribeReceivesPublished(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.Subscribe(ctx)
	if s.Subscribers() != 1 {
		t.Fatalf("subscribers = %d, want 1", s.Subscribers())
	}

	ev := audit.Event{ID: "e1", Facet: facet.KindOwnership, Action: "claim"}
	s.Publish(ev)

	select {
	case got := <-ch:
		if got.ID != "e1" {
			t.Fatalf("got event %q", got.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestCancelClosesChannel(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				if s.Subscribers() != 0 {
					t.Fatalf("subscribers = %d after close", s.Subscribers())
				}
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after cancel")
		}
	}
}

func TestSlowSubscriberDropsNotBlocks(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = s.Subscribe(ctx)

	done := make(chan struct{})
	go func() {
		// Nobody reads; the buffer fills and publishes must not block.
		for i := 0; i < 100; i++ {
			s.Publish(audit.Event{ID: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
