package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"facetkit.org/internal/facet"
)

func event(id, action string, at time.Time) Event {
	return Event{
		ID:     id,
		Facet:  facet.KindOwnership,
		Record: facet.RecordRef{Type: "doc", ID: "1"},
		Action: action,
		Actor:  "alice",
		At:     at,
	}
}

func TestMemoryLogAppendAndQuery(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := l.Append(ctx, event("a", "claim", now)); err != nil {
		t.Fatal(err)
	}
	if err := l.Append(ctx, event("b", "transfer", now.Add(time.Second))); err != nil {
		t.Fatal(err)
	}

	events, err := l.Query(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0].ID != "a" || events[1].ID != "b" {
		t.Fatalf("query order: %+v", events)
	}

	events, _ = l.Query(ctx, Filter{From: now.Add(time.Millisecond)})
	if len(events) != 1 || events[0].ID != "b" {
		t.Fatalf("from filter: %+v", events)
	}
	events, _ = l.Query(ctx, Filter{Actor: "bob"})
	if len(events) != 0 {
		t.Fatalf("actor filter: %+v", events)
	}
}

func TestMemoryLogValidation(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()
	bad := event("", "claim", time.Now().UTC())
	if err := l.Append(ctx, bad); !errors.Is(err, facet.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	bad = event("x", "", time.Now().UTC())
	if err := l.Append(ctx, bad); !errors.Is(err, facet.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestMemoryLogPurge(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()
	now := time.Now().UTC()
	_ = l.Append(ctx, event("a", "claim", now.Add(-2*time.Hour)))
	_ = l.Append(ctx, event("b", "transfer", now))

	n, err := l.Purge(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("purged %d, want 1", n)
	}
	events, _ := l.Query(ctx, Filter{})
	if len(events) != 1 || events[0].ID != "b" {
		t.Fatalf("survivors: %+v", events)
	}
}

func TestFilterMatches(t *testing.T) {
	now := time.Now().UTC()
	e := event("a", "claim", now)
	if !(Filter{}).Matches(e) {
		t.Fatal("zero filter must match")
	}
	if (Filter{Facet: facet.KindAccess}).Matches(e) {
		t.Fatal("facet mismatch matched")
	}
	if !(Filter{Record: facet.RecordRef{Type: "doc", ID: "1"}}).Matches(e) {
		t.Fatal("record match failed")
	}
	if (Filter{To: now.Add(-time.Second)}).Matches(e) {
		t.Fatal("event after To matched")
	}
}
