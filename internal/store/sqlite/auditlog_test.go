package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"facetkit.org/internal/audit"
	"facetkit.org/internal/facet"
)

func openTestLog(t *testing.T) *AuditLog {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestAppendQueryPurge(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	for i, action := range []string{"claim", "transfer", "release"} {
		ev := audit.Event{
			ID:     string(rune('a' + i)),
			Facet:  facet.KindOwnership,
			Record: facet.RecordRef{Type: "doc", ID: "1"},
			Action: action,
			Actor:  "alice",
			After:  []byte(`{"owner":"alice"}`),
			At:     now.Add(time.Duration(i) * time.Minute),
		}
		if err := l.Append(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	events, err := l.Query(ctx, audit.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 || events[0].Action != "claim" || events[2].Action != "release" {
		t.Fatalf("query: %+v", events)
	}
	if !events[0].At.Equal(now) {
		t.Fatalf("timestamp round trip: %v", events[0].At)
	}
	if string(events[0].After) != `{"owner":"alice"}` {
		t.Fatalf("after snapshot: %s", events[0].After)
	}
	if events[0].Before != nil {
		t.Fatalf("before snapshot appeared: %s", events[0].Before)
	}

	events, _ = l.Query(ctx, audit.Filter{From: now.Add(2 * time.Minute)})
	if len(events) != 1 || events[0].Action != "release" {
		t.Fatalf("from filter: %+v", events)
	}

	n, err := l.Purge(ctx, now.Add(2*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("purged %d, want 2", n)
	}
	events, _ = l.Query(ctx, audit.Filter{})
	if len(events) != 1 {
		t.Fatalf("survivors: %+v", events)
	}
}

func TestAppendValidates(t *testing.T) {
	l := openTestLog(t)
	err := l.Append(context.Background(), audit.Event{Action: "claim"})
	if err == nil {
		t.Fatal("invalid event accepted")
	}
}
