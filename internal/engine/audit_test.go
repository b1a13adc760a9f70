package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"facetkit.org/internal/audit"
	"facetkit.org/internal/facet"
)

func TestAuditTrailFilters(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	ref := ownedRecord(t, e, "1")
	other := ownedRecord(t, e, "2")

	if _, err := e.AddCoOwner(ctx, ref, alice, bob, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Assign(ctx, other, alice, []facet.UserRef{bob}, AssignOptions{}); err != nil {
		t.Fatal(err)
	}

	events, err := e.AuditTrail(ctx, audit.Filter{Record: ref})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 { // claim + add_co_owner
		t.Fatalf("record filter returned %d events", len(events))
	}
	events, _ = e.AuditTrail(ctx, audit.Filter{Facet: facet.KindAssignment})
	if len(events) != 1 || events[0].Record != other {
		t.Fatalf("facet filter: %+v", events)
	}
	// Ascending by timestamp.
	all, _ := e.AuditTrail(ctx, audit.Filter{})
	for i := 1; i < len(all); i++ {
		if all[i].At.Before(all[i-1].At) {
			t.Fatal("trail not ordered ascending")
		}
	}
}

func TestAuditEventSnapshots(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	ref := ownedRecord(t, e, "1")

	ev, err := e.TransferOwnership(ctx, ref, alice, bob, "handover")
	if err != nil {
		t.Fatal(err)
	}
	if ev.Actor != alice || ev.Reason != "handover" {
		t.Fatalf("event metadata: %+v", ev)
	}
	if len(ev.Before) == 0 || len(ev.After) == 0 {
		t.Fatal("event missing state snapshots")
	}
}

func TestPurgeAuditPrivilegedOnly(t *testing.T) {
	e, log, _ := newTestEngine(t)
	ctx := context.Background()
	ref := ownedRecord(t, e, "1")
	if _, err := e.AddCoOwner(ctx, ref, alice, bob, ""); err != nil {
		t.Fatal(err)
	}

	if _, err := e.PurgeAudit(ctx, alice, time.Now().UTC()); !errors.Is(err, facet.ErrForbidden) {
		t.Fatalf("unprivileged purge: %v", err)
	}
	n, err := e.PurgeAudit(ctx, admin, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("purged %d events, want 2", n)
	}
	events, _ := log.Query(ctx, audit.Filter{})
	if len(events) != 0 {
		t.Fatalf("%d events survived purge", len(events))
	}
}
