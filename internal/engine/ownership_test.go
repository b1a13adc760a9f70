package engine

import (
	"context"
	"errors"
	"testing"

	"facetkit.org/internal/audit"
	"facetkit.org/internal/facet"
)

func TestTransferOwnership(t *testing.T) {
	e, log, _ := newTestEngine(t)
	ctx := context.Background()
	ref := ownedRecord(t, e, "1")

	if _, err := e.TransferOwnership(ctx, ref, alice, bob, "handover"); err != nil {
		t.Fatal(err)
	}
	rec, _ := e.GetRecord(ctx, ref)
	if rec.Ownership.Owner != bob || rec.Ownership.PreviousOwner != alice {
		t.Fatalf("ownership after transfer: %+v", rec.Ownership)
	}
	// The new owner gets an explicit access grant in the same unit.
	if _, ok := rec.Access.GrantFor(bob); !ok {
		t.Fatal("transfer did not grant the new owner explicit access")
	}
	events, _ := log.Query(ctx, audit.Filter{Record: ref})
	var transfer, grant bool
	for _, ev := range events {
		if ev.Action == "transfer" {
			transfer = true
		}
		if ev.Action == "grant_user" {
			grant = true
		}
	}
	if !transfer || !grant {
		t.Fatalf("expected transfer and grant_user events, got %d events", len(events))
	}
}

func TestTransferForbiddenForNonOwner(t *testing.T) {
	e, log, _ := newTestEngine(t)
	ctx := context.Background()
	ref := ownedRecord(t, e, "1")

	if _, err := e.TransferOwnership(ctx, ref, bob, carol, ""); !errors.Is(err, facet.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	// Denied command leaves state and trail untouched.
	rec, _ := e.GetRecord(ctx, ref)
	if rec.Ownership.Owner != alice {
		t.Fatalf("owner changed by denied command: %s", rec.Ownership.Owner)
	}
	events, _ := log.Query(ctx, audit.Filter{Record: ref, Facet: facet.KindOwnership})
	if len(events) != 1 {
		t.Fatalf("denied command wrote audit events: %d", len(events))
	}
}

func TestCoOwnerCannotTransfer(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	ref := ownedRecord(t, e, "1")
	if _, err := e.AddCoOwner(ctx, ref, alice, bob, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := e.TransferOwnership(ctx, ref, bob, carol, ""); !errors.Is(err, facet.ErrForbidden) {
		t.Fatalf("co-owner transferred ownership: %v", err)
	}
}

func TestPrivilegedTransfer(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	ref := ownedRecord(t, e, "1")
	if _, err := e.TransferOwnership(ctx, ref, admin, carol, "escalation"); err != nil {
		t.Fatal(err)
	}
	rec, _ := e.GetRecord(ctx, ref)
	if rec.Ownership.Owner != carol {
		t.Fatalf("owner = %s, want carol", rec.Ownership.Owner)
	}
}

func TestReleaseAndClaim(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	ref := ownedRecord(t, e, "1")

	if _, err := e.ReleaseOwnership(ctx, ref, alice, "moving on"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ReleaseOwnership(ctx, ref, admin, ""); !errors.Is(err, facet.ErrConflict) {
		t.Fatalf("release of unowned record: %v", err)
	}
	if _, err := e.ClaimOwnership(ctx, ref, bob, ""); err != nil {
		t.Fatal(err)
	}
	rec, _ := e.GetRecord(ctx, ref)
	// Claim keeps the previous owner from before the release.
	if rec.Ownership.Owner != bob || rec.Ownership.PreviousOwner != alice {
		t.Fatalf("ownership after claim: %+v", rec.Ownership)
	}
	if _, err := e.ClaimOwnership(ctx, ref, carol, ""); !errors.Is(err, facet.ErrConflict) {
		t.Fatalf("claim of owned record: %v", err)
	}
}

func TestCoOwnerManagement(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	ref := ownedRecord(t, e, "1")

	if _, err := e.AddCoOwner(ctx, ref, alice, bob, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := e.AddCoOwner(ctx, ref, alice, bob, ""); !errors.Is(err, facet.ErrConflict) {
		t.Fatalf("duplicate co-owner accepted: %v", err)
	}
	// A co-owner may manage the set.
	if _, err := e.AddCoOwner(ctx, ref, bob, carol, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := e.RemoveCoOwner(ctx, ref, carol, alice, ""); !errors.Is(err, facet.ErrConflict) {
		t.Fatalf("removing a non-co-owner: %v", err)
	}
	if _, err := e.RemoveAllCoOwners(ctx, ref, alice, "reset"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.RemoveAllCoOwners(ctx, ref, alice, ""); !errors.Is(err, facet.ErrConflict) {
		t.Fatalf("clearing empty co-owner set: %v", err)
	}
}

func TestAddCoOwnersBatchSkipsDuplicates(t *testing.T) {
	e, log, _ := newTestEngine(t)
	ctx := context.Background()
	ref := ownedRecord(t, e, "1")

	if _, err := e.AddCoOwners(ctx, ref, alice, []facet.UserRef{bob, carol}, ""); err != nil {
		t.Fatal(err)
	}
	// All duplicates: a no-op with no event.
	ev, err := e.AddCoOwners(ctx, ref, alice, []facet.UserRef{bob, carol}, "")
	if err != nil || ev != nil {
		t.Fatalf("all-duplicate batch: ev=%v err=%v", ev, err)
	}
	events, _ := log.Query(ctx, audit.Filter{Record: ref, Facet: facet.KindOwnership})
	if len(events) != 2 { // claim + one batch add
		t.Fatalf("unexpected event count %d", len(events))
	}
}
