package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"facetkit.org/internal/audit"
	"facetkit.org/internal/facet"
	"facetkit.org/internal/identity"
)

const (
	alice = facet.UserRef("alice")
	bob   = facet.UserRef("bob")
	carol = facet.UserRef("carol")
	admin = facet.UserRef("admin")

	engGroup = facet.GroupRef("eng")
)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *audit.MemoryLog, *identity.StaticProvider) {
	t.Helper()
	idp := identity.NewStaticProvider().
		AddUser(alice).
		AddUser(bob, engGroup).
		AddUser(carol)
	idp.AddPrivileged(admin)
	log := audit.NewMemoryLog()
	e, err := New(NewMemoryStore(), log, idp, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return e, log, idp
}

var allCaps = facet.Capabilities{Ownable: true, Assignable: true, Accessible: true, Responsible: true}

// ownedRecord creates a record with every facet and makes alice its owner.
func ownedRecord(t *testing.T, e *Engine, id string) facet.RecordRef {
	t.Helper()
	ctx := context.Background()
	ref := facet.RecordRef{Type: "doc", ID: id}
	if _, err := e.CreateRecord(ctx, ref, allCaps); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ClaimOwnership(ctx, ref, alice, ""); err != nil {
		t.Fatal(err)
	}
	return ref
}

func TestCreateRecordConflict(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	ref := facet.RecordRef{Type: "doc", ID: "1"}
	if _, err := e.CreateRecord(ctx, ref, allCaps); err != nil {
		t.Fatal(err)
	}
	if _, err := e.CreateRecord(ctx, ref, allCaps); !errors.Is(err, facet.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestCommandOnMissingFacet(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	ref := facet.RecordRef{Type: "doc", ID: "1"}
	if _, err := e.CreateRecord(ctx, ref, facet.Capabilities{Accessible: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ClaimOwnership(ctx, ref, alice, ""); !errors.Is(err, facet.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for absent ownership facet, got %v", err)
	}
}

func TestUnknownActorRejected(t *testing.T) {
	e, log, _ := newTestEngine(t)
	ctx := context.Background()
	ref := ownedRecord(t, e, "1")
	if _, err := e.TransferOwnership(ctx, ref, "mallory", bob, ""); !errors.Is(err, facet.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown actor, got %v", err)
	}
	events, _ := log.Query(ctx, audit.Filter{Record: ref, Facet: facet.KindOwnership})
	if len(events) != 1 { // the claim only
		t.Fatalf("failed command wrote audit events: %d", len(events))
	}
}

func TestCancelledContextBlocksCommand(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ref := ownedRecord(t, e, "1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.ReleaseOwnership(ctx, ref, alice, ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestClockSeam(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e, _, _ := newTestEngine(t, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()
	ref := ownedRecord(t, e, "1")
	rec, err := e.GetRecord(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Ownership.OwnershipSince.Equal(fixed) {
		t.Fatalf("OwnershipSince = %v, want %v", rec.Ownership.OwnershipSince, fixed)
	}
}
