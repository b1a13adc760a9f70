package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"facetkit.org/internal/facet"
)

func TestCreateCustomGroup(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	g, err := e.CreateCustomGroup(ctx, alice, "  oncall  ", []facet.UserRef{bob}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if g.Name != "oncall" || !g.Active || g.CreatedBy != alice {
		t.Fatalf("created group: %+v", g)
	}
	// The creator always manages the group, even when not listed.
	if !g.HasManager(alice) {
		t.Fatal("creator is not a manager")
	}
	if _, err := e.CreateCustomGroup(ctx, alice, "", nil, nil, nil); !errors.Is(err, facet.ErrInvalidArgument) {
		t.Fatalf("empty name accepted: %v", err)
	}
	past := time.Now().UTC().Add(-time.Hour)
	if _, err := e.CreateCustomGroup(ctx, alice, "old", nil, nil, &past); !errors.Is(err, facet.ErrInvalidArgument) {
		t.Fatalf("past expiry accepted: %v", err)
	}
}

func TestGroupMembershipManagerGated(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	g, err := e.CreateCustomGroup(ctx, alice, "oncall", nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	// bob is a mere member candidate, not a manager.
	if _, err := e.AddGroupMembers(ctx, bob, g.ID, []facet.UserRef{carol}, ""); !errors.Is(err, facet.ErrForbidden) {
		t.Fatalf("non-manager mutated membership: %v", err)
	}
	if _, err := e.AddGroupMembers(ctx, alice, g.ID, []facet.UserRef{bob, carol}, ""); err != nil {
		t.Fatal(err)
	}
	// Privileged actors bypass the manager gate.
	if _, err := e.RemoveGroupMembers(ctx, admin, g.ID, []facet.UserRef{carol}, ""); err != nil {
		t.Fatal(err)
	}
	got, err := e.GetCustomGroup(ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.HasMember(bob) || got.HasMember(carol) {
		t.Fatalf("membership: %v", got.Members)
	}
}

func TestGroupMembershipNoOp(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	g, err := e.CreateCustomGroup(ctx, alice, "oncall", []facet.UserRef{bob}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Already a member: no change, no event.
	if ev, err := e.AddGroupMembers(ctx, alice, g.ID, []facet.UserRef{bob}, ""); err != nil || ev != nil {
		t.Fatalf("duplicate member add: ev=%v err=%v", ev, err)
	}
	if ev, err := e.RemoveGroupMembers(ctx, alice, g.ID, []facet.UserRef{carol}, ""); err != nil || ev != nil {
		t.Fatalf("absent member remove: ev=%v err=%v", ev, err)
	}
}

func TestDeactivateReactivateConflicts(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	g, err := e.CreateCustomGroup(ctx, alice, "oncall", nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.ReactivateCustomGroup(ctx, alice, g.ID, ""); !errors.Is(err, facet.ErrConflict) {
		t.Fatalf("reactivating active group: %v", err)
	}
	if _, err := e.DeactivateCustomGroup(ctx, alice, g.ID, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := e.DeactivateCustomGroup(ctx, alice, g.ID, ""); !errors.Is(err, facet.ErrConflict) {
		t.Fatalf("double deactivation: %v", err)
	}
}

func TestListCustomGroups(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	if _, err := e.CreateCustomGroup(ctx, alice, "a", nil, nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := e.CreateCustomGroup(ctx, alice, "b", nil, nil, nil); err != nil {
		t.Fatal(err)
	}
	groups, err := e.ListCustomGroups(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 {
		t.Fatalf("listed %d groups, want 2", len(groups))
	}
}
