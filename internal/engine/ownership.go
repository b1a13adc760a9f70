package engine

import (
	"context"
	"fmt"

	"facetkit.org/internal/audit"
	"facetkit.org/internal/facet"
)

// TransferOwnership hands the record to newOwner. Only the current owner or
// a privileged actor may transfer. When the record also carries the Access
// facet, the new owner gets an explicit grant in the same unit so visibility
// survives a later transfer away.
func (e *Engine) TransferOwnership(ctx context.Context, ref facet.RecordRef, actor, newOwner facet.UserRef, reason string) (*audit.Event, error) {
	return e.mutateRecord(ctx, facet.KindOwnership, "transfer", ref, func(rec *facet.Record) (*audit.Event, error) {
		if err := e.requireActor(ctx, actor); err != nil {
			return nil, err
		}
		target, err := e.requireUser(ctx, newOwner)
		if err != nil {
			return nil, err
		}
		sub, err := e.subject(ctx, actor)
		if err != nil {
			return nil, err
		}
		if !CanTransferOwnership(rec, sub) {
			return nil, fmt.Errorf("%w: %s cannot transfer ownership of %s", facet.ErrForbidden, actor, rec.Ref)
		}

		own := rec.Ownership
		before := own.Clone()
		own.PreviousOwner = own.Owner
		own.Owner = target
		own.OwnershipSince = e.now()

		var accessBefore *facet.AccessState
		granted := false
		if rec.Access != nil {
			if _, ok := rec.Access.GrantFor(target); !ok {
				accessBefore = rec.Access.Clone()
				rec.Access.Grant(facet.UserGrant{User: target})
				granted = true
			}
		}

		if err := e.store.SaveRecord(ctx, rec); err != nil {
			return nil, err
		}
		ev, err := e.emit(ctx, facet.KindOwnership, rec.Ref, "transfer", actor, before, own, reason, "")
		if err != nil {
			return nil, err
		}
		if granted {
			extra := fmt.Sprintf("auto-grant on ownership transfer to %s", target)
			if _, err := e.emit(ctx, facet.KindAccess, rec.Ref, "grant_user", actor, accessBefore, rec.Access, reason, extra); err != nil {
				return nil, err
			}
		}
		return ev, nil
	})
}

// ReleaseOwnership drops the current owner, remembering them as the
// previous owner.
func (e *Engine) ReleaseOwnership(ctx context.Context, ref facet.RecordRef, actor facet.UserRef, reason string) (*audit.Event, error) {
	return e.mutateRecord(ctx, facet.KindOwnership, "release", ref, func(rec *facet.Record) (*audit.Event, error) {
		if err := e.requireActor(ctx, actor); err != nil {
			return nil, err
		}
		sub, err := e.subject(ctx, actor)
		if err != nil {
			return nil, err
		}
		if !CanTransferOwnership(rec, sub) {
			return nil, fmt.Errorf("%w: %s cannot release ownership of %s", facet.ErrForbidden, actor, rec.Ref)
		}

		own := rec.Ownership
		if own.Owner == "" {
			return nil, fmt.Errorf("%w: record %s has no owner to release", facet.ErrConflict, rec.Ref)
		}
		before := own.Clone()
		own.PreviousOwner = own.Owner
		own.Owner = ""

		if err := e.store.SaveRecord(ctx, rec); err != nil {
			return nil, err
		}
		return e.emit(ctx, facet.KindOwnership, rec.Ref, "release", actor, before, own, reason, "")
	})
}

// ClaimOwnership takes an unowned record. Claim does not touch
// PreviousOwner: the trail keeps naming the last real owner from before the
// release.
func (e *Engine) ClaimOwnership(ctx context.Context, ref facet.RecordRef, actor facet.UserRef, reason string) (*audit.Event, error) {
	return e.mutateRecord(ctx, facet.KindOwnership, "claim", ref, func(rec *facet.Record) (*audit.Event, error) {
		if err := e.requireActor(ctx, actor); err != nil {
			return nil, err
		}
		own := rec.Ownership
		if own.Owner != "" {
			return nil, fmt.Errorf("%w: record %s already has an owner", facet.ErrConflict, rec.Ref)
		}
		before := own.Clone()
		own.Owner = actor
		own.OwnershipSince = e.now()

		if err := e.store.SaveRecord(ctx, rec); err != nil {
			return nil, err
		}
		return e.emit(ctx, facet.KindOwnership, rec.Ref, "claim", actor, before, own, reason, "")
	})
}

// AddCoOwner adds one co-owner. Owner, existing co-owners and privileged
// actors may manage the co-owner set.
func (e *Engine) AddCoOwner(ctx context.Context, ref facet.RecordRef, actor, user facet.UserRef, reason string) (*audit.Event, error) {
	return e.mutateRecord(ctx, facet.KindOwnership, "add_co_owner", ref, func(rec *facet.Record) (*audit.Event, error) {
		if err := e.requireActor(ctx, actor); err != nil {
			return nil, err
		}
		target, err := e.requireUser(ctx, user)
		if err != nil {
			return nil, err
		}
		sub, err := e.subject(ctx, actor)
		if err != nil {
			return nil, err
		}
		if !CanManageCoOwners(rec, sub) {
			return nil, fmt.Errorf("%w: %s cannot manage co-owners of %s", facet.ErrForbidden, actor, rec.Ref)
		}
		before := rec.Ownership.Clone()
		if !rec.Ownership.AddCoOwner(target) {
			return nil, fmt.Errorf("%w: %s is already a co-owner of %s", facet.ErrConflict, target, rec.Ref)
		}
		if err := e.store.SaveRecord(ctx, rec); err != nil {
			return nil, err
		}
		return e.emit(ctx, facet.KindOwnership, rec.Ref, "add_co_owner", actor, before, rec.Ownership, reason, "")
	})
}

// AddCoOwners adds a batch of co-owners, skipping ones already present.
func (e *Engine) AddCoOwners(ctx context.Context, ref facet.RecordRef, actor facet.UserRef, users []facet.UserRef, reason string) (*audit.Event, error) {
	return e.mutateRecord(ctx, facet.KindOwnership, "add_co_owners", ref, func(rec *facet.Record) (*audit.Event, error) {
		if err := e.requireActor(ctx, actor); err != nil {
			return nil, err
		}
		targets, err := e.requireUsers(ctx, users)
		if err != nil {
			return nil, err
		}
		sub, err := e.subject(ctx, actor)
		if err != nil {
			return nil, err
		}
		if !CanManageCoOwners(rec, sub) {
			return nil, fmt.Errorf("%w: %s cannot manage co-owners of %s", facet.ErrForbidden, actor, rec.Ref)
		}
		before := rec.Ownership.Clone()
		var added []facet.UserRef
		for _, u := range targets {
			if rec.Ownership.AddCoOwner(u) {
				added = append(added, u)
			}
		}
		if len(added) == 0 {
			return nil, nil
		}
		if err := e.store.SaveRecord(ctx, rec); err != nil {
			return nil, err
		}
		extra := "added co-owners: " + joinUsers(added)
		return e.emit(ctx, facet.KindOwnership, rec.Ref, "add_co_owners", actor, before, rec.Ownership, reason, extra)
	})
}

// RemoveCoOwner removes one co-owner.
func (e *Engine) RemoveCoOwner(ctx context.Context, ref facet.RecordRef, actor, user facet.UserRef, reason string) (*audit.Event, error) {
	return e.mutateRecord(ctx, facet.KindOwnership, "remove_co_owner", ref, func(rec *facet.Record) (*audit.Event, error) {
		if err := e.requireActor(ctx, actor); err != nil {
			return nil, err
		}
		sub, err := e.subject(ctx, actor)
		if err != nil {
			return nil, err
		}
		if !CanManageCoOwners(rec, sub) {
			return nil, fmt.Errorf("%w: %s cannot manage co-owners of %s", facet.ErrForbidden, actor, rec.Ref)
		}
		before := rec.Ownership.Clone()
		if !rec.Ownership.RemoveCoOwner(user) {
			return nil, fmt.Errorf("%w: %s is not a co-owner of %s", facet.ErrConflict, user, rec.Ref)
		}
		if err := e.store.SaveRecord(ctx, rec); err != nil {
			return nil, err
		}
		return e.emit(ctx, facet.KindOwnership, rec.Ref, "remove_co_owner", actor, before, rec.Ownership, reason, "")
	})
}

// RemoveAllCoOwners clears the co-owner set.
func (e *Engine) RemoveAllCoOwners(ctx context.Context, ref facet.RecordRef, actor facet.UserRef, reason string) (*audit.Event, error) {
	return e.mutateRecord(ctx, facet.KindOwnership, "remove_all_co_owners", ref, func(rec *facet.Record) (*audit.Event, error) {
		if err := e.requireActor(ctx, actor); err != nil {
			return nil, err
		}
		sub, err := e.subject(ctx, actor)
		if err != nil {
			return nil, err
		}
		if !CanManageCoOwners(rec, sub) {
			return nil, fmt.Errorf("%w: %s cannot manage co-owners of %s", facet.ErrForbidden, actor, rec.Ref)
		}
		if len(rec.Ownership.CoOwners) == 0 {
			return nil, fmt.Errorf("%w: record %s has no co-owners", facet.ErrConflict, rec.Ref)
		}
		before := rec.Ownership.Clone()
		extra := "removed co-owners: " + joinUsers(rec.Ownership.CoOwners)
		rec.Ownership.CoOwners = nil
		if err := e.store.SaveRecord(ctx, rec); err != nil {
			return nil, err
		}
		return e.emit(ctx, facet.KindOwnership, rec.Ref, "remove_all_co_owners", actor, before, rec.Ownership, reason, extra)
	})
}
