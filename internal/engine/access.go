package engine

import (
	"context"
	"fmt"
	"time"

	"facetkit.org/internal/audit"
	"facetkit.org/internal/facet"
)

// GrantWindow bounds an explicit user grant. Nil fields mean unbounded.
type GrantWindow struct {
	ValidFrom *time.Time
	ValidTo   *time.Time
}

func (w GrantWindow) validate() error {
	if w.ValidFrom != nil && w.ValidTo != nil && w.ValidTo.Before(*w.ValidFrom) {
		return fmt.Errorf("%w: grant window ends before it starts", facet.ErrInvalidArgument)
	}
	return nil
}

// GrantUser gives target an explicit grant, optionally time-bounded. An
// existing grant is replaced, which is how a window gets extended.
func (e *Engine) GrantUser(ctx context.Context, ref facet.RecordRef, actor, target facet.UserRef, window GrantWindow, reason string) (*audit.Event, error) {
	return e.mutateRecord(ctx, facet.KindAccess, "grant_user", ref, func(rec *facet.Record) (*audit.Event, error) {
		if err := e.requireActor(ctx, actor); err != nil {
			return nil, err
		}
		user, err := e.requireUser(ctx, target)
		if err != nil {
			return nil, err
		}
		if err := window.validate(); err != nil {
			return nil, err
		}
		sub, err := e.subject(ctx, actor)
		if err != nil {
			return nil, err
		}
		if !CanGrantAccess(rec, sub) {
			return nil, fmt.Errorf("%w: %s cannot grant access to %s", facet.ErrForbidden, actor, rec.Ref)
		}
		before := rec.Access.Clone()
		rec.Access.Grant(facet.UserGrant{User: user, ValidFrom: window.ValidFrom, ValidTo: window.ValidTo})

		if err := e.store.SaveRecord(ctx, rec); err != nil {
			return nil, err
		}
		return e.emit(ctx, facet.KindAccess, rec.Ref, "grant_user", actor, before, rec.Access, reason, "granted: "+string(user))
	})
}

// RevokeUser removes target's explicit grant.
func (e *Engine) RevokeUser(ctx context.Context, ref facet.RecordRef, actor, target facet.UserRef, reason string) (*audit.Event, error) {
	return e.mutateRecord(ctx, facet.KindAccess, "revoke_user", ref, func(rec *facet.Record) (*audit.Event, error) {
		if err := e.requireActor(ctx, actor); err != nil {
			return nil, err
		}
		sub, err := e.subject(ctx, actor)
		if err != nil {
			return nil, err
		}
		if !CanGrantAccess(rec, sub) {
			return nil, fmt.Errorf("%w: %s cannot revoke access to %s", facet.ErrForbidden, actor, rec.Ref)
		}
		before := rec.Access.Clone()
		if !rec.Access.Revoke(target) {
			return nil, fmt.Errorf("%w: %s has no explicit grant on %s", facet.ErrConflict, target, rec.Ref)
		}
		if err := e.store.SaveRecord(ctx, rec); err != nil {
			return nil, err
		}
		return e.emit(ctx, facet.KindAccess, rec.Ref, "revoke_user", actor, before, rec.Access, reason, "revoked: "+string(target))
	})
}

// GrantUsers grants a batch of users, skipping ones already granted.
func (e *Engine) GrantUsers(ctx context.Context, ref facet.RecordRef, actor facet.UserRef, targets []facet.UserRef, window GrantWindow, reason string) (*audit.Event, error) {
	return e.mutateRecord(ctx, facet.KindAccess, "grant_users", ref, func(rec *facet.Record) (*audit.Event, error) {
		if err := e.requireActor(ctx, actor); err != nil {
			return nil, err
		}
		users, err := e.requireUsers(ctx, targets)
		if err != nil {
			return nil, err
		}
		if err := window.validate(); err != nil {
			return nil, err
		}
		sub, err := e.subject(ctx, actor)
		if err != nil {
			return nil, err
		}
		if !CanGrantAccess(rec, sub) {
			return nil, fmt.Errorf("%w: %s cannot grant access to %s", facet.ErrForbidden, actor, rec.Ref)
		}
		before := rec.Access.Clone()
		var granted []facet.UserRef
		for _, u := range users {
			if _, ok := rec.Access.GrantFor(u); ok {
				continue
			}
			rec.Access.Grant(facet.UserGrant{User: u, ValidFrom: window.ValidFrom, ValidTo: window.ValidTo})
			granted = append(granted, u)
		}
		if len(granted) == 0 {
			return nil, nil
		}
		if err := e.store.SaveRecord(ctx, rec); err != nil {
			return nil, err
		}
		return e.emit(ctx, facet.KindAccess, rec.Ref, "grant_users", actor, before, rec.Access, reason, "granted: "+joinUsers(granted))
	})
}

// RevokeUsers revokes a batch of users; ones without a grant are skipped.
func (e *Engine) RevokeUsers(ctx context.Context, ref facet.RecordRef, actor facet.UserRef, targets []facet.UserRef, reason string) (*audit.Event, error) {
	return e.mutateRecord(ctx, facet.KindAccess, "revoke_users", ref, func(rec *facet.Record) (*audit.Event, error) {
		if err := e.requireActor(ctx, actor); err != nil {
			return nil, err
		}
		targets = facet.DedupeUsers(targets)
		if len(targets) == 0 {
			return nil, fmt.Errorf("%w: at least one user is required", facet.ErrInvalidArgument)
		}
		sub, err := e.subject(ctx, actor)
		if err != nil {
			return nil, err
		}
		if !CanGrantAccess(rec, sub) {
			return nil, fmt.Errorf("%w: %s cannot revoke access to %s", facet.ErrForbidden, actor, rec.Ref)
		}
		before := rec.Access.Clone()
		var revoked []facet.UserRef
		for _, u := range targets {
			if rec.Access.Revoke(u) {
				revoked = append(revoked, u)
			}
		}
		if len(revoked) == 0 {
			return nil, nil
		}
		if err := e.store.SaveRecord(ctx, rec); err != nil {
			return nil, err
		}
		return e.emit(ctx, facet.KindAccess, rec.Ref, "revoke_users", actor, before, rec.Access, reason, "revoked: "+joinUsers(revoked))
	})
}

// GrantGroup allows a system group. Group grants only matter at the
// Restricted level; Private ignores them by design.
func (e *Engine) GrantGroup(ctx context.Context, ref facet.RecordRef, actor facet.UserRef, group facet.GroupRef, reason string) (*audit.Event, error) {
	return e.mutateRecord(ctx, facet.KindAccess, "grant_group", ref, func(rec *facet.Record) (*audit.Event, error) {
		if err := e.requireActor(ctx, actor); err != nil {
			return nil, err
		}
		if group == "" {
			return nil, fmt.Errorf("%w: group is required", facet.ErrInvalidArgument)
		}
		sub, err := e.subject(ctx, actor)
		if err != nil {
			return nil, err
		}
		if !CanGrantAccess(rec, sub) {
			return nil, fmt.Errorf("%w: %s cannot grant access to %s", facet.ErrForbidden, actor, rec.Ref)
		}
		before := rec.Access.Clone()
		if !rec.Access.AddGroup(group) {
			return nil, fmt.Errorf("%w: group %s already allowed on %s", facet.ErrConflict, group, rec.Ref)
		}
		if err := e.store.SaveRecord(ctx, rec); err != nil {
			return nil, err
		}
		return e.emit(ctx, facet.KindAccess, rec.Ref, "grant_group", actor, before, rec.Access, reason, "group: "+string(group))
	})
}

// RevokeGroup removes a system group grant.
func (e *Engine) RevokeGroup(ctx context.Context, ref facet.RecordRef, actor facet.UserRef, group facet.GroupRef, reason string) (*audit.Event, error) {
	return e.mutateRecord(ctx, facet.KindAccess, "revoke_group", ref, func(rec *facet.Record) (*audit.Event, error) {
		if err := e.requireActor(ctx, actor); err != nil {
			return nil, err
		}
		sub, err := e.subject(ctx, actor)
		if err != nil {
			return nil, err
		}
		if !CanGrantAccess(rec, sub) {
			return nil, fmt.Errorf("%w: %s cannot revoke access to %s", facet.ErrForbidden, actor, rec.Ref)
		}
		before := rec.Access.Clone()
		if !rec.Access.RemoveGroup(group) {
			return nil, fmt.Errorf("%w: group %s not allowed on %s", facet.ErrConflict, group, rec.Ref)
		}
		if err := e.store.SaveRecord(ctx, rec); err != nil {
			return nil, err
		}
		return e.emit(ctx, facet.KindAccess, rec.Ref, "revoke_group", actor, before, rec.Access, reason, "group: "+string(group))
	})
}

// GrantCustomGroup attaches a custom group. The group must exist and be
// active and non-expired at grant time.
func (e *Engine) GrantCustomGroup(ctx context.Context, ref facet.RecordRef, actor facet.UserRef, groupID, reason string) (*audit.Event, error) {
	return e.mutateRecord(ctx, facet.KindAccess, "grant_custom_group", ref, func(rec *facet.Record) (*audit.Event, error) {
		if err := e.requireActor(ctx, actor); err != nil {
			return nil, err
		}
		g, err := e.store.GetGroup(ctx, groupID)
		if err != nil {
			return nil, err
		}
		if !g.ActiveAt(e.now()) {
			return nil, fmt.Errorf("%w: custom group %s is inactive or expired", facet.ErrExpired, groupID)
		}
		sub, err := e.subject(ctx, actor)
		if err != nil {
			return nil, err
		}
		if !CanGrantAccess(rec, sub) {
			return nil, fmt.Errorf("%w: %s cannot grant access to %s", facet.ErrForbidden, actor, rec.Ref)
		}
		before := rec.Access.Clone()
		if !rec.Access.AddCustomGroup(groupID) {
			return nil, fmt.Errorf("%w: custom group %s already allowed on %s", facet.ErrConflict, groupID, rec.Ref)
		}
		if err := e.store.SaveRecord(ctx, rec); err != nil {
			return nil, err
		}
		return e.emit(ctx, facet.KindAccess, rec.Ref, "grant_custom_group", actor, before, rec.Access, reason, "custom group: "+g.Name)
	})
}

// RevokeCustomGroup detaches a custom group.
func (e *Engine) RevokeCustomGroup(ctx context.Context, ref facet.RecordRef, actor facet.UserRef, groupID, reason string) (*audit.Event, error) {
	return e.mutateRecord(ctx, facet.KindAccess, "revoke_custom_group", ref, func(rec *facet.Record) (*audit.Event, error) {
		if err := e.requireActor(ctx, actor); err != nil {
			return nil, err
		}
		sub, err := e.subject(ctx, actor)
		if err != nil {
			return nil, err
		}
		if !CanGrantAccess(rec, sub) {
			return nil, fmt.Errorf("%w: %s cannot revoke access to %s", facet.ErrForbidden, actor, rec.Ref)
		}
		before := rec.Access.Clone()
		if !rec.Access.RemoveCustomGroup(groupID) {
			return nil, fmt.Errorf("%w: custom group %s not allowed on %s", facet.ErrConflict, groupID, rec.Ref)
		}
		if err := e.store.SaveRecord(ctx, rec); err != nil {
			return nil, err
		}
		return e.emit(ctx, facet.KindAccess, rec.Ref, "revoke_custom_group", actor, before, rec.Access, reason, "custom group: "+groupID)
	})
}

// SetAccessLevel changes the visibility tier.
func (e *Engine) SetAccessLevel(ctx context.Context, ref facet.RecordRef, actor facet.UserRef, level facet.AccessLevel, reason string) (*audit.Event, error) {
	return e.mutateRecord(ctx, facet.KindAccess, "change_level", ref, func(rec *facet.Record) (*audit.Event, error) {
		if err := e.requireActor(ctx, actor); err != nil {
			return nil, err
		}
		parsed, err := facet.ParseLevel(string(level))
		if err != nil {
			return nil, err
		}
		sub, err := e.subject(ctx, actor)
		if err != nil {
			return nil, err
		}
		if !CanGrantAccess(rec, sub) {
			return nil, fmt.Errorf("%w: %s cannot change the access level of %s", facet.ErrForbidden, actor, rec.Ref)
		}
		before := rec.Access.Clone()
		extra := fmt.Sprintf("from %s to %s", before.Level, parsed)
		rec.Access.Level = parsed

		if err := e.store.SaveRecord(ctx, rec); err != nil {
			return nil, err
		}
		return e.emit(ctx, facet.KindAccess, rec.Ref, "change_level", actor, before, rec.Access, reason, extra)
	})
}

// SetAccessWindow sets the record-wide window. Nil bounds clear that side.
func (e *Engine) SetAccessWindow(ctx context.Context, ref facet.RecordRef, actor facet.UserRef, start, end *time.Time, reason string) (*audit.Event, error) {
	return e.mutateRecord(ctx, facet.KindAccess, "change_window", ref, func(rec *facet.Record) (*audit.Event, error) {
		if err := e.requireActor(ctx, actor); err != nil {
			return nil, err
		}
		if start != nil && end != nil && end.Before(*start) {
			return nil, fmt.Errorf("%w: access window ends before it starts", facet.ErrInvalidArgument)
		}
		sub, err := e.subject(ctx, actor)
		if err != nil {
			return nil, err
		}
		if !CanGrantAccess(rec, sub) {
			return nil, fmt.Errorf("%w: %s cannot change the access window of %s", facet.ErrForbidden, actor, rec.Ref)
		}
		before := rec.Access.Clone()
		rec.Access.WindowStart = start
		rec.Access.WindowEnd = end

		if err := e.store.SaveRecord(ctx, rec); err != nil {
			return nil, err
		}
		return e.emit(ctx, facet.KindAccess, rec.Ref, "change_window", actor, before, rec.Access, reason, "")
	})
}
