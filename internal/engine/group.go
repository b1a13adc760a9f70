package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"facetkit.org/internal/audit"
	"facetkit.org/internal/facet"
	"facetkit.org/internal/ids"
)

// groupRef tags custom-group audit events with a synthetic record reference
// so they share the trail with facet events.
func groupRef(id string) facet.RecordRef {
	return facet.RecordRef{Type: "group", ID: id}
}

// CreateCustomGroup mints a new custom group. The creator is always a
// manager, whether listed or not; a group nobody can manage would be dead on
// arrival.
func (e *Engine) CreateCustomGroup(ctx context.Context, actor facet.UserRef, name string, members, managers []facet.UserRef, expiresAt *time.Time) (*facet.CustomGroup, error) {
	var g *facet.CustomGroup
	err := e.mutateGroupNew(ctx, "create_group", func() (*audit.Event, error) {
		if err := e.requireActor(ctx, actor); err != nil {
			return nil, err
		}
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: group name is required", facet.ErrInvalidArgument)
		}
		now := e.now()
		if expiresAt != nil && expiresAt.Before(now) {
			return nil, fmt.Errorf("%w: group expiry is in the past", facet.ErrInvalidArgument)
		}
		managers = facet.DedupeUsers(append(append([]facet.UserRef(nil), managers...), actor))
		g = &facet.CustomGroup{
			ID:        ids.NewAt(now),
			Name:      strings.TrimSpace(name),
			Members:   facet.DedupeUsers(members),
			Managers:  managers,
			Active:    true,
			CreatedBy: actor,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if expiresAt != nil {
			t := *expiresAt
			g.ExpiresAt = &t
		}
		if err := e.store.CreateGroup(ctx, g); err != nil {
			return nil, err
		}
		return e.emit(ctx, facet.KindAccess, groupRef(g.ID), "create_group", actor, nil, g, "", "name: "+g.Name)
	})
	if err != nil {
		return nil, err
	}
	return g.Clone(), nil
}

// AddGroupMembers adds users to the member set. Only a manager or a
// privileged actor may mutate membership.
func (e *Engine) AddGroupMembers(ctx context.Context, actor facet.UserRef, groupID string, users []facet.UserRef, reason string) (*audit.Event, error) {
	return e.mutateGroup(ctx, "add_group_members", groupID, actor, func(g *facet.CustomGroup) (*audit.Event, error) {
		targets, err := e.requireUsers(ctx, users)
		if err != nil {
			return nil, err
		}
		before := g.Clone()
		if g.AddMembers(targets) == 0 {
			return nil, nil
		}
		g.UpdatedAt = e.now()
		if err := e.store.SaveGroup(ctx, g); err != nil {
			return nil, err
		}
		return e.emit(ctx, facet.KindAccess, groupRef(g.ID), "add_group_members", actor, before, g, reason, "added: "+joinUsers(targets))
	})
}

// RemoveGroupMembers drops users from the member set.
func (e *Engine) RemoveGroupMembers(ctx context.Context, actor facet.UserRef, groupID string, users []facet.UserRef, reason string) (*audit.Event, error) {
	return e.mutateGroup(ctx, "remove_group_members", groupID, actor, func(g *facet.CustomGroup) (*audit.Event, error) {
		targets := facet.DedupeUsers(users)
		if len(targets) == 0 {
			return nil, fmt.Errorf("%w: at least one user is required", facet.ErrInvalidArgument)
		}
		before := g.Clone()
		if g.RemoveMembers(targets) == 0 {
			return nil, nil
		}
		g.UpdatedAt = e.now()
		if err := e.store.SaveGroup(ctx, g); err != nil {
			return nil, err
		}
		return e.emit(ctx, facet.KindAccess, groupRef(g.ID), "remove_group_members", actor, before, g, reason, "removed: "+joinUsers(targets))
	})
}

// DeactivateCustomGroup soft-deletes the group: it stops granting access but
// keeps its membership for the trail.
func (e *Engine) DeactivateCustomGroup(ctx context.Context, actor facet.UserRef, groupID, reason string) (*audit.Event, error) {
	return e.mutateGroup(ctx, "deactivate_group", groupID, actor, func(g *facet.CustomGroup) (*audit.Event, error) {
		if !g.Active {
			return nil, fmt.Errorf("%w: group %s is already inactive", facet.ErrConflict, groupID)
		}
		before := g.Clone()
		g.Active = false
		g.UpdatedAt = e.now()
		if err := e.store.SaveGroup(ctx, g); err != nil {
			return nil, err
		}
		return e.emit(ctx, facet.KindAccess, groupRef(g.ID), "deactivate_group", actor, before, g, reason, "")
	})
}

// ReactivateCustomGroup undoes a deactivation. Expiry is untouched: a
// reactivated group that has expired still grants nothing.
func (e *Engine) ReactivateCustomGroup(ctx context.Context, actor facet.UserRef, groupID, reason string) (*audit.Event, error) {
	return e.mutateGroup(ctx, "reactivate_group", groupID, actor, func(g *facet.CustomGroup) (*audit.Event, error) {
		if g.Active {
			return nil, fmt.Errorf("%w: group %s is already active", facet.ErrConflict, groupID)
		}
		before := g.Clone()
		g.Active = true
		g.UpdatedAt = e.now()
		if err := e.store.SaveGroup(ctx, g); err != nil {
			return nil, err
		}
		return e.emit(ctx, facet.KindAccess, groupRef(g.ID), "reactivate_group", actor, before, g, reason, "")
	})
}

// GetCustomGroup returns a snapshot of the group.
func (e *Engine) GetCustomGroup(ctx context.Context, id string) (*facet.CustomGroup, error) {
	return e.store.GetGroup(ctx, id)
}

// ListCustomGroups returns snapshots of every group.
func (e *Engine) ListCustomGroups(ctx context.Context) ([]*facet.CustomGroup, error) {
	return e.store.ListGroups(ctx)
}

// mutateGroup is the group-side command shell: serialise on the group, load,
// gate on manager-or-privileged, then run the body.
func (e *Engine) mutateGroup(ctx context.Context, action, groupID string, actor facet.UserRef, fn func(g *facet.CustomGroup) (*audit.Event, error)) (ev *audit.Event, err error) {
	defer func() { countOutcome(facet.KindAccess, action, err) }()

	unlock, lockErr := e.lockGroup(ctx, groupID)
	if lockErr != nil {
		return nil, lockErr
	}
	defer unlock()

	if err := e.requireActor(ctx, actor); err != nil {
		return nil, err
	}
	g, err := e.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	sub, err := e.subject(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !sub.Privileged && !g.HasManager(actor) {
		return nil, fmt.Errorf("%w: %s does not manage group %s", facet.ErrForbidden, actor, groupID)
	}
	return fn(g)
}

// mutateGroupNew is the creation variant: no existing group to lock or load.
func (e *Engine) mutateGroupNew(ctx context.Context, action string, fn func() (*audit.Event, error)) (err error) {
	defer func() { countOutcome(facet.KindAccess, action, err) }()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	_, err = fn()
	return err
}
