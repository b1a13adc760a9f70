package engine

import (
	"context"
	"fmt"
	"time"

	"facetkit.org/internal/audit"
	"facetkit.org/internal/facet"
)

// ResponsibilityOptions carries the optional parameters of
// AssignResponsibility.
type ResponsibilityOptions struct {
	Secondary   bool
	EndsAt      *time.Time
	Description string
	Reason      string
}

// AssignResponsibility makes the targets responsible. Primary assignment
// replaces the primary set and restarts the clock; Secondary adds backups
// without touching the primary set or the end date.
func (e *Engine) AssignResponsibility(ctx context.Context, ref facet.RecordRef, actor facet.UserRef, users []facet.UserRef, opts ResponsibilityOptions) (*audit.Event, error) {
	return e.mutateRecord(ctx, facet.KindResponsibility, "assign_responsibility", ref, func(rec *facet.Record) (*audit.Event, error) {
		if err := e.requireActor(ctx, actor); err != nil {
			return nil, err
		}
		targets, err := e.requireUsers(ctx, users)
		if err != nil {
			return nil, err
		}
		if opts.EndsAt != nil && opts.EndsAt.Before(e.now()) {
			return nil, fmt.Errorf("%w: responsibility end date is in the past", facet.ErrInvalidArgument)
		}
		sub, err := e.subject(ctx, actor)
		if err != nil {
			return nil, err
		}
		if !CanDelegateResponsibility(rec, sub) {
			return nil, fmt.Errorf("%w: %s cannot delegate responsibility for %s", facet.ErrForbidden, actor, rec.Ref)
		}

		res := rec.Responsibility
		before := res.Clone()
		if opts.Secondary {
			for _, u := range targets {
				if !facet.ContainsUser(res.Secondary, u) {
					res.Secondary = append(res.Secondary, u)
				}
			}
		} else {
			res.Primary = targets
			res.DelegatedBy = actor
			res.StartedAt = e.now()
			if opts.EndsAt != nil {
				t := *opts.EndsAt
				res.EndsAt = &t
			}
		}
		if opts.Description != "" {
			res.Description = opts.Description
		}

		if err := e.store.SaveRecord(ctx, rec); err != nil {
			return nil, err
		}
		extra := "responsible: " + joinUsers(targets)
		if opts.Secondary {
			extra = "secondary: " + joinUsers(targets)
		}
		return e.emit(ctx, facet.KindResponsibility, rec.Ref, "assign_responsibility", actor, before, res, opts.Reason, extra)
	})
}

// DelegateResponsibility hands primary responsibility to target, keeping the
// end date of the current term.
func (e *Engine) DelegateResponsibility(ctx context.Context, ref facet.RecordRef, actor, target facet.UserRef, reason string) (*audit.Event, error) {
	return e.replacePrimary(ctx, ref, actor, target, "delegate", reason)
}

// TransferResponsibility is delegation initiated by the current holder or the
// owner; it shares the delegate semantics under its own audit action.
func (e *Engine) TransferResponsibility(ctx context.Context, ref facet.RecordRef, actor, target facet.UserRef, reason string) (*audit.Event, error) {
	return e.replacePrimary(ctx, ref, actor, target, "transfer_responsibility", reason)
}

func (e *Engine) replacePrimary(ctx context.Context, ref facet.RecordRef, actor, target facet.UserRef, action, reason string) (*audit.Event, error) {
	return e.mutateRecord(ctx, facet.KindResponsibility, action, ref, func(rec *facet.Record) (*audit.Event, error) {
		if err := e.requireActor(ctx, actor); err != nil {
			return nil, err
		}
		user, err := e.requireUser(ctx, target)
		if err != nil {
			return nil, err
		}
		sub, err := e.subject(ctx, actor)
		if err != nil {
			return nil, err
		}
		if !CanDelegateResponsibility(rec, sub) {
			return nil, fmt.Errorf("%w: %s cannot delegate responsibility for %s", facet.ErrForbidden, actor, rec.Ref)
		}

		res := rec.Responsibility
		before := res.Clone()
		res.Primary = []facet.UserRef{user}
		res.Secondary = facet.DedupeUsers(removeAssignee(res.Secondary, user))
		res.DelegatedBy = actor
		res.StartedAt = e.now()

		if err := e.store.SaveRecord(ctx, rec); err != nil {
			return nil, err
		}
		return e.emit(ctx, facet.KindResponsibility, rec.Ref, action, actor, before, res, reason, "primary: "+string(user))
	})
}

// AddResponsible adds target to the primary or secondary set without
// replacing anyone. Adding a user already in that set is a conflict.
func (e *Engine) AddResponsible(ctx context.Context, ref facet.RecordRef, actor, target facet.UserRef, secondary bool, reason string) (*audit.Event, error) {
	return e.mutateRecord(ctx, facet.KindResponsibility, "add_responsible", ref, func(rec *facet.Record) (*audit.Event, error) {
		if err := e.requireActor(ctx, actor); err != nil {
			return nil, err
		}
		user, err := e.requireUser(ctx, target)
		if err != nil {
			return nil, err
		}
		sub, err := e.subject(ctx, actor)
		if err != nil {
			return nil, err
		}
		if !CanDelegateResponsibility(rec, sub) {
			return nil, fmt.Errorf("%w: %s cannot delegate responsibility for %s", facet.ErrForbidden, actor, rec.Ref)
		}

		res := rec.Responsibility
		set := &res.Primary
		if secondary {
			set = &res.Secondary
		}
		if facet.ContainsUser(*set, user) {
			return nil, fmt.Errorf("%w: %s is already responsible for %s", facet.ErrConflict, user, rec.Ref)
		}
		before := res.Clone()
		*set = append(*set, user)
		if !secondary && len(before.Primary) == 0 {
			res.DelegatedBy = actor
			res.StartedAt = e.now()
		}

		if err := e.store.SaveRecord(ctx, rec); err != nil {
			return nil, err
		}
		return e.emit(ctx, facet.KindResponsibility, rec.Ref, "add_responsible", actor, before, res, reason, "")
	})
}

// DelegateSecondary replaces the secondary set with users, leaving the
// primary set and the term untouched. Incremental additions go through
// AddResponsible instead.
func (e *Engine) DelegateSecondary(ctx context.Context, ref facet.RecordRef, actor facet.UserRef, users []facet.UserRef, reason string) (*audit.Event, error) {
	return e.mutateRecord(ctx, facet.KindResponsibility, "delegate_secondary", ref, func(rec *facet.Record) (*audit.Event, error) {
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
		if !CanDelegateResponsibility(rec, sub) {
			return nil, fmt.Errorf("%w: %s cannot delegate responsibility for %s", facet.ErrForbidden, actor, rec.Ref)
		}

		res := rec.Responsibility
		before := res.Clone()
		res.Secondary = targets

		if err := e.store.SaveRecord(ctx, rec); err != nil {
			return nil, err
		}
		return e.emit(ctx, facet.KindResponsibility, rec.Ref, "delegate_secondary", actor, before, res, reason, "secondary: "+joinUsers(targets))
	})
}

// RemoveResponsible drops target from the secondary set. Primary holders are
// replaced through Transfer or Escalate, never removed piecemeal.
func (e *Engine) RemoveResponsible(ctx context.Context, ref facet.RecordRef, actor, target facet.UserRef, reason string) (*audit.Event, error) {
	return e.mutateRecord(ctx, facet.KindResponsibility, "remove_responsible", ref, func(rec *facet.Record) (*audit.Event, error) {
		if err := e.requireActor(ctx, actor); err != nil {
			return nil, err
		}
		sub, err := e.subject(ctx, actor)
		if err != nil {
			return nil, err
		}
		if !CanDelegateResponsibility(rec, sub) {
			return nil, fmt.Errorf("%w: %s cannot delegate responsibility for %s", facet.ErrForbidden, actor, rec.Ref)
		}

		res := rec.Responsibility
		if !facet.ContainsUser(res.Secondary, target) {
			return nil, fmt.Errorf("%w: %s is not a secondary responsible of %s", facet.ErrConflict, target, rec.Ref)
		}
		before := res.Clone()
		res.Secondary = removeAssignee(res.Secondary, target)

		if err := e.store.SaveRecord(ctx, rec); err != nil {
			return nil, err
		}
		return e.emit(ctx, facet.KindResponsibility, rec.Ref, "remove_responsible", actor, before, res, reason, "")
	})
}

// EscalateResponsibility makes target the sole primary and clears the
// secondary set. Escalating to someone already responsible is a conflict.
func (e *Engine) EscalateResponsibility(ctx context.Context, ref facet.RecordRef, actor, target facet.UserRef, reason string) (*audit.Event, error) {
	return e.mutateRecord(ctx, facet.KindResponsibility, "escalate", ref, func(rec *facet.Record) (*audit.Event, error) {
		if err := e.requireActor(ctx, actor); err != nil {
			return nil, err
		}
		user, err := e.requireUser(ctx, target)
		if err != nil {
			return nil, err
		}
		sub, err := e.subject(ctx, actor)
		if err != nil {
			return nil, err
		}
		if !CanDelegateResponsibility(rec, sub) {
			return nil, fmt.Errorf("%w: %s cannot delegate responsibility for %s", facet.ErrForbidden, actor, rec.Ref)
		}

		res := rec.Responsibility
		if res.IsResponsible(user) {
			return nil, fmt.Errorf("%w: %s is already responsible for %s", facet.ErrConflict, user, rec.Ref)
		}
		before := res.Clone()
		res.Primary = []facet.UserRef{user}
		res.Secondary = nil
		res.DelegatedBy = actor
		res.StartedAt = e.now()

		if err := e.store.SaveRecord(ctx, rec); err != nil {
			return nil, err
		}
		return e.emit(ctx, facet.KindResponsibility, rec.Ref, "escalate", actor, before, res, reason, "escalated to: "+string(user))
	})
}

// RevokeAllResponsibility clears both sets. A record that already has no
// responsible parties is left untouched and no event is written, so the call
// is idempotent.
func (e *Engine) RevokeAllResponsibility(ctx context.Context, ref facet.RecordRef, actor facet.UserRef, reason string) (*audit.Event, error) {
	return e.mutateRecord(ctx, facet.KindResponsibility, "revoke_all", ref, func(rec *facet.Record) (*audit.Event, error) {
		if err := e.requireActor(ctx, actor); err != nil {
			return nil, err
		}
		sub, err := e.subject(ctx, actor)
		if err != nil {
			return nil, err
		}
		if !CanDelegateResponsibility(rec, sub) {
			return nil, fmt.Errorf("%w: %s cannot delegate responsibility for %s", facet.ErrForbidden, actor, rec.Ref)
		}

		res := rec.Responsibility
		before := res.Clone()
		extra := "revoked: " + joinUsers(append(append([]facet.UserRef(nil), res.Primary...), res.Secondary...))
		if !res.Clear() {
			return nil, nil
		}
		if err := e.store.SaveRecord(ctx, rec); err != nil {
			return nil, err
		}
		return e.emit(ctx, facet.KindResponsibility, rec.Ref, "revoke_all", actor, before, res, reason, extra)
	})
}
