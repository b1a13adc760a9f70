package engine

import (
	"context"
	"fmt"
	"time"

	"facetkit.org/internal/audit"
	"facetkit.org/internal/facet"
)

// AssignOptions carries the optional parameters of Assign.
type AssignOptions struct {
	Deadline    *time.Time
	Priority    facet.AssignmentPriority
	Description string
	Reason      string
}

// Assign replaces the assignee set and moves the machine to Assigned. Legal
// from any non-terminal state; reassigning in-flight work restarts it.
func (e *Engine) Assign(ctx context.Context, ref facet.RecordRef, actor facet.UserRef, users []facet.UserRef, opts AssignOptions) (*audit.Event, error) {
	return e.mutateRecord(ctx, facet.KindAssignment, "assign", ref, func(rec *facet.Record) (*audit.Event, error) {
		if err := e.requireActor(ctx, actor); err != nil {
			return nil, err
		}
		targets, err := e.requireUsers(ctx, users)
		if err != nil {
			return nil, err
		}
		if opts.Priority == "" {
			opts.Priority = facet.PriorityNormal
		}
		sub, err := e.subject(ctx, actor)
		if err != nil {
			return nil, err
		}
		if !CanAssign(rec, sub, e.groupResolver(ctx), e.now()) {
			return nil, fmt.Errorf("%w: %s cannot assign %s", facet.ErrForbidden, actor, rec.Ref)
		}

		asg := rec.Assignment
		if asg.Status.Terminal() {
			return nil, fmt.Errorf("%w: cannot assign a %s record", facet.ErrInvalidTransition, asg.Status)
		}
		before := asg.Clone()
		asg.Assignees = targets
		asg.AssignedBy = actor
		asg.AssignedAt = e.now()
		asg.Status = facet.StatusAssigned
		asg.Priority = opts.Priority
		if opts.Deadline != nil {
			d := *opts.Deadline
			asg.Deadline = &d
		}
		if opts.Description != "" {
			asg.Description = opts.Description
		}

		if err := e.store.SaveRecord(ctx, rec); err != nil {
			return nil, err
		}
		extra := assignmentChange(before.Assignees, targets)
		return e.emit(ctx, facet.KindAssignment, rec.Ref, "assign", actor, before, asg, opts.Reason, extra)
	})
}

// AddAssignee adds one user to the assignee set. The first assignee moves
// the machine to Assigned and stamps the assignment metadata.
func (e *Engine) AddAssignee(ctx context.Context, ref facet.RecordRef, actor, user facet.UserRef, reason string) (*audit.Event, error) {
	return e.mutateRecord(ctx, facet.KindAssignment, "add_assignee", ref, func(rec *facet.Record) (*audit.Event, error) {
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
		if !CanAssign(rec, sub, e.groupResolver(ctx), e.now()) {
			return nil, fmt.Errorf("%w: %s cannot assign %s", facet.ErrForbidden, actor, rec.Ref)
		}

		asg := rec.Assignment
		if asg.Status.Terminal() {
			return nil, fmt.Errorf("%w: cannot add assignees to a %s record", facet.ErrInvalidTransition, asg.Status)
		}
		if asg.IsAssignedTo(target) {
			return nil, fmt.Errorf("%w: %s is already assigned to %s", facet.ErrConflict, target, rec.Ref)
		}
		before := asg.Clone()
		asg.Assignees = append(asg.Assignees, target)
		if asg.Status == facet.StatusUnassigned {
			asg.Status = facet.StatusAssigned
			asg.AssignedBy = actor
			asg.AssignedAt = e.now()
		}

		if err := e.store.SaveRecord(ctx, rec); err != nil {
			return nil, err
		}
		return e.emit(ctx, facet.KindAssignment, rec.Ref, "add_assignee", actor, before, asg, reason, "")
	})
}

// Reassign swaps the assignee set without restarting in-flight work: status,
// deadline and priority stay as they are. Handing Unassigned work to someone
// moves it to Assigned.
func (e *Engine) Reassign(ctx context.Context, ref facet.RecordRef, actor facet.UserRef, users []facet.UserRef, reason string) (*audit.Event, error) {
	return e.mutateRecord(ctx, facet.KindAssignment, "reassign", ref, func(rec *facet.Record) (*audit.Event, error) {
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
		if !CanAssign(rec, sub, e.groupResolver(ctx), e.now()) {
			return nil, fmt.Errorf("%w: %s cannot assign %s", facet.ErrForbidden, actor, rec.Ref)
		}

		asg := rec.Assignment
		if asg.Status.Terminal() {
			return nil, fmt.Errorf("%w: cannot reassign a %s record", facet.ErrInvalidTransition, asg.Status)
		}
		before := asg.Clone()
		asg.Assignees = targets
		asg.AssignedBy = actor
		asg.AssignedAt = e.now()
		if asg.Status == facet.StatusUnassigned {
			asg.Status = facet.StatusAssigned
		}

		if err := e.store.SaveRecord(ctx, rec); err != nil {
			return nil, err
		}
		extra := assignmentChange(before.Assignees, targets)
		return e.emit(ctx, facet.KindAssignment, rec.Ref, "reassign", actor, before, asg, reason, extra)
	})
}

// RemoveAssignee removes one user; removing the last assignee moves the
// machine back to Unassigned.
func (e *Engine) RemoveAssignee(ctx context.Context, ref facet.RecordRef, actor, user facet.UserRef, reason string) (*audit.Event, error) {
	return e.mutateRecord(ctx, facet.KindAssignment, "remove_assignee", ref, func(rec *facet.Record) (*audit.Event, error) {
		if err := e.requireActor(ctx, actor); err != nil {
			return nil, err
		}
		sub, err := e.subject(ctx, actor)
		if err != nil {
			return nil, err
		}
		if !CanAssign(rec, sub, e.groupResolver(ctx), e.now()) {
			return nil, fmt.Errorf("%w: %s cannot assign %s", facet.ErrForbidden, actor, rec.Ref)
		}

		asg := rec.Assignment
		if !asg.IsAssignedTo(user) {
			return nil, fmt.Errorf("%w: %s is not assigned to %s", facet.ErrConflict, user, rec.Ref)
		}
		before := asg.Clone()
		asg.Assignees = removeAssignee(asg.Assignees, user)
		if len(asg.Assignees) == 0 {
			asg.Status = facet.StatusUnassigned
		}

		if err := e.store.SaveRecord(ctx, rec); err != nil {
			return nil, err
		}
		return e.emit(ctx, facet.KindAssignment, rec.Ref, "remove_assignee", actor, before, asg, reason, "")
	})
}

// UnassignAll clears the assignee set and forces Unassigned.
func (e *Engine) UnassignAll(ctx context.Context, ref facet.RecordRef, actor facet.UserRef, reason string) (*audit.Event, error) {
	return e.mutateRecord(ctx, facet.KindAssignment, "unassign_all", ref, func(rec *facet.Record) (*audit.Event, error) {
		if err := e.requireActor(ctx, actor); err != nil {
			return nil, err
		}
		sub, err := e.subject(ctx, actor)
		if err != nil {
			return nil, err
		}
		if !CanAssign(rec, sub, e.groupResolver(ctx), e.now()) {
			return nil, fmt.Errorf("%w: %s cannot assign %s", facet.ErrForbidden, actor, rec.Ref)
		}

		asg := rec.Assignment
		if asg.Status.Terminal() {
			return nil, fmt.Errorf("%w: cannot unassign a %s record", facet.ErrInvalidTransition, asg.Status)
		}
		if len(asg.Assignees) == 0 {
			return nil, nil
		}
		before := asg.Clone()
		extra := "unassigned: " + joinUsers(asg.Assignees)
		asg.Assignees = nil
		asg.Status = facet.StatusUnassigned

		if err := e.store.SaveRecord(ctx, rec); err != nil {
			return nil, err
		}
		return e.emit(ctx, facet.KindAssignment, rec.Ref, "unassign_all", actor, before, asg, reason, extra)
	})
}

// StartAssignment moves Assigned work to InProgress. Only an assignee or a
// privileged actor may start it.
func (e *Engine) StartAssignment(ctx context.Context, ref facet.RecordRef, actor facet.UserRef, reason string) (*audit.Event, error) {
	return e.transition(ctx, ref, actor, "start", reason, func(asg *facet.AssignmentState) error {
		if !asg.CanStart() {
			return fmt.Errorf("%w: cannot start from %s", facet.ErrInvalidTransition, asg.Status)
		}
		asg.Status = facet.StatusInProgress
		return nil
	})
}

// CompleteAssignment moves InProgress work to Completed. Completing straight
// from Assigned is an invalid transition.
func (e *Engine) CompleteAssignment(ctx context.Context, ref facet.RecordRef, actor facet.UserRef, reason string) (*audit.Event, error) {
	return e.transition(ctx, ref, actor, "complete", reason, func(asg *facet.AssignmentState) error {
		if !asg.CanComplete() {
			return fmt.Errorf("%w: cannot complete from %s", facet.ErrInvalidTransition, asg.Status)
		}
		asg.Status = facet.StatusCompleted
		return nil
	})
}

// CancelAssignment cancels from any state except Completed, keeping the
// assignee set for the trail.
func (e *Engine) CancelAssignment(ctx context.Context, ref facet.RecordRef, actor facet.UserRef, reason string) (*audit.Event, error) {
	return e.mutateRecord(ctx, facet.KindAssignment, "cancel", ref, func(rec *facet.Record) (*audit.Event, error) {
		if err := e.requireActor(ctx, actor); err != nil {
			return nil, err
		}
		sub, err := e.subject(ctx, actor)
		if err != nil {
			return nil, err
		}
		if !CanAssign(rec, sub, e.groupResolver(ctx), e.now()) {
			return nil, fmt.Errorf("%w: %s cannot cancel the assignment of %s", facet.ErrForbidden, actor, rec.Ref)
		}
		asg := rec.Assignment
		if !asg.CanCancel() {
			return nil, fmt.Errorf("%w: cannot cancel from %s", facet.ErrInvalidTransition, asg.Status)
		}
		before := asg.Clone()
		asg.Status = facet.StatusCancelled

		if err := e.store.SaveRecord(ctx, rec); err != nil {
			return nil, err
		}
		return e.emit(ctx, facet.KindAssignment, rec.Ref, "cancel", actor, before, asg, reason, "")
	})
}

// transition runs a pure status transition that an assignee or privileged
// actor may perform.
func (e *Engine) transition(ctx context.Context, ref facet.RecordRef, actor facet.UserRef, action, reason string, step func(*facet.AssignmentState) error) (*audit.Event, error) {
	return e.mutateRecord(ctx, facet.KindAssignment, action, ref, func(rec *facet.Record) (*audit.Event, error) {
		if err := e.requireActor(ctx, actor); err != nil {
			return nil, err
		}
		sub, err := e.subject(ctx, actor)
		if err != nil {
			return nil, err
		}
		asg := rec.Assignment
		if !sub.Privileged && !asg.IsAssignedTo(actor) {
			return nil, fmt.Errorf("%w: %s is not assigned to %s", facet.ErrForbidden, actor, rec.Ref)
		}
		before := asg.Clone()
		if err := step(asg); err != nil {
			return nil, err
		}
		if err := e.store.SaveRecord(ctx, rec); err != nil {
			return nil, err
		}
		return e.emit(ctx, facet.KindAssignment, rec.Ref, action, actor, before, asg, reason, "")
	})
}

func removeAssignee(users []facet.UserRef, u facet.UserRef) []facet.UserRef {
	out := users[:0]
	for _, v := range users {
		if v != u {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func assignmentChange(old, updated []facet.UserRef) string {
	switch {
	case len(old) == 0 && len(updated) == 0:
		return ""
	case len(old) == 0:
		return "new: " + joinUsers(updated)
	case len(updated) == 0:
		return "previous: " + joinUsers(old)
	default:
		return "previous: " + joinUsers(old) + " | new: " + joinUsers(updated)
	}
}
