package engine

import (
	"context"
	"fmt"
	"time"

	"facetkit.org/internal/facet"
)

// Subject is a user with its identity-provider answers resolved, so the
// predicates below stay pure functions of state plus now.
type Subject struct {
	User       facet.UserRef
	Known      bool
	Privileged bool
	Groups     map[facet.GroupRef]struct{}
}

// InGroup reports whether the subject belongs to the system group.
func (s Subject) InGroup(g facet.GroupRef) bool {
	_, ok := s.Groups[g]
	return ok
}

// GroupResolver looks up a custom group by id; nil means unknown. Resolvers
// read snapshots, never mutate.
type GroupResolver func(id string) *facet.CustomGroup

// HasAccess implements the visibility precedence. Ownership and privilege
// override the access policy entirely: the owner, co-owners and privileged
// actors always pass, whatever the level or window says. Everyone else is
// gated by the record-wide window first, then the level cascade.
//
// A record without the Access facet evaluates as level Internal.
func HasAccess(rec *facet.Record, sub Subject, groups GroupResolver, now time.Time) bool {
	if sub.Privileged {
		return true
	}
	if rec.Ownership != nil && rec.Ownership.IsOwnedBy(sub.User) {
		return true
	}
	acc := rec.Access
	if acc == nil {
		return sub.Known
	}
	if !acc.InWindow(now) {
		return false
	}
	switch acc.Level {
	case facet.LevelPublic:
		return true
	case facet.LevelInternal:
		return sub.Known
	case facet.LevelRestricted:
		if g, ok := acc.GrantFor(sub.User); ok && g.ActiveAt(now) {
			return true
		}
		for _, gr := range acc.Groups {
			if sub.InGroup(gr) {
				return true
			}
		}
		return inActiveCustomGroup(acc, sub.User, groups, now)
	case facet.LevelPrivate:
		// System groups are deliberately excluded at this level.
		if g, ok := acc.GrantFor(sub.User); ok && g.ActiveAt(now) {
			return true
		}
		return inActiveCustomGroup(acc, sub.User, groups, now)
	}
	return false
}

func inActiveCustomGroup(acc *facet.AccessState, user facet.UserRef, groups GroupResolver, now time.Time) bool {
	if groups == nil {
		return false
	}
	for _, id := range acc.CustomGroups {
		g := groups(id)
		if g != nil && g.ActiveAt(now) && g.HasMember(user) {
			return true
		}
	}
	return false
}

// CanTransferOwnership: the owner or a privileged actor. Co-owners share
// access, not the right to hand the record over.
func CanTransferOwnership(rec *facet.Record, sub Subject) bool {
	if sub.Privileged {
		return true
	}
	return rec.Ownership != nil && rec.Ownership.Owner == sub.User && sub.User != ""
}

// CanManageCoOwners: the owner, an existing co-owner, or privileged.
func CanManageCoOwners(rec *facet.Record, sub Subject) bool {
	if sub.Privileged {
		return true
	}
	return rec.Ownership != nil && rec.Ownership.IsOwnedBy(sub.User)
}

// CanAssign: owner, co-owner, current assignee, anyone with access, or
// privileged. An assignee may assign others — that enables delegation chains
// and is intentional.
func CanAssign(rec *facet.Record, sub Subject, groups GroupResolver, now time.Time) bool {
	if sub.Privileged {
		return true
	}
	if rec.Ownership != nil && rec.Ownership.IsOwnedBy(sub.User) {
		return true
	}
	if rec.Assignment != nil && rec.Assignment.IsAssignedTo(sub.User) {
		return true
	}
	return HasAccess(rec, sub, groups, now)
}

// CanGrantAccess: owner, co-owner, or privileged — independent of HasAccess,
// so mere visibility cannot escalate into the right to grant it.
func CanGrantAccess(rec *facet.Record, sub Subject) bool {
	if sub.Privileged {
		return true
	}
	return rec.Ownership != nil && rec.Ownership.IsOwnedBy(sub.User)
}

// CanDelegateResponsibility: anyone currently responsible (primary or
// secondary), the owner, or privileged.
func CanDelegateResponsibility(rec *facet.Record, sub Subject) bool {
	if sub.Privileged {
		return true
	}
	if rec.Responsibility != nil && rec.Responsibility.IsResponsible(sub.User) {
		return true
	}
	return rec.Ownership != nil && rec.Ownership.Owner == sub.User && sub.User != ""
}

// subject resolves the identity-provider answers for a user once per
// evaluation.
func (e *Engine) subject(ctx context.Context, user facet.UserRef) (Subject, error) {
	sub := Subject{User: user}
	if user == "" {
		return sub, nil
	}
	known, err := e.idp.Exists(ctx, user)
	if err != nil {
		return sub, fmt.Errorf("identity lookup for %s: %w", user, err)
	}
	sub.Known = known
	if !known {
		return sub, nil
	}
	priv, err := e.idp.IsPrivileged(ctx, user)
	if err != nil {
		return sub, fmt.Errorf("identity lookup for %s: %w", user, err)
	}
	sub.Privileged = priv
	groups, err := e.idp.GroupsOf(ctx, user)
	if err != nil {
		return sub, fmt.Errorf("identity lookup for %s: %w", user, err)
	}
	if len(groups) > 0 {
		sub.Groups = make(map[facet.GroupRef]struct{}, len(groups))
		for _, g := range groups {
			sub.Groups[g] = struct{}{}
		}
	}
	return sub, nil
}

// groupResolver reads custom groups from the store; lookups that fail
// resolve to nil (no access through that group).
func (e *Engine) groupResolver(ctx context.Context) GroupResolver {
	return func(id string) *facet.CustomGroup {
		g, err := e.store.GetGroup(ctx, id)
		if err != nil {
			return nil
		}
		return g
	}
}

// Permissions is the full predicate set for one (record, user) pair, served
// to the UI layer in one query.
type Permissions struct {
	HasAccess                 bool `json:"has_access"`
	IsOwner                   bool `json:"is_owner"`
	IsOwnedByMe               bool `json:"is_owned_by_me"`
	IsAssignedToMe            bool `json:"is_assigned_to_me"`
	CanAssign                 bool `json:"can_assign"`
	CanGrantAccess            bool `json:"can_grant_access"`
	CanTransferOwnership      bool `json:"can_transfer_ownership"`
	CanManageCoOwners         bool `json:"can_manage_co_owners"`
	CanDelegateResponsibility bool `json:"can_delegate_responsibility"`
}

// EvaluatePermissions computes every predicate against one snapshot.
func (e *Engine) EvaluatePermissions(ctx context.Context, ref facet.RecordRef, user facet.UserRef) (Permissions, error) {
	rec, err := e.store.GetRecord(ctx, ref)
	if err != nil {
		return Permissions{}, err
	}
	sub, err := e.subject(ctx, user)
	if err != nil {
		return Permissions{}, err
	}
	groups := e.groupResolver(ctx)
	now := e.now()
	return Permissions{
		HasAccess:                 HasAccess(rec, sub, groups, now),
		IsOwner:                   rec.Ownership != nil && rec.Ownership.Owner == user && user != "",
		IsOwnedByMe:               rec.Ownership != nil && rec.Ownership.IsOwnedBy(user),
		IsAssignedToMe:            rec.Assignment != nil && rec.Assignment.IsAssignedTo(user),
		CanAssign:                 CanAssign(rec, sub, groups, now),
		CanGrantAccess:            CanGrantAccess(rec, sub),
		CanTransferOwnership:      CanTransferOwnership(rec, sub),
		CanManageCoOwners:         CanManageCoOwners(rec, sub),
		CanDelegateResponsibility: CanDelegateResponsibility(rec, sub),
	}, nil
}

// HasAccess answers whether user can see the record now.
func (e *Engine) HasAccess(ctx context.Context, ref facet.RecordRef, user facet.UserRef) (bool, error) {
	rec, err := e.store.GetRecord(ctx, ref)
	if err != nil {
		return false, err
	}
	sub, err := e.subject(ctx, user)
	if err != nil {
		return false, err
	}
	return HasAccess(rec, sub, e.groupResolver(ctx), e.now()), nil
}

// CanAssign answers the assignment predicate for user.
func (e *Engine) CanAssign(ctx context.Context, ref facet.RecordRef, user facet.UserRef) (bool, error) {
	rec, err := e.store.GetRecord(ctx, ref)
	if err != nil {
		return false, err
	}
	sub, err := e.subject(ctx, user)
	if err != nil {
		return false, err
	}
	return CanAssign(rec, sub, e.groupResolver(ctx), e.now()), nil
}

// CanGrantAccess answers the grant predicate for user.
func (e *Engine) CanGrantAccess(ctx context.Context, ref facet.RecordRef, user facet.UserRef) (bool, error) {
	rec, err := e.store.GetRecord(ctx, ref)
	if err != nil {
		return false, err
	}
	sub, err := e.subject(ctx, user)
	if err != nil {
		return false, err
	}
	return CanGrantAccess(rec, sub), nil
}

// CanTransferOwnership answers the transfer predicate for user.
func (e *Engine) CanTransferOwnership(ctx context.Context, ref facet.RecordRef, user facet.UserRef) (bool, error) {
	rec, err := e.store.GetRecord(ctx, ref)
	if err != nil {
		return false, err
	}
	sub, err := e.subject(ctx, user)
	if err != nil {
		return false, err
	}
	return CanTransferOwnership(rec, sub), nil
}

// CanDelegateResponsibility answers the delegation predicate for user.
func (e *Engine) CanDelegateResponsibility(ctx context.Context, ref facet.RecordRef, user facet.UserRef) (bool, error) {
	rec, err := e.store.GetRecord(ctx, ref)
	if err != nil {
		return false, err
	}
	sub, err := e.subject(ctx, user)
	if err != nil {
		return false, err
	}
	return CanDelegateResponsibility(rec, sub), nil
}

// IsOwnedBy reports whether user owns or co-owns the record.
func (e *Engine) IsOwnedBy(ctx context.Context, ref facet.RecordRef, user facet.UserRef) (bool, error) {
	rec, err := e.store.GetRecord(ctx, ref)
	if err != nil {
		return false, err
	}
	return rec.Ownership != nil && rec.Ownership.IsOwnedBy(user), nil
}

// IsAssignedTo reports whether user is currently assigned.
func (e *Engine) IsAssignedTo(ctx context.Context, ref facet.RecordRef, user facet.UserRef) (bool, error) {
	rec, err := e.store.GetRecord(ctx, ref)
	if err != nil {
		return false, err
	}
	return rec.Assignment != nil && rec.Assignment.IsAssignedTo(user), nil
}

// IsOverdue reports whether the record's assignment deadline has passed.
func (e *Engine) IsOverdue(ctx context.Context, ref facet.RecordRef) (bool, error) {
	rec, err := e.store.GetRecord(ctx, ref)
	if err != nil {
		return false, err
	}
	return rec.Assignment != nil && rec.Assignment.IsOverdue(e.now()), nil
}

// IsResponsibilityActive reports whether anybody currently holds
// responsibility for the record.
func (e *Engine) IsResponsibilityActive(ctx context.Context, ref facet.RecordRef) (bool, error) {
	rec, err := e.store.GetRecord(ctx, ref)
	if err != nil {
		return false, err
	}
	return rec.Responsibility != nil && rec.Responsibility.IsActive(e.now()), nil
}
