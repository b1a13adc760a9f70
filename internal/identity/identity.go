// Package identity models the external identity provider. The engine
// consumes user identities, group memberships and the privileged predicate;
// it never manages the directory itself.
package identity

import (
	"context"
	"sort"
	"strings"
	"sync"

	"facetkit.org/internal/facet"
)

// Provider is the contract the engine requires from the identity provider.
// Lookups may cross the network; callers bound them with the context.
type Provider interface {
	// IsPrivileged reports whether the user bypasses ordinary facet
	// permission checks.
	IsPrivileged(ctx context.Context, user facet.UserRef) (bool, error)
	// GroupsOf returns the system groups the user belongs to.
	GroupsOf(ctx context.Context, user facet.UserRef) ([]facet.GroupRef, error)
	// Exists reports whether the provider knows the user. Unknown users
	// are external: they only pass Public access.
	Exists(ctx context.Context, user facet.UserRef) (bool, error)
}

// StaticProvider is an in-memory Provider for tests and single-node setups.
type StaticProvider struct {
	mu    sync.RWMutex
	users map[facet.UserRef]*staticUser
}

type staticUser struct {
	groups     map[facet.GroupRef]struct{}
	privileged bool
}

var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider creates an empty provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{users: make(map[facet.UserRef]*staticUser)}
}

// AddUser registers a user with its groups; repeat calls merge groups.
func (p *StaticProvider) AddUser(user facet.UserRef, groups ...facet.GroupRef) *StaticProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	u := p.users[user]
	if u == nil {
		u = &staticUser{groups: make(map[facet.GroupRef]struct{})}
		p.users[user] = u
	}
	for _, g := range groups {
		if strings.TrimSpace(string(g)) != "" {
			u.groups[g] = struct{}{}
		}
	}
	return p
}

// AddPrivileged registers a user with the privileged flag set.
func (p *StaticProvider) AddPrivileged(user facet.UserRef, groups ...facet.GroupRef) *StaticProvider {
	p.AddUser(user, groups...)
	p.mu.Lock()
	p.users[user].privileged = true
	p.mu.Unlock()
	return p
}

func (p *StaticProvider) IsPrivileged(ctx context.Context, user facet.UserRef) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.users[user]
	return ok && u.privileged, nil
}

func (p *StaticProvider) GroupsOf(ctx context.Context, user facet.UserRef) ([]facet.GroupRef, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.users[user]
	if !ok {
		return nil, nil
	}
	out := make([]facet.GroupRef, 0, len(u.groups))
	for g := range u.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (p *StaticProvider) Exists(ctx context.Context, user facet.UserRef) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.users[user]
	return ok, nil
}
