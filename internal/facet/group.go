package facet

import "time"

// CustomGroup is an ad-hoc, record-independent collection of users usable as
// an access grant target. Distinct from identity-provider system groups:
// membership lives in the engine and is mutated through its own lock space.
type CustomGroup struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Members   []UserRef  `json:"members,omitempty"`
	Managers  []UserRef  `json:"managers,omitempty"`
	Active    bool       `json:"active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedBy UserRef    `json:"created_by,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ActiveAt reports whether the group grants access at the given instant.
// Deactivation is a soft delete; expiry is derived, never a mutation.
func (g *CustomGroup) ActiveAt(now time.Time) bool {
	if !g.Active {
		return false
	}
	return g.ExpiresAt == nil || !now.After(*g.ExpiresAt)
}

// HasMember reports whether u is a member.
func (g *CustomGroup) HasMember(u UserRef) bool { return ContainsUser(g.Members, u) }

// HasManager reports whether u may mutate membership.
func (g *CustomGroup) HasManager(u UserRef) bool { return ContainsUser(g.Managers, u) }

// AddMembers appends the users not already present; returns how many joined.
func (g *CustomGroup) AddMembers(users []UserRef) int {
	added := 0
	for _, u := range DedupeUsers(users) {
		if !ContainsUser(g.Members, u) {
			g.Members = append(g.Members, u)
			added++
		}
	}
	return added
}

// RemoveMembers drops the given users; returns how many left.
func (g *CustomGroup) RemoveMembers(users []UserRef) int {
	removed := 0
	for _, u := range DedupeUsers(users) {
		if ContainsUser(g.Members, u) {
			g.Members = removeUser(g.Members, u)
			removed++
		}
	}
	return removed
}

// Clone returns an independent copy for snapshotting.
func (g *CustomGroup) Clone() *CustomGroup {
	if g == nil {
		return nil
	}
	out := *g
	out.Members = append([]UserRef(nil), g.Members...)
	out.Managers = append([]UserRef(nil), g.Managers...)
	if g.ExpiresAt != nil {
		t := *g.ExpiresAt
		out.ExpiresAt = &t
	}
	return &out
}
