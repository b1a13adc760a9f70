package facet

import (
	"fmt"
	"strings"
	"time"
)

// AccessLevel is the four-tier visibility policy. Levels are evaluated
// top-to-bottom; grants below Restricted are additive.
type AccessLevel string

const (
	// LevelPublic grants every user, including ones the identity provider
	// does not know.
	LevelPublic AccessLevel = "public"
	// LevelInternal grants every user known to the identity provider.
	LevelInternal AccessLevel = "internal"
	// LevelRestricted grants explicit users, system groups and active
	// custom groups.
	LevelRestricted AccessLevel = "restricted"
	// LevelPrivate grants explicit users and active custom groups only;
	// system groups are deliberately excluded at this level.
	LevelPrivate AccessLevel = "private"
)

// ParseLevel maps the wire name to an AccessLevel.
func ParseLevel(s string) (AccessLevel, error) {
	switch AccessLevel(strings.ToLower(strings.TrimSpace(s))) {
	case LevelPublic:
		return LevelPublic, nil
	case LevelInternal:
		return LevelInternal, nil
	case LevelRestricted:
		return LevelRestricted, nil
	case LevelPrivate:
		return LevelPrivate, nil
	}
	return "", fmt.Errorf("%w: unknown access level %q", ErrInvalidArgument, s)
}

// UserGrant is an explicit per-user grant with an optional validity window.
// Expired grants stay in state (soft expiry) so the trail shows who held
// access when; ActiveAt treats them as absent.
type UserGrant struct {
	User      UserRef    `json:"user"`
	ValidFrom *time.Time `json:"valid_from,omitempty"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`
}

// ActiveAt reports whether the grant applies at the given instant.
func (g UserGrant) ActiveAt(now time.Time) bool {
	if g.ValidFrom != nil && now.Before(*g.ValidFrom) {
		return false
	}
	if g.ValidTo != nil && now.After(*g.ValidTo) {
		return false
	}
	return true
}

// AccessState holds the visibility policy of one record.
type AccessState struct {
	Level        AccessLevel `json:"level"`
	Users        []UserGrant `json:"users,omitempty"`
	Groups       []GroupRef  `json:"groups,omitempty"`
	CustomGroups []string    `json:"custom_groups,omitempty"`
	// WindowStart/WindowEnd gate the whole evaluation independent of
	// per-user windows. Outside the window only owners, co-owners and
	// privileged actors pass.
	WindowStart *time.Time `json:"window_start,omitempty"`
	WindowEnd   *time.Time `json:"window_end,omitempty"`
}

// NewAccessState returns the default policy, matching the level a record
// without the Access facet evaluates as.
func NewAccessState() *AccessState {
	return &AccessState{Level: LevelInternal}
}

// InWindow reports whether the record-wide window admits evaluation now.
func (s *AccessState) InWindow(now time.Time) bool {
	if s.WindowStart != nil && now.Before(*s.WindowStart) {
		return false
	}
	if s.WindowEnd != nil && now.After(*s.WindowEnd) {
		return false
	}
	return true
}

// GrantFor returns the explicit grant for u, if any.
func (s *AccessState) GrantFor(u UserRef) (UserGrant, bool) {
	for _, g := range s.Users {
		if g.User == u {
			return g, true
		}
	}
	return UserGrant{}, false
}

// Grant adds or replaces the explicit grant for g.User.
func (s *AccessState) Grant(g UserGrant) {
	for i, old := range s.Users {
		if old.User == g.User {
			s.Users[i] = g
			return
		}
	}
	s.Users = append(s.Users, g)
}

// Revoke removes the explicit grant for u; reports whether one was present.
func (s *AccessState) Revoke(u UserRef) bool {
	for i, g := range s.Users {
		if g.User == u {
			s.Users = append(s.Users[:i], s.Users[i+1:]...)
			if len(s.Users) == 0 {
				s.Users = nil
			}
			return true
		}
	}
	return false
}

// HasGroup reports whether ref is in the allowed system groups.
func (s *AccessState) HasGroup(ref GroupRef) bool {
	for _, g := range s.Groups {
		if g == ref {
			return true
		}
	}
	return false
}

// AddGroup appends ref; reports whether it was added.
func (s *AccessState) AddGroup(ref GroupRef) bool {
	if ref == "" || s.HasGroup(ref) {
		return false
	}
	s.Groups = append(s.Groups, ref)
	return true
}

// RemoveGroup removes ref; reports whether it was present.
func (s *AccessState) RemoveGroup(ref GroupRef) bool {
	for i, g := range s.Groups {
		if g == ref {
			s.Groups = append(s.Groups[:i], s.Groups[i+1:]...)
			if len(s.Groups) == 0 {
				s.Groups = nil
			}
			return true
		}
	}
	return false
}

// HasCustomGroup reports whether the custom group id is attached.
func (s *AccessState) HasCustomGroup(id string) bool {
	for _, g := range s.CustomGroups {
		if g == id {
			return true
		}
	}
	return false
}

// AddCustomGroup attaches a custom group id; reports whether it was added.
func (s *AccessState) AddCustomGroup(id string) bool {
	if id == "" || s.HasCustomGroup(id) {
		return false
	}
	s.CustomGroups = append(s.CustomGroups, id)
	return true
}

// RemoveCustomGroup detaches a custom group id; reports whether it was present.
func (s *AccessState) RemoveCustomGroup(id string) bool {
	for i, g := range s.CustomGroups {
		if g == id {
			s.CustomGroups = append(s.CustomGroups[:i], s.CustomGroups[i+1:]...)
			if len(s.CustomGroups) == 0 {
				s.CustomGroups = nil
			}
			return true
		}
	}
	return false
}

// Clone returns an independent copy for snapshotting.
func (s *AccessState) Clone() *AccessState {
	if s == nil {
		return nil
	}
	out := *s
	out.Users = append([]UserGrant(nil), s.Users...)
	out.Groups = append([]GroupRef(nil), s.Groups...)
	out.CustomGroups = append([]string(nil), s.CustomGroups...)
	if s.WindowStart != nil {
		t := *s.WindowStart
		out.WindowStart = &t
	}
	if s.WindowEnd != nil {
		t := *s.WindowEnd
		out.WindowEnd = &t
	}
	return &out
}
