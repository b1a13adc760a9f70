package facet

import (
	"fmt"
	"strings"
)

// UserRef identifies a user at the external identity provider. The engine
// never resolves it beyond the Provider contract.
type UserRef string

// GroupRef identifies a system group at the identity provider.
type GroupRef string

// RecordRef identifies a business record: an opaque id plus a type tag.
type RecordRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (r RecordRef) String() string { return r.Type + "/" + r.ID }

// IsZero reports whether the reference is empty.
func (r RecordRef) IsZero() bool {
	return strings.TrimSpace(r.Type) == "" || strings.TrimSpace(r.ID) == ""
}

// Kind names one of the four facets. It keys audit events and storage rows.
type Kind string

const (
	KindOwnership      Kind = "ownership"
	KindAssignment     Kind = "assignment"
	KindAccess         Kind = "access"
	KindResponsibility Kind = "responsibility"
)

// ParseKind maps the wire name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindOwnership:
		return KindOwnership, nil
	case KindAssignment:
		return KindAssignment, nil
	case KindAccess:
		return KindAccess, nil
	case KindResponsibility:
		return KindResponsibility, nil
	}
	return "", fmt.Errorf("%w: unknown facet %q", ErrInvalidArgument, s)
}

// Capabilities is the set of facets attached to a record. The set is fixed
// when the record is created and never changes shape afterwards.
type Capabilities struct {
	Ownable     bool `json:"ownable"`
	Assignable  bool `json:"assignable"`
	Accessible  bool `json:"accessible"`
	Responsible bool `json:"responsible"`
}

// Has reports whether the capability for the given facet kind is present.
func (c Capabilities) Has(k Kind) bool {
	switch k {
	case KindOwnership:
		return c.Ownable
	case KindAssignment:
		return c.Assignable
	case KindAccess:
		return c.Accessible
	case KindResponsibility:
		return c.Responsible
	}
	return false
}

// None reports whether no capability is set.
func (c Capabilities) None() bool {
	return !c.Ownable && !c.Assignable && !c.Accessible && !c.Responsible
}

// DedupeUsers trims, drops blanks and removes duplicates preserving order.
func DedupeUsers(users []UserRef) []UserRef {
	if len(users) == 0 {
		return nil
	}
	seen := make(map[UserRef]struct{}, len(users))
	out := make([]UserRef, 0, len(users))
	for _, u := range users {
		u = UserRef(strings.TrimSpace(string(u)))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// ContainsUser reports whether users includes u.
func ContainsUser(users []UserRef, u UserRef) bool {
	for _, v := range users {
		if v == u {
			return true
		}
	}
	return false
}

func removeUser(users []UserRef, u UserRef) []UserRef {
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
