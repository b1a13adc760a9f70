package facet

import "time"

// OwnershipState tracks the owner and co-owners of a record.
//
// PreviousOwner is set by transfer and release only. A claim leaves it as it
// was before the preceding release, so the audit trail still names the last
// real owner.
type OwnershipState struct {
	Owner          UserRef   `json:"owner,omitempty"`
	CoOwners       []UserRef `json:"co_owners,omitempty"`
	PreviousOwner  UserRef   `json:"previous_owner,omitempty"`
	OwnershipSince time.Time `json:"ownership_since,omitempty"`
}

// IsOwned reports whether the record has an owner or any co-owner.
func (s *OwnershipState) IsOwned() bool {
	return s.Owner != "" || len(s.CoOwners) > 0
}

// IsOwnedBy reports whether u is the owner or a co-owner.
func (s *OwnershipState) IsOwnedBy(u UserRef) bool {
	if u == "" {
		return false
	}
	return s.Owner == u || ContainsUser(s.CoOwners, u)
}

// AddCoOwner appends u to the co-owner set; reports whether it was added.
// The owner may also appear as a co-owner (a former owner keeping a share),
// duplicates are rejected.
func (s *OwnershipState) AddCoOwner(u UserRef) bool {
	if u == "" || ContainsUser(s.CoOwners, u) {
		return false
	}
	s.CoOwners = append(s.CoOwners, u)
	return true
}

// RemoveCoOwner removes u from the co-owner set; reports whether it was present.
func (s *OwnershipState) RemoveCoOwner(u UserRef) bool {
	if !ContainsUser(s.CoOwners, u) {
		return false
	}
	s.CoOwners = removeUser(s.CoOwners, u)
	return true
}

// Clone returns an independent copy for snapshotting.
func (s *OwnershipState) Clone() *OwnershipState {
	if s == nil {
		return nil
	}
	out := *s
	out.CoOwners = append([]UserRef(nil), s.CoOwners...)
	return &out
}
