package facet

import "time"

// ResponsibilityState tracks accountable parties. Primary holds the
// accountable set, Secondary the backup set.
//
// An expired responsibility keeps its user sets: expiry is a derived
// predicate so the audit trail stays accurate about who held responsibility
// when. Nothing clears state on a timer.
type ResponsibilityState struct {
	Primary     []UserRef  `json:"primary,omitempty"`
	Secondary   []UserRef  `json:"secondary,omitempty"`
	DelegatedBy UserRef    `json:"delegated_by,omitempty"`
	StartedAt   time.Time  `json:"started_at,omitempty"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	Description string     `json:"description,omitempty"`
}

// IsResponsible reports whether u is in the primary or secondary set.
func (s *ResponsibilityState) IsResponsible(u UserRef) bool {
	if u == "" {
		return false
	}
	return ContainsUser(s.Primary, u) || ContainsUser(s.Secondary, u)
}

// IsActive reports whether anybody is responsible and the end date, if any,
// has not passed.
func (s *ResponsibilityState) IsActive(now time.Time) bool {
	if len(s.Primary) == 0 && len(s.Secondary) == 0 {
		return false
	}
	return s.EndsAt == nil || !now.After(*s.EndsAt)
}

// IsExpired reports whether the end date has passed.
func (s *ResponsibilityState) IsExpired(now time.Time) bool {
	return s.EndsAt != nil && now.After(*s.EndsAt)
}

// Clear empties both sets; reports whether anything changed.
func (s *ResponsibilityState) Clear() bool {
	if len(s.Primary) == 0 && len(s.Secondary) == 0 {
		return false
	}
	s.Primary = nil
	s.Secondary = nil
	return true
}

// Clone returns an independent copy for snapshotting.
func (s *ResponsibilityState) Clone() *ResponsibilityState {
	if s == nil {
		return nil
	}
	out := *s
	out.Primary = append([]UserRef(nil), s.Primary...)
	out.Secondary = append([]UserRef(nil), s.Secondary...)
	if s.EndsAt != nil {
		t := *s.EndsAt
		out.EndsAt = &t
	}
	return &out
}
