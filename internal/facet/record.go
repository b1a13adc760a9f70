package facet

import (
	"fmt"
	"time"
)

// Record binds zero or more facets to a business entity. Which facets are
// present is decided at creation and never changes; only data within the
// attached facets changes.
type Record struct {
	Ref            RecordRef            `json:"ref"`
	Capabilities   Capabilities         `json:"capabilities"`
	Ownership      *OwnershipState      `json:"ownership,omitempty"`
	Assignment     *AssignmentState     `json:"assignment,omitempty"`
	Access         *AccessState         `json:"access,omitempty"`
	Responsibility *ResponsibilityState `json:"responsibility,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
}

// NewRecord constructs a record with empty state for each requested facet.
func NewRecord(ref RecordRef, caps Capabilities, now time.Time) (*Record, error) {
	if ref.IsZero() {
		return nil, fmt.Errorf("%w: record type and id are required", ErrInvalidArgument)
	}
	if caps.None() {
		return nil, fmt.Errorf("%w: at least one capability is required", ErrInvalidArgument)
	}
	r := &Record{Ref: ref, Capabilities: caps, CreatedAt: now}
	if caps.Ownable {
		r.Ownership = &OwnershipState{}
	}
	if caps.Assignable {
		r.Assignment = NewAssignmentState()
	}
	if caps.Accessible {
		r.Access = NewAccessState()
	}
	if caps.Responsible {
		r.Responsibility = &ResponsibilityState{}
	}
	return r, nil
}

// Clone returns a deep copy so queries can read without holding locks.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Ownership = r.Ownership.Clone()
	out.Assignment = r.Assignment.Clone()
	out.Access = r.Access.Clone()
	out.Responsibility = r.Responsibility.Clone()
	return &out
}
