package facet

import (
	"fmt"
	"strings"
	"time"
)

// AssignmentStatus is the state of the assignment machine:
// Unassigned → Assigned → InProgress → Completed, with Cancelled reachable
// from any non-terminal state. Transitions happen only through explicit
// operations, never through field writes.
type AssignmentStatus string

const (
	StatusUnassigned AssignmentStatus = "unassigned"
	StatusAssigned   AssignmentStatus = "assigned"
	StatusInProgress AssignmentStatus = "in_progress"
	StatusCompleted  AssignmentStatus = "completed"
	StatusCancelled  AssignmentStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from the status.
func (s AssignmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// AssignmentPriority orders assignments for the caller; the engine only
// stores it.
type AssignmentPriority string

const (
	PriorityLow    AssignmentPriority = "low"
	PriorityNormal AssignmentPriority = "normal"
	PriorityHigh   AssignmentPriority = "high"
	PriorityUrgent AssignmentPriority = "urgent"
)

// ParsePriority maps the wire name to a priority; empty means normal.
func ParsePriority(s string) (AssignmentPriority, error) {
	switch AssignmentPriority(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return PriorityNormal, nil
	case PriorityLow:
		return PriorityLow, nil
	case PriorityNormal:
		return PriorityNormal, nil
	case PriorityHigh:
		return PriorityHigh, nil
	case PriorityUrgent:
		return PriorityUrgent, nil
	}
	return "", fmt.Errorf("%w: unknown priority %q", ErrInvalidArgument, s)
}

// AssignmentState tracks multi-user task assignment.
//
// Invariant: Status == Unassigned implies Assignees is empty, a non-empty
// assignee set implies a status other than Unassigned, and
// InProgress/Completed imply a non-empty assignee set. Cancel keeps whatever
// assignee set it found so the trail shows whose work was cancelled.
type AssignmentState struct {
	Assignees   []UserRef          `json:"assignees,omitempty"`
	AssignedBy  UserRef            `json:"assigned_by,omitempty"`
	AssignedAt  time.Time          `json:"assigned_at,omitempty"`
	Deadline    *time.Time         `json:"deadline,omitempty"`
	Status      AssignmentStatus   `json:"status"`
	Priority    AssignmentPriority `json:"priority"`
	Description string             `json:"description,omitempty"`
}

// NewAssignmentState returns the initial, unassigned state.
func NewAssignmentState() *AssignmentState {
	return &AssignmentState{Status: StatusUnassigned, Priority: PriorityNormal}
}

// IsAssignedTo reports whether u is currently assigned.
func (s *AssignmentState) IsAssignedTo(u UserRef) bool {
	return u != "" && ContainsUser(s.Assignees, u)
}

// IsOverdue reports whether the deadline has passed while the assignment is
// still live. Computed on read; nothing sweeps deadlines in the background.
func (s *AssignmentState) IsOverdue(now time.Time) bool {
	return s.Deadline != nil && now.After(*s.Deadline) && !s.Status.Terminal()
}

// CanStart reports whether the start transition is legal.
func (s *AssignmentState) CanStart() bool { return s.Status == StatusAssigned }

// CanComplete reports whether the complete transition is legal.
func (s *AssignmentState) CanComplete() bool { return s.Status == StatusInProgress }

// CanCancel reports whether the cancel transition is legal: everywhere
// except Completed.
func (s *AssignmentState) CanCancel() bool { return s.Status != StatusCompleted }

// Clone returns an independent copy for snapshotting.
func (s *AssignmentState) Clone() *AssignmentState {
	if s == nil {
		return nil
	}
	out := *s
	out.Assignees = append([]UserRef(nil), s.Assignees...)
	if s.Deadline != nil {
		d := *s.Deadline
		out.Deadline = &d
	}
	return &out
}
