// Package audit is the append-only, per-facet event store. It depends on no
// other engine component; authorization for purge lives with the caller.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"facetkit.org/internal/facet"
	"facetkit.org/internal/obs"
)

// Event records one successful state change. Before/After hold snapshot
// fragments of the touched facet state. Events are immutable once appended;
// only an explicit retention purge removes them.
type Event struct {
	ID        string          `json:"id"`
	Facet     facet.Kind      `json:"facet"`
	Record    facet.RecordRef `json:"record"`
	Action    string          `json:"action"`
	Actor     facet.UserRef   `json:"actor"`
	Before    json.RawMessage `json:"before,omitempty"`
	After     json.RawMessage `json:"after,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	ExtraInfo string          `json:"extra_info,omitempty"`
	At        time.Time       `json:"at"`
}

// Filter narrows a query. Zero-value fields match everything.
type Filter struct {
	Facet  facet.Kind
	Record facet.RecordRef
	Actor  facet.UserRef
	From   time.Time
	To     time.Time
}

// Matches reports whether e passes the filter.
func (f Filter) Matches(e Event) bool {
	if f.Facet != "" && e.Facet != f.Facet {
		return false
	}
	if !f.Record.IsZero() && e.Record != f.Record {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if !f.From.IsZero() && e.At.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.At.After(f.To) {
		return false
	}
	return true
}

// Log is the event store contract. Append is the only mutator in normal
// command flow; Query re-executes from scratch on every call and returns
// events ordered by timestamp ascending.
type Log interface {
	Append(ctx context.Context, e Event) error
	Query(ctx context.Context, f Filter) ([]Event, error)
	// Purge removes events older than before and returns how many were
	// dropped. Retention only; never part of command flow.
	Purge(ctx context.Context, before time.Time) (int, error)
}

// Validate rejects events missing required fields before they reach a store.
func Validate(e Event) error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("%w: event id is required", facet.ErrInvalidArgument)
	}
	if e.Facet == "" {
		return fmt.Errorf("%w: event facet is required", facet.ErrInvalidArgument)
	}
	if e.Record.IsZero() {
		return fmt.Errorf("%w: event record is required", facet.ErrInvalidArgument)
	}
	if strings.TrimSpace(e.Action) == "" {
		return fmt.Errorf("%w: event action is required", facet.ErrInvalidArgument)
	}
	if e.Actor == "" {
		return fmt.Errorf("%w: event actor is required", facet.ErrInvalidArgument)
	}
	if e.At.IsZero() {
		return fmt.Errorf("%w: event timestamp is required", facet.ErrInvalidArgument)
	}
	return nil
}

// LogLine emits the event as one structured JSON log line.
func LogLine(e Event) {
	entry := map[string]any{
		"ts":     e.At.UTC().Format(time.RFC3339Nano),
		"facet":  string(e.Facet),
		"record": e.Record.String(),
		"action": e.Action,
		"actor":  string(e.Actor),
	}
	if e.Reason != "" {
		entry["reason"] = e.Reason
	}
	obs.Emit("audit", entry)
}
