// Package engine composes the four facet state machines with the permission
// evaluator and the audit trail. It has no threading model of its own: every
// mutation runs under a per-record exclusive lock, queries read consistent
// snapshots lock-free, and expiry is always computed on read.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"facetkit.org/internal/audit"
	"facetkit.org/internal/facet"
	"facetkit.org/internal/identity"
	"facetkit.org/internal/ids"
	"facetkit.org/internal/obs"
	"facetkit.org/internal/stream"
)

// Store persists records and custom groups. Implementations return deep
// copies; the engine mutates its copy and writes it back under the record
// lock, so a Store needs no locking of its own beyond internal consistency.
type Store interface {
	CreateRecord(ctx context.Context, rec *facet.Record) error
	GetRecord(ctx context.Context, ref facet.RecordRef) (*facet.Record, error)
	SaveRecord(ctx context.Context, rec *facet.Record) error

	CreateGroup(ctx context.Context, g *facet.CustomGroup) error
	GetGroup(ctx context.Context, id string) (*facet.CustomGroup, error)
	SaveGroup(ctx context.Context, g *facet.CustomGroup) error
	ListGroups(ctx context.Context) ([]*facet.CustomGroup, error)
}

// Engine is the command/query API over records, facets and audit.
type Engine struct {
	store Store
	log   audit.Log
	idp   identity.Provider
	live  *stream.Stream
	now   func() time.Time

	lockMu sync.Mutex
	locks  map[facet.RecordRef]*sync.Mutex

	groupLockMu sync.Mutex
	groupLocks  map[string]*sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source. Test seam for expiry predicates.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithStream publishes every appended audit event to the given stream.
func WithStream(s *stream.Stream) Option {
	return func(e *Engine) { e.live = s }
}

// New constructs an Engine. Store, audit log and identity provider are all
// required.
func New(store Store, log audit.Log, idp identity.Provider, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("engine: store is required")
	}
	if log == nil {
		return nil, errors.New("engine: audit log is required")
	}
	if idp == nil {
		return nil, errors.New("engine: identity provider is required")
	}
	e := &Engine{
		store:      store,
		log:        log,
		idp:        idp,
		now:        func() time.Time { return time.Now().UTC() },
		locks:      make(map[facet.RecordRef]*sync.Mutex),
		groupLocks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// CreateRecord binds the requested facets to a new record. The capability
// set is fixed here and never changes shape afterwards.
func (e *Engine) CreateRecord(ctx context.Context, ref facet.RecordRef, caps facet.Capabilities) (*facet.Record, error) {
	rec, err := facet.NewRecord(ref, caps, e.now())
	if err != nil {
		return nil, err
	}
	unlock, err := e.lockRecord(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if err := e.store.CreateRecord(ctx, rec); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// GetRecord returns a snapshot of the record.
func (e *Engine) GetRecord(ctx context.Context, ref facet.RecordRef) (*facet.Record, error) {
	return e.store.GetRecord(ctx, ref)
}

// lockRecord serialises mutations per record. Cancellation is honoured
// before the lock is acquired; once a mutation starts applying it runs to
// completion as a unit.
func (e *Engine) lockRecord(ctx context.Context, ref facet.RecordRef) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.lockMu.Lock()
	mu := e.locks[ref]
	if mu == nil {
		mu = &sync.Mutex{}
		e.locks[ref] = mu
	}
	e.lockMu.Unlock()
	mu.Lock()
	return mu.Unlock, nil
}

// lockGroup serialises mutations per custom group. Group locks are a
// separate space from record locks: a group edit never blocks a record's
// facet operations.
func (e *Engine) lockGroup(ctx context.Context, id string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.groupLockMu.Lock()
	mu := e.groupLocks[id]
	if mu == nil {
		mu = &sync.Mutex{}
		e.groupLocks[id] = mu
	}
	e.groupLockMu.Unlock()
	mu.Lock()
	return mu.Unlock, nil
}

// mutateRecord is the shared command shell: count the outcome, serialise on
// the record, load, check the facet is attached, then run the body. The body
// checks its predicate before touching state and fails atomically: no state
// write, no audit event.
func (e *Engine) mutateRecord(ctx context.Context, kind facet.Kind, action string, ref facet.RecordRef, fn func(rec *facet.Record) (*audit.Event, error)) (ev *audit.Event, err error) {
	defer func() { countOutcome(kind, action, err) }()

	unlock, lockErr := e.lockRecord(ctx, ref)
	if lockErr != nil {
		return nil, lockErr
	}
	defer unlock()

	rec, err := e.store.GetRecord(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !rec.Capabilities.Has(kind) {
		return nil, fmt.Errorf("%w: record %s has no %s facet", facet.ErrNotFound, rec.Ref, kind)
	}
	return fn(rec)
}

// emit appends one audit event for a committed mutation, mirrors it to the
// structured log and the live stream.
func (e *Engine) emit(ctx context.Context, kind facet.Kind, ref facet.RecordRef, action string, actor facet.UserRef, before, after any, reason, extra string) (*audit.Event, error) {
	now := e.now()
	ev := audit.Event{
		ID:        ids.NewAt(now),
		Facet:     kind,
		Record:    ref,
		Action:    action,
		Actor:     actor,
		Reason:    strings.TrimSpace(reason),
		ExtraInfo: extra,
		At:        now,
	}
	if before != nil {
		b, err := json.Marshal(before)
		if err != nil {
			return nil, fmt.Errorf("marshal before snapshot: %w", err)
		}
		ev.Before = b
	}
	if after != nil {
		a, err := json.Marshal(after)
		if err != nil {
			return nil, fmt.Errorf("marshal after snapshot: %w", err)
		}
		ev.After = a
	}
	if err := e.log.Append(ctx, ev); err != nil {
		return nil, fmt.Errorf("audit append: %w", err)
	}
	audit.LogLine(ev)
	obs.CountAuditEvent(string(kind))
	if e.live != nil {
		e.live.Publish(ev)
	}
	return &ev, nil
}

func countOutcome(kind facet.Kind, action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		if errors.Is(err, facet.ErrForbidden) {
			obs.CountDenial(string(kind), action)
		}
	}
	obs.CountCommand(string(kind), action, result)
}

// requireActor validates the acting user reference and confirms the identity
// provider knows it.
func (e *Engine) requireActor(ctx context.Context, actor facet.UserRef) error {
	if strings.TrimSpace(string(actor)) == "" {
		return fmt.Errorf("%w: actor is required", facet.ErrInvalidArgument)
	}
	ok, err := e.idp.Exists(ctx, actor)
	if err != nil {
		return fmt.Errorf("identity lookup for %s: %w", actor, err)
	}
	if !ok {
		return fmt.Errorf("%w: unknown actor %s", facet.ErrNotFound, actor)
	}
	return nil
}

// requireUsers validates a non-empty target user list against the identity
// provider.
func (e *Engine) requireUsers(ctx context.Context, users []facet.UserRef) ([]facet.UserRef, error) {
	users = facet.DedupeUsers(users)
	if len(users) == 0 {
		return nil, fmt.Errorf("%w: at least one user is required", facet.ErrInvalidArgument)
	}
	for _, u := range users {
		ok, err := e.idp.Exists(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("identity lookup for %s: %w", u, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: unknown user %s", facet.ErrNotFound, u)
		}
	}
	return users, nil
}

func (e *Engine) requireUser(ctx context.Context, u facet.UserRef) (facet.UserRef, error) {
	users, err := e.requireUsers(ctx, []facet.UserRef{u})
	if err != nil {
		return "", err
	}
	return users[0], nil
}

func joinUsers(users []facet.UserRef) string {
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = string(u)
	}
	return strings.Join(names, ", ")
}
