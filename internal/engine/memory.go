package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"facetkit.org/internal/facet"
)

// MemoryStore is the in-memory Store. Every read hands out a deep copy and
// every write stores one, so callers can never alias internal state.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[facet.RecordRef]*facet.Record
	groups  map[string]*facet.CustomGroup
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[facet.RecordRef]*facet.Record),
		groups:  make(map[string]*facet.CustomGroup),
	}
}

// CreateRecord inserts a new record; an existing reference is a conflict.
func (m *MemoryStore) CreateRecord(_ context.Context, rec *facet.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.Ref]; ok {
		return fmt.Errorf("%w: record %s already exists", facet.ErrConflict, rec.Ref)
	}
	m.records[rec.Ref] = rec.Clone()
	return nil
}

// GetRecord returns a deep copy of the record.
func (m *MemoryStore) GetRecord(_ context.Context, ref facet.RecordRef) (*facet.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[ref]
	if !ok {
		return nil, fmt.Errorf("%w: record %s", facet.ErrNotFound, ref)
	}
	return rec.Clone(), nil
}

// SaveRecord overwrites the stored record.
func (m *MemoryStore) SaveRecord(_ context.Context, rec *facet.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.Ref]; !ok {
		return fmt.Errorf("%w: record %s", facet.ErrNotFound, rec.Ref)
	}
	m.records[rec.Ref] = rec.Clone()
	return nil
}

// CreateGroup inserts a new custom group; an existing id is a conflict.
func (m *MemoryStore) CreateGroup(_ context.Context, g *facet.CustomGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[g.ID]; ok {
		return fmt.Errorf("%w: group %s already exists", facet.ErrConflict, g.ID)
	}
	m.groups[g.ID] = g.Clone()
	return nil
}

// GetGroup returns a deep copy of the group.
func (m *MemoryStore) GetGroup(_ context.Context, id string) (*facet.CustomGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, fmt.Errorf("%w: group %s", facet.ErrNotFound, id)
	}
	return g.Clone(), nil
}

// SaveGroup overwrites the stored group.
func (m *MemoryStore) SaveGroup(_ context.Context, g *facet.CustomGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[g.ID]; !ok {
		return fmt.Errorf("%w: group %s", facet.ErrNotFound, g.ID)
	}
	m.groups[g.ID] = g.Clone()
	return nil
}

// ListGroups returns copies of every group, ordered by id for stable output.
func (m *MemoryStore) ListGroups(_ context.Context) ([]*facet.CustomGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*facet.CustomGroup, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, g.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
