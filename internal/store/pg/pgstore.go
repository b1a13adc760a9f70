// Package pg is the Postgres store. Facet state and custom groups are stored
// as JSONB snapshots; only the engine interprets them, so the schema stays a
// thin durable mirror of the in-memory shapes.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"facetkit.org/internal/audit"
	"facetkit.org/internal/engine"
	"facetkit.org/internal/facet"
)

type Store struct {
	db *sql.DB
}

var (
	_ engine.Store = (*Store)(nil)
	_ audit.Log    = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewFromDB wraps an existing handle; the sqlmock seam for tests.
func NewFromDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// EnsureSchema bootstraps the tables. Idempotent; safe to run on every start.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`create table if not exists records (
			record_type text not null,
			record_id   text not null,
			capabilities jsonb not null,
			created_at  timestamptz not null,
			primary key (record_type, record_id)
		)`,
		`create table if not exists record_facets (
			record_type text not null,
			record_id   text not null,
			facet       text not null,
			state       jsonb not null,
			updated_at  timestamptz not null default now(),
			primary key (record_type, record_id, facet),
			foreign key (record_type, record_id) references records(record_type, record_id) on delete cascade
		)`,
		`create table if not exists custom_groups (
			id         text primary key,
			state      jsonb not null,
			updated_at timestamptz not null default now()
		)`,
		`create table if not exists audit_events (
			id         text primary key,
			facet      text not null,
			record_type text not null,
			record_id  text not null,
			action     text not null,
			actor      text not null,
			before     jsonb,
			after      jsonb,
			reason     text not null default '',
			extra_info text not null default '',
			at         timestamptz not null
		)`,
		`create index if not exists audit_events_record_idx on audit_events(record_type, record_id, at)`,
		`create index if not exists audit_events_at_idx on audit_events(at)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) CreateRecord(ctx context.Context, rec *facet.Record) error {
	caps, err := json.Marshal(rec.Capabilities)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		insert into records(record_type, record_id, capabilities, created_at)
		values ($1,$2,$3,$4) on conflict do nothing
	`, rec.Ref.Type, rec.Ref.ID, caps, rec.CreatedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: record %s already exists", facet.ErrConflict, rec.Ref)
	}
	if err := saveFacets(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetRecord(ctx context.Context, ref facet.RecordRef) (*facet.Record, error) {
	var caps []byte
	var created time.Time
	err := s.db.QueryRowContext(ctx, `
		select capabilities, created_at from records where record_type=$1 and record_id=$2
	`, ref.Type, ref.ID).Scan(&caps, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: record %s", facet.ErrNotFound, ref)
	}
	if err != nil {
		return nil, err
	}
	rec := &facet.Record{Ref: ref, CreatedAt: created}
	if err := json.Unmarshal(caps, &rec.Capabilities); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		select facet, state from record_facets where record_type=$1 and record_id=$2
	`, ref.Type, ref.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var state []byte
		if err := rows.Scan(&kind, &state); err != nil {
			return nil, err
		}
		if err := loadFacet(rec, facet.Kind(kind), state); err != nil {
			return nil, err
		}
	}
	return rec, rows.Err()
}

func (s *Store) SaveRecord(ctx context.Context, rec *facet.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var dummy int
	err = tx.QueryRowContext(ctx, `
		select 1 from records where record_type=$1 and record_id=$2 for update
	`, rec.Ref.Type, rec.Ref.ID).Scan(&dummy)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: record %s", facet.ErrNotFound, rec.Ref)
	}
	if err != nil {
		return err
	}
	if err := saveFacets(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit()
}

func saveFacets(ctx context.Context, tx *sql.Tx, rec *facet.Record) error {
	for kind, state := range facetStates(rec) {
		if state == nil {
			continue
		}
		data, err := json.Marshal(state)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into record_facets(record_type, record_id, facet, state, updated_at)
			values ($1,$2,$3,$4,now())
			on conflict (record_type, record_id, facet) do update
			set state = excluded.state, updated_at = now()
		`, rec.Ref.Type, rec.Ref.ID, string(kind), data); err != nil {
			return err
		}
	}
	return nil
}

func facetStates(rec *facet.Record) map[facet.Kind]any {
	out := make(map[facet.Kind]any, 4)
	if rec.Ownership != nil {
		out[facet.KindOwnership] = rec.Ownership
	}
	if rec.Assignment != nil {
		out[facet.KindAssignment] = rec.Assignment
	}
	if rec.Access != nil {
		out[facet.KindAccess] = rec.Access
	}
	if rec.Responsibility != nil {
		out[facet.KindResponsibility] = rec.Responsibility
	}
	return out
}

func loadFacet(rec *facet.Record, kind facet.Kind, state []byte) error {
	switch kind {
	case facet.KindOwnership:
		rec.Ownership = &facet.OwnershipState{}
		return json.Unmarshal(state, rec.Ownership)
	case facet.KindAssignment:
		rec.Assignment = &facet.AssignmentState{}
		return json.Unmarshal(state, rec.Assignment)
	case facet.KindAccess:
		rec.Access = &facet.AccessState{}
		return json.Unmarshal(state, rec.Access)
	case facet.KindResponsibility:
		rec.Responsibility = &facet.ResponsibilityState{}
		return json.Unmarshal(state, rec.Responsibility)
	}
	return fmt.Errorf("unknown facet %q in store", kind)
}

func (s *Store) CreateGroup(ctx context.Context, g *facet.CustomGroup) error {
	state, err := json.Marshal(g)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		insert into custom_groups(id, state, updated_at) values ($1,$2,now())
		on conflict do nothing
	`, g.ID, state)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: group %s already exists", facet.ErrConflict, g.ID)
	}
	return nil
}

func (s *Store) GetGroup(ctx context.Context, id string) (*facet.CustomGroup, error) {
	var state []byte
	err := s.db.QueryRowContext(ctx, `select state from custom_groups where id=$1`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: group %s", facet.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	g := &facet.CustomGroup{}
	if err := json.Unmarshal(state, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Store) SaveGroup(ctx context.Context, g *facet.CustomGroup) error {
	state, err := json.Marshal(g)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		update custom_groups set state=$2, updated_at=now() where id=$1
	`, g.ID, state)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: group %s", facet.ErrNotFound, g.ID)
	}
	return nil
}

func (s *Store) ListGroups(ctx context.Context) ([]*facet.CustomGroup, error) {
	rows, err := s.db.QueryContext(ctx, `select state from custom_groups order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*facet.CustomGroup
	for rows.Next() {
		var state []byte
		if err := rows.Scan(&state); err != nil {
			return nil, err
		}
		g := &facet.CustomGroup{}
		if err := json.Unmarshal(state, g); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
