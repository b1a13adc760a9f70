// Package sqlite is a single-file audit log for deployments that want a
// durable trail without running Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"facetkit.org/internal/audit"
	"facetkit.org/internal/facet"
)

type AuditLog struct {
	db *sql.DB
}

var _ audit.Log = (*AuditLog)(nil)

// Open opens or creates the database file and bootstraps the schema. The
// single connection serialises writers; sqlite does not want more.
func Open(path string) (*AuditLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	l := &AuditLog{db: db}
	if err := l.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *AuditLog) Close() error { return l.db.Close() }

func (l *AuditLog) ensureSchema(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		create table if not exists audit_events (
			id          text primary key,
			facet       text not null,
			record_type text not null,
			record_id   text not null,
			action      text not null,
			actor       text not null,
			before      text,
			after       text,
			reason      text not null default '',
			extra_info  text not null default '',
			at          text not null
		);
		create index if not exists audit_events_at_idx on audit_events(at);
	`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (l *AuditLog) Append(ctx context.Context, e audit.Event) error {
	if err := audit.Validate(e); err != nil {
		return err
	}
	var before, after any
	if len(e.Before) > 0 {
		before = string(e.Before)
	}
	if len(e.After) > 0 {
		after = string(e.After)
	}
	_, err := l.db.ExecContext(ctx, `
		insert into audit_events(id, facet, record_type, record_id, action, actor, before, after, reason, extra_info, at)
		values (?,?,?,?,?,?,?,?,?,?,?)
	`, e.ID, string(e.Facet), e.Record.Type, e.Record.ID, e.Action, string(e.Actor),
		before, after, e.Reason, e.ExtraInfo, e.At.UTC().Format(time.RFC3339Nano))
	return err
}

func (l *AuditLog) Query(ctx context.Context, f audit.Filter) ([]audit.Event, error) {
	rows, err := l.db.QueryContext(ctx, `
		select id, facet, record_type, record_id, action, actor,
		       coalesce(before,''), coalesce(after,''), reason, extra_info, at
		from audit_events
		order by at asc, id asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var e audit.Event
		var kind, actor, before, after, at string
		if err := rows.Scan(&e.ID, &kind, &e.Record.Type, &e.Record.ID, &e.Action, &actor,
			&before, &after, &e.Reason, &e.ExtraInfo, &at); err != nil {
			return nil, err
		}
		e.Facet = facet.Kind(kind)
		e.Actor = facet.UserRef(actor)
		if before != "" {
			e.Before = []byte(before)
		}
		if after != "" {
			e.After = []byte(after)
		}
		ts, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("corrupt timestamp %q: %w", at, err)
		}
		e.At = ts
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	return out, rows.Err()
}

func (l *AuditLog) Purge(ctx context.Context, before time.Time) (int, error) {
	res, err := l.db.ExecContext(ctx, `delete from audit_events where at < ?`,
		before.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
