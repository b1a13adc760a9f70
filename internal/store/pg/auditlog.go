package pg

import (
	"context"
	"time"

	"facetkit.org/internal/audit"
	"facetkit.org/internal/facet"
)

// Append inserts one event. The primary key makes duplicate appends an error,
// which the engine never produces under normal flow.
func (s *Store) Append(ctx context.Context, e audit.Event) error {
	if err := audit.Validate(e); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_events(id, facet, record_type, record_id, action, actor, before, after, reason, extra_info, at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, e.ID, string(e.Facet), e.Record.Type, e.Record.ID, e.Action, string(e.Actor),
		nullableJSON(e.Before), nullableJSON(e.After), e.Reason, e.ExtraInfo, e.At)
	return err
}

// Query filters server-side where it can and orders by timestamp ascending.
func (s *Store) Query(ctx context.Context, f audit.Filter) ([]audit.Event, error) {
	q := `
		select id, facet, record_type, record_id, action, actor,
		       coalesce(before,'null'), coalesce(after,'null'), reason, extra_info, at
		from audit_events
		where ($1 = '' or facet = $1)
		  and ($2 = '' or record_type = $2)
		  and ($3 = '' or record_id = $3)
		  and ($4 = '' or actor = $4)
		  and ($5::timestamptz is null or at >= $5)
		  and ($6::timestamptz is null or at <= $6)
		order by at asc, id asc
	`
	rows, err := s.db.QueryContext(ctx, q,
		string(f.Facet), f.Record.Type, f.Record.ID, string(f.Actor),
		nullableTime(f.From), nullableTime(f.To))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var e audit.Event
		var kind, actor string
		var before, after []byte
		if err := rows.Scan(&e.ID, &kind, &e.Record.Type, &e.Record.ID, &e.Action, &actor,
			&before, &after, &e.Reason, &e.ExtraInfo, &e.At); err != nil {
			return nil, err
		}
		e.Facet = facet.Kind(kind)
		e.Actor = facet.UserRef(actor)
		if string(before) != "null" {
			e.Before = before
		}
		if string(after) != "null" {
			e.After = after
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Purge drops events older than before and reports how many went.
func (s *Store) Purge(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `delete from audit_events where at < $1`, before)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
