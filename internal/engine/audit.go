package engine

import (
	"context"
	"fmt"
	"time"

	"facetkit.org/internal/audit"
	"facetkit.org/internal/facet"
)

// AuditTrail queries the event store. Ordering is timestamp ascending.
func (e *Engine) AuditTrail(ctx context.Context, f audit.Filter) ([]audit.Event, error) {
	return e.log.Query(ctx, f)
}

// PurgeAudit drops events older than before. Retention is a privileged-only
// operation; nothing in normal command flow ever removes events.
func (e *Engine) PurgeAudit(ctx context.Context, actor facet.UserRef, before time.Time) (int, error) {
	if err := e.requireActor(ctx, actor); err != nil {
		return 0, err
	}
	priv, err := e.idp.IsPrivileged(ctx, actor)
	if err != nil {
		return 0, fmt.Errorf("identity lookup for %s: %w", actor, err)
	}
	if !priv {
		return 0, fmt.Errorf("%w: %s cannot purge the audit trail", facet.ErrForbidden, actor)
	}
	return e.log.Purge(ctx, before)
}
