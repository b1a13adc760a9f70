package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryLog keeps events in process memory with in-process concurrency
// safety. Suitable for tests and single-node deployments without retention
// requirements.
type MemoryLog struct {
	mu     sync.RWMutex
	events []Event
}

var _ Log = (*MemoryLog)(nil)

// NewMemoryLog creates an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Append(ctx context.Context, e Event) error {
	if err := Validate(e); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *MemoryLog) Query(ctx context.Context, f Filter) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Event
	for _, e := range l.events {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	// Appends arrive in commit order already; sort anyway so callers get
	// the documented timestamp-ascending order even with a skewed clock.
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

func (l *MemoryLog) Purge(ctx context.Context, before time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.events[:0]
	purged := 0
	for _, e := range l.events {
		if e.At.Before(before) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	l.events = kept
	return purged, nil
}
