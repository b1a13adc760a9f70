package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"facetkit.org/internal/audit"
	"facetkit.org/internal/facet"
)

func (a *API) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if _, ok := actor(w, r); !ok {
		return
	}

	q := r.URL.Query()
	f := audit.Filter{
		Record: facet.RecordRef{
			Type: strings.TrimSpace(q.Get("record_type")),
			ID:   strings.TrimSpace(q.Get("record_id")),
		},
		Actor: facet.UserRef(strings.TrimSpace(q.Get("actor"))),
	}
	if raw := strings.TrimSpace(q.Get("facet")); raw != "" {
		kind, err := facet.ParseKind(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Facet = kind
	}
	var err error
	if f.From, err = parseTimeParam(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "from must be RFC3339")
		return
	}
	if f.To, err = parseTimeParam(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "to must be RFC3339")
		return
	}

	events, err := a.engine.AuditTrail(r.Context(), f)
	if err != nil {
		handleEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": events,
		"as_of": time.Now().UTC(),
	})
}

type purgeRequest struct {
	Before time.Time `json:"before"`
}

func (a *API) handleAuditPurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	act, ok := actor(w, r)
	if !ok {
		return
	}
	var req purgeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Before.IsZero() {
		writeError(w, http.StatusBadRequest, "before is required")
		return
	}
	n, err := a.engine.PurgeAudit(r.Context(), act, req.Before)
	if err != nil {
		handleEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purged": n})
}

// Stream handles Server-Sent Events for the live audit feed.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.stream == nil {
		http.Error(w, "streaming disabled", http.StatusServiceUnavailable)
		return
	}
	if _, ok := actor(w, r); !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.stream.Subscribe(ctx)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for event := range ch {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}

func parseTimeParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
