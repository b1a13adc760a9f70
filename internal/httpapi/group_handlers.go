package httpapi

import (
	"net/http"
	"strings"
	"time"

	"facetkit.org/internal/audit"
	"facetkit.org/internal/facet"
)

type createGroupRequest struct {
	Name      string     `json:"name"`
	Members   []string   `json:"members,omitempty"`
	Managers  []string   `json:"managers,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type groupMembersRequest struct {
	Users  []string `json:"users"`
	Reason string   `json:"reason,omitempty"`
}

func (a *API) handleGroupsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createGroup(w, r)
	case http.MethodGet:
		groups, err := a.engine.ListCustomGroups(r.Context())
		if err != nil {
			handleEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": groups})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (a *API) createGroup(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}
	var req createGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	g, err := a.engine.CreateCustomGroup(r.Context(), act, req.Name,
		toUserRefs(req.Members), toUserRefs(req.Managers), req.ExpiresAt)
	if err != nil {
		handleEngineError(w, err)
		return
	}
	w.Header().Set("Location", "/v1/groups/"+g.ID)
	writeJSON(w, http.StatusCreated, g)
}

func (a *API) handleGroupResource(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/groups/"), "/")
	if parts[0] == "" {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	id := parts[0]
	rest := strings.Join(parts[1:], "/")

	if r.Method == http.MethodGet && rest == "" {
		g, err := a.engine.GetCustomGroup(r.Context(), id)
		if err != nil {
			handleEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, g)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
		return
	}

	act, ok := actor(w, r)
	if !ok {
		return
	}
	var req groupMembersRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var ev *audit.Event
	var err error
	switch rest {
	case "members/add":
		ev, err = a.engine.AddGroupMembers(r.Context(), act, id, toUserRefs(req.Users), req.Reason)
	case "members/remove":
		ev, err = a.engine.RemoveGroupMembers(r.Context(), act, id, toUserRefs(req.Users), req.Reason)
	case "deactivate":
		ev, err = a.engine.DeactivateCustomGroup(r.Context(), act, id, req.Reason)
	case "reactivate":
		ev, err = a.engine.ReactivateCustomGroup(r.Context(), act, id, req.Reason)
	default:
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	if err != nil {
		handleEngineError(w, err)
		return
	}
	if ev == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func toUserRefs(users []string) []facet.UserRef {
	out := make([]facet.UserRef, 0, len(users))
	for _, u := range users {
		out = append(out, facet.UserRef(u))
	}
	return out
}
