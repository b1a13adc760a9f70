package httpapi

import (
	"net/http"
	"strings"
	"time"

	"facetkit.org/internal/audit"
	"facetkit.org/internal/engine"
	"facetkit.org/internal/facet"
)

type createRecordRequest struct {
	Type         string             `json:"type"`
	ID           string             `json:"id"`
	Capabilities facet.Capabilities `json:"capabilities"`
}

// commandRequest is the shared body shape for facet commands; each route
// reads the fields it needs.
type commandRequest struct {
	User        string     `json:"user,omitempty"`
	Users       []string   `json:"users,omitempty"`
	Group       string     `json:"group,omitempty"`
	GroupID     string     `json:"group_id,omitempty"`
	Level       string     `json:"level,omitempty"`
	Priority    string     `json:"priority,omitempty"`
	Secondary   bool       `json:"secondary,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	ValidFrom   *time.Time `json:"valid_from,omitempty"`
	ValidTo     *time.Time `json:"valid_to,omitempty"`
	Start       *time.Time `json:"start,omitempty"`
	End         *time.Time `json:"end,omitempty"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	Description string     `json:"description,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

func (c commandRequest) userRef() facet.UserRef { return facet.UserRef(strings.TrimSpace(c.User)) }

func (c commandRequest) userRefs() []facet.UserRef {
	if len(c.Users) == 0 && c.User != "" {
		return []facet.UserRef{c.userRef()}
	}
	out := make([]facet.UserRef, 0, len(c.Users))
	for _, u := range c.Users {
		out = append(out, facet.UserRef(u))
	}
	return out
}

func (a *API) handleRecordsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req createRecordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ref := facet.RecordRef{Type: strings.TrimSpace(req.Type), ID: strings.TrimSpace(req.ID)}
	rec, err := a.engine.CreateRecord(r.Context(), ref, req.Capabilities)
	if err != nil {
		handleEngineError(w, err)
		return
	}
	w.Header().Set("Location", "/v1/records/"+ref.Type+"/"+ref.ID)
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) handleRecordResource(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/records/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	ref := facet.RecordRef{Type: parts[0], ID: parts[1]}
	rest := strings.Join(parts[2:], "/")

	if r.Method == http.MethodGet {
		a.recordQuery(w, r, ref, rest)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
		return
	}
	a.recordCommand(w, r, ref, rest)
}

func (a *API) recordQuery(w http.ResponseWriter, r *http.Request, ref facet.RecordRef, rest string) {
	user, ok := actor(w, r)
	if !ok {
		return
	}
	if q := strings.TrimSpace(r.URL.Query().Get("user")); q != "" {
		user = facet.UserRef(q)
	}

	switch rest {
	case "":
		rec, err := a.engine.GetRecord(r.Context(), ref)
		if err != nil {
			handleEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case "permissions":
		perms, err := a.engine.EvaluatePermissions(r.Context(), ref, user)
		if err != nil {
			handleEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, perms)
	case "access":
		ok, err := a.engine.HasAccess(r.Context(), ref, user)
		if err != nil {
			handleEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"has_access": ok})
	case "overdue":
		overdue, err := a.engine.IsOverdue(r.Context(), ref)
		if err != nil {
			handleEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"overdue": overdue})
	case "responsibility-active":
		active, err := a.engine.IsResponsibilityActive(r.Context(), ref)
		if err != nil {
			handleEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"active": active})
	default:
		writeError(w, http.StatusNotFound, "resource not found")
	}
}

func (a *API) recordCommand(w http.ResponseWriter, r *http.Request, ref facet.RecordRef, rest string) {
	act, ok := actor(w, r)
	if !ok {
		return
	}
	var req commandRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()

	var ev *audit.Event
	var err error
	switch rest {
	// ownership
	case "ownership/transfer":
		ev, err = a.engine.TransferOwnership(ctx, ref, act, req.userRef(), req.Reason)
	case "ownership/release":
		ev, err = a.engine.ReleaseOwnership(ctx, ref, act, req.Reason)
	case "ownership/claim":
		ev, err = a.engine.ClaimOwnership(ctx, ref, act, req.Reason)
	case "ownership/co-owners/add":
		if len(req.Users) > 0 {
			ev, err = a.engine.AddCoOwners(ctx, ref, act, req.userRefs(), req.Reason)
		} else {
			ev, err = a.engine.AddCoOwner(ctx, ref, act, req.userRef(), req.Reason)
		}
	case "ownership/co-owners/remove":
		ev, err = a.engine.RemoveCoOwner(ctx, ref, act, req.userRef(), req.Reason)
	case "ownership/co-owners/clear":
		ev, err = a.engine.RemoveAllCoOwners(ctx, ref, act, req.Reason)

	// assignment
	case "assignment/assign":
		var prio facet.AssignmentPriority
		prio, err = facet.ParsePriority(req.Priority)
		if err == nil {
			ev, err = a.engine.Assign(ctx, ref, act, req.userRefs(), engine.AssignOptions{
				Deadline:    req.Deadline,
				Priority:    prio,
				Description: req.Description,
				Reason:      req.Reason,
			})
		}
	case "assignment/reassign":
		ev, err = a.engine.Reassign(ctx, ref, act, req.userRefs(), req.Reason)
	case "assignment/assignees/add":
		ev, err = a.engine.AddAssignee(ctx, ref, act, req.userRef(), req.Reason)
	case "assignment/assignees/remove":
		ev, err = a.engine.RemoveAssignee(ctx, ref, act, req.userRef(), req.Reason)
	case "assignment/unassign":
		ev, err = a.engine.UnassignAll(ctx, ref, act, req.Reason)
	case "assignment/start":
		ev, err = a.engine.StartAssignment(ctx, ref, act, req.Reason)
	case "assignment/complete":
		ev, err = a.engine.CompleteAssignment(ctx, ref, act, req.Reason)
	case "assignment/cancel":
		ev, err = a.engine.CancelAssignment(ctx, ref, act, req.Reason)

	// access
	case "access/grant":
		window := engine.GrantWindow{ValidFrom: req.ValidFrom, ValidTo: req.ValidTo}
		if len(req.Users) > 0 {
			ev, err = a.engine.GrantUsers(ctx, ref, act, req.userRefs(), window, req.Reason)
		} else {
			ev, err = a.engine.GrantUser(ctx, ref, act, req.userRef(), window, req.Reason)
		}
	case "access/revoke":
		if len(req.Users) > 0 {
			ev, err = a.engine.RevokeUsers(ctx, ref, act, req.userRefs(), req.Reason)
		} else {
			ev, err = a.engine.RevokeUser(ctx, ref, act, req.userRef(), req.Reason)
		}
	case "access/groups/grant":
		ev, err = a.engine.GrantGroup(ctx, ref, act, facet.GroupRef(req.Group), req.Reason)
	case "access/groups/revoke":
		ev, err = a.engine.RevokeGroup(ctx, ref, act, facet.GroupRef(req.Group), req.Reason)
	case "access/custom-groups/grant":
		ev, err = a.engine.GrantCustomGroup(ctx, ref, act, req.GroupID, req.Reason)
	case "access/custom-groups/revoke":
		ev, err = a.engine.RevokeCustomGroup(ctx, ref, act, req.GroupID, req.Reason)
	case "access/level":
		ev, err = a.engine.SetAccessLevel(ctx, ref, act, facet.AccessLevel(req.Level), req.Reason)
	case "access/window":
		ev, err = a.engine.SetAccessWindow(ctx, ref, act, req.Start, req.End, req.Reason)

	// responsibility
	case "responsibility/assign":
		ev, err = a.engine.AssignResponsibility(ctx, ref, act, req.userRefs(), engine.ResponsibilityOptions{
			Secondary:   req.Secondary,
			EndsAt:      req.EndsAt,
			Description: req.Description,
			Reason:      req.Reason,
		})
	case "responsibility/delegate":
		ev, err = a.engine.DelegateResponsibility(ctx, ref, act, req.userRef(), req.Reason)
	case "responsibility/transfer":
		ev, err = a.engine.TransferResponsibility(ctx, ref, act, req.userRef(), req.Reason)
	case "responsibility/secondary":
		ev, err = a.engine.DelegateSecondary(ctx, ref, act, req.userRefs(), req.Reason)
	case "responsibility/add":
		ev, err = a.engine.AddResponsible(ctx, ref, act, req.userRef(), req.Secondary, req.Reason)
	case "responsibility/remove":
		ev, err = a.engine.RemoveResponsible(ctx, ref, act, req.userRef(), req.Reason)
	case "responsibility/escalate":
		ev, err = a.engine.EscalateResponsibility(ctx, ref, act, req.userRef(), req.Reason)
	case "responsibility/revoke-all":
		ev, err = a.engine.RevokeAllResponsibility(ctx, ref, act, req.Reason)

	default:
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}

	if err != nil {
		handleEngineError(w, err)
		return
	}
	if ev == nil {
		// No-op command: nothing changed, nothing recorded.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}
