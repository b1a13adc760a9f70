package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"facetkit.org/internal/audit"
	"facetkit.org/internal/engine"
	"facetkit.org/internal/facet"
	"facetkit.org/internal/identity"
	"facetkit.org/internal/stream"
)

func newTestAPI(t *testing.T) (*API, *identity.StaticProvider) {
	t.Helper()
	t.Setenv("FACETKIT_AUTH_SECRET", "test-secret")
	identity.ResetSecretForTests()
	t.Cleanup(identity.ResetSecretForTests)

	idp := identity.NewStaticProvider().
		AddUser("alice").
		AddUser("bob", "eng")
	idp.AddPrivileged("admin")

	eng, err := engine.New(engine.NewMemoryStore(), audit.NewMemoryLog(), idp, engine.WithStream(stream.New()))
	if err != nil {
		t.Fatal(err)
	}
	return New(eng, ReadyProbe{}, "test", WithStream(stream.New()), WithTokenIssuing()), idp
}

func bearerFor(t *testing.T, user string, privileged bool) string {
	t.Helper()
	token, err := identity.GenerateToken(facet.UserRef(user), nil, privileged, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + token
}

func doJSON(t *testing.T, h http.Handler, method, path, auth, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthAndInfoArePublic(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	if rr := doJSON(t, h, http.MethodGet, "/healthz", "", ""); rr.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rr.Code)
	}
	if rr := doJSON(t, h, http.MethodGet, "/v1/info", "", ""); rr.Code != http.StatusOK {
		t.Fatalf("info = %d", rr.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	rr := doJSON(t, h, http.MethodPost, "/v1/records", "", `{"type":"doc","id":"1","capabilities":{"ownable":true}}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated command = %d", rr.Code)
	}
	rr = doJSON(t, h, http.MethodPost, "/v1/records", "Bearer garbage", `{}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad token = %d", rr.Code)
	}
}

func TestTokenEndpoint(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	rr := doJSON(t, h, http.MethodPost, "/v1/auth/token", "", `{"user":"alice"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("token issue = %d: %s", rr.Code, rr.Body)
	}
	var resp tokenResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Token == "" {
		t.Fatal("empty token")
	}
}

func TestRecordLifecycleOverHTTP(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()
	auth := bearerFor(t, "alice", false)

	rr := doJSON(t, h, http.MethodPost, "/v1/records", auth,
		`{"type":"doc","id":"1","capabilities":{"ownable":true,"accessible":true}}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", rr.Code, rr.Body)
	}

	rr = doJSON(t, h, http.MethodPost, "/v1/records/doc/1/ownership/claim", auth, `{"reason":"bootstrap"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("claim = %d: %s", rr.Code, rr.Body)
	}
	var ev audit.Event
	if err := json.Unmarshal(rr.Body.Bytes(), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Action != "claim" || ev.Actor != "alice" {
		t.Fatalf("claim event: %+v", ev)
	}

	rr = doJSON(t, h, http.MethodGet, "/v1/records/doc/1/permissions", auth, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("permissions = %d", rr.Code)
	}
	var perms engine.Permissions
	if err := json.Unmarshal(rr.Body.Bytes(), &perms); err != nil {
		t.Fatal(err)
	}
	if !perms.IsOwner || !perms.CanGrantAccess {
		t.Fatalf("permissions: %+v", perms)
	}
}

func TestErrorTaxonomyMapping(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()
	alice := bearerFor(t, "alice", false)
	bob := bearerFor(t, "bob", false)

	doJSON(t, h, http.MethodPost, "/v1/records", alice,
		`{"type":"doc","id":"1","capabilities":{"ownable":true}}`)
	doJSON(t, h, http.MethodPost, "/v1/records/doc/1/ownership/claim", alice, `{}`)

	// Forbidden: bob is not the owner.
	rr := doJSON(t, h, http.MethodPost, "/v1/records/doc/1/ownership/transfer", bob, `{"user":"bob"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("forbidden = %d: %s", rr.Code, rr.Body)
	}
	// Conflict: double claim.
	rr = doJSON(t, h, http.MethodPost, "/v1/records/doc/1/ownership/claim", bob, `{}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("conflict = %d: %s", rr.Code, rr.Body)
	}
	// Not found: unknown record.
	rr = doJSON(t, h, http.MethodGet, "/v1/records/doc/404", alice, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("not found = %d", rr.Code)
	}
	// Bad request: malformed body.
	rr = doJSON(t, h, http.MethodPost, "/v1/records/doc/1/ownership/transfer", alice, `{"bogus":true}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad request = %d: %s", rr.Code, rr.Body)
	}
	// Unknown command path.
	rr = doJSON(t, h, http.MethodPost, "/v1/records/doc/1/ownership/explode", alice, `{}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown command = %d", rr.Code)
	}
}

func TestResponsibilityRoutes(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()
	auth := bearerFor(t, "alice", false)

	doJSON(t, h, http.MethodPost, "/v1/records", auth,
		`{"type":"doc","id":"1","capabilities":{"ownable":true,"responsible":true}}`)
	doJSON(t, h, http.MethodPost, "/v1/records/doc/1/ownership/claim", auth, `{}`)

	rr := doJSON(t, h, http.MethodGet, "/v1/records/doc/1/responsibility-active", auth, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("responsibility-active = %d: %s", rr.Code, rr.Body)
	}
	var resp map[string]bool
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["active"] {
		t.Fatal("active before anyone is responsible")
	}

	rr = doJSON(t, h, http.MethodPost, "/v1/records/doc/1/responsibility/assign", auth, `{"users":["bob"]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("assign responsibility = %d: %s", rr.Code, rr.Body)
	}
	// Single-user body works for the replacement route too.
	rr = doJSON(t, h, http.MethodPost, "/v1/records/doc/1/responsibility/secondary", auth, `{"user":"bob"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("delegate secondary = %d: %s", rr.Code, rr.Body)
	}

	rr = doJSON(t, h, http.MethodGet, "/v1/records/doc/1/responsibility-active", auth, "")
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp["active"] {
		t.Fatal("not active after assignment")
	}
}

func TestGroupRoutes(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()
	auth := bearerFor(t, "alice", false)

	rr := doJSON(t, h, http.MethodPost, "/v1/groups", auth, `{"name":"oncall","members":["bob"]}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create group = %d: %s", rr.Code, rr.Body)
	}
	var g facet.CustomGroup
	if err := json.Unmarshal(rr.Body.Bytes(), &g); err != nil {
		t.Fatal(err)
	}

	rr = doJSON(t, h, http.MethodPost, "/v1/groups/"+g.ID+"/deactivate", auth, `{"reason":"done"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("deactivate = %d: %s", rr.Code, rr.Body)
	}
	rr = doJSON(t, h, http.MethodGet, "/v1/groups/"+g.ID, auth, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get group = %d", rr.Code)
	}
}

func TestAuditQueryRoute(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()
	auth := bearerFor(t, "alice", false)

	doJSON(t, h, http.MethodPost, "/v1/records", auth,
		`{"type":"doc","id":"1","capabilities":{"ownable":true}}`)
	doJSON(t, h, http.MethodPost, "/v1/records/doc/1/ownership/claim", auth, `{}`)

	rr := doJSON(t, h, http.MethodGet, "/v1/audit?record_type=doc&record_id=1", auth, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("audit query = %d: %s", rr.Code, rr.Body)
	}
	var resp struct {
		Items []audit.Event `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Action != "claim" {
		t.Fatalf("audit items: %+v", resp.Items)
	}

	rr = doJSON(t, h, http.MethodGet, "/v1/audit?facet=bogus", auth, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad facet filter = %d", rr.Code)
	}
}

func TestAuditPurgeRoute(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()
	alice := bearerFor(t, "alice", false)
	admin := bearerFor(t, "admin", true)

	doJSON(t, h, http.MethodPost, "/v1/records", alice,
		`{"type":"doc","id":"1","capabilities":{"ownable":true}}`)
	doJSON(t, h, http.MethodPost, "/v1/records/doc/1/ownership/claim", alice, `{}`)

	body := `{"before":"` + time.Now().UTC().Add(time.Minute).Format(time.RFC3339) + `"}`
	rr := doJSON(t, h, http.MethodPost, "/v1/audit/purge", alice, body)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("unprivileged purge = %d: %s", rr.Code, rr.Body)
	}
	rr = doJSON(t, h, http.MethodPost, "/v1/audit/purge", admin, body)
	if rr.Code != http.StatusOK {
		t.Fatalf("purge = %d: %s", rr.Code, rr.Body)
	}
}
