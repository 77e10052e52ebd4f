package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"extrapl/api/internal/extract"
)

func doJSON(t *testing.T, server *HTTPServer, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = strings.NewReader(string(raw))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	var parsed map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &parsed); err != nil {
			t.Fatalf("parse response %q: %v", rr.Body.String(), err)
		}
	}
	return rr, parsed
}

func TestHealthEndpoint(t *testing.T) {
	app := newTestApp()
	rr, resp := doJSON(t, app.server, http.MethodGet, "/api/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if resp["ok"] != true {
		t.Errorf("expected ok=true, got %v", resp["ok"])
	}
}

func TestReadyEndpointDatabaseFailure(t *testing.T) {
	app := newTestApp()
	app.fs.pingErr = errors.New("connection refused")
	rr, resp := doJSON(t, app.server, http.MethodGet, "/api/ready", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if resp["status"] != "not_ready" {
		t.Errorf("expected not_ready, got %v", resp["status"])
	}
}

func TestOptionsRequestShortCircuits(t *testing.T) {
	app := newTestApp()
	rr, _ := doJSON(t, app.server, http.MethodOptions, "/api/projects", "", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for OPTIONS, got %d", rr.Code)
	}
	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("expected CORS origin=*, got %q", origin)
	}
}

func TestLoginIssuesSession(t *testing.T) {
	app := newTestApp()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"ada@acme.test","password":"hunter2hunter2"}`))
	req.Header.Set("X-Org-Subdomain", "acme")
	rr := httptest.NewRecorder()
	app.server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp["accessToken"] == "" || resp["refreshToken"] == "" {
		t.Fatal("expected token pair in response")
	}
	if resp["orgId"] != "org-1" || resp["role"] != "admin" {
		t.Errorf("unexpected session payload: %v", resp)
	}
}

func TestLoginUnknownSubdomainRejected(t *testing.T) {
	app := newTestApp()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"ada@acme.test","password":"hunter2hunter2"}`))
	req.Header.Set("X-Org-Subdomain", "ghost")
	rr := httptest.NewRecorder()
	app.server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	app := newTestApp()
	sess := app.login("user-1")

	rr, resp := doJSON(t, app.server, http.MethodPost, "/api/session/refresh", "",
		map[string]string{"refreshToken": sess.RefreshToken})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if resp["refreshToken"] == sess.RefreshToken {
		t.Error("refresh token was not rotated")
	}

	// old token is gone after rotation
	rr, _ = doJSON(t, app.server, http.MethodPost, "/api/session/refresh", "",
		map[string]string{"refreshToken": sess.RefreshToken})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on replayed refresh, got %d", rr.Code)
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	app := newTestApp()
	sess := app.login("user-1")

	rr, _ := doJSON(t, app.server, http.MethodPost, "/api/session/logout", sess.Token,
		map[string]string{"refreshToken": sess.RefreshToken})
	if rr.Code != http.StatusOK {
		t.Fatalf("logout failed: %d", rr.Code)
	}

	rr, _ = doJSON(t, app.server, http.MethodGet, "/api/projects", sess.Token, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rr.Code)
	}
}

func TestMissingTokenUnauthorized(t *testing.T) {
	app := newTestApp()
	rr, _ := doJSON(t, app.server, http.MethodGet, "/api/projects", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestViewerCannotCreateProject(t *testing.T) {
	app := newTestApp()
	sess := app.login("user-2")
	rr, resp := doJSON(t, app.server, http.MethodPost, "/api/projects", sess.Token,
		map[string]string{"name": "New"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if resp["code"] != "FORBIDDEN" {
		t.Errorf("expected FORBIDDEN, got %v", resp["code"])
	}
}

func TestCreateAndListProjects(t *testing.T) {
	app := newTestApp()
	sess := app.login("user-1")

	rr, resp := doJSON(t, app.server, http.MethodPost, "/api/projects", sess.Token,
		map[string]string{"name": "Receipts", "description": "expense receipts"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if resp["name"] != "Receipts" {
		t.Errorf("unexpected payload: %v", resp)
	}

	rr, resp = doJSON(t, app.server, http.MethodGet, "/api/projects", sess.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	projects := resp["projects"].([]any)
	if len(projects) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(projects))
	}
}

func TestCrossOrgProjectHidden(t *testing.T) {
	app := newTestApp()
	sess := app.login("user-1")
	rr, _ := doJSON(t, app.server, http.MethodGet, "/api/projects/proj-2", sess.Token, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign project, got %d", rr.Code)
	}
}

func TestCrossOrgValidationHidden(t *testing.T) {
	app := newTestApp()
	sess := app.login("user-1")
	rr, _ := doJSON(t, app.server, http.MethodPut, "/api/validations/fv-2", sess.Token,
		map[string]string{"status": "verified", "value": "x"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign validation, got %d", rr.Code)
	}
	if app.fs.validations["fv-2"].ValidationStatus != "pending" {
		t.Error("foreign validation was modified")
	}
}

func TestUpdateValidation(t *testing.T) {
	app := newTestApp()
	sess := app.login("user-1")
	rr, resp := doJSON(t, app.server, http.MethodPut, "/api/validations/fv-1", sess.Token,
		map[string]string{"status": "verified", "value": "INV-001"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if resp["status"] != "verified" {
		t.Errorf("unexpected payload: %v", resp)
	}
	fv := app.fs.validations["fv-1"]
	if fv.ValidationStatus != "verified" || fv.ExtractedValue != "INV-001" {
		t.Errorf("validation not updated: %+v", fv)
	}
}

func TestUpdateValidationBadStatus(t *testing.T) {
	app := newTestApp()
	sess := app.login("user-1")
	rr, _ := doJSON(t, app.server, http.MethodPut, "/api/validations/fv-1", sess.Token,
		map[string]string{"status": "maybe"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
}

func TestExtractColumnMissingAnchorsConflict(t *testing.T) {
	app := newTestApp()
	app.engine.result = extract.ColumnResult{MissingAnchors: []string{"ghost-1"}}
	app.engine.err = extract.ErrMissingAnchors
	sess := app.login("user-1")

	rr, resp := doJSON(t, app.server, http.MethodPost, "/api/sessions/sess-1/extract-column", sess.Token,
		map[string]any{"valueId": "val-1", "previousData": []map[string]any{{"identifierId": "ghost-1"}}})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
	if resp["code"] != "MISSING_ANCHOR_RECORDS" {
		t.Errorf("expected MISSING_ANCHOR_RECORDS, got %v", resp["code"])
	}
	details := resp["details"].([]any)
	if len(details) != 1 || details[0] != "ghost-1" {
		t.Errorf("expected ghost anchor in details, got %v", details)
	}
}

func TestExtractColumnSuccess(t *testing.T) {
	app := newTestApp()
	app.engine.result = extract.ColumnResult{Created: 2, IdentifierIDs: []string{"r1", "r2"}}
	sess := app.login("user-1")

	rr, resp := doJSON(t, app.server, http.MethodPost, "/api/sessions/sess-1/extract-column", sess.Token,
		map[string]any{"valueId": "val-1"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if resp["created"] != float64(2) {
		t.Errorf("unexpected result: %v", resp)
	}
	if len(app.engine.got) != 1 || app.engine.got[0].SessionID != "sess-1" || app.engine.got[0].ValueID != "val-1" {
		t.Errorf("engine got wrong request: %+v", app.engine.got)
	}
}

func TestExtractColumnForeignSession(t *testing.T) {
	app := newTestApp()
	sess := app.login("user-1")
	rr, _ := doJSON(t, app.server, http.MethodPost, "/api/sessions/sess-2/extract-column", sess.Token,
		map[string]any{"valueId": "val-9"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if len(app.engine.got) != 0 {
		t.Error("engine must not run for foreign sessions")
	}
}

func TestViewerCannotExtract(t *testing.T) {
	app := newTestApp()
	sess := app.login("user-2")
	rr, _ := doJSON(t, app.server, http.MethodPost, "/api/sessions/sess-1/extract-column", sess.Token,
		map[string]any{"valueId": "val-1"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestCreateOrgSubdomainTaken(t *testing.T) {
	app := newTestApp()
	rr, resp := doJSON(t, app.server, http.MethodPost, "/api/orgs", "",
		map[string]string{"name": "Another Acme", "subdomain": "acme"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
	if resp["code"] != "SUBDOMAIN_TAKEN" {
		t.Errorf("expected SUBDOMAIN_TAKEN, got %v", resp["code"])
	}
}

func TestCreateOrgReservedSubdomain(t *testing.T) {
	app := newTestApp()
	rr, _ := doJSON(t, app.server, http.MethodPost, "/api/orgs", "",
		map[string]string{"name": "Sneaky", "subdomain": "api"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for reserved subdomain, got %d", rr.Code)
	}
}

func TestCreateOrg(t *testing.T) {
	app := newTestApp()
	rr, resp := doJSON(t, app.server, http.MethodPost, "/api/orgs", "",
		map[string]string{"name": "Fresh Co", "subdomain": "fresh"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if resp["subdomain"] != "fresh" {
		t.Errorf("unexpected payload: %v", resp)
	}
	if url, _ := resp["url"].(string); url != "https://fresh.extrapl.test" {
		t.Errorf("unexpected url: %v", resp["url"])
	}
}

func TestWorkflowTestInlineSmallSession(t *testing.T) {
	app := newTestApp()
	sess := app.login("user-1")
	rr, resp := doJSON(t, app.server, http.MethodPost, "/api/projects/proj-1/workflow-test", sess.Token,
		map[string]string{"sessionId": "sess-1"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if resp["status"] != "completed" {
		t.Errorf("expected inline completion, got %v", resp)
	}
}

func TestWorkflowTestSessionProjectMismatch(t *testing.T) {
	app := newTestApp()
	app.fs.sessions["sess-3"] = app.fs.sessions["sess-1"]
	other := app.fs.sessions["sess-3"]
	other.ID = "sess-3"
	other.ProjectID = "proj-3"
	app.fs.sessions["sess-3"] = other
	app.fs.projects["proj-3"] = app.fs.projects["proj-1"]
	p := app.fs.projects["proj-3"]
	p.ID = "proj-3"
	app.fs.projects["proj-3"] = p

	sess := app.login("user-1")
	rr, _ := doJSON(t, app.server, http.MethodPost, "/api/projects/proj-1/workflow-test", sess.Token,
		map[string]string{"sessionId": "sess-3"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
}

func TestKanbanCardLifecycle(t *testing.T) {
	app := newTestApp()
	sess := app.login("user-1")

	rr, card := doJSON(t, app.server, http.MethodPost, "/api/sessions/sess-1/kanban-cards", sess.Token,
		map[string]any{"title": "Check totals", "lane": "todo"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create card: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	cardID := card["id"].(string)

	rr, _ = doJSON(t, app.server, http.MethodPost, fmt.Sprintf("/api/kanban-cards/%s/checklist", cardID), sess.Token,
		map[string]any{"text": "Sum line items"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("add checklist item: expected 201, got %d", rr.Code)
	}

	rr, _ = doJSON(t, app.server, http.MethodPut, "/api/kanban-cards/"+cardID, sess.Token,
		map[string]any{"lane": "done"})
	if rr.Code != http.StatusOK {
		t.Fatalf("move card: expected 200, got %d", rr.Code)
	}
	if app.fs.cards[cardID].Lane != "done" {
		t.Errorf("card lane not updated: %+v", app.fs.cards[cardID])
	}

	rr, _ = doJSON(t, app.server, http.MethodDelete, "/api/kanban-cards/"+cardID, sess.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete card: expected 200, got %d", rr.Code)
	}
	if _, ok := app.fs.cards[cardID]; ok {
		t.Error("card not deleted")
	}
}

func TestKanbanCardBadLane(t *testing.T) {
	app := newTestApp()
	sess := app.login("user-1")
	rr, _ := doJSON(t, app.server, http.MethodPost, "/api/sessions/sess-1/kanban-cards", sess.Token,
		map[string]any{"title": "Bad", "lane": "blocked"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	app := newTestApp()
	sess := app.login("user-1")
	rr, _ := doJSON(t, app.server, http.MethodGet, "/api/nope", sess.Token, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
