package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/user/formforge/internal/storage"
)

// submit posts the given answers as the single section of baseVersion.
func (e *testEnv) submit(t *testing.T, token, formID string, answers map[string]any) (map[string]any, int) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/forms/"+formID+"/responses", token,
		map[string]any{"data": map[string]any{"sec_a": answers}})
	if rec.Code == http.StatusCreated {
		return decode(t, rec), rec.Code
	}
	var body map[string]any
	if rec.Body.Len() > 0 {
		body = decode(t, rec)
	}
	return body, rec.Code
}

func TestSubmitValidData(t *testing.T) {
	env := newEnv(t)
	_, token := env.newUser(t, "ines", storage.RoleCreator)
	formID := env.createPublishedForm(t, token, nil)

	body, code := env.submit(t, token, formID, map[string]any{"q_name": "Ada"})
	if code != http.StatusCreated {
		t.Fatalf("code = %d, body = %v", code, body)
	}
	if body["id"] == "" || body["status"] != "pending" || body["version"] != "1.0" {
		t.Errorf("body = %v", body)
	}
}

func TestSubmitToDraftFormForbidden(t *testing.T) {
	env := newEnv(t)
	_, token := env.newUser(t, "jonas", storage.RoleCreator)

	rec := env.do(t, http.MethodPost, "/api/forms", token, map[string]any{
		"title": "Unpublished", "versions": []any{baseVersion()},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d", rec.Code)
	}
	formID := decode(t, rec)["id"].(string)

	_, code := env.submit(t, token, formID, map[string]any{"q_name": "x"})
	if code != http.StatusForbidden {
		t.Errorf("code = %d, want 403", code)
	}
}

func TestConditionalRequiredValidation(t *testing.T) {
	env := newEnv(t)
	_, token := env.newUser(t, "karla", storage.RoleCreator)
	formID := env.createPublishedForm(t, token, nil)

	// Category "other" makes q_explain required.
	body, code := env.submit(t, token, formID, map[string]any{
		"q_name": "Ada", "q_cat": "other",
	})
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("code = %d, body = %v", code, body)
	}
	if body["error"] != "validation_failed" {
		t.Errorf("error = %v", body["error"])
	}
	details := body["details"].(map[string]any)
	if _, ok := details["sec_a.q_explain"]; !ok {
		t.Errorf("details = %v, want sec_a.q_explain entry", details)
	}

	// Other categories do not.
	_, code = env.submit(t, token, formID, map[string]any{
		"q_name": "Ada", "q_cat": "billing",
	})
	if code != http.StatusCreated {
		t.Errorf("code = %d, want 201", code)
	}
}

func TestResponsePinnedToSubmissionVersion(t *testing.T) {
	env := newEnv(t)
	_, token := env.newUser(t, "lars", storage.RoleCreator)
	formID := env.createPublishedForm(t, token, nil)

	body, code := env.submit(t, token, formID, map[string]any{"q_name": "Ada", "q_cat": "bug"})
	if code != http.StatusCreated {
		t.Fatalf("submit: %d", code)
	}
	respID := body["id"].(string)

	// A new active version without q_cat must not rewrite history.
	v2 := baseVersion()
	v2["version"] = "2.0"
	v2["activate"] = true
	v2["sections"] = []any{map[string]any{
		"id": "sec_a",
		"questions": []any{
			map[string]any{"id": "q_name", "field_type": "input", "is_required": true},
		},
	}}
	rec := env.do(t, http.MethodPost, "/api/forms/"+formID+"/versions", token, v2)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create version: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/forms/"+formID+"/responses/"+respID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get response: %d", rec.Code)
	}
	got := decode(t, rec)
	if got["version"] != "1.0" {
		t.Errorf("version = %v, want 1.0", got["version"])
	}
	answers := got["data"].(map[string]any)["sec_a"].(map[string]any)
	if answers["q_cat"] != "bug" {
		t.Errorf("data = %v, answer for retired question lost", answers)
	}

	// Edits validate against the pinned version, so q_cat stays legal.
	rec = env.do(t, http.MethodPut, "/api/forms/"+formID+"/responses/"+respID, token, map[string]any{
		"data": map[string]any{"sec_a": map[string]any{"q_name": "Ada", "q_cat": "feature"}},
	})
	if rec.Code != http.StatusOK {
		t.Errorf("update: %d %s", rec.Code, rec.Body.String())
	}
}

func TestSoftDeleteExcludedFromReporting(t *testing.T) {
	env := newEnv(t)
	_, token := env.newUser(t, "mona", storage.RoleCreator)
	formID := env.createPublishedForm(t, token, nil)

	var ids []string
	for i := 0; i < 10; i++ {
		body, code := env.submit(t, token, formID, map[string]any{"q_name": fmt.Sprintf("p%d", i)})
		if code != http.StatusCreated {
			t.Fatalf("submit %d: %d", i, code)
		}
		ids = append(ids, body["id"].(string))
	}
	for _, id := range ids[:3] {
		rec := env.do(t, http.MethodDelete, "/api/forms/"+formID+"/responses/"+id, token, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("delete %s: %d", id, rec.Code)
		}
	}

	rec := env.do(t, http.MethodGet, "/api/forms/"+formID+"/analytics/summary", token, nil)
	summary := decode(t, rec)
	if total := summary["total"].(float64); total != 7 {
		t.Errorf("summary total = %v, want 7", total)
	}

	rec = env.do(t, http.MethodPost, "/api/forms/"+formID+"/responses/search", token, map[string]any{"limit": 50})
	if items := decode(t, rec)["items"].([]any); len(items) != 7 {
		t.Errorf("search returned %d items, want 7", len(items))
	}

	// The creator moderates their own form, so deleted rows are
	// visible on request.
	rec = env.do(t, http.MethodPost, "/api/forms/"+formID+"/responses/search", token,
		map[string]any{"limit": 50, "include_deleted": true})
	if items := decode(t, rec)["items"].([]any); len(items) != 10 {
		t.Errorf("search include_deleted returned %d items, want 10", len(items))
	}
}

func TestIncludeDeletedRequiresModerator(t *testing.T) {
	env := newEnv(t)
	_, creator := env.newUser(t, "nils", storage.RoleCreator)
	viewer, viewerToken := env.newUser(t, "olga")

	formID := env.createPublishedForm(t, creator, map[string]any{"viewers": []string{viewer.ID}})
	rec := env.do(t, http.MethodPost, "/api/forms/"+formID+"/responses/search", viewerToken,
		map[string]any{"include_deleted": true})
	if rec.Code != http.StatusForbidden {
		t.Errorf("code = %d, want 403", rec.Code)
	}
}

func TestStatusTransitions(t *testing.T) {
	env := newEnv(t)
	_, token := env.newUser(t, "petra", storage.RoleCreator)
	formID := env.createPublishedForm(t, token, nil)
	body, _ := env.submit(t, token, formID, map[string]any{"q_name": "Ada"})
	respID := body["id"].(string)
	statusPath := "/api/forms/" + formID + "/responses/" + respID + "/status"

	// pending -> approved
	rec := env.do(t, http.MethodPatch, statusPath, token, map[string]any{"status": "approved", "comment": "ok"})
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: %d %s", rec.Code, rec.Body.String())
	}

	// approved -> rejected is not a legal move.
	rec = env.do(t, http.MethodPatch, statusPath, token, map[string]any{"status": "rejected"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("approved->rejected: code = %d, want 403", rec.Code)
	}

	// Same status is an idempotent no-op.
	rec = env.do(t, http.MethodPatch, statusPath, token, map[string]any{"status": "approved"})
	if rec.Code != http.StatusOK {
		t.Errorf("approved->approved: code = %d, want 200", rec.Code)
	}

	// Reopen, then reject.
	rec = env.do(t, http.MethodPatch, statusPath, token, map[string]any{"status": "pending"})
	if rec.Code != http.StatusOK {
		t.Fatalf("reopen: %d", rec.Code)
	}
	rec = env.do(t, http.MethodPatch, statusPath, token, map[string]any{"status": "rejected"})
	if rec.Code != http.StatusOK {
		t.Fatalf("reject: %d", rec.Code)
	}

	// Every hop is in the status log.
	rec = env.do(t, http.MethodGet, "/api/forms/"+formID+"/responses/"+respID, token, nil)
	got := decode(t, rec)
	log := got["status_log"].([]any)
	if len(log) != 3 {
		t.Errorf("status_log has %d entries, want 3", len(log))
	}
}

func TestDeleteRestoreHistory(t *testing.T) {
	env := newEnv(t)
	_, token := env.newUser(t, "rosa", storage.RoleCreator)
	formID := env.createPublishedForm(t, token, nil)
	body, _ := env.submit(t, token, formID, map[string]any{"q_name": "Ada"})
	respID := body["id"].(string)
	base := "/api/forms/" + formID + "/responses/" + respID

	if rec := env.do(t, http.MethodDelete, base, token, nil); rec.Code != http.StatusOK {
		t.Fatalf("delete: %d", rec.Code)
	}
	// Deleting again stays 200.
	if rec := env.do(t, http.MethodDelete, base, token, nil); rec.Code != http.StatusOK {
		t.Fatalf("second delete: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPatch, base+"/restore", token, nil); rec.Code != http.StatusOK {
		t.Fatalf("restore: %d", rec.Code)
	}

	rec := env.do(t, http.MethodGet, base+"/history", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history: %d", rec.Code)
	}
	items := decode(t, rec)["items"].([]any)
	// create, delete, restore; the idempotent delete adds nothing.
	if len(items) != 3 {
		t.Errorf("history has %d entries, want 3", len(items))
	}
}

func TestUnlistedSubmitterDenied(t *testing.T) {
	env := newEnv(t)
	_, creator := env.newUser(t, "signe", storage.RoleCreator)
	_, outsider := env.newUser(t, "truls")
	formID := env.createPublishedForm(t, creator, nil)

	// Private form, empty submitter list: only the creator may submit.
	if _, code := env.submit(t, outsider, formID, map[string]any{"q_name": "x"}); code != http.StatusForbidden {
		t.Errorf("code = %d, want 403 for unlisted submitter", code)
	}
}

func TestSubmitterCanReadOwnResponse(t *testing.T) {
	env := newEnv(t)
	_, creator := env.newUser(t, "stella", storage.RoleCreator)
	sub, subToken := env.newUser(t, "timo")
	_, otherToken := env.newUser(t, "ulrik")
	formID := env.createPublishedForm(t, creator, map[string]any{"submitters": []string{sub.ID}})

	body, code := env.submit(t, subToken, formID, map[string]any{"q_name": "Ada"})
	if code != http.StatusCreated {
		t.Fatalf("submit: %d", code)
	}
	respID := body["id"].(string)
	path := "/api/forms/" + formID + "/responses/" + respID

	if rec := env.do(t, http.MethodGet, path, subToken, nil); rec.Code != http.StatusOK {
		t.Errorf("submitter read: code = %d, want 200", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, path, otherToken, nil); rec.Code != http.StatusForbidden {
		t.Errorf("stranger read: code = %d, want 403", rec.Code)
	}
}

func TestPublicSubmitRequiresPublicForm(t *testing.T) {
	env := newEnv(t)
	_, token := env.newUser(t, "vera", storage.RoleCreator)

	private := env.createPublishedForm(t, token, nil)
	payload := map[string]any{"data": map[string]any{"sec_a": map[string]any{"q_name": "Ada"}}}
	rec := env.do(t, http.MethodPost, "/api/forms/"+private+"/public-submit", "", payload)
	if rec.Code != http.StatusForbidden {
		t.Errorf("private form: code = %d, want 403", rec.Code)
	}

	public := env.createPublishedForm(t, token, map[string]any{"title": "Open Intake", "slug": "open-intake", "is_public": true})
	rec = env.do(t, http.MethodPost, "/api/forms/"+public+"/public-submit", "", payload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("public form: code = %d %s", rec.Code, rec.Body.String())
	}
	respID := decode(t, rec)["id"].(string)

	resp, err := env.store.GetResponse(t.Context(), respID)
	if err != nil {
		t.Fatal(err)
	}
	if resp.SubmittedBy != "anonymous" || resp.Metadata.Source != "public" {
		t.Errorf("submitted_by = %q, source = %q", resp.SubmittedBy, resp.Metadata.Source)
	}
}

func TestPreviewValidatesWithoutPersisting(t *testing.T) {
	env := newEnv(t)
	_, token := env.newUser(t, "willa", storage.RoleCreator)
	formID := env.createPublishedForm(t, token, nil)

	rec := env.do(t, http.MethodPost, "/api/forms/"+formID+"/preview", token,
		map[string]any{"data": map[string]any{"sec_a": map[string]any{"q_name": "Ada"}}})
	if rec.Code != http.StatusOK {
		t.Fatalf("preview: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/forms/"+formID+"/analytics/summary", token, nil)
	if total := decode(t, rec)["total"].(float64); total != 0 {
		t.Errorf("preview persisted a response, total = %v", total)
	}
}

func TestDraftSkipsSideEffects(t *testing.T) {
	env := newEnv(t)
	_, token := env.newUser(t, "xenia", storage.RoleCreator)
	formID := env.createPublishedForm(t, token, nil)

	// Drafts skip required checks entirely.
	rec := env.do(t, http.MethodPost, "/api/forms/"+formID+"/responses", token,
		map[string]any{"data": map[string]any{}, "is_draft": true})
	if rec.Code != http.StatusCreated {
		t.Fatalf("draft submit: %d %s", rec.Code, rec.Body.String())
	}
	if _, hasAction := decode(t, rec)["workflow_action"]; hasAction {
		t.Error("draft submission triggered a workflow")
	}

	// Drafts are hidden from the default listing.
	rec = env.do(t, http.MethodGet, "/api/forms/"+formID+"/responses/paginated", token, nil)
	if items, _ := decode(t, rec)["items"].([]any); len(items) != 0 {
		t.Errorf("default list shows %d drafts", len(items))
	}
	rec = env.do(t, http.MethodGet, "/api/forms/"+formID+"/responses/paginated?include_drafts=true", token, nil)
	if items := decode(t, rec)["items"].([]any); len(items) != 1 {
		t.Errorf("include_drafts list shows %d items, want 1", len(items))
	}
}
