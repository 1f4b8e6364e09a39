package api

import (
	"archive/zip"
	"bytes"
	"net/http"
	"strings"
	"testing"

	"github.com/user/formforge/internal/storage"
)

func TestExportCSV(t *testing.T) {
	env := newEnv(t)
	_, token := env.newUser(t, "nora", storage.RoleCreator)
	formID := env.createPublishedForm(t, token, nil)
	env.submit(t, token, formID, map[string]any{"q_name": "Ada", "q_cat": "bug"})
	env.submit(t, token, formID, map[string]any{"q_name": "Bo"})

	rec := env.do(t, http.MethodGet, "/api/forms/"+formID+"/export/csv", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("content-type = %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	// Header plus one row per response.
	if len(lines) != 3 {
		t.Fatalf("got %d lines: %q", len(lines), lines)
	}
	if !strings.Contains(lines[0], "q_name") {
		t.Errorf("header = %q, want question column", lines[0])
	}
	if !strings.Contains(rec.Body.String(), "Ada") {
		t.Error("exported CSV is missing an answer")
	}
}

func TestExportRequiresViewPermission(t *testing.T) {
	env := newEnv(t)
	_, creator := env.newUser(t, "ove", storage.RoleCreator)
	_, stranger := env.newUser(t, "paul")
	formID := env.createPublishedForm(t, creator, nil)

	rec := env.do(t, http.MethodGet, "/api/forms/"+formID+"/export/json", stranger, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("code = %d, want 403", rec.Code)
	}
}

func TestBulkExportZip(t *testing.T) {
	env := newEnv(t)
	_, token := env.newUser(t, "rune", storage.RoleCreator)
	formA := env.createPublishedForm(t, token, map[string]any{"title": "Alpha", "slug": "alpha"})
	formB := env.createPublishedForm(t, token, map[string]any{"title": "Beta", "slug": "beta"})
	env.submit(t, token, formA, map[string]any{"q_name": "Ada"})

	rec := env.do(t, http.MethodPost, "/api/export/bulk", token,
		map[string]any{"form_ids": []string{formA, formB}})
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d %s", rec.Code, rec.Body.String())
	}

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatal(err)
	}
	names := make(map[string]bool, len(zr.File))
	for _, f := range zr.File {
		names[f.Name] = true
	}
	if !names["alpha.csv"] || !names["beta.csv"] {
		t.Errorf("zip entries = %v", names)
	}
}

func TestDuplicateCheck(t *testing.T) {
	env := newEnv(t)
	_, token := env.newUser(t, "svea", storage.RoleCreator)
	formID := env.createPublishedForm(t, token, nil)
	body, _ := env.submit(t, token, formID, map[string]any{"q_name": "Ada"})

	rec := env.do(t, http.MethodPost, "/api/forms/"+formID+"/responses/duplicate-check", token,
		map[string]any{"fields": map[string]any{"q_name": "Ada"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d %s", rec.Code, rec.Body.String())
	}
	got := decode(t, rec)
	if got["duplicate"] != true || got["response_id"] != body["id"] {
		t.Errorf("body = %v", got)
	}

	rec = env.do(t, http.MethodPost, "/api/forms/"+formID+"/responses/duplicate-check", token,
		map[string]any{"fields": map[string]any{"q_name": "Nobody"}})
	if decode(t, rec)["duplicate"] != false {
		t.Error("unexpected duplicate hit")
	}
}

func TestSavedSearchLifecycle(t *testing.T) {
	env := newEnv(t)
	_, token := env.newUser(t, "tove", storage.RoleCreator)
	formID := env.createPublishedForm(t, token, nil)
	base := "/api/forms/" + formID + "/saved-searches"

	rec := env.do(t, http.MethodPost, base, token, map[string]any{
		"name":   "pending-bugs",
		"filter": map[string]any{"field_id": "q_cat", "op": "eq", "value": "bug"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	sid := decode(t, rec)["id"].(string)

	rec = env.do(t, http.MethodGet, base, token, nil)
	if items := decode(t, rec)["items"].([]any); len(items) != 1 {
		t.Errorf("list has %d items, want 1", len(items))
	}

	// Another user cannot delete it.
	_, other := env.newUser(t, "ulf", storage.RoleCreator)
	if rec := env.do(t, http.MethodDelete, base+"/"+sid, other, nil); rec.Code != http.StatusNotFound {
		t.Errorf("foreign delete: code = %d, want 404", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, base+"/"+sid, token, nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete: code = %d, want 204", rec.Code)
	}
}
