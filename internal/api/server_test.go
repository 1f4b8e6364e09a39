package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/user/formforge/internal/auth"
	"github.com/user/formforge/internal/notification"
	"github.com/user/formforge/internal/storage"
	"github.com/user/formforge/internal/storage/memory"
	"github.com/user/formforge/internal/workflow"
	"github.com/user/formforge/pkg/evaluator"
	"github.com/user/formforge/pkg/filestore"
	"github.com/user/formforge/pkg/logging"
	"github.com/user/formforge/pkg/webhook"
)

type nopSMS struct{}

func (nopSMS) SendOTP(context.Context, string, string) error { return nil }

type nopGateway struct{}

func (nopGateway) Send(context.Context, []string, string, string, string) error { return nil }

type testEnv struct {
	store   *memory.Store
	auth    *auth.Service
	handler http.Handler
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := logging.NewDefaultLogger()
	store := memory.New()
	authSvc := auth.New(store, auth.NewStorageBlocklist(store), nopSMS{}, logger, []byte("test-secret"))
	eval := evaluator.New(logger)
	hooks := webhook.NewDispatcher(store, logger, webhook.WithSchedule([]time.Duration{0, 10 * time.Millisecond}))
	emails := notification.NewService(nopGateway{}, store, logger, "http://localhost:8080")
	engine := workflow.NewEngine(store, eval, emails, logger)
	files, err := filestore.New(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(store, authSvc, eval, engine, hooks, emails, files, logger)
	t.Cleanup(func() {
		hooks.Close()
		emails.Close()
	})
	return &testEnv{store: store, auth: authSvc, handler: srv.Routes()}
}

// newUser registers a user, optionally overrides the roles, and
// returns it together with a session token.
func (e *testEnv) newUser(t *testing.T, username string, roles ...storage.Role) (storage.User, string) {
	t.Helper()
	ctx := context.Background()
	user, err := e.auth.Register(ctx, auth.RegisterInput{
		Username: username,
		Email:    username + "@example.com",
		Password: "correct-horse-1",
		UserType: string(storage.UserTypeEmployee),
	})
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	if len(roles) > 0 {
		user.Roles = roles
		if err := e.store.UpdateUser(ctx, user); err != nil {
			t.Fatal(err)
		}
	}
	token, err := e.auth.IssueToken(user)
	if err != nil {
		t.Fatal(err)
	}
	return user, token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

// baseVersion is a schema with a required name, a category and a
// conditionally required explanation.
func baseVersion() map[string]any {
	return map[string]any{
		"version": "1.0",
		"sections": []any{
			map[string]any{
				"id": "sec_a",
				"questions": []any{
					map[string]any{"id": "q_name", "field_type": "input", "is_required": true},
					map[string]any{"id": "q_cat", "field_type": "input"},
					map[string]any{"id": "q_explain", "field_type": "input",
						"required_condition": "answers.get('q_cat') == 'other'"},
				},
			},
		},
	}
}

// createPublishedForm drives the real endpoints: create, then publish.
func (e *testEnv) createPublishedForm(t *testing.T, token string, extra map[string]any) string {
	t.Helper()
	payload := map[string]any{
		"title":    "Intake",
		"versions": []any{baseVersion()},
	}
	for k, v := range extra {
		payload[k] = v
	}
	rec := e.do(t, http.MethodPost, "/api/forms", token, payload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create form: %d %s", rec.Code, rec.Body.String())
	}
	id := decode(t, rec)["id"].(string)

	rec = e.do(t, http.MethodPatch, "/api/forms/"+id+"/publish", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("publish: %d %s", rec.Code, rec.Body.String())
	}
	return id
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	env := newEnv(t)
	rec := env.do(t, http.MethodGet, "/api/forms", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("code = %d, want 401", rec.Code)
	}
}

func TestLoginLockoutAndUnlock(t *testing.T) {
	env := newEnv(t)
	env.newUser(t, "frida")
	_, adminToken := env.newUser(t, "boss", storage.RoleAdmin)

	for i := 0; i < 5; i++ {
		rec := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
			"identifier": "frida", "password": "wrong",
		})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: code = %d, want 401", i, rec.Code)
		}
	}

	// Correct password no longer helps; the reply carries the retry
	// hint.
	rec := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"identifier": "frida", "password": "correct-horse-1",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("locked login: code = %d, want 403", rec.Code)
	}
	body := decode(t, rec)
	if body["error"] != "account_locked" || body["retry_after"] == nil {
		t.Errorf("body = %v", body)
	}

	user, err := env.store.GetUserByIdentifier(context.Background(), "frida")
	if err != nil {
		t.Fatal(err)
	}
	rec = env.do(t, http.MethodPatch, "/api/users/"+user.ID+"/unlock", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unlock: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"identifier": "frida", "password": "correct-horse-1",
	})
	if rec.Code != http.StatusOK {
		t.Errorf("login after unlock: code = %d, want 200", rec.Code)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	env := newEnv(t)
	_, token := env.newUser(t, "gustav")

	if rec := env.do(t, http.MethodGet, "/api/auth/me", token, nil); rec.Code != http.StatusOK {
		t.Fatalf("me: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/auth/logout", token, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("logout: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/auth/me", token, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("me after logout: code = %d, want 401", rec.Code)
	}
}

func TestRegisterDuplicateConflict(t *testing.T) {
	env := newEnv(t)
	env.newUser(t, "hanna")
	rec := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "hanna", "email": "other@example.com", "password": "correct-horse-1",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("code = %d, want 409", rec.Code)
	}
}

func TestUserEndpointsAdminOnly(t *testing.T) {
	env := newEnv(t)
	_, token := env.newUser(t, "plain")
	if rec := env.do(t, http.MethodGet, "/api/users", token, nil); rec.Code != http.StatusForbidden {
		t.Errorf("list users as non-admin: code = %d, want 403", rec.Code)
	}
}

func TestReadyz(t *testing.T) {
	env := newEnv(t)
	rec := env.do(t, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if body := decode(t, rec); body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}
