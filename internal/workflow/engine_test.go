package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/user/formforge/internal/storage"
	"github.com/user/formforge/internal/storage/memory"
	"github.com/user/formforge/pkg/evaluator"
	"github.com/user/formforge/pkg/logging"
)

type fakeNotifier struct {
	calls []string
}

func (f *fakeNotifier) NotifyUser(_ context.Context, userID, subject, _ string) error {
	f.calls = append(f.calls, userID+":"+subject)
	return nil
}

func newEngine(t *testing.T) (*Engine, *memory.Store, *fakeNotifier) {
	t.Helper()
	st := memory.New()
	n := &fakeNotifier{}
	return NewEngine(st, evaluator.New(nil), n, logging.NewDefaultLogger()), st, n
}

func seedWorkflow(t *testing.T, st *memory.Store, id, condition string, createdAt time.Time, actions ...storage.WorkflowAction) {
	t.Helper()
	err := st.CreateWorkflow(context.Background(), storage.FormWorkflow{
		ID:               id,
		Name:             "wf-" + id,
		TriggerFormID:    "f1",
		TriggerCondition: condition,
		Actions:          actions,
		IsActive:         true,
		CreatedAt:        createdAt,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func submission() *storage.FormResponse {
	return &storage.FormResponse{
		ID:          "r1",
		FormID:      "f1",
		Version:     "v2",
		SubmittedBy: "u1",
		SubmittedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Data: map[string]any{
			"sec_main": map[string]any{"q_cat": "escalate", "q_owner": "u9"},
		},
	}
}

func TestFirstMatchWins(t *testing.T) {
	e, st, _ := newEngine(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	redirect := storage.WorkflowAction{Type: storage.ActionRedirectToForm, TargetFormID: "f2"}
	seedWorkflow(t, st, "w-older", "answers.get('q_cat') == 'escalate'", base, redirect)
	seedWorkflow(t, st, "w-newer", "answers.get('q_cat') == 'escalate'", base.Add(time.Hour),
		storage.WorkflowAction{Type: storage.ActionRedirectToForm, TargetFormID: "f3"})

	res, err := e.Run(context.Background(), &storage.Form{ID: "f1"}, submission())
	if err != nil {
		t.Fatal(err)
	}
	if res == nil || res.WorkflowID != "w-older" {
		t.Fatalf("result = %+v, want the oldest matching workflow", res)
	}
	if res.Redirect == nil || res.Redirect.FormID != "f2" {
		t.Errorf("redirect = %+v", res.Redirect)
	}
}

func TestRuntimeErrorCountsAsNoMatch(t *testing.T) {
	e, st, _ := newEngine(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// String + int blows up at runtime; the engine must fall through.
	seedWorkflow(t, st, "w-bad", "answers.get('q_cat') + 1 > 2", base,
		storage.WorkflowAction{Type: storage.ActionRedirectToForm, TargetFormID: "f9"})
	seedWorkflow(t, st, "w-good", "answers.get('q_cat') == 'escalate'", base.Add(time.Minute),
		storage.WorkflowAction{Type: storage.ActionRedirectToForm, TargetFormID: "f2"})

	res, err := e.Run(context.Background(), &storage.Form{ID: "f1"}, submission())
	if err != nil {
		t.Fatal(err)
	}
	if res == nil || res.WorkflowID != "w-good" {
		t.Fatalf("result = %+v, want fallthrough past the failing trigger", res)
	}
}

func TestDraftsDoNotTrigger(t *testing.T) {
	e, st, _ := newEngine(t)
	seedWorkflow(t, st, "w1", "", time.Now(),
		storage.WorkflowAction{Type: storage.ActionRedirectToForm, TargetFormID: "f2"})

	resp := submission()
	resp.IsDraft = true
	res, err := e.Run(context.Background(), &storage.Form{ID: "f1"}, resp)
	if err != nil || res != nil {
		t.Errorf("res = %+v, err = %v; drafts must not trigger workflows", res, err)
	}
}

func TestRedirectPrefillMapping(t *testing.T) {
	e, st, _ := newEngine(t)
	seedWorkflow(t, st, "w1", "", time.Now(), storage.WorkflowAction{
		Type:         storage.ActionRedirectToForm,
		TargetFormID: "f2",
		DataMapping: map[string]string{
			"q_source_id":  "id",
			"q_by":         "submitted_by",
			"q_cat_copy":   "q_cat",
			"q_owner_copy": "sec_main.q_owner",
		},
	})

	res, err := e.Run(context.Background(), &storage.Form{ID: "f1"}, submission())
	if err != nil || res == nil || res.Redirect == nil {
		t.Fatalf("res = %+v, err = %v", res, err)
	}
	p := res.Redirect.Prefill
	if p["q_source_id"] != "r1" || p["q_by"] != "u1" {
		t.Errorf("header mapping = %v", p)
	}
	if p["q_cat_copy"] != "escalate" {
		t.Errorf("flat answer mapping = %v", p["q_cat_copy"])
	}
	if p["q_owner_copy"] != "u9" {
		t.Errorf("dotted path mapping = %v", p["q_owner_copy"])
	}

	// The result also reports the executed action with its mapping
	// resolved.
	if len(res.Actions) != 1 {
		t.Fatalf("actions = %+v, want 1", res.Actions)
	}
	act := res.Actions[0]
	if act.Type != storage.ActionRedirectToForm || act.TargetFormID != "f2" {
		t.Errorf("action = %+v", act)
	}
	if act.DataMapping["q_source_id"] != "r1" {
		t.Errorf("resolved mapping = %v", act.DataMapping)
	}
}

func TestCreateDraftAction(t *testing.T) {
	e, st, _ := newEngine(t)
	ctx := context.Background()
	if err := st.CreateForm(ctx, storage.Form{ID: "f2", Slug: "followup", ActiveVersion: "v1"}); err != nil {
		t.Fatal(err)
	}
	seedWorkflow(t, st, "w1", "", time.Now(), storage.WorkflowAction{
		Type:              storage.ActionCreateDraft,
		TargetFormID:      "f2",
		DataMapping:       map[string]string{"sec_a.q_origin": "id", "sec_a.q_cat": "q_cat"},
		AssignToUserField: "q_owner",
	})

	res, err := e.Run(ctx, &storage.Form{ID: "f1"}, submission())
	if err != nil || res == nil || res.CreatedDraftID == "" {
		t.Fatalf("res = %+v, err = %v", res, err)
	}

	draft, err := st.GetResponse(ctx, res.CreatedDraftID)
	if err != nil {
		t.Fatal(err)
	}
	if !draft.IsDraft || draft.FormID != "f2" || draft.Version != "v1" {
		t.Errorf("draft = %+v", draft)
	}
	if draft.SubmittedBy != "u9" {
		t.Errorf("assignee = %q, want value of q_owner", draft.SubmittedBy)
	}
	if draft.Metadata.Source != "workflow" || draft.Metadata.SourceWorkflowID != "w1" {
		t.Errorf("metadata = %+v", draft.Metadata)
	}
	sec := draft.Data["sec_a"].(map[string]any)
	if sec["q_origin"] != "r1" || sec["q_cat"] != "escalate" {
		t.Errorf("draft data = %v", draft.Data)
	}

	hist, _ := st.ListHistory(ctx, draft.ID)
	if len(hist) != 1 || hist[0].ChangeType != storage.ChangeCreate {
		t.Errorf("history = %+v", hist)
	}
}

func TestNotifyAction(t *testing.T) {
	e, st, n := newEngine(t)
	seedWorkflow(t, st, "w1", "", time.Now(), storage.WorkflowAction{
		Type:              storage.ActionNotifyUser,
		AssignToUserField: "q_owner",
	})

	if _, err := e.Run(context.Background(), &storage.Form{ID: "f1"}, submission()); err != nil {
		t.Fatal(err)
	}
	if len(n.calls) != 1 || n.calls[0][:3] != "u9:" {
		t.Errorf("notifications = %v", n.calls)
	}
}

func TestNextActionPreview(t *testing.T) {
	e, st, _ := newEngine(t)
	seedWorkflow(t, st, "w1", "answers.get('q_cat') == 'escalate'", time.Now(),
		storage.WorkflowAction{Type: storage.ActionRedirectToForm, TargetFormID: "f2"})

	wf, err := e.NextAction(context.Background(), "f1", map[string]any{
		"sec_main": map[string]any{"q_cat": "escalate"},
	})
	if err != nil || wf == nil || wf.ID != "w1" {
		t.Fatalf("wf = %+v, err = %v", wf, err)
	}

	wf, err = e.NextAction(context.Background(), "f1", map[string]any{
		"sec_main": map[string]any{"q_cat": "routine"},
	})
	if err != nil || wf != nil {
		t.Errorf("wf = %+v, want no match", wf)
	}
}

func TestInactiveWorkflowsSkipped(t *testing.T) {
	e, st, _ := newEngine(t)
	err := st.CreateWorkflow(context.Background(), storage.FormWorkflow{
		ID: "w-off", TriggerFormID: "f1", IsActive: false, CreatedAt: time.Now(),
		Actions: []storage.WorkflowAction{{Type: storage.ActionRedirectToForm, TargetFormID: "f2"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := e.Run(context.Background(), &storage.Form{ID: "f1"}, submission())
	if err != nil || res != nil {
		t.Errorf("res = %+v, want inactive workflow ignored", res)
	}
}
