package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	formforge "github.com/user/formforge"
	"github.com/user/formforge/internal/storage"
	"github.com/user/formforge/pkg/evaluator"
)

// Notifier delivers workflow notifications. Failures are logged, never
// surfaced to the submitter.
type Notifier interface {
	NotifyUser(ctx context.Context, userID, subject, message string) error
}

// Redirect tells the client to open another form with prefilled
// answers.
type Redirect struct {
	FormID  string         `json:"form_id"`
	Prefill map[string]any `json:"prefill,omitempty"`
}

// ActionResult reports one executed action with its mapping resolved
// against the triggering submission.
type ActionResult struct {
	Type         storage.ActionType `json:"type"`
	TargetFormID string             `json:"target_form_id,omitempty"`
	DataMapping  map[string]any     `json:"data_mapping,omitempty"`
}

// Result describes what the matched workflow did.
type Result struct {
	WorkflowID     string         `json:"workflow_id"`
	WorkflowName   string         `json:"workflow_name"`
	Actions        []ActionResult `json:"actions"`
	Redirect       *Redirect      `json:"redirect,omitempty"`
	CreatedDraftID string         `json:"created_draft_id,omitempty"`
}

// Engine matches submissions against the form's workflows and executes
// the first match's actions. Workflows are evaluated in creation
// order; a trigger that fails at runtime counts as not matching.
type Engine struct {
	storage  storage.Storage
	eval     *evaluator.Evaluator
	notifier Notifier
	logger   formforge.Logger
}

func NewEngine(st storage.Storage, eval *evaluator.Evaluator, notifier Notifier, logger formforge.Logger) *Engine {
	return &Engine{storage: st, eval: eval, notifier: notifier, logger: logger}
}

// Run evaluates the form's active workflows against a fresh
// submission. Drafts never trigger workflows. Returns nil when
// nothing matched.
func (e *Engine) Run(ctx context.Context, form *storage.Form, resp *storage.FormResponse) (*Result, error) {
	if resp.IsDraft {
		return nil, nil
	}
	workflows, _, err := e.storage.ListWorkflows(ctx, storage.WorkflowFilter{
		TriggerFormID: form.ID,
		ActiveOnly:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	flat := evaluator.Flatten(resp.Data)
	for i := range workflows {
		wf := &workflows[i]
		if !e.eval.EvalBool(wf.TriggerCondition, flat) {
			continue
		}
		e.logger.Info("workflow matched", "workflow_id", wf.ID, "response_id", resp.ID)
		return e.execute(ctx, wf, resp, flat)
	}
	return nil, nil
}

// NextAction previews which workflow a hypothetical answers map would
// trigger, without executing anything.
func (e *Engine) NextAction(ctx context.Context, formID string, answers map[string]any) (*storage.FormWorkflow, error) {
	workflows, _, err := e.storage.ListWorkflows(ctx, storage.WorkflowFilter{
		TriggerFormID: formID,
		ActiveOnly:    true,
	})
	if err != nil {
		return nil, err
	}
	flat := evaluator.Flatten(answers)
	for i := range workflows {
		if e.eval.EvalBool(workflows[i].TriggerCondition, flat) {
			return &workflows[i], nil
		}
	}
	return nil, nil
}

func (e *Engine) execute(ctx context.Context, wf *storage.FormWorkflow, resp *storage.FormResponse, flat map[string]any) (*Result, error) {
	result := &Result{WorkflowID: wf.ID, WorkflowName: wf.Name}
	for _, action := range wf.Actions {
		resolved := e.mapData(action.DataMapping, resp, flat)
		switch action.Type {
		case storage.ActionRedirectToForm:
			result.Redirect = &Redirect{
				FormID:  action.TargetFormID,
				Prefill: resolved,
			}
		case storage.ActionCreateDraft:
			draftID, err := e.createDraft(ctx, wf, action, resp, flat)
			if err != nil {
				e.logger.Error("workflow draft creation failed", "workflow_id", wf.ID, "error", err)
				continue
			}
			result.CreatedDraftID = draftID
		case storage.ActionNotifyUser:
			e.notify(ctx, wf, action, resp, flat)
		default:
			e.logger.Warn("unknown workflow action", "workflow_id", wf.ID, "type", action.Type)
			continue
		}
		result.Actions = append(result.Actions, ActionResult{
			Type:         action.Type,
			TargetFormID: action.TargetFormID,
			DataMapping:  resolved,
		})
	}
	return result, nil
}

// mapData resolves a target-to-source mapping against the source
// response. Sources may name response header fields, dotted paths into
// the nested data, or flat answer ids.
func (e *Engine) mapData(mapping map[string]string, resp *storage.FormResponse, flat map[string]any) map[string]any {
	if len(mapping) == 0 {
		return nil
	}
	out := make(map[string]any, len(mapping))
	for target, source := range mapping {
		if val := e.resolveSource(source, resp, flat); val != nil {
			out[target] = val
		}
	}
	return out
}

func (e *Engine) resolveSource(source string, resp *storage.FormResponse, flat map[string]any) any {
	switch source {
	case "id":
		return resp.ID
	case "submitted_at":
		return resp.SubmittedAt.Format(time.RFC3339)
	case "submitted_by":
		return resp.SubmittedBy
	case "version":
		return resp.Version
	}
	if val, ok := flat[source]; ok {
		return val
	}
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil
	}
	if res := gjson.GetBytes(raw, source); res.Exists() {
		return res.Value()
	}
	return nil
}

// createDraft materializes a prefilled draft on the target form.
// Mapping targets may be dotted section.question paths.
func (e *Engine) createDraft(ctx context.Context, wf *storage.FormWorkflow, action storage.WorkflowAction, resp *storage.FormResponse, flat map[string]any) (string, error) {
	target, err := e.storage.GetForm(ctx, action.TargetFormID)
	if err != nil {
		return "", fmt.Errorf("target form %s: %w", action.TargetFormID, err)
	}

	raw := []byte("{}")
	for targetPath, source := range action.DataMapping {
		val := e.resolveSource(source, resp, flat)
		if val == nil {
			continue
		}
		raw, err = sjson.SetBytes(raw, targetPath, val)
		if err != nil {
			return "", fmt.Errorf("failed to map %s: %w", targetPath, err)
		}
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", err
	}

	assignee := resp.SubmittedBy
	if action.AssignToUserField != "" {
		if v, ok := flat[action.AssignToUserField].(string); ok && v != "" {
			assignee = v
		}
	}

	now := time.Now()
	draft := storage.FormResponse{
		ID:          uuid.New().String(),
		FormID:      target.ID,
		Version:     target.ActiveVersion,
		SubmittedBy: assignee,
		SubmittedAt: now,
		IsDraft:     true,
		Status:      storage.StatusPending,
		Data:        data,
		Metadata: storage.ResponseMetadata{
			Source:           "workflow",
			SourceWorkflowID: wf.ID,
		},
	}
	hist := storage.ResponseHistory{
		ID:         uuid.New().String(),
		ResponseID: draft.ID,
		FormID:     target.ID,
		Revision:   1,
		DataAfter:  data,
		ChangedBy:  assignee,
		ChangedAt:  now,
		ChangeType: storage.ChangeCreate,
	}
	if err := e.storage.InsertResponse(ctx, draft, hist); err != nil {
		return "", err
	}
	return draft.ID, nil
}

func (e *Engine) notify(ctx context.Context, wf *storage.FormWorkflow, action storage.WorkflowAction, resp *storage.FormResponse, flat map[string]any) {
	if e.notifier == nil {
		return
	}
	target := resp.SubmittedBy
	if action.AssignToUserField != "" {
		if v, ok := flat[action.AssignToUserField].(string); ok && v != "" {
			target = v
		}
	}
	subject := fmt.Sprintf("Workflow %s triggered", wf.Name)
	message := fmt.Sprintf("Submission %s matched workflow %s.", resp.ID, wf.Name)
	if err := e.notifier.NotifyUser(ctx, target, subject, message); err != nil {
		e.logger.Error("workflow notification failed", "workflow_id", wf.ID, "user", target, "error", err)
	}
}
