package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/user/formforge/internal/storage"
)

// validateWorkflow rejects malformed workflows at create/update time so
// trigger conditions never fail at submission time.
func (s *Server) validateWorkflow(wf *storage.FormWorkflow) []string {
	var msgs []string
	if strings.TrimSpace(wf.Name) == "" {
		msgs = append(msgs, "name is required")
	}
	if wf.TriggerFormID == "" {
		msgs = append(msgs, "trigger_form_id is required")
	}
	if wf.TriggerCondition == "" {
		wf.TriggerCondition = "True"
	}
	if err := s.eval.Validate(wf.TriggerCondition); err != nil {
		msgs = append(msgs, "trigger_condition: "+err.Error())
	}
	if len(wf.Actions) == 0 {
		msgs = append(msgs, "at least one action is required")
	}
	for i, action := range wf.Actions {
		switch action.Type {
		case storage.ActionRedirectToForm, storage.ActionCreateDraft:
			if action.TargetFormID == "" {
				msgs = append(msgs, fmt.Sprintf("actions[%d]: target_form_id is required", i))
			}
		case storage.ActionNotifyUser:
			if action.AssignToUserField == "" {
				msgs = append(msgs, fmt.Sprintf("actions[%d]: assign_to_user_field is required", i))
			}
		default:
			msgs = append(msgs, fmt.Sprintf("actions[%d]: unknown type %q", i, action.Type))
		}
	}
	return msgs
}

func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	filter := storage.WorkflowFilter{
		CommonFilter:  s.parseCommonFilter(r),
		TriggerFormID: r.URL.Query().Get("form_id"),
		ActiveOnly:    r.URL.Query().Get("active") == "true",
	}
	workflows, total, err := s.storage.ListWorkflows(r.Context(), filter)
	if err != nil {
		s.mapStorageErr(w, err, "workflows")
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"items": workflows, "total": total})
}

func (s *Server) createWorkflow(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}
	var wf storage.FormWorkflow
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		s.jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if msgs := s.validateWorkflow(&wf); len(msgs) > 0 {
		s.jsonResponse(w, http.StatusBadRequest, map[string]any{"error": "invalid_workflow", "details": msgs})
		return
	}
	if _, err := s.storage.GetForm(r.Context(), wf.TriggerFormID); err != nil {
		s.mapStorageErr(w, err, "trigger form")
		return
	}
	wf.ID = uuid.New().String()
	wf.CreatedBy = user.ID
	wf.CreatedAt = time.Now()
	wf.UpdatedAt = wf.CreatedAt
	if err := s.storage.CreateWorkflow(r.Context(), wf); err != nil {
		s.mapStorageErr(w, err, "workflow")
		return
	}
	s.audit(r, user.ID, "workflow_created", wf.ID, "workflow")
	s.jsonResponse(w, http.StatusCreated, wf)
}

func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	wf, err := s.storage.GetWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		s.mapStorageErr(w, err, "workflow")
		return
	}
	s.jsonResponse(w, http.StatusOK, wf)
}

func (s *Server) updateWorkflow(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}
	existing, err := s.storage.GetWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		s.mapStorageErr(w, err, "workflow")
		return
	}
	var wf storage.FormWorkflow
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		s.jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if msgs := s.validateWorkflow(&wf); len(msgs) > 0 {
		s.jsonResponse(w, http.StatusBadRequest, map[string]any{"error": "invalid_workflow", "details": msgs})
		return
	}
	// First-match-wins ordering keys off CreatedAt, which an edit must
	// never shift.
	wf.ID = existing.ID
	wf.CreatedBy = existing.CreatedBy
	wf.CreatedAt = existing.CreatedAt
	wf.UpdatedAt = time.Now()
	if err := s.storage.UpdateWorkflow(r.Context(), wf); err != nil {
		s.mapStorageErr(w, err, "workflow")
		return
	}
	s.audit(r, user.ID, "workflow_updated", wf.ID, "workflow")
	s.jsonResponse(w, http.StatusOK, wf)
}

func (s *Server) deleteWorkflow(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if err := s.storage.DeleteWorkflow(r.Context(), id); err != nil {
		s.mapStorageErr(w, err, "workflow")
		return
	}
	s.audit(r, user.ID, "workflow_deleted", id, "workflow")
	w.WriteHeader(http.StatusNoContent)
}
