package api

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	formforge "github.com/user/formforge"
	"github.com/user/formforge/internal/permission"
	"github.com/user/formforge/internal/storage"
	"github.com/user/formforge/pkg/evaluator"
)

type submitRequest struct {
	Data    map[string]any `json:"data"`
	IsDraft bool           `json:"is_draft"`
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// submitGate rejects submissions to forms that are not accepting them.
// Returns false after writing the response.
func (s *Server) submitGate(w http.ResponseWriter, form *storage.Form) bool {
	if form.Status != storage.FormPublished {
		s.jsonError(w, "form is not accepting submissions", http.StatusForbidden)
		return false
	}
	if form.ExpiresAt != nil && form.ExpiresAt.Before(time.Now()) {
		s.jsonError(w, "form has expired", http.StatusForbidden)
		return false
	}
	if form.Active() == nil {
		s.jsonError(w, "form has no active version", http.StatusForbidden)
		return false
	}
	return true
}

func (s *Server) submitResponse(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	if !permission.Can(user, &form, permission.ActionSubmit) {
		s.jsonError(w, "Forbidden", http.StatusForbidden)
		return
	}
	s.handleSubmit(w, r, form, user.ID, "api")
}

func (s *Server) publicSubmit(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	if !form.IsPublic {
		s.jsonError(w, "form does not accept anonymous submissions", http.StatusForbidden)
		return
	}
	submitter := "anonymous"
	if user, authed := currentUser(r); authed {
		submitter = user.ID
	}
	s.handleSubmit(w, r, form, submitter, "public")
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, form storage.Form, submitter, source string) {
	if !s.submitGate(w, &form) {
		return
	}
	var in submitRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	version := form.Active()
	data, errs := s.validator.Validate(version, in.Data, nil, in.IsDraft)
	if len(errs) > 0 {
		s.validationFailed(w, errs)
		return
	}

	now := time.Now()
	resp := storage.FormResponse{
		ID:          uuid.New().String(),
		FormID:      form.ID,
		Version:     form.ActiveVersion,
		SubmittedBy: submitter,
		SubmittedAt: now,
		IsDraft:     in.IsDraft,
		Status:      storage.StatusPending,
		Data:        data,
		Metadata: storage.ResponseMetadata{
			Source:    source,
			IP:        clientIP(r),
			UserAgent: r.UserAgent(),
		},
	}
	hist := storage.ResponseHistory{
		ID:         uuid.New().String(),
		ResponseID: resp.ID,
		FormID:     form.ID,
		Revision:   1,
		DataAfter:  data,
		ChangedBy:  submitter,
		ChangedAt:  now,
		ChangeType: storage.ChangeCreate,
	}
	if err := s.storage.InsertResponse(r.Context(), resp, hist); err != nil {
		s.mapStorageErr(w, err, "response")
		return
	}

	body := map[string]any{"id": resp.ID, "version": resp.Version, "status": resp.Status}

	if !resp.IsDraft {
		// create_draft runs inline so the payload reflects the side
		// effect; a workflow failure never fails the submit.
		result, err := s.workflows.Run(r.Context(), &form, &resp)
		if err != nil {
			s.logger.Error("workflow execution failed", "form", form.ID, "response", resp.ID, "error", err)
		} else if result != nil {
			body["workflow_action"] = result
		}
		s.webhooks.Enqueue(&form, formforge.EventSubmitted, &resp)
		s.emails.SubmissionReceived(&form, &resp)
	}

	s.jsonResponse(w, http.StatusCreated, body)
}

// previewResponse validates without persisting.
func (s *Server) previewResponse(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	user, authed := currentUser(r)
	if !authed && !form.IsPublic {
		s.jsonError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if authed && !permission.Can(user, &form, permission.ActionSubmit) {
		s.jsonError(w, "Forbidden", http.StatusForbidden)
		return
	}
	version := form.Active()
	if version == nil {
		s.jsonError(w, "form has no active version", http.StatusForbidden)
		return
	}
	var in submitRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	data, errs := s.validator.Validate(version, in.Data, nil, in.IsDraft)
	if len(errs) > 0 {
		s.validationFailed(w, errs)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"valid": true, "data": data})
}

// loadResponse resolves {rid} within the form from {id}.
func (s *Server) loadResponse(w http.ResponseWriter, r *http.Request, form *storage.Form) (storage.FormResponse, bool) {
	resp, err := s.storage.GetResponse(r.Context(), r.PathValue("rid"))
	if err != nil {
		s.mapStorageErr(w, err, "response")
		return storage.FormResponse{}, false
	}
	if resp.FormID != form.ID {
		s.jsonError(w, "response not found", http.StatusNotFound)
		return storage.FormResponse{}, false
	}
	return resp, true
}

func (s *Server) getResponse(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	resp, ok := s.loadResponse(w, r, &form)
	if !ok {
		return
	}
	if !permission.CanReadResponse(user, &form, &resp) {
		s.jsonError(w, "Forbidden", http.StatusForbidden)
		return
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) updateResponse(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	resp, ok := s.loadResponse(w, r, &form)
	if !ok {
		return
	}
	// Only the original submitter edits their answers; admins included
	// for cleanup.
	if resp.SubmittedBy != user.ID && !user.HasRole(storage.RoleAdmin) && !user.HasRole(storage.RoleSuperadmin) {
		s.jsonError(w, "Forbidden", http.StatusForbidden)
		return
	}
	if resp.Deleted {
		s.jsonError(w, "response is deleted", http.StatusForbidden)
		return
	}

	var in submitRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	// Edits validate against the version the response was submitted
	// under, not the current active one.
	version := form.Version(resp.Version)
	if version == nil {
		s.jsonError(w, "pinned version no longer exists", http.StatusConflict)
		return
	}
	data, errs := s.validator.Validate(version, in.Data, nil, in.IsDraft)
	if len(errs) > 0 {
		s.validationFailed(w, errs)
		return
	}

	revision, err := s.storage.NextHistoryRevision(r.Context(), resp.ID)
	if err != nil {
		s.mapStorageErr(w, err, "response history")
		return
	}
	now := time.Now()
	before := resp.Data
	wasDraft := resp.IsDraft
	resp.Data = data
	resp.IsDraft = in.IsDraft
	resp.UpdatedBy = user.ID
	resp.UpdatedAt = &now

	hist := storage.ResponseHistory{
		ID:         uuid.New().String(),
		ResponseID: resp.ID,
		FormID:     form.ID,
		Revision:   revision,
		DataBefore: before,
		DataAfter:  data,
		ChangedBy:  user.ID,
		ChangedAt:  now,
		ChangeType: storage.ChangeUpdate,
	}
	if err := s.storage.UpdateResponse(r.Context(), resp, hist); err != nil {
		s.mapStorageErr(w, err, "response")
		return
	}
	switch {
	case wasDraft && !resp.IsDraft:
		// Finalizing a draft is the effective submission.
		if _, err := s.workflows.Run(r.Context(), &form, &resp); err != nil {
			s.logger.Error("workflow execution failed", "form", form.ID, "response", resp.ID, "error", err)
		}
		s.webhooks.Enqueue(&form, formforge.EventSubmitted, &resp)
		s.emails.SubmissionReceived(&form, &resp)
	case !resp.IsDraft:
		s.webhooks.Enqueue(&form, formforge.EventUpdated, &resp)
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) deleteResponse(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	user, ok := s.requireFormAction(w, r, &form, permission.ActionEdit)
	if !ok {
		return
	}
	resp, ok := s.loadResponse(w, r, &form)
	if !ok {
		return
	}
	if resp.Deleted {
		// Already a tombstone.
		s.jsonResponse(w, http.StatusOK, resp)
		return
	}

	revision, err := s.storage.NextHistoryRevision(r.Context(), resp.ID)
	if err != nil {
		s.mapStorageErr(w, err, "response history")
		return
	}
	now := time.Now()
	resp.Deleted = true
	resp.DeletedBy = user.ID
	resp.DeletedAt = &now

	hist := storage.ResponseHistory{
		ID:         uuid.New().String(),
		ResponseID: resp.ID,
		FormID:     form.ID,
		Revision:   revision,
		DataBefore: resp.Data,
		ChangedBy:  user.ID,
		ChangedAt:  now,
		ChangeType: storage.ChangeDelete,
	}
	if err := s.storage.UpdateResponse(r.Context(), resp, hist); err != nil {
		s.mapStorageErr(w, err, "response")
		return
	}
	s.webhooks.Enqueue(&form, formforge.EventDeleted, &resp)
	s.jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) restoreResponse(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	user, ok := s.requireFormAction(w, r, &form, permission.ActionEdit)
	if !ok {
		return
	}
	resp, ok := s.loadResponse(w, r, &form)
	if !ok {
		return
	}
	if !resp.Deleted {
		s.jsonResponse(w, http.StatusOK, resp)
		return
	}

	revision, err := s.storage.NextHistoryRevision(r.Context(), resp.ID)
	if err != nil {
		s.mapStorageErr(w, err, "response history")
		return
	}
	now := time.Now()
	resp.Deleted = false
	resp.DeletedBy = ""
	resp.DeletedAt = nil

	hist := storage.ResponseHistory{
		ID:         uuid.New().String(),
		ResponseID: resp.ID,
		FormID:     form.ID,
		Revision:   revision,
		DataAfter:  resp.Data,
		ChangedBy:  user.ID,
		ChangedAt:  now,
		ChangeType: storage.ChangeRestore,
	}
	if err := s.storage.UpdateResponse(r.Context(), resp, hist); err != nil {
		s.mapStorageErr(w, err, "response")
		return
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// validStatusTransitions is the approval state machine: pending moves
// to approved or rejected, either of those can reopen to pending.
var validStatusTransitions = map[storage.ResponseStatus][]storage.ResponseStatus{
	storage.StatusPending:  {storage.StatusApproved, storage.StatusRejected},
	storage.StatusApproved: {storage.StatusPending},
	storage.StatusRejected: {storage.StatusPending},
}

func statusTransitionAllowed(from, to storage.ResponseStatus) bool {
	for _, next := range validStatusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s *Server) updateStatus(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	if !permission.CanModerate(user, &form) {
		s.jsonError(w, "Forbidden", http.StatusForbidden)
		return
	}
	resp, ok := s.loadResponse(w, r, &form)
	if !ok {
		return
	}
	if resp.Deleted {
		s.jsonError(w, "response is deleted", http.StatusForbidden)
		return
	}

	var in struct {
		Status  storage.ResponseStatus `json:"status"`
		Comment string                 `json:"comment,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if resp.Status == in.Status {
		s.jsonResponse(w, http.StatusOK, resp)
		return
	}
	if !statusTransitionAllowed(resp.Status, in.Status) {
		s.jsonError(w, "cannot move response from "+string(resp.Status)+" to "+string(in.Status), http.StatusForbidden)
		return
	}

	revision, err := s.storage.NextHistoryRevision(r.Context(), resp.ID)
	if err != nil {
		s.mapStorageErr(w, err, "response history")
		return
	}
	now := time.Now()
	from := resp.Status
	resp.Status = in.Status
	resp.StatusLog = append(resp.StatusLog, storage.StatusLogEntry{
		From:    from,
		To:      in.Status,
		Actor:   user.ID,
		At:      now,
		Comment: in.Comment,
	})

	hist := storage.ResponseHistory{
		ID:         uuid.New().String(),
		ResponseID: resp.ID,
		FormID:     form.ID,
		Revision:   revision,
		DataAfter:  resp.Data,
		ChangedBy:  user.ID,
		ChangedAt:  now,
		ChangeType: storage.ChangeStatusChange,
	}
	if err := s.storage.UpdateResponse(r.Context(), resp, hist); err != nil {
		s.mapStorageErr(w, err, "response")
		return
	}

	s.webhooks.Enqueue(&form, formforge.EventStatusUpdated, &resp)
	s.emails.StatusChanged(r.Context(), &form, &resp, from, in.Status)
	s.jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	resp, ok := s.loadResponse(w, r, &form)
	if !ok {
		return
	}
	if !permission.CanReadResponse(user, &form, &resp) {
		s.jsonError(w, "Forbidden", http.StatusForbidden)
		return
	}
	history, err := s.storage.ListHistory(r.Context(), resp.ID)
	if err != nil {
		s.mapStorageErr(w, err, "response history")
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"items": history})
}

func (s *Server) listComments(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	resp, ok := s.loadResponse(w, r, &form)
	if !ok {
		return
	}
	if !permission.CanReadResponse(user, &form, &resp) {
		s.jsonError(w, "Forbidden", http.StatusForbidden)
		return
	}
	comments, err := s.storage.ListComments(r.Context(), resp.ID)
	if err != nil {
		s.mapStorageErr(w, err, "comments")
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"items": comments})
}

func (s *Server) createComment(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	resp, ok := s.loadResponse(w, r, &form)
	if !ok {
		return
	}
	if !permission.CanReadResponse(user, &form, &resp) {
		s.jsonError(w, "Forbidden", http.StatusForbidden)
		return
	}
	var in struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || strings.TrimSpace(in.Text) == "" {
		s.jsonError(w, "text is required", http.StatusBadRequest)
		return
	}
	comment := storage.ResponseComment{
		ID:         uuid.New().String(),
		ResponseID: resp.ID,
		FormID:     form.ID,
		Author:     user.ID,
		Text:       in.Text,
		CreatedAt:  time.Now(),
	}
	if err := s.storage.CreateComment(r.Context(), comment); err != nil {
		s.mapStorageErr(w, err, "comment")
		return
	}
	s.jsonResponse(w, http.StatusCreated, comment)
}

func (s *Server) deleteComment(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	resp, ok := s.loadResponse(w, r, &form)
	if !ok {
		return
	}
	comments, err := s.storage.ListComments(r.Context(), resp.ID)
	if err != nil {
		s.mapStorageErr(w, err, "comments")
		return
	}
	cid := r.PathValue("cid")
	for _, c := range comments {
		if c.ID != cid {
			continue
		}
		if c.Author != user.ID && !user.HasRole(storage.RoleAdmin) && !user.HasRole(storage.RoleSuperadmin) {
			s.jsonError(w, "Forbidden", http.StatusForbidden)
			return
		}
		if err := s.storage.DeleteComment(r.Context(), cid); err != nil {
			s.mapStorageErr(w, err, "comment")
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.jsonError(w, "comment not found", http.StatusNotFound)
}

type searchRequest struct {
	Filter         *storage.FilterNode `json:"filter,omitempty"`
	SortField      string              `json:"sort_field,omitempty"`
	SortDesc       bool                `json:"sort_desc"`
	Cursor         string              `json:"cursor,omitempty"`
	Limit          int                 `json:"limit,omitempty"`
	IncludeDeleted bool                `json:"include_deleted"`
	IncludeDrafts  bool                `json:"include_drafts"`
}

func (s *Server) searchResponses(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	user, ok := s.requireFormAction(w, r, &form, permission.ActionView)
	if !ok {
		return
	}
	var in searchRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if in.IncludeDeleted && !permission.CanModerate(user, &form) {
		s.jsonError(w, "Forbidden", http.StatusForbidden)
		return
	}

	items, next, err := s.storage.SearchResponses(r.Context(), storage.ResponseFilter{
		FormID:         form.ID,
		Filter:         in.Filter,
		SortField:      in.SortField,
		SortDesc:       in.SortDesc,
		Cursor:         in.Cursor,
		Limit:          in.Limit,
		IncludeDeleted: in.IncludeDeleted,
		IncludeDrafts:  in.IncludeDrafts,
	})
	if err != nil {
		if strings.Contains(err.Error(), "cursor") {
			s.jsonError(w, "invalid cursor", http.StatusBadRequest)
			return
		}
		s.mapStorageErr(w, err, "responses")
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"items": items, "next_cursor": next})
}

func (s *Server) listResponses(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	user, ok := s.requireFormAction(w, r, &form, permission.ActionView)
	if !ok {
		return
	}
	common := s.parseCommonFilter(r)
	filter := storage.ResponseFilter{
		FormID:        form.ID,
		Page:          common.Page,
		Limit:         common.Limit,
		SortField:     r.URL.Query().Get("sort"),
		SortDesc:      r.URL.Query().Get("desc") == "true",
		IncludeDrafts: r.URL.Query().Get("include_drafts") == "true",
	}
	if r.URL.Query().Get("include_deleted") == "true" {
		if !permission.CanModerate(user, &form) {
			s.jsonError(w, "Forbidden", http.StatusForbidden)
			return
		}
		filter.IncludeDeleted = true
	}
	items, total, err := s.storage.ListResponses(r.Context(), filter)
	if err != nil {
		s.mapStorageErr(w, err, "responses")
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"items": items, "total": total})
}

// duplicateCheck reports whether the caller already submitted a
// non-deleted response with the same values for the given fields.
func (s *Server) duplicateCheck(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var in struct {
		Fields map[string]any `json:"fields"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || len(in.Fields) == 0 {
		s.jsonError(w, "fields is required", http.StatusBadRequest)
		return
	}

	var leaves []storage.FilterNode
	for id, value := range in.Fields {
		leaves = append(leaves, storage.FilterNode{FieldID: id, Op: "eq", Value: value})
	}
	items, _, err := s.storage.SearchResponses(r.Context(), storage.ResponseFilter{
		FormID:      form.ID,
		SubmittedBy: user.ID,
		Filter:      &storage.FilterNode{And: leaves},
		Limit:       1,
	})
	if err != nil {
		s.mapStorageErr(w, err, "responses")
		return
	}
	body := map[string]any{"duplicate": len(items) > 0}
	if len(items) > 0 {
		body["response_id"] = items[0].ID
	}
	s.jsonResponse(w, http.StatusOK, body)
}

// nextAction previews which workflow an existing response matches.
func (s *Server) nextAction(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	resp, err := s.storage.GetResponse(r.Context(), r.URL.Query().Get("response_id"))
	if err != nil {
		s.mapStorageErr(w, err, "response")
		return
	}
	if resp.FormID != form.ID {
		s.jsonError(w, "response not found", http.StatusNotFound)
		return
	}
	if !permission.CanReadResponse(user, &form, &resp) {
		s.jsonError(w, "Forbidden", http.StatusForbidden)
		return
	}
	wf, err := s.workflows.NextAction(r.Context(), form.ID, evaluator.Flatten(resp.Data))
	if err != nil {
		s.logger.Error("next-action preview failed", "form", form.ID, "error", err)
		s.jsonError(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if wf == nil {
		s.jsonResponse(w, http.StatusOK, map[string]any{"workflow": nil})
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"workflow": map[string]string{"id": wf.ID, "name": wf.Name}})
}

func (s *Server) listSavedSearches(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	user, ok := s.requireFormAction(w, r, &form, permission.ActionView)
	if !ok {
		return
	}
	searches, err := s.storage.ListSavedSearches(r.Context(), user.ID, form.ID)
	if err != nil {
		s.mapStorageErr(w, err, "saved searches")
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"items": searches})
}

func (s *Server) createSavedSearch(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	user, ok := s.requireFormAction(w, r, &form, permission.ActionView)
	if !ok {
		return
	}
	var in storage.SavedSearch
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || strings.TrimSpace(in.Name) == "" {
		s.jsonError(w, "name is required", http.StatusBadRequest)
		return
	}
	in.ID = uuid.New().String()
	in.UserID = user.ID
	in.FormID = form.ID
	in.CreatedAt = time.Now()
	if err := s.storage.CreateSavedSearch(r.Context(), in); err != nil {
		s.mapStorageErr(w, err, "saved search")
		return
	}
	s.jsonResponse(w, http.StatusCreated, in)
}

func (s *Server) deleteSavedSearch(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	searches, err := s.storage.ListSavedSearches(r.Context(), user.ID, form.ID)
	if err != nil {
		s.mapStorageErr(w, err, "saved searches")
		return
	}
	sid := r.PathValue("sid")
	for _, search := range searches {
		if search.ID == sid {
			if err := s.storage.DeleteSavedSearch(r.Context(), sid); err != nil {
				s.mapStorageErr(w, err, "saved search")
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	s.jsonError(w, "saved search not found", http.StatusNotFound)
}
