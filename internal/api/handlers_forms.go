package api

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/user/formforge/internal/permission"
	"github.com/user/formforge/internal/schema"
	"github.com/user/formforge/internal/storage"
)

type formPayload struct {
	Title              string            `json:"title"`
	Slug               string            `json:"slug"`
	IsPublic           *bool             `json:"is_public"`
	ExpiresAt          *time.Time        `json:"expires_at"`
	Editors            []string          `json:"editors"`
	Viewers            []string          `json:"viewers"`
	Submitters         []string          `json:"submitters"`
	SupportedLanguages []string          `json:"supported_languages"`
	DefaultLanguage    string            `json:"default_language"`
	Webhooks           []storage.Webhook `json:"webhooks"`
	NotificationEmails []string          `json:"notification_emails"`
	Versions           []json.RawMessage `json:"versions"`
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(title string) string {
	return strings.Trim(slugRe.ReplaceAllString(strings.ToLower(title), "-"), "-")
}

func (s *Server) requireFormAction(w http.ResponseWriter, r *http.Request, form *storage.Form, action permission.Action) (storage.User, bool) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return storage.User{}, false
	}
	if !permission.Can(user, form, action) {
		s.jsonError(w, "Forbidden", http.StatusForbidden)
		return storage.User{}, false
	}
	return user, true
}

// decodeVersion runs the structural schema check, then decodes and
// applies semantic checks. Options without ids get fresh UUIDs.
func (s *Server) decodeVersion(raw []byte, createdBy string) (storage.FormVersion, []string) {
	if msgs := schema.CheckShape(raw); len(msgs) > 0 {
		return storage.FormVersion{}, msgs
	}
	var v storage.FormVersion
	if err := json.Unmarshal(raw, &v); err != nil {
		return storage.FormVersion{}, []string{err.Error()}
	}
	for si := range v.Sections {
		for qi := range v.Sections[si].Questions {
			for oi := range v.Sections[si].Questions[qi].Options {
				if v.Sections[si].Questions[qi].Options[oi].ID == "" {
					v.Sections[si].Questions[qi].Options[oi].ID = uuid.New().String()
				}
			}
		}
	}
	if msgs := schema.CheckSemantics(s.eval, &v); len(msgs) > 0 {
		return storage.FormVersion{}, msgs
	}
	v.CreatedBy = createdBy
	v.CreatedAt = time.Now()
	return v, nil
}

func (s *Server) schemaInvalid(w http.ResponseWriter, msgs []string) {
	s.jsonResponse(w, http.StatusBadRequest, map[string]any{
		"error":   "invalid_schema",
		"details": msgs,
	})
}

func (s *Server) createForm(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	if !user.HasRole(storage.RoleCreator) && !user.HasRole(storage.RoleAdmin) && !user.HasRole(storage.RoleSuperadmin) {
		s.jsonError(w, "Forbidden", http.StatusForbidden)
		return
	}

	var in formPayload
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if in.Title == "" {
		s.jsonError(w, "title is required", http.StatusBadRequest)
		return
	}

	form := storage.Form{
		ID:                 uuid.New().String(),
		Title:              in.Title,
		Slug:               in.Slug,
		CreatedBy:          user.ID,
		Status:             storage.FormDraft,
		Editors:            in.Editors,
		Viewers:            in.Viewers,
		Submitters:         in.Submitters,
		SupportedLanguages: in.SupportedLanguages,
		DefaultLanguage:    in.DefaultLanguage,
		Webhooks:           in.Webhooks,
		NotificationEmails: in.NotificationEmails,
		ExpiresAt:          in.ExpiresAt,
		CreatedAt:          time.Now(),
		UpdatedAt:          time.Now(),
	}
	if in.IsPublic != nil {
		form.IsPublic = *in.IsPublic
	}
	if form.Slug == "" {
		form.Slug = slugify(in.Title)
	}
	// The creator is always an editor of their own form.
	if !contains(form.Editors, user.ID) {
		form.Editors = append(form.Editors, user.ID)
	}

	for _, raw := range in.Versions {
		v, msgs := s.decodeVersion(raw, user.ID)
		if len(msgs) > 0 {
			s.schemaInvalid(w, msgs)
			return
		}
		if v.Version == "" {
			v.Version = "1.0"
		}
		if form.Version(v.Version) != nil {
			s.jsonError(w, "duplicate version "+v.Version, http.StatusConflict)
			return
		}
		form.Versions = append(form.Versions, v)
	}
	if len(form.Versions) > 0 {
		form.ActiveVersion = form.Versions[0].Version
	}

	if err := s.storage.CreateForm(r.Context(), form); err != nil {
		s.mapStorageErr(w, err, "form")
		return
	}
	s.audit(r, user.ID, "form_created", form.ID, "form")
	s.jsonResponse(w, http.StatusCreated, form)
}

func (s *Server) listForms(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	filter := storage.FormFilter{
		CommonFilter: s.parseCommonFilter(r),
		Status:       storage.FormStatus(r.URL.Query().Get("status")),
	}
	forms, total, err := s.storage.ListForms(r.Context(), filter)
	if err != nil {
		s.mapStorageErr(w, err, "forms")
		return
	}
	if !user.HasRole(storage.RoleSuperadmin) && !user.HasRole(storage.RoleAdmin) {
		visible := forms[:0]
		for _, f := range forms {
			if permission.Can(user, &f, permission.ActionView) {
				visible = append(visible, f)
			}
		}
		forms = visible
		total = len(forms)
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"items": forms, "total": total})
}

func (s *Server) getForm(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	user, authed := currentUser(r)
	if authed && permission.Can(user, &form, permission.ActionView) {
		s.jsonResponse(w, http.StatusOK, form)
		return
	}
	if form.IsPublic && form.Status == storage.FormPublished {
		s.jsonResponse(w, http.StatusOK, publicView(form))
		return
	}
	if !authed {
		s.jsonError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	s.jsonError(w, "Forbidden", http.StatusForbidden)
}

// publicView strips credentials, ACLs and inactive versions from a
// form before anonymous delivery.
func publicView(form storage.Form) storage.Form {
	form.Webhooks = nil
	form.NotificationEmails = nil
	form.Editors = nil
	form.Viewers = nil
	form.Submitters = nil
	form.CreatedBy = ""
	if active := form.Active(); active != nil {
		form.Versions = []storage.FormVersion{*active}
	} else {
		form.Versions = nil
	}
	return form
}

func (s *Server) getPublicForm(w http.ResponseWriter, r *http.Request) {
	form, err := s.storage.GetFormBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		s.mapStorageErr(w, err, "form")
		return
	}
	if !form.IsPublic || form.Status != storage.FormPublished {
		s.jsonError(w, "form not found", http.StatusNotFound)
		return
	}
	s.jsonResponse(w, http.StatusOK, publicView(form))
}

func (s *Server) updateForm(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	user, ok := s.requireFormAction(w, r, &form, permission.ActionEdit)
	if !ok {
		return
	}
	var in formPayload
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if len(in.Versions) > 0 {
		s.jsonError(w, "versions are managed through the versions endpoint", http.StatusBadRequest)
		return
	}
	if in.Title != "" {
		form.Title = in.Title
	}
	if in.Slug != "" {
		form.Slug = in.Slug
	}
	if in.IsPublic != nil {
		form.IsPublic = *in.IsPublic
	}
	if in.ExpiresAt != nil {
		form.ExpiresAt = in.ExpiresAt
	}
	if in.Editors != nil {
		form.Editors = in.Editors
		if !contains(form.Editors, form.CreatedBy) {
			form.Editors = append(form.Editors, form.CreatedBy)
		}
	}
	if in.Viewers != nil {
		form.Viewers = in.Viewers
	}
	if in.Submitters != nil {
		form.Submitters = in.Submitters
	}
	if in.SupportedLanguages != nil {
		form.SupportedLanguages = in.SupportedLanguages
	}
	if in.DefaultLanguage != "" {
		form.DefaultLanguage = in.DefaultLanguage
	}
	if in.Webhooks != nil {
		form.Webhooks = in.Webhooks
	}
	if in.NotificationEmails != nil {
		form.NotificationEmails = in.NotificationEmails
	}
	form.UpdatedAt = time.Now()

	if err := s.storage.UpdateForm(r.Context(), form); err != nil {
		s.mapStorageErr(w, err, "form")
		return
	}
	s.audit(r, user.ID, "form_updated", form.ID, "form")
	s.jsonResponse(w, http.StatusOK, form)
}

func (s *Server) deleteForm(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if err := s.storage.DeleteForm(r.Context(), id); err != nil {
		s.mapStorageErr(w, err, "form")
		return
	}
	s.audit(r, user.ID, "form_deleted", id, "form")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createVersion(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	user, ok := s.requireFormAction(w, r, &form, permission.ActionEdit)
	if !ok {
		return
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		s.jsonError(w, "failed to read body", http.StatusBadRequest)
		return
	}
	var meta struct {
		Version  string `json:"version"`
		Activate bool   `json:"activate"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		s.jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if meta.Version == "" {
		s.jsonError(w, "version is required", http.StatusBadRequest)
		return
	}
	if form.Version(meta.Version) != nil {
		s.jsonError(w, "duplicate version "+meta.Version, http.StatusConflict)
		return
	}

	v, msgs := s.decodeVersion(raw, user.ID)
	if len(msgs) > 0 {
		s.schemaInvalid(w, msgs)
		return
	}
	form.Versions = append(form.Versions, v)
	if meta.Activate || form.ActiveVersion == "" {
		form.ActiveVersion = v.Version
	}
	form.UpdatedAt = time.Now()

	if err := s.storage.UpdateForm(r.Context(), form); err != nil {
		s.mapStorageErr(w, err, "form")
		return
	}
	s.audit(r, user.ID, "version_created", form.ID, "form")
	s.jsonResponse(w, http.StatusCreated, v)
}

func (s *Server) activateVersion(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	user, ok := s.requireFormAction(w, r, &form, permission.ActionEdit)
	if !ok {
		return
	}
	version := r.PathValue("version")
	if form.Version(version) == nil {
		s.jsonError(w, "version not found", http.StatusNotFound)
		return
	}
	if form.ActiveVersion == version {
		// Already active, nothing to do.
		s.jsonResponse(w, http.StatusOK, form)
		return
	}
	form.ActiveVersion = version
	form.UpdatedAt = time.Now()
	if err := s.storage.UpdateForm(r.Context(), form); err != nil {
		s.mapStorageErr(w, err, "form")
		return
	}
	s.audit(r, user.ID, "version_activated", form.ID, "form")
	s.jsonResponse(w, http.StatusOK, form)
}

func (s *Server) upsertTranslations(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	user, ok := s.requireFormAction(w, r, &form, permission.ActionEdit)
	if !ok {
		return
	}
	version := form.Version(r.PathValue("version"))
	if version == nil {
		s.jsonError(w, "version not found", http.StatusNotFound)
		return
	}
	lang := r.PathValue("lang")

	var in map[string]storage.LocalizedText
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	if version.Translations == nil {
		version.Translations = make(map[string]map[string]storage.LocalizedText)
	}
	existing := version.Translations[lang]
	if existing == nil {
		existing = make(map[string]storage.LocalizedText)
	}
	// Merge at the node level so partial payloads never wipe other ids.
	for id, text := range in {
		cur := existing[id]
		if text.Title != "" {
			cur.Title = text.Title
		}
		if text.Label != "" {
			cur.Label = text.Label
		}
		if text.HelpText != "" {
			cur.HelpText = text.HelpText
		}
		if text.OptionLabel != "" {
			cur.OptionLabel = text.OptionLabel
		}
		existing[id] = cur
	}
	version.Translations[lang] = existing
	if !contains(form.SupportedLanguages, lang) {
		form.SupportedLanguages = append(form.SupportedLanguages, lang)
	}
	form.UpdatedAt = time.Now()

	if err := s.storage.UpdateForm(r.Context(), form); err != nil {
		s.mapStorageErr(w, err, "form")
		return
	}
	s.audit(r, user.ID, "translations_updated", form.ID, "form")
	s.jsonResponse(w, http.StatusOK, version.Translations[lang])
}

// transitionForm applies a status change following the lifecycle
// draft <-> published -> archived -> draft.
func (s *Server) transitionForm(w http.ResponseWriter, r *http.Request, to storage.FormStatus, allowedFrom ...storage.FormStatus) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	user, ok := s.requireFormAction(w, r, &form, permission.ActionEdit)
	if !ok {
		return
	}
	if form.Status == to {
		// Idempotent no-op.
		s.jsonResponse(w, http.StatusOK, form)
		return
	}
	allowed := false
	for _, from := range allowedFrom {
		if form.Status == from {
			allowed = true
			break
		}
	}
	if !allowed {
		s.jsonError(w, "cannot move form from "+string(form.Status)+" to "+string(to), http.StatusForbidden)
		return
	}
	form.Status = to
	form.UpdatedAt = time.Now()
	if err := s.storage.UpdateForm(r.Context(), form); err != nil {
		s.mapStorageErr(w, err, "form")
		return
	}
	s.audit(r, user.ID, "form_"+string(to), form.ID, "form")
	s.jsonResponse(w, http.StatusOK, form)
}

func (s *Server) publishForm(w http.ResponseWriter, r *http.Request) {
	s.transitionForm(w, r, storage.FormPublished, storage.FormDraft)
}

func (s *Server) archiveForm(w http.ResponseWriter, r *http.Request) {
	s.transitionForm(w, r, storage.FormArchived, storage.FormPublished)
}

func (s *Server) restoreForm(w http.ResponseWriter, r *http.Request) {
	s.transitionForm(w, r, storage.FormDraft, storage.FormArchived, storage.FormPublished)
}

func (s *Server) togglePublic(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	user, ok := s.requireFormAction(w, r, &form, permission.ActionEdit)
	if !ok {
		return
	}
	form.IsPublic = !form.IsPublic
	form.UpdatedAt = time.Now()
	if err := s.storage.UpdateForm(r.Context(), form); err != nil {
		s.mapStorageErr(w, err, "form")
		return
	}
	s.audit(r, user.ID, "form_toggle_public", form.ID, "form")
	s.jsonResponse(w, http.StatusOK, form)
}

func (s *Server) expireForm(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	user, ok := s.requireFormAction(w, r, &form, permission.ActionEdit)
	if !ok {
		return
	}
	if form.ExpiresAt != nil && form.ExpiresAt.Before(time.Now()) {
		// Already expired.
		s.jsonResponse(w, http.StatusOK, form)
		return
	}
	now := time.Now()
	form.ExpiresAt = &now
	form.UpdatedAt = now
	if err := s.storage.UpdateForm(r.Context(), form); err != nil {
		s.mapStorageErr(w, err, "form")
		return
	}
	s.audit(r, user.ID, "form_expired", form.ID, "form")
	s.jsonResponse(w, http.StatusOK, form)
}

type reorderRequest struct {
	Version string   `json:"version,omitempty"`
	Order   []string `json:"order"`
}

// targetVersion picks the requested version or falls back to active.
func (s *Server) targetVersion(w http.ResponseWriter, form *storage.Form, requested string) *storage.FormVersion {
	name := requested
	if name == "" {
		name = form.ActiveVersion
	}
	version := form.Version(name)
	if version == nil {
		s.jsonError(w, "version not found", http.StatusNotFound)
	}
	return version
}

func (s *Server) reorderSections(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	user, ok := s.requireFormAction(w, r, &form, permission.ActionEdit)
	if !ok {
		return
	}
	var in reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	version := s.targetVersion(w, &form, in.Version)
	if version == nil {
		return
	}

	reordered, err := reorderSlice(version.Sections, in.Order, func(sec *storage.Section) string { return sec.ID }, func(sec *storage.Section, i int) { sec.Order = i })
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	version.Sections = reordered
	form.UpdatedAt = time.Now()
	if err := s.storage.UpdateForm(r.Context(), form); err != nil {
		s.mapStorageErr(w, err, "form")
		return
	}
	s.audit(r, user.ID, "sections_reordered", form.ID, "form")
	s.jsonResponse(w, http.StatusOK, version.Sections)
}

func (s *Server) reorderQuestions(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	user, ok := s.requireFormAction(w, r, &form, permission.ActionEdit)
	if !ok {
		return
	}
	var in reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	version := s.targetVersion(w, &form, in.Version)
	if version == nil {
		return
	}
	section := findSection(version, r.PathValue("sid"))
	if section == nil {
		s.jsonError(w, "section not found", http.StatusNotFound)
		return
	}

	reordered, err := reorderSlice(section.Questions, in.Order, func(q *storage.Question) string { return q.ID }, func(q *storage.Question, i int) { q.Order = i })
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	section.Questions = reordered
	form.UpdatedAt = time.Now()
	if err := s.storage.UpdateForm(r.Context(), form); err != nil {
		s.mapStorageErr(w, err, "form")
		return
	}
	s.audit(r, user.ID, "questions_reordered", form.ID, "form")
	s.jsonResponse(w, http.StatusOK, section.Questions)
}

// reorderSlice permutes items to match order. Every existing id must
// appear in order exactly once; the same elements are retained, only
// their positions and Order fields change.
func reorderSlice[T any](items []T, order []string, id func(*T) string, setOrder func(*T, int)) ([]T, error) {
	if len(order) != len(items) {
		return nil, errOrderMismatch
	}
	byID := make(map[string]int, len(items))
	for i := range items {
		byID[id(&items[i])] = i
	}
	out := make([]T, 0, len(items))
	seen := make(map[string]bool, len(order))
	for pos, want := range order {
		idx, ok := byID[want]
		if !ok || seen[want] {
			return nil, errOrderMismatch
		}
		seen[want] = true
		item := items[idx]
		setOrder(&item, pos)
		out = append(out, item)
	}
	return out, nil
}

var errOrderMismatch = errors.New("order must list every existing id exactly once")

func findSection(version *storage.FormVersion, id string) *storage.Section {
	for i := range version.Sections {
		if version.Sections[i].ID == id {
			return &version.Sections[i]
		}
	}
	return nil
}

func findQuestion(section *storage.Section, id string) *storage.Question {
	for i := range section.Questions {
		if section.Questions[i].ID == id {
			return &section.Questions[i]
		}
	}
	return nil
}

// importOptions parses CSV rows of "label,value" (value defaults to
// the label) into the question's option list.
func (s *Server) importOptions(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	user, ok := s.requireFormAction(w, r, &form, permission.ActionEdit)
	if !ok {
		return
	}
	version := s.targetVersion(w, &form, r.URL.Query().Get("version"))
	if version == nil {
		return
	}
	section := findSection(version, r.PathValue("sid"))
	if section == nil {
		s.jsonError(w, "section not found", http.StatusNotFound)
		return
	}
	question := findQuestion(section, r.PathValue("qid"))
	if question == nil {
		s.jsonError(w, "question not found", http.StatusNotFound)
		return
	}
	switch question.FieldType {
	case storage.FieldSelect, storage.FieldRadio, storage.FieldCheckbox:
	default:
		s.jsonError(w, "question does not take options", http.StatusBadRequest)
		return
	}

	reader := csv.NewReader(r.Body)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		s.jsonError(w, "invalid CSV: "+err.Error(), http.StatusBadRequest)
		return
	}

	replace := r.URL.Query().Get("replace") == "true"
	options := question.Options
	if replace {
		options = nil
	}
	seen := make(map[string]bool, len(options))
	for _, o := range options {
		seen[o.OptionValue] = true
	}
	for _, row := range rows {
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		label := strings.TrimSpace(row[0])
		value := label
		if len(row) > 1 && strings.TrimSpace(row[1]) != "" {
			value = strings.TrimSpace(row[1])
		}
		if seen[value] {
			continue
		}
		seen[value] = true
		options = append(options, storage.Option{
			ID:          uuid.New().String(),
			OptionLabel: label,
			OptionValue: value,
			Order:       len(options),
		})
	}
	question.Options = options
	form.UpdatedAt = time.Now()

	if err := s.storage.UpdateForm(r.Context(), form); err != nil {
		s.mapStorageErr(w, err, "form")
		return
	}
	s.audit(r, user.ID, "options_imported", form.ID, "form")
	s.jsonResponse(w, http.StatusOK, question.Options)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
