package api

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/user/formforge/internal/permission"
	"github.com/user/formforge/internal/storage"
	"github.com/user/formforge/pkg/export"
)

// allResponses loads the full non-deleted, non-draft response set for a
// form in pages.
func (s *Server) allResponses(ctx context.Context, formID string) ([]storage.FormResponse, error) {
	const pageSize = 500
	var out []storage.FormResponse
	for page := 1; ; page++ {
		items, total, err := s.storage.ListResponses(ctx, storage.ResponseFilter{
			FormID: formID,
			Page:   page,
			Limit:  pageSize,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
		if page*pageSize >= total || len(items) == 0 {
			return out, nil
		}
	}
}

func (s *Server) exportForm(w http.ResponseWriter, r *http.Request) (storage.Form, []storage.FormResponse, bool) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return storage.Form{}, nil, false
	}
	if _, ok := s.requireFormAction(w, r, &form, permission.ActionView); !ok {
		return storage.Form{}, nil, false
	}
	responses, err := s.allResponses(r.Context(), form.ID)
	if err != nil {
		s.mapStorageErr(w, err, "responses")
		return storage.Form{}, nil, false
	}
	return form, responses, true
}

func (s *Server) exportCSV(w http.ResponseWriter, r *http.Request) {
	form, responses, ok := s.exportForm(w, r)
	if !ok {
		return
	}
	version := form.Active()
	if version == nil {
		s.jsonError(w, "form has no active version", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", form.Slug+".csv"))
	if err := export.CSV(w, version, responses); err != nil {
		s.logger.Error("csv export failed", "form", form.ID, "error", err)
	}
}

func (s *Server) exportJSON(w http.ResponseWriter, r *http.Request) {
	form, responses, ok := s.exportForm(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", form.Slug+".json"))
	if err := export.JSON(w, &form, responses); err != nil {
		s.logger.Error("json export failed", "form", form.ID, "error", err)
	}
}

// exportArchive bundles CSV, JSON and uploaded files into one zip.
func (s *Server) exportArchive(w http.ResponseWriter, r *http.Request) {
	form, responses, ok := s.exportForm(w, r)
	if !ok {
		return
	}
	version := form.Active()
	if version == nil {
		s.jsonError(w, "form has no active version", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", form.Slug+".zip"))
	if err := export.Zip(w, &form, version, responses, s.files.Open); err != nil {
		s.logger.Error("archive export failed", "form", form.ID, "error", err)
	}
}

// exportBulk writes one CSV per requested form into a zip.
func (s *Server) exportBulk(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var in struct {
		FormIDs []string `json:"form_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || len(in.FormIDs) == 0 {
		s.jsonError(w, "form_ids is required", http.StatusBadRequest)
		return
	}

	type entry struct {
		form      storage.Form
		responses []storage.FormResponse
	}
	var entries []entry
	for _, id := range in.FormIDs {
		form, err := s.storage.GetForm(r.Context(), id)
		if err != nil {
			s.mapStorageErr(w, err, "form")
			return
		}
		if !permission.Can(user, &form, permission.ActionView) {
			s.jsonError(w, "Forbidden", http.StatusForbidden)
			return
		}
		responses, err := s.allResponses(r.Context(), form.ID)
		if err != nil {
			s.mapStorageErr(w, err, "responses")
			return
		}
		entries = append(entries, entry{form: form, responses: responses})
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="forms.zip"`)
	zw := zip.NewWriter(w)
	for _, e := range entries {
		version := e.form.Active()
		if version == nil {
			continue
		}
		f, err := zw.Create(e.form.Slug + ".csv")
		if err != nil {
			s.logger.Error("bulk export failed", "form", e.form.ID, "error", err)
			return
		}
		if err := export.CSV(f, version, e.responses); err != nil {
			s.logger.Error("bulk export failed", "form", e.form.ID, "error", err)
			return
		}
	}
	if err := zw.Close(); err != nil {
		s.logger.Error("bulk export failed", "error", err)
	}
}
