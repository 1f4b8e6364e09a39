package api

import (
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/user/formforge/internal/permission"
	"github.com/user/formforge/internal/storage"
	"github.com/user/formforge/pkg/validator"
)

// uploadFile stores one file for a file_upload question and returns the
// reference the client embeds in its submission payload.
func (s *Server) uploadFile(w http.ResponseWriter, r *http.Request) {
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
	if form.Status != storage.FormPublished {
		s.jsonError(w, "form is not accepting submissions", http.StatusForbidden)
		return
	}

	qid := r.PathValue("qid")
	version := form.Active()
	if version == nil || !hasFileQuestion(version, qid) {
		s.jsonError(w, "question not found", http.StatusNotFound)
		return
	}

	// Leave headroom for the multipart framing around the 10 MB cap.
	r.Body = http.MaxBytesReader(w, r.Body, validator.MaxFileSize+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.jsonError(w, "file field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if header.Size > validator.MaxFileSize {
		s.jsonError(w, "file exceeds the 10 MB limit", http.StatusRequestEntityTooLarge)
		return
	}
	if !validator.AllowedExtension(header.Filename) {
		s.jsonError(w, "file type is not allowed", http.StatusBadRequest)
		return
	}

	rel, size, err := s.files.Save(form.ID, qid, header.Filename, file)
	if err != nil {
		s.logger.Error("file save failed", "form", form.ID, "question", qid, "error", err)
		s.jsonError(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, http.StatusCreated, map[string]any{
		"filename": filepath.Base(rel),
		"path":     rel,
		"size":     size,
	})
}

func hasFileQuestion(version *storage.FormVersion, qid string) bool {
	for _, sec := range version.Sections {
		for _, q := range sec.Questions {
			if q.ID == qid && q.FieldType == storage.FieldFileUpload {
				return true
			}
		}
	}
	return false
}

// downloadFile serves an uploaded file. The path starts with the form
// id, which carries the access rule: public forms allow anonymous
// reads, private ones need view access.
func (s *Server) downloadFile(w http.ResponseWriter, r *http.Request) {
	rel := r.PathValue("path")
	parts := strings.SplitN(rel, "/", 2)
	if len(parts) < 2 {
		s.jsonError(w, "file not found", http.StatusNotFound)
		return
	}
	form, err := s.storage.GetForm(r.Context(), parts[0])
	if err != nil {
		s.mapStorageErr(w, err, "form")
		return
	}
	if !form.IsPublic {
		user, authed := currentUser(r)
		if !authed {
			s.jsonError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if !permission.Can(user, &form, permission.ActionView) {
			s.jsonError(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	f, err := s.files.Open(rel)
	if err != nil {
		s.jsonError(w, "file not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	contentType := mime.TypeByExtension(filepath.Ext(rel))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment")
	if _, err := io.Copy(w, f); err != nil {
		s.logger.Error("file download aborted", "path", rel, "error", err)
	}
}
