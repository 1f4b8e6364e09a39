package api

import (
	"net/http"
	"strconv"

	"github.com/user/formforge/internal/permission"
	"github.com/user/formforge/internal/storage"
	"github.com/user/formforge/pkg/evaluator"
)

func (s *Server) analyticsSummary(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	if _, ok := s.requireFormAction(w, r, &form, permission.ActionView); !ok {
		return
	}
	summary, err := s.storage.ResponseSummary(r.Context(), form.ID)
	if err != nil {
		s.mapStorageErr(w, err, "summary")
		return
	}
	s.jsonResponse(w, http.StatusOK, summary)
}

func (s *Server) analyticsTimeline(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	if _, ok := s.requireFormAction(w, r, &form, permission.ActionView); !ok {
		return
	}
	days := 30
	if d, err := strconv.Atoi(r.URL.Query().Get("days")); err == nil && d > 0 && d <= 365 {
		days = d
	}
	timeline, err := s.storage.ResponseTimeline(r.Context(), form.ID, days)
	if err != nil {
		s.mapStorageErr(w, err, "timeline")
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"days": days, "points": timeline})
}

// analyticsDistribution counts option selections per choice question
// across all non-deleted, non-draft responses.
func (s *Server) analyticsDistribution(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	if _, ok := s.requireFormAction(w, r, &form, permission.ActionView); !ok {
		return
	}
	version := form.Active()
	if version == nil {
		s.jsonResponse(w, http.StatusOK, map[string]any{"questions": map[string]any{}})
		return
	}

	counts := make(map[string]map[string]int)
	for _, sec := range version.Sections {
		for _, q := range sec.Questions {
			switch q.FieldType {
			case storage.FieldSelect, storage.FieldRadio, storage.FieldCheckbox:
				counts[q.ID] = make(map[string]int)
			}
		}
	}
	if len(counts) == 0 {
		s.jsonResponse(w, http.StatusOK, map[string]any{"questions": counts})
		return
	}

	const pageSize = 500
	for page := 1; ; page++ {
		items, total, err := s.storage.ListResponses(r.Context(), storage.ResponseFilter{
			FormID: form.ID,
			Page:   page,
			Limit:  pageSize,
		})
		if err != nil {
			s.mapStorageErr(w, err, "responses")
			return
		}
		for _, resp := range items {
			flat := evaluator.Flatten(resp.Data)
			for qid, tally := range counts {
				switch val := flat[qid].(type) {
				case string:
					tally[val]++
				case []any:
					for _, item := range val {
						if str, ok := item.(string); ok {
							tally[str]++
						}
					}
				}
			}
		}
		if page*pageSize >= total || len(items) == 0 {
			break
		}
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{"questions": counts})
}
