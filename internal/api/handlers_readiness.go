package api

import (
	"net/http"
	"time"

	"github.com/user/formforge/internal/storage"
)

func (s *Server) livez(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readyz probes the storage backend with a cheap list call.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	_, _, err := s.storage.ListForms(r.Context(), storage.FormFilter{
		CommonFilter: storage.CommonFilter{Page: 1, Limit: 1},
	})
	elapsed := time.Since(start)

	if err != nil {
		ReadinessStatus.WithLabelValues("storage").Set(0)
		s.logger.Error("readiness check failed", "component", "storage", "elapsed", elapsed, "error", err)
		s.jsonResponse(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"checks": map[string]string{"storage": err.Error()},
		})
		return
	}
	ReadinessStatus.WithLabelValues("storage").Set(1)
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status": "ok",
		"checks": map[string]string{"storage": "ok"},
	})
}
