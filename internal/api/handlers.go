package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/user/formforge/internal/auth"
	"github.com/user/formforge/internal/storage"
	"github.com/user/formforge/pkg/validator"
)

type contextKey string

const userContextKey contextKey = "user"

const sessionCookie = "formforge_session"

func (s *Server) jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) jsonResponse(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// validationFailed writes the field-level error list grouped by field
// id, the shape submission clients render inline.
func (s *Server) validationFailed(w http.ResponseWriter, errs []validator.FieldError) {
	details := make(map[string][]string)
	for _, e := range errs {
		key := e.Path
		if key == "" {
			key = e.ID
		}
		details[key] = append(details[key], e.Error)
	}
	s.jsonResponse(w, http.StatusUnprocessableEntity, map[string]any{
		"error":   "validation_failed",
		"details": details,
	})
}

// mapStorageErr translates sentinel storage errors to status codes.
func (s *Server) mapStorageErr(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.jsonError(w, what+" not found", http.StatusNotFound)
	case errors.Is(err, storage.ErrDuplicate):
		s.jsonError(w, what+" already exists", http.StatusConflict)
	default:
		s.logger.Error("storage error", "what", what, "error", err)
		s.jsonError(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (s *Server) parseCommonFilter(r *http.Request) storage.CommonFilter {
	f := storage.CommonFilter{
		Page:   1,
		Limit:  100,
		Search: r.URL.Query().Get("search"),
	}
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		f.Page = p
	}
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		f.Limit = l
	}
	return f
}

func currentUser(r *http.Request) (storage.User, bool) {
	u, ok := r.Context().Value(userContextKey).(*storage.User)
	if !ok {
		return storage.User{}, false
	}
	return *u, true
}

func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (storage.User, bool) {
	user, ok := currentUser(r)
	if !ok {
		s.jsonError(w, "Unauthorized", http.StatusUnauthorized)
	}
	return user, ok
}

func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) (storage.User, bool) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return storage.User{}, false
	}
	if !user.HasRole(storage.RoleSuperadmin) && !user.HasRole(storage.RoleAdmin) {
		s.jsonError(w, "Forbidden", http.StatusForbidden)
		return storage.User{}, false
	}
	return user, true
}

// publicPath reports whether the route works without a session. Routes
// that serve public forms still enforce per-form checks in their
// handlers.
func publicPath(r *http.Request) bool {
	path := r.URL.Path
	switch path {
	case "/api/auth/login", "/api/auth/register", "/api/auth/generate-otp", "/api/auth/verify-otp",
		"/livez", "/readyz", "/metrics":
		return true
	}
	if strings.HasPrefix(path, "/api/public/") || strings.HasPrefix(path, "/api/files/") {
		return true
	}
	if strings.HasSuffix(path, "/public-submit") || strings.HasSuffix(path, "/preview") {
		return true
	}
	// Anonymous uploads feed public-submit payloads; the handler
	// rejects uploads to private forms.
	if strings.HasPrefix(path, "/api/forms/") && strings.Contains(path, "/files") {
		return true
	}
	return false
}

// authMiddleware attaches the session user to the request context.
// Claims carry enough identity to authorize without a user lookup.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, hasToken := extractBearerOrCookie(r)

		var claims *auth.SessionClaims
		if hasToken {
			c, err := s.auth.VerifyToken(r.Context(), tokenString)
			if err == nil {
				claims = c
			} else if !publicPath(r) {
				s.jsonError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}

		if claims == nil {
			if publicPath(r) {
				next.ServeHTTP(w, r)
				return
			}
			s.jsonError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		user := storage.User{
			ID:       claims.UserID,
			Username: claims.Username,
			Roles:    claims.Roles,
		}
		ctx := context.WithValue(r.Context(), userContextKey, &user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("handler panic", "path", r.URL.Path, "error", err)
				s.jsonError(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; img-src 'self' data:; connect-src 'self'")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearerOrCookie(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return authHeader[7:], true
	}
	cookie, err := r.Cookie(sessionCookie)
	if err == nil {
		return cookie.Value, true
	}
	return "", false
}

// loadForm resolves the {id} path value to a form, writing 404 on miss.
func (s *Server) loadForm(w http.ResponseWriter, r *http.Request) (storage.Form, bool) {
	form, err := s.storage.GetForm(r.Context(), r.PathValue("id"))
	if err != nil {
		s.mapStorageErr(w, err, "form")
		return storage.Form{}, false
	}
	return form, true
}
