package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/user/formforge/internal/auth"
	"github.com/user/formforge/internal/storage"
)

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type otpRequest struct {
	Mobile string `json:"mobile"`
	Code   string `json:"code,omitempty"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	// Self-registration never grants elevated roles.
	in.Roles = nil

	user, err := s.auth.Register(r.Context(), in)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			s.jsonError(w, "identifier already in use", http.StatusConflict)
			return
		}
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	user.Password = ""
	s.jsonResponse(w, http.StatusCreated, user)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	user, token, err := s.auth.Login(r.Context(), in.Identifier, in.Password)
	if err != nil {
		s.loginError(w, r, in.Identifier, err)
		return
	}
	s.setSessionCookie(w, token)
	user.Password = ""
	s.jsonResponse(w, http.StatusOK, map[string]any{"access_token": token, "user": user})
}

func (s *Server) loginError(w http.ResponseWriter, r *http.Request, identifier string, err error) {
	switch {
	case errors.Is(err, auth.ErrAccountLocked):
		body := map[string]any{"error": "account_locked"}
		if u, lookupErr := s.storage.GetUserByIdentifier(r.Context(), identifier); lookupErr == nil && u.LockUntil != nil {
			body["retry_after"] = u.LockUntil.UTC().Format(time.RFC3339)
		}
		s.jsonResponse(w, http.StatusForbidden, body)
	case errors.Is(err, auth.ErrPasswordExpired):
		s.jsonError(w, "password_expired", http.StatusForbidden)
	case errors.Is(err, auth.ErrOTPRequired):
		s.jsonError(w, "otp_required", http.StatusForbidden)
	case errors.Is(err, auth.ErrRateLimited):
		s.jsonError(w, "too many attempts", http.StatusTooManyRequests)
	case errors.Is(err, auth.ErrInvalidCredentials):
		s.jsonError(w, "invalid credentials", http.StatusUnauthorized)
	default:
		s.logger.Error("login failed", "error", err)
		s.jsonError(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(auth.TokenTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) generateOTP(w http.ResponseWriter, r *http.Request) {
	var in otpRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Mobile == "" {
		s.jsonError(w, "mobile is required", http.StatusBadRequest)
		return
	}
	if err := s.auth.RequestOTP(r.Context(), in.Mobile); err != nil {
		switch {
		case errors.Is(err, auth.ErrOTPResendLocked), errors.Is(err, auth.ErrAccountLocked):
			s.jsonError(w, "account_locked", http.StatusForbidden)
		case errors.Is(err, auth.ErrRateLimited):
			s.jsonError(w, "too many attempts", http.StatusTooManyRequests)
		default:
			s.logger.Error("otp request failed", "error", err)
			s.jsonError(w, "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}
	// Unknown mobiles get the same answer so the endpoint cannot be
	// used to probe registrations.
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var in otpRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Mobile == "" || in.Code == "" {
		s.jsonError(w, "mobile and code are required", http.StatusBadRequest)
		return
	}
	user, token, err := s.auth.VerifyOTP(r.Context(), in.Mobile, in.Code)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrAccountLocked):
			s.jsonError(w, "account_locked", http.StatusForbidden)
		case errors.Is(err, auth.ErrRateLimited):
			s.jsonError(w, "too many attempts", http.StatusTooManyRequests)
		case errors.Is(err, auth.ErrInvalidOTP):
			s.jsonError(w, "invalid or expired code", http.StatusUnauthorized)
		default:
			s.logger.Error("otp verify failed", "error", err)
			s.jsonError(w, "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}
	s.setSessionCookie(w, token)
	user.Password = ""
	s.jsonResponse(w, http.StatusOK, map[string]any{"access_token": token, "user": user})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	tokenString, ok := extractBearerOrCookie(r)
	if !ok {
		s.jsonError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	claims, err := s.auth.VerifyToken(r.Context(), tokenString)
	if err != nil {
		s.jsonError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if err := s.auth.Logout(r.Context(), claims); err != nil {
		s.logger.Error("logout failed", "user", claims.UserID, "error", err)
		s.jsonError(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var in struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := s.auth.ChangePassword(r.Context(), user.ID, in.CurrentPassword, in.NewPassword); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.jsonError(w, "current password is incorrect", http.StatusForbidden)
			return
		}
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "changed"})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	user, err := s.storage.GetUser(r.Context(), claims.ID)
	if err != nil {
		s.mapStorageErr(w, err, "user")
		return
	}
	user.Password = ""
	s.jsonResponse(w, http.StatusOK, user)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	users, total, err := s.storage.ListUsers(r.Context(), s.parseCommonFilter(r))
	if err != nil {
		s.mapStorageErr(w, err, "users")
		return
	}
	for i := range users {
		users[i].Password = ""
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"items": users, "total": total})
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	var in auth.RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	user, err := s.auth.Register(r.Context(), in)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			s.jsonError(w, "identifier already in use", http.StatusConflict)
			return
		}
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	user.Password = ""
	s.jsonResponse(w, http.StatusCreated, user)
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	existing, err := s.storage.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		s.mapStorageErr(w, err, "user")
		return
	}
	var in struct {
		Email      *string         `json:"email"`
		EmployeeID *string         `json:"employee_id"`
		Mobile     *string         `json:"mobile"`
		Roles      *[]storage.Role `json:"roles"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if in.Email != nil {
		existing.Email = *in.Email
	}
	if in.EmployeeID != nil {
		existing.EmployeeID = *in.EmployeeID
	}
	if in.Mobile != nil {
		existing.Mobile = *in.Mobile
	}
	if in.Roles != nil {
		existing.Roles = *in.Roles
	}
	if err := s.storage.UpdateUser(r.Context(), existing); err != nil {
		s.mapStorageErr(w, err, "user")
		return
	}
	existing.Password = ""
	s.jsonResponse(w, http.StatusOK, existing)
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	if err := s.storage.DeleteUser(r.Context(), r.PathValue("id")); err != nil {
		s.mapStorageErr(w, err, "user")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) unlockUser(w http.ResponseWriter, r *http.Request) {
	admin, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if err := s.auth.Unlock(r.Context(), id); err != nil {
		s.mapStorageErr(w, err, "user")
		return
	}
	s.audit(r, admin.ID, "user_unlocked", id, "user")
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "unlocked"})
}

// audit records an admin action; failures only log.
func (s *Server) audit(r *http.Request, userID, action, entityID, entityType string) {
	entry := storage.AuditLog{
		ID:         uuid.New().String(),
		Timestamp:  time.Now(),
		Level:      "info",
		Message:    action,
		Action:     action,
		UserID:     userID,
		EntityID:   entityID,
		EntityType: entityType,
	}
	if err := s.storage.CreateAuditLog(r.Context(), entry); err != nil {
		s.logger.Error("audit write failed", "action", action, "error", err)
	}
}

func (s *Server) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	filter := storage.AuditLogFilter{
		CommonFilter: s.parseCommonFilter(r),
		Level:        r.URL.Query().Get("level"),
		Action:       r.URL.Query().Get("action"),
		EntityID:     r.URL.Query().Get("entity_id"),
		EntityType:   r.URL.Query().Get("entity_type"),
	}
	logs, total, err := s.storage.ListAuditLogs(r.Context(), filter)
	if err != nil {
		s.mapStorageErr(w, err, "audit logs")
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"items": logs, "total": total})
}
