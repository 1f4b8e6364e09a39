package api

import (
	"net/http"

	formforge "github.com/user/formforge"
	"github.com/user/formforge/internal/auth"
	"github.com/user/formforge/internal/notification"
	"github.com/user/formforge/internal/storage"
	"github.com/user/formforge/internal/workflow"
	"github.com/user/formforge/pkg/evaluator"
	"github.com/user/formforge/pkg/filestore"
	"github.com/user/formforge/pkg/validator"
	"github.com/user/formforge/pkg/webhook"
)

type Server struct {
	storage   storage.Storage
	auth      *auth.Service
	eval      *evaluator.Evaluator
	validator *validator.Validator
	workflows *workflow.Engine
	webhooks  *webhook.Dispatcher
	emails    *notification.Service
	files     *filestore.Store
	logger    formforge.Logger
}

func NewServer(st storage.Storage, authSvc *auth.Service, eval *evaluator.Evaluator, wf *workflow.Engine, hooks *webhook.Dispatcher, emails *notification.Service, files *filestore.Store, logger formforge.Logger) *Server {
	return &Server{
		storage:   st,
		auth:      authSvc,
		eval:      eval,
		validator: validator.New(eval),
		workflows: wf,
		webhooks:  hooks,
		emails:    emails,
		files:     files,
		logger:    logger,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/register", s.register)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("POST /api/auth/generate-otp", s.generateOTP)
	mux.HandleFunc("POST /api/auth/verify-otp", s.verifyOTP)
	mux.HandleFunc("POST /api/auth/logout", s.logout)
	mux.HandleFunc("POST /api/auth/change-password", s.changePassword)
	mux.HandleFunc("GET /api/auth/me", s.me)

	mux.HandleFunc("GET /api/users", s.listUsers)
	mux.HandleFunc("POST /api/users", s.createUser)
	mux.HandleFunc("PUT /api/users/{id}", s.updateUser)
	mux.HandleFunc("DELETE /api/users/{id}", s.deleteUser)
	mux.HandleFunc("PATCH /api/users/{id}/unlock", s.unlockUser)

	mux.HandleFunc("GET /api/forms", s.listForms)
	mux.HandleFunc("POST /api/forms", s.createForm)
	mux.HandleFunc("GET /api/forms/{id}", s.getForm)
	mux.HandleFunc("PUT /api/forms/{id}", s.updateForm)
	mux.HandleFunc("DELETE /api/forms/{id}", s.deleteForm)
	mux.HandleFunc("GET /api/public/forms/{slug}", s.getPublicForm)

	mux.HandleFunc("POST /api/forms/{id}/versions", s.createVersion)
	mux.HandleFunc("PATCH /api/forms/{id}/versions/{version}/activate", s.activateVersion)
	mux.HandleFunc("PUT /api/forms/{id}/versions/{version}/translations/{lang}", s.upsertTranslations)
	mux.HandleFunc("PATCH /api/forms/{id}/publish", s.publishForm)
	mux.HandleFunc("PATCH /api/forms/{id}/archive", s.archiveForm)
	mux.HandleFunc("PATCH /api/forms/{id}/restore", s.restoreForm)
	mux.HandleFunc("PATCH /api/forms/{id}/toggle-public", s.togglePublic)
	mux.HandleFunc("PATCH /api/forms/{id}/expire", s.expireForm)
	mux.HandleFunc("PATCH /api/forms/{id}/reorder-sections", s.reorderSections)
	mux.HandleFunc("PATCH /api/forms/{id}/sections/{sid}/reorder-questions", s.reorderQuestions)
	mux.HandleFunc("POST /api/forms/{id}/sections/{sid}/questions/{qid}/options/import", s.importOptions)

	mux.HandleFunc("POST /api/forms/{id}/responses", s.submitResponse)
	mux.HandleFunc("POST /api/forms/{id}/public-submit", s.publicSubmit)
	mux.HandleFunc("POST /api/forms/{id}/preview", s.previewResponse)
	mux.HandleFunc("GET /api/forms/{id}/responses/paginated", s.listResponses)
	mux.HandleFunc("POST /api/forms/{id}/responses/search", s.searchResponses)
	mux.HandleFunc("POST /api/forms/{id}/responses/duplicate-check", s.duplicateCheck)
	mux.HandleFunc("GET /api/forms/{id}/responses/{rid}", s.getResponse)
	mux.HandleFunc("PUT /api/forms/{id}/responses/{rid}", s.updateResponse)
	mux.HandleFunc("DELETE /api/forms/{id}/responses/{rid}", s.deleteResponse)
	mux.HandleFunc("PATCH /api/forms/{id}/responses/{rid}/restore", s.restoreResponse)
	mux.HandleFunc("PATCH /api/forms/{id}/responses/{rid}/status", s.updateStatus)
	mux.HandleFunc("GET /api/forms/{id}/responses/{rid}/history", s.listHistory)
	mux.HandleFunc("GET /api/forms/{id}/responses/{rid}/comments", s.listComments)
	mux.HandleFunc("POST /api/forms/{id}/responses/{rid}/comments", s.createComment)
	mux.HandleFunc("DELETE /api/forms/{id}/responses/{rid}/comments/{cid}", s.deleteComment)
	mux.HandleFunc("GET /api/forms/{id}/next-action", s.nextAction)

	mux.HandleFunc("GET /api/forms/{id}/saved-searches", s.listSavedSearches)
	mux.HandleFunc("POST /api/forms/{id}/saved-searches", s.createSavedSearch)
	mux.HandleFunc("DELETE /api/forms/{id}/saved-searches/{sid}", s.deleteSavedSearch)

	mux.HandleFunc("GET /api/forms/{id}/analytics/summary", s.analyticsSummary)
	mux.HandleFunc("GET /api/forms/{id}/analytics/timeline", s.analyticsTimeline)
	mux.HandleFunc("GET /api/forms/{id}/analytics/distribution", s.analyticsDistribution)

	mux.HandleFunc("GET /api/forms/{id}/export/csv", s.exportCSV)
	mux.HandleFunc("GET /api/forms/{id}/export/json", s.exportJSON)
	mux.HandleFunc("GET /api/forms/{id}/export/archive", s.exportArchive)
	mux.HandleFunc("POST /api/export/bulk", s.exportBulk)

	mux.HandleFunc("POST /api/forms/{id}/questions/{qid}/files", s.uploadFile)
	mux.HandleFunc("GET /api/files/{path...}", s.downloadFile)

	mux.HandleFunc("GET /api/workflows", s.listWorkflows)
	mux.HandleFunc("POST /api/workflows", s.createWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}", s.getWorkflow)
	mux.HandleFunc("PUT /api/workflows/{id}", s.updateWorkflow)
	mux.HandleFunc("DELETE /api/workflows/{id}", s.deleteWorkflow)

	mux.HandleFunc("GET /api/audit-logs", s.listAuditLogs)

	mux.HandleFunc("GET /livez", s.livez)
	mux.HandleFunc("GET /readyz", s.readyz)
	mux.Handle("GET /metrics", metricsHandler())

	return s.corsMiddleware(s.securityHeadersMiddleware(s.metricsMiddleware(s.authMiddleware(s.recoverMiddleware(mux)))))
}
