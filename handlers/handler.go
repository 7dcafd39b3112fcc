// handlers/handler.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"leaseexit/approvals"
	"leaseexit/forms"
	"leaseexit/middleware"
	"leaseexit/models"
	"leaseexit/notifications"
	"leaseexit/repository"
	"leaseexit/utils"
	"leaseexit/workflow"
)

// CaseService is the workflow engine as seen by the HTTP layer.
type CaseService interface {
	CreateCase(ctx context.Context, actor workflow.Actor, in models.CaseInput) (*workflow.Result, error)
	SubmitForm(ctx context.Context, actor workflow.Actor, caseID primitive.ObjectID, formType string, data map[string]interface{}) (*workflow.Result, error)
	RecordApproval(ctx context.Context, actor workflow.Actor, caseID primitive.ObjectID, decision models.Decision, comments string) (*workflow.Result, error)
	RequestRevision(ctx context.Context, actor workflow.Actor, caseID primitive.ObjectID, comments string) (*workflow.Result, error)
	GetCase(ctx context.Context, id primitive.ObjectID) (*models.Case, error)
	ListCases(ctx context.Context, f models.CaseFilter) ([]models.Case, error)
}

type NotificationService interface {
	ListByCase(ctx context.Context, caseID primitive.ObjectID) ([]models.Notification, error)
	ListByRole(ctx context.Context, role models.Role, status models.NotificationStatus) ([]models.Notification, error)
	Resend(ctx context.Context, id primitive.ObjectID) (*models.Notification, error)
}

type AuditReader interface {
	ListByCase(ctx context.Context, caseID primitive.ObjectID) ([]models.AuditLog, error)
}

// FormCatalog is the form registry.
type FormCatalog interface {
	Templates() []models.FormTemplate
	Template(formType string) (models.FormTemplate, error)
	Validate(formType string, data map[string]interface{}) (forms.Result, error)
	Refresh(ctx context.Context) error
}

type TemplateStore interface {
	Upsert(ctx context.Context, t *models.FormTemplate) error
}

type UserStore interface {
	Insert(ctx context.Context, u *models.User) error
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	TouchLastLogin(ctx context.Context, id primitive.ObjectID) error
}

// Handler serves the lease exit API.
type Handler struct {
	Cases         CaseService
	Notifications NotificationService
	Audit         AuditReader
	Forms         FormCatalog
	Templates     TemplateStore
	Users         UserStore
	// Ping checks the database for /health; nil skips the check.
	Ping    func(ctx context.Context) error
	Version string
	Logger  zerolog.Logger

	startTime time.Time
}

func New(h Handler) *Handler {
	h.startTime = time.Now()
	return &h
}

// actor returns the caller from the auth middleware claims.
func actor(r *http.Request) (workflow.Actor, bool) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return workflow.Actor{}, false
	}
	return workflow.Actor{UserID: claims.UserID, Role: claims.Role}, true
}

func caseIDParam(r *http.Request) (primitive.ObjectID, error) {
	return primitive.ObjectIDFromHex(mux.Vars(r)["id"])
}

// respondError maps domain errors to status codes.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *workflow.ValidationError
	switch {
	case errors.As(err, &verr):
		utils.RespondWithErrorDetails(w, http.StatusUnprocessableEntity, verr.Error(), verr.Errors)
	case errors.Is(err, forms.ErrUnknownFormType):
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, approvals.ErrDuplicateApproval),
		errors.Is(err, workflow.ErrPersistenceConflict),
		errors.Is(err, notifications.ErrNotResendable),
		errors.Is(err, repository.ErrUserExists):
		utils.RespondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, workflow.ErrNotAuthorizedForStep),
		errors.Is(err, approvals.ErrNotAnApprover):
		utils.RespondWithError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, workflow.ErrCaseNotFound),
		errors.Is(err, notifications.ErrNotificationNotFound):
		utils.RespondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, workflow.ErrCorruptState),
		errors.Is(err, workflow.ErrCaseHalted):
		utils.RespondWithError(w, http.StatusLocked, err.Error())
	case errors.Is(err, repository.ErrUserNotFound):
		utils.RespondWithError(w, http.StatusUnauthorized, "Invalid email or password")
	default:
		h.Logger.Error().Err(err).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		utils.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}
