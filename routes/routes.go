package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"leaseexit/handlers"
	"leaseexit/middleware"
)

// HTTP method lists; OPTIONS is kept for CORS preflights.
var (
	MethodsGetOnly  = []string{"GET", "OPTIONS"}
	MethodsPostOnly = []string{"POST", "OPTIONS"}
	MethodsPutOnly  = []string{"PUT", "OPTIONS"}
)

const (
	PathAPI    = "/api"
	PathHealth = "/health"
	PathLogin  = "/api/auth/login"
	PathWS     = "/ws"
)

// RegisterRoutes wires the API. ws may be nil to leave out live updates.
func RegisterRoutes(r *mux.Router, h *handlers.Handler, ws http.HandlerFunc) {
	// Public
	r.HandleFunc(PathHealth, h.HealthCheck).Methods(MethodsGetOnly...)
	r.HandleFunc(PathLogin, h.Login).Methods(MethodsPostOnly...)

	if ws != nil {
		r.Handle(PathWS, middleware.AuthMiddleware(ws)).Methods("GET")
	}

	api := r.PathPrefix(PathAPI).Subrouter()
	api.Use(middleware.AuthMiddleware)

	// Cases. /cases/export must come before /cases/{id}.
	api.HandleFunc("/cases", h.CreateCase).Methods(MethodsPostOnly...)
	api.HandleFunc("/cases", h.ListCases).Methods(MethodsGetOnly...)
	api.HandleFunc("/cases/export", h.ExportCases).Methods(MethodsGetOnly...)
	api.HandleFunc("/cases/{id}", h.GetCase).Methods(MethodsGetOnly...)
	api.HandleFunc("/cases/{id}/forms", h.SubmitForm).Methods(MethodsPostOnly...)
	api.HandleFunc("/cases/{id}/approvals", h.RecordApproval).Methods(MethodsPostOnly...)
	api.HandleFunc("/cases/{id}/approvals", h.ApprovalStatus).Methods(MethodsGetOnly...)
	api.HandleFunc("/cases/{id}/revision", h.RequestRevision).Methods(MethodsPostOnly...)
	api.HandleFunc("/cases/{id}/notifications", h.CaseNotifications).Methods(MethodsGetOnly...)
	api.HandleFunc("/cases/{id}/audit", h.CaseAudit).Methods(MethodsGetOnly...)

	// Notifications
	api.HandleFunc("/notifications/role/{role}", h.RoleNotifications).Methods(MethodsGetOnly...)
	api.HandleFunc("/notifications/{id}/resend", h.ResendNotification).Methods(MethodsPostOnly...)

	// Form templates
	api.HandleFunc("/forms/templates", h.ListTemplates).Methods(MethodsGetOnly...)
	api.HandleFunc("/forms/templates/{formType}", h.GetTemplate).Methods(MethodsGetOnly...)
	api.HandleFunc("/forms/templates/{formType}", h.PutTemplate).Methods(MethodsPutOnly...)
	api.HandleFunc("/forms/templates/{formType}/validate", h.ValidateForm).Methods(MethodsPostOnly...)

	// Users
	api.HandleFunc("/users", h.CreateUser).Methods(MethodsPostOnly...)
}
