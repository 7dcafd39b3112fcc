// handlers/notification_handler.go
package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"leaseexit/models"
	"leaseexit/utils"
)

// CaseNotifications handles GET /api/cases/{id}/notifications.
func (h *Handler) CaseNotifications(w http.ResponseWriter, r *http.Request) {
	id, err := caseIDParam(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid case ID")
		return
	}
	if _, err := h.Cases.GetCase(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	list, err := h.Notifications.ListByCase(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, list)
}

// RoleNotifications handles GET /api/notifications/role/{role}?status=.
// Stakeholders see their own role; Lease-Exit-Management, which owns the
// cases, may look at any role.
func (h *Handler) RoleNotifications(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(r)
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	role, err := models.ParseRole(mux.Vars(r)["role"])
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if role != caller.Role && caller.Role != models.RoleLeaseExitManagement {
		utils.RespondWithError(w, http.StatusForbidden, "Not allowed to read notifications of "+role.DisplayName())
		return
	}

	status := models.NotificationStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.NotificationPending, models.NotificationSent, models.NotificationFailed:
	default:
		utils.RespondWithError(w, http.StatusBadRequest, "Unknown status")
		return
	}

	list, err := h.Notifications.ListByRole(r.Context(), role, status)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, list)
}

// ResendNotification handles POST /api/notifications/{id}/resend.
func (h *Handler) ResendNotification(w http.ResponseWriter, r *http.Request) {
	id, err := primitive.ObjectIDFromHex(mux.Vars(r)["id"])
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid notification ID")
		return
	}
	n, err := h.Notifications.Resend(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusAccepted, n)
}

// CaseAudit handles GET /api/cases/{id}/audit.
func (h *Handler) CaseAudit(w http.ResponseWriter, r *http.Request) {
	id, err := caseIDParam(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid case ID")
		return
	}
	if _, err := h.Cases.GetCase(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	logs, err := h.Audit.ListByCase(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, logs)
}
