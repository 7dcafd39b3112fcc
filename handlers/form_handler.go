// handlers/form_handler.go
package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"leaseexit/forms"
	"leaseexit/models"
	"leaseexit/utils"
)

func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithJSON(w, http.StatusOK, h.Forms.Templates())
}

// GetTemplate handles GET /api/forms/templates/{formType}.
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := h.Forms.Template(mux.Vars(r)["formType"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, t)
}

// PutTemplate stores a template override and reloads the registry. Only
// Lease-Exit-Management maintains templates.
func (h *Handler) PutTemplate(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(r)
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if caller.Role != models.RoleLeaseExitManagement {
		utils.RespondWithError(w, http.StatusForbidden, "Only Lease-Exit-Management may change form templates")
		return
	}

	var t models.FormTemplate
	if err := utils.ParseJSON(w, r, &t); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	t.FormType = mux.Vars(r)["formType"]
	if err := forms.CheckTemplate(t); err != nil {
		utils.RespondWithError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := h.Templates.Upsert(r.Context(), &t); err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.Forms.Refresh(r.Context()); err != nil {
		h.Logger.Warn().Err(err).Str("form_type", t.FormType).Msg("form registry refresh failed after template update")
	}
	utils.RespondWithJSON(w, http.StatusOK, t)
}

// ValidateForm checks data against a template without touching any case.
func (h *Handler) ValidateForm(w http.ResponseWriter, r *http.Request) {
	var data map[string]interface{}
	if err := utils.ParseJSON(w, r, &data); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	res, err := h.Forms.Validate(mux.Vars(r)["formType"], data)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, res)
}
