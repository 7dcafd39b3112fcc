// handlers/case_handler.go
package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"leaseexit/approvals"
	"leaseexit/export"
	"leaseexit/models"
	"leaseexit/utils"
)

const exportLimit = 500

// CreateCase handles POST /api/cases.
func (h *Handler) CreateCase(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(r)
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var in models.CaseInput
	if err := utils.ParseJSON(w, r, &in); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	res, err := h.Cases.CreateCase(r.Context(), caller, in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, res)
}

// ListCases handles GET /api/cases?status=&step=&leaseId=&limit=&skip=.
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	f, err := caseFilter(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	cases, err := h.Cases.ListCases(r.Context(), f)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"cases": cases,
		"count": len(cases),
	})
}

func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	id, err := caseIDParam(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid case ID")
		return
	}
	c, err := h.Cases.GetCase(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, c)
}

// SubmitForm handles POST /api/cases/{id}/forms.
func (h *Handler) SubmitForm(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(r)
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	id, err := caseIDParam(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid case ID")
		return
	}

	var req struct {
		FormType string                 `json:"form_type"`
		Data     map[string]interface{} `json:"data"`
	}
	if err := utils.ParseJSON(w, r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	if req.FormType == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "form_type is required")
		return
	}
	if req.Data == nil {
		req.Data = map[string]interface{}{}
	}

	res, err := h.Cases.SubmitForm(r.Context(), caller, id, req.FormType, req.Data)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, res)
}

// RecordApproval handles POST /api/cases/{id}/approvals.
func (h *Handler) RecordApproval(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(r)
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	id, err := caseIDParam(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid case ID")
		return
	}

	var req struct {
		Decision string `json:"decision"`
		Comments string `json:"comments"`
	}
	if err := utils.ParseJSON(w, r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	decision, err := models.ParseDecision(req.Decision)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.Cases.RecordApproval(r.Context(), caller, id, decision, req.Comments)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"case":          res.Case,
		"verdict":       res.Outcome.Verdict,
		"notifications": res.Batch,
	})
}

// ApprovalStatus handles GET /api/cases/{id}/approvals: the current verdict and
// the approvers still to respond.
func (h *Handler) ApprovalStatus(w http.ResponseWriter, r *http.Request) {
	id, err := caseIDParam(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid case ID")
		return
	}
	c, err := h.Cases.GetCase(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	decisions := c.Workflow.Approvals
	if decisions == nil {
		decisions = map[models.Role]models.ApprovalEntry{}
	}
	pending := approvals.Pending(c.Workflow)
	if pending == nil {
		pending = []models.Role{}
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"caseId":      c.ID,
		"currentStep": c.Workflow.CurrentStep,
		"status":      c.Status,
		"required":    c.Workflow.RequiredApprovers,
		"approvals":   decisions,
		"verdict":     approvals.Aggregate(c.Workflow.RequiredApprovers, decisions),
		"pending":     pending,
	})
}

// RequestRevision handles POST /api/cases/{id}/revision.
func (h *Handler) RequestRevision(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(r)
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	id, err := caseIDParam(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid case ID")
		return
	}

	var req struct {
		Comments string `json:"comments"`
	}
	if r.ContentLength != 0 {
		if err := utils.ParseJSON(w, r, &req); err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid payload")
			return
		}
	}

	res, err := h.Cases.RequestRevision(r.Context(), caller, id, req.Comments)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, res)
}

// ExportCases handles GET /api/cases/export?format=xlsx|json with the list filters.
func (h *Handler) ExportCases(w http.ResponseWriter, r *http.Request) {
	f, err := caseFilter(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.Limit = exportLimit
	cases, err := h.Cases.ListCases(r.Context(), f)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	format := r.URL.Query().Get("format")
	switch format {
	case "", "xlsx":
		filename := fmt.Sprintf("lease-exits-%s.xlsx", time.Now().UTC().Format("20060102"))
		w.Header().Set("Content-Type", export.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		if err := export.WriteCases(w, cases); err != nil {
			h.Logger.Error().Err(err).Msg("case export failed")
		}
	case "json":
		utils.RespondWithJSON(w, http.StatusOK, cases)
	default:
		utils.RespondWithError(w, http.StatusBadRequest, "format must be xlsx or json")
	}
}

func caseFilter(r *http.Request) (models.CaseFilter, error) {
	q := r.URL.Query()
	f := models.CaseFilter{
		Status:  models.CaseStatus(q.Get("status")),
		Step:    models.Step(q.Get("step")),
		LeaseID: q.Get("leaseId"),
	}
	if f.Step != "" && !f.Step.IsKnown() {
		return f, fmt.Errorf("unknown step %q", f.Step)
	}
	switch f.Status {
	case "", models.CaseStatusPending, models.CaseStatusApproved, models.CaseStatusRejected:
	default:
		return f, fmt.Errorf("unknown status %q", f.Status)
	}
	for name, dst := range map[string]*int64{"limit": &f.Limit, "skip": &f.Skip} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid %s", name)
		}
		*dst = n
	}
	return f, nil
}
