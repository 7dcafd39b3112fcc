// handlers/user_handler.go
package handlers

import (
	"net/http"
	"strings"

	"leaseexit/models"
	"leaseexit/utils"
)

const minPasswordLength = 8

// CreateUser handles POST /api/users. Only Lease-Exit-Management may add
// stakeholders; the new user's email then receives that role's notifications.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(r)
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if caller.Role != models.RoleLeaseExitManagement {
		utils.RespondWithError(w, http.StatusForbidden, "Only Lease-Exit-Management can create users")
		return
	}

	var req struct {
		FullName string `json:"fullName"`
		Email    string `json:"email"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := utils.ParseJSON(w, r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		utils.RespondWithError(w, http.StatusBadRequest, "Valid email required")
		return
	}
	if len(req.Password) < minPasswordLength {
		utils.RespondWithError(w, http.StatusBadRequest, "Password must be at least 8 characters")
		return
	}
	role, err := models.ParseRole(req.Role)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		h.Logger.Error().Err(err).Msg("password hashing failed")
		utils.RespondWithError(w, http.StatusInternalServerError, "Password processing failed")
		return
	}

	user := &models.User{
		FullName:     strings.TrimSpace(req.FullName),
		Email:        req.Email,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
	}
	if err := h.Users.Insert(r.Context(), user); err != nil {
		h.respondError(w, r, err)
		return
	}

	h.Logger.Info().
		Str("user_id", user.ID.Hex()).
		Str("role", string(role)).
		Str("created_by", caller.UserID).
		Msg("user created")
	utils.RespondWithJSON(w, http.StatusCreated, user)
}
