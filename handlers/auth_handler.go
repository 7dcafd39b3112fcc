// handlers/auth_handler.go
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"leaseexit/repository"
	"leaseexit/utils"
)

// dummyHash keeps the timing of unknown emails close to that of bad passwords.
const dummyHash = "$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z5ZJ2lQ0y7Y9g5Y4bG2pJ1xK"

// Login handles POST /api/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := utils.ParseJSON(w, r, &creds); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	creds.Email = strings.TrimSpace(creds.Email)
	if creds.Email == "" || !strings.Contains(creds.Email, "@") {
		utils.RespondWithError(w, http.StatusBadRequest, "Valid email required")
		return
	}
	if creds.Password == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Password required")
		return
	}

	user, err := h.Users.FindByEmail(r.Context(), creds.Email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			_ = utils.CheckPasswordHash(creds.Password, dummyHash)
			utils.RespondWithError(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}
		h.Logger.Error().Err(err).Msg("user lookup failed during login")
		utils.RespondWithError(w, http.StatusInternalServerError, "Authentication service unavailable")
		return
	}

	if !user.Active || !utils.CheckPasswordHash(creds.Password, user.PasswordHash) {
		utils.RespondWithError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	if !user.Role.IsKnown() {
		h.Logger.Warn().Str("user_id", user.ID.Hex()).Str("role", string(user.Role)).Msg("user has no stakeholder role")
		utils.RespondWithError(w, http.StatusForbidden, "User has no stakeholder role")
		return
	}

	token, err := utils.GenerateJWT(user.ID.Hex(), user.FullName, user.Role)
	if err != nil {
		h.Logger.Error().Err(err).Msg("token generation failed")
		utils.RespondWithError(w, http.StatusInternalServerError, "Could not generate token")
		return
	}
	if err := h.Users.TouchLastLogin(r.Context(), user.ID); err != nil {
		h.Logger.Warn().Err(err).Str("user_id", user.ID.Hex()).Msg("failed to record last login")
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user": map[string]interface{}{
			"id":       user.ID.Hex(),
			"fullName": user.FullName,
			"email":    user.Email,
			"role":     user.Role,
		},
	})
}
