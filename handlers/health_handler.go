package handlers

import (
	"context"
	"net/http"
	"time"

	"leaseexit/utils"
)

// HealthCheckResponse represents health check status
type HealthCheckResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database,omitempty"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime,omitempty"`
}

// HealthCheck handles health check requests
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := HealthCheckResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   h.Version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	}

	code := http.StatusOK
	if h.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := h.Ping(ctx); err != nil {
			response.Status = "unhealthy"
			response.Database = "disconnected"
			code = http.StatusServiceUnavailable
		} else {
			response.Database = "connected"
		}
	}

	utils.RespondWithJSON(w, code, response)
}
