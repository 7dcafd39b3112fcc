// middleware/recovery.go
package middleware

import (
	"net/http"

	"github.com/rs/zerolog"

	"leaseexit/utils"
)

// RecoveryMiddleware turns a panic into a 500 and logs it.
func RecoveryMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error().
						Interface("panic", err).
						Str("request_id", RequestIDFromContext(r.Context())).
						Str("path", r.URL.Path).
						Msg("panic recovered")
					utils.RespondWithError(w, http.StatusInternalServerError, "Internal Server Error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
