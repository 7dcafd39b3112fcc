package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CorsMiddleware allows the given origins; "*" allows any.
func CorsMiddleware(origins []string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID", "Accept", "Origin"},
		ExposedHeaders:   []string{"Content-Length", "Content-Disposition", "X-Request-ID"},
		AllowCredentials: !containsWildcard(origins),
		MaxAge:           86400,
	})
	return c.Handler
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
