package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS lets the form, chart and insight frontends call the API from other
// origins. A "*" entry allows any origin; credentials are then not allowed.
func CORS(origins []string) func(http.Handler) http.Handler {
	allowAny := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAny = true
		}
	}
	opts := cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Session-Id", "X-Submission-Id"},
		AllowCredentials: !allowAny,
		MaxAge:           600,
	}
	if allowAny {
		opts.AllowedOrigins = []string{"*"}
	}
	return cors.New(opts).Handler
}
