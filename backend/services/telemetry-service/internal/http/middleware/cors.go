package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS allows browser dashboards served from origins to call the API and open the live
// feed. An empty list disables the middleware.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		return nil
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	return c.Handler
}
