package restapi

import (
	"net/http"

	"github.com/rs/cors"

	"buszy.nrfz.sg/internal/app"
)

// CORSMiddleware allows the page origins to call the API. With no origins
// configured the API is same-origin only and the middleware is a no-op.
func CORSMiddleware(origins []string, debug bool) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
		},
		AllowedHeaders:   []string{"Content-Type", "X-Request-ID", "Last-Event-ID", app.APIKeyHeader},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           600,
		Debug:            debug,
	})
	return c.Handler
}
