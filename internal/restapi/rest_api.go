// Package restapi is the HTTP surface of the service: the JSON API the page
// drives its session through, the event stream and the shared endpoints for
// stops, rail timetables and delay history.
package restapi

import (
	"net/http"
	"time"

	"buszy.nrfz.sg/internal/app"
	"buszy.nrfz.sg/internal/appconf"
	"buszy.nrfz.sg/internal/logging"
)

const (
	rateLimitInterval  = time.Second
	streamKeepAlive    = 15 * time.Second
	defaultSearchLimit = 50
)

type RestAPI struct {
	*app.Application
	rateLimiter *RateLimitMiddleware
	keepAlive   time.Duration
}

func NewRestAPI(app *app.Application) *RestAPI {
	return &RestAPI{
		Application: app,
		rateLimiter: NewRateLimitMiddleware(app.Config.RateLimit, rateLimitInterval, app.Config.ExemptApiKeys, app.Clock),
		keepAlive:   streamKeepAlive,
	}
}

// Shutdown stops the background goroutines owned by the API.
func (api *RestAPI) Shutdown() {
	if api.rateLimiter != nil {
		api.rateLimiter.Stop()
	}
}

// Handler wraps mux in the global middleware chain: request id, request
// logging, metrics, CORS and compression.
func (api *RestAPI) Handler(mux http.Handler) (http.Handler, error) {
	compress, err := CompressionMiddleware()
	if err != nil {
		return nil, err
	}
	h := compress(mux)
	h = CORSMiddleware(api.Config.CORSOrigins, api.Config.Env == appconf.Development && api.Config.Verbose)(h)
	h = MetricsHandler(api.Metrics)(h)
	h = NewRequestLoggingMiddleware(api.Logger)(h)
	return RequestIDMiddleware(h), nil
}

// route applies the per-route middleware: API key, rate limit and cache tier.
func (api *RestAPI) route(cacheSeconds int, h http.HandlerFunc) http.Handler {
	var next http.Handler = CacheControlMiddleware(cacheSeconds, h)
	next = api.rateLimiter.Handler()(next)
	return api.requireKey(next)
}

func (api *RestAPI) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if api.RequestHasInvalidAPIKey(r) {
			logging.FromContext(r.Context()).Debug("rejected API key", "path", r.URL.Path)
			api.sendUnauthorized(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
