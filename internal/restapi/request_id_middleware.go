package restapi

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"buszy.nrfz.sg/internal/logging"
)

type contextKey string

const (
	RequestIDKey contextKey = "request_id"

	requestIDHeader = "X-Request-ID"
	maxRequestIDLen = 128
)

var validRequestIDRegex = regexp.MustCompile(`^[a-zA-Z0-9-._:]+$`)

// RequestIDMiddleware accepts a well-formed X-Request-ID or assigns a new
// one, echoes it back and tags the request logger with it.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(requestIDHeader)
		if len(reqID) > maxRequestIDLen || !validRequestIDRegex.MatchString(reqID) {
			reqID = newRequestID()
		}
		w.Header().Set(requestIDHeader, reqID)

		ctx := context.WithValue(r.Context(), RequestIDKey, reqID)
		ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With(slog.String("request_id", reqID)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// newRequestID returns a time-ordered id so a session's poll and stream
// requests sort together in the logs.
func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// GetRequestID returns the id RequestIDMiddleware stored in ctx, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}
