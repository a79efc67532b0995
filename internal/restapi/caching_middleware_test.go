package restapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCacheControlHeaders(t *testing.T) {
	server := serveApi(t, createTestApi(t))
	id := openSession(t, server, "")

	tests := []struct {
		name           string
		endpoint       string
		expectedHeader string
	}{
		{
			name:           "Static Data (Long Cache)",
			endpoint:       "/api/rail/stations?key=TEST",
			expectedHeader: "public, max-age=300", // 5 minutes
		},
		{
			name:           "Real-time Data (Short Cache)",
			endpoint:       "/api/current-time.json?key=TEST",
			expectedHeader: "public, max-age=30", // 30 seconds
		},
		{
			name:           "Session State (No Cache)",
			endpoint:       "/api/sessions/" + id + "/arrivals?key=TEST",
			expectedHeader: "no-cache, no-store, must-revalidate",
		},
		{
			name:           "Error Response (No Cache on 404)",
			endpoint:       "/api/stops/00000?key=TEST",
			expectedHeader: "no-cache, no-store, must-revalidate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(server.URL + tt.endpoint)
			assert.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			gotHeader := resp.Header.Get("Cache-Control")
			assert.Equal(t, tt.expectedHeader, gotHeader, "Cache-Control header mismatch for %s", tt.endpoint)
		})
	}
}

func TestCacheControlWriterFlushCommitsHeader(t *testing.T) {
	handler := CacheControlMiddleware(cacheRealtime, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = http.NewResponseController(w).Flush()
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, w.Flushed)
	assert.Equal(t, "public, max-age=30", w.Header().Get("Cache-Control"))
}
