package app

import (
	"crypto/subtle"
	"net/http"
)

// APIKeyHeader carries the key for fetch calls. EventSource cannot set
// headers, so the stream and any plain link may pass ?key= instead.
const APIKeyHeader = "X-Buszy-Key"

// RequestHasInvalidAPIKey checks the header key first and falls back to the
// key query parameter.
func (app *Application) RequestHasInvalidAPIKey(r *http.Request) bool {
	key := r.Header.Get(APIKeyHeader)
	if key == "" {
		key = r.URL.Query().Get("key")
	}
	return app.IsInvalidAPIKey(key)
}

// IsInvalidAPIKey reports whether key is rejected. A service configured
// without keys is open to every page.
func (app *Application) IsInvalidAPIKey(key string) bool {
	if len(app.Config.ApiKeys) == 0 {
		return false
	}
	if key == "" {
		return true
	}
	match := 0
	for _, valid := range app.Config.ApiKeys {
		match |= subtle.ConstantTimeCompare([]byte(key), []byte(valid))
	}
	return match == 0
}
