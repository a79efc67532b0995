package restapi

import (
	"net/http"

	"github.com/klauspost/compress/gzhttp"
)

const compressMinSize = 1024

// CompressionMiddleware gzips responses for clients that accept it. Event
// streams bypass it so every event reaches the page as soon as it is flushed.
func CompressionMiddleware() (func(http.Handler) http.Handler, error) {
	wrap, err := gzhttp.NewWrapper(
		gzhttp.MinSize(compressMinSize),
		gzhttp.ExceptContentTypes([]string{"text/event-stream"}),
	)
	if err != nil {
		return nil, err
	}
	return func(next http.Handler) http.Handler {
		gz := wrap(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Accept") == "text/event-stream" {
				next.ServeHTTP(w, r)
				return
			}
			gz.ServeHTTP(w, r)
		})
	}, nil
}
