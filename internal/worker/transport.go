package worker

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bluele/gcache"

	"buszy.nrfz.sg/internal/clock"
	"buszy.nrfz.sg/internal/logging"
	"buszy.nrfz.sg/internal/metrics"
)

// maxCachedBody bounds a single cached response.
const maxCachedBody = 4 * 1024 * 1024

// DefaultCachePaths are the path fragments whose GET and HEAD requests go
// through the response cache. Paths ending in .json always do.
var DefaultCachePaths = []string{"/api/", "/data/", "bus-arrivals", "bus-stops", "nearby-bus-stops"}

type cachedResponse struct {
	status   int
	header   http.Header
	body     []byte
	storedAt time.Time
}

// cachingTransport is network-first: a successful response is stored, and a
// request that fails at the network level is answered from the store.
type cachingTransport struct {
	base    http.RoundTripper
	cache   gcache.Cache
	paths   []string
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func newCachingTransport(base http.RoundTripper, size int, paths []string, clk clock.Clock, m *metrics.Metrics, logger *slog.Logger) *cachingTransport {
	if base == nil {
		base = http.DefaultTransport.(*http.Transport).Clone()
	}
	if size <= 0 {
		size = 256
	}
	if paths == nil {
		paths = DefaultCachePaths
	}
	return &cachingTransport{
		base:    base,
		cache:   gcache.New(size).LRU().Clock(clk).Build(),
		paths:   paths,
		clock:   clk,
		metrics: m,
		logger:  logger,
	}
}

func (t *cachingTransport) cacheable(req *http.Request) bool {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return false
	}
	path := req.URL.Path
	if strings.HasSuffix(path, ".json") {
		return true
	}
	for _, p := range t.paths {
		if strings.Contains(path, p) {
			return true
		}
	}
	return false
}

func cacheKey(req *http.Request) string {
	return req.Method + " " + req.URL.String()
}

func (t *cachingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.cacheable(req) {
		return t.base.RoundTrip(req)
	}
	key := cacheKey(req)

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		if entry, ok := t.lookup(key); ok {
			t.metrics.ObserveCache("fallback")
			t.logger.Debug("serving cached response", slog.String("url", req.URL.String()), slog.Time("stored_at", entry.storedAt))
			return entry.response(req), nil
		}
		t.metrics.ObserveCache("miss")
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, nil
	}

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxCachedBody+1))
	logging.SafeCloseWithLogging(resp.Body, t.logger, "cached_response_body")
	if readErr != nil {
		if entry, ok := t.lookup(key); ok {
			t.metrics.ObserveCache("fallback")
			return entry.response(req), nil
		}
		return nil, fmt.Errorf("read response body: %w", readErr)
	}
	if len(body) <= maxCachedBody {
		entry := &cachedResponse{
			status:   resp.StatusCode,
			header:   resp.Header.Clone(),
			body:     body,
			storedAt: t.clock.Now(),
		}
		if err := t.cache.Set(key, entry); err != nil {
			logging.LogWarn(t.logger, "cache store failed", err)
		} else {
			t.metrics.ObserveCache("store")
		}
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, nil
}

func (t *cachingTransport) lookup(key string) (*cachedResponse, bool) {
	v, err := t.cache.Get(key)
	if err != nil {
		return nil, false
	}
	entry, ok := v.(*cachedResponse)
	return entry, ok
}

func (c *cachedResponse) response(req *http.Request) *http.Response {
	header := c.header.Clone()
	header.Set("X-Cache", "fallback")
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", c.status, http.StatusText(c.status)),
		StatusCode:    c.status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(c.body)),
		ContentLength: int64(len(c.body)),
		Request:       req,
	}
}
