package restapi

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"buszy.nrfz.sg/internal/clock"
	"buszy.nrfz.sg/internal/models"
)

const (
	rateLimitCleanupEvery = 5 * time.Minute
	rateLimitIdleAfter    = 10 * time.Minute
)

// rateLimitClient tracks the limiter and its last usage time so inactive
// clients can be dropped without disturbing active ones.
type rateLimitClient struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // Unix nanoseconds
}

// RateLimitMiddleware limits requests per API key, or per client address
// when the request carries no key.
type RateLimitMiddleware struct {
	limiters   map[string]*rateLimitClient
	mu         sync.RWMutex
	rateLimit  rate.Limit
	burstSize  int
	exemptKeys map[string]bool
	clock      clock.Clock
	ticker     clock.Ticker
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// NewRateLimitMiddleware allows requestsPerInterval requests per interval,
// with the same number as burst. Zero blocks everything; a negative value
// disables limiting.
func NewRateLimitMiddleware(requestsPerInterval int, interval time.Duration, exemptKeys []string, clk clock.Clock) *RateLimitMiddleware {
	if clk == nil {
		clk = clock.RealClock{}
	}
	var limit rate.Limit
	switch {
	case requestsPerInterval < 0:
		limit = rate.Inf
	case requestsPerInterval == 0:
		limit = 0
	default:
		limit = rate.Every(interval / time.Duration(requestsPerInterval))
	}

	exempt := make(map[string]bool)
	for _, key := range exemptKeys {
		if k := strings.TrimSpace(key); k != "" {
			exempt[k] = true
		}
	}

	rl := &RateLimitMiddleware{
		limiters:   make(map[string]*rateLimitClient),
		rateLimit:  limit,
		burstSize:  requestsPerInterval,
		exemptKeys: exempt,
		clock:      clk,
		ticker:     clk.NewTicker(rateLimitCleanupEvery),
		stopChan:   make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Handler returns the HTTP middleware handler function
func (rl *RateLimitMiddleware) Handler() func(http.Handler) http.Handler {
	return rl.rateLimitHandler
}

func (rl *RateLimitMiddleware) getLimiter(key string) *rate.Limiter {
	now := rl.clock.Now().UnixNano()

	rl.mu.RLock()
	if client, ok := rl.limiters[key]; ok {
		client.lastSeen.Store(now)
		rl.mu.RUnlock()
		return client.limiter
	}
	rl.mu.RUnlock()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if client, ok := rl.limiters[key]; ok {
		client.lastSeen.Store(now)
		return client.limiter
	}
	client := &rateLimitClient{limiter: rate.NewLimiter(rl.rateLimit, rl.burstSize)}
	client.lastSeen.Store(now)
	rl.limiters[key] = client
	return client.limiter
}

func clientKey(r *http.Request) string {
	if key := r.URL.Query().Get("key"); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

func (rl *RateLimitMiddleware) rateLimitHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if rl.exemptKeys[key] {
			next.ServeHTTP(w, r)
			return
		}
		if !rl.getLimiter(key).AllowN(rl.clock.Now(), 1) {
			rl.sendRateLimitExceeded(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimitMiddleware) sendRateLimitExceeded(w http.ResponseWriter) {
	var retryAfter time.Duration
	switch rl.rateLimit {
	case 0:
		retryAfter = time.Hour
	case rate.Inf:
		retryAfter = time.Second
	default:
		retryAfter = time.Duration(float64(time.Second) / float64(rl.rateLimit))
	}
	if retryAfter < time.Second {
		retryAfter = time.Second
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.burstSize))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.WriteHeader(http.StatusTooManyRequests)

	response := models.ResponseModel{
		Code:        http.StatusTooManyRequests,
		CurrentTime: models.ResponseCurrentTime(rl.clock),
		Text:        "Rate limit exceeded. Please try again later.",
		Version:     2,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("failed to encode rate limit response", "error", err)
	}
}

// cleanupOnce drops limiters idle for longer than rateLimitIdleAfter. It is
// separate from the loop so tests can run it synchronously.
func (rl *RateLimitMiddleware) cleanupOnce() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	for key, client := range rl.limiters {
		if rl.exemptKeys[key] {
			continue
		}
		last := client.lastSeen.Load()
		if last == 0 {
			continue
		}
		if now.Sub(time.Unix(0, last)) > rateLimitIdleAfter {
			delete(rl.limiters, key)
		}
	}
}

func (rl *RateLimitMiddleware) cleanup() {
	for {
		select {
		case <-rl.ticker.C():
			rl.cleanupOnce()
		case <-rl.stopChan:
			return
		}
	}
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimitMiddleware) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopChan)
		rl.ticker.Stop()
	})
}

// limiterCount is used by tests.
func (rl *RateLimitMiddleware) limiterCount() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.limiters)
}
