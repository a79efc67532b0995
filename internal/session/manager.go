package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"buszy.nrfz.sg/internal/arrivals"
	"buszy.nrfz.sg/internal/clock"
	"buszy.nrfz.sg/internal/logging"
	"buszy.nrfz.sg/internal/metrics"
	"buszy.nrfz.sg/internal/monitor"
	"buszy.nrfz.sg/internal/nearby"
	"buszy.nrfz.sg/internal/notify"
	"buszy.nrfz.sg/internal/prefs"
	"buszy.nrfz.sg/store"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrTooMany      = errors.New("too many open sessions")
	ErrShuttingDown = errors.New("session manager is shutting down")
)

const (
	DefaultIdleTimeout       = 30 * time.Minute
	DefaultPermissionTimeout = 2 * time.Minute
	DefaultMaxSessions       = 1000
)

// Directory resolves stop names and answers local nearby queries.
// *stops.Cache satisfies it.
type Directory interface {
	arrivals.Resolver
	nearby.Index
}

// Config wires a Manager. Fetcher is required.
type Config struct {
	// Backend persists preferences. Nil keeps every profile in memory.
	Backend prefs.Backend
	// Store holds the offline notification queue. Nil keeps the queue in
	// the profile's preferences.
	Store     *store.Client
	Fetcher   arrivals.Fetcher
	Nearby    nearby.Source
	Directory Directory
	Worker    Worker

	Clock   clock.Clock
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	PollInterval      time.Duration
	Debounce          time.Duration
	IdleTimeout       time.Duration
	PermissionTimeout time.Duration
	LocationTTL       time.Duration
	MaxSessions       int
}

// Manager owns the open sessions.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	shutdown bool

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewManager(cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.PermissionTimeout <= 0 {
		cfg.PermissionTimeout = DefaultPermissionTimeout
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	return &Manager{
		cfg:      cfg,
		logger:   cfg.Logger.With(slog.String("component", "session_manager")),
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
	}
}

// Open creates a session for a page at pageURL. An empty profile starts a
// new one; the session's Profile must be sent back on the next visit.
func (m *Manager) Open(profile, pageURL, userAgent string) (*Session, error) {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, ErrTooMany
	}
	m.mu.Unlock()

	if profile == "" {
		profile = uuid.NewString()
	}
	id := uuid.NewString()
	logger := m.cfg.Logger.With(slog.String("session", id))

	p := prefs.New(m.cfg.Backend, profile, logger)
	p.EnsureDefaults()

	var queue notify.Queue = notify.NewPrefsQueue(p)
	if m.cfg.Store != nil {
		queue = notify.NewStoreQueue(m.cfg.Store, profile)
	}

	now := m.cfg.Clock.Now()
	s := &Session{
		id:        id,
		profile:   profile,
		url:       pageURL,
		userAgent: userAgent,
		createdAt: now,
		lastSeen:  now,
		clock:     m.cfg.Clock,
		logger:    logger.With(slog.String("component", "session")),
		timeout:   m.cfg.PermissionTimeout,
		hub:       NewHub(),
		prefs:     p,
		worker:    m.cfg.Worker,
	}
	if m.cfg.Directory != nil {
		s.names = m.cfg.Directory
	}

	dcfg := notify.Config{
		ClientID:  id,
		Clock:     m.cfg.Clock,
		Queue:     queue,
		Broker:    s,
		Metrics:   m.cfg.Metrics,
		Logger:    logger,
		OnToast:   s.onToast,
		OnDismiss: s.onDismiss,
		OnDirect:  s.onDirect,
	}
	if m.cfg.Worker != nil {
		dcfg.Worker = m.cfg.Worker
	}
	s.disp = notify.New(dcfg)
	s.mon = monitor.New(p, s.disp, pageURL, logger)

	pcfg := arrivals.PollerConfig{
		Fetcher:    m.cfg.Fetcher,
		Settings:   p,
		Clock:      m.cfg.Clock,
		Interval:   m.cfg.PollInterval,
		Debounce:   m.cfg.Debounce,
		Metrics:    m.cfg.Metrics,
		Logger:     logger,
		OnRender:   s.onRender,
		OnError:    s.onPollError,
		OnArrivals: s.onArrivals,
	}
	if m.cfg.Directory != nil {
		pcfg.Resolver = m.cfg.Directory
	}
	s.poller = arrivals.NewPoller(pcfg)

	ncfg := nearby.Config{
		Source:      m.cfg.Nearby,
		Pins:        p,
		LocationTTL: m.cfg.LocationTTL,
		Logger:      logger,
	}
	if m.cfg.Directory != nil {
		ncfg.Local = m.cfg.Directory
	}
	s.finder = nearby.New(ncfg)

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		s.Close()
		return nil, ErrShuttingDown
	}
	m.sessions[id] = s
	m.mu.Unlock()

	if m.cfg.Worker != nil {
		m.cfg.Worker.Register(s)
	}
	s.poller.Start()
	m.cfg.Metrics.SessionOpened()
	logging.LogOperation(m.logger, "session_opened",
		slog.String("session", id),
		slog.String("profile", profile),
		slog.Bool("prefs_in_memory", p.InMemory()))
	return s, nil
}

// Get returns an open session and marks it active.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.Touch()
	return s, nil
}

// Close ends one session.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.Close()
	m.cfg.Metrics.SessionClosed()
	return nil
}

// Len reports the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sessions returns the open sessions, oldest first.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].createdAt.Before(out[j].createdAt) })
	return out
}

// EvictIdle closes sessions with no activity for the idle timeout. Sessions
// with an open stream are kept.
func (m *Manager) EvictIdle() int {
	cutoff := m.cfg.Clock.Now().Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if s.hub.Subscribers() > 0 || !s.LastSeen().Before(cutoff) {
			continue
		}
		idle = append(idle, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.Close()
		m.cfg.Metrics.SessionClosed()
	}
	if len(idle) > 0 {
		logging.LogOperation(m.logger, "sessions_evicted", slog.Int("count", len(idle)))
	}
	return len(idle)
}

// StartJanitor evicts idle sessions every interval until Shutdown or ctx ends.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := m.cfg.Clock.NewTicker(interval)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C():
				m.EvictIdle()
			}
		}
	}()
}

// Shutdown closes every session and stops the janitor. Open refuses new
// sessions afterwards.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	m.shutdown = true
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	close(m.stop)
	m.wg.Wait()
	for _, s := range all {
		s.Close()
		m.cfg.Metrics.SessionClosed()
	}
	logging.LogOperation(m.logger, "sessions_shutdown", slog.Int("closed", len(all)))
}
