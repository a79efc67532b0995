// Package worker is the background worker shared by every page session. It
// is reached only through tagged messages, owns the system notifications it
// has shown and the HTTP response cache, and broadcasts background sync and
// fetch results to all registered clients.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"buszy.nrfz.sg/internal/clock"
	"buszy.nrfz.sg/internal/logging"
	"buszy.nrfz.sg/internal/metrics"
	"buszy.nrfz.sg/internal/models"
)

var (
	ErrNotRunning   = errors.New("worker is not running")
	ErrInboxFull    = errors.New("worker inbox is full")
	ErrUnknownClick = errors.New("unknown notification")
)

// EventKind classifies what the worker sends to a client.
type EventKind string

const (
	EventMessage            EventKind = "message"
	EventNotification       EventKind = "notification"
	EventNotificationClosed EventKind = "notification_closed"
	EventFocus              EventKind = "focus"
)

// Event is delivered to a client's Receive.
type Event struct {
	Kind         EventKind       `json:"kind"`
	Message      *models.Message `json:"message,omitempty"`
	Notification *Notification   `json:"notification,omitempty"`
}

// Client is a page that the worker can control.
type Client interface {
	ID() string
	URL() string
	Receive(ev Event)
}

// Notification is a system notification currently shown.
type Notification struct {
	ID        string                     `json:"id"`
	ClientID  string                     `json:"clientId"`
	Title     string                     `json:"title"`
	Options   models.NotificationOptions `json:"options"`
	CreatedAt time.Time                  `json:"createdAt"`
}

// ClickResult says how a notification click was routed.
type ClickResult struct {
	Action   string `json:"action"`
	ClientID string `json:"clientId,omitempty"`
	URL      string `json:"url"`
}

const (
	defaultIcon  = "/img/core-img/icon-192.png"
	defaultBadge = "/img/core-img/icon-192.png"
	defaultTag   = "notification"
	inboxSize    = 64
)

// Config wires a Worker.
type Config struct {
	Clock     clock.Clock
	CacheSize int
	// CachePaths overrides DefaultCachePaths.
	CachePaths []string
	// Base is the transport underneath the response cache.
	Base http.RoundTripper
	// BaseURL resolves relative background-fetch URLs.
	BaseURL string
	// FetchTimeout bounds one background fetch.
	FetchTimeout time.Duration
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

type clientState struct {
	client     Client
	controlled bool
}

type Worker struct {
	cfg       Config
	logger    *slog.Logger
	transport *cachingTransport
	http      *http.Client
	inbox     chan models.Message

	mu            sync.Mutex
	clients       map[string]*clientState
	notifications map[string]*Notification
	active        bool
	running       bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) *Worker {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	logger := cfg.Logger.With(slog.String("component", "worker"))
	transport := newCachingTransport(cfg.Base, cfg.CacheSize, cfg.CachePaths, cfg.Clock, cfg.Metrics, logger)
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		cfg:           cfg,
		logger:        logger,
		transport:     transport,
		http:          &http.Client{Transport: transport, Timeout: cfg.FetchTimeout},
		inbox:         make(chan models.Message, inboxSize),
		clients:       make(map[string]*clientState),
		notifications: make(map[string]*Notification),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Transport returns the caching round tripper. Upstream clients use it so
// their GET requests are cached and served from cache when the network fails.
func (w *Worker) Transport() http.RoundTripper { return w.transport }

// Start installs and activates the worker without waiting, claims every
// registered client and starts the message loop.
func (w *Worker) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	claimed := w.claimLocked()
	w.mu.Unlock()

	logging.LogOperation(w.logger, "worker_activated", slog.Int("claimed_clients", claimed))

	w.wg.Add(1)
	go w.loop()
}

// claimLocked activates the worker and takes control of every registered
// client. It returns the number of clients claimed. w.mu must be held.
func (w *Worker) claimLocked() int {
	w.active = true
	claimed := 0
	for _, c := range w.clients {
		if !c.controlled {
			c.controlled = true
			claimed++
		}
	}
	return claimed
}

// Close stops the loop and waits for in-flight background fetches.
func (w *Worker) Close() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	w.cancel()
	w.wg.Wait()
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case msg := <-w.inbox:
			w.handle(msg)
		}
	}
}

// Register adds a client. Once the worker is active, new clients are
// controlled from the start.
func (w *Worker) Register(c Client) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clients[c.ID()] = &clientState{client: c, controlled: w.active}
}

// Unregister removes a client. Its notifications stay shown.
func (w *Worker) Unregister(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.clients, id)
}

// Controls reports whether the worker controls the client.
func (w *Worker) Controls(clientID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.clients[clientID]
	return ok && c.controlled
}

// Post queues msg for the loop. It never blocks.
func (w *Worker) Post(msg models.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	w.mu.Lock()
	running := w.running
	w.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	select {
	case w.inbox <- msg:
		return nil
	default:
		return ErrInboxFull
	}
}

func (w *Worker) handle(msg models.Message) {
	w.cfg.Metrics.ObserveWorkerMessage(string(msg.Type))

	switch msg.Type {
	case models.MessageSkipWaiting:
		w.mu.Lock()
		claimed := w.claimLocked()
		w.mu.Unlock()
		if claimed > 0 {
			logging.LogOperation(w.logger, "clients_claimed", slog.Int("count", claimed))
		}

	case models.MessageKeepAlive:
		if msg.Reply != nil {
			select {
			case msg.Reply <- models.Message{Type: models.MessageKeepAliveAck, Timestamp: w.cfg.Clock.NowUnixMilli()}:
			default:
			}
		}

	case models.MessageShowNotification:
		w.show(msg)

	case models.MessageClearNotifications:
		w.clear(msg.Tag)

	case models.MessageStartBackgroundFetch:
		urls := append([]string(nil), msg.URLs...)
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.backgroundFetch(urls)
		}()

	default:
		w.logger.Warn("unhandled message", slog.String("type", string(msg.Type)))
	}
}

func (w *Worker) show(msg models.Message) {
	var opts models.NotificationOptions
	if msg.Options != nil {
		opts = *msg.Options
	}
	if opts.Icon == "" {
		opts.Icon = defaultIcon
	}
	if opts.Badge == "" {
		opts.Badge = defaultBadge
	}
	if opts.Tag == "" {
		opts.Tag = defaultTag
	}
	opts.RequireInteraction = opts.RequireInteraction || opts.Priority == "high"

	n := &Notification{
		ID:        uuid.NewString(),
		ClientID:  msg.ClientID,
		Title:     msg.Title,
		Options:   opts,
		CreatedAt: w.cfg.Clock.Now(),
	}

	w.mu.Lock()
	w.notifications[n.ID] = n
	target := w.clients[msg.ClientID]
	w.mu.Unlock()

	if target != nil {
		target.client.Receive(Event{Kind: EventNotification, Notification: n})
	}
}

func (w *Worker) clear(tag string) {
	w.mu.Lock()
	var closed []*Notification
	for id, n := range w.notifications {
		if n.Options.Tag == tag {
			closed = append(closed, n)
			delete(w.notifications, id)
		}
	}
	clients := make(map[string]Client, len(w.clients))
	for id, c := range w.clients {
		clients[id] = c.client
	}
	w.mu.Unlock()

	for _, n := range closed {
		if c, ok := clients[n.ClientID]; ok {
			c.Receive(Event{Kind: EventNotificationClosed, Notification: n})
		}
	}
}

// Notifications returns the shown notifications, oldest first.
func (w *Worker) Notifications() []Notification {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Notification, 0, len(w.notifications))
	for _, n := range w.notifications {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Click handles a click on a shown notification. A client whose URL matches
// the notification's target is focused; otherwise the caller is told to open
// a new page at the target. The notification is closed either way.
func (w *Worker) Click(notificationID string) (ClickResult, error) {
	w.mu.Lock()
	n, ok := w.notifications[notificationID]
	if !ok {
		w.mu.Unlock()
		return ClickResult{}, fmt.Errorf("%w: %s", ErrUnknownClick, notificationID)
	}
	delete(w.notifications, notificationID)

	target := n.Options.URL
	if target == "" {
		target = "/"
	}
	ids := make([]string, 0, len(w.clients))
	for id := range w.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var match Client
	for _, id := range ids {
		if sameURL(w.clients[id].client.URL(), target) {
			match = w.clients[id].client
			break
		}
	}
	w.mu.Unlock()

	if match != nil {
		match.Receive(Event{Kind: EventFocus, Notification: n})
		return ClickResult{Action: "focus", ClientID: match.ID(), URL: target}, nil
	}
	return ClickResult{Action: "open", URL: target}, nil
}

// SyncNow is the background-sync hook. It is best effort: clients reconcile
// their own state on receipt.
func (w *Worker) SyncNow() {
	w.broadcast(models.Message{Type: models.MessageBackgroundSyncCompleted, Timestamp: w.cfg.Clock.NowUnixMilli()})
}

func (w *Worker) backgroundFetch(urls []string) {
	var failures []string
	for _, raw := range urls {
		if err := w.fetchOne(raw); err != nil {
			logging.LogWarn(w.logger, "background fetch failed", err, slog.String("url", raw))
			failures = append(failures, raw)
		}
	}

	msg := models.Message{Type: models.MessageBackgroundFetchComplete, URLs: urls, Timestamp: w.cfg.Clock.NowUnixMilli()}
	if len(failures) > 0 {
		msg.Type = models.MessageBackgroundFetchFailed
		msg.URLs = failures
		msg.Error = fmt.Sprintf("%d of %d fetches failed", len(failures), len(urls))
	}
	w.broadcast(msg)
}

func (w *Worker) fetchOne(raw string) error {
	target, err := w.resolve(raw)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(w.ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := w.http.Do(req)
	if err != nil {
		return err
	}
	defer logging.SafeCloseWithLogging(resp.Body, w.logger, "background_fetch_body")
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func (w *Worker) resolve(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.IsAbs() {
		return raw, nil
	}
	if w.cfg.BaseURL == "" {
		return "", fmt.Errorf("relative url %q without a base", raw)
	}
	base, err := url.Parse(w.cfg.BaseURL)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(u).String(), nil
}

func (w *Worker) broadcast(msg models.Message) {
	w.mu.Lock()
	clients := make([]Client, 0, len(w.clients))
	for _, c := range w.clients {
		clients = append(clients, c.client)
	}
	w.mu.Unlock()

	for _, c := range clients {
		m := msg
		c.Receive(Event{Kind: EventMessage, Message: &m})
	}
}

// sameURL compares path and query. Hosts are compared only when both URLs
// carry one.
func sameURL(a, b string) bool {
	ua, err1 := url.Parse(a)
	ub, err2 := url.Parse(b)
	if err1 != nil || err2 != nil {
		return a == b
	}
	if ua.Host != "" && ub.Host != "" && !strings.EqualFold(ua.Host, ub.Host) {
		return false
	}
	pa := strings.TrimSuffix(ua.Path, "/")
	pb := strings.TrimSuffix(ub.Path, "/")
	return pa == pb && ua.RawQuery == ub.RawQuery
}
