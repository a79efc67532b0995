// Package session holds the components that live for one open page: its
// preference view, arrival poller, monitor, notification dispatcher and
// nearby-stop finder. Everything they produce for the page is published on
// the session's event hub and streamed over SSE.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"buszy.nrfz.sg/internal/arrivals"
	"buszy.nrfz.sg/internal/clock"
	"buszy.nrfz.sg/internal/logging"
	"buszy.nrfz.sg/internal/lta"
	"buszy.nrfz.sg/internal/models"
	"buszy.nrfz.sg/internal/monitor"
	"buszy.nrfz.sg/internal/nearby"
	"buszy.nrfz.sg/internal/notify"
	"buszy.nrfz.sg/internal/prefs"
	"buszy.nrfz.sg/internal/worker"
)

var (
	ErrPermissionPending = errors.New("a permission prompt is already open")
	ErrReadOnlyKey       = errors.New("preference cannot be written directly")
	ErrInvalidValue      = errors.New("invalid preference value")
	ErrNoStop            = errors.New("no bus stop selected")
)

// Worker is the shared background worker as seen by a session.
type Worker interface {
	notify.WorkerLink
	Register(c worker.Client)
	Unregister(id string)
}

// RenderPayload is the data of a render event.
type RenderPayload struct {
	StopCode string `json:"stopCode"`
	HTML     string `json:"html"`
	Panel    string `json:"panel,omitempty"`
	Error    string `json:"error,omitempty"`
}

// PermissionPayload is the data of a permission event.
type PermissionPayload struct {
	State notify.Permission `json:"state"`
	Ask   bool              `json:"ask"`
}

// Session is one open page.
type Session struct {
	id        string
	profile   string
	url       string
	userAgent string
	createdAt time.Time

	clock   clock.Clock
	logger  *slog.Logger
	timeout time.Duration

	hub    *Hub
	prefs  *prefs.Store
	disp   *notify.Dispatcher
	mon    *monitor.Monitor
	poller *arrivals.Poller
	finder *nearby.Finder
	worker Worker
	names  arrivals.Resolver

	mu       sync.Mutex
	lastSeen time.Time
	prompt   chan notify.Permission
	closed   bool
}

func (s *Session) ID() string             { return s.id }
func (s *Session) Profile() string        { return s.profile }
func (s *Session) URL() string            { return s.url }
func (s *Session) UserAgent() string      { return s.userAgent }
func (s *Session) CreatedAt() time.Time   { return s.createdAt }
func (s *Session) Hub() *Hub              { return s.hub }
func (s *Session) Prefs() *prefs.Store    { return s.prefs }
func (s *Session) Finder() *nearby.Finder { return s.finder }

// Dispatcher is the session's notification dispatcher.
func (s *Session) Dispatcher() *notify.Dispatcher { return s.disp }

// Touch records page activity.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = s.clock.Now()
	s.mu.Unlock()
}

func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// StopCode is the stop the page is showing.
func (s *Session) StopCode() string { return s.poller.StopCode() }

// SetStopCode changes the shown stop after the input debounce.
func (s *Session) SetStopCode(code string) {
	s.Touch()
	s.poller.SetStopCode(code)
}

// Refresh renders the current stop now.
func (s *Session) Refresh() { s.poller.Refresh() }

// Arrivals returns the last rendered arrivals markup.
func (s *Session) Arrivals() []byte { return s.poller.LastMarkup() }

// ToggleMonitor arms or disarms service at the shown stop and re-renders so
// the bell reflects the new state.
func (s *Session) ToggleMonitor(ctx context.Context, service string, on bool) (monitor.State, error) {
	s.Touch()
	code := s.poller.StopCode()
	if code == "" {
		return monitor.StateUnarmed, ErrNoStop
	}
	name := ""
	if s.names != nil {
		name, _ = s.names.Name(code)
	}
	state, err := s.mon.Toggle(ctx, code, name, service, on)
	s.poller.Refresh()
	return state, err
}

// MonitorState reports the state of one slot of service at the shown stop.
func (s *Session) MonitorState(service, slot string) monitor.State {
	return s.mon.State(s.poller.StopCode(), service, lta.Slot(slot))
}

// SetOnline applies a connectivity report from the page.
func (s *Session) SetOnline(ctx context.Context, online bool) bool {
	s.Touch()
	return s.disp.SetOnline(ctx, online)
}

// Resume is called when the page becomes visible again.
func (s *Session) Resume(ctx context.Context, online bool) {
	s.Touch()
	s.disp.Resume(ctx, online)
	s.poller.Refresh()
}

// RequestPermission asks the page to prompt for notification permission and
// waits for AnswerPermission, ctx or the prompt timeout.
func (s *Session) RequestPermission(ctx context.Context) (notify.Permission, error) {
	ch := make(chan notify.Permission, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return notify.PermissionDefault, errors.New("session closed")
	}
	if s.prompt != nil {
		s.mu.Unlock()
		return notify.PermissionDefault, ErrPermissionPending
	}
	s.prompt = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.prompt == ch {
			s.prompt = nil
		}
		s.mu.Unlock()
	}()

	if err := s.hub.Publish(EventPermission, PermissionPayload{State: notify.PermissionDefault, Ask: true}); err != nil {
		return notify.PermissionDefault, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	select {
	case p := <-ch:
		return p, nil
	case <-ctx.Done():
		return notify.PermissionDefault, fmt.Errorf("permission prompt: %w", ctx.Err())
	}
}

// AnswerPermission records the permission reported by the page and resolves
// an open prompt.
func (s *Session) AnswerPermission(p notify.Permission) {
	s.Touch()
	s.disp.SetPermission(p)
	s.mu.Lock()
	ch := s.prompt
	s.mu.Unlock()
	if ch != nil {
		select {
		case ch <- p:
		default:
		}
	}
	_ = s.hub.Publish(EventPermission, PermissionPayload{State: p})
}

// PromptOpen reports whether a permission prompt is waiting for the page.
func (s *Session) PromptOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompt != nil
}

// Locate runs the nearby finder for this page.
func (s *Session) Locate(ctx context.Context, req nearby.Request) nearby.Result {
	s.Touch()
	req.UserAgent = s.userAgent
	req.PageURL = s.url
	return s.finder.Locate(ctx, req)
}

// TogglePin pins or unpins a stop and returns the new pinned flag.
func (s *Session) TogglePin(stop prefs.PinnedStop) bool {
	s.Touch()
	return s.finder.TogglePin(stop)
}

// Preference returns the stored value of key, nil when unset.
func (s *Session) Preference(key string) json.RawMessage {
	return s.prefs.Get(key)
}

// SetPreference writes one exportable key. Keys that change the arrivals
// board trigger a re-render.
func (s *Session) SetPreference(key string, value json.RawMessage) error {
	s.Touch()
	if !prefs.IsExportable(key) || key == prefs.KeyAllBusStops {
		return fmt.Errorf("%w: %s", ErrReadOnlyKey, key)
	}
	if !json.Valid(value) {
		return fmt.Errorf("%w: %s", ErrInvalidValue, key)
	}
	if key == prefs.KeyTimeFormat {
		var f string
		if err := json.Unmarshal(value, &f); err != nil || !s.prefs.SetTimeFormat(f) {
			return fmt.Errorf("%w: %s", ErrInvalidValue, key)
		}
		s.poller.Refresh()
		return nil
	}
	s.prefs.Set(key, value)
	if key != prefs.KeyDarkMode {
		s.poller.Refresh()
	}
	return nil
}

// Export returns the backup bundle of the session's profile.
func (s *Session) Export() prefs.Bundle { return s.prefs.Export() }

// Import merges a backup bundle and re-renders.
func (s *Session) Import(b prefs.Bundle) (int, error) {
	s.Touch()
	n, err := s.prefs.Import(b)
	if err != nil {
		return 0, err
	}
	s.disp.Toast("Data imported successfully!", notify.SeveritySuccess)
	s.poller.Refresh()
	return n, nil
}

// Receive handles an event from the background worker.
func (s *Session) Receive(ev worker.Event) {
	var err error
	switch ev.Kind {
	case worker.EventMessage:
		if ev.Message == nil {
			return
		}
		err = s.hub.Publish(EventWorker, ev.Message)
		if ev.Message.Type == models.MessageBackgroundSyncCompleted {
			go s.poller.Refresh()
		}
	case worker.EventNotification:
		err = s.hub.Publish(EventNotification, ev.Notification)
	case worker.EventNotificationClosed:
		err = s.hub.Publish(EventNotificationClosed, ev.Notification)
	case worker.EventFocus:
		err = s.hub.Publish(EventFocus, ev.Notification)
	}
	if err != nil {
		logging.LogWarn(s.logger, "publish worker event failed", err, slog.String("kind", string(ev.Kind)))
	}
}

// Close stops the session's timers and streams and leaves the worker.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if s.worker != nil {
		s.worker.Unregister(s.id)
	}
	s.poller.Close()
	s.disp.Close()
	s.finder.Forget()
	s.hub.Close()
	logging.LogOperation(s.logger, "session_closed")
}

func (s *Session) onRender(u arrivals.Update) {
	p := RenderPayload{StopCode: u.StopCode, HTML: string(u.Markup)}
	if u.Panel != nil {
		p.Panel = u.Panel.Kind
	}
	if u.Err != nil {
		p.Error = u.Err.Error()
	}
	if err := s.hub.Publish(EventRender, p); err != nil {
		logging.LogWarn(s.logger, "publish render failed", err)
	}
}

func (s *Session) onPollError(_ string, err error) {
	s.disp.Alert(arrivals.ErrorPanel(err).Text)
}

func (s *Session) onArrivals(stopCode, stopName string, services []lta.Service, now time.Time) {
	s.mon.Check(context.Background(), stopCode, stopName, services, now)
}

func (s *Session) onToast(t notify.Toast) {
	if err := s.hub.Publish(EventToast, t); err != nil {
		logging.LogWarn(s.logger, "publish toast failed", err)
	}
}

func (s *Session) onDismiss(id string) {
	_ = s.hub.Publish(EventToastDismissed, map[string]string{"id": id})
}

func (s *Session) onDirect(title string, opts models.NotificationOptions) {
	n := worker.Notification{
		ID:        uuid.NewString(),
		ClientID:  s.id,
		Title:     title,
		Options:   opts,
		CreatedAt: s.clock.Now(),
	}
	if err := s.hub.Publish(EventNotification, n); err != nil {
		logging.LogWarn(s.logger, "publish notification failed", err)
	}
}
