package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buszy.nrfz.sg/internal/arrivals"
	"buszy.nrfz.sg/internal/clock"
	"buszy.nrfz.sg/internal/lta"
	"buszy.nrfz.sg/internal/models"
	"buszy.nrfz.sg/internal/monitor"
	"buszy.nrfz.sg/internal/nearby"
	"buszy.nrfz.sg/internal/notify"
	"buszy.nrfz.sg/internal/prefs"
	"buszy.nrfz.sg/internal/worker"
)

var start = time.Date(2026, 3, 2, 8, 0, 0, 0, clock.Singapore)

type fakeFetcher struct {
	mu   sync.Mutex
	resp *lta.ArrivalResponse
	err  error
}

func (f *fakeFetcher) BusArrivals(context.Context, string) (*lta.ArrivalResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resp, f.err
}

func (f *fakeFetcher) set(resp *lta.ArrivalResponse, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resp, f.err = resp, err
}

type fakeWorker struct {
	mu         sync.Mutex
	controls   bool
	posted     []models.Message
	registered map[string]worker.Client
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{registered: map[string]worker.Client{}}
}

func (w *fakeWorker) Controls(string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.controls
}

func (w *fakeWorker) Post(msg models.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.posted = append(w.posted, msg)
	return nil
}

func (w *fakeWorker) Register(c worker.Client) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.registered[c.ID()] = c
}

func (w *fakeWorker) Unregister(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.registered, id)
}

func (w *fakeWorker) has(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.registered[id]
	return ok
}

type directory struct{}

func (directory) Name(code string) (string, bool) {
	if code == "83139" {
		return "Opp Blk 123", true
	}
	return "", false
}
func (directory) DestinationName(code string) string { return code }
func (directory) Nearby(float64, float64, float64, int) []lta.NearbyStop {
	return []lta.NearbyStop{{BusStopCode: "83139", Description: "Opp Blk 123", Distance: 0.2}}
}

type harness struct {
	clock   *clock.MockClock
	fetcher *fakeFetcher
	worker  *fakeWorker
	manager *Manager
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		clock:   clock.NewMockClock(start),
		fetcher: &fakeFetcher{},
		worker:  newFakeWorker(),
	}
	cfg := Config{
		Fetcher:           h.fetcher,
		Directory:         directory{},
		Worker:            h.worker,
		Clock:             h.clock,
		PollInterval:      2 * time.Second,
		Debounce:          300 * time.Millisecond,
		PermissionTimeout: time.Second,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	h.manager = NewManager(cfg)
	t.Cleanup(h.manager.Shutdown)
	return h
}

func (h *harness) open(t *testing.T) *Session {
	t.Helper()
	s, err := h.manager.Open("profile-1", "https://buszy.example/?stop=83139", "Mozilla/5.0")
	require.NoError(t, err)
	return s
}

func arrivalsAt(now time.Time, service string) *lta.ArrivalResponse {
	return &lta.ArrivalResponse{Services: []lta.Service{{
		ServiceNo: service,
		Operator:  "SBST",
		NextBus: &lta.NextBus{
			DestinationCode:  "77009",
			EstimatedArrival: now.Format(time.RFC3339),
			Latitude:         "1.35",
			Longitude:        "103.9",
			Load:             "SEA",
			Type:             "DD",
		},
	}}}
}

// drain returns every event already published to ch.
func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func ofType(events []Event, t EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func TestOpenWiresSession(t *testing.T) {
	h := newHarness(t)
	s := h.open(t)

	assert.NotEmpty(t, s.ID())
	assert.Equal(t, "profile-1", s.Profile())
	assert.True(t, h.worker.has(s.ID()))
	assert.Equal(t, prefs.Format24Hour, s.Prefs().TimeFormat(), "first-visit defaults are written")

	got, err := h.manager.Get(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)

	anon, err := h.manager.Open("", "https://buszy.example/", "")
	require.NoError(t, err)
	assert.NotEmpty(t, anon.Profile())
	assert.NotEqual(t, anon.ID(), anon.Profile())
	assert.Equal(t, 2, h.manager.Len())
}

func TestStopCodeRendersBoard(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set(arrivalsAt(start.Add(5*time.Minute), "15"), nil)
	s := h.open(t)
	events, cancel := s.Hub().Subscribe()
	defer cancel()

	s.SetStopCode("83139")
	h.clock.Advance(300 * time.Millisecond)

	renders := ofType(drain(events), EventRender)
	require.Len(t, renders, 1)
	var p RenderPayload
	require.NoError(t, json.Unmarshal(renders[0].Data, &p))
	assert.Equal(t, "83139", p.StopCode)
	assert.Contains(t, p.HTML, "15")
	assert.Empty(t, p.Error)
	assert.Equal(t, p.HTML, string(s.Arrivals()))
	assert.Equal(t, "83139", s.StopCode())
}

func TestPollErrorRaisesAlertOnce(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set(nil, &lta.FetchError{Kind: lta.KindNetwork, Endpoint: lta.EndpointArrivals, Err: errors.New("dial tcp: refused")})
	s := h.open(t)
	events, cancel := s.Hub().Subscribe()
	defer cancel()

	s.SetStopCode("83139")
	h.clock.Advance(300 * time.Millisecond)
	s.Refresh()

	got := drain(events)
	renders := ofType(got, EventRender)
	require.Len(t, renders, 1, "identical error panels are published once")
	var p RenderPayload
	require.NoError(t, json.Unmarshal(renders[0].Data, &p))
	assert.Equal(t, arrivals.PanelNetwork.Kind, p.Panel)
	assert.NotEmpty(t, p.Error)

	toasts := ofType(got, EventToast)
	require.Len(t, toasts, 1, "second failure is inside the cooldown")
	var toast notify.Toast
	require.NoError(t, json.Unmarshal(toasts[0].Data, &toast))
	assert.Equal(t, arrivals.PanelNetwork.Text, toast.Message)
	assert.Equal(t, notify.SeverityAlert, toast.Severity)
}

func TestArrivalNotifiesDirectly(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set(arrivalsAt(start, "15"), nil)
	s := h.open(t)
	s.AnswerPermission(notify.PermissionGranted)
	s.Prefs().SetMonitored("83139", "15", true)
	events, cancel := s.Hub().Subscribe()
	defer cancel()

	s.SetStopCode("83139")
	h.clock.Advance(300 * time.Millisecond)

	notes := ofType(drain(events), EventNotification)
	require.Len(t, notes, 1)
	var n worker.Notification
	require.NoError(t, json.Unmarshal(notes[0].Data, &n))
	assert.Equal(t, s.ID(), n.ClientID)
	assert.Contains(t, n.Title, "15")
	assert.Equal(t, monitor.StateNotified, s.MonitorState("15", string(lta.SlotPrimary)))

	s.Refresh()
	assert.Empty(t, ofType(drain(events), EventNotification), "one notification per arrival")
}

func TestArrivalNotifiesThroughWorker(t *testing.T) {
	h := newHarness(t)
	h.worker.controls = true
	h.fetcher.set(arrivalsAt(start, "15"), nil)
	s := h.open(t)
	s.AnswerPermission(notify.PermissionGranted)
	s.Prefs().SetMonitored("83139", "15", true)

	s.SetStopCode("83139")
	h.clock.Advance(300 * time.Millisecond)

	h.worker.mu.Lock()
	defer h.worker.mu.Unlock()
	require.Len(t, h.worker.posted, 1)
	assert.Equal(t, models.MessageShowNotification, h.worker.posted[0].Type)
	assert.Equal(t, s.ID(), h.worker.posted[0].ClientID)
}

func TestReturningMonitorPromptsWithoutStallingPoller(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.PermissionTimeout = time.Minute })
	h.fetcher.set(arrivalsAt(start, "15"), nil)
	s := h.open(t)
	s.Prefs().SetMonitored("83139", "15", true)
	events, cancel := s.Hub().Subscribe()
	defer cancel()

	began := time.Now()
	s.SetStopCode("83139")
	h.clock.Advance(300 * time.Millisecond)
	assert.Less(t, time.Since(began), time.Second, "the poll cycle does not wait for the page")

	got := drain(events)
	assert.Len(t, ofType(got, EventRender), 1)
	require.Eventually(t, s.PromptOpen, time.Second, time.Millisecond)
	assert.Empty(t, ofType(got, EventNotification))

	s.AnswerPermission(notify.PermissionGranted)
	require.Eventually(t, func() bool {
		got = append(got, drain(events)...)
		return len(ofType(got, EventNotification)) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, monitor.StateNotified, s.MonitorState("15", string(lta.SlotPrimary)))
}

func TestCloseWithOpenArrivalPrompt(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.PermissionTimeout = time.Minute })
	h.fetcher.set(arrivalsAt(start, "15"), nil)
	s := h.open(t)
	s.Prefs().SetMonitored("83139", "15", true)

	s.SetStopCode("83139")
	h.clock.Advance(300 * time.Millisecond)
	require.Eventually(t, s.PromptOpen, time.Second, time.Millisecond)

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close waited on the unanswered prompt")
	}
	assert.False(t, s.PromptOpen())
}

func TestPermissionPrompt(t *testing.T) {
	h := newHarness(t)
	s := h.open(t)
	events, cancel := s.Hub().Subscribe()
	defer cancel()

	done := make(chan notify.Permission, 1)
	go func() {
		p, _ := s.RequestPermission(context.Background())
		done <- p
	}()
	require.Eventually(t, s.PromptOpen, time.Second, time.Millisecond)

	_, err := s.RequestPermission(context.Background())
	assert.ErrorIs(t, err, ErrPermissionPending)

	s.AnswerPermission(notify.PermissionGranted)
	assert.Equal(t, notify.PermissionGranted, <-done)
	assert.False(t, s.PromptOpen())
	assert.Equal(t, notify.PermissionGranted, s.Dispatcher().Permission())

	prompts := ofType(drain(events), EventPermission)
	require.Len(t, prompts, 2)
	var ask PermissionPayload
	require.NoError(t, json.Unmarshal(prompts[0].Data, &ask))
	assert.True(t, ask.Ask)
}

func TestPermissionPromptTimesOut(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.PermissionTimeout = 20 * time.Millisecond })
	s := h.open(t)

	p, err := s.RequestPermission(context.Background())
	assert.Equal(t, notify.PermissionDefault, p)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestToggleMonitor(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set(arrivalsAt(start.Add(10*time.Minute), "15"), nil)
	s := h.open(t)

	_, err := s.ToggleMonitor(context.Background(), "15", true)
	assert.Error(t, err, "no stop selected yet")

	s.SetStopCode("83139")
	h.clock.Advance(300 * time.Millisecond)

	go func() {
		assert.Eventually(t, s.PromptOpen, time.Second, time.Millisecond)
		s.AnswerPermission(notify.PermissionGranted)
	}()
	state, err := s.ToggleMonitor(context.Background(), "15", true)
	require.NoError(t, err)
	assert.Equal(t, monitor.StateArmed, state)
	assert.True(t, s.Prefs().MonitoredServices("83139")["15"])

	state, err = s.ToggleMonitor(context.Background(), "15", false)
	require.NoError(t, err)
	assert.Equal(t, monitor.StateUnarmed, state)
}

func TestReceiveWorkerEvents(t *testing.T) {
	h := newHarness(t)
	s := h.open(t)
	events, cancel := s.Hub().Subscribe()
	defer cancel()

	s.Receive(worker.Event{Kind: worker.EventMessage, Message: &models.Message{Type: models.MessageBackgroundFetchComplete}})
	s.Receive(worker.Event{Kind: worker.EventNotification, Notification: &worker.Notification{ID: "n1"}})
	s.Receive(worker.Event{Kind: worker.EventNotificationClosed, Notification: &worker.Notification{ID: "n1"}})
	s.Receive(worker.Event{Kind: worker.EventFocus, Notification: &worker.Notification{ID: "n1"}})
	s.Receive(worker.Event{Kind: worker.EventMessage})

	var types []EventType
	for _, ev := range drain(events) {
		if ev.Type != EventRender {
			types = append(types, ev.Type)
		}
	}
	assert.Equal(t, []EventType{EventWorker, EventNotification, EventNotificationClosed, EventFocus}, types)
}

func TestSetPreference(t *testing.T) {
	h := newHarness(t)
	s := h.open(t)

	tests := []struct {
		name    string
		key     string
		value   string
		wantErr error
	}{
		{"time format", prefs.KeyTimeFormat, `"mins"`, nil},
		{"unknown format", prefs.KeyTimeFormat, `"hours"`, ErrInvalidValue},
		{"dark mode", prefs.KeyDarkMode, `"enabled"`, nil},
		{"not json", prefs.KeyDarkMode, `enabled`, ErrInvalidValue},
		{"stop list", prefs.KeyAllBusStops, `[]`, ErrReadOnlyKey},
		{"queue", prefs.KeyNotificationQueue, `[]`, ErrReadOnlyKey},
		{"unknown key", "other", `1`, ErrReadOnlyKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.SetPreference(tt.key, json.RawMessage(tt.value))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.value, string(s.Preference(tt.key)))
		})
	}
	assert.Equal(t, prefs.FormatMinutes, s.Prefs().TimeFormat())
	assert.Equal(t, prefs.DarkModeEnabled, s.Prefs().DarkMode())
}

func TestBackupRoundTrip(t *testing.T) {
	h := newHarness(t)
	s := h.open(t)
	s.Prefs().SetMonitored("83139", "15", true)

	bundle := s.Export()
	assert.Contains(t, bundle, prefs.MonitoredKey("83139"))

	other, err := h.manager.Open("profile-2", "https://buszy.example/", "")
	require.NoError(t, err)
	n, err := other.Import(bundle)
	require.NoError(t, err)
	assert.Equal(t, len(bundle), n)
	assert.True(t, other.Prefs().MonitoredServices("83139")["15"])

	_, err = other.Import(prefs.Bundle{"evil": "1"})
	assert.Error(t, err)
}

func TestLocateUsesPageContext(t *testing.T) {
	h := newHarness(t)
	s, err := h.manager.Open("p", "https://buszy.example/nearby", "Mozilla/5.0 Instagram 300.0")
	require.NoError(t, err)

	res := s.Locate(context.Background(), nearby.Request{})
	assert.Equal(t, nearby.StateInAppBlocked, res.State)
	assert.Contains(t, res.EscapeURL, "buszy.example/nearby")

	plain := h.open(t)
	res = plain.Locate(context.Background(), nearby.Request{Location: &nearby.Location{Latitude: 1.35, Longitude: 103.9}})
	require.Equal(t, nearby.StateFound, res.State)
	assert.Equal(t, "local", res.Source)
	require.Len(t, res.Stops, 1)

	assert.True(t, plain.TogglePin(prefs.PinnedStop{BusStopCode: "83139", Description: "Opp Blk 123"}))
	assert.True(t, plain.Prefs().IsPinned("83139"))
}
