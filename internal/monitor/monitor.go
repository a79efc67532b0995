// Package monitor fires one arrival notification per monitored bus.
//
// Each (service, slot) pair moves between three states. Enabling a service
// arms both of its slots. An armed slot becomes notified on the first poll
// where its arrival is due, and goes back to armed once the slot disappears
// from the feed so the next bus can notify again. Disabling the service, or a
// refused permission prompt, returns it to unarmed.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"buszy.nrfz.sg/internal/logging"
	"buszy.nrfz.sg/internal/lta"
	"buszy.nrfz.sg/internal/models"
	"buszy.nrfz.sg/internal/notify"
)

// State of one (service, slot) pair.
type State string

const (
	StateUnarmed  State = "unarmed"
	StateArmed    State = "armed"
	StateNotified State = "notified"
)

const arrivalIcon = "assets/bus-icon.png"

var (
	ErrPermissionDenied     = errors.New("notification permission denied")
	ErrPermissionNotGranted = errors.New("notification permission not granted")
)

// Notifier is the part of the dispatcher the monitor uses.
type Notifier interface {
	Notify(ctx context.Context, title string, opts models.NotificationOptions, sev notify.Severity) notify.Delivery
	Toast(message string, sev notify.Severity) notify.Toast
	Permission() notify.Permission
	RequestPermission(ctx context.Context) notify.Permission
	ClearByTag(tag string)
}

// Prefs holds the monitored and notified sets.
type Prefs interface {
	MonitoredServices(stopCode string) map[string]bool
	SetMonitored(stopCode, service string, on bool)
	NotifiedServices() map[string]bool
	SetNotified(key string, on bool)
}

// Fired describes one notification raised by Check.
type Fired struct {
	ServiceNo string
	Slot      lta.Slot
	Delivery  notify.Delivery
}

type Monitor struct {
	prefs    Prefs
	notifier Notifier
	pageURL  string
	logger   *slog.Logger

	mu sync.Mutex
}

// New returns a monitor. pageURL is the click target of its notifications.
func New(p Prefs, n Notifier, pageURL string, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		prefs:    p,
		notifier: n,
		pageURL:  pageURL,
		logger:   logger.With(slog.String("component", "monitor")),
	}
}

// NotifiedKey is the notified-set key of a (service, slot) pair.
func NotifiedKey(service string, slot lta.Slot) string {
	return service + "-" + string(slot)
}

// Tag is the notification tag used for service's arrivals.
func Tag(service string) string {
	return "bus-" + service
}

// Toggle arms or disarms service at stopCode. Arming needs notification
// permission: when it is denied, or the prompt is refused, the service stays
// unarmed, a toast explains why and the matching error is returned.
func (m *Monitor) Toggle(ctx context.Context, stopCode, stopName, service string, on bool) (State, error) {
	where := ""
	if stopName != "" {
		where = " at " + stopName
	}

	if !on {
		m.mu.Lock()
		m.prefs.SetMonitored(stopCode, service, false)
		m.clearNotifiedLocked(service)
		m.mu.Unlock()
		m.notifier.ClearByTag(Tag(service))
		m.notifier.Toast(fmt.Sprintf("Notifications disabled for Bus %s%s", service, where), notify.SeverityInfo)
		return StateUnarmed, nil
	}

	switch m.notifier.Permission() {
	case notify.PermissionDenied:
		m.disarm(stopCode, service)
		m.notifier.Toast(fmt.Sprintf("Notifications are blocked. Allow notifications in your browser settings to be alerted for Bus %s.", service), notify.SeverityWarning)
		logging.LogOperation(m.logger, "monitor_refused", slog.String("service", service), slog.String("reason", "denied"))
		return StateUnarmed, ErrPermissionDenied
	case notify.PermissionDefault:
		if m.notifier.RequestPermission(ctx) != notify.PermissionGranted {
			m.disarm(stopCode, service)
			m.notifier.Toast(fmt.Sprintf("Notification permission was not granted. Bus %s will not be monitored.", service), notify.SeverityWarning)
			logging.LogOperation(m.logger, "monitor_refused", slog.String("service", service), slog.String("reason", "not_granted"))
			return StateUnarmed, ErrPermissionNotGranted
		}
	}

	m.mu.Lock()
	m.prefs.SetMonitored(stopCode, service, true)
	m.mu.Unlock()
	m.notifier.Toast(fmt.Sprintf("Notifications enabled for Bus %s%s", service, where), notify.SeveritySuccess)
	logging.LogOperation(m.logger, "monitor_armed", slog.String("stop", stopCode), slog.String("service", service))
	return StateArmed, nil
}

func (m *Monitor) disarm(stopCode, service string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs.SetMonitored(stopCode, service, false)
}

func (m *Monitor) clearNotifiedLocked(service string) {
	notified := m.prefs.NotifiedServices()
	for _, slot := range lta.Slots {
		if key := NotifiedKey(service, slot); notified[key] {
			m.prefs.SetNotified(key, false)
		}
	}
}

// Check evaluates one poll's arrivals. For every monitored service it fires
// one notification per slot whose arrival is due and not yet notified, and
// re-arms slots that are no longer in the feed. Calling it again with the
// same data fires nothing.
func (m *Monitor) Check(ctx context.Context, stopCode, stopName string, services []lta.Service, now time.Time) []Fired {
	m.mu.Lock()
	monitored := m.prefs.MonitoredServices(stopCode)
	if len(monitored) == 0 {
		m.mu.Unlock()
		return nil
	}
	notified := m.prefs.NotifiedServices()

	type pending struct {
		service string
		slot    lta.Slot
	}
	var due []pending
	present := make(map[string]bool, len(services))

	for _, svc := range services {
		present[svc.ServiceNo] = true
		if !monitored[svc.ServiceNo] {
			continue
		}
		for _, slot := range lta.Slots {
			key := NotifiedKey(svc.ServiceNo, slot)
			nb := svc.Next(slot)
			if nb == nil {
				if notified[key] {
					m.prefs.SetNotified(key, false)
				}
				continue
			}
			at, ok := nb.Arrival()
			if !ok || at.Sub(now) > 0 || notified[key] {
				continue
			}
			m.prefs.SetNotified(key, true)
			notified[key] = true
			due = append(due, pending{service: svc.ServiceNo, slot: slot})
		}
	}
	for service, on := range monitored {
		if on && !present[service] {
			m.clearNotifiedLocked(service)
		}
	}
	m.mu.Unlock()

	where := stopName
	if where == "" {
		where = stopCode
	}
	fired := make([]Fired, 0, len(due))
	for _, p := range due {
		body := fmt.Sprintf("At %s\nYour monitored bus has arrived.", where)
		if p.slot == lta.SlotSecondary {
			body = fmt.Sprintf("At %s\nYour second monitored bus has arrived.", where)
		}
		opts := models.NotificationOptions{
			Body: body,
			Icon: arrivalIcon,
			Tag:  Tag(p.service),
			URL:  m.pageURL,
		}
		d := m.notifier.Notify(ctx, fmt.Sprintf("Bus %s Arrives Now!", p.service), opts, notify.SeverityArrival)
		logging.LogOperation(m.logger, "arrival_notified",
			slog.String("stop", stopCode),
			slog.String("service", p.service),
			slog.String("slot", string(p.slot)),
			slog.String("delivery", string(d)))
		fired = append(fired, Fired{ServiceNo: p.service, Slot: p.slot, Delivery: d})
	}
	return fired
}

// State reports the state of one (service, slot) pair at stopCode.
func (m *Monitor) State(stopCode, service string, slot lta.Slot) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.prefs.MonitoredServices(stopCode)[service] {
		return StateUnarmed
	}
	if m.prefs.NotifiedServices()[NotifiedKey(service, slot)] {
		return StateNotified
	}
	return StateArmed
}
