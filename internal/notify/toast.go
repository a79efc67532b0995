package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"buszy.nrfz.sg/internal/clock"
)

// Toast is an in-page message that dismisses itself.
type Toast struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Color     string    `json:"color"`
	Duration  int       `json:"duration"`
	CreatedAt time.Time `json:"createdAt"`
}

// ToastBoard holds the visible toasts and removes each one when its
// duration elapses.
type ToastBoard struct {
	clock     clock.Clock
	onShow    func(Toast)
	onDismiss func(id string)

	mu     sync.Mutex
	order  []string
	toasts map[string]Toast
	timers map[string]clock.Timer
}

func NewToastBoard(clk clock.Clock, onShow func(Toast), onDismiss func(id string)) *ToastBoard {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &ToastBoard{
		clock:     clk,
		onShow:    onShow,
		onDismiss: onDismiss,
		toasts:    make(map[string]Toast),
		timers:    make(map[string]clock.Timer),
	}
}

// Show adds a toast. A zero duration or color falls back to the severity's.
func (b *ToastBoard) Show(message string, sev Severity, duration time.Duration, color string) Toast {
	if duration <= 0 {
		duration = sev.Duration()
	}
	if color == "" {
		color = sev.Color()
	}
	t := Toast{
		ID:        uuid.NewString(),
		Message:   message,
		Severity:  sev,
		Color:     color,
		Duration:  int(duration / time.Millisecond),
		CreatedAt: b.clock.Now(),
	}

	b.mu.Lock()
	b.toasts[t.ID] = t
	b.order = append(b.order, t.ID)
	b.timers[t.ID] = b.clock.AfterFunc(duration, func() { b.Dismiss(t.ID) })
	b.mu.Unlock()

	if b.onShow != nil {
		b.onShow(t)
	}
	return t
}

// Dismiss removes a toast early. Unknown ids are ignored.
func (b *ToastBoard) Dismiss(id string) {
	b.mu.Lock()
	if _, ok := b.toasts[id]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.toasts, id)
	if timer, ok := b.timers[id]; ok {
		timer.Stop()
		delete(b.timers, id)
	}
	for i, other := range b.order {
		if other == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	if b.onDismiss != nil {
		b.onDismiss(id)
	}
}

// Active returns the visible toasts, oldest first.
func (b *ToastBoard) Active() []Toast {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Toast, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.toasts[id])
	}
	return out
}

// Close cancels every pending dismissal.
func (b *ToastBoard) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, timer := range b.timers {
		timer.Stop()
		delete(b.timers, id)
	}
}
