package session

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// EventType names a server-sent event.
type EventType string

const (
	EventRender             EventType = "render"
	EventToast              EventType = "toast"
	EventToastDismissed     EventType = "toast-dismissed"
	EventNotification       EventType = "notification"
	EventNotificationClosed EventType = "notification-closed"
	EventWorker             EventType = "worker"
	EventPermission         EventType = "permission"
	EventFocus              EventType = "focus"
)

type Event struct {
	Seq  uint64
	Type EventType
	Data json.RawMessage
}

const subscriberBuffer = 32

// Hub fans events out to the page streams of one session. A slow stream
// drops events rather than blocking the publisher. The latest render is
// replayed to new subscribers so a reconnecting page is never blank.
type Hub struct {
	mu         sync.Mutex
	subs       map[chan Event]struct{}
	seq        uint64
	lastRender *Event
	closed     bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe returns a channel of events and a function that ends the
// subscription. The channel is closed when the subscription or the hub ends.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	if h.lastRender != nil {
		ch <- *h.lastRender
	}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
}

// Publish encodes data and sends it to every subscriber.
func (h *Hub) Publish(t EventType, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", t, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.seq++
	ev := Event{Seq: h.seq, Type: t, Data: raw}
	if t == EventRender {
		h.lastRender = &ev
	}
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

// Subscribers reports the number of open streams.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
	}
	h.subs = nil
}

// WriteSSE writes ev in text/event-stream framing.
func WriteSSE(w io.Writer, ev Event) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, ev.Data)
	return err
}
