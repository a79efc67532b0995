package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"buszy.nrfz.sg/internal/models"
	"buszy.nrfz.sg/internal/prefs"
	"buszy.nrfz.sg/store"
)

// Queued is a notification held back while offline.
type Queued struct {
	ID        string                     `json:"id"`
	Title     string                     `json:"title"`
	Options   models.NotificationOptions `json:"options"`
	Timestamp time.Time                  `json:"timestamp"`
}

// Queue persists offline notifications. Drain returns every record in
// insertion order and removes exactly those records from storage.
type Queue interface {
	Append(ctx context.Context, q Queued) error
	Drain(ctx context.Context) ([]Queued, error)
	Len(ctx context.Context) (int, error)
}

// StoreQueue keeps the queue in the notification_queue table.
type StoreQueue struct {
	client  *store.Client
	profile string
}

func NewStoreQueue(client *store.Client, profile string) *StoreQueue {
	return &StoreQueue{client: client, profile: profile}
}

func (q *StoreQueue) Append(ctx context.Context, n Queued) error {
	opts, err := json.Marshal(n.Options)
	if err != nil {
		return fmt.Errorf("encode queued options: %w", err)
	}
	return q.client.EnqueueNotification(ctx, q.profile, store.QueuedNotification{
		ID:       n.ID,
		Title:    n.Title,
		Options:  string(opts),
		QueuedAt: n.Timestamp.UnixMilli(),
	})
}

func (q *StoreQueue) Drain(ctx context.Context) ([]Queued, error) {
	rows, err := q.client.ListQueuedNotifications(ctx, q.profile)
	if err != nil {
		return nil, err
	}
	out := make([]Queued, 0, len(rows))
	seqs := make([]int64, 0, len(rows))
	for _, row := range rows {
		n := Queued{ID: row.ID, Title: row.Title, Timestamp: time.UnixMilli(row.QueuedAt)}
		// A row with unreadable options is still delivered, without them.
		_ = json.Unmarshal([]byte(row.Options), &n.Options)
		out = append(out, n)
		seqs = append(seqs, row.Seq)
	}
	if err := q.client.DeleteQueuedNotifications(ctx, q.profile, seqs); err != nil {
		return nil, err
	}
	return out, nil
}

func (q *StoreQueue) Len(ctx context.Context) (int, error) {
	rows, err := q.client.ListQueuedNotifications(ctx, q.profile)
	return len(rows), err
}

// PrefsQueue keeps the queue as a JSON array under the notification_queue
// preference, for sessions without a database.
type PrefsQueue struct {
	mu    sync.Mutex
	prefs *prefs.Store
}

func NewPrefsQueue(p *prefs.Store) *PrefsQueue {
	return &PrefsQueue{prefs: p}
}

func (q *PrefsQueue) load() []Queued {
	var items []Queued
	if !q.prefs.GetInto(prefs.KeyNotificationQueue, &items) {
		return nil
	}
	return items
}

func (q *PrefsQueue) Append(_ context.Context, n Queued) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.prefs.Set(prefs.KeyNotificationQueue, append(q.load(), n))
	return nil
}

func (q *PrefsQueue) Drain(_ context.Context) ([]Queued, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.load()
	q.prefs.Delete(prefs.KeyNotificationQueue)
	return items, nil
}

func (q *PrefsQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.load()), nil
}
