package store

import (
	"context"
	"fmt"
	"log/slog"

	"buszy.nrfz.sg/internal/logging"
)

// QueuedNotification is one row of the offline notification queue.
// Options holds the JSON-encoded notification options.
type QueuedNotification struct {
	Seq      int64
	ID       string
	Title    string
	Options  string
	QueuedAt int64
}

// EnqueueNotification appends a record to the tail of profile's queue.
func (c *Client) EnqueueNotification(ctx context.Context, profile string, n QueuedNotification) error {
	_, err := c.DB.ExecContext(ctx,
		`INSERT INTO notification_queue (profile, id, title, options, queued_at) VALUES (?, ?, ?, ?, ?)`,
		profile, n.ID, n.Title, n.Options, n.QueuedAt)
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

// ListQueuedNotifications returns profile's queue in insertion order.
func (c *Client) ListQueuedNotifications(ctx context.Context, profile string) ([]QueuedNotification, error) {
	rows, err := c.DB.QueryContext(ctx,
		`SELECT seq, id, title, options, queued_at FROM notification_queue WHERE profile = ? ORDER BY seq`,
		profile)
	if err != nil {
		return nil, fmt.Errorf("list queued notifications: %w", err)
	}
	defer logging.SafeCloseWithLogging(rows,
		slog.Default().With(slog.String("component", "store")),
		"queue_rows")

	var out []QueuedNotification
	for rows.Next() {
		var n QueuedNotification
		if err := rows.Scan(&n.Seq, &n.ID, &n.Title, &n.Options, &n.QueuedAt); err != nil {
			return nil, fmt.Errorf("scan queued notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// DeleteQueuedNotifications removes the given rows in one transaction.
func (c *Client) DeleteQueuedNotifications(ctx context.Context, profile string, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin queue delete: %w", err)
	}
	defer logging.SafeRollbackWithLogging(tx,
		slog.Default().With(slog.String("component", "store")),
		"delete_queued_notifications")

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM notification_queue WHERE profile = ? AND seq = ?`)
	if err != nil {
		return fmt.Errorf("prepare queue delete: %w", err)
	}
	defer logging.SafeCloseWithLogging(stmt,
		slog.Default().With(slog.String("component", "store")),
		"queue_delete_stmt")

	for _, seq := range seqs {
		if _, err := stmt.ExecContext(ctx, profile, seq); err != nil {
			return fmt.Errorf("delete queued notification %d: %w", seq, err)
		}
	}
	return tx.Commit()
}

// ClearQueue drops every queued record of profile.
func (c *Client) ClearQueue(ctx context.Context, profile string) error {
	if _, err := c.DB.ExecContext(ctx, `DELETE FROM notification_queue WHERE profile = ?`, profile); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	return nil
}
