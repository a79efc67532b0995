package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"buszy.nrfz.sg/internal/logging"
)

// ErrNotFound is returned when a preference key has never been written.
var ErrNotFound = errors.New("store: not found")

// GetPreference returns the raw stored text for key.
func (c *Client) GetPreference(ctx context.Context, profile, key string) (string, error) {
	var value string
	err := c.DB.QueryRowContext(ctx,
		`SELECT value FROM preferences WHERE profile = ? AND key = ?`, profile, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get preference %q: %w", key, err)
	}
	return value, nil
}

// SetPreference upserts the stored text for key.
func (c *Client) SetPreference(ctx context.Context, profile, key, value string) error {
	_, err := c.DB.ExecContext(ctx, `
		INSERT INTO preferences (profile, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (profile, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		profile, key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set preference %q: %w", key, err)
	}
	return nil
}

// DeletePreference removes key. Deleting an absent key is not an error.
func (c *Client) DeletePreference(ctx context.Context, profile, key string) error {
	if _, err := c.DB.ExecContext(ctx,
		`DELETE FROM preferences WHERE profile = ? AND key = ?`, profile, key); err != nil {
		return fmt.Errorf("delete preference %q: %w", key, err)
	}
	return nil
}

// ListPreferenceKeys returns the keys of profile starting with prefix, sorted.
func (c *Client) ListPreferenceKeys(ctx context.Context, profile, prefix string) ([]string, error) {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	rows, err := c.DB.QueryContext(ctx,
		`SELECT key FROM preferences WHERE profile = ? AND key LIKE ? ESCAPE '\' ORDER BY key`,
		profile, escaped+"%")
	if err != nil {
		return nil, fmt.Errorf("list preference keys: %w", err)
	}
	defer logging.SafeCloseWithLogging(rows,
		slog.Default().With(slog.String("component", "store")),
		"preference_rows")

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan preference key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
