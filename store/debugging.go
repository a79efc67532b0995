package store

import (
	"fmt"
	"log/slog"

	"buszy.nrfz.sg/internal/logging"
)

// TableCounts reports row counts for the known tables, for the debug page.
func (c *Client) TableCounts() (map[string]int, error) {
	rows, err := c.DB.Query("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'")
	if err != nil {
		return nil, fmt.Errorf("failed to query table names: %w", err)
	}

	var tables []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			logging.SafeCloseWithLogging(rows,
				slog.Default().With(slog.String("component", "debugging")),
				"database_rows")
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, tableName)
	}
	logging.SafeCloseWithLogging(rows,
		slog.Default().With(slog.String("component", "debugging")),
		"database_rows")

	tableCountQueries := map[string]string{
		"preferences":        "SELECT COUNT(*) FROM preferences",
		"notification_queue": "SELECT COUNT(*) FROM notification_queue",
	}

	counts := make(map[string]int)
	for _, table := range tables {
		query, ok := tableCountQueries[table]
		if !ok {
			continue
		}
		var count int
		if err := c.DB.QueryRow(query).Scan(&count); err != nil {
			return nil, err
		}
		counts[table] = count
	}
	return counts, nil
}
