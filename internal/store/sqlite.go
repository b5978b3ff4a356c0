package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"aegis/internal/event"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the local durable event store. It doubles as the
// fallback when a primary store is unreachable.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and runs
// migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS security_events (
			id TEXT PRIMARY KEY,
			timestamp DATETIME NOT NULL,
			threat_level TEXT NOT NULL,
			description TEXT NOT NULL,
			description_regional TEXT,
			category TEXT,
			details TEXT,
			thumbnail BLOB,
			unparseable INTEGER DEFAULT 0,
			notification_sent INTEGER DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_time ON security_events(timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_events_level ON security_events(threat_level)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Save inserts an event, or updates its notification flag if the id
// already exists.
func (s *SQLiteStore) Save(ctx context.Context, ev *event.ThreatEvent) error {
	query := `INSERT INTO security_events
		(id, timestamp, threat_level, description, description_regional,
		 category, details, thumbnail, unparseable, notification_sent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			notification_sent = excluded.notification_sent`

	_, err := s.db.ExecContext(ctx, query, ev.ID, ev.Timestamp, string(ev.Level),
		ev.Description, ev.DescriptionRegional, ev.Category, ev.Details,
		ev.Thumbnail, boolToInt(ev.Unparseable), boolToInt(ev.NotificationSent))
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

// Recent returns the newest events, most recent first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]*event.ThreatEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, timestamp, threat_level, description, description_regional,
		category, details, thumbnail, unparseable, notification_sent
		FROM security_events ORDER BY timestamp DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*event.ThreatEvent
	for rows.Next() {
		var ev event.ThreatEvent
		var level string
		var ts time.Time
		var unparseable, notified int
		if err := rows.Scan(&ev.ID, &ts, &level, &ev.Description, &ev.DescriptionRegional,
			&ev.Category, &ev.Details, &ev.Thumbnail, &unparseable, &notified); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Timestamp = ts
		ev.Level = event.ThreatLevel(level)
		ev.Unparseable = unparseable == 1
		ev.NotificationSent = notified == 1
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// Stats returns event counts grouped by threat level.
func (s *SQLiteStore) Stats(ctx context.Context) (*event.Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT threat_level, COUNT(*) FROM security_events GROUP BY threat_level`)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	defer rows.Close()

	stats := &event.Stats{}
	for rows.Next() {
		var level string
		var count int
		if err := rows.Scan(&level, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		switch event.ThreatLevel(level) {
		case event.LevelHigh:
			stats.High = count
		case event.LevelMedium:
			stats.Medium = count
		case event.LevelLow:
			stats.Low = count
		}
		stats.Total += count
	}
	return stats, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
