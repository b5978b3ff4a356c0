package store

import (
	"context"
	"fmt"
	"time"

	"aegis/internal/event"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// PostgresStore is the primary event store for deployments with a
// shared database.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore connects to the database at url and runs
// migrations.
func NewPostgresStore(url string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	schema := `CREATE TABLE IF NOT EXISTS security_events (
		id TEXT PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		threat_level TEXT NOT NULL,
		description TEXT NOT NULL,
		description_regional TEXT,
		category TEXT,
		details TEXT,
		thumbnail BYTEA,
		unparseable BOOLEAN DEFAULT FALSE,
		notification_sent BOOLEAN DEFAULT FALSE
	);
	CREATE INDEX IF NOT EXISTS idx_events_time ON security_events(timestamp DESC);`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// Save inserts an event, or updates its notification flag if the id
// already exists.
func (s *PostgresStore) Save(ctx context.Context, ev *event.ThreatEvent) error {
	query := `INSERT INTO security_events
		(id, timestamp, threat_level, description, description_regional,
		 category, details, thumbnail, unparseable, notification_sent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT(id) DO UPDATE SET
			notification_sent = EXCLUDED.notification_sent`

	_, err := s.db.ExecContext(ctx, query, ev.ID, ev.Timestamp, string(ev.Level),
		ev.Description, ev.DescriptionRegional, ev.Category, ev.Details,
		ev.Thumbnail, ev.Unparseable, ev.NotificationSent)
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

type eventRow struct {
	ID                  string    `db:"id"`
	Timestamp           time.Time `db:"timestamp"`
	ThreatLevel         string    `db:"threat_level"`
	Description         string    `db:"description"`
	DescriptionRegional string    `db:"description_regional"`
	Category            string    `db:"category"`
	Details             string    `db:"details"`
	Thumbnail           []byte    `db:"thumbnail"`
	Unparseable         bool      `db:"unparseable"`
	NotificationSent    bool      `db:"notification_sent"`
}

// Recent returns the newest events, most recent first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]*event.ThreatEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, timestamp, threat_level, description,
			COALESCE(description_regional, '') AS description_regional,
			COALESCE(category, '') AS category,
			COALESCE(details, '') AS details,
			thumbnail, unparseable, notification_sent
		FROM security_events ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	events := make([]*event.ThreatEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, &event.ThreatEvent{
			ID:                  r.ID,
			Timestamp:           r.Timestamp,
			Level:               event.ThreatLevel(r.ThreatLevel),
			Description:         r.Description,
			DescriptionRegional: r.DescriptionRegional,
			Category:            r.Category,
			Details:             r.Details,
			Thumbnail:           r.Thumbnail,
			Unparseable:         r.Unparseable,
			NotificationSent:    r.NotificationSent,
		})
	}
	return events, nil
}

// Stats returns event counts grouped by threat level.
func (s *PostgresStore) Stats(ctx context.Context) (*event.Stats, error) {
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
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
