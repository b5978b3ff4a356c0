package store

import (
	"context"

	"aegis/internal/event"
)

// EventStore persists finalized threat events. Saves are idempotent:
// events are keyed by their UUID and saving an existing id updates
// only its notification flag, so retries can never duplicate a row.
type EventStore interface {
	Save(ctx context.Context, ev *event.ThreatEvent) error
	Recent(ctx context.Context, limit int) ([]*event.ThreatEvent, error)
	Stats(ctx context.Context) (*event.Stats, error)
	Close() error
}
