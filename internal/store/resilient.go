package store

import (
	"context"
	"sync"
	"time"

	"aegis/internal/event"

	"go.uber.org/zap"
)

// ResilientStore writes to a primary store and degrades to a local
// fallback when the primary is unreachable. Failed primary writes are
// queued and redelivered in the background; because saves are
// idempotent upserts keyed by event id, redelivery can never create
// duplicates, and a durable fallback write means no event is lost.
type ResilientStore struct {
	primary  EventStore
	fallback EventStore
	logger   *zap.Logger

	mu      sync.Mutex
	pending []*event.ThreatEvent

	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewResilient wraps primary with fallback and starts the redelivery
// loop. retryInterval controls how often queued events are replayed.
func NewResilient(primary, fallback EventStore, retryInterval time.Duration, logger *zap.Logger) *ResilientStore {
	if retryInterval <= 0 {
		retryInterval = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ResilientStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		interval: retryInterval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.redeliverLoop()
	return s
}

// Save attempts the primary store first. On failure the event is
// written to the fallback and queued for redelivery to the primary.
func (s *ResilientStore) Save(ctx context.Context, ev *event.ThreatEvent) error {
	primaryErr := s.primary.Save(ctx, ev)
	if primaryErr == nil {
		return nil
	}

	s.logger.Warn("primary store unavailable, using fallback",
		zap.String("event_id", ev.ID), zap.Error(primaryErr))

	s.mu.Lock()
	s.pending = append(s.pending, ev)
	s.mu.Unlock()

	if err := s.fallback.Save(ctx, ev); err != nil {
		// Event is still queued in memory; surface the failure so the
		// caller can log it.
		s.logger.Error("fallback store save failed",
			zap.String("event_id", ev.ID), zap.Error(err))
		return err
	}
	return nil
}

// Recent reads from the primary, degrading to the fallback.
func (s *ResilientStore) Recent(ctx context.Context, limit int) ([]*event.ThreatEvent, error) {
	events, err := s.primary.Recent(ctx, limit)
	if err != nil {
		s.logger.Warn("primary store read failed, using fallback", zap.Error(err))
		return s.fallback.Recent(ctx, limit)
	}
	return events, nil
}

// Stats reads from the primary, degrading to the fallback.
func (s *ResilientStore) Stats(ctx context.Context) (*event.Stats, error) {
	stats, err := s.primary.Stats(ctx)
	if err != nil {
		s.logger.Warn("primary store read failed, using fallback", zap.Error(err))
		return s.fallback.Stats(ctx)
	}
	return stats, nil
}

// PendingCount returns the number of events awaiting redelivery.
func (s *ResilientStore) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Redeliver replays queued events against the primary store. It is
// called periodically by the background loop and is exported for
// deterministic draining.
func (s *ResilientStore) Redeliver(ctx context.Context) {
	s.mu.Lock()
	queued := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(queued) == 0 {
		return
	}

	var remaining []*event.ThreatEvent
	for _, ev := range queued {
		if err := s.primary.Save(ctx, ev); err != nil {
			remaining = append(remaining, ev)
			continue
		}
		s.logger.Info("redelivered event to primary store", zap.String("event_id", ev.ID))
	}

	if len(remaining) > 0 {
		s.mu.Lock()
		s.pending = append(remaining, s.pending...)
		s.mu.Unlock()
	}
}

func (s *ResilientStore) redeliverLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Redeliver(context.Background())
		}
	}
}

// Close stops redelivery and closes both stores.
func (s *ResilientStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.done

	err := s.primary.Close()
	if ferr := s.fallback.Close(); err == nil {
		err = ferr
	}
	return err
}
