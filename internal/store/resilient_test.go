package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"aegis/internal/event"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory EventStore with switchable failure.
type memStore struct {
	mu      sync.Mutex
	events  map[string]*event.ThreatEvent
	order   []string
	failing bool
	saves   int
}

func newMemStore() *memStore {
	return &memStore{events: make(map[string]*event.ThreatEvent)}
}

func (m *memStore) setFailing(failing bool) {
	m.mu.Lock()
	m.failing = failing
	m.mu.Unlock()
}

func (m *memStore) Save(_ context.Context, ev *event.ThreatEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.failing {
		return errors.New("store down")
	}
	if _, exists := m.events[ev.ID]; !exists {
		m.order = append(m.order, ev.ID)
	}
	m.events[ev.ID] = ev
	return nil
}

func (m *memStore) Recent(_ context.Context, limit int) ([]*event.ThreatEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return nil, errors.New("store down")
	}
	var out []*event.ThreatEvent
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.events[m.order[i]])
	}
	return out, nil
}

func (m *memStore) Stats(_ context.Context) (*event.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return nil, errors.New("store down")
	}
	stats := &event.Stats{}
	for _, ev := range m.events {
		stats.Total++
		switch ev.Level {
		case event.LevelHigh:
			stats.High++
		case event.LevelMedium:
			stats.Medium++
		case event.LevelLow:
			stats.Low++
		}
	}
	return stats, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func highEvent() *event.ThreatEvent {
	ev := event.New(time.Now())
	ev.Level = event.LevelHigh
	ev.Description = "Stranger at the gate"
	return ev
}

func TestResilientSaveHealthyPrimary(t *testing.T) {
	primary := newMemStore()
	fallback := newMemStore()
	s := NewResilient(primary, fallback, time.Hour, nil)
	defer s.Close()

	require.NoError(t, s.Save(context.Background(), highEvent()))
	assert.Equal(t, 1, primary.count())
	assert.Equal(t, 0, fallback.count(), "fallback untouched while primary is healthy")
	assert.Equal(t, 0, s.PendingCount())
}

func TestResilientSaveFallsBackAndRedelivers(t *testing.T) {
	primary := newMemStore()
	fallback := newMemStore()
	s := NewResilient(primary, fallback, time.Hour, nil)
	defer s.Close()

	primary.setFailing(true)
	ev := highEvent()
	require.NoError(t, s.Save(context.Background(), ev), "a fallback write means no event loss")
	assert.Equal(t, 1, fallback.count())
	assert.Equal(t, 1, s.PendingCount())

	// Primary recovers; redelivery drains the queue exactly once.
	primary.setFailing(false)
	s.Redeliver(context.Background())
	assert.Equal(t, 0, s.PendingCount())
	assert.Equal(t, 1, primary.count())

	// Another pass must not duplicate anything.
	s.Redeliver(context.Background())
	assert.Equal(t, 1, primary.count())
}

func TestResilientRedeliverKeepsFailedEventsQueued(t *testing.T) {
	primary := newMemStore()
	fallback := newMemStore()
	s := NewResilient(primary, fallback, time.Hour, nil)
	defer s.Close()

	primary.setFailing(true)
	require.NoError(t, s.Save(context.Background(), highEvent()))
	require.NoError(t, s.Save(context.Background(), highEvent()))

	s.Redeliver(context.Background())
	assert.Equal(t, 2, s.PendingCount(), "failed redelivery must keep events queued")
	assert.Equal(t, 0, primary.count())
}

func TestResilientSaveErrorsOnlyWhenBothFail(t *testing.T) {
	primary := newMemStore()
	fallback := newMemStore()
	s := NewResilient(primary, fallback, time.Hour, nil)
	defer s.Close()

	primary.setFailing(true)
	fallback.setFailing(true)
	err := s.Save(context.Background(), highEvent())
	assert.Error(t, err)
	assert.Equal(t, 1, s.PendingCount(), "event stays queued in memory even after a double failure")
}

func TestResilientReadsDegradeToFallback(t *testing.T) {
	primary := newMemStore()
	fallback := newMemStore()
	s := NewResilient(primary, fallback, time.Hour, nil)
	defer s.Close()

	ev := highEvent()
	require.NoError(t, fallback.Save(context.Background(), ev))
	primary.setFailing(true)

	events, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ev.ID, events[0].ID)

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.High)
}
