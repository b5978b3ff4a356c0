package pipeline

import (
	"sync"

	"aegis/internal/event"
)

// Update is one bus message: a finalized event, a status change, or
// both.
type Update struct {
	Event  *event.ThreatEvent `json:"event,omitempty"`
	Status *Status            `json:"status,omitempty"`
}

// UpdateHandler receives pipeline updates.
type UpdateHandler interface {
	OnPipelineUpdate(u *Update)
}

// Bus provides pub/sub for session updates. Handlers are invoked
// synchronously so events are observed in emission order; channel
// subscribers get best-effort delivery and may drop under load.
type Bus struct {
	subscribers map[*busSubscription]bool
	mu          sync.RWMutex
}

type busSubscription struct {
	channel chan *Update
	handler UpdateHandler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[*busSubscription]bool)}
}

// Subscribe registers a handler. Returns an unsubscribe function.
func (b *Bus) Subscribe(handler UpdateHandler) func() {
	sub := &busSubscription{handler: handler}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// SubscribeChannel returns a buffered channel of updates and an
// unsubscribe function.
func (b *Bus) SubscribeChannel(bufferSize int) (<-chan *Update, func()) {
	if bufferSize <= 0 {
		bufferSize = 16
	}

	ch := make(chan *Update, bufferSize)
	sub := &busSubscription{channel: ch}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish delivers an update to all subscribers.
func (b *Bus) Publish(u *Update) {
	if u == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.handler != nil {
			sub.handler.OnPipelineUpdate(u)
		} else if sub.channel != nil {
			select {
			case sub.channel <- u:
			default:
				// Subscriber is slow, drop rather than stall the loop
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes everyone and closes channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}
