package ws

import (
	"encoding/base64"
	"time"

	"aegis/internal/event"
	"aegis/internal/pipeline"
)

// Message is the wire envelope pushed to WebSocket clients.
type Message struct {
	Type      string           `json:"type"` // "event" or "status"
	Timestamp time.Time        `json:"timestamp"`
	Event     *EventPayload    `json:"event,omitempty"`
	Status    *pipeline.Status `json:"status,omitempty"`
}

// EventPayload is a threat event prepared for the browser: the
// thumbnail travels base64-encoded.
type EventPayload struct {
	ID                  string    `json:"id"`
	Timestamp           time.Time `json:"timestamp"`
	Level               string    `json:"threat_level"`
	Description         string    `json:"description"`
	DescriptionRegional string    `json:"description_regional,omitempty"`
	Category            string    `json:"category,omitempty"`
	Details             string    `json:"details,omitempty"`
	Thumbnail           string    `json:"thumbnail,omitempty"`
	Unparseable         bool      `json:"unparseable,omitempty"`
}

func newEventPayload(ev *event.ThreatEvent) *EventPayload {
	p := &EventPayload{
		ID:                  ev.ID,
		Timestamp:           ev.Timestamp,
		Level:               string(ev.Level),
		Description:         ev.Description,
		DescriptionRegional: ev.DescriptionRegional,
		Category:            ev.Category,
		Details:             ev.Details,
		Unparseable:         ev.Unparseable,
	}
	if len(ev.Thumbnail) > 0 {
		p.Thumbnail = base64.StdEncoding.EncodeToString(ev.Thumbnail)
	}
	return p
}

func newMessage(u *pipeline.Update) *Message {
	msg := &Message{
		Type:      "status",
		Timestamp: time.Now(),
		Status:    u.Status,
	}
	if u.Event != nil {
		msg.Type = "event"
		msg.Event = newEventPayload(u.Event)
	}
	return msg
}
