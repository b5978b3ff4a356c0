package event

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ThreatLevel classifies the severity of an observed scene.
type ThreatLevel string

const (
	LevelLow    ThreatLevel = "low"
	LevelMedium ThreatLevel = "medium"
	LevelHigh   ThreatLevel = "high"
)

// ParseLevel maps a provider level token to a ThreatLevel.
// Unknown tokens degrade to medium and are flagged so the raw
// response can be audited later, instead of failing the pipeline.
func ParseLevel(token string) (level ThreatLevel, unparseable bool) {
	switch ThreatLevel(strings.ToLower(strings.TrimSpace(token))) {
	case LevelLow:
		return LevelLow, false
	case LevelMedium:
		return LevelMedium, false
	case LevelHigh:
		return LevelHigh, false
	default:
		return LevelMedium, true
	}
}

// ThreatEvent is the durable unit of pipeline output. One event is
// created per analyzed frame that yields a successful classification.
// Immutable after creation.
type ThreatEvent struct {
	ID                  string      `json:"id"`
	Timestamp           time.Time   `json:"timestamp"`
	Level               ThreatLevel `json:"threat_level"`
	Description         string      `json:"description"`
	DescriptionRegional string      `json:"description_regional,omitempty"`
	Category            string      `json:"category,omitempty"`
	Details             string      `json:"details,omitempty"`
	Thumbnail           []byte      `json:"-"`
	RawResponse         string      `json:"-"`
	Unparseable         bool        `json:"unparseable,omitempty"`
	NotificationSent    bool        `json:"notification_sent"`
}

// New creates an event with a fresh id and the given capture timestamp.
func New(capturedAt time.Time) *ThreatEvent {
	return &ThreatEvent{
		ID:        uuid.NewString(),
		Timestamp: capturedAt,
	}
}

// Stats aggregates event counts by threat level.
type Stats struct {
	Total  int `json:"total"`
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}
