package pipeline

import (
	"context"
	"time"

	"aegis/internal/event"
	"aegis/internal/gate"
	"aegis/internal/vision"
)

// Classifier is the narrow contract the pipeline needs from the
// classification layer.
type Classifier interface {
	Classify(ctx context.Context, frame *vision.Frame, recentContext []*event.ThreatEvent) (*event.ThreatEvent, error)
}

// Config tunes a monitoring session.
type Config struct {
	// SamplingCooldown is the minimum gap between analyze decisions.
	SamplingCooldown time.Duration
	// NotifyCooldown bounds how often the notifier fires for high
	// threats, independent of the sampling window. Suppressed alerts
	// are still persisted as events.
	NotifyCooldown time.Duration
	// ContextWindow is how many recent events accompany each
	// classification request.
	ContextWindow int
}

// DefaultConfig returns the stock session tuning.
func DefaultConfig() Config {
	return Config{
		SamplingCooldown: gate.DefaultCooldown,
		NotifyCooldown:   60 * time.Second,
		ContextWindow:    5,
	}
}

// Status is a point-in-time snapshot of the session, surfaced to the
// UI layer.
type Status struct {
	Running     bool        `json:"running"`
	PrivacyMode bool        `json:"privacy_mode"`
	GateState   gate.State  `json:"gate_state"`
	InFlight    bool        `json:"classification_in_flight"`
	Degraded    bool        `json:"degraded"`
	LastScore   float64     `json:"last_motion_score"`
	LastReason  gate.Reason `json:"last_decision_reason"`
	Stats       Stats       `json:"stats"`
}

// Stats counts session activity.
type Stats struct {
	FramesTotal             uint64 `json:"frames_total"`
	MotionFrames            uint64 `json:"motion_frames"`
	AnalyzeDecisions        uint64 `json:"analyze_decisions"`
	EventsCreated           uint64 `json:"events_created"`
	ClassificationsFailed   uint64 `json:"classifications_failed"`
	NotificationsSent       uint64 `json:"notifications_sent"`
	NotificationsSuppressed uint64 `json:"notifications_suppressed"`
}
