package notify

import (
	"context"

	"aegis/internal/event"
)

// Notifier delivers an alert for a high-severity event. Failures are
// logged by the pipeline and never escalate: a missed alert must not
// stop monitoring.
type Notifier interface {
	Notify(ctx context.Context, ev *event.ThreatEvent) error
}
