package classify

import (
	"encoding/json"
	"strings"
	"time"

	"aegis/internal/event"
)

// serviceResponse is the JSON contract requested by the prompt.
type serviceResponse struct {
	ThreatLevel         string `json:"threat_level"`
	Description         string `json:"description"`
	DescriptionRegional string `json:"description_regional"`
	Category            string `json:"category"`
	Details             string `json:"details"`
}

// parseResponse turns raw service output into an event. Providers
// occasionally wrap JSON in code fences or prose, so parsing strips
// fences first and then falls back to the outermost brace pair. A
// response that still fails to parse, or carries an unknown threat
// token, degrades to a medium-level event flagged Unparseable; parse
// failures are never retried.
func parseResponse(text string, capturedAt time.Time) *event.ThreatEvent {
	ev := event.New(capturedAt)
	ev.RawResponse = text

	clean := strings.TrimSpace(text)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)

	var resp serviceResponse
	if err := json.Unmarshal([]byte(clean), &resp); err != nil {
		start := strings.Index(clean, "{")
		end := strings.LastIndex(clean, "}")
		if start == -1 || end <= start || json.Unmarshal([]byte(clean[start:end+1]), &resp) != nil {
			ev.Level = event.LevelMedium
			ev.Unparseable = true
			ev.Description = truncate(clean, 200)
			ev.Details = clean
			return ev
		}
	}

	level, unparseable := event.ParseLevel(resp.ThreatLevel)
	ev.Level = level
	ev.Unparseable = unparseable
	ev.Description = resp.Description
	ev.DescriptionRegional = resp.DescriptionRegional
	ev.Category = resp.Category
	ev.Details = resp.Details
	return ev
}
