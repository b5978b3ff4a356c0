package classify

import (
	"fmt"
	"strings"

	"aegis/internal/event"
)

// systemPrompt is the fixed instruction sent with every request. The
// service must answer with bare JSON so the response can be parsed
// without scraping.
const systemPrompt = `You are the threat-assessment engine of a household surveillance system.

Analyze the provided camera frame and respond ONLY with valid JSON (no markdown, no code fences) in this exact format:
{
    "threat_level": "low" | "medium" | "high",
    "description": "1-sentence description in English",
    "description_regional": "Same description translated to %s",
    "category": "delivery" | "visitor" | "family" | "stranger" | "animal" | "vehicle" | "empty" | "other",
    "details": "Brief explanation of what you see and why you assigned this threat level"
}

Rules:
- A delivery agent with a recognizable uniform or package is LOW threat.
- A known uniform (postman, police) is LOW threat.
- A stranger loitering near the entrance or looking suspicious is HIGH threat.
- Someone trying to peek, climb, or tamper with the door or gate is HIGH threat.
- A calm scene with no unusual activity is LOW threat.
- If unsure about a person's intent, use MEDIUM threat.
- Animals or vehicles passing by without stopping are LOW threat.`

// buildPrompt renders the user prompt, folding in recent events so the
// service sees the continuity of the episode.
func buildPrompt(regionalLanguage string, recent []*event.ThreatEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, systemPrompt, regionalLanguage)
	b.WriteString("\n\nAnalyze this surveillance frame. What do you see? Assess the threat level.")

	if len(recent) > 0 {
		b.WriteString("\n\nRecent events from this session, oldest first:")
		for _, ev := range recent {
			fmt.Fprintf(&b, "\n- [%s] %s: %s",
				ev.Timestamp.Format("15:04:05"), ev.Level, ev.Description)
		}
	}
	return b.String()
}
