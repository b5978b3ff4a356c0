package gate

import (
	"sync"
	"time"
)

// State is the sampling gate state.
type State string

const (
	// StateIdle - no recent motion, next motion frame is analyzed
	StateIdle State = "idle"
	// StateCooldown - an analysis was issued within the cooldown window
	StateCooldown State = "cooldown"
)

// Decision says whether a frame proceeds to expensive analysis.
type Decision string

const (
	DecisionSkip    Decision = "skip"
	DecisionAnalyze Decision = "analyze"
)

// Reason explains a sampling decision.
type Reason string

const (
	ReasonNoMotion       Reason = "no_motion"
	ReasonCooldownActive Reason = "cooldown_active"
	ReasonMotion         Reason = "motion"
	ReasonForced         Reason = "forced"
)

// SamplingGate decides which motion frames are worth a classification
// call. It bounds calls to at most one per cooldown window regardless
// of how long motion lasts, which doubles as event deduplication for a
// single continuous motion episode. While a classification is
// outstanding the gate holds all frames, so at most one call is ever
// in flight.
type SamplingGate struct {
	mu             sync.Mutex
	cooldown       time.Duration
	state          State
	lastAnalyzedAt time.Time
	inFlight       bool
	now            func() time.Time
}

// DefaultCooldown is the stock sampling window.
const DefaultCooldown = 3 * time.Second

// New creates a gate in the idle state.
func New(cooldown time.Duration) *SamplingGate {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &SamplingGate{
		cooldown: cooldown,
		state:    StateIdle,
		now:      time.Now,
	}
}

// Evaluate processes one frame verdict and returns the sampling
// decision. Called only from the pipeline loop.
func (g *SamplingGate) Evaluate(isMotion bool) (Decision, Reason) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inFlight {
		return DecisionSkip, ReasonCooldownActive
	}

	now := g.now()
	elapsed := g.state == StateCooldown && now.Sub(g.lastAnalyzedAt) >= g.cooldown

	if !isMotion {
		if elapsed {
			g.state = StateIdle
		}
		if g.state == StateCooldown {
			return DecisionSkip, ReasonCooldownActive
		}
		return DecisionSkip, ReasonNoMotion
	}

	if g.state == StateIdle || elapsed {
		g.state = StateCooldown
		g.lastAnalyzedAt = now
		return DecisionAnalyze, ReasonMotion
	}

	return DecisionSkip, ReasonCooldownActive
}

// Force requests an immediate analysis regardless of motion state,
// resetting the cooldown timer. It still respects the single-flight
// constraint: a force while a classification is outstanding is held.
func (g *SamplingGate) Force() (Decision, Reason) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inFlight {
		return DecisionSkip, ReasonCooldownActive
	}

	g.state = StateCooldown
	g.lastAnalyzedAt = g.now()
	return DecisionAnalyze, ReasonForced
}

// BeginAnalysis marks a classification call as outstanding.
func (g *SamplingGate) BeginAnalysis() {
	g.mu.Lock()
	g.inFlight = true
	g.mu.Unlock()
}

// EndAnalysis clears the outstanding-call hold. Called by the pipeline
// loop when the worker result has been consumed, never by the worker.
func (g *SamplingGate) EndAnalysis() {
	g.mu.Lock()
	g.inFlight = false
	g.mu.Unlock()
}

// InFlight reports whether a classification call is outstanding.
func (g *SamplingGate) InFlight() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// State returns the current gate state.
func (g *SamplingGate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// LastAnalyzedAt returns the timestamp of the last analyze decision.
func (g *SamplingGate) LastAnalyzedAt() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastAnalyzedAt
}

// Reset returns the gate to idle with timers cleared. Used when
// monitoring stops and restarts.
func (g *SamplingGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = StateIdle
	g.lastAnalyzedAt = time.Time{}
	g.inFlight = false
}
