package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"aegis/internal/classify"
	"aegis/internal/event"
	"aegis/internal/gate"
	"aegis/internal/notify"
	"aegis/internal/source"
	"aegis/internal/store"
	"aegis/internal/vision"

	"go.uber.org/zap"
)

// ErrNotRunning is returned by commands against a stopped session.
var ErrNotRunning = errors.New("monitoring session is not running")

// Session drives the per-frame loop for one monitoring session:
// FrameSource → ChangeDetector → SamplingGate → Classifier → sinks.
// Frame consumption and gate evaluation stay cheap and synchronous;
// an analyze decision hands the frame to a single asynchronous
// classification worker. All gate and cooldown state is mutated only
// by the loop goroutine, the worker just returns a result.
type Session struct {
	cfg        Config
	detector   *vision.ChangeDetector
	gate       *gate.SamplingGate
	classifier Classifier
	store      store.EventStore
	notifier   notify.Notifier
	bus        *Bus
	logger     *zap.Logger

	mu             sync.Mutex
	running        bool
	privacy        bool
	degraded       bool
	lastScore      float64
	lastReason     gate.Reason
	lastNotifiedAt time.Time
	stats          Stats
	recent         []*event.ThreatEvent
	cancel         context.CancelFunc
	done           chan struct{}

	forcePending atomic.Bool
	now          func() time.Time
}

// NewSession wires a session. store, notifier and bus may be nil in
// detection-only setups and tests.
func NewSession(cfg Config, detector *vision.ChangeDetector, classifier Classifier,
	eventStore store.EventStore, notifier notify.Notifier, bus *Bus, logger *zap.Logger) *Session {

	def := DefaultConfig()
	if cfg.SamplingCooldown <= 0 {
		cfg.SamplingCooldown = def.SamplingCooldown
	}
	if cfg.NotifyCooldown <= 0 {
		cfg.NotifyCooldown = def.NotifyCooldown
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = def.ContextWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Session{
		cfg:        cfg,
		detector:   detector,
		gate:       gate.New(cfg.SamplingCooldown),
		classifier: classifier,
		store:      eventStore,
		notifier:   notifier,
		bus:        bus,
		logger:     logger,
		now:        time.Now,
	}
}

// Start begins consuming frames from src. It returns immediately; the
// loop runs until the source is exhausted, Stop is called, or ctx is
// cancelled.
func (s *Session) Start(ctx context.Context, src source.FrameSource) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("monitoring session already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	s.degraded = false
	s.lastScore = 0
	s.lastReason = ""
	s.lastNotifiedAt = time.Time{}
	s.stats = Stats{}
	s.recent = nil
	s.mu.Unlock()

	s.gate.Reset()
	s.forcePending.Store(false)

	go s.run(runCtx, src)

	s.logger.Info("monitoring started")
	return nil
}

// Stop ends the session, cancelling any in-flight classification. The
// partial result is discarded, not persisted. Blocks until the loop
// has exited.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.gate.Reset()
	s.logger.Info("monitoring stopped")
}

// SetPrivacyMode toggles privacy. While active, frames are still read
// but detection, sampling and classification are bypassed entirely,
// so no events can be created or persisted.
func (s *Session) SetPrivacyMode(enabled bool) {
	s.mu.Lock()
	s.privacy = enabled
	s.mu.Unlock()
	s.logger.Info("privacy mode changed", zap.Bool("enabled", enabled))
	s.publishStatus()
}

// ForceAnalyze requests that the next frame be analyzed regardless of
// motion state, resetting the sampling cooldown.
func (s *Session) ForceAnalyze() error {
	s.mu.Lock()
	running := s.running
	privacy := s.privacy
	s.mu.Unlock()

	if !running {
		return ErrNotRunning
	}
	if privacy {
		return fmt.Errorf("cannot analyze while privacy mode is active")
	}
	s.forcePending.Store(true)
	return nil
}

// Running reports whether the loop is active.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Wait blocks until the session loop has exited. Returns immediately
// if the session never started.
func (s *Session) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Status returns a snapshot of the session.
func (s *Session) Status() *Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Status{
		Running:     s.running,
		PrivacyMode: s.privacy,
		GateState:   s.gate.State(),
		InFlight:    s.gate.InFlight(),
		Degraded:    s.degraded,
		LastScore:   s.lastScore,
		LastReason:  s.lastReason,
		Stats:       s.stats,
	}
}

type classifyResult struct {
	ev  *event.ThreatEvent
	err error
}

func (s *Session) run(ctx context.Context, src source.FrameSource) {
	defer func() {
		s.mu.Lock()
		s.running = false
		done := s.done
		s.mu.Unlock()
		s.publishStatus()
		close(done)
	}()
	defer src.Close()

	var prevGray *image.Gray
	resultCh := make(chan *classifyResult, 1)

	for {
		frame, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Info("frame source exhausted")
				// Let the last outstanding classification land before
				// finishing a file-backed session.
				if s.gate.InFlight() {
					select {
					case res := <-resultCh:
						s.handleResult(ctx, res)
					case <-ctx.Done():
					}
				}
			} else if ctx.Err() == nil {
				s.logger.Error("frame source failed", zap.Error(err))
			}
			return
		}

		// Consume a finished classification first so sinks observe
		// events in frame order.
		select {
		case res := <-resultCh:
			s.handleResult(ctx, res)
		default:
		}

		s.mu.Lock()
		s.stats.FramesTotal++
		privacy := s.privacy
		s.mu.Unlock()

		if privacy {
			// Keep reading so a live preview stays alive, but drop the
			// baseline: the first frame after privacy ends bootstraps
			// fresh instead of diffing against a stale scene.
			prevGray = nil
			continue
		}

		gray := s.detector.Prepare(frame)
		score := s.detector.Compare(prevGray, gray)
		prevGray = gray

		var decision gate.Decision
		var reason gate.Reason
		if s.forcePending.CompareAndSwap(true, false) {
			decision, reason = s.gate.Force()
		} else {
			decision, reason = s.gate.Evaluate(score.IsMotion)
		}

		s.mu.Lock()
		s.lastScore = score.Score
		s.lastReason = reason
		if score.IsMotion {
			s.stats.MotionFrames++
		}
		if decision == gate.DecisionAnalyze {
			s.stats.AnalyzeDecisions++
		}
		s.mu.Unlock()
		s.publishStatus()

		if decision != gate.DecisionAnalyze {
			continue
		}

		s.gate.BeginAnalysis()
		recentCtx := s.recentSnapshot()
		go func(f *vision.Frame) {
			ev, cerr := s.classifier.Classify(ctx, f, recentCtx)
			resultCh <- &classifyResult{ev: ev, err: cerr}
		}(frame)
	}
}

// handleResult processes one finished classification. Runs on the
// loop goroutine only.
func (s *Session) handleResult(ctx context.Context, res *classifyResult) {
	s.gate.EndAnalysis()

	if res.err != nil {
		if ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		s.stats.ClassificationsFailed++
		if errors.Is(res.err, classify.ErrUnavailable) {
			s.degraded = true
		}
		s.mu.Unlock()
		s.logger.Warn("classification failed, episode lost", zap.Error(res.err))
		s.publishStatus()
		return
	}

	ev := res.ev

	s.mu.Lock()
	s.degraded = false
	s.stats.EventsCreated++
	s.recent = append(s.recent, ev)
	if len(s.recent) > s.cfg.ContextWindow {
		s.recent = s.recent[len(s.recent)-s.cfg.ContextWindow:]
	}
	s.mu.Unlock()

	s.logger.Info("threat event created",
		zap.String("event_id", ev.ID),
		zap.String("level", string(ev.Level)),
		zap.String("description", ev.Description))

	if s.store != nil {
		if err := s.store.Save(ctx, ev); err != nil {
			s.logger.Error("event save failed", zap.String("event_id", ev.ID), zap.Error(err))
		}
	}

	if ev.Level == event.LevelHigh && s.notifier != nil {
		s.maybeNotify(ctx, ev)
	}

	if s.bus != nil {
		s.bus.Publish(&Update{Event: ev, Status: s.Status()})
	}
}

// maybeNotify fires the notifier for a high threat unless the
// notification window is still closed. Suppressed alerts stay
// persisted; a notifier failure is logged and never stops monitoring.
func (s *Session) maybeNotify(ctx context.Context, ev *event.ThreatEvent) {
	now := s.now()

	s.mu.Lock()
	withinCooldown := !s.lastNotifiedAt.IsZero() && now.Sub(s.lastNotifiedAt) < s.cfg.NotifyCooldown
	if withinCooldown {
		s.stats.NotificationsSuppressed++
		s.mu.Unlock()
		s.logger.Info("notification suppressed by cooldown", zap.String("event_id", ev.ID))
		return
	}
	s.lastNotifiedAt = now
	s.mu.Unlock()

	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.logger.Error("notification failed", zap.String("event_id", ev.ID), zap.Error(err))
		return
	}

	s.mu.Lock()
	s.stats.NotificationsSent++
	s.mu.Unlock()

	ev.NotificationSent = true
	if s.store != nil {
		// Idempotent upsert flips only the notification flag.
		if err := s.store.Save(ctx, ev); err != nil {
			s.logger.Error("notification flag save failed", zap.String("event_id", ev.ID), zap.Error(err))
		}
	}
}

func (s *Session) recentSnapshot() []*event.ThreatEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*event.ThreatEvent, len(s.recent))
	copy(out, s.recent)
	return out
}

func (s *Session) publishStatus() {
	if s.bus == nil {
		return
	}
	s.bus.Publish(&Update{Status: s.Status()})
}
