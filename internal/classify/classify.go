package classify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aegis/internal/event"
	"aegis/internal/vision"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Backend issues one raw request to an external description/
// classification service and returns the response text.
type Backend interface {
	Name() string
	Generate(ctx context.Context, jpegFrame []byte, prompt string) (string, error)
	Close() error
}

var (
	// ErrTransient marks network, timeout and rate-limit failures.
	// Backends wrap these so the classifier knows to retry.
	ErrTransient = errors.New("transient classification failure")
	// ErrUnavailable is returned after retries are exhausted. The
	// motion episode is lost; the pipeline logs and continues.
	ErrUnavailable = errors.New("classification unavailable")
)

// Config tunes the classifier wrapper.
type Config struct {
	// ThumbnailWidth/Height bound the payload shipped to the service.
	ThumbnailWidth  int
	ThumbnailHeight int
	JPEGQuality     int
	// RegionalLanguage is the second description language requested
	// from the service.
	RegionalLanguage string
	// CallTimeout is the hard per-attempt timeout.
	CallTimeout time.Duration
	// MaxRetries is the number of retries after the first attempt,
	// applied only to transient failures.
	MaxRetries uint64
	// BackoffBase is the initial retry delay, doubled per attempt.
	BackoffBase time.Duration
}

// DefaultConfig returns the stock classifier tuning.
func DefaultConfig() Config {
	return Config{
		ThumbnailWidth:   640,
		ThumbnailHeight:  480,
		JPEGQuality:      70,
		RegionalLanguage: "Telugu",
		CallTimeout:      10 * time.Second,
		MaxRetries:       2,
		BackoffBase:      time.Second,
	}
}

// Classifier turns an analyze-selected frame into a ThreatEvent by
// calling an external service through a Backend. It owns payload
// serialization, the prompt contract, retry policy and response
// parsing; it never touches storage or notification.
type Classifier struct {
	backend Backend
	cfg     Config
	logger  *zap.Logger
}

// New creates a classifier around the given backend.
func New(backend Backend, cfg Config, logger *zap.Logger) *Classifier {
	def := DefaultConfig()
	if cfg.ThumbnailWidth <= 0 {
		cfg.ThumbnailWidth = def.ThumbnailWidth
	}
	if cfg.ThumbnailHeight <= 0 {
		cfg.ThumbnailHeight = def.ThumbnailHeight
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = def.JPEGQuality
	}
	if cfg.RegionalLanguage == "" {
		cfg.RegionalLanguage = def.RegionalLanguage
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{backend: backend, cfg: cfg, logger: logger}
}

// Classify sends the frame to the classification service and returns a
// fully populated event. recentContext is the last few events, newest
// last, included in the prompt for continuity. Transient failures are
// retried with exponential backoff; after retries are exhausted the
// error wraps ErrUnavailable. A response the service produced but we
// could not parse degrades to a medium-level event flagged for audit
// instead of an error.
func (c *Classifier) Classify(ctx context.Context, frame *vision.Frame, recentContext []*event.ThreatEvent) (*event.ThreatEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	thumb := vision.Resize(frame.Image, c.cfg.ThumbnailWidth, c.cfg.ThumbnailHeight)
	payload, err := vision.EncodeJPEG(thumb, c.cfg.JPEGQuality)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	prompt := buildPrompt(c.cfg.RegionalLanguage, recentContext)

	var text string
	attempt := 0
	operation := func() error {
		// backoff checks ctx only between attempts, so a cancellation
		// racing the first attempt must be caught here.
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}

		attempt++
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()

		out, genErr := c.backend.Generate(callCtx, payload, prompt)
		if genErr != nil {
			if errors.Is(genErr, ErrTransient) || errors.Is(genErr, context.DeadlineExceeded) {
				c.logger.Warn("classification attempt failed",
					zap.String("backend", c.backend.Name()),
					zap.Int("attempt", attempt),
					zap.Error(genErr))
				return genErr
			}
			return backoff.Permanent(genErr)
		}
		text = out
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.BackoffBase
	policy.Multiplier = 2
	policy.RandomizationFactor = 0

	err = backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, c.cfg.MaxRetries), ctx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	ev := parseResponse(text, frame.Timestamp)
	ev.Thumbnail = payload
	if ev.Unparseable {
		c.logger.Warn("unparseable classification response, degraded to medium",
			zap.String("backend", c.backend.Name()),
			zap.String("response", truncate(text, 200)))
	}
	return ev, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
