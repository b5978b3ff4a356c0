package vision

import (
	"image"
)

// ChangeScore is the result of comparing two consecutive frames.
// Score is the fraction of pixels whose intensity delta exceeded the
// configured threshold, in [0,1].
type ChangeScore struct {
	Score    float64
	IsMotion bool
}

// DetectorConfig tunes the change detector.
type DetectorConfig struct {
	// CanonicalWidth/Height bound the comparison cost. Frames are
	// resized to this resolution before differencing.
	CanonicalWidth  int
	CanonicalHeight int
	// IntensityDelta is the per-pixel difference (0-255 scale) above
	// which a pixel counts as changed.
	IntensityDelta uint8
	// MotionThreshold is the changed-pixel fraction above which the
	// frame qualifies as motion.
	MotionThreshold float64
}

// DefaultDetectorConfig returns the stock detector tuning.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		CanonicalWidth:  640,
		CanonicalHeight: 480,
		IntensityDelta:  25,
		MotionThreshold: 0.05,
	}
}

// ChangeDetector computes difference scores between consecutive frames.
// It is stateless; callers keep the previous canonical frame and pass
// it back in, so each frame is resized exactly once.
type ChangeDetector struct {
	cfg DetectorConfig
}

// NewChangeDetector creates a detector with the given tuning. Zero
// dimensions and threshold fall back to defaults; IntensityDelta is
// taken as-is, a delta of 0 counts every changed pixel.
func NewChangeDetector(cfg DetectorConfig) *ChangeDetector {
	def := DefaultDetectorConfig()
	if cfg.CanonicalWidth <= 0 {
		cfg.CanonicalWidth = def.CanonicalWidth
	}
	if cfg.CanonicalHeight <= 0 {
		cfg.CanonicalHeight = def.CanonicalHeight
	}
	if cfg.MotionThreshold <= 0 {
		cfg.MotionThreshold = def.MotionThreshold
	}
	return &ChangeDetector{cfg: cfg}
}

// Prepare converts a frame to its canonical grayscale representation.
// The caller caches the result for reuse as the next "previous" frame.
func (d *ChangeDetector) Prepare(f *Frame) *image.Gray {
	return ResizeGray(f.Image, d.cfg.CanonicalWidth, d.cfg.CanonicalHeight)
}

// Compare diffs two canonical frames and returns the change score.
// A nil previous frame is the session bootstrap case: the first frame
// has no predecessor and never counts as motion.
func (d *ChangeDetector) Compare(prev, curr *image.Gray) ChangeScore {
	if prev == nil || curr == nil {
		return ChangeScore{}
	}

	bounds := curr.Bounds()
	if prev.Bounds() != bounds {
		// Both sides go through Prepare, so a mismatch means the
		// caller fed a stale buffer. Treat as bootstrap.
		return ChangeScore{}
	}

	width := bounds.Dx()
	height := bounds.Dy()
	delta := int(d.cfg.IntensityDelta)

	var changed, total int
	for y := 0; y < height; y++ {
		prow := prev.Pix[y*prev.Stride : y*prev.Stride+width]
		crow := curr.Pix[y*curr.Stride : y*curr.Stride+width]
		for x := 0; x < width; x++ {
			diff := int(prow[x]) - int(crow[x])
			if diff < 0 {
				diff = -diff
			}
			if diff > delta {
				changed++
			}
			total++
		}
	}

	if total == 0 {
		return ChangeScore{}
	}

	score := float64(changed) / float64(total)
	return ChangeScore{
		Score:    score,
		IsMotion: score > d.cfg.MotionThreshold,
	}
}

// MotionThreshold returns the configured motion threshold.
func (d *ChangeDetector) MotionThreshold() float64 { return d.cfg.MotionThreshold }
