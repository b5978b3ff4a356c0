package source

import (
	"context"

	"aegis/internal/vision"
)

// FrameSource supplies an ordered stream of frames. Next
// blocks until a frame is available, the source is exhausted (io.EOF)
// or the context is cancelled. Sources are not restartable mid-stream;
// a new session opens a new source.
type FrameSource interface {
	Next(ctx context.Context) (*vision.Frame, error)
	Close() error
}
