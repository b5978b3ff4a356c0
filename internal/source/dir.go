package source

import (
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"aegis/internal/vision"
)

// DirSource plays back a directory of JPEG frames in filename order,
// used for uploaded footage that has already been split into frames.
// The stream is finite: Next returns io.EOF once the last frame has
// been read.
type DirSource struct {
	files    []string
	interval time.Duration
	start    time.Time
	idx      int
}

// OpenDir opens a frame directory. frameInterval is the synthetic gap
// between consecutive frame timestamps (footage frame rate).
func OpenDir(dir string, frameInterval time.Duration) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := strings.ToLower(entry.Name())
		if strings.HasSuffix(name, ".jpg") || strings.HasSuffix(name, ".jpeg") {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no frames found in %s", dir)
	}
	sort.Strings(files)

	if frameInterval <= 0 {
		frameInterval = 100 * time.Millisecond
	}

	return &DirSource{
		files:    files,
		interval: frameInterval,
		start:    time.Now(),
	}, nil
}

// Next decodes the next frame in sequence.
func (s *DirSource) Next(ctx context.Context) (*vision.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.idx >= len(s.files) {
		return nil, io.EOF
	}

	f, err := os.Open(s.files[s.idx])
	if err != nil {
		return nil, fmt.Errorf("failed to open frame file: %w", err)
	}
	img, err := jpeg.Decode(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", s.files[s.idx], err)
	}

	s.idx++
	return &vision.Frame{
		Image:     img,
		Seq:       uint64(s.idx),
		Timestamp: s.start.Add(time.Duration(s.idx-1) * s.interval),
	}, nil
}

// Close is a no-op for directory playback.
func (s *DirSource) Close() error { return nil }
