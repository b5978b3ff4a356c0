package source

import (
	"context"
	"fmt"
	"image/jpeg"
	"mime"
	"mime/multipart"
	"net/http"
	"time"

	"aegis/internal/vision"
)

// MJPEGSource reads frames from an HTTP multipart MJPEG stream, the
// common wire format of IP cameras. The stream is effectively
// infinite; it ends only when the camera disconnects or the source is
// closed.
type MJPEGSource struct {
	url    string
	cancel context.CancelFunc
	resp   *http.Response
	reader *multipart.Reader
	seq    uint64
}

// OpenMJPEG connects to the camera stream at url.
func OpenMJPEG(ctx context.Context, url string) (*MJPEGSource, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stream request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to camera stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("camera stream returned status %d", resp.StatusCode)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/x-mixed-replace" || params["boundary"] == "" {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("unexpected stream content type %q", resp.Header.Get("Content-Type"))
	}

	return &MJPEGSource{
		url:    url,
		cancel: cancel,
		resp:   resp,
		reader: multipart.NewReader(resp.Body, params["boundary"]),
	}, nil
}

// maxDecodeFailures bounds how many corrupt parts in a row are
// tolerated before the stream is considered broken. Single glitched
// frames are routine on IP cameras and must not end a session.
const maxDecodeFailures = 5

// Next reads and decodes the next frame part. Undecodable parts are
// skipped.
func (s *MJPEGSource) Next(ctx context.Context) (*vision.Frame, error) {
	var failures int
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		part, err := s.reader.NextPart()
		if err != nil {
			return nil, err
		}

		img, err := jpeg.Decode(part)
		part.Close()
		if err != nil {
			failures++
			if failures >= maxDecodeFailures {
				return nil, fmt.Errorf("stream produced %d undecodable frames in a row: %w", failures, err)
			}
			continue
		}

		s.seq++
		return &vision.Frame{
			Image:     img,
			Seq:       s.seq,
			Timestamp: time.Now(),
		}, nil
	}
}

// Close terminates the stream connection.
func (s *MJPEGSource) Close() error {
	s.cancel()
	return s.resp.Body.Close()
}
