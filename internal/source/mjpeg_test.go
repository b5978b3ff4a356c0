package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func encodeJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8)), nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

// mjpegServer serves the given parts as one multipart/x-mixed-replace
// stream, then ends it.
func mjpegServer(t *testing.T, parts [][]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		for _, part := range parts {
			fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\n\r\n")
			w.Write(part)
			fmt.Fprintf(w, "\r\n")
		}
		fmt.Fprintf(w, "--frame--\r\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMJPEGSourceReadsFrames(t *testing.T) {
	frame := encodeJPEG(t)
	srv := mjpegServer(t, [][]byte{frame, frame})

	src, err := OpenMJPEG(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("OpenMJPEG failed: %v", err)
	}
	defer src.Close()

	ctx := context.Background()
	for i := 1; i <= 2; i++ {
		f, err := src.Next(ctx)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if f.Seq != uint64(i) {
			t.Errorf("frame %d has seq %d", i, f.Seq)
		}
	}
	if _, err := src.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF at stream end, got %v", err)
	}
}

func TestMJPEGSourceSkipsCorruptParts(t *testing.T) {
	frame := encodeJPEG(t)
	srv := mjpegServer(t, [][]byte{
		frame,
		[]byte("garbled sensor data"),
		frame,
	})

	src, err := OpenMJPEG(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("OpenMJPEG failed: %v", err)
	}
	defer src.Close()

	ctx := context.Background()
	first, err := src.Next(ctx)
	if err != nil {
		t.Fatalf("first frame: %v", err)
	}
	// The corrupt part between the two good frames must be invisible
	// to the caller.
	second, err := src.Next(ctx)
	if err != nil {
		t.Fatalf("frame after corrupt part: %v", err)
	}
	if first.Seq != 1 || second.Seq != 2 {
		t.Errorf("got seqs %d, %d; corrupt parts must not consume sequence numbers", first.Seq, second.Seq)
	}
}

func TestMJPEGSourceGivesUpAfterRepeatedDecodeFailures(t *testing.T) {
	parts := make([][]byte, maxDecodeFailures)
	for i := range parts {
		parts[i] = []byte("garbled sensor data")
	}
	srv := mjpegServer(t, parts)

	src, err := OpenMJPEG(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("OpenMJPEG failed: %v", err)
	}
	defer src.Close()

	_, err = src.Next(context.Background())
	if err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("expected a decode-failure error for a fully broken stream, got %v", err)
	}
}

func TestOpenMJPEGRejectsNonStreamResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>not a camera</html>"))
	}))
	t.Cleanup(srv.Close)

	if _, err := OpenMJPEG(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for non-multipart response")
	}
}
