package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"aegis/internal/event"
	"aegis/internal/pipeline"
	"aegis/internal/source"
	"aegis/internal/vision"
)

// blockedSource never yields a frame until its context is cancelled,
// keeping a session alive for the duration of a test.
type blockedSource struct{}

func (blockedSource) Next(ctx context.Context) (*vision.Frame, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockedSource) Close() error { return nil }

type stubClassifier struct{}

func (stubClassifier) Classify(_ context.Context, frame *vision.Frame, _ []*event.ThreatEvent) (*event.ThreatEvent, error) {
	return event.New(frame.Timestamp), nil
}

// stubStore serves canned events.
type stubStore struct {
	mu     sync.Mutex
	events []*event.ThreatEvent
	fail   bool
}

func (s *stubStore) Save(_ context.Context, ev *event.ThreatEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *stubStore) Recent(_ context.Context, limit int) ([]*event.ThreatEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, fmt.Errorf("store down")
	}
	if limit > len(s.events) {
		limit = len(s.events)
	}
	return s.events[:limit], nil
}

func (s *stubStore) Stats(_ context.Context) (*event.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, fmt.Errorf("store down")
	}
	return &event.Stats{Total: len(s.events)}, nil
}

func (s *stubStore) Close() error { return nil }

func newTestServer(t *testing.T, st *stubStore) (*httptest.Server, *pipeline.Session) {
	t.Helper()

	detector := vision.NewChangeDetector(vision.DetectorConfig{CanonicalWidth: 16, CanonicalHeight: 12})
	session := pipeline.NewSession(pipeline.Config{}, detector, stubClassifier{}, st, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	factory := func(context.Context) (source.FrameSource, error) {
		return blockedSource{}, nil
	}

	srv := NewServer(ctx, session, st, factory, nil, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		session.Stop()
		ts.Close()
	})
	return ts, session
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	var decoded map[string]interface{}
	json.Unmarshal(data, &decoded)
	return resp, decoded
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t, &stubStore{})

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz returned %d", resp.StatusCode)
	}
}

func TestMonitorLifecycle(t *testing.T) {
	ts, session := newTestServer(t, &stubStore{})

	resp, body := postJSON(t, ts.URL+"/api/monitor/start", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start returned %d: %v", resp.StatusCode, body)
	}
	if !session.Running() {
		t.Fatal("session not running after start")
	}

	// A second start while running conflicts.
	resp, _ = postJSON(t, ts.URL+"/api/monitor/start", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("double start returned %d, want 409", resp.StatusCode)
	}

	resp, _ = postJSON(t, ts.URL+"/api/monitor/stop", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop returned %d", resp.StatusCode)
	}
	if session.Running() {
		t.Fatal("session still running after stop")
	}
}

func TestPrivacyToggle(t *testing.T) {
	ts, session := newTestServer(t, &stubStore{})

	resp, _ := postJSON(t, ts.URL+"/api/monitor/privacy", `{"enabled": true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("privacy returned %d", resp.StatusCode)
	}
	if !session.Status().PrivacyMode {
		t.Fatal("privacy mode not set")
	}

	resp, _ = postJSON(t, ts.URL+"/api/monitor/privacy", "not json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad privacy body returned %d, want 400", resp.StatusCode)
	}
}

func TestForceAnalyzeRequiresRunningSession(t *testing.T) {
	ts, _ := newTestServer(t, &stubStore{})

	resp, _ := postJSON(t, ts.URL+"/api/monitor/analyze", "")
	if resp.StatusCode != http.StatusPreconditionFailed {
		t.Fatalf("analyze on stopped session returned %d, want 412", resp.StatusCode)
	}

	postJSON(t, ts.URL+"/api/monitor/start", "")
	resp, _ = postJSON(t, ts.URL+"/api/monitor/analyze", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("analyze on running session returned %d, want 202", resp.StatusCode)
	}
}

func TestEventsEndpoint(t *testing.T) {
	st := &stubStore{}
	for i := 0; i < 3; i++ {
		ev := event.New(time.Now())
		ev.Level = event.LevelLow
		st.events = append(st.events, ev)
	}
	ts, _ := newTestServer(t, st)

	resp, err := http.Get(ts.URL + "/api/events?limit=2")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Events) != 2 {
		t.Fatalf("got %d events, want 2", len(body.Events))
	}

	resp, err = http.Get(ts.URL + "/api/events?limit=0")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("limit=0 returned %d, want 400", resp.StatusCode)
	}
}

func TestStatsEndpoint(t *testing.T) {
	st := &stubStore{}
	st.events = append(st.events, event.New(time.Now()))
	ts, _ := newTestServer(t, st)

	resp, err := http.Get(ts.URL + "/api/events/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var stats event.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.Total != 1 {
		t.Fatalf("stats total = %d, want 1", stats.Total)
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, &stubStore{})

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var status pipeline.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.Running {
		t.Error("fresh session should not report running")
	}
}
