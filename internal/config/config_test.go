package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aegis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
source:
  kind: dir
  frame_dir: /tmp/frames
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 640, cfg.Detection.CanonicalWidth)
	assert.Equal(t, 480, cfg.Detection.CanonicalHeight)
	require.NotNil(t, cfg.Detection.IntensityDelta)
	assert.Equal(t, uint8(25), *cfg.Detection.IntensityDelta)
	assert.Equal(t, 0.05, cfg.Detection.MotionThreshold)
	assert.Equal(t, 3*time.Second, cfg.Detection.SamplingCooldown)
	assert.Equal(t, "mock", cfg.Classify.Backend)
	assert.Equal(t, 10*time.Second, cfg.Classify.CallTimeout)
	require.NotNil(t, cfg.Classify.MaxRetries)
	assert.Equal(t, uint64(2), *cfg.Classify.MaxRetries)
	assert.Equal(t, time.Second, cfg.Classify.BackoffBase)
	assert.Equal(t, 70, cfg.Classify.JPEGQuality)
	assert.Equal(t, "Telugu", cfg.Classify.RegionalLanguage)
	assert.Equal(t, 60*time.Second, cfg.Notify.Cooldown)
	assert.False(t, cfg.TelegramEnabled())
}

func TestLoadYAMLOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
source:
  kind: mjpeg
  stream_url: http://camera.local/stream
detection:
  motion_threshold: 0.1
  sampling_cooldown: 5s
classify:
  regional_language: Hindi
notify:
  telegram_bot_token: tok
  telegram_chat_id: "7"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "http://camera.local/stream", cfg.Source.StreamURL)
	assert.Equal(t, 0.1, cfg.Detection.MotionThreshold)
	assert.Equal(t, 5*time.Second, cfg.Detection.SamplingCooldown)
	assert.Equal(t, "Hindi", cfg.Classify.RegionalLanguage)
	assert.True(t, cfg.TelegramEnabled())
}

func TestLoadExplicitZerosSurvive(t *testing.T) {
	path := writeConfig(t, `
source:
  kind: dir
  frame_dir: /tmp/frames
detection:
  intensity_delta: 0
classify:
  max_retries: 0
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.NotNil(t, cfg.Detection.IntensityDelta)
	assert.Equal(t, uint8(0), *cfg.Detection.IntensityDelta, "an explicit delta of 0 must not be replaced by the default")
	require.NotNil(t, cfg.Classify.MaxRetries)
	assert.Equal(t, uint64(0), *cfg.Classify.MaxRetries, "an explicit no-retry setting must not be replaced by the default")
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `
source:
  kind: dir
  frame_dir: /tmp/frames
detection:
  motion_threshold: 0.1
`)
	t.Setenv("AEGIS_MOTION_THRESHOLD", "0.2")
	t.Setenv("AEGIS_SAMPLING_COOLDOWN", "7s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.2, cfg.Detection.MotionThreshold)
	assert.Equal(t, 7*time.Second, cfg.Detection.SamplingCooldown)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("AEGIS_SOURCE_KIND", "dir")
	t.Setenv("AEGIS_FRAME_DIR", "/tmp/frames")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "dir", cfg.Source.Kind)
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"mjpeg without url", "source:\n  kind: mjpeg\n"},
		{"dir without path", "source:\n  kind: dir\n"},
		{"unknown source", "source:\n  kind: rtsp\n  stream_url: x\n"},
		{"gemini without key", "source:\n  kind: dir\n  frame_dir: /f\nclassify:\n  backend: gemini\n"},
		{"unknown backend", "source:\n  kind: dir\n  frame_dir: /f\nclassify:\n  backend: llama\n"},
		{"threshold above one", "source:\n  kind: dir\n  frame_dir: /f\ndetection:\n  motion_threshold: 1.5\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			assert.Error(t, err)
		})
	}
}
