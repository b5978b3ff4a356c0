package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration. Values come from an
// optional YAML file, then environment variables override, then
// defaults fill whatever is still unset.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Source    SourceConfig    `yaml:"source"`
	Detection DetectionConfig `yaml:"detection"`
	Classify  ClassifyConfig  `yaml:"classify"`
	Store     StoreConfig     `yaml:"store"`
	Notify    NotifyConfig    `yaml:"notify"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" env:"AEGIS_HTTP_ADDR"`
}

// SourceConfig selects the frame source. Kind is "mjpeg" for a live
// camera stream or "dir" for pre-split footage frames.
type SourceConfig struct {
	Kind          string        `yaml:"kind" env:"AEGIS_SOURCE_KIND"`
	StreamURL     string        `yaml:"stream_url" env:"AEGIS_STREAM_URL"`
	FrameDir      string        `yaml:"frame_dir" env:"AEGIS_FRAME_DIR"`
	FrameInterval time.Duration `yaml:"frame_interval" env:"AEGIS_FRAME_INTERVAL"`
}

type DetectionConfig struct {
	CanonicalWidth   int           `yaml:"canonical_width" env:"AEGIS_CANONICAL_WIDTH"`
	CanonicalHeight  int           `yaml:"canonical_height" env:"AEGIS_CANONICAL_HEIGHT"`
	// IntensityDelta is a pointer so an explicit 0 (count every changed
	// pixel) is distinguishable from unset.
	IntensityDelta   *uint8        `yaml:"intensity_delta" env:"AEGIS_INTENSITY_DELTA"`
	MotionThreshold  float64       `yaml:"motion_threshold" env:"AEGIS_MOTION_THRESHOLD"`
	SamplingCooldown time.Duration `yaml:"sampling_cooldown" env:"AEGIS_SAMPLING_COOLDOWN"`
}

type ClassifyConfig struct {
	Backend          string        `yaml:"backend" env:"AEGIS_CLASSIFY_BACKEND"` // "gemini" or "mock"
	GeminiAPIKey     string        `yaml:"gemini_api_key" env:"GEMINI_API_KEY"`
	GeminiModel      string        `yaml:"gemini_model" env:"AEGIS_GEMINI_MODEL"`
	CallTimeout      time.Duration `yaml:"call_timeout" env:"AEGIS_CLASSIFY_TIMEOUT"`
	// MaxRetries is a pointer so an explicit 0 (no retries) is
	// distinguishable from unset.
	MaxRetries       *uint64       `yaml:"max_retries" env:"AEGIS_CLASSIFY_RETRIES"`
	BackoffBase      time.Duration `yaml:"backoff_base" env:"AEGIS_CLASSIFY_BACKOFF"`
	JPEGQuality      int           `yaml:"jpeg_quality" env:"AEGIS_JPEG_QUALITY"`
	RegionalLanguage string        `yaml:"regional_language" env:"AEGIS_REGIONAL_LANGUAGE"`
	ContextWindow    int           `yaml:"context_window" env:"AEGIS_CONTEXT_WINDOW"`
}

type StoreConfig struct {
	SQLitePath        string        `yaml:"sqlite_path" env:"AEGIS_SQLITE_PATH"`
	PostgresURL       string        `yaml:"postgres_url" env:"AEGIS_POSTGRES_URL"`
	RedeliverInterval time.Duration `yaml:"redeliver_interval" env:"AEGIS_REDELIVER_INTERVAL"`
}

type NotifyConfig struct {
	TelegramBotToken string        `yaml:"telegram_bot_token" env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string        `yaml:"telegram_chat_id" env:"TELEGRAM_CHAT_ID"`
	Cooldown         time.Duration `yaml:"cooldown" env:"AEGIS_NOTIFY_COOLDOWN"`
}

type LogConfig struct {
	Level       string `yaml:"level" env:"AEGIS_LOG_LEVEL"`
	Development bool   `yaml:"development" env:"AEGIS_LOG_DEV"`
}

// Load reads path (skipped when empty or missing), applies environment
// overrides and fills defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Source.Kind == "" {
		c.Source.Kind = "mjpeg"
	}
	if c.Source.FrameInterval <= 0 {
		c.Source.FrameInterval = 100 * time.Millisecond
	}
	if c.Detection.CanonicalWidth <= 0 {
		c.Detection.CanonicalWidth = 640
	}
	if c.Detection.CanonicalHeight <= 0 {
		c.Detection.CanonicalHeight = 480
	}
	if c.Detection.IntensityDelta == nil {
		delta := uint8(25)
		c.Detection.IntensityDelta = &delta
	}
	if c.Detection.MotionThreshold <= 0 {
		c.Detection.MotionThreshold = 0.05
	}
	if c.Detection.SamplingCooldown <= 0 {
		c.Detection.SamplingCooldown = 3 * time.Second
	}
	if c.Classify.Backend == "" {
		c.Classify.Backend = "mock"
	}
	if c.Classify.GeminiModel == "" {
		c.Classify.GeminiModel = "gemini-2.0-flash-exp"
	}
	if c.Classify.CallTimeout <= 0 {
		c.Classify.CallTimeout = 10 * time.Second
	}
	if c.Classify.MaxRetries == nil {
		retries := uint64(2)
		c.Classify.MaxRetries = &retries
	}
	if c.Classify.BackoffBase <= 0 {
		c.Classify.BackoffBase = time.Second
	}
	if c.Classify.JPEGQuality <= 0 {
		c.Classify.JPEGQuality = 70
	}
	if c.Classify.RegionalLanguage == "" {
		c.Classify.RegionalLanguage = "Telugu"
	}
	if c.Classify.ContextWindow <= 0 {
		c.Classify.ContextWindow = 5
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = "aegis.db"
	}
	if c.Store.RedeliverInterval <= 0 {
		c.Store.RedeliverInterval = 15 * time.Second
	}
	if c.Notify.Cooldown <= 0 {
		c.Notify.Cooldown = 60 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) validate() error {
	switch c.Source.Kind {
	case "mjpeg":
		if c.Source.StreamURL == "" {
			return fmt.Errorf("source.stream_url is required for mjpeg source")
		}
	case "dir":
		if c.Source.FrameDir == "" {
			return fmt.Errorf("source.frame_dir is required for dir source")
		}
	default:
		return fmt.Errorf("unknown source kind %q", c.Source.Kind)
	}

	switch c.Classify.Backend {
	case "gemini":
		if c.Classify.GeminiAPIKey == "" {
			return fmt.Errorf("classify.gemini_api_key is required for the gemini backend")
		}
	case "mock":
	default:
		return fmt.Errorf("unknown classify backend %q", c.Classify.Backend)
	}

	if c.Detection.MotionThreshold > 1 {
		return fmt.Errorf("detection.motion_threshold must be within (0, 1]")
	}
	return nil
}

// TelegramEnabled reports whether the notifier is configured.
func (c *Config) TelegramEnabled() bool {
	return c.Notify.TelegramBotToken != "" && c.Notify.TelegramChatID != ""
}
