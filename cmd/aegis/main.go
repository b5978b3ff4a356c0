package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aegis/internal/api"
	"aegis/internal/classify"
	"aegis/internal/config"
	"aegis/internal/notify"
	"aegis/internal/pipeline"
	"aegis/internal/source"
	"aegis/internal/store"
	"aegis/internal/vision"
	"aegis/internal/ws"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	var (
		configF = flag.String("config", "aegis.yaml", "Path to YAML config file")
		startF  = flag.Bool("start", false, "Start monitoring immediately instead of waiting for the API")
	)
	flag.Parse()

	cfg, err := config.Load(*configF)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger, *startF); err != nil {
		logger.Fatal("service failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger, startNow bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event store: SQLite always, wrapped with Postgres as primary
	// when configured. The resilient wrapper queues and redelivers so
	// a flaky primary never loses events.
	eventStore, err := buildStore(cfg, logger)
	if err != nil {
		return err
	}
	defer eventStore.Close()

	backend, err := buildBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()
	logger.Info("classification backend ready", zap.String("backend", backend.Name()))

	classifier := classify.New(backend, classify.Config{
		ThumbnailWidth:   cfg.Detection.CanonicalWidth,
		ThumbnailHeight:  cfg.Detection.CanonicalHeight,
		JPEGQuality:      cfg.Classify.JPEGQuality,
		RegionalLanguage: cfg.Classify.RegionalLanguage,
		CallTimeout:      cfg.Classify.CallTimeout,
		MaxRetries:       *cfg.Classify.MaxRetries,
		BackoffBase:      cfg.Classify.BackoffBase,
	}, logger)

	var notifier notify.Notifier
	if cfg.TelegramEnabled() {
		tg, err := notify.NewTelegram(notify.TelegramConfig{
			BotToken: cfg.Notify.TelegramBotToken,
			ChatID:   cfg.Notify.TelegramChatID,
		})
		if err != nil {
			return err
		}
		notifier = tg
		logger.Info("telegram notifier enabled")
	} else {
		logger.Info("telegram notifier disabled, high threats will not alert")
	}

	detector := vision.NewChangeDetector(vision.DetectorConfig{
		CanonicalWidth:  cfg.Detection.CanonicalWidth,
		CanonicalHeight: cfg.Detection.CanonicalHeight,
		IntensityDelta:  *cfg.Detection.IntensityDelta,
		MotionThreshold: cfg.Detection.MotionThreshold,
	})

	bus := pipeline.NewBus()
	defer bus.Close()

	session := pipeline.NewSession(pipeline.Config{
		SamplingCooldown: cfg.Detection.SamplingCooldown,
		NotifyCooldown:   cfg.Notify.Cooldown,
		ContextWindow:    cfg.Classify.ContextWindow,
	}, detector, classifier, eventStore, notifier, bus, logger)

	hub := ws.NewHub(bus, logger)
	defer hub.Close()

	newSource := func(srcCtx context.Context) (source.FrameSource, error) {
		return openSource(srcCtx, cfg.Source)
	}

	server := api.NewServer(ctx, session, eventStore, newSource, ws.NewHandler(hub, logger), logger)

	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.Router(),
	}

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("received signal %s", <-c)
	}()

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	if startNow {
		src, err := openSource(ctx, cfg.Source)
		if err != nil {
			return fmt.Errorf("failed to open frame source: %w", err)
		}
		if err := session.Start(ctx, src); err != nil {
			src.Close()
			return err
		}
	}

	logger.Info("exiting", zap.Error(<-errc))

	session.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}

	logger.Info("exited")
	return nil
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func buildStore(cfg *config.Config, logger *zap.Logger) (store.EventStore, error) {
	sqliteStore, err := store.NewSQLiteStore(cfg.Store.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}

	if cfg.Store.PostgresURL == "" {
		logger.Info("event store: sqlite only", zap.String("path", cfg.Store.SQLitePath))
		return sqliteStore, nil
	}

	pgStore, err := store.NewPostgresStore(cfg.Store.PostgresURL)
	if err != nil {
		// Degraded boot: events stay durable locally, the operator can
		// restart once the primary is reachable again.
		logger.Warn("postgres unavailable at startup, running on sqlite only", zap.Error(err))
		return sqliteStore, nil
	}

	resilient := store.NewResilient(pgStore, sqliteStore, cfg.Store.RedeliverInterval, logger)
	logger.Info("event store: postgres primary with sqlite fallback")
	return resilient, nil
}

func buildBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (classify.Backend, error) {
	switch cfg.Classify.Backend {
	case "gemini":
		return classify.NewGeminiBackend(ctx, classify.GeminiConfig{
			APIKey:    cfg.Classify.GeminiAPIKey,
			ModelName: cfg.Classify.GeminiModel,
		}, logger)
	case "mock":
		return classify.NewMockBackend(), nil
	default:
		return nil, fmt.Errorf("unknown classify backend %q", cfg.Classify.Backend)
	}
}

func openSource(ctx context.Context, cfg config.SourceConfig) (source.FrameSource, error) {
	switch cfg.Kind {
	case "mjpeg":
		return source.OpenMJPEG(ctx, cfg.StreamURL)
	case "dir":
		return source.OpenDir(cfg.FrameDir, cfg.FrameInterval)
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}
