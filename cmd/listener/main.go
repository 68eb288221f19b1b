package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/listener/adapters/memory"
	"github.com/satriahrh/arunika/listener/adapters/mongo"
	"github.com/satriahrh/arunika/listener/adapters/nats"
	"github.com/satriahrh/arunika/listener/adapters/sqlite"
	"github.com/satriahrh/arunika/listener/adapters/stt"
	"github.com/satriahrh/arunika/listener/adapters/tts"
	"github.com/satriahrh/arunika/listener/domain/repositories"
	"github.com/satriahrh/arunika/listener/internal/api"
	"github.com/satriahrh/arunika/listener/internal/audio"
	"github.com/satriahrh/arunika/listener/internal/auth"
	"github.com/satriahrh/arunika/listener/internal/config"
	"github.com/satriahrh/arunika/listener/internal/metrics"
	"github.com/satriahrh/arunika/listener/internal/session"
	"github.com/satriahrh/arunika/listener/internal/websocket"
	"github.com/satriahrh/arunika/listener/usecase"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to yaml configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()
	m := metrics.New()

	// Initialize adapters
	normalizer, err := audio.NewNormalizer(audio.Config{
		DecoderCommand: cfg.Audio.DecoderCommand,
		Timeout:        cfg.Audio.DecodeTimeout(),
		TempDir:        cfg.Audio.TempDir,
	}, logger.With(zap.String("component", "normalizer")))
	if err != nil {
		logger.Fatal("Failed to create audio normalizer", zap.Error(err))
	}

	engines, closeEngines, err := newEngineFactory(ctx, cfg.Engine, logger.With(zap.String("component", "engine")))
	if err != nil {
		logger.Fatal("Failed to create recognition engine", zap.Error(err))
	}
	defer closeEngines()

	repo, err := newTranscriptRepository(ctx, cfg.Transcripts, logger.With(zap.String("component", "transcripts")))
	if err != nil {
		logger.Fatal("Failed to open transcript store", zap.Error(err))
	}

	var publisher repositories.TranscriptPublisher
	if cfg.Transcripts.NATSURL != "" {
		publisher, err = nats.Connect(cfg.Transcripts.NATSURL, cfg.Transcripts.NATSSubject, logger.With(zap.String("component", "nats")))
		if err != nil {
			logger.Fatal("Failed to connect transcript publisher", zap.Error(err))
		}
	}

	// Initialize usecase services
	transcripts := usecase.NewTranscriptService(repo, publisher, usecase.TranscriptServiceOptions{
		QueueSize: cfg.Transcripts.QueueSize,
		Metrics:   m,
	}, logger.With(zap.String("component", "transcripts")))

	var cleanup *usecase.TranscriptCleanupService
	if repo != nil && cfg.Transcripts.RetentionHours > 0 {
		cleanup = usecase.NewTranscriptCleanupService(repo, cfg.Transcripts.Retention(), logger.With(zap.String("component", "cleanup")))
		cleanup.Start()
	}

	var synthesis *usecase.SynthesisService
	if cfg.TTS.Enabled {
		backend, err := newTextToSpeech(cfg.TTS, logger.With(zap.String("component", "tts")))
		if err != nil {
			logger.Fatal("Failed to create TTS backend", zap.Error(err))
		}
		synthesis = usecase.NewSynthesisService(backend, logger)
	}

	registry := session.NewRegistry(session.Options{
		Normalizer: normalizer,
		Engines:    engines,
		Recorder:   transcripts,
		Metrics:    m,
		Logger:     logger.With(zap.String("component", "session")),
		QueueSize:  cfg.Session.QueueSize,
	})

	gateway := websocket.NewGateway(registry, websocket.Config{
		SendBuffer:     cfg.Session.SendBuffer,
		MaxMessageSize: cfg.Session.MaxMessageSize,
		IdleTimeout:    cfg.Session.IdleTimeout(),
	}, logger.With(zap.String("component", "gateway")))

	deps := api.Dependencies{
		ServiceName: cfg.ServiceName,
		Gateway:     gateway,
		Registry:    registry,
		Synthesis:   synthesis,
		IssuerKey:   cfg.Auth.IssuerKey,
	}
	if repo != nil {
		deps.Transcripts = transcripts
	}
	if cfg.Telemetry.Metrics {
		deps.Metrics = m
	}
	if cfg.Auth.Enabled {
		deps.Auth = auth.NewManager(cfg.Auth.Secret, cfg.Auth.TokenTTL())
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api.InitRoutes(e, deps, logger)

	go func() {
		if err := e.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Listener started",
		zap.String("addr", cfg.Addr()),
		zap.String("engine", cfg.Engine.Mode),
		zap.String("transcripts", cfg.Transcripts.Store),
		zap.Bool("auth", cfg.Auth.Enabled))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server forced to shutdown", zap.Error(err))
	}
	if err := gateway.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Connections still open at shutdown", zap.Error(err))
	}
	registry.CloseAll()
	if cleanup != nil {
		cleanup.Stop()
	}
	if err := transcripts.Close(shutdownCtx); err != nil {
		logger.Error("Failed to close transcript service", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Environment == "development" {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Telemetry.LogLevel != "" {
		level, err := zap.ParseAtomicLevel(cfg.Telemetry.LogLevel)
		if err != nil {
			return nil, err
		}
		zcfg.Level = level
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", cfg.ServiceName)), nil
}

func newEngineFactory(ctx context.Context, cfg config.EngineConfig, logger *zap.Logger) (repositories.EngineFactory, func(), error) {
	noop := func() {}
	switch cfg.Mode {
	case "exec":
		factory, err := stt.NewExecEngineFactory(cfg.Command, cfg.ModelPath, cfg.Timeout(), logger)
		return factory, noop, err
	case "google":
		factory, err := stt.NewGoogleEngineFactory(ctx, cfg.Language, logger)
		if err != nil {
			return nil, noop, err
		}
		return factory, func() {
			if err := factory.Close(); err != nil {
				logger.Warn("Failed to close speech client", zap.Error(err))
			}
		}, nil
	default:
		return stt.NewMockEngineFactory(nil, logger), noop, nil
	}
}

// newTranscriptRepository returns nil when history is disabled
func newTranscriptRepository(ctx context.Context, cfg config.TranscriptsConfig, logger *zap.Logger) (repositories.TranscriptRepository, error) {
	switch cfg.Store {
	case "memory":
		return memory.NewTranscriptRepository(), nil
	case "sqlite":
		return sqlite.Open(ctx, cfg.SQLitePath, logger)
	case "mongo":
		client, err := mongo.NewClient(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			return nil, err
		}
		repo, err := mongo.NewTranscriptRepository(ctx, client)
		if err != nil {
			client.Close(ctx)
			return nil, err
		}
		return repo, nil
	default:
		return nil, nil
	}
}

func newTextToSpeech(cfg config.TTSConfig, logger *zap.Logger) (repositories.TextToSpeech, error) {
	switch cfg.Mode {
	case "piper":
		return tts.NewPiperTTS(tts.PiperConfig{
			Command:     cfg.PiperPath,
			ModelPath:   cfg.ModelPath,
			ModelConfig: cfg.ModelConfig,
			Timeout:     cfg.Timeout(),
		}, logger)
	case "elevenlabs":
		return tts.NewElevenLabsTTS(tts.ElevenLabsConfig{
			APIKey:     cfg.ElevenLabsAPIKey,
			APIBaseURL: cfg.ElevenLabsURL,
			VoiceID:    cfg.ElevenLabsVoice,
			Timeout:    cfg.Timeout(),
		}, logger)
	default:
		return tts.NewMockTTS(logger), nil
	}
}
