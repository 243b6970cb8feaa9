package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/manisoni28/voice-keyboard/internal/audio"
	"github.com/manisoni28/voice-keyboard/internal/capture"
	"github.com/manisoni28/voice-keyboard/internal/config"
	"github.com/manisoni28/voice-keyboard/internal/dedup"
	"github.com/manisoni28/voice-keyboard/internal/metrics"
	"github.com/manisoni28/voice-keyboard/internal/server"
	"github.com/manisoni28/voice-keyboard/internal/session"
	"github.com/manisoni28/voice-keyboard/internal/store"
	"github.com/manisoni28/voice-keyboard/internal/transcription"
	"github.com/manisoni28/voice-keyboard/internal/vad"
	"github.com/manisoni28/voice-keyboard/internal/vocab"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "voice-keyboard"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("slice_interval_ms", cfg.Capture.SliceIntervalMs),
		slog.Int("sample_rate", cfg.Capture.SampleRate),
		slog.Float64("vad_amplitude_threshold", cfg.VAD.AmplitudeThreshold),
		slog.Float64("vad_ratio_threshold", cfg.VAD.RatioThreshold),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.Int("transcription_max_attempts", cfg.Transcription.MaxAttempts),
		slog.String("storage_path", cfg.Storage.Path),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Open the transcript store
	st, err := store.Open(ctx, store.Config{Path: cfg.Storage.Path}, logger)
	if err != nil {
		logger.Error("Failed to open store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Store opened", slog.String("path", cfg.Storage.Path))

	// Vocabulary cache in front of the store
	vocabCache, err := vocab.NewCache(st, vocab.Config{
		TTL:     cfg.Vocabulary.GetCacheTTL(),
		MaxSize: cfg.Vocabulary.CacheSize,
	})
	if err != nil {
		logger.Error("Failed to create vocabulary cache", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Transcription HTTP client
	client, err := transcription.NewClient(transcription.Config{
		Endpoint:         cfg.Transcription.Endpoint,
		ValidateEndpoint: cfg.Transcription.ValidateEndpoint,
		APIKey:           cfg.Transcription.APIKey,
		Timeout:          cfg.Transcription.GetTimeoutDuration(),
		MaxAttempts:      cfg.Transcription.MaxAttempts,
		BackoffBase:      cfg.Transcription.GetBackoffBase(),
		MaxConcurrent:    cfg.Transcription.MaxConcurrent,
	})
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Voice activity gate
	gate, err := vad.NewGate(vad.Config{
		AmplitudeThreshold: cfg.VAD.AmplitudeThreshold,
		RatioThreshold:     cfg.VAD.RatioThreshold,
	})
	if err != nil {
		logger.Error("Failed to create voice activity gate", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Overlap removal engine
	engine, err := dedup.NewEngine(dedup.Config{
		SimilarityThreshold: cfg.Dedup.SimilarityThreshold,
	})
	if err != nil {
		logger.Error("Failed to create dedup engine", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Session manager: each session gets a fresh capture device. The
	// default backend is network-fed (the HTTP ingest endpoint pushes
	// samples into it); device_id "stdin" reads PCM from standard input
	// instead, for piping audio from another process.
	newDevice := func() capture.Device { return capture.NewMemoryDevice() }
	if cfg.Capture.DeviceID == "stdin" {
		newDevice = func() capture.Device { return capture.NewReaderDevice(os.Stdin) }
	}
	sessionMgr, err := session.NewManager(
		newDevice,
		session.Deps{
			Gate:       gate,
			Engine:     engine,
			Service:    client,
			Vocabulary: vocabCache,
			Saver:      st,
			Device: capture.DeviceConfig{
				DeviceID:         cfg.Capture.DeviceID,
				SampleRate:       cfg.Capture.SampleRate,
				NoiseSuppression: cfg.Capture.NoiseSuppression,
				EchoCancellation: cfg.Capture.EchoCancellation,
			},
			Logger: logger,
		},
		session.Config{
			UserID:             cfg.Vocabulary.UserID,
			SliceInterval:      cfg.Capture.GetSliceInterval(),
			GraceDelay:         cfg.Capture.GetGraceDelay(),
			ContextChars:       cfg.Transcription.ContextChars,
			FinalizeDelay:      cfg.Finalize.GetDelay(),
			PollInterval:       cfg.Finalize.GetPollInterval(),
			MaxPolls:           cfg.Finalize.MaxPolls,
			MinValidationWords: cfg.Dedup.MinValidationWords,
		},
	)
	if err != nil {
		logger.Error("Failed to create session manager", slog.String("error", err.Error()))
		os.Exit(1)
	}
	sessionMgr.Subscribe(metricsListener(appMetrics, sessionMgr))
	logger.Info("Session manager initialized",
		slog.Duration("slice_interval", cfg.Capture.GetSliceInterval()),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
	)

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, sessionMgr, st, client, gate, engine, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)

		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stop live sessions (release devices, cancel outstanding requests)
	sessionMgr.Shutdown()

	// Drain the transcription client
	if err := client.Close(); err != nil {
		logger.Error("Error closing transcription client", slog.String("error", err.Error()))
	}

	// Close the store last
	if err := st.Close(); err != nil {
		logger.Error("Error closing store", slog.String("error", err.Error()))
	}

	// Get final statistics
	clientStats := client.GetStats()
	logger.Info("Final transcription statistics",
		slog.Uint64("total_requests", clientStats.TotalRequests),
		slog.Uint64("success_requests", clientStats.SuccessRequests),
		slog.Uint64("failed_requests", clientStats.FailedRequests),
		slog.Uint64("total_retries", clientStats.TotalRetries),
	)

	logger.Info("Service stopped")
}

// metricsListener translates session events into Prometheus metric updates
func metricsListener(m *metrics.Metrics, mgr *session.Manager) session.Listener {
	return func(event session.Event) {
		switch event.Kind {
		case session.EventRecordingStarted:
			m.RecordSessionStarted()
			m.SetActiveSessions(mgr.Len())
		case session.EventSliceProduced:
			m.RecordSliceProduced(event.SliceBytes)
		case session.EventSliceSettled:
			switch event.SliceState {
			case audio.StateSkipped:
				m.RecordSliceSkipped()
			case audio.StateError:
				m.RecordSliceFailed()
			}
		case session.EventGateDecision:
			m.RecordGateDecision(event.Speech, event.Duration.Seconds())
		case session.EventTranscriptionDone:
			m.RecordTranscriptionRequest()
			if event.Err != nil {
				m.RecordTranscriptionFailure(event.Duration.Seconds())
			} else {
				m.RecordTranscriptionSuccess(event.Duration.Seconds())
			}
			for i := 1; i < event.Attempts; i++ {
				m.RecordTranscriptionRetry()
			}
		case session.EventDedupCleaned:
			m.RecordDedupResult(event.Tier)
		case session.EventSessionFinalized:
			m.RecordSessionFinalized(event.Duration.Seconds())
			m.SetActiveSessions(mgr.Len())
		}
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
