package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/manisoni28/voice-keyboard/internal/config"
	"github.com/manisoni28/voice-keyboard/internal/dedup"
	"github.com/manisoni28/voice-keyboard/internal/metrics"
	"github.com/manisoni28/voice-keyboard/internal/session"
	"github.com/manisoni28/voice-keyboard/internal/store"
	"github.com/manisoni28/voice-keyboard/internal/transcription"
	"github.com/manisoni28/voice-keyboard/internal/vad"
)

// maxAudioBodyBytes bounds a single pushed audio payload: one minute of
// PCM16 at 48kHz.
const maxAudioBodyBytes = 48000 * 2 * 60

// HTTPServer provides HTTP API endpoints for session control and monitoring
type HTTPServer struct {
	server     *http.Server
	logger     *slog.Logger
	config     *config.Config
	sessionMgr *session.Manager
	store      *store.Store
	client     *transcription.Client
	gate       *vad.Gate
	engine     *dedup.Engine
	metrics    *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, sessionMgr *session.Manager, st *store.Store,
	client *transcription.Client, gate *vad.Gate, engine *dedup.Engine, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:     logger,
		config:     appConfig,
		sessionMgr: sessionMgr,
		store:      st,
		client:     client,
		gate:       gate,
		engine:     engine,
		metrics:    m,
		startTime:  time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Session control and monitoring endpoints
	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/sessions/", h.withMetrics("/sessions/{id}", h.handleSessionDetail))

	// Saved transcription endpoints
	mux.HandleFunc("/transcriptions", h.withMetrics("/transcriptions", h.handleTranscriptions))
	mux.HandleFunc("/transcriptions/", h.withMetrics("/transcriptions/{id}", h.handleTranscriptionDetail))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Handler returns the configured route handler, used by tests
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	clientStats := h.client.GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "voice-keyboard",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"sessions": map[string]interface{}{
				"status":       "running",
				"active_count": h.sessionMgr.Len(),
			},
			"transcription": map[string]interface{}{
				"status":          "running",
				"total_requests":  clientStats.TotalRequests,
				"success_rate":    clientStats.SuccessRate,
				"active_requests": clientStats.ActiveRequests,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleSessions implements the /sessions endpoint: GET lists live
// sessions, POST starts a new one.
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sessions := h.sessionMgr.List()
		response := map[string]interface{}{
			"total_sessions": len(sessions),
			"timestamp":      time.Now().UTC(),
			"sessions":       sessions,
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)

	case http.MethodPost:
		s, err := h.sessionMgr.StartSession()
		if err != nil {
			h.logger.Error("Failed to start session", slog.String("error", err.Error()))
			http.Error(w, fmt.Sprintf("Failed to start session: %v", err), http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":    s.ID,
			"state": s.State().String(),
		})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSessionDetail implements /sessions/{id} and the control actions
// /sessions/{id}/pause, /sessions/{id}/resume, /sessions/{id}/stop.
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if rest == "" {
		http.Error(w, "Session ID required", http.StatusBadRequest)
		return
	}

	id, action := rest, ""
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		id, action = rest[:i], rest[i+1:]
	}

	s, exists := h.sessionMgr.Get(id)
	if !exists {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	if action == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"session": s.GetStats(),
			"slices":  s.SliceStatuses(),
		})
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch action {
	case "audio":
		// Raw PCM16 samples pushed into the session's capture device
		body, err := io.ReadAll(io.LimitReader(r.Body, maxAudioBodyBytes))
		if err != nil {
			http.Error(w, "Failed to read audio body", http.StatusBadRequest)
			return
		}
		if err := s.Feed(body); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	case "pause":
		if err := s.Pause(); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
	case "resume":
		if err := s.Resume(); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
	case "stop":
		// Finalization polling can outlast the server's write timeout;
		// keep the connection writable until the result is ready.
		if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
			h.logger.Debug("Failed to clear write deadline", slog.String("error", err.Error()))
		}

		result, err := s.Stop(r.Context())
		h.sessionMgr.Remove(id)
		if err != nil {
			if errors.Is(err, session.ErrFinalizationTimeout) {
				http.Error(w, err.Error(), http.StatusGatewayTimeout)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
		return
	default:
		http.Error(w, "Unknown action", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":    s.ID,
		"state": s.State().String(),
	})
}

// handleTranscriptions implements the /transcriptions endpoint
func (h *HTTPServer) handleTranscriptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	items, total, err := h.store.ListTranscriptions(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Failed to list transcriptions", slog.String("error", err.Error()))
		http.Error(w, "Failed to list transcriptions", http.StatusInternalServerError)
		return
	}

	if items == nil {
		items = []store.Transcription{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"total": total,
		"items": items,
	})
}

// handleTranscriptionDetail implements DELETE /transcriptions/{id}
func (h *HTTPServer) handleTranscriptionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/transcriptions/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "Invalid transcription ID", http.StatusBadRequest)
		return
	}

	if err := h.store.DeleteTranscription(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Transcription not found", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to delete transcription", slog.String("error", err.Error()))
		http.Error(w, "Failed to delete transcription", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"capture": map[string]interface{}{
			"slice_interval_ms": h.config.Capture.SliceIntervalMs,
			"sample_rate":       h.config.Capture.SampleRate,
			"device_id":         h.config.Capture.DeviceID,
			"noise_suppression": h.config.Capture.NoiseSuppression,
			"echo_cancellation": h.config.Capture.EchoCancellation,
		},
		"vad": map[string]interface{}{
			"amplitude_threshold": h.config.VAD.AmplitudeThreshold,
			"ratio_threshold":     h.config.VAD.RatioThreshold,
		},
		"transcription": map[string]interface{}{
			"endpoint":        h.config.Transcription.Endpoint,
			"timeout":         h.config.Transcription.Timeout,
			"max_attempts":    h.config.Transcription.MaxAttempts,
			"backoff_base_ms": h.config.Transcription.BackoffBaseMs,
			"max_concurrent":  h.config.Transcription.MaxConcurrent,
			// Note: API key is intentionally omitted for security
		},
		"dedup": map[string]interface{}{
			"similarity_threshold": h.config.Dedup.SimilarityThreshold,
			"min_validation_words": h.config.Dedup.MinValidationWords,
		},
		"finalize": map[string]interface{}{
			"delay_ms":         h.config.Finalize.DelayMs,
			"poll_interval_ms": h.config.Finalize.PollIntervalMs,
			"max_polls":        h.config.Finalize.MaxPolls,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)

	stats := map[string]interface{}{
		"uptime":    uptime.String(),
		"timestamp": time.Now().UTC(),
		"sessions": map[string]interface{}{
			"active_count": h.sessionMgr.Len(),
		},
		"transcription": h.client.GetStats(),
		"gate":          h.gate.GetStats(),
		"dedup":         h.engine.GetStats(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Voice Keyboard Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                       "API documentation",
			"GET /health":                 "Service health check",
			"GET /sessions":               "List live dictation sessions",
			"POST /sessions":              "Start a new dictation session",
			"GET /sessions/{id}":          "Get session detail and per-slice statuses",
			"POST /sessions/{id}/audio":   "Push raw PCM16 samples into the session",
			"POST /sessions/{id}/pause":   "Pause recording",
			"POST /sessions/{id}/resume":  "Resume recording",
			"POST /sessions/{id}/stop":    "Stop and finalize the session",
			"GET /transcriptions":         "List saved transcriptions",
			"DELETE /transcriptions/{id}": "Delete a saved transcription",
			"GET /config":                 "Get service configuration",
			"GET /stats":                  "Get service statistics",
			"GET /metrics":                "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
