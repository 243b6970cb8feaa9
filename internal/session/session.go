package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/manisoni28/voice-keyboard/internal/audio"
	"github.com/manisoni28/voice-keyboard/internal/capture"
	"github.com/manisoni28/voice-keyboard/internal/dedup"
	"github.com/manisoni28/voice-keyboard/internal/transcription"
	"github.com/manisoni28/voice-keyboard/internal/vocab"
)

// Config contains session parameters
type Config struct {
	UserID             string
	SliceInterval      time.Duration
	GraceDelay         time.Duration // Device release grace after the final flush
	ContextChars       int           // Trailing transcript characters sent as context
	FinalizeDelay      time.Duration // Wait before the settle poll starts
	PollInterval       time.Duration
	MaxPolls           int
	MinValidationWords int // Heuristic results longer than this trigger semantic validation
}

func (c *Config) applyDefaults() {
	if c.SliceInterval <= 0 {
		c.SliceInterval = 5 * time.Second
	}
	if c.ContextChars <= 0 {
		c.ContextChars = 120
	}
	if c.FinalizeDelay <= 0 {
		c.FinalizeDelay = 300 * time.Millisecond
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.MaxPolls <= 0 {
		c.MaxPolls = 60
	}
	if c.MinValidationWords <= 0 {
		c.MinValidationWords = 3
	}
}

// Saver is the storage collaborator for finished transcripts
type Saver interface {
	SaveTranscription(ctx context.Context, text string, durationSeconds float64) (int64, error)
}

// Gate decides whether a slice payload contains speech
type Gate interface {
	HasSpeech(payload []byte) bool
}

// VocabularySource supplies custom-vocabulary hints per user
type VocabularySource interface {
	Get(ctx context.Context, userID string) ([]vocab.Entry, error)
}

// SessionStats represents one session's counters for monitoring
type SessionStats struct {
	ID             string        `json:"id"`
	State          string        `json:"state"`
	SlicesProduced int           `json:"slices_produced"`
	SlicesSkipped  int           `json:"slices_skipped"`
	SlicesFailed   int           `json:"slices_failed"`
	ActiveRequests int           `json:"active_requests"`
	Elapsed        time.Duration `json:"elapsed"`
	Transcript     string        `json:"transcript"`
}

// Session is one dictation session from start to finalized transcript
type Session struct {
	ID string

	config   Config
	device   capture.Device
	recorder *capture.Recorder
	gate     Gate
	engine   *dedup.Engine
	service  transcription.Service
	vocab    VocabularySource
	saver    Saver
	logger   *slog.Logger
	emit     func(Event)

	statuses *audio.StatusBoard
	texts    *audio.TextStore

	mu         sync.Mutex
	active     map[int]context.CancelFunc
	skipped    int
	failed     int
	captureErr error
	finalized  bool // Stop was called
	abandoned  bool // finalizer gave up waiting, no new dispatches
	workers    sync.WaitGroup
}

func newSession(device capture.Device, deps Deps, config Config) (*Session, error) {
	config.applyDefaults()

	s := &Session{
		ID:       uuid.NewString(),
		config:   config,
		device:   device,
		gate:     deps.Gate,
		engine:   deps.Engine,
		service:  deps.Service,
		vocab:    deps.Vocabulary,
		saver:    deps.Saver,
		emit:     deps.emit,
		statuses: audio.NewStatusBoard(),
		texts:    audio.NewTextStore(),
		active:   make(map[int]context.CancelFunc),
	}
	s.logger = deps.Logger.With("session_id", s.ID)

	recorder, err := capture.NewRecorder(device, capture.Config{
		Interval:   config.SliceInterval,
		GraceDelay: config.GraceDelay,
		Device:     deps.Device,
	}, s.handleSlice, s.handleCaptureError, s.logger)
	if err != nil {
		return nil, err
	}
	s.recorder = recorder

	return s, nil
}

// Start begins recording
func (s *Session) Start() error {
	if err := s.recorder.Start(); err != nil {
		return err
	}
	s.emit(Event{SessionID: s.ID, Kind: EventRecordingStarted})
	return nil
}

// Feed pushes raw PCM16 samples into the session's capture device. It
// returns an error when the underlying device is not network-fed.
func (s *Session) Feed(samples []byte) error {
	feeder, ok := s.device.(interface{ Feed([]byte) })
	if !ok {
		return fmt.Errorf("capture device does not accept pushed audio")
	}
	feeder.Feed(samples)
	return nil
}

// Pause finalizes the in-flight slice and freezes the boundary timer
func (s *Session) Pause() error {
	if err := s.recorder.Pause(); err != nil {
		return err
	}
	s.emit(Event{SessionID: s.ID, Kind: EventRecordingPaused})
	return nil
}

// Resume restarts capture after a pause
func (s *Session) Resume() error {
	if err := s.recorder.Resume(); err != nil {
		return err
	}
	s.emit(Event{SessionID: s.ID, Kind: EventRecordingResumed})
	return nil
}

// handleSlice receives each finalized slice from the recorder. Empty and
// gate-rejected slices settle immediately as skipped; the rest are
// dispatched to a concurrent worker.
func (s *Session) handleSlice(slice audio.Slice) {
	s.statuses.Add(slice.Index)
	s.emit(Event{SessionID: s.ID, Kind: EventSliceProduced, SliceIndex: slice.Index, SliceBytes: len(slice.Payload)})

	gateStart := time.Now()
	speech := !slice.Empty() && s.gate.HasSpeech(slice.Payload)
	s.emit(Event{
		SessionID:  s.ID,
		Kind:       EventGateDecision,
		SliceIndex: slice.Index,
		Speech:     speech,
		Duration:   time.Since(gateStart),
	})

	if !speech {
		s.skipSlice(slice.Index)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.abandoned {
		// The finalizer already gave up on this session.
		s.mu.Unlock()
		cancel()
		s.skipSlice(slice.Index)
		return
	}
	s.active[slice.Index] = cancel
	s.workers.Add(1)
	s.mu.Unlock()

	go s.transcribeSlice(ctx, slice)
}

func (s *Session) skipSlice(index int) {
	if err := s.statuses.MarkSkipped(index); err != nil {
		s.logger.Warn("Failed to mark slice skipped", "slice_index", index, "error", err)
		return
	}
	s.texts.Set(index, "")

	s.mu.Lock()
	s.skipped++
	s.mu.Unlock()

	s.emit(Event{SessionID: s.ID, Kind: EventSliceSettled, SliceIndex: index, SliceState: audio.StateSkipped})
}

// transcribeSlice is the per-slice worker: one transcription call with the
// client's retry policy, then dedup against the transcript so far. After
// cancellation it must not touch the status or text maps except to leave
// the skipped marker.
func (s *Session) transcribeSlice(ctx context.Context, slice audio.Slice) {
	defer s.workers.Done()
	defer s.settleSlice(slice.Index)

	if err := s.statuses.MarkProcessing(slice.Index); err != nil {
		s.logger.Warn("Failed to mark slice processing", "slice_index", slice.Index, "error", err)
		return
	}

	request := &transcription.Request{
		SliceIndex: slice.Index,
		Audio:      slice.Payload,
		MimeType:   slice.MimeType,
		Context:    s.trailingContext(),
	}
	if s.vocab != nil && s.config.UserID != "" {
		if entries, err := s.vocab.Get(ctx, s.config.UserID); err == nil {
			for _, entry := range entries {
				request.Vocabulary = append(request.Vocabulary, transcription.VocabularyHint{
					Word:    entry.Word,
					Context: entry.Context,
				})
			}
		} else {
			s.logger.Warn("Vocabulary lookup failed", "error", err)
		}
	}

	requestStart := time.Now()
	response, err := s.service.Transcribe(ctx, request)
	requestDuration := time.Since(requestStart)

	if ctx.Err() != nil {
		// Cancelled mid-flight: settle without recording an error.
		s.statuses.MarkSkipped(slice.Index)
		s.emit(Event{SessionID: s.ID, Kind: EventSliceSettled, SliceIndex: slice.Index, SliceState: audio.StateSkipped})
		return
	}

	if err != nil {
		s.emit(Event{SessionID: s.ID, Kind: EventTranscriptionDone, SliceIndex: slice.Index, Duration: requestDuration, Err: err})
		s.failSlice(slice.Index, err)
		return
	}
	s.emit(Event{SessionID: s.ID, Kind: EventTranscriptionDone, SliceIndex: slice.Index, Duration: requestDuration, Attempts: response.Attempts})

	text := response.Text
	if response.NoSpeech || response.Duplicate {
		text = ""
	}
	text = s.cleanResult(ctx, text)

	s.texts.Set(slice.Index, text)
	if err := s.statuses.MarkCompleted(slice.Index, text); err != nil {
		s.logger.Warn("Failed to mark slice completed", "slice_index", slice.Index, "error", err)
		return
	}

	s.logger.Debug("Slice transcribed",
		"slice_index", slice.Index,
		"chars", len(text),
		"attempts", response.Attempts)

	s.emit(Event{SessionID: s.ID, Kind: EventSliceSettled, SliceIndex: slice.Index, SliceState: audio.StateCompleted})
}

// cleanResult runs the dedup funnel and, when the heuristics leave a
// likely duplicate with enough words, defers to the semantic validation
// call. Validation is best-effort: on error the heuristic result stands.
func (s *Session) cleanResult(ctx context.Context, text string) string {
	reference := s.Transcript()
	result := s.engine.Clean(reference, text)
	cleaned := result.Text
	s.emit(Event{SessionID: s.ID, Kind: EventDedupCleaned, Tier: result.Tier.String()})

	if result.LikelyDuplicate && reference != "" &&
		len(strings.Fields(cleaned)) > s.config.MinValidationWords {
		validated, duplicate, err := s.service.ValidateDuplicate(ctx, reference, cleaned)
		if err != nil {
			s.logger.Debug("Duplicate validation failed, keeping heuristic result", "error", err)
			return cleaned
		}
		if duplicate {
			return ""
		}
		return strings.TrimSpace(validated)
	}

	return cleaned
}

func (s *Session) failSlice(index int, err error) {
	if markErr := s.statuses.MarkError(index, err.Error()); markErr != nil {
		s.logger.Warn("Failed to mark slice errored", "slice_index", index, "error", markErr)
		return
	}
	s.texts.Set(index, "")

	s.mu.Lock()
	s.failed++
	s.mu.Unlock()

	s.logger.Warn("Slice transcription failed", "slice_index", index, "error", err)
	s.emit(Event{SessionID: s.ID, Kind: EventSliceSettled, SliceIndex: index, SliceState: audio.StateError, Err: err})
}

func (s *Session) settleSlice(index int) {
	s.mu.Lock()
	delete(s.active, index)
	s.mu.Unlock()
}

func (s *Session) handleCaptureError(err error) {
	s.mu.Lock()
	s.captureErr = err
	s.mu.Unlock()

	s.emit(Event{SessionID: s.ID, Kind: EventCaptureError, Err: err})
}

// trailingContext returns the tail of the transcript so far, used only to
// disambiguate terms in the remote call, never echoed into output.
func (s *Session) trailingContext() string {
	transcript := s.Transcript()
	if len(transcript) <= s.config.ContextChars {
		return transcript
	}
	start := len(transcript) - s.config.ContextChars
	for start < len(transcript) && !utf8.RuneStart(transcript[start]) {
		start++
	}
	return transcript[start:]
}

// Transcript returns the ordered concatenation of all resolved slice texts
func (s *Session) Transcript() string {
	return dedup.Assemble(s.texts.Snapshot())
}

// Transcribing reports whether any slice request is still in flight
func (s *Session) Transcribing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active) > 0
}

// CancelAll aborts every outstanding slice request
func (s *Session) CancelAll() {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.active))
	for _, cancel := range s.active {
		cancels = append(cancels, cancel)
	}
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// State returns the recorder's state
func (s *Session) State() capture.State {
	return s.recorder.State()
}

// CaptureError returns the device failure that ended recording, if any
func (s *Session) CaptureError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captureErr
}

// SliceStatuses returns the per-slice breakdown in index order
func (s *Session) SliceStatuses() []audio.Status {
	return s.statuses.Snapshot()
}

// GetStats returns current session statistics
func (s *Session) GetStats() SessionStats {
	s.mu.Lock()
	skipped := s.skipped
	failed := s.failed
	activeCount := len(s.active)
	s.mu.Unlock()

	return SessionStats{
		ID:             s.ID,
		State:          s.recorder.State().String(),
		SlicesProduced: s.recorder.SliceCount(),
		SlicesSkipped:  skipped,
		SlicesFailed:   failed,
		ActiveRequests: activeCount,
		Elapsed:        s.recorder.Elapsed(),
		Transcript:     s.Transcript(),
	}
}
