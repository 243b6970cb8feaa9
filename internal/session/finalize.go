package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrFinalizationTimeout is returned when the settle poll expires and no
// transcript text was accumulated.
var ErrFinalizationTimeout = errors.New("session finalization timed out with no transcript")

// FinalizeResult reports how a session ended
type FinalizeResult struct {
	Transcript      string  `json:"transcript"`
	DurationSeconds float64 `json:"duration_seconds"`
	SliceCount      int     `json:"slice_count"`
	Saved           bool    `json:"saved"`
	SavedID         int64   `json:"saved_id,omitempty"`
	TimedOut        bool    `json:"timed_out,omitempty"`
}

// Stop ends recording and finalizes the session: it waits a short delay
// for the final slice to be dispatched, polls until every slice has
// settled or the poll allowance runs out, then hands the trimmed transcript
// to storage. Zero slices or an empty transcript make the save a no-op.
// A timeout cancels outstanding work, marks unsettled slices as errored,
// and still saves whatever text accumulated; with no text at all the
// timeout is an error.
func (s *Session) Stop(ctx context.Context) (FinalizeResult, error) {
	// Once finalization starts it runs to completion on its own clock,
	// bounded by the poll allowance. A caller that disconnects or times
	// out mid-poll must not lose the accumulated transcript.
	ctx = context.WithoutCancel(ctx)

	s.mu.Lock()
	if s.finalized {
		s.mu.Unlock()
		return FinalizeResult{}, fmt.Errorf("session %s already finalized", s.ID)
	}
	s.finalized = true
	s.mu.Unlock()

	if err := s.recorder.Stop(); err != nil {
		return FinalizeResult{}, fmt.Errorf("failed to stop recording: %w", err)
	}

	sliceCount := s.recorder.SliceCount()
	duration := s.recorder.Elapsed()

	s.logger.Info("Finalizing session",
		"slices", sliceCount,
		"elapsed", duration)

	if err := sleepCtx(ctx, s.config.FinalizeDelay); err != nil {
		return FinalizeResult{}, err
	}

	timedOut := !s.awaitSettled(ctx, sliceCount)
	if timedOut {
		s.logger.Warn("Settle poll expired, cancelling outstanding slices",
			"unsettled", s.statuses.NonTerminal())
		s.abandonUnsettled()
	}

	result := FinalizeResult{
		Transcript:      strings.TrimSpace(s.Transcript()),
		DurationSeconds: duration.Seconds(),
		SliceCount:      sliceCount,
		TimedOut:        timedOut,
	}

	if sliceCount == 0 || result.Transcript == "" {
		if timedOut {
			return result, ErrFinalizationTimeout
		}
		s.logger.Info("Nothing to save", "slices", sliceCount)
		s.emit(Event{SessionID: s.ID, Kind: EventSessionFinalized, Duration: duration})
		return result, nil
	}

	if s.saver != nil {
		id, err := s.saver.SaveTranscription(ctx, result.Transcript, result.DurationSeconds)
		if err != nil {
			return result, fmt.Errorf("failed to save transcription: %w", err)
		}
		result.Saved = true
		result.SavedID = id
	}

	s.emit(Event{SessionID: s.ID, Kind: EventSessionFinalized, Duration: duration, SavedID: result.SavedID})
	return result, nil
}

// awaitSettled polls until every produced slice is terminal or the poll
// allowance is spent. Returns false on timeout.
func (s *Session) awaitSettled(ctx context.Context, sliceCount int) bool {
	for poll := 0; poll < s.config.MaxPolls; poll++ {
		if s.statuses.Len() >= sliceCount && s.statuses.AllTerminal(sliceCount) && !s.Transcribing() {
			return true
		}
		if err := sleepCtx(ctx, s.config.PollInterval); err != nil {
			return false
		}
	}
	return s.statuses.Len() >= sliceCount && s.statuses.AllTerminal(sliceCount)
}

// abandonUnsettled cancels in-flight work and forces the remaining slices
// into a terminal state so the saved transcript never hides silently
// processing slices.
func (s *Session) abandonUnsettled() {
	s.mu.Lock()
	s.abandoned = true
	s.mu.Unlock()

	s.CancelAll()
	s.workers.Wait()

	for _, index := range s.statuses.NonTerminal() {
		if err := s.statuses.MarkError(index, "abandoned at finalization timeout"); err != nil {
			s.logger.Warn("Failed to mark abandoned slice", "slice_index", index, "error", err)
			continue
		}
		s.texts.Set(index, "")

		s.mu.Lock()
		s.failed++
		s.mu.Unlock()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
