package capture

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/manisoni28/voice-keyboard/internal/audio"
)

// Recorder states
type State int

const (
	StateIdle State = iota
	StateRecording
	StatePaused
	StateStopped
)

// String returns string representation of the recorder state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Config contains recorder configuration
type Config struct {
	Interval   time.Duration // Slice boundary interval
	GraceDelay time.Duration // Device release delay after stop
	Device     DeviceConfig
}

// SliceHandler receives each finalized slice at its boundary
type SliceHandler func(slice audio.Slice)

// ErrorHandler receives capture failures that end the recording
type ErrorHandler func(err error)

// RecorderStats represents recorder statistics for monitoring
type RecorderStats struct {
	State          string        `json:"state"`
	SlicesProduced int           `json:"slices_produced"`
	EmptySlices    int           `json:"empty_slices"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Recorder owns the capture device and emits fixed-duration audio slices.
// Slice indexes are assigned sequentially from zero and are consumed even
// for empty slices, so the produced set is always contiguous.
type Recorder struct {
	config  Config
	device  Device
	onSlice SliceHandler
	onError ErrorHandler
	logger  *slog.Logger

	mu             sync.Mutex
	state          State
	nextIndex      int
	emptySlices    int
	startedAt      time.Time
	elapsed        time.Duration
	segmentStart   time.Time
	released       bool
	stopBoundaries chan struct{}
	boundariesDone sync.WaitGroup
}

// NewRecorder creates a recorder around the given device
func NewRecorder(device Device, config Config, onSlice SliceHandler, onError ErrorHandler, logger *slog.Logger) (*Recorder, error) {
	if device == nil {
		return nil, fmt.Errorf("device cannot be nil")
	}
	if onSlice == nil {
		return nil, fmt.Errorf("slice handler cannot be nil")
	}
	if config.Interval <= 0 {
		config.Interval = 5 * time.Second
	}
	if config.GraceDelay <= 0 {
		config.GraceDelay = 200 * time.Millisecond
	}
	if config.Device.SampleRate <= 0 {
		config.Device.SampleRate = 16000
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Recorder{
		config:  config,
		device:  device,
		onSlice: onSlice,
		onError: onError,
		logger:  logger,
	}, nil
}

// Start acquires the device and begins slicing
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateIdle {
		return fmt.Errorf("cannot start recorder in state %s", r.state)
	}

	if err := r.device.Open(r.config.Device); err != nil {
		return fmt.Errorf("failed to open capture device: %w", err)
	}

	r.state = StateRecording
	r.startedAt = time.Now()
	r.segmentStart = r.startedAt
	r.startBoundaryTimer()

	r.logger.Info("Recording started",
		"interval", r.config.Interval,
		"sample_rate", r.config.Device.SampleRate,
		"device_id", r.config.Device.DeviceID)

	return nil
}

// startBoundaryTimer launches the boundary goroutine. Caller holds r.mu.
func (r *Recorder) startBoundaryTimer() {
	stop := make(chan struct{})
	r.stopBoundaries = stop

	r.boundariesDone.Add(1)
	go func() {
		defer r.boundariesDone.Done()

		ticker := time.NewTicker(r.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := r.cutSlice(); err != nil {
					r.handleDeviceFailure(err)
					return
				}
			case <-stop:
				return
			}
		}
	}()
}

// cutSlice asks the device to flush-and-continue and emits the result
func (r *Recorder) cutSlice() error {
	r.mu.Lock()
	if r.state != StateRecording {
		r.mu.Unlock()
		return nil
	}

	payload, err := r.device.Cut()
	if err != nil {
		r.mu.Unlock()
		return err
	}

	slice := r.finalizeLocked(payload)
	r.mu.Unlock()

	r.onSlice(slice)
	return nil
}

// finalizeLocked builds the next slice from a raw payload. An empty
// payload still consumes an index. Caller holds r.mu.
func (r *Recorder) finalizeLocked(pcm []byte) audio.Slice {
	now := time.Now()
	slice := audio.Slice{
		Index:      r.nextIndex,
		CapturedAt: r.segmentStart,
		Duration:   now.Sub(r.segmentStart),
	}
	r.nextIndex++
	r.segmentStart = now

	if len(pcm) > 0 {
		encoded, err := audio.EncodeWAV(pcm, r.config.Device.SampleRate)
		if err != nil {
			r.logger.Warn("Failed to encode slice, emitting empty",
				"slice_index", slice.Index,
				"error", err)
		} else {
			slice.Payload = encoded
			slice.MimeType = audio.MimeWAV
		}
	}

	if slice.Empty() {
		r.emptySlices++
	}

	r.logger.Debug("Slice finalized",
		"slice_index", slice.Index,
		"bytes", len(slice.Payload),
		"duration", slice.Duration)

	return slice
}

func (r *Recorder) handleDeviceFailure(err error) {
	r.mu.Lock()
	r.state = StateStopped
	r.elapsed += time.Since(r.startedAt)
	r.releaseLocked()
	onError := r.onError
	r.mu.Unlock()

	r.logger.Error("Capture device failed, recording stopped", "error", err)

	if onError != nil {
		onError(err)
	}
}

// Pause finalizes the current slice and freezes the boundary timer
func (r *Recorder) Pause() error {
	r.mu.Lock()

	if r.state != StateRecording {
		r.mu.Unlock()
		return fmt.Errorf("cannot pause recorder in state %s", r.state)
	}

	r.stopBoundaryTimerLocked()

	payload, err := r.device.Pause()
	if err != nil {
		r.mu.Unlock()
		r.handleDeviceFailure(err)
		return err
	}

	slice := r.finalizeLocked(payload)
	r.state = StatePaused
	r.elapsed += time.Since(r.startedAt)
	r.mu.Unlock()

	r.onSlice(slice)

	r.logger.Info("Recording paused", "slices", slice.Index+1)
	return nil
}

// Resume restarts capture after a pause. The slice index counter is not
// reset.
func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StatePaused {
		return fmt.Errorf("cannot resume recorder in state %s", r.state)
	}

	if err := r.device.Resume(); err != nil {
		return fmt.Errorf("failed to resume capture device: %w", err)
	}

	r.state = StateRecording
	r.startedAt = time.Now()
	r.segmentStart = r.startedAt
	r.startBoundaryTimer()

	r.logger.Info("Recording resumed", "next_slice", r.nextIndex)
	return nil
}

// Stop finalizes any in-flight partial slice, stops the boundary timer,
// and releases the device after a short grace delay so the final buffer
// can flush.
func (r *Recorder) Stop() error {
	r.mu.Lock()

	switch r.state {
	case StateStopped:
		r.mu.Unlock()
		return nil
	case StateIdle:
		r.state = StateStopped
		r.mu.Unlock()
		return nil
	}

	r.stopBoundaryTimerLocked()

	var finalSlice *audio.Slice
	if r.state == StateRecording {
		payload, err := r.device.Pause()
		if err == nil {
			slice := r.finalizeLocked(payload)
			finalSlice = &slice
		} else {
			r.logger.Warn("Failed to flush final slice", "error", err)
		}
		r.elapsed += time.Since(r.startedAt)
	}

	r.state = StateStopped
	grace := r.config.GraceDelay
	r.mu.Unlock()

	if finalSlice != nil {
		r.onSlice(*finalSlice)
	}

	time.Sleep(grace)

	r.mu.Lock()
	r.releaseLocked()
	slices := r.nextIndex
	elapsed := r.elapsed
	r.mu.Unlock()

	r.logger.Info("Recording stopped",
		"slices", slices,
		"elapsed", elapsed)

	return nil
}

// stopBoundaryTimerLocked signals the boundary goroutine to exit. Caller
// holds r.mu; the wait happens without the lock in the goroutine's own
// cutSlice path being already finished, so this only closes the channel.
func (r *Recorder) stopBoundaryTimerLocked() {
	if r.stopBoundaries != nil {
		close(r.stopBoundaries)
		r.stopBoundaries = nil
	}
}

// releaseLocked closes the device exactly once. Caller holds r.mu.
func (r *Recorder) releaseLocked() {
	if r.released {
		return
	}
	r.released = true

	if err := r.device.Close(); err != nil {
		r.logger.Warn("Failed to release capture device", "error", err)
	}
}

// State returns the current recorder state
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SliceCount returns how many slice indexes have been consumed
func (r *Recorder) SliceCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextIndex
}

// Elapsed returns total recorded time across pause/resume segments
func (r *Recorder) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateRecording {
		return r.elapsed + time.Since(r.startedAt)
	}
	return r.elapsed
}

// GetStats returns current recorder statistics
func (r *Recorder) GetStats() RecorderStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	elapsed := r.elapsed
	if r.state == StateRecording {
		elapsed += time.Since(r.startedAt)
	}

	return RecorderStats{
		State:          r.state.String(),
		SlicesProduced: r.nextIndex,
		EmptySlices:    r.emptySlices,
		Elapsed:        elapsed,
	}
}
