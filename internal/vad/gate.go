package vad

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/manisoni28/voice-keyboard/internal/audio"
)

// DefaultAmplitudeThreshold is the normalized amplitude above which a
// sample counts as active, and the RMS energy level that alone marks a
// slice as speech.
const DefaultAmplitudeThreshold = 0.015

// DefaultRatioThreshold is the minimum fraction of active samples that
// alone marks a slice as speech.
const DefaultRatioThreshold = 0.005

// Config contains gate thresholds
type Config struct {
	AmplitudeThreshold float64
	RatioThreshold     float64
}

// Decision is the outcome of evaluating one slice
type Decision struct {
	HasSpeech      bool          `json:"has_speech"`
	RMS            float64       `json:"rms"`
	ActiveRatio    float64       `json:"active_ratio"`
	FailedOpen     bool          `json:"failed_open"`
	SampleCount    int           `json:"sample_count"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// Gate judges whether an audio slice contains speech
type Gate struct {
	config Config

	// Statistics
	totalSlices  uint64
	speechSlices uint64
	decodeErrors uint64

	mu sync.RWMutex
}

// GateStats represents gate statistics for monitoring
type GateStats struct {
	TotalSlices      uint64  `json:"total_slices"`
	SpeechSlices     uint64  `json:"speech_slices"`
	SpeechPercentage float64 `json:"speech_percentage"`
	DecodeErrors     uint64  `json:"decode_errors"`
}

// NewGate creates a voice activity gate with the given thresholds
func NewGate(config Config) (*Gate, error) {
	if config.AmplitudeThreshold <= 0 || config.AmplitudeThreshold > 1 {
		return nil, fmt.Errorf("amplitude threshold must be in (0, 1], got %f", config.AmplitudeThreshold)
	}
	if config.RatioThreshold <= 0 || config.RatioThreshold > 1 {
		return nil, fmt.Errorf("ratio threshold must be in (0, 1], got %f", config.RatioThreshold)
	}

	return &Gate{config: config}, nil
}

// Evaluate decodes one slice payload and judges whether it contains speech.
// Either signal alone is sufficient: RMS energy at or above the amplitude
// threshold catches sustained low-level speech, and the active-sample ratio
// catches brief loud transients. A payload that fails to decode is treated
// as speech (fail open) so real speech is never silently dropped; a truly
// empty payload is not.
func (g *Gate) Evaluate(payload []byte) Decision {
	start := time.Now()

	if len(payload) == 0 {
		return g.record(Decision{ProcessingTime: time.Since(start)})
	}

	samples, err := audio.DecodeSamples(payload)
	if err != nil {
		g.mu.Lock()
		g.decodeErrors++
		g.mu.Unlock()
		return g.record(Decision{
			HasSpeech:      true,
			FailedOpen:     true,
			ProcessingTime: time.Since(start),
		})
	}
	if len(samples) == 0 {
		return g.record(Decision{ProcessingTime: time.Since(start)})
	}

	var energy float64
	active := 0
	for _, sample := range samples {
		energy += sample * sample
		if math.Abs(sample) > g.config.AmplitudeThreshold {
			active++
		}
	}

	rms := math.Sqrt(energy / float64(len(samples)))
	ratio := float64(active) / float64(len(samples))

	return g.record(Decision{
		HasSpeech:      rms >= g.config.AmplitudeThreshold || ratio >= g.config.RatioThreshold,
		RMS:            rms,
		ActiveRatio:    ratio,
		SampleCount:    len(samples),
		ProcessingTime: time.Since(start),
	})
}

// HasSpeech is a convenience wrapper around Evaluate
func (g *Gate) HasSpeech(payload []byte) bool {
	return g.Evaluate(payload).HasSpeech
}

func (g *Gate) record(d Decision) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.totalSlices++
	if d.HasSpeech {
		g.speechSlices++
	}
	return d
}

// GetStats returns current gate statistics
func (g *Gate) GetStats() GateStats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	speechPercentage := float64(0)
	if g.totalSlices > 0 {
		speechPercentage = float64(g.speechSlices) / float64(g.totalSlices) * 100
	}

	return GateStats{
		TotalSlices:      g.totalSlices,
		SpeechSlices:     g.speechSlices,
		SpeechPercentage: speechPercentage,
		DecodeErrors:     g.decodeErrors,
	}
}
