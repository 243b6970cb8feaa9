package audio

import (
	"math"
	"testing"
)

func TestEncodeWAVRoundTrip(t *testing.T) {
	originalSamples := []int16{100, -200, 300, -400, 500}
	sampleRate := 16000

	pcm := make([]byte, len(originalSamples)*2)
	for i, sample := range originalSamples {
		pcm[i*2] = byte(sample)
		pcm[i*2+1] = byte(sample >> 8)
	}

	wavData, err := EncodeWAV(pcm, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	// WAV header is 44 bytes
	expectedSize := 44 + len(pcm)
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	decodedSamples, decodedSampleRate, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if decodedSampleRate != sampleRate {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, decodedSampleRate)
	}

	if len(decodedSamples) != len(originalSamples) {
		t.Fatalf("Expected %d samples, got %d", len(originalSamples), len(decodedSamples))
	}

	for i, original := range originalSamples {
		if decodedSamples[i] != original {
			t.Errorf("Sample %d: expected %d, got %d", i, original, decodedSamples[i])
		}
	}
}

func TestEncodeWAVInvalidInput(t *testing.T) {
	if _, err := EncodeWAV(nil, 16000); err == nil {
		t.Error("Expected error for empty payload")
	}

	if _, err := EncodeWAV([]byte{1, 2, 3}, 16000); err == nil {
		t.Error("Expected error for odd payload length")
	}

	if _, err := EncodeWAV([]byte{1, 2}, 0); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}

func TestDecodeWAVInvalidHeader(t *testing.T) {
	if _, _, err := DecodeWAV([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for too short WAV data")
	}

	invalidWAV := make([]byte, 50)
	copy(invalidWAV[0:4], []byte("FAKE"))
	if _, _, err := DecodeWAV(invalidWAV); err == nil {
		t.Error("Expected error for invalid RIFF header")
	}
}

func TestDecodeSamplesNormalization(t *testing.T) {
	// One full-scale positive sample and one full-scale negative sample
	pcm := []byte{0xFF, 0x7F, 0x00, 0x80}

	samples, err := DecodeSamples(pcm)
	if err != nil {
		t.Fatalf("DecodeSamples failed: %v", err)
	}

	if len(samples) != 2 {
		t.Fatalf("Expected 2 samples, got %d", len(samples))
	}

	if samples[0] < 0.99 || samples[0] > 1.0 {
		t.Errorf("Expected first sample near 1.0, got %f", samples[0])
	}
	if samples[1] != -1.0 {
		t.Errorf("Expected second sample -1.0, got %f", samples[1])
	}
}

func TestDecodeSamplesEmptyPayload(t *testing.T) {
	samples, err := DecodeSamples(nil)
	if err != nil {
		t.Fatalf("DecodeSamples failed on empty payload: %v", err)
	}
	if len(samples) != 0 {
		t.Errorf("Expected no samples for empty payload, got %d", len(samples))
	}
}

func TestDecodeSamplesOddLength(t *testing.T) {
	if _, err := DecodeSamples([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for odd-length raw payload")
	}
}

func TestDecodeSamplesWAVContainer(t *testing.T) {
	pcm := EncodePCM16([]float64{0.5, -0.5, 0.25})
	wavData, err := EncodeWAV(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	samples, err := DecodeSamples(wavData)
	if err != nil {
		t.Fatalf("DecodeSamples failed on WAV payload: %v", err)
	}

	if len(samples) != 3 {
		t.Fatalf("Expected 3 samples, got %d", len(samples))
	}
	if math.Abs(samples[0]-0.5) > 0.001 {
		t.Errorf("Expected first sample near 0.5, got %f", samples[0])
	}
}

func TestWAVDuration(t *testing.T) {
	sampleRate := 16000
	pcm := make([]byte, sampleRate*2) // 1 second of silence

	wavData, err := EncodeWAV(pcm, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	duration, err := WAVDuration(wavData)
	if err != nil {
		t.Fatalf("WAVDuration failed: %v", err)
	}

	if math.Abs(duration-1.0) > 0.001 {
		t.Errorf("Expected duration 1.000, got %.3f", duration)
	}
}
