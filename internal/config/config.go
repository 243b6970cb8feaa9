package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Capture       CaptureConfig       `yaml:"capture"`
	VAD           VADConfig           `yaml:"vad"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Dedup         DedupConfig         `yaml:"dedup"`
	Finalize      FinalizeConfig      `yaml:"finalize"`
	Vocabulary    VocabularyConfig    `yaml:"vocabulary"`
	Storage       StorageConfig       `yaml:"storage"`
	HTTP          HTTPConfig          `yaml:"http"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// CaptureConfig contains recorder and device parameters
type CaptureConfig struct {
	SliceIntervalMs  int    `yaml:"slice_interval_ms"`
	GraceDelayMs     int    `yaml:"grace_delay_ms"`
	DeviceID         string `yaml:"device_id"`
	SampleRate       int    `yaml:"sample_rate"`
	NoiseSuppression bool   `yaml:"noise_suppression"`
	EchoCancellation bool   `yaml:"echo_cancellation"`
}

// VADConfig contains voice activity gate thresholds
type VADConfig struct {
	AmplitudeThreshold float64 `yaml:"amplitude_threshold"`
	RatioThreshold     float64 `yaml:"ratio_threshold"`
}

// TranscriptionConfig contains transcription API configuration
type TranscriptionConfig struct {
	Endpoint         string `yaml:"endpoint"`
	ValidateEndpoint string `yaml:"validate_endpoint"`
	APIKey           string `yaml:"api_key"`
	Timeout          int    `yaml:"timeout"` // seconds
	MaxAttempts      int    `yaml:"max_attempts"`
	BackoffBaseMs    int    `yaml:"backoff_base_ms"`
	MaxConcurrent    int    `yaml:"max_concurrent"`
	ContextChars     int    `yaml:"context_chars"`
}

// DedupConfig contains deduplication engine parameters
type DedupConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	MinValidationWords  int     `yaml:"min_validation_words"`
}

// FinalizeConfig contains session finalizer parameters
type FinalizeConfig struct {
	DelayMs        int `yaml:"delay_ms"`
	PollIntervalMs int `yaml:"poll_interval_ms"`
	MaxPolls       int `yaml:"max_polls"`
}

// VocabularyConfig contains the custom-vocabulary cache parameters
type VocabularyConfig struct {
	UserID    string `yaml:"user_id"`
	CacheTTLs int    `yaml:"cache_ttl_seconds"`
	CacheSize int    `yaml:"cache_size"`
}

// StorageConfig contains persistence configuration
type StorageConfig struct {
	Path string `yaml:"path"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Default fills in a complete configuration without reading a file
func Default() *Config {
	config := &Config{}
	config.applyDefaults()
	return config
}

func (c *Config) applyDefaults() {
	if c.Capture.SliceIntervalMs == 0 {
		c.Capture.SliceIntervalMs = 5000
	}
	if c.Capture.GraceDelayMs == 0 {
		c.Capture.GraceDelayMs = 200
	}
	if c.Capture.SampleRate == 0 {
		c.Capture.SampleRate = 16000
	}
	if c.VAD.AmplitudeThreshold == 0 {
		c.VAD.AmplitudeThreshold = 0.015
	}
	if c.VAD.RatioThreshold == 0 {
		c.VAD.RatioThreshold = 0.005
	}
	if c.Transcription.Timeout == 0 {
		c.Transcription.Timeout = 30
	}
	if c.Transcription.MaxAttempts == 0 {
		c.Transcription.MaxAttempts = 2
	}
	if c.Transcription.BackoffBaseMs == 0 {
		c.Transcription.BackoffBaseMs = 1000
	}
	if c.Transcription.MaxConcurrent == 0 {
		c.Transcription.MaxConcurrent = 10
	}
	if c.Transcription.ContextChars == 0 {
		c.Transcription.ContextChars = 120
	}
	if c.Dedup.SimilarityThreshold == 0 {
		c.Dedup.SimilarityThreshold = 0.85
	}
	if c.Dedup.MinValidationWords == 0 {
		c.Dedup.MinValidationWords = 3
	}
	if c.Finalize.DelayMs == 0 {
		c.Finalize.DelayMs = 300
	}
	if c.Finalize.PollIntervalMs == 0 {
		c.Finalize.PollIntervalMs = 500
	}
	if c.Finalize.MaxPolls == 0 {
		c.Finalize.MaxPolls = 60
	}
	if c.Vocabulary.CacheTTLs == 0 {
		c.Vocabulary.CacheTTLs = 300
	}
	if c.Vocabulary.CacheSize == 0 {
		c.Vocabulary.CacheSize = 128
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/voice-keyboard.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Dedup.Validate(); err != nil {
		return fmt.Errorf("dedup config: %w", err)
	}

	if err := c.Finalize.Validate(); err != nil {
		return fmt.Errorf("finalize config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	if c.SliceIntervalMs < 500 {
		return fmt.Errorf("slice_interval_ms must be at least 500, got %d", c.SliceIntervalMs)
	}

	if c.GraceDelayMs < 0 {
		return fmt.Errorf("grace_delay_ms cannot be negative, got %d", c.GraceDelayMs)
	}

	if c.SampleRate < 8000 {
		return fmt.Errorf("sample_rate must be at least 8000 Hz, got %d", c.SampleRate)
	}

	return nil
}

// Validate validates voice activity gate configuration
func (v *VADConfig) Validate() error {
	if v.AmplitudeThreshold <= 0 || v.AmplitudeThreshold > 1 {
		return fmt.Errorf("amplitude_threshold must be in (0, 1], got %f", v.AmplitudeThreshold)
	}

	if v.RatioThreshold <= 0 || v.RatioThreshold > 1 {
		return fmt.Errorf("ratio_threshold must be in (0, 1], got %f", v.RatioThreshold)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", t.MaxAttempts)
	}

	if t.BackoffBaseMs < 1 {
		return fmt.Errorf("backoff_base_ms must be at least 1, got %d", t.BackoffBaseMs)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	if t.ContextChars < 1 {
		return fmt.Errorf("context_chars must be at least 1, got %d", t.ContextChars)
	}

	return nil
}

// Validate validates dedup configuration
func (d *DedupConfig) Validate() error {
	if d.SimilarityThreshold <= 0 || d.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in (0, 1], got %f", d.SimilarityThreshold)
	}

	if d.MinValidationWords < 1 {
		return fmt.Errorf("min_validation_words must be at least 1, got %d", d.MinValidationWords)
	}

	return nil
}

// Validate validates finalizer configuration
func (f *FinalizeConfig) Validate() error {
	if f.DelayMs < 0 {
		return fmt.Errorf("delay_ms cannot be negative, got %d", f.DelayMs)
	}

	if f.PollIntervalMs < 1 {
		return fmt.Errorf("poll_interval_ms must be at least 1, got %d", f.PollIntervalMs)
	}

	if f.MaxPolls < 1 {
		return fmt.Errorf("max_polls must be at least 1, got %d", f.MaxPolls)
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	if s.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetSliceInterval returns the slice interval as a time.Duration
func (c *CaptureConfig) GetSliceInterval() time.Duration {
	return time.Duration(c.SliceIntervalMs) * time.Millisecond
}

// GetGraceDelay returns the device release grace delay as a time.Duration
func (c *CaptureConfig) GetGraceDelay() time.Duration {
	return time.Duration(c.GraceDelayMs) * time.Millisecond
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetBackoffBase returns the retry backoff base as a time.Duration
func (t *TranscriptionConfig) GetBackoffBase() time.Duration {
	return time.Duration(t.BackoffBaseMs) * time.Millisecond
}

// GetDelay returns the finalize delay as a time.Duration
func (f *FinalizeConfig) GetDelay() time.Duration {
	return time.Duration(f.DelayMs) * time.Millisecond
}

// GetPollInterval returns the settle poll interval as a time.Duration
func (f *FinalizeConfig) GetPollInterval() time.Duration {
	return time.Duration(f.PollIntervalMs) * time.Millisecond
}

// GetCacheTTL returns the vocabulary cache TTL as a time.Duration
func (v *VocabularyConfig) GetCacheTTL() time.Duration {
	return time.Duration(v.CacheTTLs) * time.Second
}
