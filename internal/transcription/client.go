package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Service is the contract consumed by slice workers. Transcribe resolves
// one slice; ValidateDuplicate is the delegated semantic check that, given
// previous context and a candidate fragment, returns the genuinely new
// substring or reports the fragment as wholly duplicate.
type Service interface {
	Transcribe(ctx context.Context, request *Request) (*Response, error)
	ValidateDuplicate(ctx context.Context, previous, candidate string) (string, bool, error)
}

// VocabularyHint is one custom-vocabulary entry attached to a request
type VocabularyHint struct {
	Word    string `json:"word"`
	Context string `json:"context,omitempty"`
}

// Request represents a single-slice transcription request
type Request struct {
	SliceIndex int              `json:"slice_index"`
	Audio      []byte           `json:"-"` // Sent as multipart file, not JSON
	MimeType   string           `json:"mime_type"`
	Context    string           `json:"context,omitempty"`
	Vocabulary []VocabularyHint `json:"vocabulary,omitempty"`
}

// Response represents the transcription service's reply for one slice
type Response struct {
	Success   bool   `json:"success"`
	Text      string `json:"text"`
	NoSpeech  bool   `json:"no_speech,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Model     string `json:"model,omitempty"`
	Attempts  int    `json:"attempts"`
}

// Config contains transcription client configuration
type Config struct {
	Endpoint         string
	ValidateEndpoint string
	APIKey           string
	Timeout          time.Duration
	MaxAttempts      int
	BackoffBase      time.Duration
	MaxConcurrent    int
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// Client provides HTTP client functionality for transcription API requests
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{} // Rate limiting semaphore

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// NewClient creates a new transcription HTTP client
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 2
	}

	if config.BackoffBase <= 0 {
		config.BackoffBase = time.Second
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	// Create semaphore for rate limiting
	semaphore := make(chan struct{}, config.MaxConcurrent)

	return &Client{
		config:     config,
		httpClient: httpClient,
		semaphore:  semaphore,
	}, nil
}

// Transcribe sends one audio slice for transcription, retrying transient
// failures with linear backoff (delay = attempt number times the backoff
// base). Non-retryable failures terminate immediately.
func (c *Client) Transcribe(ctx context.Context, request *Request) (*Response, error) {
	// Acquire semaphore for rate limiting
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	startTime := time.Now()
	c.incrementTotalRequests()

	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		attempts = attempt
		if attempt > 1 {
			c.incrementTotalRetries()

			backoffTime := time.Duration(attempt-1) * c.config.BackoffBase

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		response, err := c.doRequest(ctx, request)
		if err == nil {
			response.Attempts = attempt
			c.incrementSuccessRequests()
			c.updateAvgResponseTime(time.Since(startTime))
			return response, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !IsRetryable(err) {
			break
		}
	}

	c.incrementFailedRequests()
	return nil, fmt.Errorf("transcription failed after %d attempts: %w", attempts, lastErr)
}

// doRequest performs a single HTTP request to the transcription API
func (c *Client) doRequest(ctx context.Context, request *Request) (*Response, error) {
	body, contentType, err := c.createMultipartRequest(request)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "voice-keyboard/1.0")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	var response Response
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	if !response.Success {
		return nil, fmt.Errorf("transcription rejected by service")
	}

	return &response, nil
}

// createMultipartRequest creates a multipart/form-data request body
func (c *Client) createMultipartRequest(request *Request) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if len(request.Audio) > 0 {
		filename := fmt.Sprintf("slice-%d.wav", request.SliceIndex)
		fileWriter, err := writer.CreateFormFile("file", filename)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create form file: %w", err)
		}

		if _, err := fileWriter.Write(request.Audio); err != nil {
			return nil, "", fmt.Errorf("failed to write audio data: %w", err)
		}
	}

	fields := map[string]string{
		"slice_index": fmt.Sprintf("%d", request.SliceIndex),
		"mime_type":   request.MimeType,
	}

	if request.Context != "" {
		fields["context"] = request.Context
	}
	if len(request.Vocabulary) > 0 {
		vocab, err := json.Marshal(request.Vocabulary)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode vocabulary: %w", err)
		}
		fields["vocabulary"] = string(vocab)
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// validateRequest is the wire form of the duplicate-validation call
type validateRequest struct {
	PreviousContext string `json:"previous_context"`
	NewText         string `json:"new_text"`
}

type validateResponse struct {
	Text      string `json:"text"`
	Duplicate bool   `json:"duplicate"`
}

// ValidateDuplicate asks the service whether candidate text repeats the
// previous context. It returns the genuinely new substring and a flag set
// when the candidate is wholly duplicate. Callers treat errors as
// best-effort and fall back to the heuristically cleaned text.
func (c *Client) ValidateDuplicate(ctx context.Context, previous, candidate string) (string, bool, error) {
	if c.config.ValidateEndpoint == "" {
		return candidate, false, fmt.Errorf("validate endpoint not configured")
	}

	payload, err := json.Marshal(validateRequest{
		PreviousContext: previous,
		NewText:         candidate,
	})
	if err != nil {
		return candidate, false, fmt.Errorf("failed to encode validation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.config.ValidateEndpoint, bytes.NewReader(payload))
	if err != nil {
		return candidate, false, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return candidate, false, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return candidate, false, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return candidate, false, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	var validation validateResponse
	if err := json.Unmarshal(respBody, &validation); err != nil {
		return candidate, false, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	if validation.Duplicate {
		return "", true, nil
	}
	return validation.Text, false, nil
}

// IsRetryable classifies an error as transient by substring match:
// network and connection failures, timeouts, 503/overloaded responses,
// and explicit "try again" messages.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	message := strings.ToLower(err.Error())
	for _, marker := range []string{
		"network",
		"timeout",
		"connection",
		"refused",
		"503",
		"overloaded",
		"try again",
	} {
		if strings.Contains(message, marker) {
			return true
		}
	}

	return false
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	activeRequests := len(c.semaphore)

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  activeRequests,
	}
}

// Close gracefully shuts down the client
func (c *Client) Close() error {
	// Wait for all active requests to complete
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}

	return nil
}
