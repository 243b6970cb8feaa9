package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Error("Expected error for empty endpoint")
	}

	client, err := NewClient(Config{Endpoint: "http://localhost:9000/transcribe"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.config.MaxAttempts != 2 {
		t.Errorf("Expected default MaxAttempts 2, got %d", client.config.MaxAttempts)
	}
	if client.config.BackoffBase != time.Second {
		t.Errorf("Expected default BackoffBase 1s, got %v", client.config.BackoffBase)
	}
}

func TestTranscribeSuccess(t *testing.T) {
	var gotIndex, gotContext atomic.Value

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm failed: %v", err)
		}
		gotIndex.Store(r.FormValue("slice_index"))
		gotContext.Store(r.FormValue("context"))

		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("Expected audio file part: %v", err)
		} else {
			file.Close()
		}

		json.NewEncoder(w).Encode(Response{Success: true, Text: "hello there", Model: "whisper-1"})
	}))
	defer server.Close()

	client, err := NewClient(Config{Endpoint: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	response, err := client.Transcribe(context.Background(), &Request{
		SliceIndex: 3,
		Audio:      []byte{0x01, 0x02, 0x03, 0x04},
		MimeType:   "audio/wav",
		Context:    "said before",
	})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if response.Text != "hello there" {
		t.Errorf("Expected text %q, got %q", "hello there", response.Text)
	}
	if response.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", response.Attempts)
	}
	if gotIndex.Load() != "3" {
		t.Errorf("Expected slice_index field 3, got %v", gotIndex.Load())
	}
	if gotContext.Load() != "said before" {
		t.Errorf("Expected context field to be forwarded, got %v", gotContext.Load())
	}
}

func TestTranscribeRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(Response{Success: true, Text: "second try"})
	}))
	defer server.Close()

	client, err := NewClient(Config{
		Endpoint:    server.URL,
		MaxAttempts: 2,
		BackoffBase: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	response, err := client.Transcribe(context.Background(), &Request{SliceIndex: 0, Audio: []byte{0x01, 0x02}})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if response.Text != "second try" {
		t.Errorf("Expected %q, got %q", "second try", response.Text)
	}
	if response.Attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", response.Attempts)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 HTTP calls, got %d", calls.Load())
	}

	stats := client.GetStats()
	if stats.TotalRetries != 1 {
		t.Errorf("Expected 1 recorded retry, got %d", stats.TotalRetries)
	}
}

func TestTranscribeNonRetryableFailsImmediately(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad audio payload", http.StatusBadRequest)
	}))
	defer server.Close()

	client, err := NewClient(Config{
		Endpoint:    server.URL,
		MaxAttempts: 3,
		BackoffBase: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.Transcribe(context.Background(), &Request{Audio: []byte{0x01, 0x02}})
	if err == nil {
		t.Fatal("Expected error for HTTP 400")
	}
	if calls.Load() != 1 {
		t.Errorf("Expected exactly 1 HTTP call for non-retryable failure, got %d", calls.Load())
	}
	// The error reports how often the request was actually tried, not the
	// configured ceiling.
	if !strings.Contains(err.Error(), "after 1 attempts") {
		t.Errorf("Expected error to report 1 attempt, got %q", err.Error())
	}
}

func TestTranscribeExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := NewClient(Config{
		Endpoint:    server.URL,
		MaxAttempts: 2,
		BackoffBase: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if _, err := client.Transcribe(context.Background(), &Request{Audio: []byte{0x01, 0x02}}); err == nil {
		t.Fatal("Expected error after exhausting attempts")
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 HTTP calls, got %d", calls.Load())
	}

	stats := client.GetStats()
	if stats.FailedRequests != 1 {
		t.Errorf("Expected 1 failed request, got %d", stats.FailedRequests)
	}
}

func TestTranscribeCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server detects the client's connection
		// close and cancels the request context; otherwise the handler
		// blocks forever and server.Close deadlocks.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	client, err := NewClient(Config{Endpoint: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = client.Transcribe(ctx, &Request{Audio: []byte{0x01, 0x02}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestValidateDuplicate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req validateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode validation request: %v", err)
		}
		if req.NewText == req.PreviousContext {
			json.NewEncoder(w).Encode(validateResponse{Duplicate: true})
			return
		}
		json.NewEncoder(w).Encode(validateResponse{Text: "only new words"})
	}))
	defer server.Close()

	client, err := NewClient(Config{
		Endpoint:         server.URL,
		ValidateEndpoint: server.URL,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	text, duplicate, err := client.ValidateDuplicate(context.Background(), "context", "context plus only new words")
	if err != nil {
		t.Fatalf("ValidateDuplicate failed: %v", err)
	}
	if duplicate {
		t.Error("Did not expect wholly-duplicate flag")
	}
	if text != "only new words" {
		t.Errorf("Expected %q, got %q", "only new words", text)
	}

	_, duplicate, err = client.ValidateDuplicate(context.Background(), "same", "same")
	if err != nil {
		t.Fatalf("ValidateDuplicate failed: %v", err)
	}
	if !duplicate {
		t.Error("Expected wholly-duplicate flag")
	}
}

func TestValidateDuplicateUnconfigured(t *testing.T) {
	client, err := NewClient(Config{Endpoint: "http://localhost:9000/transcribe"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	text, _, err := client.ValidateDuplicate(context.Background(), "previous", "candidate")
	if err == nil {
		t.Error("Expected error when validate endpoint is not configured")
	}
	if text != "candidate" {
		t.Errorf("Expected candidate passthrough on error, got %q", text)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"http 503", fmt.Errorf("HTTP error 503: unavailable"), true},
		{"overloaded", errors.New("the model is overloaded"), true},
		{"try again", errors.New("please try again later"), true},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"timeout", errors.New("request timeout"), true},
		{"network", errors.New("network is unreachable"), true},
		{"http 400", fmt.Errorf("HTTP error 400: bad request"), false},
		{"parse failure", errors.New("failed to parse response JSON"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestMockServiceScripting(t *testing.T) {
	mock := NewMockService()
	mock.ScriptText(0, "hello")
	mock.ScriptError(1, errors.New("overloaded"))

	response, err := mock.Transcribe(context.Background(), &Request{SliceIndex: 0})
	if err != nil || response.Text != "hello" {
		t.Errorf("Expected scripted text, got %v / %v", response, err)
	}

	if _, err := mock.Transcribe(context.Background(), &Request{SliceIndex: 1}); err == nil {
		t.Error("Expected scripted error")
	}

	if len(mock.Requests()) != 2 {
		t.Errorf("Expected 2 recorded requests, got %d", len(mock.Requests()))
	}
}
