package transcription

import (
	"context"
	"sync"
)

// MockService is an in-memory Service implementation for tests. Responses
// are scripted per slice index; unscripted indexes resolve to an empty
// successful result.
type MockService struct {
	mu sync.Mutex

	responses map[int]*Response
	errors    map[int]error

	validateText      string
	validateDuplicate bool
	validateErr       error

	requests      []*Request
	validateCalls int
}

// NewMockService creates an empty mock
func NewMockService() *MockService {
	return &MockService{
		responses: make(map[int]*Response),
		errors:    make(map[int]error),
	}
}

// ScriptResponse sets the reply for one slice index
func (m *MockService) ScriptResponse(index int, response *Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[index] = response
}

// ScriptText is shorthand for a successful reply carrying only text
func (m *MockService) ScriptText(index int, text string) {
	m.ScriptResponse(index, &Response{Success: true, Text: text, Attempts: 1})
}

// ScriptError makes the given slice index fail
func (m *MockService) ScriptError(index int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[index] = err
}

// ScriptValidation sets the reply for ValidateDuplicate calls
func (m *MockService) ScriptValidation(text string, duplicate bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validateText = text
	m.validateDuplicate = duplicate
	m.validateErr = err
}

// Transcribe returns the scripted reply for the request's slice index
func (m *MockService) Transcribe(ctx context.Context, request *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, request)

	if err, ok := m.errors[request.SliceIndex]; ok {
		return nil, err
	}
	if response, ok := m.responses[request.SliceIndex]; ok {
		return response, nil
	}
	return &Response{Success: true, Attempts: 1}, nil
}

// ValidateDuplicate returns the scripted validation reply
func (m *MockService) ValidateDuplicate(ctx context.Context, previous, candidate string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return candidate, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.validateCalls++
	if m.validateErr != nil {
		return candidate, false, m.validateErr
	}
	return m.validateText, m.validateDuplicate, nil
}

// Requests returns a copy of all recorded transcription requests
func (m *MockService) Requests() []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// ValidateCalls returns how many times ValidateDuplicate was invoked
func (m *MockService) ValidateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validateCalls
}
