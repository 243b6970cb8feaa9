package session

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/manisoni28/voice-keyboard/internal/audio"
	"github.com/manisoni28/voice-keyboard/internal/capture"
	"github.com/manisoni28/voice-keyboard/internal/dedup"
	"github.com/manisoni28/voice-keyboard/internal/transcription"
)

// EventKind identifies a session lifecycle notification
type EventKind string

const (
	EventRecordingStarted  EventKind = "recording_started"
	EventRecordingPaused   EventKind = "recording_paused"
	EventRecordingResumed  EventKind = "recording_resumed"
	EventSliceProduced     EventKind = "slice_produced"
	EventSliceSettled      EventKind = "slice_settled"
	EventGateDecision      EventKind = "gate_decision"
	EventTranscriptionDone EventKind = "transcription_done"
	EventDedupCleaned      EventKind = "dedup_cleaned"
	EventCaptureError      EventKind = "capture_error"
	EventSessionFinalized  EventKind = "session_finalized"
)

// Event is one cross-component notification. Duration carries the gate or
// request processing time for the per-stage kinds and the recording length
// for the finalized kind.
type Event struct {
	SessionID  string
	Kind       EventKind
	SliceIndex int
	SliceState audio.SliceState
	SliceBytes int
	Speech     bool
	Attempts   int
	Tier       string
	Duration   time.Duration
	SavedID    int64
	Err        error
}

// Listener receives session events. Listeners must not block.
type Listener func(Event)

// Deps are the collaborators a session is wired with
type Deps struct {
	Gate       Gate
	Engine     *dedup.Engine
	Service    transcription.Service
	Vocabulary VocabularySource
	Saver      Saver
	Device     capture.DeviceConfig
	Logger     *slog.Logger

	emit func(Event)
}

// DeviceFactory produces a fresh capture device per session
type DeviceFactory func() capture.Device

// Manager owns the set of live sessions and fans events out to listeners
type Manager struct {
	deps      Deps
	config    Config
	newDevice DeviceFactory

	mu        sync.RWMutex
	sessions  map[string]*Session
	listeners []Listener
}

// NewManager creates a session manager
func NewManager(newDevice DeviceFactory, deps Deps, config Config) (*Manager, error) {
	if newDevice == nil {
		return nil, fmt.Errorf("device factory cannot be nil")
	}
	if deps.Gate == nil {
		return nil, fmt.Errorf("gate cannot be nil")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("dedup engine cannot be nil")
	}
	if deps.Service == nil {
		return nil, fmt.Errorf("transcription service cannot be nil")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	m := &Manager{
		deps:      deps,
		config:    config,
		newDevice: newDevice,
		sessions:  make(map[string]*Session),
	}
	m.deps.emit = m.publish
	return m, nil
}

// Subscribe registers a listener for all session events
func (m *Manager) Subscribe(listener Listener) {
	if listener == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

func (m *Manager) publish(event Event) {
	m.mu.RLock()
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.RUnlock()

	for _, listener := range listeners {
		listener(event)
	}
}

// StartSession creates a session and begins recording
func (m *Manager) StartSession() (*Session, error) {
	s, err := newSession(m.newDevice(), m.deps, m.config)
	if err != nil {
		return nil, err
	}

	if err := s.Start(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	return s, nil
}

// Get returns a live session by id
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List returns stats for all live sessions, ordered by id
func (m *Manager) List() []SessionStats {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	stats := make([]SessionStats, 0, len(sessions))
	for _, s := range sessions {
		stats = append(stats, s.GetStats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].ID < stats[j].ID })
	return stats
}

// Remove drops a session from the live set
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Len returns the number of live sessions
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown stops every live session without finalizing: outstanding
// requests are cancelled and devices released.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.recorder.Stop()
		s.CancelAll()
	}
}
