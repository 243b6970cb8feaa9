package audio

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// SliceState represents the lifecycle state of a slice's transcription work
type SliceState int

const (
	StatePending SliceState = iota
	StateProcessing
	StateCompleted
	StateError
	StateSkipped
)

// String returns the lowercase name used in logs and API responses
func (s SliceState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateProcessing:
		return "processing"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	case StateSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Terminal reports whether the state is one of the three settled states
func (s SliceState) Terminal() bool {
	return s == StateCompleted || s == StateError || s == StateSkipped
}

// Slice is one fixed-duration segment of captured audio. The value is
// immutable once produced; indexes are assigned at creation and form a
// contiguous 0-based range within a session.
type Slice struct {
	Index      int           `json:"index"`
	Payload    []byte        `json:"-"`
	MimeType   string        `json:"mime_type"`
	CapturedAt time.Time     `json:"captured_at"`
	Duration   time.Duration `json:"duration"`
}

// Empty reports whether the slice carries no audio data. Empty slices still
// consume an index so the contiguous-index invariant holds across capture
// restart races.
func (s Slice) Empty() bool {
	return len(s.Payload) == 0
}

// Status is the mutable per-slice lifecycle record
type Status struct {
	Index     int        `json:"index"`
	State     SliceState `json:"state"`
	Text      string     `json:"text,omitempty"`
	Error     string     `json:"error,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// StatusBoard tracks the lifecycle of every slice in a session, keyed by
// slice index. The collection is append-only; entries transition in place
// and only ever forward: pending -> processing -> {completed|error|skipped},
// with the gate short-cutting pending -> skipped.
type StatusBoard struct {
	mu      sync.RWMutex
	entries map[int]*Status
}

// NewStatusBoard creates an empty status board
func NewStatusBoard() *StatusBoard {
	return &StatusBoard{
		entries: make(map[int]*Status),
	}
}

// Add registers a new slice as pending. Re-adding an existing index is an error.
func (b *StatusBoard) Add(index int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.entries[index]; exists {
		return fmt.Errorf("slice %d already registered", index)
	}

	b.entries[index] = &Status{
		Index:     index,
		State:     StatePending,
		UpdatedAt: time.Now(),
	}
	return nil
}

// transition applies a state change if it is legal from the current state
func (b *StatusBoard) transition(index int, next SliceState, text, errMsg string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, exists := b.entries[index]
	if !exists {
		return fmt.Errorf("slice %d not registered", index)
	}

	if entry.State.Terminal() {
		return fmt.Errorf("slice %d already %s, cannot move to %s", index, entry.State, next)
	}

	if next == StateProcessing && entry.State != StatePending {
		return fmt.Errorf("slice %d is %s, processing requires pending", index, entry.State)
	}

	entry.State = next
	entry.Text = text
	entry.Error = errMsg
	entry.UpdatedAt = time.Now()
	return nil
}

// MarkProcessing moves a pending slice into processing
func (b *StatusBoard) MarkProcessing(index int) error {
	return b.transition(index, StateProcessing, "", "")
}

// MarkCompleted settles a slice with its resolved text
func (b *StatusBoard) MarkCompleted(index int, text string) error {
	return b.transition(index, StateCompleted, text, "")
}

// MarkError settles a slice with a failure message
func (b *StatusBoard) MarkError(index int, errMsg string) error {
	return b.transition(index, StateError, "", errMsg)
}

// MarkSkipped settles a slice that was gated out or aborted
func (b *StatusBoard) MarkSkipped(index int) error {
	return b.transition(index, StateSkipped, "", "")
}

// Get returns a copy of the status for the given index
func (b *StatusBoard) Get(index int) (Status, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entry, exists := b.entries[index]
	if !exists {
		return Status{}, false
	}
	return *entry, true
}

// Len returns the number of registered slices
func (b *StatusBoard) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// AllTerminal reports whether at least n slices are registered and every
// registered slice has settled. This is the finalizer's convergence test.
func (b *StatusBoard) AllTerminal(n int) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.entries) < n {
		return false
	}
	for _, entry := range b.entries {
		if !entry.State.Terminal() {
			return false
		}
	}
	return true
}

// NonTerminal returns the indexes of slices that have not settled yet
func (b *StatusBoard) NonTerminal() []int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var indexes []int
	for index, entry := range b.entries {
		if !entry.State.Terminal() {
			indexes = append(indexes, index)
		}
	}
	sort.Ints(indexes)
	return indexes
}

// Snapshot returns all statuses ordered by slice index
func (b *StatusBoard) Snapshot() []Status {
	b.mu.RLock()
	defer b.mu.RUnlock()

	statuses := make([]Status, 0, len(b.entries))
	for _, entry := range b.entries {
		statuses = append(statuses, *entry)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Index < statuses[j].Index })
	return statuses
}

// TextStore maps slice index to resolved transcript text. Entries are
// written once when the owning worker settles; writes may arrive in any
// index order. Only the worker for index k writes key k, so a plain
// mutex around map insertion is all the coordination required.
type TextStore struct {
	mu    sync.RWMutex
	texts map[int]string
}

// NewTextStore creates an empty text store
func NewTextStore() *TextStore {
	return &TextStore{
		texts: make(map[int]string),
	}
}

// Set records the resolved text for a slice (empty string for silence or
// wholly duplicate content)
func (t *TextStore) Set(index int, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.texts[index] = text
}

// Get returns the resolved text for a slice, if present
func (t *TextStore) Get(index int) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	text, ok := t.texts[index]
	return text, ok
}

// Len returns the number of resolved entries
func (t *TextStore) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.texts)
}

// Snapshot returns a copy of the index-to-text mapping
func (t *TextStore) Snapshot() map[int]string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshot := make(map[int]string, len(t.texts))
	for index, text := range t.texts {
		snapshot[index] = text
	}
	return snapshot
}
