// Package session orchestrates one dictation session end to end: it wires
// the recorder's slice stream through the voice activity gate, dispatches
// surviving slices to concurrent transcription workers, feeds results
// through the deduplication engine, and finalizes the session by waiting
// for every slice to settle before handing the transcript to storage.
//
// Slice creation is strictly sequential, slice completion is not; the
// status board and text store restore order. Per-slice failures never
// abort a session.
package session
