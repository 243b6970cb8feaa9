// Package audio defines the slice data model for the dictation pipeline.
// It provides the immutable AudioSlice value, per-slice lifecycle tracking
// with monotonic status transitions, the resolved-text store used for
// transcript reassembly, and PCM/WAV encoding helpers.
package audio
