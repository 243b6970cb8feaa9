// Package capture owns the audio input device and slices its stream into
// fixed-duration segments. The Recorder drives a boundary timer: at each
// tick the device is asked to flush-and-continue, so the finalized slice
// carries everything captured since the previous boundary and no samples
// are lost across the cut. Slices are handed to a callback immediately so
// downstream transcription overlaps continued capture.
//
// The Device interface abstracts the flush-and-continue capability;
// MemoryDevice and ReaderDevice are the in-process realizations used for
// tests and stream-fed input.
package capture
