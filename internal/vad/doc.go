// Package vad provides the voice activity gate that decides per-slice
// whether a network transcription call is worth making. It implements a
// cheap energy test over normalized amplitude samples with configurable
// RMS and active-sample-ratio thresholds.
package vad
