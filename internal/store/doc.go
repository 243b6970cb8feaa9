// Package store persists finished transcriptions and custom vocabulary in
// a local SQLite database. The session finalizer only saves; listing and
// deletion serve the monitoring API. Vocabulary reads back the cache in
// internal/vocab.
package store
