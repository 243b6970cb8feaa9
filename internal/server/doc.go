// Package server provides the HTTP API for session control and
// monitoring: starting, pausing, and finalizing dictation sessions,
// browsing saved transcriptions, and exposing health, configuration,
// statistics, and Prometheus metrics endpoints.
package server
