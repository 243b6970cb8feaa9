// Package transcription provides the HTTP client for the remote
// speech-recognition service. Each audio slice is posted as a multipart
// form together with its trailing text context and vocabulary hints.
// Transient failures are retried with linear backoff; the error message
// decides retryability by substring classification. The package also
// exposes the delegated duplicate-validation call and a mock
// implementation for tests.
package transcription
