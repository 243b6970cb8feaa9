package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// Sentinel errors surfaced by device acquisition and capture
var (
	ErrDeviceUnavailable = errors.New("no capture device matches the requested constraints")
	ErrPermissionDenied  = errors.New("capture device access denied")
	ErrDeviceLost        = errors.New("capture device lost")
)

// DeviceConfig contains capture device constraints
type DeviceConfig struct {
	DeviceID         string
	SampleRate       int
	NoiseSuppression bool
	EchoCancellation bool
}

// Device is the flush-and-continue capability contract. Cut finalizes the
// buffer accumulated since the last cut and keeps capturing without
// dropping samples; Pause finalizes the buffer and stops capturing until
// Resume. Close releases the device and must be safe to call twice.
type Device interface {
	Open(config DeviceConfig) error
	Cut() ([]byte, error)
	Pause() ([]byte, error)
	Resume() error
	Close() error
}

// MemoryDevice is an in-process Device fed explicitly via Feed. Samples
// pushed while the device is paused or closed are dropped, matching a real
// microphone that produces nothing while released.
type MemoryDevice struct {
	mu        sync.Mutex
	buffer    []byte
	open      bool
	capturing bool
	lost      bool

	// Fault injection for tests
	OpenErr error
}

// NewMemoryDevice creates an unopened in-memory device
func NewMemoryDevice() *MemoryDevice {
	return &MemoryDevice{}
}

// Open acquires the device and starts capturing
func (d *MemoryDevice) Open(config DeviceConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.OpenErr != nil {
		return d.OpenErr
	}
	if d.open {
		return fmt.Errorf("device already open")
	}

	d.open = true
	d.capturing = true
	d.buffer = nil
	d.lost = false
	return nil
}

// Feed appends raw PCM-16 bytes to the capture buffer
func (d *MemoryDevice) Feed(samples []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open || !d.capturing {
		return
	}
	d.buffer = append(d.buffer, samples...)
}

// Lose simulates the device disappearing mid-session
func (d *MemoryDevice) Lose() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lost = true
}

// Cut returns everything captured since the last cut and keeps capturing
func (d *MemoryDevice) Cut() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return nil, fmt.Errorf("device not open")
	}
	if d.lost {
		return nil, ErrDeviceLost
	}

	payload := d.buffer
	d.buffer = nil
	return payload, nil
}

// Pause finalizes the current buffer and stops capturing
func (d *MemoryDevice) Pause() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return nil, fmt.Errorf("device not open")
	}
	if d.lost {
		return nil, ErrDeviceLost
	}

	payload := d.buffer
	d.buffer = nil
	d.capturing = false
	return payload, nil
}

// Resume restarts capturing after a pause
func (d *MemoryDevice) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return fmt.Errorf("device not open")
	}
	if d.lost {
		return ErrDeviceLost
	}

	d.capturing = true
	return nil
}

// Close releases the device. Safe to call more than once.
func (d *MemoryDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.open = false
	d.capturing = false
	d.buffer = nil
	return nil
}

// ReaderDevice adapts an io.Reader into a Device. Each cut drains what the
// reader currently offers, up to readChunk bytes; EOF surfaces as device
// loss on the following cut.
type ReaderDevice struct {
	mu        sync.Mutex
	reader    io.Reader
	open      bool
	capturing bool
	exhausted bool
}

const readChunk = 1 << 16

// NewReaderDevice wraps an io.Reader as a capture device
func NewReaderDevice(reader io.Reader) *ReaderDevice {
	return &ReaderDevice{reader: reader}
}

// Open acquires the device and starts capturing
func (d *ReaderDevice) Open(config DeviceConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.reader == nil {
		return ErrDeviceUnavailable
	}
	d.open = true
	d.capturing = true
	return nil
}

func (d *ReaderDevice) drain() ([]byte, error) {
	if !d.open {
		return nil, fmt.Errorf("device not open")
	}
	if d.exhausted {
		return nil, ErrDeviceLost
	}
	if !d.capturing {
		return nil, nil
	}

	buf := make([]byte, readChunk)
	n, err := d.reader.Read(buf)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("capture read failed: %w", err)
	}
	if err == io.EOF {
		d.exhausted = true
		if n == 0 {
			return nil, ErrDeviceLost
		}
	}
	return buf[:n], nil
}

// Cut returns the reader's currently available bytes and keeps capturing
func (d *ReaderDevice) Cut() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.drain()
}

// Pause finalizes the current buffer and stops capturing
func (d *ReaderDevice) Pause() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	payload, err := d.drain()
	d.capturing = false
	return payload, err
}

// Resume restarts capturing after a pause
func (d *ReaderDevice) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return fmt.Errorf("device not open")
	}
	d.capturing = true
	return nil
}

// Close releases the device. Safe to call more than once.
func (d *ReaderDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.open = false
	d.capturing = false
	return nil
}
