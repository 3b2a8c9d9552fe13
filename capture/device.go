// Package capture owns the microphone for one interaction: it acquires the
// device, buffers what it records and guarantees the session ends.
package capture

import (
	"context"
	"io"
	"sync"

	"github.com/mrsingh-rishi/voice-query/model"
	"github.com/pkg/errors"
)

// Device is a microphone that can be opened for one capture session at a time.
type Device interface {
	// Open blocks until access is granted or refused. Refusals should wrap
	// model.ErrPermissionDenied; anything else is reported as unavailable.
	Open(ctx context.Context) (Stream, error)
}

// Stream is an acquired microphone. Closing it releases the device.
type Stream interface {
	io.ReadCloser
	ContentType() string
}

var ErrNotCapturing = errors.New("no capture stream is open")

// PushDevice is a Device whose audio is produced elsewhere, typically a
// browser microphone streaming over a websocket. Open asks the remote side for
// access through request and waits for Grant or Deny; media then arrives via Push.
type PushDevice struct {
	contentType string
	request     func()

	mu      sync.Mutex
	pending chan error
	stream  *pushStream
}

func NewPushDevice(contentType string, request func()) *PushDevice {
	return &PushDevice{contentType: contentType, request: request}
}

func (d *PushDevice) Open(ctx context.Context) (Stream, error) {
	d.mu.Lock()
	if d.pending != nil {
		d.mu.Unlock()
		return nil, errors.WithMessage(model.ErrDeviceUnavailable, "permission request already pending")
	}
	decision := make(chan error, 1)
	d.pending = decision
	d.mu.Unlock()

	if d.request != nil {
		d.request()
	}

	select {
	case err := <-decision:
		d.mu.Lock()
		defer d.mu.Unlock()
		d.pending = nil
		if err != nil {
			return nil, err
		}
		pr, pw := io.Pipe()
		s := &pushStream{device: d, r: pr, w: pw, contentType: d.contentType}
		d.stream = s
		return s, nil
	case <-ctx.Done():
		d.mu.Lock()
		d.pending = nil
		d.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Grant answers a pending Open with access. It reports whether a request was pending.
func (d *PushDevice) Grant() bool {
	return d.decide(nil)
}

// Deny answers a pending Open with a permission refusal.
func (d *PushDevice) Deny(reason string) bool {
	return d.decide(errors.WithMessage(model.ErrPermissionDenied, reason))
}

// Unavailable answers a pending Open with a device failure, e.g. no microphone present.
func (d *PushDevice) Unavailable(reason string) bool {
	return d.decide(errors.WithMessage(model.ErrDeviceUnavailable, reason))
}

func (d *PushDevice) decide(err error) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		return false
	}
	select {
	case d.pending <- err:
		return true
	default:
		return false
	}
}

// Push appends media to the open stream. It returns ErrNotCapturing when no
// stream is open or the stream was already released.
func (d *PushDevice) Push(chunk []byte) error {
	d.mu.Lock()
	s := d.stream
	d.mu.Unlock()
	if s == nil {
		return ErrNotCapturing
	}
	if _, err := s.w.Write(chunk); err != nil {
		if errors.Is(err, io.ErrClosedPipe) {
			return ErrNotCapturing
		}
		return err
	}
	return nil
}

// Hangup ends the remote side of the open stream; the reader sees EOF.
func (d *PushDevice) Hangup() {
	d.mu.Lock()
	s := d.stream
	d.stream = nil
	d.mu.Unlock()
	if s != nil {
		_ = s.w.Close()
	}
}

type pushStream struct {
	device      *PushDevice
	r           *io.PipeReader
	w           *io.PipeWriter
	contentType string
}

func (s *pushStream) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *pushStream) ContentType() string { return s.contentType }

func (s *pushStream) Close() error {
	s.device.mu.Lock()
	if s.device.stream == s {
		s.device.stream = nil
	}
	s.device.mu.Unlock()
	return s.r.Close()
}
