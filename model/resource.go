package model

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// DefaultAudioContentType is assumed when a synthesis response carries no content type.
const DefaultAudioContentType = "audio/mpeg"

// estimateBitrate is used to guess the duration of audio that did not report one.
const estimateBitrate = 128_000

var ErrResourceReleased = errors.New("playable resource released")

// PlayableResource is a revocable handle over synthesized audio and the text it speaks.
type PlayableResource struct {
	ID          uuid.UUID
	ContentType string
	Text        string

	mu       sync.RWMutex
	data     []byte
	duration time.Duration
	released bool
}

// NewPlayableResource wraps audio bytes. It fails with ErrSynthesisEmpty when data is empty.
func NewPlayableResource(data []byte, contentType, text string) (*PlayableResource, error) {
	if len(data) == 0 {
		return nil, ErrSynthesisEmpty
	}
	if contentType == "" {
		contentType = DefaultAudioContentType
	}
	return &PlayableResource{
		ID:          uuid.New(),
		ContentType: contentType,
		Text:        text,
		data:        data,
	}, nil
}

// SetDuration records a duration reported by the synthesis provider.
func (r *PlayableResource) SetDuration(d time.Duration) {
	r.mu.Lock()
	r.duration = d
	r.mu.Unlock()
}

// Duration returns the reported duration, or an estimate from the byte length.
// A released resource has no duration.
func (r *PlayableResource) Duration() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.released {
		return 0
	}
	if r.duration > 0 {
		return r.duration
	}
	return time.Duration(float64(len(r.data)*8) / estimateBitrate * float64(time.Second))
}

// Bytes returns the audio, or ErrResourceReleased once the handle was revoked.
func (r *PlayableResource) Bytes() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.released {
		return nil, ErrResourceReleased
	}
	return r.data, nil
}

// Len is the size of the audio in bytes.
func (r *PlayableResource) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

// Release revokes the handle and drops the audio. Safe to call more than once.
func (r *PlayableResource) Release() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.released = true
	r.data = nil
	r.mu.Unlock()
}

func (r *PlayableResource) Released() bool {
	if r == nil {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.released
}
