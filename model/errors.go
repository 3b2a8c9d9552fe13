package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Kind classifies a failure surfaced to the user.
type Kind string

const (
	KindPermissionDenied  Kind = "permission_denied"
	KindDeviceUnavailable Kind = "device_unavailable"
	KindNetwork           Kind = "network"
	KindSynthesisEmpty    Kind = "synthesis_empty"
	KindUnknown           Kind = "unknown"
)

var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("audio input device unavailable")
	ErrSynthesisEmpty    = errors.New("speech synthesis returned no audio")
)

// maxBodyInMessage bounds how much of an error body is shown to the user.
const maxBodyInMessage = 200

// NetworkError is a failed round trip to one of the backend endpoints.
// Status is zero when no HTTP response was received.
type NetworkError struct {
	Endpoint string
	Status   int
	Body     string
	Err      error
}

func (e *NetworkError) Error() string {
	if e.Status == 0 {
		if e.Err != nil {
			return fmt.Sprintf("%s request failed: %v", e.Endpoint, e.Err)
		}
		return fmt.Sprintf("%s request failed", e.Endpoint)
	}
	body := strings.TrimSpace(e.Body)
	if len(body) > maxBodyInMessage {
		body = body[:maxBodyInMessage] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s failed: status=%d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("%s failed: status=%d body=%s", e.Endpoint, e.Status, body)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Timeout reports whether the request was abandoned because its deadline passed.
func (e *NetworkError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var timeout interface{ Timeout() bool }
	return errors.As(e.Err, &timeout) && timeout.Timeout()
}

// KindOf classifies err into the user-facing taxonomy.
func KindOf(err error) Kind {
	var netErr *NetworkError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrDeviceUnavailable):
		return KindDeviceUnavailable
	case errors.Is(err, ErrSynthesisEmpty):
		return KindSynthesisEmpty
	case errors.As(err, &netErr):
		return KindNetwork
	default:
		return KindUnknown
	}
}

// Message renders err as the text shown in the error view.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var netErr *NetworkError
	switch KindOf(err) {
	case KindPermissionDenied:
		return "Microphone access was denied. Allow microphone access and try again."
	case KindDeviceUnavailable:
		return "No microphone is available: " + err.Error()
	case KindSynthesisEmpty:
		return "The answer could not be turned into speech."
	case KindNetwork:
		if errors.As(err, &netErr) && netErr.Timeout() {
			return netErr.Endpoint + " timed out"
		}
		return err.Error()
	default:
		return err.Error()
	}
}
