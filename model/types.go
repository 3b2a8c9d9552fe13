package model

import (
	"bytes"
	"strings"
)

// AudioChunk represents a chunk of audio data.
type AudioChunk []byte

// AudioPayload is the audio captured for one interaction, consumed once by transcription.
type AudioPayload struct {
	Data        []byte
	ContentType string
}

// NewAudioPayload concatenates chunks into a single payload.
func NewAudioPayload(contentType string, chunks []AudioChunk) AudioPayload {
	var buf bytes.Buffer
	for _, c := range chunks {
		buf.Write(c)
	}
	return AudioPayload{Data: buf.Bytes(), ContentType: contentType}
}

// Empty reports whether the payload carries no audio.
func (p AudioPayload) Empty() bool {
	return len(p.Data) == 0
}

// Stage is one step of an interaction's lifecycle.
type Stage int

const (
	StageIdle Stage = iota
	StageListening
	StageTranscribing
	StageThinking
	StageSpeaking
	StageFinished
	StageError
)

var stageNames = map[Stage]string{
	StageIdle:         "idle",
	StageListening:    "listening",
	StageTranscribing: "transcribing",
	StageThinking:     "thinking",
	StageSpeaking:     "speaking",
	StageFinished:     "finished",
	StageError:        "error",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further forward transition is possible.
func (s Stage) Terminal() bool {
	return s == StageFinished || s == StageError
}

// CanAdvance reports whether moving from s to next is a legal transition.
// Forward moves are legal from any non-terminal stage; Error is reachable from
// every non-terminal stage and Idle from everywhere.
func (s Stage) CanAdvance(next Stage) bool {
	switch {
	case next == StageIdle:
		return true
	case s.Terminal():
		return false
	case next == StageError:
		return true
	default:
		return next > s
	}
}

// ProgressState is the playback state exposed to the result view.
type ProgressState struct {
	IsPlaying        bool    `json:"is_playing"`
	CurrentWordIndex int     `json:"current_word_index"`
	PlaybackSpeed    float64 `json:"playback_speed"`
}

// Words splits an answer into the words highlighted during playback.
func Words(text string) []string {
	return strings.Fields(text)
}
