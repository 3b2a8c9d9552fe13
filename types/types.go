// Package types defines the states an interaction reports to its presentation layer.
package types

import "github.com/mrsingh-rishi/voice-query/model"

// Tag names a notified state on the wire.
type Tag string

const (
	TagIdle         Tag = "idle"
	TagListening    Tag = "listening"
	TagTranscribing Tag = "transcribing"
	TagThinking     Tag = "thinking"
	TagSpeaking     Tag = "speaking"
	TagFinished     Tag = "finished"
	TagError        Tag = "error"
)

// State is the closed set of states an interaction can report.
// Only the types in this package implement it.
type State interface {
	Tag() Tag
	Stage() model.Stage
	isState()
}

type Idle struct{}

type Listening struct{}

type Transcribing struct {
	PartialText string `json:"partial_text"`
}

type Thinking struct {
	TranscriptText string `json:"transcript_text"`
}

type Speaking struct {
	TranscriptText string `json:"transcript_text"`
	AnswerText     string `json:"answer_text"`
}

// Finished carries the synthesized answer, ready to be mounted on a playback driver.
type Finished struct {
	TranscriptText string                  `json:"transcript_text"`
	AnswerText     string                  `json:"answer_text"`
	Resource       *model.PlayableResource `json:"-"`
	Words          []string                `json:"words"`
}

type Error struct {
	Message string     `json:"message"`
	Kind    model.Kind `json:"kind"`
}

func (Idle) Tag() Tag         { return TagIdle }
func (Listening) Tag() Tag    { return TagListening }
func (Transcribing) Tag() Tag { return TagTranscribing }
func (Thinking) Tag() Tag     { return TagThinking }
func (Speaking) Tag() Tag     { return TagSpeaking }
func (Finished) Tag() Tag     { return TagFinished }
func (Error) Tag() Tag        { return TagError }

func (Idle) Stage() model.Stage         { return model.StageIdle }
func (Listening) Stage() model.Stage    { return model.StageListening }
func (Transcribing) Stage() model.Stage { return model.StageTranscribing }
func (Thinking) Stage() model.Stage     { return model.StageThinking }
func (Speaking) Stage() model.Stage     { return model.StageSpeaking }
func (Finished) Stage() model.Stage     { return model.StageFinished }
func (Error) Stage() model.Stage        { return model.StageError }

func (Idle) isState()         {}
func (Listening) isState()    {}
func (Transcribing) isState() {}
func (Thinking) isState()     {}
func (Speaking) isState()     {}
func (Finished) isState()     {}
func (Error) isState()        {}

// NewError builds the Error state for err.
func NewError(err error) Error {
	return Error{Message: model.Message(err), Kind: model.KindOf(err)}
}

// Notifier receives every state transition, synchronously and in order.
// Implementations must not call back into the orchestrator from Notify.
type Notifier interface {
	Notify(state State) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(state State) error

func (f NotifierFunc) Notify(state State) error { return f(state) }

// FinalTextFunc receives the transcript once it is known (answer nil) and again
// with both values once the answering service responded.
type FinalTextFunc func(transcript, answer *string)
