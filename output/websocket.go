// Package output delivers interaction events to the presentation layer.
package output

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/mrsingh-rishi/voice-query/logging"
	"github.com/mrsingh-rishi/voice-query/model"
	"github.com/mrsingh-rishi/voice-query/types"
	"github.com/pkg/errors"
)

const (
	EventState          = "state"
	EventFinalText      = "final_text"
	EventProgress       = "progress"
	EventCaptureRequest = "capture_request"
	EventError          = "error"
)

const eventBuffer = 64

var ErrOutputStopped = errors.New("output stopped")

// Conn is the write side of a websocket connection.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Event is one server to client message.
type Event struct {
	Event      string               `json:"event"`
	State      types.Tag            `json:"state,omitempty"`
	Payload    any                  `json:"payload,omitempty"`
	Transcript *string              `json:"transcript,omitempty"`
	Answer     *string              `json:"answer,omitempty"`
	Progress   *model.ProgressState `json:"progress,omitempty"`
	Message    string               `json:"message,omitempty"`
}

// finishedPayload is Finished as the browser sees it: the audio is fetched from AudioURL.
type finishedPayload struct {
	types.Finished
	AudioURL    string `json:"audio_url,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// WebSocketOutput writes events to one client from a single goroutine, in the
// order they were queued.
type WebSocketOutput struct {
	ctx      context.Context
	cancel   context.CancelFunc
	events   chan Event
	ws       Conn
	audioURL func(id uuid.UUID) string
	log      logging.Logger
	done     chan struct{}
	stopOnce sync.Once
}

func NewWebSocketOutput(ws Conn, audioURL func(id uuid.UUID) string, log logging.Logger) (*WebSocketOutput, error) {
	if ws == nil {
		return nil, errors.New("websocket connection is required")
	}
	if log == nil {
		log = logging.NewLogger(context.Background())
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketOutput{
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan Event, eventBuffer),
		ws:       ws,
		audioURL: audioURL,
		log:      log,
		done:     make(chan struct{}),
	}, nil
}

func (o *WebSocketOutput) Start() {
	go func() {
		defer close(o.done)
		for {
			select {
			case <-o.ctx.Done():
				return
			case ev := <-o.events:
				if err := o.ws.WriteJSON(ev); err != nil {
					o.log.Warnf("output: %s write error: %v", ev.Event, err)
				}
			}
		}
	}()
}

// Notify implements types.Notifier.
func (o *WebSocketOutput) Notify(state types.State) error {
	ev := Event{Event: EventState, State: state.Tag(), Payload: state}
	if finished, ok := state.(types.Finished); ok {
		p := finishedPayload{Finished: finished}
		if finished.Resource != nil {
			p.ContentType = finished.Resource.ContentType
			if o.audioURL != nil {
				p.AudioURL = o.audioURL(finished.Resource.ID)
			}
		}
		ev.Payload = p
	}
	return o.send(ev)
}

// FinalText matches types.FinalTextFunc.
func (o *WebSocketOutput) FinalText(transcript, answer *string) {
	if err := o.send(Event{Event: EventFinalText, Transcript: transcript, Answer: answer}); err != nil {
		o.log.Debugf("output: dropping final text: %v", err)
	}
}

func (o *WebSocketOutput) Progress(st model.ProgressState) {
	if err := o.send(Event{Event: EventProgress, Progress: &st}); err != nil {
		o.log.Debugf("output: dropping progress: %v", err)
	}
}

// CaptureRequest asks the client to open its microphone and answer with grant or deny.
func (o *WebSocketOutput) CaptureRequest() {
	if err := o.send(Event{Event: EventCaptureRequest}); err != nil {
		o.log.Debugf("output: dropping capture request: %v", err)
	}
}

func (o *WebSocketOutput) Error(message string) {
	if err := o.send(Event{Event: EventError, Message: message}); err != nil {
		o.log.Debugf("output: dropping error: %v", err)
	}
}

func (o *WebSocketOutput) send(ev Event) error {
	select {
	case <-o.ctx.Done():
		return ErrOutputStopped
	default:
	}
	select {
	case o.events <- ev:
		return nil
	case <-o.ctx.Done():
		return ErrOutputStopped
	}
}

// Stop ends the writer and closes the connection. Queued events that were
// not written yet are dropped.
func (o *WebSocketOutput) Stop() {
	o.stopOnce.Do(func() {
		o.cancel()
		if o.ws != nil {
			if err := o.ws.Close(); err != nil {
				o.log.Debugf("output: close: %v", err)
			}
		}
	})
}
