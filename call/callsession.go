// Package call hosts one browser client: its websocket, microphone, playback
// and the orchestrator driving its interactions.
package call

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/mrsingh-rishi/voice-query/assistant"
	"github.com/mrsingh-rishi/voice-query/capture"
	"github.com/mrsingh-rishi/voice-query/logging"
	"github.com/mrsingh-rishi/voice-query/output"
	"github.com/mrsingh-rishi/voice-query/playback"
	"github.com/mrsingh-rishi/voice-query/types"
	"github.com/pkg/errors"
)

// Conn is a websocket connection. Both the gofiber and gorilla connections satisfy it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

type clientEvent struct {
	Event   string  `json:"event"` // start, stop, text, close, grant, deny, media, play, pause, replay, speed
	Lang    string  `json:"lang"`
	Text    string  `json:"text"`
	Payload string  `json:"payload"` // base64 media
	Speed   float64 `json:"speed"`
	Reason  string  `json:"reason"`
}

type Options struct {
	Transcriber assistant.Transcriber
	Answerer    assistant.Answerer
	Synthesizer assistant.Synthesizer
	Resources   *Resources

	Lang             string
	ContentType      string
	MaxCapture       time.Duration
	StageTimeout     time.Duration
	ProgressInterval time.Duration
	// Opener renders answers for the driver. Defaults to playback.OpenClock.
	Opener   playback.Opener
	AudioURL func(id uuid.UUID) string
	Logger   logging.Logger
}

type Call struct {
	ID           uuid.UUID
	ws           Conn
	lang         string
	device       *capture.PushDevice
	capture      *capture.Controller
	OutputWorker *output.WebSocketOutput
	driver       *playback.Driver
	orchestrator *assistant.Orchestrator
	resources    *Resources
	log          logging.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func NewCall(ws Conn, opts Options) (*Call, error) {
	if ws == nil {
		return nil, errors.New("websocket connection is required")
	}
	if opts.Resources == nil {
		opts.Resources = NewResources()
	}
	if opts.Opener == nil {
		opts.Opener = playback.OpenClock
	}
	if opts.Lang == "" {
		opts.Lang = "en"
	}
	if opts.ContentType == "" {
		opts.ContentType = "audio/webm"
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger(context.Background())
	}

	id := uuid.New()
	log := opts.Logger.WithField("call", id.String())

	out, err := output.NewWebSocketOutput(ws, opts.AudioURL, log)
	if err != nil {
		return nil, err
	}
	device := capture.NewPushDevice(opts.ContentType, out.CaptureRequest)
	ctrl := capture.NewController(device, opts.MaxCapture, capture.WithLogger(log))
	driver := playback.NewDriver(opts.Opener, opts.ProgressInterval, log)
	driver.OnProgress(out.Progress)

	ctx, cancel := context.WithCancel(context.Background())
	c := &Call{
		ID:           id,
		ws:           ws,
		lang:         opts.Lang,
		device:       device,
		capture:      ctrl,
		OutputWorker: out,
		driver:       driver,
		resources:    opts.Resources,
		log:          log,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	orch, err := assistant.New(assistant.Config{
		Capture:      ctrl,
		Transcriber:  opts.Transcriber,
		Answerer:     opts.Answerer,
		Synthesizer:  opts.Synthesizer,
		Notifier:     output.Multi{types.NotifierFunc(c.mount), out, output.LogNotifier{Log: log}},
		OnFinalText:  out.FinalText,
		StageTimeout: opts.StageTimeout,
		Logger:       log,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	c.orchestrator = orch
	return c, nil
}

// mount hands a finished answer to the playback driver before the client
// hears about it, and drops it when the interaction is closed.
func (c *Call) mount(state types.State) error {
	switch st := state.(type) {
	case types.Finished:
		c.resources.Put(st.Resource)
		c.driver.Load(st.Resource, st.Words)
	case types.Idle:
		if c.driver.Resource() != nil {
			c.driver.Unload()
		}
	}
	return nil
}

// Start runs the client until it disconnects or sends an unrecoverable frame.
func (c *Call) Start() {
	c.OutputWorker.Start()
	c.StartRecievingEvents()
}

func (c *Call) StartRecievingEvents() {
	defer c.CleanupResources()

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Infof("websocket closed normally: %v", err)
			} else {
				c.log.Warnf("websocket read error: %v", err)
			}
			return
		}

		var ev clientEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			c.log.Warnf("json unmarshal error: %v", err)
			c.OutputWorker.Error("malformed event")
			continue
		}
		c.handle(ev)
	}
}

func (c *Call) handle(ev clientEvent) {
	switch ev.Event {
	case "start":
		lang := c.language(ev.Lang)
		// Start blocks until the client answers the capture request, which
		// arrives through this read loop.
		go func() {
			if err := c.orchestrator.Start(c.ctx, lang); err != nil {
				c.log.Infof("start: %v", err)
			}
		}()

	case "stop":
		c.orchestrator.Stop()

	case "text":
		if err := c.orchestrator.SubmitText(c.ctx, c.language(ev.Lang), ev.Text); err != nil {
			c.OutputWorker.Error(err.Error())
		}

	case "close":
		c.orchestrator.Close()

	case "grant":
		if !c.device.Grant() {
			c.log.Debugf("grant without a pending capture request")
		}

	case "deny":
		reason := ev.Reason
		if reason == "" {
			reason = "denied by the browser"
		}
		c.device.Deny(reason)

	case "media":
		chunk, err := base64.StdEncoding.DecodeString(ev.Payload)
		if err != nil {
			c.log.Warnf("base64 decode error: %v", err)
			return
		}
		if err := c.device.Push(chunk); err != nil {
			c.log.Debugf("dropping %d bytes of media: %v", len(chunk), err)
		}

	case "play":
		if err := c.driver.Play(); err != nil {
			c.OutputWorker.Error(err.Error())
		}

	case "pause":
		c.driver.Pause()

	case "replay":
		if err := c.driver.Replay(); err != nil {
			c.OutputWorker.Error(err.Error())
		}

	case "speed":
		if err := c.driver.SetSpeed(ev.Speed); err != nil {
			c.OutputWorker.Error(err.Error())
		}

	default:
		c.log.Warnf("unknown event: %s", ev.Event)
		c.OutputWorker.Error("unknown event: " + ev.Event)
	}
}

func (c *Call) language(lang string) string {
	if lang = strings.TrimSpace(lang); lang != "" {
		return lang
	}
	return c.lang
}

// Done is closed once the call released its resources.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// CleanupResources gracefully releases all resources associated with the Call instance.
func (c *Call) CleanupResources() {
	c.closeOnce.Do(func() {
		c.cancel()
		// Output goes first: a notifier blocked on a stalled socket holds the
		// orchestrator until its send is abandoned.
		c.OutputWorker.Stop()
		c.device.Hangup()
		c.orchestrator.Close()
		c.driver.Unload()
		close(c.done)
	})
}
