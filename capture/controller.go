package capture

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/mrsingh-rishi/voice-query/logging"
	"github.com/mrsingh-rishi/voice-query/model"
	"github.com/mrsingh-rishi/voice-query/queue"
	"github.com/pkg/errors"
)

const (
	DefaultMaxDuration = 12 * time.Second
	defaultChunkSize   = 4096
)

var (
	ErrAlreadyCapturing = errors.New("capture already in progress")
	// ErrCaptureAborted is returned by Begin when End was called while the
	// permission request was still pending.
	ErrCaptureAborted = errors.New("capture ended before the device was acquired")
)

// Hooks are invoked outside the controller's lock, one at a time, and
// Acquired always precedes Ended for a session. A hook must not call back
// into the controller synchronously.
type Hooks struct {
	Acquired func()
	Ended    func(payload model.AudioPayload, err error)
}

type stopper interface {
	Stop() bool
}

type phase int

const (
	phaseIdle phase = iota
	phaseRequesting
	phaseCapturing
)

// Controller records from a Device for at most maxDuration per session.
type Controller struct {
	device      Device
	maxDuration time.Duration
	chunkSize   int
	log         logging.Logger
	afterFunc   func(time.Duration, func()) stopper

	mu       sync.Mutex
	phase    phase
	session  uint64
	aborted  bool
	stream   Stream
	chunks   *queue.Queue[model.AudioChunk]
	watchdog stopper
	done     chan struct{}
	hooks    Hooks

	// hookMu serializes hook delivery so Ended never overtakes Acquired.
	hookMu sync.Mutex
}

type Option func(*Controller)

func WithLogger(l logging.Logger) Option {
	return func(c *Controller) { c.log = l }
}

func WithChunkSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

func NewController(device Device, maxDuration time.Duration, opts ...Option) *Controller {
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	c := &Controller{
		device:      device,
		maxDuration: maxDuration,
		chunkSize:   defaultChunkSize,
		log:         logging.NewLogger(context.Background()),
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Begin requests the device and starts recording. It blocks while the
// permission request is pending. On success hooks.Acquired has been called and
// recording continues until End, the duration cap or a device failure, after
// which hooks.Ended receives the payload.
func (c *Controller) Begin(ctx context.Context, hooks Hooks) error {
	c.mu.Lock()
	if c.phase != phaseIdle {
		c.mu.Unlock()
		return ErrAlreadyCapturing
	}
	c.phase = phaseRequesting
	c.session++
	session := c.session
	c.aborted = false
	c.mu.Unlock()

	stream, err := c.device.Open(ctx)

	c.mu.Lock()
	if err != nil {
		c.phase = phaseIdle
		c.mu.Unlock()
		if stream != nil {
			_ = stream.Close()
		}
		return classify(err)
	}
	if c.aborted {
		c.phase = phaseIdle
		c.mu.Unlock()
		_ = stream.Close()
		c.log.Infof("capture: session %d ended while permission was pending, released device", session)
		return ErrCaptureAborted
	}

	c.phase = phaseCapturing
	c.stream = stream
	c.hooks = hooks
	c.chunks = queue.New[model.AudioChunk]()
	c.done = make(chan struct{})
	c.watchdog = c.afterFunc(c.maxDuration, func() { c.expire(session) })
	go c.read(session, stream, c.chunks, c.done)

	c.hookMu.Lock()
	c.mu.Unlock()
	defer c.hookMu.Unlock()

	c.log.Debugf("capture: session %d acquired %s", session, stream.ContentType())
	if hooks.Acquired != nil {
		hooks.Acquired()
	}
	return nil
}

// End stops the current session and returns what was recorded. Calling it
// while a permission request is pending makes that Begin release the device
// and return ErrCaptureAborted. Without a session it returns an empty payload.
func (c *Controller) End() model.AudioPayload {
	return c.finish(0, nil)
}

// Active reports whether the device is currently recording.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == phaseCapturing
}

func (c *Controller) expire(session uint64) {
	c.log.Infof("capture: session %d reached %s, stopping", session, c.maxDuration)
	c.finish(session, nil)
}

// finish tears down the given session, or whichever is current when session is zero.
func (c *Controller) finish(session uint64, cause error) model.AudioPayload {
	c.mu.Lock()
	if c.phase == phaseRequesting && session == 0 {
		c.aborted = true
		c.mu.Unlock()
		return model.AudioPayload{}
	}
	if c.phase != phaseCapturing || (session != 0 && session != c.session) {
		c.mu.Unlock()
		return model.AudioPayload{}
	}
	c.phase = phaseIdle
	stream, chunks, done, hooks := c.stream, c.chunks, c.done, c.hooks
	if c.watchdog != nil {
		c.watchdog.Stop()
	}
	c.stream, c.chunks, c.done, c.watchdog, c.hooks = nil, nil, nil, nil, Hooks{}
	c.mu.Unlock()

	if err := stream.Close(); err != nil {
		c.log.Warnf("capture: closing stream: %v", err)
	}
	<-done
	payload := model.NewAudioPayload(stream.ContentType(), chunks.Drain())

	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	if hooks.Ended != nil {
		hooks.Ended(payload, cause)
	}
	return payload
}

func (c *Controller) read(session uint64, stream Stream, chunks *queue.Queue[model.AudioChunk], done chan struct{}) {
	defer close(done)
	buf := make([]byte, c.chunkSize)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			chunk := make(model.AudioChunk, n)
			copy(chunk, buf[:n])
			chunks.Enqueue(chunk)
		}
		if err == nil {
			continue
		}
		// finish waits on done, so it cannot run on this goroutine. When the
		// stream was closed by finish itself the session is already over and
		// this is a no-op.
		if errors.Is(err, io.EOF) {
			go c.finish(session, nil)
		} else {
			go c.finish(session, errors.WithMessage(model.ErrDeviceUnavailable, err.Error()))
		}
		return
	}
}

func classify(err error) error {
	switch {
	case errors.Is(err, model.ErrPermissionDenied), errors.Is(err, model.ErrDeviceUnavailable):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrCaptureAborted
	default:
		return errors.WithMessage(model.ErrDeviceUnavailable, err.Error())
	}
}
