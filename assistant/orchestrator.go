// Package assistant runs one voice interaction at a time: capture, transcription,
// answering and synthesis, reporting every transition to a types.Notifier.
package assistant

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mrsingh-rishi/voice-query/capture"
	"github.com/mrsingh-rishi/voice-query/logging"
	"github.com/mrsingh-rishi/voice-query/model"
	"github.com/mrsingh-rishi/voice-query/types"
	"github.com/pkg/errors"
)

const DefaultStageTimeout = 30 * time.Second

var ErrEmptyText = errors.New("text is empty")

type Transcriber interface {
	Transcribe(ctx context.Context, payload model.AudioPayload) (string, error)
}

type Answerer interface {
	Ask(ctx context.Context, query string) (string, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string) (*model.PlayableResource, error)
}

// Capturer is satisfied by *capture.Controller.
type Capturer interface {
	Begin(ctx context.Context, hooks capture.Hooks) error
	End() model.AudioPayload
}

type Config struct {
	Capture     Capturer
	Transcriber Transcriber
	Answerer    Answerer
	Synthesizer Synthesizer
	Notifier    types.Notifier
	OnFinalText types.FinalTextFunc
	// StageTimeout bounds each network stage. Zero means DefaultStageTimeout.
	StageTimeout time.Duration
	Logger       logging.Logger
}

type interaction struct {
	id         uuid.UUID
	lang       string
	transcript string
	answer     string
	resource   *model.PlayableResource
	log        logging.Logger
}

// Orchestrator is safe for concurrent use. Notifications are delivered while
// its lock is held, so a Notifier must not call back into it.
type Orchestrator struct {
	capture      Capturer
	stt          Transcriber
	llm          Answerer
	tts          Synthesizer
	notifier     types.Notifier
	onFinalText  types.FinalTextFunc
	stageTimeout time.Duration
	log          logging.Logger

	mu      sync.Mutex
	current *interaction
	stage   model.Stage
}

func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Capture == nil:
		return nil, errors.New("capture is required")
	case cfg.Transcriber == nil:
		return nil, errors.New("transcriber is required")
	case cfg.Answerer == nil:
		return nil, errors.New("answerer is required")
	case cfg.Synthesizer == nil:
		return nil, errors.New("synthesizer is required")
	case cfg.Notifier == nil:
		return nil, errors.New("notifier is required")
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = DefaultStageTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger(context.Background())
	}
	return &Orchestrator{
		capture:      cfg.Capture,
		stt:          cfg.Transcriber,
		llm:          cfg.Answerer,
		tts:          cfg.Synthesizer,
		notifier:     cfg.Notifier,
		onFinalText:  cfg.OnFinalText,
		stageTimeout: cfg.StageTimeout,
		log:          cfg.Logger,
	}, nil
}

// Stage returns the last notified stage.
func (o *Orchestrator) Stage() model.Stage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stage
}

// Start closes any previous interaction and begins capturing a new one. It
// blocks while the microphone permission request is pending. A capture failure
// is notified as Error and also returned.
func (o *Orchestrator) Start(ctx context.Context, lang string) (err error) {
	o.Close()
	it := o.begin(lang)

	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("capture panicked: %v", r)
			o.fail(it, err)
		}
	}()

	err = o.capture.Begin(ctx, capture.Hooks{
		Acquired: func() { o.listening(it) },
		Ended:    func(payload model.AudioPayload, err error) { o.captured(it, payload, err) },
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, capture.ErrCaptureAborted):
		it.log.Infof("capture abandoned before the microphone was acquired")
		return nil
	default:
		o.fail(it, err)
		return err
	}
}

// Stop ends capture while Listening; the interaction moves to Transcribing
// before Stop returns. In any other stage it does nothing.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	listening := o.current != nil && o.stage == model.StageListening
	o.mu.Unlock()
	if !listening {
		return
	}
	o.capture.End()
}

// SubmitText starts an interaction from typed text, skipping capture and transcription.
func (o *Orchestrator) SubmitText(ctx context.Context, lang, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	o.Close()
	it := o.begin(lang)

	o.mu.Lock()
	it.transcript = text
	ok := o.advanceLocked(it, types.Thinking{TranscriptText: text})
	o.mu.Unlock()
	if !ok {
		return nil
	}

	go func() {
		defer o.recoverStage(it)
		o.answer(ctx, it, text)
	}()
	return nil
}

// Close abandons the current interaction: capture is torn down first, then its
// resource is released and Idle is notified. Closing again does nothing.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	it := o.current
	o.current = nil
	var res *model.PlayableResource
	if it != nil {
		res, it.resource = it.resource, nil
	}
	o.mu.Unlock()

	if it != nil {
		o.capture.End()
	}
	if res != nil {
		res.Release()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != nil || o.stage == model.StageIdle {
		return
	}
	if it != nil {
		it.log.Infof("closed at %s", o.stage)
	}
	o.stage = model.StageIdle
	o.safeNotify(types.Idle{})
}

func (o *Orchestrator) begin(lang string) *interaction {
	id := uuid.New()
	it := &interaction{
		id:   id,
		lang: lang,
		log:  o.log.WithField("interaction", id.String()),
	}
	o.mu.Lock()
	o.current = it
	o.mu.Unlock()
	return it
}

func (o *Orchestrator) listening(it *interaction) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != it {
		return
	}
	o.advanceLocked(it, types.Listening{})
}

// captured receives the end of capture, whether from Stop, the watchdog or a
// device failure, and hands the audio to transcription.
func (o *Orchestrator) captured(it *interaction, payload model.AudioPayload, err error) {
	o.mu.Lock()
	if o.current != it {
		o.mu.Unlock()
		return
	}
	if err != nil {
		o.failLocked(it, err)
		o.mu.Unlock()
		return
	}
	ok := o.advanceLocked(it, types.Transcribing{})
	o.mu.Unlock()
	if !ok {
		return
	}

	it.log.Debugf("captured %d bytes of %s", len(payload.Data), payload.ContentType)
	go func() {
		defer o.recoverStage(it)
		o.transcribe(it, payload)
	}()
}

func (o *Orchestrator) transcribe(it *interaction, payload model.AudioPayload) {
	ctx, cancel := o.stageContext(context.Background())
	transcript, err := o.stt.Transcribe(ctx, payload)
	cancel()
	if err != nil {
		o.fail(it, errors.Wrap(err, "transcribe"))
		return
	}

	o.mu.Lock()
	if o.current != it {
		o.mu.Unlock()
		it.log.Debugf("discarding transcript of a closed interaction")
		return
	}
	it.transcript = transcript
	o.safeFinalText(&transcript, nil)
	ok := o.advanceLocked(it, types.Thinking{TranscriptText: transcript})
	o.mu.Unlock()
	if !ok {
		return
	}

	o.answer(context.Background(), it, transcript)
}

// answer runs the query and synthesis stages. Cancelling parent does not
// abort them; only values are inherited.
func (o *Orchestrator) answer(parent context.Context, it *interaction, transcript string) {
	ctx, cancel := o.stageContext(parent)
	answer, err := o.llm.Ask(ctx, transcript)
	cancel()
	if err != nil {
		o.fail(it, errors.Wrap(err, "query"))
		return
	}

	o.mu.Lock()
	if o.current != it {
		o.mu.Unlock()
		it.log.Debugf("discarding answer of a closed interaction")
		return
	}
	it.answer = answer
	o.safeFinalText(&transcript, &answer)
	ok := o.advanceLocked(it, types.Speaking{TranscriptText: transcript, AnswerText: answer})
	o.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel = o.stageContext(parent)
	res, err := o.tts.Synthesize(ctx, answer, it.lang)
	cancel()
	if err != nil {
		if res != nil {
			res.Release()
		}
		o.fail(it, errors.Wrap(err, "synthesize"))
		return
	}
	if res == nil {
		o.fail(it, model.ErrSynthesisEmpty)
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != it {
		res.Release()
		it.log.Debugf("released audio of a closed interaction")
		return
	}
	it.resource = res
	o.advanceLocked(it, types.Finished{
		TranscriptText: transcript,
		AnswerText:     answer,
		Resource:       res,
		Words:          model.Words(answer),
	})
}

func (o *Orchestrator) stageContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(parent), o.stageTimeout)
}

func (o *Orchestrator) fail(it *interaction, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != it {
		it.log.Debugf("ignoring failure of a closed interaction: %v", err)
		return
	}
	o.failLocked(it, err)
}

func (o *Orchestrator) failLocked(it *interaction, err error) {
	it.log.Errorf("failed at %s: %v", o.stage, err)
	if it.resource != nil {
		it.resource.Release()
		it.resource = nil
	}
	o.advanceLocked(it, types.NewError(err))
}

func (o *Orchestrator) recoverStage(it *interaction) {
	if r := recover(); r != nil {
		o.fail(it, errors.Errorf("unexpected failure: %v", r))
	}
}

// advanceLocked records and notifies next if it is a legal move from the
// current stage.
func (o *Orchestrator) advanceLocked(it *interaction, next types.State) bool {
	if !o.stage.CanAdvance(next.Stage()) {
		it.log.Warnf("ignoring transition %s -> %s", o.stage, next.Stage())
		return false
	}
	o.stage = next.Stage()
	it.log.WithField("stage", o.stage.String()).Debugf("notify %s", next.Tag())
	o.safeNotify(next)
	return true
}

func (o *Orchestrator) safeNotify(state types.State) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Errorf("notifier panicked on %s: %v", state.Tag(), r)
		}
	}()
	if err := o.notifier.Notify(state); err != nil {
		o.log.Warnf("notifier failed on %s: %v", state.Tag(), err)
	}
}

func (o *Orchestrator) safeFinalText(transcript, answer *string) {
	if o.onFinalText == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.log.Errorf("final text callback panicked: %v", r)
		}
	}()
	o.onFinalText(transcript, answer)
}
