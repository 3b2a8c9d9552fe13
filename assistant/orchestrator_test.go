package assistant

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/mrsingh-rishi/voice-query/capture"
	"github.com/mrsingh-rishi/voice-query/mocks"
	"github.com/mrsingh-rishi/voice-query/model"
	"github.com/mrsingh-rishi/voice-query/playback"
	"github.com/mrsingh-rishi/voice-query/types"
	"github.com/stretchr/testify/suite"
)

type recorder struct {
	mu     sync.Mutex
	states []types.State
	events []string
	panics map[types.Tag]bool
}

func (r *recorder) Notify(state types.State) error {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.events = append(r.events, "state:"+string(state.Tag()))
	boom := r.panics[state.Tag()]
	r.mu.Unlock()
	if boom {
		panic("view crashed")
	}
	return nil
}

func (r *recorder) finalText(transcript, answer *string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := "<nil>"
	if answer != nil {
		a = *answer
	}
	r.events = append(r.events, fmt.Sprintf("final:%s|%s", *transcript, a))
}

func (r *recorder) tags() []types.Tag {
	r.mu.Lock()
	defer r.mu.Unlock()
	tags := make([]types.Tag, 0, len(r.states))
	for _, st := range r.states {
		tags = append(tags, st.Tag())
	}
	return tags
}

func (r *recorder) last() types.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return nil
	}
	return r.states[len(r.states)-1]
}

func (r *recorder) first() types.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return nil
	}
	return r.states[0]
}

func (r *recorder) eventLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type OrchestratorSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	stt     *mocks.MockTranscriber
	llm     *mocks.MockAnswerer
	tts     *mocks.MockSynthesizer
	device  *capture.PushDevice
	capture *capture.Controller
	rec     *recorder
	orch    *Orchestrator
	deny    bool
}

func (s *OrchestratorSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.stt = mocks.NewMockTranscriber(s.ctrl)
	s.llm = mocks.NewMockAnswerer(s.ctrl)
	s.tts = mocks.NewMockSynthesizer(s.ctrl)
	s.deny = false
	s.device = capture.NewPushDevice("audio/webm", func() {
		if s.deny {
			s.device.Deny("blocked by the user")
			return
		}
		s.device.Grant()
	})
	s.capture = capture.NewController(s.device, time.Minute)
	s.rec = &recorder{panics: map[types.Tag]bool{}}
	s.orch = s.newOrchestrator(time.Second)
}

func (s *OrchestratorSuite) newOrchestrator(timeout time.Duration) *Orchestrator {
	orch, err := New(Config{
		Capture:      s.capture,
		Transcriber:  s.stt,
		Answerer:     s.llm,
		Synthesizer:  s.tts,
		Notifier:     s.rec,
		OnFinalText:  s.rec.finalText,
		StageTimeout: timeout,
	})
	s.Require().NoError(err)
	return orch
}

func (s *OrchestratorSuite) waitFor(tag types.Tag) types.State {
	s.Require().Eventually(func() bool {
		last := s.rec.last()
		return last != nil && last.Tag() == tag
	}, 2*time.Second, time.Millisecond, "never reached %s, got %v", tag, s.rec.tags())
	return s.rec.last()
}

func (s *OrchestratorSuite) resource(text string) *model.PlayableResource {
	res, err := model.NewPlayableResource([]byte("ID3 audio"), "audio/mpeg", text)
	s.Require().NoError(err)
	return res
}

func (s *OrchestratorSuite) listen() {
	s.Require().NoError(s.orch.Start(context.Background(), "en"))
	s.Equal([]types.Tag{types.TagListening}, s.rec.tags())
	s.Require().NoError(s.device.Push([]byte("voice")))
}

func (s *OrchestratorSuite) TestHappyPath() {
	res := s.resource("hi there")
	s.stt.EXPECT().
		Transcribe(gomock.Any(), model.AudioPayload{Data: []byte("voice"), ContentType: "audio/webm"}).
		Return("hello", nil)
	s.llm.EXPECT().Ask(gomock.Any(), "hello").Return("hi there", nil)
	s.tts.EXPECT().Synthesize(gomock.Any(), "hi there", "en").Return(res, nil)

	s.listen()
	s.orch.Stop()
	s.Equal(types.Transcribing{}, s.rec.last())

	finished, ok := s.waitFor(types.TagFinished).(types.Finished)
	s.Require().True(ok)
	s.Equal("hello", finished.TranscriptText)
	s.Equal("hi there", finished.AnswerText)
	s.Equal([]string{"hi", "there"}, finished.Words)
	s.Same(res, finished.Resource)
	s.False(res.Released())
	s.Equal(model.StageFinished, s.orch.Stage())

	s.Equal([]string{
		"state:listening",
		"state:transcribing",
		"final:hello|<nil>",
		"state:thinking",
		"final:hello|hi there",
		"state:speaking",
		"state:finished",
	}, s.rec.eventLog())
}

func (s *OrchestratorSuite) TestPermissionDenied() {
	s.deny = true
	err := s.orch.Start(context.Background(), "en")
	s.Require().Error(err)

	s.Equal([]types.Tag{types.TagError}, s.rec.tags())
	failed := s.rec.last().(types.Error)
	s.Contains(failed.Message, "denied")
	s.Equal(model.KindPermissionDenied, failed.Kind)
	s.False(s.capture.Active())
}

func (s *OrchestratorSuite) TestEmptySynthesis() {
	s.stt.EXPECT().Transcribe(gomock.Any(), gomock.Any()).Return("hello", nil)
	s.llm.EXPECT().Ask(gomock.Any(), "hello").Return("hi there", nil)
	s.tts.EXPECT().Synthesize(gomock.Any(), "hi there", "en").Return(nil, model.ErrSynthesisEmpty)

	s.listen()
	s.orch.Stop()

	failed := s.waitFor(types.TagError).(types.Error)
	s.Equal(model.KindSynthesisEmpty, failed.Kind)
	s.NotContains(s.rec.tags(), types.TagFinished)
}

func (s *OrchestratorSuite) TestNilResourceIsSynthesisEmpty() {
	s.llm.EXPECT().Ask(gomock.Any(), "refund policy").Return("ok", nil)
	s.tts.EXPECT().Synthesize(gomock.Any(), "ok", "en").Return(nil, nil)

	s.Require().NoError(s.orch.SubmitText(context.Background(), "en", "refund policy"))
	failed := s.waitFor(types.TagError).(types.Error)
	s.Equal(model.KindSynthesisEmpty, failed.Kind)
}

func (s *OrchestratorSuite) TestManualTextPath() {
	res := s.resource("Refunds take five days")
	s.llm.EXPECT().Ask(gomock.Any(), "refund policy").Return("Refunds take five days", nil)
	s.tts.EXPECT().Synthesize(gomock.Any(), "Refunds take five days", "de").Return(res, nil)

	s.Require().NoError(s.orch.SubmitText(context.Background(), "de", "  refund policy "))
	s.Equal(types.Thinking{TranscriptText: "refund policy"}, s.rec.first())

	finished := s.waitFor(types.TagFinished).(types.Finished)
	s.Equal([]string{"Refunds", "take", "five", "days"}, finished.Words)
	s.Equal([]types.Tag{types.TagThinking, types.TagSpeaking, types.TagFinished}, s.rec.tags())
}

func (s *OrchestratorSuite) TestBlankTextRejected() {
	s.ErrorIs(s.orch.SubmitText(context.Background(), "en", "   "), ErrEmptyText)
	s.Empty(s.rec.tags())
	s.Equal(model.StageIdle, s.orch.Stage())
}

func (s *OrchestratorSuite) TestStopAndCloseWithoutInteraction() {
	s.orch.Stop()
	s.orch.Close()
	s.orch.Stop()
	s.Empty(s.rec.tags())
}

func (s *OrchestratorSuite) TestStopTwice() {
	block := make(chan struct{})
	defer close(block)
	s.stt.EXPECT().Transcribe(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ model.AudioPayload) (string, error) {
			<-block
			return "", ctx.Err()
		}).AnyTimes()

	s.listen()
	s.orch.Stop()
	s.orch.Stop()
	s.Equal([]types.Tag{types.TagListening, types.TagTranscribing}, s.rec.tags())
	s.orch.Close()
}

func (s *OrchestratorSuite) TestCloseWhileListening() {
	s.listen()
	s.orch.Close()
	s.orch.Close()

	s.Equal([]types.Tag{types.TagListening, types.TagIdle}, s.rec.tags())
	s.False(s.capture.Active())
	s.ErrorIs(s.device.Push([]byte("late")), capture.ErrNotCapturing)
	s.orch.Stop()
	s.Equal(model.StageIdle, s.orch.Stage())
}

func (s *OrchestratorSuite) TestCloseWhileTranscribingDiscardsResult() {
	block := make(chan struct{})
	returned := make(chan struct{})
	s.stt.EXPECT().Transcribe(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, model.AudioPayload) (string, error) {
			<-block
			defer close(returned)
			return "hello", nil
		})

	s.listen()
	s.orch.Stop()
	s.orch.Close()
	close(block)
	<-returned
	time.Sleep(20 * time.Millisecond)

	s.Equal([]types.Tag{types.TagListening, types.TagTranscribing, types.TagIdle}, s.rec.tags())
	s.NotContains(s.rec.eventLog(), "final:hello|<nil>")
}

func (s *OrchestratorSuite) TestCloseWhileThinking() {
	block := make(chan struct{})
	s.llm.EXPECT().Ask(gomock.Any(), "question").DoAndReturn(
		func(context.Context, string) (string, error) {
			<-block
			return "late answer", nil
		})

	s.Require().NoError(s.orch.SubmitText(context.Background(), "en", "question"))
	s.orch.Close()
	close(block)
	time.Sleep(20 * time.Millisecond)

	s.Equal([]types.Tag{types.TagThinking, types.TagIdle}, s.rec.tags())
}

func (s *OrchestratorSuite) TestCloseWhileSpeakingReleasesLateResource() {
	res := s.resource("answer")
	block := make(chan struct{})
	s.llm.EXPECT().Ask(gomock.Any(), "question").Return("answer", nil)
	s.tts.EXPECT().Synthesize(gomock.Any(), "answer", "en").DoAndReturn(
		func(context.Context, string, string) (*model.PlayableResource, error) {
			<-block
			return res, nil
		})

	s.Require().NoError(s.orch.SubmitText(context.Background(), "en", "question"))
	s.waitFor(types.TagSpeaking)
	s.orch.Close()
	close(block)

	s.Eventually(res.Released, time.Second, time.Millisecond)
	s.Equal([]types.Tag{types.TagThinking, types.TagSpeaking, types.TagIdle}, s.rec.tags())
}

func (s *OrchestratorSuite) TestCloseWhenFinishedReleasesResource() {
	res := s.resource("the cat sat")
	s.llm.EXPECT().Ask(gomock.Any(), "q").Return("the cat sat", nil)
	s.tts.EXPECT().Synthesize(gomock.Any(), "the cat sat", "en").Return(res, nil)

	s.Require().NoError(s.orch.SubmitText(context.Background(), "en", "q"))
	finished := s.waitFor(types.TagFinished).(types.Finished)

	opened := 0
	driver := playback.NewDriver(func(r *model.PlayableResource, onEnded func()) (playback.Player, error) {
		opened++
		return playback.OpenClock(r, onEnded)
	}, time.Millisecond, nil)
	driver.Load(finished.Resource, finished.Words)

	s.orch.Close()
	s.True(res.Released())
	s.Equal(types.Idle{}, s.rec.last())

	s.NoError(driver.Play())
	s.Zero(opened)
	s.False(driver.State().IsPlaying)
}

func (s *OrchestratorSuite) TestCloseAfterError() {
	s.deny = true
	s.Require().Error(s.orch.Start(context.Background(), "en"))
	s.orch.Close()
	s.Equal([]types.Tag{types.TagError, types.TagIdle}, s.rec.tags())
}

func (s *OrchestratorSuite) TestStartSupersedesFinishedInteraction() {
	res := s.resource("done")
	s.llm.EXPECT().Ask(gomock.Any(), "q").Return("done", nil)
	s.tts.EXPECT().Synthesize(gomock.Any(), "done", "en").Return(res, nil)

	s.Require().NoError(s.orch.SubmitText(context.Background(), "en", "q"))
	s.waitFor(types.TagFinished)

	s.Require().NoError(s.orch.Start(context.Background(), "en"))
	s.True(res.Released())
	s.Equal([]types.Tag{
		types.TagThinking, types.TagSpeaking, types.TagFinished, types.TagIdle, types.TagListening,
	}, s.rec.tags())
	s.orch.Close()
}

func (s *OrchestratorSuite) TestHangupEndsCapture() {
	s.stt.EXPECT().Transcribe(gomock.Any(), model.AudioPayload{Data: []byte("voice"), ContentType: "audio/webm"}).
		Return("", &model.NetworkError{Endpoint: "audio/stt", Status: 502, Body: "bad gateway"})

	s.listen()
	s.device.Hangup()

	failed := s.waitFor(types.TagError).(types.Error)
	s.Equal(model.KindNetwork, failed.Kind)
	s.Contains(failed.Message, "status=502")
	s.Equal([]types.Tag{types.TagListening, types.TagTranscribing, types.TagError}, s.rec.tags())
}

func (s *OrchestratorSuite) TestStageTimeout() {
	s.orch = s.newOrchestrator(20 * time.Millisecond)
	s.llm.EXPECT().Ask(gomock.Any(), "slow").DoAndReturn(
		func(ctx context.Context, _ string) (string, error) {
			<-ctx.Done()
			return "", &model.NetworkError{Endpoint: "rag/query", Err: ctx.Err()}
		})

	s.Require().NoError(s.orch.SubmitText(context.Background(), "en", "slow"))
	failed := s.waitFor(types.TagError).(types.Error)
	s.Equal(model.KindNetwork, failed.Kind)
	s.Equal("rag/query timed out", failed.Message)
}

func (s *OrchestratorSuite) TestCallerCancellationDoesNotAbortStages() {
	res := s.resource("fine")
	ctx, cancel := context.WithCancel(context.Background())
	s.llm.EXPECT().Ask(gomock.Any(), "q").DoAndReturn(
		func(ctx context.Context, _ string) (string, error) {
			cancel()
			return "fine", ctx.Err()
		})
	s.tts.EXPECT().Synthesize(gomock.Any(), "fine", "en").Return(res, nil)

	s.Require().NoError(s.orch.SubmitText(ctx, "en", "q"))
	s.waitFor(types.TagFinished)
}

func (s *OrchestratorSuite) TestPanickingCollaboratorBecomesError() {
	s.llm.EXPECT().Ask(gomock.Any(), "q").DoAndReturn(
		func(context.Context, string) (string, error) {
			panic("index out of range")
		})

	s.Require().NoError(s.orch.SubmitText(context.Background(), "en", "q"))
	failed := s.waitFor(types.TagError).(types.Error)
	s.Equal(model.KindUnknown, failed.Kind)
	s.Contains(failed.Message, "index out of range")
}

func (s *OrchestratorSuite) TestPanickingNotifierIsContained() {
	s.rec.panics[types.TagThinking] = true
	res := s.resource("ok")
	s.llm.EXPECT().Ask(gomock.Any(), "q").Return("ok", nil)
	s.tts.EXPECT().Synthesize(gomock.Any(), "ok", "en").Return(res, nil)

	s.Require().NoError(s.orch.SubmitText(context.Background(), "en", "q"))
	s.waitFor(types.TagFinished)
}

func (s *OrchestratorSuite) TestNewRequiresCollaborators() {
	_, err := New(Config{})
	s.Error(err)
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}
