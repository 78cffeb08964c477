package internal_session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interviewx/client/config"
	internal_analysis "github.com/interviewx/client/internal/analysis"
	internal_persistence "github.com/interviewx/client/internal/persistence"
	internal_type "github.com/interviewx/client/internal/type"
	"github.com/interviewx/client/pkg/commons"
	"github.com/interviewx/client/pkg/types"
	"github.com/interviewx/client/pkg/utils"
)

func TestRunner_AnswerEvaluateAdvance(t *testing.T) {
	h := newHarness(t, twoQuestions())
	h.answerFirst(t, "hello")

	st := h.runner.State()
	assert.Equal(t, internal_type.QuestionEvaluating, st.Questions[0].Status)
	require.Len(t, h.store.Answers("S"), 1)
	assert.Equal(t, "hello", h.store.Answers("S")[0].Text)
	assert.Equal(t, internal_type.AnswerText, h.store.Answers("S")[0].Kind)

	starts := h.bridge.starts()
	require.Len(t, starts, 1)
	assert.Equal(t, internal_type.StreamText, starts[0].stream)
	assert.Equal(t, map[string]interface{}{"text": "hello"}, starts[0].options)

	h.bridge.evaluate(t, "q1", internal_type.EvaluationResult{Score: 85, Passed: true})
	st = h.runner.State()
	assert.Equal(t, internal_type.QuestionCompleted, st.Questions[0].Status)
	assert.Equal(t, 0, st.Session.CurrentIndex)

	h.clock.Advance(750 * time.Millisecond)
	st = h.runner.State()
	assert.Equal(t, 1, st.Session.CurrentIndex)
	assert.Equal(t, internal_type.QuestionReady, st.Questions[1].Status)
	assert.Equal(t, 120, st.Questions[1].RemainingSeconds)

	assert.Equal(t, []internal_type.QuestionStatus{
		internal_type.QuestionReady,
		internal_type.QuestionAnswering,
		internal_type.QuestionSubmitting,
		internal_type.QuestionEvaluating,
		internal_type.QuestionCompleted,
	}, h.statusTrail(0))
	assert.Equal(t, []internal_type.MessageKind{internal_type.KindInterviewStart, internal_type.KindQuestionAnswered}, h.sender.kinds())

	answered, ok := h.sender.last(internal_type.KindQuestionAnswered).(answeredPayload)
	require.True(t, ok)
	assert.Equal(t, "q1", answered.QuestionID)
	assert.Equal(t, "hello", answered.Answer)
}

func TestRunner_TimerExpiryAutoSubmitsOnce(t *testing.T) {
	desc := internal_type.SessionDescriptor{
		ID: "S",
		Questions: []internal_type.Question{
			{ID: "q1", Prompt: "Why this role?", Kind: internal_type.QuestionBehavioral, TimeBudgetSeconds: 30, AcceptsText: true},
			{ID: "q2", Prompt: "Reverse a list", Kind: internal_type.QuestionCoding, TimeBudgetSeconds: 60, AcceptsText: true},
		},
	}
	h := newHarness(t, desc)
	ctx := context.Background()
	require.NoError(t, h.runner.Start(ctx))
	require.NoError(t, h.runner.BeginAnswering())

	h.clock.Advance(29 * time.Second)
	st := h.runner.State()
	assert.Equal(t, 1, st.Questions[0].RemainingSeconds)
	assert.Equal(t, internal_type.QuestionAnswering, st.Questions[0].Status)
	assert.Empty(t, h.store.Answers("S"))

	h.clock.Advance(time.Second)
	st = h.runner.State()
	assert.Equal(t, 0, st.Questions[0].RemainingSeconds)
	assert.Equal(t, internal_type.QuestionEvaluating, st.Questions[0].Status)
	answers := h.store.Answers("S")
	require.Len(t, answers, 1)
	assert.Equal(t, "", answers[0].Text)
	assert.Equal(t, 30, answers[0].TimeSpentSeconds)

	h.clock.Advance(5 * time.Second)
	assert.Len(t, h.store.Answers("S"), 1)
	assert.Empty(t, h.errors())
}

func TestRunner_EvaluationTimeout(t *testing.T) {
	h := newHarness(t, twoQuestions())
	h.answerFirst(t, "hello")

	h.clock.Advance(70 * time.Second)
	st := h.runner.State()
	assert.Equal(t, internal_type.QuestionCompleted, st.Questions[0].Status)
	require.NotNil(t, st.Questions[0].Evaluation)
	assert.True(t, st.Questions[0].Evaluation.Unavailable)
	assert.Equal(t, 1, st.Session.CurrentIndex)

	errs := h.errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], types.ErrEvaluationTimeout)

	require.NoError(t, h.runner.Previous())
	require.NoError(t, h.runner.Goto(1))
	require.NoError(t, h.runner.BeginAnswering())
}

func TestRunner_LateEvaluationIgnored(t *testing.T) {
	h := newHarness(t, twoQuestions())
	h.answerFirst(t, "hello")
	h.clock.Advance(60 * time.Second)

	h.bridge.evaluate(t, "q1", internal_type.EvaluationResult{Score: 90, Passed: true})
	st := h.runner.State()
	assert.True(t, st.Questions[0].Evaluation.Unavailable)
	assert.Zero(t, st.Questions[0].Evaluation.Score)
}

func TestRunner_PauseResumeKeepsTimer(t *testing.T) {
	h := newHarness(t, twoQuestions())
	ctx := context.Background()
	require.NoError(t, h.runner.Start(ctx))
	require.NoError(t, h.runner.BeginAnswering())

	h.clock.Advance(10 * time.Second)
	require.NoError(t, h.runner.Pause())
	assert.Equal(t, internal_type.SessionPaused, h.runner.State().Session.Status)
	h.clock.Advance(20 * time.Second)
	require.NoError(t, h.runner.Resume())

	st := h.runner.State()
	assert.Equal(t, 50, st.Questions[0].RemainingSeconds)
	assert.Equal(t, internal_type.QuestionAnswering, st.Questions[0].Status)
	h.clock.Advance(time.Second)
	assert.Equal(t, 49, h.runner.State().Questions[0].RemainingSeconds)

	assert.Contains(t, h.sender.kinds(), internal_type.KindInterviewPause)
	assert.Contains(t, h.sender.kinds(), internal_type.KindInterviewResume)
}

func TestRunner_PauseMidSecond(t *testing.T) {
	h := newHarness(t, twoQuestions())
	require.NoError(t, h.runner.Start(context.Background()))
	require.NoError(t, h.runner.BeginAnswering())

	h.clock.Advance(10500 * time.Millisecond)
	require.NoError(t, h.runner.Pause())
	h.clock.Advance(20 * time.Second)
	require.NoError(t, h.runner.Resume())

	h.clock.Advance(499 * time.Millisecond)
	assert.Equal(t, 50, h.runner.State().Questions[0].RemainingSeconds)
	h.clock.Advance(time.Millisecond)
	assert.Equal(t, 49, h.runner.State().Questions[0].RemainingSeconds)
}

func TestRunner_PausedRejectsAnswering(t *testing.T) {
	h := newHarness(t, twoQuestions())
	require.NoError(t, h.runner.Start(context.Background()))
	require.NoError(t, h.runner.Pause())
	assert.ErrorIs(t, h.runner.BeginAnswering(), types.ErrInvalidState)
	assert.ErrorIs(t, h.runner.Submit(context.Background()), types.ErrInvalidState)
	assert.ErrorIs(t, h.runner.Pause(), types.ErrInvalidState)
}

func TestRunner_SubmitInFlight(t *testing.T) {
	h := newHarness(t, twoQuestions())
	ctx := context.Background()
	require.NoError(t, h.runner.Start(ctx))
	require.NoError(t, h.runner.BeginAnswering())
	require.NoError(t, h.runner.UpdateDraft(internal_type.DraftFieldText, "hello"))

	release := h.store.Hold(internal_persistence.OpSubmitAnswer)
	done := make(chan error, 1)
	go func() { done <- h.runner.Submit(ctx) }()
	require.Eventually(t, func() bool {
		return h.runner.State().Questions[0].Status == internal_type.QuestionSubmitting
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, h.runner.Submit(ctx), types.ErrSubmitInFlight)
	release()
	require.NoError(t, <-done)
	assert.Equal(t, internal_type.QuestionEvaluating, h.runner.State().Questions[0].Status)
	assert.Len(t, h.store.Answers("S"), 1)
}

func TestRunner_SubmitFailureKeepsDraft(t *testing.T) {
	h := newHarness(t, twoQuestions())
	ctx := context.Background()
	require.NoError(t, h.runner.Start(ctx))
	require.NoError(t, h.runner.BeginAnswering())
	require.NoError(t, h.runner.UpdateDraft(internal_type.DraftFieldText, "draft"))
	h.clock.Advance(5 * time.Second)

	h.store.FailNext(internal_persistence.OpSubmitAnswer, types.NewError(types.KindServerError, internal_persistence.OpSubmitAnswer, nil))
	err := h.runner.Submit(ctx)
	assert.ErrorIs(t, err, types.ErrServerError)
	assert.True(t, types.Retryable(err))

	st := h.runner.State()
	assert.Equal(t, internal_type.QuestionAnswering, st.Questions[0].Status)
	assert.Equal(t, "draft", st.Questions[0].Draft.Text)
	assert.Equal(t, 55, st.Questions[0].RemainingSeconds)

	h.clock.Advance(time.Second)
	assert.Equal(t, 54, h.runner.State().Questions[0].RemainingSeconds)

	require.NoError(t, h.runner.Submit(ctx))
	assert.Equal(t, internal_type.QuestionEvaluating, h.runner.State().Questions[0].Status)
}

func TestRunner_EarlyEvaluation(t *testing.T) {
	h := newHarness(t, twoQuestions())
	ctx := context.Background()
	require.NoError(t, h.runner.Start(ctx))
	require.NoError(t, h.runner.BeginAnswering())

	release := h.store.Hold(internal_persistence.OpSubmitAnswer)
	done := make(chan error, 1)
	go func() { done <- h.runner.Submit(ctx) }()
	require.Eventually(t, func() bool {
		return h.runner.State().Questions[0].Status == internal_type.QuestionSubmitting
	}, time.Second, time.Millisecond)

	h.bridge.evaluate(t, "q1", internal_type.EvaluationResult{Score: 72, Passed: false})
	assert.Equal(t, internal_type.QuestionSubmitting, h.runner.State().Questions[0].Status)
	release()
	require.NoError(t, <-done)

	st := h.runner.State()
	assert.Equal(t, internal_type.QuestionCompleted, st.Questions[0].Status)
	assert.Equal(t, 72.0, st.Questions[0].Evaluation.Score)
}

func TestRunner_UpdateDraftValidation(t *testing.T) {
	h := newHarness(t, twoQuestions())
	require.NoError(t, h.runner.Start(context.Background()))
	assert.ErrorIs(t, h.runner.UpdateDraft(internal_type.DraftFieldText, "early"), types.ErrInvalidState)
	require.NoError(t, h.runner.BeginAnswering())

	require.NoError(t, h.runner.UpdateDraft(internal_type.DraftFieldText, strings.Repeat("é", 20)))
	assert.ErrorIs(t, h.runner.UpdateDraft(internal_type.DraftFieldText, strings.Repeat("é", 21)), types.ErrValidation)
	assert.ErrorIs(t, h.runner.UpdateDraft(internal_type.DraftFieldText, 42), types.ErrValidation)
	assert.ErrorIs(t, h.runner.UpdateDraft("notes", "x"), types.ErrValidation)
	assert.Equal(t, strings.Repeat("é", 20), h.runner.State().Questions[0].Draft.Text)

	require.NoError(t, h.runner.UpdateDraft(internal_type.DraftFieldVideo, "video-ref-1"))
	d := h.runner.State().Questions[0].Draft
	assert.Equal(t, "video-ref-1", d.VideoRef)
	assert.Equal(t, epoch.UnixMilli(), d.UpdatedAtMs)
}

func TestRunner_AutosaveDebounce(t *testing.T) {
	h := newHarness(t, twoQuestions())
	ctx := context.Background()
	require.NoError(t, h.runner.Start(ctx))
	require.NoError(t, h.runner.BeginAnswering())

	require.NoError(t, h.runner.UpdateDraft(internal_type.DraftFieldText, "a"))
	h.clock.Advance(3 * time.Second)
	require.NoError(t, h.runner.UpdateDraft(internal_type.DraftFieldText, "ab"))
	h.clock.Advance(4 * time.Second)
	_, saved := h.store.Draft("S", "q1")
	assert.False(t, saved)

	h.clock.Advance(time.Second)
	d, saved := h.store.Draft("S", "q1")
	require.True(t, saved)
	assert.Equal(t, "ab", d.Text)

	snap, err := h.snapshots.LoadSnapshot(ctx, "S")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "ab", snap.Drafts["q1"].Text)
}

func TestRunner_AutosaveDisabled(t *testing.T) {
	h := newHarness(t, twoQuestions(), func(c *config.SessionRunnerConfig) { c.AutoSave = false })
	require.NoError(t, h.runner.Start(context.Background()))
	require.NoError(t, h.runner.BeginAnswering())
	require.NoError(t, h.runner.UpdateDraft(internal_type.DraftFieldText, "a"))
	h.clock.Advance(10 * time.Second)
	_, saved := h.store.Draft("S", "q1")
	assert.False(t, saved)
}

func TestRunner_LoadRestoresSnapshot(t *testing.T) {
	h := newHarness(t, twoQuestions())
	ctx := context.Background()
	require.NoError(t, h.snapshots.SaveSnapshot(ctx, internal_type.DraftSnapshot{
		SessionID: "S",
		Drafts:    map[string]internal_type.Draft{"q2": {Text: "restored"}},
		SavedAt:   epoch,
	}))
	require.NoError(t, h.runner.Load(ctx, "S"))
	st := h.runner.State()
	assert.Equal(t, "restored", st.Questions[1].Draft.Text)
	assert.Equal(t, internal_type.SessionNotStarted, st.Session.Status)

	assert.ErrorIs(t, h.runner.Load(ctx, "missing"), types.ErrNotFound)
}

func TestRunner_SkipAndNavigation(t *testing.T) {
	h := newHarness(t, threeQuestions())
	ctx := context.Background()
	require.NoError(t, h.runner.Start(ctx))

	assert.ErrorIs(t, h.runner.Next(), types.ErrInvalidState)
	assert.ErrorIs(t, h.runner.Previous(), types.ErrInvalidState)

	require.NoError(t, h.runner.Skip(ctx, "not relevant"))
	st := h.runner.State()
	assert.Equal(t, internal_type.QuestionSkipped, st.Questions[0].Status)
	require.Len(t, st.Answers, 1)
	assert.Equal(t, internal_type.AnswerSkipped, st.Answers[0].Kind)
	assert.Equal(t, "not relevant", st.Answers[0].SkipReason)
	assert.Empty(t, h.store.Answers("S"))
	skip, ok := h.sender.last(internal_type.KindQuestionSkip).(skipPayload)
	require.True(t, ok)
	assert.Equal(t, "q1", skip.QuestionID)

	h.clock.Advance(750 * time.Millisecond)
	assert.Equal(t, 1, h.runner.State().Session.CurrentIndex)

	require.NoError(t, h.runner.Goto(5))
	assert.Equal(t, 1, h.runner.State().Session.CurrentIndex)
	require.NoError(t, h.runner.Goto(-3))
	assert.Equal(t, 0, h.runner.State().Session.CurrentIndex)
	assert.Equal(t, internal_type.QuestionSkipped, h.runner.State().Questions[0].Status)
	require.NoError(t, h.runner.Next())
	assert.Equal(t, 1, h.runner.State().Session.CurrentIndex)
}

func TestRunner_NextCancelsAutoAdvance(t *testing.T) {
	h := newHarness(t, threeQuestions())
	h.answerFirst(t, "hello")
	h.bridge.evaluate(t, "q1", internal_type.EvaluationResult{Score: 90, Passed: true})

	require.NoError(t, h.runner.Next())
	assert.Equal(t, 1, h.runner.State().Session.CurrentIndex)
	h.clock.Advance(time.Second)
	assert.Equal(t, 1, h.runner.State().Session.CurrentIndex)
}

func TestRunner_NoAdvancePastLast(t *testing.T) {
	h := newHarness(t, twoQuestions())
	ctx := context.Background()
	require.NoError(t, h.runner.Start(ctx))
	require.NoError(t, h.runner.Skip(ctx, ""))
	h.clock.Advance(time.Second)
	require.NoError(t, h.runner.Skip(ctx, ""))
	h.clock.Advance(time.Second)

	assert.Equal(t, 1, h.runner.State().Session.CurrentIndex)
	assert.ErrorIs(t, h.runner.Next(), types.ErrInvalidState)
}

func TestRunner_LeavingAnsweringFreezesTimer(t *testing.T) {
	h := newHarness(t, twoQuestions())
	h.answerFirst(t, "hello")
	h.bridge.evaluate(t, "q1", internal_type.EvaluationResult{Score: 90, Passed: true})
	h.clock.Advance(750 * time.Millisecond)

	require.NoError(t, h.runner.BeginAnswering())
	assert.Equal(t, internal_type.RecorderRecording, h.recorder.State().State)
	h.clock.Advance(5 * time.Second)
	assert.Equal(t, 115, h.runner.State().Questions[1].RemainingSeconds)

	require.NoError(t, h.runner.Previous())
	assert.Equal(t, internal_type.RecorderPaused, h.recorder.State().State)
	h.clock.Advance(10 * time.Second)
	st := h.runner.State()
	assert.Equal(t, 115, st.Questions[1].RemainingSeconds)
	assert.Equal(t, internal_type.QuestionAnswering, st.Questions[1].Status)
	assert.Equal(t, internal_type.QuestionCompleted, st.Questions[0].Status)

	require.NoError(t, h.runner.Goto(1))
	assert.Equal(t, internal_type.RecorderRecording, h.recorder.State().State)
	h.clock.Advance(time.Second)
	assert.Equal(t, 114, h.runner.State().Questions[1].RemainingSeconds)
}

func TestRunner_AudioAnswer(t *testing.T) {
	h := newHarness(t, twoQuestions())
	h.answerFirst(t, "hello")
	h.bridge.evaluate(t, "q1", internal_type.EvaluationResult{Score: 90, Passed: true})
	h.clock.Advance(750 * time.Millisecond)

	require.NoError(t, h.runner.BeginAnswering())
	h.recorder.emitChunk(internal_type.Chunk{Sequence: 0, Data: []byte{1, 2}})
	h.recorder.emitChunk(internal_type.Chunk{Sequence: 1, Data: []byte{3, 4}})
	require.Len(t, h.bridge.chunks, 2)
	assert.Equal(t, 1, h.bridge.chunks[1].Sequence)

	require.NoError(t, h.runner.Submit(context.Background()))
	assert.Equal(t, internal_type.RecorderStopped, h.recorder.State().State)

	answers := h.store.Answers("S")
	require.Len(t, answers, 2)
	assert.Equal(t, internal_type.AnswerAudio, answers[1].Kind)
	kind, data, ok := h.store.Media(answers[1].AudioRef)
	require.True(t, ok)
	assert.Equal(t, internal_type.MediaAudio, kind)
	assert.Equal(t, []byte("RIFF-answer"), data)

	starts := h.bridge.starts()
	require.Len(t, starts, 2)
	assert.Equal(t, internal_type.StreamAudio, starts[1].stream)
	assert.Equal(t, answers[1].AudioRef, starts[1].ref)
}

func TestRunner_RecorderErrorsReachErrorStream(t *testing.T) {
	h := newHarness(t, twoQuestions())
	h.recorder.fail(types.NewError(types.KindCaptureError, "recorder.capture", nil))
	errs := h.errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], types.ErrCaptureError)
	assert.Equal(t, internal_type.SessionNotStarted, h.runner.State().Session.Status)
}

func TestRunner_EndSummary(t *testing.T) {
	h := newHarness(t, twoQuestions())
	ctx := context.Background()
	require.NoError(t, h.runner.Start(ctx))
	require.NoError(t, h.runner.BeginAnswering())
	require.NoError(t, h.runner.UpdateDraft(internal_type.DraftFieldText, "hello"))
	h.clock.Advance(12 * time.Second)
	require.NoError(t, h.runner.Submit(ctx))
	h.bridge.evaluate(t, "q1", internal_type.EvaluationResult{Score: 80, Passed: true})
	h.clock.Advance(750 * time.Millisecond)
	require.NoError(t, h.runner.Skip(ctx, "ran out of ideas"))

	summary, err := h.runner.End(ctx, ReasonCompleted)
	require.NoError(t, err)
	assert.Equal(t, internal_type.SessionCompleted, summary.Status)
	assert.Equal(t, 1, summary.Answered)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Unanswered)
	assert.Equal(t, 12, summary.TotalTimeSpentSeconds)
	require.NotNil(t, summary.AverageScore)
	assert.Equal(t, 80.0, *summary.AverageScore)

	stored := h.store.Summary("S")
	require.NotNil(t, stored)
	assert.Equal(t, 1, stored.Answered)
	state, _ := h.store.SessionState("S")
	assert.Equal(t, internal_type.SessionCompleted, state.Status)
	snap, err := h.snapshots.LoadSnapshot(ctx, "S")
	require.NoError(t, err)
	assert.Nil(t, snap)

	end, ok := h.sender.last(internal_type.KindInterviewEnd).(lifecyclePayload)
	require.True(t, ok)
	assert.Equal(t, ReasonCompleted, end.Reason)

	again, err := h.runner.End(ctx, ReasonCancelled)
	require.NoError(t, err)
	assert.Equal(t, summary, again)
	assert.ErrorIs(t, h.runner.Next(), types.ErrInvalidState)
	assert.ErrorIs(t, h.runner.Resume(), types.ErrInvalidState)
}

func TestRunner_EndRetriesFailedFinalize(t *testing.T) {
	h := newHarness(t, twoQuestions())
	ctx := context.Background()
	require.NoError(t, h.runner.Start(ctx))

	h.store.FailNext(internal_persistence.OpFinalizeSubmission, types.NewError(types.KindServerError, internal_persistence.OpFinalizeSubmission, nil))
	summary, err := h.runner.End(ctx, ReasonTimeUp)
	assert.ErrorIs(t, err, types.ErrServerError)
	require.NotNil(t, summary)
	assert.Equal(t, 2, summary.Unanswered)
	assert.Nil(t, summary.AverageScore)
	assert.Equal(t, internal_type.SessionCompleted, h.runner.State().Session.Status)
	assert.Nil(t, h.store.Summary("S"))

	_, err = h.runner.End(ctx, ReasonTimeUp)
	require.NoError(t, err)
	assert.NotNil(t, h.store.Summary("S"))
}

func TestRunner_CancelDuringSubmit(t *testing.T) {
	h := newHarness(t, twoQuestions())
	ctx := context.Background()
	require.NoError(t, h.runner.Start(ctx))
	require.NoError(t, h.runner.BeginAnswering())
	require.NoError(t, h.runner.UpdateDraft(internal_type.DraftFieldText, "partial"))

	release := h.store.Hold(internal_persistence.OpSubmitAnswer)
	defer release()
	done := make(chan error, 1)
	go func() { done <- h.runner.Submit(ctx) }()
	require.Eventually(t, func() bool {
		return h.runner.State().Questions[0].Status == internal_type.QuestionSubmitting
	}, time.Second, time.Millisecond)

	summary, err := h.runner.End(ctx, ReasonCancelled)
	require.NoError(t, err)
	assert.Equal(t, internal_type.SessionCancelled, summary.Status)
	assert.Equal(t, 2, summary.Unanswered)
	assert.ErrorIs(t, <-done, types.ErrNetwork)

	st := h.runner.State()
	assert.Equal(t, internal_type.QuestionAnswering, st.Questions[0].Status)
	assert.Equal(t, "partial", st.Questions[0].Draft.Text)
	assert.Empty(t, h.store.Answers("S"))
}

func TestRunner_Release(t *testing.T) {
	h := newHarness(t, twoQuestions())
	require.NoError(t, h.runner.Start(context.Background()))
	require.NoError(t, h.runner.BeginAnswering())
	require.Equal(t, 2, h.recorder.subscribers())

	require.NoError(t, h.runner.Release())
	require.NoError(t, h.runner.Release())
	assert.Equal(t, 0, h.recorder.subscribers())

	h.clock.Advance(2 * time.Minute)
	assert.Empty(t, h.store.Answers("S"))
	assert.ErrorIs(t, h.runner.Pause(), types.ErrReleased)
	assert.ErrorIs(t, h.runner.Load(context.Background(), "S"), types.ErrReleased)
}

func TestRunner_ObserverPanicIsolated(t *testing.T) {
	h := newHarness(t, twoQuestions())
	h.runner.OnChange(func(internal_type.SessionSnapshot) { panic("boom") })
	require.NoError(t, h.runner.Start(context.Background()))
	assert.Equal(t, internal_type.SessionInProgress, h.runner.State().Session.Status)
	assert.NotEmpty(t, h.statusTrail(0))
}

func TestRunner_WithAnalysisBridge(t *testing.T) {
	logger, err := commons.NewApplicationLogger(commons.Level("error"))
	require.NoError(t, err)
	clock := utils.NewManualClock(epoch)
	transport := newFakeTransport()
	bridge := internal_analysis.NewBridge(logger, config.AnalysisConfig{EvaluationTimeoutMs: 60000, StartText: true}, transport)
	defer bridge.Close()
	store := internal_persistence.NewMemoryAdapter(logger, internal_persistence.WithMemoryClock(clock))
	require.NoError(t, store.Seed(twoQuestions()))

	runner := NewRunner(logger, testRunnerConfig(), config.AnalysisConfig{EvaluationTimeoutMs: 60000}, store,
		WithClock(clock), WithBridge(bridge), WithSender(transport))
	defer runner.Release()
	ctx := context.Background()
	require.NoError(t, runner.Load(ctx, "S"))
	require.NoError(t, runner.Start(ctx))
	require.NoError(t, runner.BeginAnswering())
	require.NoError(t, runner.UpdateDraft(internal_type.DraftFieldText, "hello"))
	require.NoError(t, runner.Submit(ctx))
	assert.Contains(t, transport.kinds(), internal_type.KindTextStart)

	transport.emit(t, internal_type.KindTextResult, map[string]interface{}{"question_id": "q1", "score": 90, "feedback": "clear"})
	st := runner.State()
	require.NotNil(t, st.Questions[0].Analysis)
	require.NotNil(t, st.Questions[0].Analysis.Text)
	assert.Equal(t, 90.0, st.Questions[0].Analysis.Text.Score)
	assert.Equal(t, internal_type.QuestionEvaluating, st.Questions[0].Status)

	transport.emit(t, internal_type.KindEvaluationComplete, map[string]interface{}{"question_id": "q1", "overall_score": 88})
	st = runner.State()
	assert.Equal(t, internal_type.QuestionCompleted, st.Questions[0].Status)
	require.NotNil(t, st.Questions[0].Evaluation)
	assert.Equal(t, 88.0, st.Questions[0].Evaluation.Score)
	assert.True(t, st.Questions[0].Evaluation.Passed)
	assert.Empty(t, bridge.Active())

	clock.Advance(750 * time.Millisecond)
	assert.Equal(t, 1, runner.State().Session.CurrentIndex)
}

func TestRunner_UnaddressedEvaluationOnlyFillsEvaluatingQuestion(t *testing.T) {
	logger, err := commons.NewApplicationLogger(commons.Level("error"))
	require.NoError(t, err)
	clock := utils.NewManualClock(epoch)
	transport := newFakeTransport()
	bridge := internal_analysis.NewBridge(logger, config.AnalysisConfig{EvaluationTimeoutMs: 60000, StartText: true}, transport)
	defer bridge.Close()
	store := internal_persistence.NewMemoryAdapter(logger, internal_persistence.WithMemoryClock(clock))
	require.NoError(t, store.Seed(twoQuestions()))

	runner := NewRunner(logger, testRunnerConfig(), config.AnalysisConfig{EvaluationTimeoutMs: 60000}, store,
		WithClock(clock), WithBridge(bridge), WithSender(transport))
	defer runner.Release()
	ctx := context.Background()
	require.NoError(t, runner.Load(ctx, "S"))
	require.NoError(t, runner.Start(ctx))
	require.NoError(t, runner.BeginAnswering())
	require.NoError(t, runner.UpdateDraft(internal_type.DraftFieldText, "hello"))
	require.NoError(t, runner.Submit(ctx))

	// q1 times out and the session moves on to q2
	clock.Advance(61 * time.Second)
	st := runner.State()
	require.Equal(t, 1, st.Session.CurrentIndex)
	require.True(t, st.Questions[0].Evaluation.Unavailable)
	require.NoError(t, runner.BeginAnswering())

	// q1's result arrives late, without a question id
	transport.emit(t, internal_type.KindEvaluationComplete, map[string]interface{}{"overall_score": 12, "passed": false})
	st = runner.State()
	assert.Equal(t, internal_type.QuestionAnswering, st.Questions[1].Status)
	assert.Nil(t, st.Questions[1].Evaluation)
	assert.True(t, st.Questions[0].Evaluation.Unavailable)

	require.NoError(t, runner.UpdateDraft(internal_type.DraftFieldText, "buckets"))
	require.NoError(t, runner.Submit(ctx))
	st = runner.State()
	assert.Equal(t, internal_type.QuestionEvaluating, st.Questions[1].Status)
	assert.Nil(t, st.Questions[1].Evaluation)

	transport.emit(t, internal_type.KindEvaluationComplete, map[string]interface{}{"overall_score": 91, "passed": true})
	st = runner.State()
	assert.Equal(t, internal_type.QuestionCompleted, st.Questions[1].Status)
	require.NotNil(t, st.Questions[1].Evaluation)
	assert.Equal(t, 91.0, st.Questions[1].Evaluation.Score)
	assert.True(t, st.Questions[1].Evaluation.Passed)
}

func TestRunner_TransportErrorsReachErrorStream(t *testing.T) {
	logger, err := commons.NewApplicationLogger(commons.Level("error"))
	require.NoError(t, err)
	clock := utils.NewManualClock(epoch)
	transport := newFakeTransport()
	store := internal_persistence.NewMemoryAdapter(logger, internal_persistence.WithMemoryClock(clock))
	require.NoError(t, store.Seed(twoQuestions()))

	runner := NewRunner(logger, testRunnerConfig(), config.AnalysisConfig{EvaluationTimeoutMs: 60000}, store,
		WithClock(clock), WithSender(transport), WithTransportErrors(transport))
	defer runner.Release()
	var errs []error
	runner.OnError(func(err error) { errs = append(errs, err) })

	transport.emit(t, internal_type.KindError, internal_type.ErrorPayload{Kind: "analysis-failed", Message: "model unavailable"})
	assert.Empty(t, errs)

	transport.emit(t, internal_type.KindError, internal_type.ErrorPayload{Kind: "reconnect-exhausted", Message: "gave up after 5 reconnect attempts"})
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], types.ErrReconnectExhausted)
	assert.Contains(t, errs[0].Error(), "gave up after 5 reconnect attempts")

	require.NoError(t, runner.Release())
	transport.emit(t, internal_type.KindError, internal_type.ErrorPayload{Kind: "parse-error", Message: "malformed inbound frame"})
	assert.Len(t, errs, 1)
}
