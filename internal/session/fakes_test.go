package internal_session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/interviewx/client/config"
	internal_persistence "github.com/interviewx/client/internal/persistence"
	internal_type "github.com/interviewx/client/internal/type"
	"github.com/interviewx/client/pkg/commons"
	"github.com/interviewx/client/pkg/storages"
	"github.com/interviewx/client/pkg/types"
	"github.com/interviewx/client/pkg/utils"
)

type startCall struct {
	stream  internal_type.AnalysisStream
	ref     string
	options map[string]interface{}
}

type fakeBridge struct {
	mu       sync.Mutex
	updates  map[string]func(internal_type.QuestionUpdate)
	active   string
	started  []startCall
	finished []string
	chunks   []internal_type.Chunk
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{updates: map[string]func(internal_type.QuestionUpdate){}}
}

func (b *fakeBridge) Begin(_ string, q internal_type.Question, update func(internal_type.QuestionUpdate)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates[q.ID] = update
	b.active = q.ID
}

func (b *fakeBridge) ForwardChunk(c internal_type.Chunk) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active == "" {
		return false
	}
	b.chunks = append(b.chunks, c)
	return true
}

func (b *fakeBridge) StartAnalysis(stream internal_type.AnalysisStream, ref string, options map[string]interface{}) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = append(b.started, startCall{stream: stream, ref: ref, options: options})
	return true
}

func (b *fakeBridge) Finish(questionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finished = append(b.finished, questionID)
	if b.active == questionID {
		b.active = ""
	}
}

func (b *fakeBridge) Active() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *fakeBridge) evaluate(t *testing.T, questionID string, ev internal_type.EvaluationResult) {
	t.Helper()
	b.mu.Lock()
	update := b.updates[questionID]
	b.mu.Unlock()
	require.NotNil(t, update, "question %s never began", questionID)
	update(internal_type.QuestionUpdate{QuestionID: questionID, Addressed: true, Evaluation: &ev})
}

func (b *fakeBridge) starts() []startCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]startCall(nil), b.started...)
}

type sentFrame struct {
	kind    internal_type.MessageKind
	payload interface{}
}

type fakeSender struct {
	mu     sync.Mutex
	frames []sentFrame
}

func (s *fakeSender) Send(kind internal_type.MessageKind, payload interface{}, _ ...internal_type.SendOption) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, sentFrame{kind: kind, payload: payload})
	return true
}

func (s *fakeSender) kinds() []internal_type.MessageKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]internal_type.MessageKind, 0, len(s.frames))
	for _, f := range s.frames {
		out = append(out, f.kind)
	}
	return out
}

func (s *fakeSender) last(kind internal_type.MessageKind) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.frames) - 1; i >= 0; i-- {
		if s.frames[i].kind == kind {
			return s.frames[i].payload
		}
	}
	return nil
}

// fakeTransport is a Sender that can also deliver inbound frames.
type fakeTransport struct {
	fakeSender
	handlers map[internal_type.MessageKind][]internal_type.Handler
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: map[internal_type.MessageKind][]internal_type.Handler{}}
}

func (f *fakeTransport) Subscribe(kind internal_type.MessageKind, h internal_type.Handler) internal_type.Unsubscribe {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[kind] = append(f.handlers[kind], h)
	return func() {}
}

func (f *fakeTransport) State() internal_type.TransportState {
	return internal_type.TransportState{Connection: internal_type.ConnectionConnected}
}

func (f *fakeTransport) emit(t *testing.T, kind internal_type.MessageKind, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	f.mu.Lock()
	handlers := append([]internal_type.Handler(nil), f.handlers[kind]...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(internal_type.Message{Kind: kind, Payload: raw, ID: "m"})
	}
}

type fakeRecorder struct {
	mu       sync.Mutex
	state    internal_type.RecorderState
	artifact *internal_type.Artifact
	nextID   int
	chunkFns map[int]func(internal_type.Chunk)
	errorFns map[int]func(error)
	calls    []string
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		state:    internal_type.RecorderIdle,
		chunkFns: map[int]func(internal_type.Chunk){},
		errorFns: map[int]func(error){},
	}
}

func (f *fakeRecorder) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeRecorder) EnumerateDevices(context.Context) ([]internal_type.Device, error) {
	return []internal_type.Device{{ID: "mic", Label: "Mic"}}, nil
}

func (f *fakeRecorder) RequestPermission(context.Context) (internal_type.PermissionResult, error) {
	return internal_type.PermissionResult{State: internal_type.PermissionGranted, SelectedDeviceID: "mic"}, nil
}

func (f *fakeRecorder) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("start")
	if f.state != internal_type.RecorderIdle {
		return types.Errorf(types.KindInvalidState, "recorder.start", "recorder is %s", f.state)
	}
	f.state = internal_type.RecorderRecording
	return nil
}

func (f *fakeRecorder) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("pause")
	if f.state != internal_type.RecorderRecording {
		return types.Errorf(types.KindInvalidState, "recorder.pause", "recorder is %s", f.state)
	}
	f.state = internal_type.RecorderPaused
	return nil
}

func (f *fakeRecorder) Resume() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("resume")
	if f.state != internal_type.RecorderPaused {
		return types.Errorf(types.KindInvalidState, "recorder.resume", "recorder is %s", f.state)
	}
	f.state = internal_type.RecorderRecording
	return nil
}

func (f *fakeRecorder) Stop(context.Context) (*internal_type.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stop")
	switch f.state {
	case internal_type.RecorderStopped:
		return f.artifact, nil
	case internal_type.RecorderRecording, internal_type.RecorderPaused:
		f.state = internal_type.RecorderStopped
		f.artifact = &internal_type.Artifact{MimeType: "audio/wav", Data: []byte("RIFF-answer"), ChunkCount: 1}
		return f.artifact, nil
	}
	return nil, types.Errorf(types.KindInvalidState, "recorder.stop", "recorder is %s", f.state)
}

func (f *fakeRecorder) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("clear")
	f.state = internal_type.RecorderIdle
	f.artifact = nil
	return nil
}

func (f *fakeRecorder) SwitchDevice(context.Context, string) error { return nil }
func (f *fakeRecorder) Play(context.Context) error                 { return nil }
func (f *fakeRecorder) StopPlayback() error                        { return nil }

func (f *fakeRecorder) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = internal_type.RecorderReleased
	return nil
}

func (f *fakeRecorder) Chunks() <-chan internal_type.Chunk {
	ch := make(chan internal_type.Chunk)
	close(ch)
	return ch
}

func (f *fakeRecorder) OnChunk(fn func(internal_type.Chunk)) internal_type.Unsubscribe {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.chunkFns[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.chunkFns, id)
	}
}

func (f *fakeRecorder) OnError(fn func(error)) internal_type.Unsubscribe {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.errorFns[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.errorFns, id)
	}
}

func (f *fakeRecorder) State() internal_type.RecordingState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return internal_type.RecordingState{
		Permission:  internal_type.PermissionGranted,
		State:       f.state,
		HasArtifact: f.artifact != nil,
	}
}

func (f *fakeRecorder) emitChunk(c internal_type.Chunk) {
	f.mu.Lock()
	fns := make([]func(internal_type.Chunk), 0, len(f.chunkFns))
	for _, fn := range f.chunkFns {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

func (f *fakeRecorder) fail(err error) {
	f.mu.Lock()
	fns := make([]func(error), 0, len(f.errorFns))
	for _, fn := range f.errorFns {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (f *fakeRecorder) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunkFns) + len(f.errorFns)
}

var epoch = time.Unix(1700000000, 0)

func twoQuestions() internal_type.SessionDescriptor {
	return internal_type.SessionDescriptor{
		ID: "S",
		Questions: []internal_type.Question{
			{ID: "q1", Prompt: "Introduce yourself", Kind: internal_type.QuestionIntroduction, TimeBudgetSeconds: 60, AcceptsText: true},
			{ID: "q2", Prompt: "Explain a hash map", Kind: internal_type.QuestionTechnical, TimeBudgetSeconds: 120, AcceptsText: true, AcceptsAudio: true},
		},
	}
}

func threeQuestions() internal_type.SessionDescriptor {
	d := twoQuestions()
	d.Questions = append(d.Questions, internal_type.Question{
		ID: "q3", Prompt: "Design a rate limiter", Kind: internal_type.QuestionSystemDesign, TimeBudgetSeconds: 300, AcceptsText: true,
	})
	return d
}

func testRunnerConfig() config.SessionRunnerConfig {
	return config.SessionRunnerConfig{
		AutoSave:           true,
		AutoSaveDebounceMs: 5000,
		AutoAdvanceMs:      750,
		MaxTextLength:      20,
	}
}

type harness struct {
	clock     *utils.ManualClock
	store     *internal_persistence.MemoryAdapter
	snapshots internal_type.SnapshotStore
	bridge    *fakeBridge
	sender    *fakeSender
	recorder  *fakeRecorder
	runner    *Runner

	mu      sync.Mutex
	changes []internal_type.SessionSnapshot
	errs    []error
}

func newHarness(t *testing.T, desc internal_type.SessionDescriptor, tweak ...func(*config.SessionRunnerConfig)) *harness {
	t.Helper()
	logger, err := commons.NewApplicationLogger(commons.Level("error"))
	require.NoError(t, err)
	cfg := testRunnerConfig()
	for _, fn := range tweak {
		fn(&cfg)
	}
	h := &harness{
		clock:     utils.NewManualClock(epoch),
		snapshots: internal_persistence.NewSnapshotStore(storages.NewMemoryStorage()),
		bridge:    newFakeBridge(),
		sender:    &fakeSender{},
		recorder:  newFakeRecorder(),
	}
	h.store = internal_persistence.NewMemoryAdapter(logger, internal_persistence.WithMemoryClock(h.clock))
	require.NoError(t, h.store.Seed(desc))
	h.runner = NewRunner(logger, cfg, config.AnalysisConfig{EvaluationTimeoutMs: 60000}, h.store,
		WithClock(h.clock),
		WithRecorder(h.recorder),
		WithBridge(h.bridge),
		WithSender(h.sender),
		WithSnapshotStore(h.snapshots),
	)
	require.NoError(t, h.runner.Load(context.Background(), desc.ID))
	h.runner.OnChange(func(s internal_type.SessionSnapshot) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.changes = append(h.changes, s)
	})
	h.runner.OnError(func(err error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.errs = append(h.errs, err)
	})
	t.Cleanup(func() { _ = h.runner.Release() })
	return h
}

// statusTrail lists the distinct consecutive statuses question index went
// through, as seen by change observers.
func (h *harness) statusTrail(index int) []internal_type.QuestionStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []internal_type.QuestionStatus
	for _, s := range h.changes {
		st := s.Questions[index].Status
		if len(out) == 0 || out[len(out)-1] != st {
			out = append(out, st)
		}
	}
	return out
}

func (h *harness) errors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errs...)
}

// answerFirst starts the session and submits text for question 0.
func (h *harness) answerFirst(t *testing.T, text string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.runner.Start(ctx))
	require.NoError(t, h.runner.BeginAnswering())
	require.NoError(t, h.runner.UpdateDraft(internal_type.DraftFieldText, text))
	require.NoError(t, h.runner.Submit(ctx))
}
