// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/interviewx/client/config"
	internal_type "github.com/interviewx/client/internal/type"
	"github.com/interviewx/client/pkg/commons"
	"github.com/interviewx/client/pkg/types"
	"github.com/interviewx/client/pkg/utils"
)

type Option func(*Runner)

func WithClock(clock utils.Clock) Option {
	return func(r *Runner) { r.clock = clock }
}

// WithRecorder lets the runner drive capture for questions that accept audio.
func WithRecorder(recorder internal_type.AudioRecorder) Option {
	return func(r *Runner) { r.recorder = recorder }
}

func WithBridge(bridge internal_type.AnalysisBridge) Option {
	return func(r *Runner) { r.bridge = bridge }
}

// WithSender publishes interview lifecycle frames.
func WithSender(sender internal_type.Sender) Option {
	return func(r *Runner) { r.sender = sender }
}

// WithTransportErrors forwards connection-level error events, such as
// reconnect-exhausted, to the runner's error stream.
func WithTransportErrors(events internal_type.Subscriber) Option {
	return func(r *Runner) { r.transportEvents = events }
}

func WithSnapshotStore(store internal_type.SnapshotStore) Option {
	return func(r *Runner) { r.snapshots = store }
}

type changeObserver struct {
	id int
	fn func(internal_type.SessionSnapshot)
}

type errorObserver struct {
	id int
	fn func(error)
}

// notification is queued under the lock and delivered by drain.
type notification struct {
	snapshot *internal_type.SessionSnapshot
	err      error
}

// Runner owns one interview session: its state machine, the per-question
// timer, submission and evaluation collection. All state lives behind mu;
// observers are notified in mutation order after the lock is released.
type Runner struct {
	logger      commons.Logger
	cfg         config.SessionRunnerConfig
	evalTimeout time.Duration
	persistence internal_type.Persistence
	recorder    internal_type.AudioRecorder
	bridge      internal_type.AnalysisBridge
	sender      internal_type.Sender
	snapshots   internal_type.SnapshotStore
	clock       utils.Clock

	transportEvents internal_type.Subscriber

	mu        sync.Mutex
	loaded    bool
	released  bool
	session   internal_type.Session
	questions []internal_type.QuestionRuntime
	answers   []internal_type.Answer

	// question timer of the current question while answering
	timer      utils.Timer
	timerGen   int
	lastTickAt time.Time
	remainder  time.Duration

	autoAdvance     utils.Timer
	autosave        utils.Timer
	evalTimers      map[int]utils.Timer
	earlyEvaluation map[int]*internal_type.EvaluationResult
	recordingFor    int
	submitSeq       int
	finalized       bool
	statusWritten   bool
	summaryWritten  bool
	summary         *internal_type.Summary
	inflight        map[int]context.CancelFunc
	nextInflightID  int

	nextObserverID  int
	changeObservers []changeObserver
	errorObservers  []errorObserver
	outbox          []notification
	draining        bool

	unsubs []internal_type.Unsubscribe
}

// NewRunner creates an unloaded runner. Call Load or Seed before Start.
func NewRunner(logger commons.Logger, cfg config.SessionRunnerConfig, analysis config.AnalysisConfig, persistence internal_type.Persistence, opts ...Option) *Runner {
	r := &Runner{
		logger:          logger,
		cfg:             cfg,
		evalTimeout:     analysis.EvaluationTimeout(),
		persistence:     persistence,
		clock:           utils.NewRealClock(),
		evalTimers:      make(map[int]utils.Timer),
		earlyEvaluation: make(map[int]*internal_type.EvaluationResult),
		inflight:        make(map[int]context.CancelFunc),
		recordingFor:    -1,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.recorder != nil {
		if r.bridge != nil {
			bridge := r.bridge
			r.unsubs = append(r.unsubs, r.recorder.OnChunk(func(c internal_type.Chunk) {
				if !bridge.ForwardChunk(c) {
					r.logger.Debugw("chunk not forwarded", "sequence", c.Sequence)
				}
			}))
		}
		r.unsubs = append(r.unsubs, r.recorder.OnError(func(err error) {
			r.mu.Lock()
			r.publishErrorLocked(err)
			r.mu.Unlock()
			r.drain()
		}))
	}
	if r.transportEvents != nil {
		r.unsubs = append(r.unsubs, r.transportEvents.Subscribe(internal_type.KindError, r.onTransportError))
	}
	return r
}

// onTransportError republishes transport failures on the error stream.
// Analysis errors are left to the bridge.
func (r *Runner) onTransportError(msg internal_type.Message) {
	var p internal_type.ErrorPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		r.logger.Warnw("malformed transport error event", "id", msg.ID, "error", err)
		return
	}
	kind := types.Kind(p.Kind)
	if !kind.TransportOrigin() {
		return
	}
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return
	}
	r.publishErrorLocked(types.Errorf(kind, "transport", "%s", p.Message))
	r.mu.Unlock()
	r.drain()
}

// Load fetches the descriptor through the persistence adapter and restores
// any local draft snapshot in parallel.
func (r *Runner) Load(ctx context.Context, sessionID string) error {
	const op = "session.load"
	if err := r.checkLoadable(op); err != nil {
		return err
	}
	var descriptor *internal_type.SessionDescriptor
	var snapshot *internal_type.DraftSnapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := r.persistence.GetSession(gctx, sessionID)
		descriptor = d
		return err
	})
	if r.snapshots != nil {
		g.Go(func() error {
			s, err := r.snapshots.LoadSnapshot(gctx, sessionID)
			if err != nil {
				r.logger.Warnw("ignoring unreadable draft snapshot", "session", sessionID, "error", err)
				return nil
			}
			snapshot = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if descriptor == nil {
		return types.Errorf(types.KindNotFound, op, "session %s", sessionID)
	}
	if err := descriptor.Validate(); err != nil {
		return types.NewError(types.KindValidation, op, err)
	}
	return r.install(op, *descriptor, snapshot)
}

// Seed initializes the runner from an in-memory descriptor.
func (r *Runner) Seed(descriptor internal_type.SessionDescriptor) error {
	const op = "session.seed"
	if err := r.checkLoadable(op); err != nil {
		return err
	}
	if err := descriptor.Validate(); err != nil {
		return types.NewError(types.KindValidation, op, err)
	}
	return r.install(op, descriptor, nil)
}

func (r *Runner) checkLoadable(op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return types.NewError(types.KindReleased, op, nil)
	}
	if r.loaded && !r.session.Status.Terminal() && r.session.Status != internal_type.SessionNotStarted {
		return types.Errorf(types.KindInvalidState, op, "session %s is %s", r.session.Descriptor.ID, r.session.Status)
	}
	return nil
}

func (r *Runner) install(op string, descriptor internal_type.SessionDescriptor, snapshot *internal_type.DraftSnapshot) error {
	r.mu.Lock()
	defer r.drain()
	defer r.mu.Unlock()
	if r.released {
		return types.NewError(types.KindReleased, op, nil)
	}
	r.stopAllTimersLocked()
	r.session = internal_type.Session{
		Descriptor: descriptor,
		Status:     internal_type.SessionNotStarted,
	}
	r.questions = make([]internal_type.QuestionRuntime, len(descriptor.Questions))
	for i, q := range descriptor.Questions {
		r.questions[i] = internal_type.QuestionRuntime{
			Status:           internal_type.QuestionReady,
			RemainingSeconds: q.TimeBudgetSeconds,
		}
		if snapshot != nil && snapshot.SessionID == descriptor.ID {
			if d, ok := snapshot.Drafts[q.ID]; ok {
				r.questions[i].Draft = d
			}
		}
	}
	r.answers = nil
	r.earlyEvaluation = make(map[int]*internal_type.EvaluationResult)
	r.recordingFor = -1
	r.submitSeq++
	r.finalized = false
	r.statusWritten, r.summaryWritten = false, false
	r.summary = nil
	r.loaded = true
	r.publishLocked()
	r.logger.Infow("session loaded", "session", descriptor.ID, "questions", len(descriptor.Questions))
	return nil
}

// Start moves a loaded session to in-progress with question 0 ready.
func (r *Runner) Start(ctx context.Context) error {
	const op = "session.start"
	r.mu.Lock()
	if err := r.requireLocked(op, internal_type.SessionNotStarted); err != nil {
		r.mu.Unlock()
		return err
	}
	now := r.clock.Now()
	r.session.Status = internal_type.SessionInProgress
	r.session.StartedAt = &now
	r.session.CurrentIndex = 0
	r.questions[0].Status = internal_type.QuestionReady
	sessionID := r.session.Descriptor.ID
	r.publishLocked()
	r.mu.Unlock()
	r.drain()

	r.send(internal_type.KindInterviewStart, lifecyclePayload{SessionID: sessionID, Timestamp: now.UnixMilli()})
	return nil
}

// requireLocked checks that the runner is usable and in one of statuses.
func (r *Runner) requireLocked(op string, statuses ...internal_type.SessionStatus) error {
	if r.released {
		return types.NewError(types.KindReleased, op, nil)
	}
	if !r.loaded {
		return types.Errorf(types.KindInvalidState, op, "no session loaded")
	}
	for _, s := range statuses {
		if r.session.Status == s {
			return nil
		}
	}
	return types.Errorf(types.KindInvalidState, op, "session is %s", r.session.Status)
}

func (r *Runner) currentLocked() (int, internal_type.Question, *internal_type.QuestionRuntime) {
	i := r.session.CurrentIndex
	return i, r.session.Descriptor.Questions[i], &r.questions[i]
}

// State returns a deep copy of the session, per-question runtimes and answers.
func (r *Runner) State() internal_type.SessionSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Runner) snapshotLocked() internal_type.SessionSnapshot {
	s := internal_type.SessionSnapshot{
		Session:   r.session,
		Questions: make([]internal_type.QuestionRuntime, len(r.questions)),
		Answers:   append([]internal_type.Answer(nil), r.answers...),
	}
	s.Session.Descriptor.Questions = append([]internal_type.Question(nil), r.session.Descriptor.Questions...)
	if r.session.StartedAt != nil {
		t := *r.session.StartedAt
		s.Session.StartedAt = &t
	}
	if r.session.EndedAt != nil {
		t := *r.session.EndedAt
		s.Session.EndedAt = &t
	}
	for i, q := range r.questions {
		cp := q
		if q.SubmittedAt != nil {
			t := *q.SubmittedAt
			cp.SubmittedAt = &t
		}
		if q.Evaluation != nil {
			ev := *q.Evaluation
			ev.KeywordCoverage = append([]string(nil), q.Evaluation.KeywordCoverage...)
			cp.Evaluation = &ev
		}
		cp.Analysis = q.Analysis.Clone()
		s.Questions[i] = cp
	}
	return s
}

// OnChange registers fn for every state transition.
func (r *Runner) OnChange(fn func(internal_type.SessionSnapshot)) internal_type.Unsubscribe {
	r.mu.Lock()
	r.nextObserverID++
	id := r.nextObserverID
	r.changeObservers = append(r.changeObservers, changeObserver{id: id, fn: fn})
	r.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for i := range r.changeObservers {
				if r.changeObservers[i].id == id {
					r.changeObservers = append(r.changeObservers[:i:i], r.changeObservers[i+1:]...)
					break
				}
			}
		})
	}
}

// OnError registers fn for errors raised outside of a caller's operation:
// recorder failures, auto-submit failures and evaluation timeouts.
func (r *Runner) OnError(fn func(error)) internal_type.Unsubscribe {
	r.mu.Lock()
	r.nextObserverID++
	id := r.nextObserverID
	r.errorObservers = append(r.errorObservers, errorObserver{id: id, fn: fn})
	r.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for i := range r.errorObservers {
				if r.errorObservers[i].id == id {
					r.errorObservers = append(r.errorObservers[:i:i], r.errorObservers[i+1:]...)
					break
				}
			}
		})
	}
}

func (r *Runner) publishLocked() {
	s := r.snapshotLocked()
	r.outbox = append(r.outbox, notification{snapshot: &s})
}

func (r *Runner) publishErrorLocked(err error) {
	r.outbox = append(r.outbox, notification{err: err})
}

// drain delivers queued notifications. Only one goroutine drains at a time,
// so observers see notifications in the order they were queued; a call made
// from inside an observer queues and returns.
func (r *Runner) drain() {
	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		return
	}
	r.draining = true
	for len(r.outbox) > 0 {
		batch := r.outbox
		r.outbox = nil
		changes := append([]changeObserver(nil), r.changeObservers...)
		errs := append([]errorObserver(nil), r.errorObservers...)
		r.mu.Unlock()
		for _, n := range batch {
			if n.snapshot != nil {
				for _, o := range changes {
					if err := utils.SafeCall(func() { o.fn(*n.snapshot) }); err != nil {
						r.logger.Errorw("session observer failed", "error", err)
					}
				}
				continue
			}
			for _, o := range errs {
				if err := utils.SafeCall(func() { o.fn(n.err) }); err != nil {
					r.logger.Errorw("session error observer failed", "error", err)
				}
			}
		}
		r.mu.Lock()
	}
	r.draining = false
	r.mu.Unlock()
}

func (r *Runner) send(kind internal_type.MessageKind, payload interface{}) {
	if r.sender == nil {
		return
	}
	if !r.sender.Send(kind, payload) {
		r.logger.Warnw("transport rejected frame", "kind", kind)
	}
}

// track derives a context that Release and a cancelling End abort.
func (r *Runner) track(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.nextInflightID++
	id := r.nextInflightID
	r.inflight[id] = cancel
	r.mu.Unlock()
	return ctx, func() {
		r.mu.Lock()
		delete(r.inflight, id)
		r.mu.Unlock()
		cancel()
	}
}

func (r *Runner) cancelInflightLocked() {
	for id, cancel := range r.inflight {
		cancel()
		delete(r.inflight, id)
	}
}

func (r *Runner) stopAllTimersLocked() {
	r.resetTimerLocked()
	stopTimer(&r.autoAdvance)
	stopTimer(&r.autosave)
	for i, t := range r.evalTimers {
		t.Stop()
		delete(r.evalTimers, i)
	}
}

func stopTimer(t *utils.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
