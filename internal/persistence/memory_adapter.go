// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_persistence

import (
	"context"
	"sync"

	"github.com/google/uuid"

	internal_type "github.com/interviewx/client/internal/type"
	"github.com/interviewx/client/pkg/commons"
	"github.com/interviewx/client/pkg/types"
	"github.com/interviewx/client/pkg/utils"
)

// Operation names accepted by FailNext and Hold.
const (
	OpGetSession         = "get-session"
	OpUpdateSession      = "update-session"
	OpSubmitAnswer       = "submit-answer"
	OpUploadMedia        = "upload-media"
	OpSaveDraft          = "save-draft"
	OpFinalizeSubmission = "finalize-submission"
)

type memorySession struct {
	descriptor internal_type.SessionDescriptor
	update     internal_type.SessionUpdate
	answers    []internal_type.Answer
	drafts     map[string]internal_type.Draft
	summary    *internal_type.Summary
}

type storedMedia struct {
	kind internal_type.MediaKind
	data []byte
}

// MemoryAdapter is the in-process Persistence implementation. It backs the
// offline client mode and the development backend, and lets tests inject
// failures or hold an operation open.
type MemoryAdapter struct {
	logger commons.Logger
	clock  utils.Clock

	mu       sync.Mutex
	sessions map[string]*memorySession
	media    map[string]storedMedia
	failures map[string][]error
	holds    map[string]chan struct{}
}

type MemoryOption func(*MemoryAdapter)

func WithMemoryClock(clock utils.Clock) MemoryOption {
	return func(m *MemoryAdapter) { m.clock = clock }
}

func NewMemoryAdapter(logger commons.Logger, opts ...MemoryOption) *MemoryAdapter {
	m := &MemoryAdapter{
		logger:   logger,
		clock:    utils.NewRealClock(),
		sessions: make(map[string]*memorySession),
		media:    make(map[string]storedMedia),
		failures: make(map[string][]error),
		holds:    make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Seed registers descriptor, replacing any session with the same id.
func (m *MemoryAdapter) Seed(descriptor internal_type.SessionDescriptor) error {
	if err := descriptor.Validate(); err != nil {
		return types.NewError(types.KindValidation, "memory.seed", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[descriptor.ID] = &memorySession{
		descriptor: descriptor,
		update:     internal_type.SessionUpdate{Status: internal_type.SessionNotStarted},
		drafts:     make(map[string]internal_type.Draft),
	}
	return nil
}

// FailNext makes the next call of op return err.
func (m *MemoryAdapter) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], err)
}

// Hold blocks every call of op until the returned release func runs or the
// caller's context ends.
func (m *MemoryAdapter) Hold(op string) (release func()) {
	ch := make(chan struct{})
	m.mu.Lock()
	m.holds[op] = ch
	m.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.holds[op] == ch {
				delete(m.holds, op)
			}
			m.mu.Unlock()
			close(ch)
		})
	}
}

// enter applies holds and injected failures for op.
func (m *MemoryAdapter) enter(ctx context.Context, op string) error {
	m.mu.Lock()
	hold := m.holds[op]
	m.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return types.NewError(types.KindNetwork, op, ctx.Err())
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if queued := m.failures[op]; len(queued) > 0 {
		m.failures[op] = queued[1:]
		return queued[0]
	}
	return nil
}

func (m *MemoryAdapter) sessionLocked(op, sessionID string) (*memorySession, error) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, types.Errorf(types.KindNotFound, op, "session %s", sessionID)
	}
	return s, nil
}

func (m *MemoryAdapter) GetSession(ctx context.Context, sessionID string) (*internal_type.SessionDescriptor, error) {
	if err := m.enter(ctx, OpGetSession); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.sessionLocked(OpGetSession, sessionID)
	if err != nil {
		return nil, err
	}
	descriptor := s.descriptor
	descriptor.Questions = append([]internal_type.Question(nil), s.descriptor.Questions...)
	return &descriptor, nil
}

func (m *MemoryAdapter) UpdateSession(ctx context.Context, sessionID string, update internal_type.SessionUpdate) error {
	if err := m.enter(ctx, OpUpdateSession); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.sessionLocked(OpUpdateSession, sessionID)
	if err != nil {
		return err
	}
	if s.update.Status.Terminal() && update.Status != s.update.Status {
		return types.Errorf(types.KindConflict, OpUpdateSession, "session %s already %s", sessionID, s.update.Status)
	}
	s.update = update
	return nil
}

func (m *MemoryAdapter) SubmitAnswer(ctx context.Context, sessionID string, answer internal_type.Answer) (*internal_type.SubmitReceipt, error) {
	if err := m.enter(ctx, OpSubmitAnswer); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.sessionLocked(OpSubmitAnswer, sessionID)
	if err != nil {
		return nil, err
	}
	known := false
	for _, q := range s.descriptor.Questions {
		if q.ID == answer.QuestionID {
			known = true
			break
		}
	}
	if !known {
		return nil, types.Errorf(types.KindValidation, OpSubmitAnswer, "unknown question %s", answer.QuestionID)
	}
	for _, a := range s.answers {
		if a.QuestionID == answer.QuestionID {
			return nil, types.Errorf(types.KindConflict, OpSubmitAnswer, "question %s already answered", answer.QuestionID)
		}
	}
	s.answers = append(s.answers, answer)
	delete(s.drafts, answer.QuestionID)
	m.logger.Debugf("stored answer for %s/%s (%s)", sessionID, answer.QuestionID, answer.Kind)
	return &internal_type.SubmitReceipt{AnswerID: uuid.NewString(), AcceptedAt: m.clock.Now()}, nil
}

func (m *MemoryAdapter) UploadMedia(ctx context.Context, kind internal_type.MediaKind, blob []byte) (*internal_type.ArtifactRef, error) {
	if err := m.enter(ctx, OpUploadMedia); err != nil {
		return nil, err
	}
	if len(blob) == 0 {
		return nil, types.Errorf(types.KindValidation, OpUploadMedia, "empty %s upload", kind)
	}
	ref := string(kind) + "-" + uuid.NewString()
	m.mu.Lock()
	m.media[ref] = storedMedia{kind: kind, data: append([]byte(nil), blob...)}
	m.mu.Unlock()
	return &internal_type.ArtifactRef{Ref: ref}, nil
}

func (m *MemoryAdapter) SaveDraft(ctx context.Context, sessionID, questionID string, draft internal_type.Draft) error {
	if err := m.enter(ctx, OpSaveDraft); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.sessionLocked(OpSaveDraft, sessionID)
	if err != nil {
		return err
	}
	s.drafts[questionID] = draft
	return nil
}

func (m *MemoryAdapter) FinalizeSubmission(ctx context.Context, sessionID string, summary internal_type.Summary) error {
	if err := m.enter(ctx, OpFinalizeSubmission); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.sessionLocked(OpFinalizeSubmission, sessionID)
	if err != nil {
		return err
	}
	if s.summary != nil {
		return types.Errorf(types.KindConflict, OpFinalizeSubmission, "session %s already submitted", sessionID)
	}
	s.summary = &summary
	s.update.Status = summary.Status
	return nil
}

// Answers returns the answers stored for sessionID in submission order.
func (m *MemoryAdapter) Answers(sessionID string) []internal_type.Answer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		return append([]internal_type.Answer(nil), s.answers...)
	}
	return nil
}

func (m *MemoryAdapter) Draft(sessionID, questionID string) (internal_type.Draft, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		d, found := s.drafts[questionID]
		return d, found
	}
	return internal_type.Draft{}, false
}

func (m *MemoryAdapter) Summary(sessionID string) *internal_type.Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok && s.summary != nil {
		summary := *s.summary
		return &summary
	}
	return nil
}

func (m *MemoryAdapter) SessionState(sessionID string) (internal_type.SessionUpdate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		return s.update, true
	}
	return internal_type.SessionUpdate{}, false
}

func (m *MemoryAdapter) Media(ref string) (internal_type.MediaKind, []byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	media, ok := m.media[ref]
	return media.kind, media.data, ok
}

var _ internal_type.Persistence = (*MemoryAdapter)(nil)
