// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_analysis

import (
	"sync"

	"github.com/interviewx/client/config"
	internal_type "github.com/interviewx/client/internal/type"
	"github.com/interviewx/client/pkg/commons"
	"github.com/interviewx/client/pkg/utils"
)

var startKinds = map[internal_type.AnalysisStream]internal_type.MessageKind{
	internal_type.StreamFacial: internal_type.KindFacialStart,
	internal_type.StreamAudio:  internal_type.KindAudioStart,
	internal_type.StreamText:   internal_type.KindTextStart,
}

var progressKinds = map[internal_type.MessageKind]internal_type.AnalysisStream{
	internal_type.KindFacialProgress: internal_type.StreamFacial,
	internal_type.KindAudioProgress:  internal_type.StreamAudio,
	internal_type.KindTextProgress:   internal_type.StreamText,
}

// questionSlot accumulates everything received for one question.
type questionSlot struct {
	question internal_type.Question
	result   *internal_type.AnalysisResult
	update   func(internal_type.QuestionUpdate)
}

// notice is an update computed under the lock and delivered after it.
type notice struct {
	update func(internal_type.QuestionUpdate)
	value  internal_type.QuestionUpdate
}

type Bridge struct {
	logger    commons.Logger
	cfg       config.AnalysisConfig
	transport internal_type.Transport

	mu        sync.Mutex
	sessionID string
	active    string
	slots     map[string]*questionSlot
	unsubs    []internal_type.Unsubscribe
}

// NewBridge subscribes to every inbound analysis kind on transport. Events
// are merged into the slot of the question they name, or the active
// question when they name none.
func NewBridge(logger commons.Logger, cfg config.AnalysisConfig, transport internal_type.Transport) *Bridge {
	b := &Bridge{
		logger:    logger,
		cfg:       cfg,
		transport: transport,
		slots:     make(map[string]*questionSlot),
	}
	for kind := range progressKinds {
		b.unsubs = append(b.unsubs, transport.Subscribe(kind, b.onProgress))
	}
	b.unsubs = append(b.unsubs,
		transport.Subscribe(internal_type.KindFacialResult, b.onFacialResult),
		transport.Subscribe(internal_type.KindAudioResult, b.onAudioResult),
		transport.Subscribe(internal_type.KindTextResult, b.onTextResult),
		transport.Subscribe(internal_type.KindEvaluationComplete, b.onEvaluation),
		transport.Subscribe(internal_type.KindError, b.onError),
	)
	return b
}

// Begin opens the slot for question and makes it the routing target for
// events that carry no question id.
func (b *Bridge) Begin(sessionID string, question internal_type.Question, update func(internal_type.QuestionUpdate)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessionID = sessionID
	slot, ok := b.slots[question.ID]
	if !ok {
		slot = &questionSlot{
			question: question,
			result:   newAnalysisResult(question.ID),
		}
		b.slots[question.ID] = slot
	}
	slot.update = update
	b.active = question.ID
	b.logger.Debugf("analysis bridge routing to question %s", question.ID)
}

func newAnalysisResult(questionID string) *internal_type.AnalysisResult {
	return &internal_type.AnalysisResult{
		QuestionID:     questionID,
		Progress:       make(map[internal_type.AnalysisStream]float64),
		ArtifactRefs:   make(map[internal_type.AnalysisStream]string),
		EventCount:     make(map[internal_type.MessageKind]int),
		StartedStreams: make(map[internal_type.AnalysisStream]interface{}),
	}
}

// ForwardChunk sends one recorder chunk for the active question. It reports
// false when no question is active or the transport rejected the frame.
func (b *Bridge) ForwardChunk(chunk internal_type.Chunk) bool {
	b.mu.Lock()
	questionID := b.active
	sessionID := b.sessionID
	b.mu.Unlock()
	if questionID == "" {
		return false
	}
	return b.transport.Send(internal_type.KindAudioChunk, chunkPayload{
		SessionID:     sessionID,
		QuestionID:    questionID,
		Sequence:      chunk.Sequence,
		Segment:       chunk.Segment,
		Encoding:      chunk.Encoding,
		Data:          chunk.Data,
		Timestamp:     chunk.Timestamp.UnixMilli(),
		Discontinuity: chunk.Discontinuity,
	})
}

// StartAnalysis issues the start command for one stream of the active
// question, unless that stream is disabled by configuration.
func (b *Bridge) StartAnalysis(stream internal_type.AnalysisStream, artifactRef string, options map[string]interface{}) bool {
	kind, ok := startKinds[stream]
	if !ok || !b.enabled(stream) {
		return false
	}
	b.mu.Lock()
	slot := b.slots[b.active]
	if slot == nil {
		b.mu.Unlock()
		b.logger.Warnw("analysis start without an active question", "stream", stream)
		return false
	}
	slot.result.ArtifactRefs[stream] = artifactRef
	slot.result.StartedStreams[stream] = options
	questionID := slot.question.ID
	b.mu.Unlock()

	return b.transport.Send(kind, startPayload{
		QuestionID:  questionID,
		ArtifactRef: artifactRef,
		Options:     options,
	})
}

func (b *Bridge) enabled(stream internal_type.AnalysisStream) bool {
	switch stream {
	case internal_type.StreamFacial:
		return b.cfg.StartFacial
	case internal_type.StreamAudio:
		return b.cfg.StartAudio
	case internal_type.StreamText:
		return b.cfg.StartText
	}
	return false
}

// Finish drops the slot of questionID. Later events naming it are ignored.
func (b *Bridge) Finish(questionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.slots, questionID)
	if b.active == questionID {
		b.active = ""
	}
}

func (b *Bridge) Active() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Result returns a copy of what has been merged so far for questionID.
func (b *Bridge) Result(questionID string) *internal_type.AnalysisResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	if slot, ok := b.slots[questionID]; ok {
		return slot.result.Clone()
	}
	return nil
}

// Close unsubscribes from the transport.
func (b *Bridge) Close() {
	b.mu.Lock()
	unsubs := b.unsubs
	b.unsubs = nil
	b.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

// merge routes msg to a slot, applies fn to it and notifies the slot owner.
func (b *Bridge) merge(msg internal_type.Message, questionID string, fn func(*internal_type.AnalysisResult) *internal_type.EvaluationResult) {
	b.mu.Lock()
	target := questionID
	if target == "" {
		target = b.active
	}
	slot := b.slots[target]
	if slot == nil {
		b.mu.Unlock()
		b.logger.Debugw("analysis event without a matching question", "kind", msg.Kind, "question", questionID)
		return
	}
	slot.result.EventCount[msg.Kind]++
	evaluation := fn(slot.result)
	n := notice{
		update: slot.update,
		value: internal_type.QuestionUpdate{
			QuestionID: slot.question.ID,
			Addressed:  questionID != "",
			Analysis:   slot.result.Clone(),
			Evaluation: evaluation,
		},
	}
	b.mu.Unlock()

	if n.update == nil {
		return
	}
	if err := utils.SafeCall(func() { n.update(n.value) }); err != nil {
		b.logger.Errorw("question update callback failed", "question", n.value.QuestionID, "error", err)
	}
}

var _ internal_type.AnalysisBridge = (*Bridge)(nil)
