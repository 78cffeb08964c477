// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_session

import (
	"context"
	"fmt"
	"unicode/utf8"

	internal_type "github.com/interviewx/client/internal/type"
	"github.com/interviewx/client/pkg/types"
)

// BeginAnswering moves the current question from ready to answering, starts
// its timer, starts capture when the question accepts audio and opens its
// analysis slot.
func (r *Runner) BeginAnswering() error {
	const op = "session.begin-answering"
	r.mu.Lock()
	if err := r.requireLocked(op, internal_type.SessionInProgress); err != nil {
		r.mu.Unlock()
		return err
	}
	index, q, rt := r.currentLocked()
	if rt.Status != internal_type.QuestionReady {
		r.mu.Unlock()
		return types.Errorf(types.KindInvalidState, op, "question %s is %s", q.ID, rt.Status)
	}
	rt.Status = internal_type.QuestionAnswering
	r.remainder = 0
	r.armTimerLocked()
	sessionID := r.session.Descriptor.ID
	if q.AcceptsAudio && r.recorder != nil {
		r.recordingFor = index
	}
	r.publishLocked()
	r.mu.Unlock()

	if r.bridge != nil {
		r.bridge.Begin(sessionID, q, r.questionUpdater(index))
	}
	if q.AcceptsAudio && r.recorder != nil {
		r.startCapture(q.ID)
	}
	r.drain()
	return nil
}

// startCapture starts the recorder for a question. Recorder failures are
// reported on the error stream and never fail the session.
func (r *Runner) startCapture(questionID string) {
	if st := r.recorder.State(); st.State == internal_type.RecorderStopped {
		if err := r.recorder.Clear(); err != nil {
			r.logger.Warnw("unable to clear previous recording", "error", err)
		}
	}
	if err := r.recorder.Start(); err != nil {
		r.logger.Warnw("recording not started", "question", questionID, "error", err)
		r.mu.Lock()
		r.publishErrorLocked(err)
		r.mu.Unlock()
	}
}

// UpdateDraft merges value into the active draft. text takes a string;
// audio and video take an artifact reference string or a raw []byte blob
// uploaded on submit.
func (r *Runner) UpdateDraft(field string, value interface{}) error {
	const op = "session.update-draft"
	r.mu.Lock()
	defer r.drain()
	defer r.mu.Unlock()
	if err := r.requireLocked(op, internal_type.SessionInProgress); err != nil {
		return err
	}
	_, q, rt := r.currentLocked()
	if rt.Status != internal_type.QuestionAnswering {
		return types.Errorf(types.KindInvalidState, op, "question %s is %s", q.ID, rt.Status)
	}
	draft := rt.Draft
	switch field {
	case internal_type.DraftFieldText:
		text, ok := value.(string)
		if !ok {
			return types.Errorf(types.KindValidation, op, "text must be a string, got %T", value)
		}
		if n := utf8.RuneCountInString(text); r.cfg.MaxTextLength > 0 && n > r.cfg.MaxTextLength {
			return types.Errorf(types.KindValidation, op, "text is %d characters, limit is %d", n, r.cfg.MaxTextLength)
		}
		draft.Text = text
	case internal_type.DraftFieldAudio:
		switch v := value.(type) {
		case string:
			draft.AudioRef, draft.Audio = v, nil
		case []byte:
			draft.AudioRef, draft.Audio = "", append([]byte(nil), v...)
		default:
			return types.Errorf(types.KindValidation, op, "audio must be a reference or bytes, got %T", value)
		}
	case internal_type.DraftFieldVideo:
		switch v := value.(type) {
		case string:
			draft.VideoRef, draft.Video = v, nil
		case []byte:
			draft.VideoRef, draft.Video = "", append([]byte(nil), v...)
		default:
			return types.Errorf(types.KindValidation, op, "video must be a reference or bytes, got %T", value)
		}
	default:
		return types.Errorf(types.KindValidation, op, "unknown draft field %q", field)
	}
	draft.UpdatedAtMs = r.clock.Now().UnixMilli()
	rt.Draft = draft
	r.scheduleAutosaveLocked()
	r.publishLocked()
	return nil
}

// Submit hands the current answer to the persistence adapter. At most one
// submit per question is in flight; on failure the question returns to
// answering with its draft intact.
func (r *Runner) Submit(ctx context.Context) error {
	const op = "session.submit"
	r.mu.Lock()
	if err := r.requireLocked(op, internal_type.SessionInProgress); err != nil {
		r.mu.Unlock()
		return err
	}
	index, q, rt := r.currentLocked()
	switch rt.Status {
	case internal_type.QuestionAnswering:
	case internal_type.QuestionSubmitting:
		r.mu.Unlock()
		return types.Errorf(types.KindSubmitInFlight, op, "question %s", q.ID)
	default:
		r.mu.Unlock()
		return types.Errorf(types.KindInvalidState, op, "question %s is %s", q.ID, rt.Status)
	}
	rt.Status = internal_type.QuestionSubmitting
	r.resetTimerLocked()
	stopTimer(&r.autosave)
	r.submitSeq++
	seq := r.submitSeq
	draft := rt.Draft
	timeSpent := q.TimeBudgetSeconds - rt.RemainingSeconds
	sessionID := r.session.Descriptor.ID
	capture := r.recordingFor == index && r.recorder != nil
	r.publishLocked()
	r.mu.Unlock()
	r.drain()

	ctx, done := r.track(ctx)
	defer done()

	answer, receipt, err := r.deliver(ctx, sessionID, q, draft, timeSpent, capture)
	if err != nil {
		r.mu.Lock()
		stale := seq != r.submitSeq || r.released
		if !stale && r.questions[index].Status == internal_type.QuestionSubmitting {
			rt := &r.questions[index]
			rt.Status = internal_type.QuestionAnswering
			// keep whatever was uploaded so a retry does not upload again
			if answer.AudioRef != "" {
				rt.Draft.AudioRef, rt.Draft.Audio = answer.AudioRef, nil
			}
			if answer.VideoRef != "" {
				rt.Draft.VideoRef, rt.Draft.Video = answer.VideoRef, nil
			}
			if rt.RemainingSeconds > 0 && r.session.CurrentIndex == index && r.session.Status == internal_type.SessionInProgress {
				r.armTimerLocked()
			}
			r.publishLocked()
		}
		r.mu.Unlock()
		r.drain()
		r.logger.Warnw("submit failed", "question", q.ID, "error", err)
		return err
	}

	r.mu.Lock()
	if seq != r.submitSeq || r.released || r.questions[index].Status != internal_type.QuestionSubmitting {
		r.mu.Unlock()
		r.logger.Warnw("submit acknowledged after the question moved on", "question", q.ID)
		return nil
	}
	rt = &r.questions[index]
	submittedAt := answer.SubmittedAt
	rt.SubmittedAt = &submittedAt
	rt.Draft.AudioRef, rt.Draft.Audio = answer.AudioRef, nil
	rt.Draft.VideoRef, rt.Draft.Video = answer.VideoRef, nil
	r.answers = append(r.answers, answer)
	rt.Status = internal_type.QuestionEvaluating
	if early := r.earlyEvaluation[index]; early != nil {
		delete(r.earlyEvaluation, index)
		r.completeLocked(index, early)
	} else {
		r.evalTimers[index] = r.clock.AfterFunc(r.evalTimeout, func() { r.evaluationTimedOut(index, seq) })
	}
	r.publishLocked()
	r.mu.Unlock()
	r.drain()

	r.logger.Infow("answer accepted", "question", q.ID, "answer", receipt.AnswerID, "kind", answer.Kind)
	r.send(internal_type.KindQuestionAnswered, answeredPayload{
		SessionID:  sessionID,
		QuestionID: q.ID,
		AnswerID:   receipt.AnswerID,
		Answer:     answer.Text,
		AnswerKind: answer.Kind,
		AudioRef:   answer.AudioRef,
		VideoRef:   answer.VideoRef,
		TimeSpent:  answer.TimeSpentSeconds,
		Timestamp:  answer.SubmittedAt.UnixMilli(),
	})
	r.startAnalysis(answer, receipt)
	return nil
}

// deliver stops capture, uploads pending media and submits the answer.
// The returned answer carries whatever references were obtained even when
// a later step fails.
func (r *Runner) deliver(ctx context.Context, sessionID string, q internal_type.Question, draft internal_type.Draft, timeSpent int, capture bool) (internal_type.Answer, *internal_type.SubmitReceipt, error) {
	answer := internal_type.Answer{
		QuestionID:       q.ID,
		Text:             draft.Text,
		AudioRef:         draft.AudioRef,
		VideoRef:         draft.VideoRef,
		TimeSpentSeconds: timeSpent,
	}
	audio := draft.Audio
	if capture {
		if artifact := r.stopCapture(ctx); artifact != nil && answer.AudioRef == "" && len(audio) == 0 {
			audio = artifact.Data
		}
	}
	if answer.AudioRef == "" && len(audio) > 0 {
		ref, err := r.persistence.UploadMedia(ctx, internal_type.MediaAudio, audio)
		if err != nil {
			return answer, nil, fmt.Errorf("audio upload: %w", err)
		}
		answer.AudioRef = ref.Ref
	}
	if answer.VideoRef == "" && len(draft.Video) > 0 {
		ref, err := r.persistence.UploadMedia(ctx, internal_type.MediaVideo, draft.Video)
		if err != nil {
			return answer, nil, fmt.Errorf("video upload: %w", err)
		}
		answer.VideoRef = ref.Ref
	}
	answer.Kind = internal_type.ClassifyAnswer(answer.Text, answer.AudioRef, answer.VideoRef)
	answer.SubmittedAt = r.clock.Now()
	receipt, err := r.persistence.SubmitAnswer(ctx, sessionID, answer)
	if err != nil {
		return answer, nil, err
	}
	return answer, receipt, nil
}

// stopCapture seals the recording if one is running or already sealed.
func (r *Runner) stopCapture(ctx context.Context) *internal_type.Artifact {
	switch r.recorder.State().State {
	case internal_type.RecorderRecording, internal_type.RecorderPaused, internal_type.RecorderStopped:
	default:
		return nil
	}
	artifact, err := r.recorder.Stop(ctx)
	if err != nil {
		r.logger.Warnw("unable to stop recording", "error", err)
		return nil
	}
	return artifact
}

func (r *Runner) startAnalysis(answer internal_type.Answer, receipt *internal_type.SubmitReceipt) {
	if r.bridge == nil {
		return
	}
	if answer.AudioRef != "" {
		r.bridge.StartAnalysis(internal_type.StreamAudio, answer.AudioRef, nil)
	}
	if answer.VideoRef != "" {
		r.bridge.StartAnalysis(internal_type.StreamFacial, answer.VideoRef, nil)
	}
	if answer.Text != "" {
		r.bridge.StartAnalysis(internal_type.StreamText, receipt.AnswerID, map[string]interface{}{"text": answer.Text})
	}
}

// Skip records a skipped answer for the current question and schedules the
// advance to the next one.
func (r *Runner) Skip(ctx context.Context, reason string) error {
	const op = "session.skip"
	r.mu.Lock()
	if err := r.requireLocked(op, internal_type.SessionInProgress); err != nil {
		r.mu.Unlock()
		return err
	}
	index, q, rt := r.currentLocked()
	if rt.Status != internal_type.QuestionReady && rt.Status != internal_type.QuestionAnswering {
		r.mu.Unlock()
		return types.Errorf(types.KindInvalidState, op, "question %s is %s", q.ID, rt.Status)
	}
	r.resetTimerLocked()
	stopTimer(&r.autosave)
	now := r.clock.Now()
	capture := r.recordingFor == index && r.recorder != nil
	r.recordingFor = -1
	answer := internal_type.Answer{
		QuestionID:       q.ID,
		Kind:             internal_type.AnswerSkipped,
		TimeSpentSeconds: q.TimeBudgetSeconds - rt.RemainingSeconds,
		SubmittedAt:      now,
		SkipReason:       reason,
	}
	r.answers = append(r.answers, answer)
	rt.Status = internal_type.QuestionSkipped
	rt.SubmittedAt = &now
	sessionID := r.session.Descriptor.ID
	r.scheduleAdvanceLocked(index)
	r.publishLocked()
	r.mu.Unlock()

	if capture {
		r.stopCapture(ctx)
	}
	if r.bridge != nil {
		r.bridge.Finish(q.ID)
	}
	r.send(internal_type.KindQuestionSkip, skipPayload{
		SessionID:  sessionID,
		QuestionID: q.ID,
		Reason:     reason,
		Timestamp:  now.UnixMilli(),
	})
	r.drain()
	return nil
}

// questionUpdater returns the per-question callback handed to the bridge.
func (r *Runner) questionUpdater(index int) func(internal_type.QuestionUpdate) {
	return func(u internal_type.QuestionUpdate) {
		r.mu.Lock()
		if r.released || !r.loaded || index >= len(r.questions) ||
			r.session.Descriptor.Questions[index].ID != u.QuestionID {
			r.mu.Unlock()
			return
		}
		rt := &r.questions[index]
		if u.Analysis != nil {
			rt.Analysis = u.Analysis
		}
		if u.Evaluation != nil && rt.Evaluation == nil {
			switch rt.Status {
			case internal_type.QuestionEvaluating:
				r.completeLocked(index, u.Evaluation)
			case internal_type.QuestionAnswering, internal_type.QuestionSubmitting:
				// an unaddressed result may belong to an earlier question
				if u.Addressed {
					r.earlyEvaluation[index] = u.Evaluation
				} else {
					r.logger.Debugw("ignoring unaddressed evaluation before submit", "question", u.QuestionID, "status", rt.Status)
				}
			}
		}
		r.publishLocked()
		r.mu.Unlock()
		r.drain()
	}
}

// completeLocked fills the evaluation slot once and completes the question.
func (r *Runner) completeLocked(index int, evaluation *internal_type.EvaluationResult) {
	rt := &r.questions[index]
	if rt.Evaluation != nil {
		return
	}
	ev := *evaluation
	rt.Evaluation = &ev
	rt.Status = internal_type.QuestionCompleted
	if t, ok := r.evalTimers[index]; ok {
		t.Stop()
		delete(r.evalTimers, index)
	}
	if r.recordingFor == index {
		r.recordingFor = -1
	}
	if r.bridge != nil {
		r.bridge.Finish(r.session.Descriptor.Questions[index].ID)
	}
	r.scheduleAdvanceLocked(index)
}

func (r *Runner) evaluationTimedOut(index, seq int) {
	r.mu.Lock()
	if r.released || !r.loaded || index >= len(r.questions) || r.questions[index].Status != internal_type.QuestionEvaluating {
		r.mu.Unlock()
		return
	}
	delete(r.evalTimers, index)
	q := r.session.Descriptor.Questions[index]
	r.completeLocked(index, &internal_type.EvaluationResult{Unavailable: true})
	r.publishErrorLocked(types.Errorf(types.KindEvaluationTimeout, "session.evaluation", "question %s after %s", q.ID, r.evalTimeout))
	r.publishLocked()
	r.mu.Unlock()
	r.logger.Warnw("evaluation timed out", "question", q.ID, "submit", seq)
	r.drain()
}
