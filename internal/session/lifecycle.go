// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_session

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	internal_type "github.com/interviewx/client/internal/type"
)

// Pause freezes the question timer and pauses capture.
func (r *Runner) Pause() error {
	const op = "session.pause"
	r.mu.Lock()
	if err := r.requireLocked(op, internal_type.SessionInProgress); err != nil {
		r.mu.Unlock()
		return err
	}
	r.session.Status = internal_type.SessionPaused
	r.freezeTimerLocked()
	stopTimer(&r.autosave)
	capture := r.recordingFor >= 0 && r.recorder != nil
	sessionID := r.session.Descriptor.ID
	now := r.clock.Now()
	r.publishLocked()
	r.mu.Unlock()

	if capture && r.recorder.State().State == internal_type.RecorderRecording {
		if err := r.recorder.Pause(); err != nil {
			r.logger.Warnw("unable to pause recording", "error", err)
		}
	}
	r.send(internal_type.KindInterviewPause, lifecyclePayload{SessionID: sessionID, Timestamp: now.UnixMilli()})
	r.drain()
	return nil
}

// Resume restarts the frozen timer where it stopped.
func (r *Runner) Resume() error {
	const op = "session.resume"
	r.mu.Lock()
	if err := r.requireLocked(op, internal_type.SessionPaused); err != nil {
		r.mu.Unlock()
		return err
	}
	r.session.Status = internal_type.SessionInProgress
	if _, _, rt := r.currentLocked(); rt.Status == internal_type.QuestionAnswering {
		r.armTimerLocked()
		r.scheduleAutosaveLocked()
	}
	sessionID := r.session.Descriptor.ID
	now := r.clock.Now()
	r.publishLocked()
	r.mu.Unlock()

	r.resumeCaptureIfNeeded()
	r.send(internal_type.KindInterviewResume, lifecyclePayload{SessionID: sessionID, Timestamp: now.UnixMilli()})
	r.drain()
	return nil
}

// End terminates the session, cancelled when reason is ReasonCancelled and
// completed otherwise, and issues the final submission. Calling End again
// returns the same summary and retries a final submission that failed.
func (r *Runner) End(ctx context.Context, reason string) (*internal_type.Summary, error) {
	const op = "session.end"
	r.mu.Lock()
	if r.loaded && !r.released && r.session.Status.Terminal() && r.summary != nil {
		summary := cloneSummary(r.summary)
		finalized := r.finalized
		r.mu.Unlock()
		if finalized {
			return summary, nil
		}
		return summary, r.finalize(ctx, *summary)
	}
	if err := r.requireLocked(op, internal_type.SessionInProgress, internal_type.SessionPaused); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	status := internal_type.SessionCompleted
	if reason == ReasonCancelled {
		status = internal_type.SessionCancelled
	}
	now := r.clock.Now()
	r.stopAllTimersLocked()
	r.submitSeq++
	if status == internal_type.SessionCancelled {
		r.cancelInflightLocked()
	}
	for i := range r.questions {
		// a submit that never got acknowledged keeps its draft
		if r.questions[i].Status == internal_type.QuestionSubmitting {
			r.questions[i].Status = internal_type.QuestionAnswering
		}
	}
	capture := r.recordingFor >= 0 && r.recorder != nil
	r.recordingFor = -1
	r.session.Status = status
	r.session.EndedAt = &now
	summary := r.summarizeLocked(reason)
	r.summary = cloneSummary(summary)
	questionIDs := make([]string, len(r.session.Descriptor.Questions))
	for i, q := range r.session.Descriptor.Questions {
		questionIDs[i] = q.ID
	}
	r.publishLocked()
	r.mu.Unlock()
	r.drain()

	if capture {
		r.stopCapture(ctx)
		if status == internal_type.SessionCancelled {
			if err := r.recorder.Clear(); err != nil {
				r.logger.Warnw("unable to discard recording", "error", err)
			}
		}
	}
	if r.bridge != nil {
		for _, id := range questionIDs {
			r.bridge.Finish(id)
		}
	}
	r.send(internal_type.KindInterviewEnd, lifecyclePayload{
		SessionID: summary.SessionID,
		Reason:    reason,
		Status:    status,
		Timestamp: now.UnixMilli(),
	})
	r.logger.Infow("session ended", "session", summary.SessionID, "status", status,
		"answered", summary.Answered, "skipped", summary.Skipped, "unanswered", summary.Unanswered)
	return summary, r.finalize(ctx, *summary)
}

// summarizeLocked builds the final summary from the recorded answers and
// the evaluations received so far.
func (r *Runner) summarizeLocked(reason string) *internal_type.Summary {
	s := &internal_type.Summary{
		SessionID: r.session.Descriptor.ID,
		Status:    r.session.Status,
		Reason:    reason,
		Answers:   append([]internal_type.Answer(nil), r.answers...),
		StartedAt: r.session.StartedAt,
		EndedAt:   r.session.EndedAt,
	}
	for _, a := range r.answers {
		if a.Kind == internal_type.AnswerSkipped {
			s.Skipped++
		} else {
			s.Answered++
		}
		s.TotalTimeSpentSeconds += a.TimeSpentSeconds
	}
	s.Unanswered = len(r.questions) - s.Answered - s.Skipped
	var total float64
	var scored int
	for _, q := range r.questions {
		if q.Evaluation != nil && !q.Evaluation.Unavailable {
			total += q.Evaluation.Score
			scored++
		}
	}
	if scored > 0 {
		avg := total / float64(scored)
		s.AverageScore = &avg
	}
	return s
}

// finalize writes the terminal status and the summary. Each half is sent
// once; a retry only repeats the half that failed.
func (r *Runner) finalize(ctx context.Context, summary internal_type.Summary) error {
	ctx, done := r.track(ctx)
	defer done()

	r.mu.Lock()
	update := internal_type.SessionUpdate{Status: r.session.Status, CurrentIndex: r.session.CurrentIndex}
	updated, submitted := r.statusWritten, r.summaryWritten
	r.mu.Unlock()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if !updated {
		g.Go(func() error {
			if err := r.persistence.UpdateSession(gctx, summary.SessionID, update); err != nil {
				return fmt.Errorf("update session: %w", err)
			}
			mu.Lock()
			updated = true
			mu.Unlock()
			return nil
		})
	}
	if !submitted {
		g.Go(func() error {
			if err := r.persistence.FinalizeSubmission(gctx, summary.SessionID, summary); err != nil {
				return fmt.Errorf("finalize submission: %w", err)
			}
			mu.Lock()
			submitted = true
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()

	r.mu.Lock()
	r.statusWritten = r.statusWritten || updated
	r.summaryWritten = r.summaryWritten || submitted
	r.finalized = r.statusWritten && r.summaryWritten
	r.mu.Unlock()
	if err != nil {
		r.logger.Errorw("final submission failed", "session", summary.SessionID, "error", err)
		return err
	}

	if r.snapshots != nil {
		if err := r.snapshots.ClearSnapshot(ctx, summary.SessionID); err != nil {
			r.logger.Warnw("unable to clear draft snapshot", "session", summary.SessionID, "error", err)
		}
	}
	return nil
}

// Summary returns the summary of an ended session, or nil.
func (r *Runner) Summary() *internal_type.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneSummary(r.summary)
}

// Release cancels pending operations, stops every timer and detaches from
// the recorder. The runner is unusable afterwards.
func (r *Runner) Release() error {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return nil
	}
	r.released = true
	r.cancelInflightLocked()
	r.stopAllTimersLocked()
	r.submitSeq++
	unsubs := r.unsubs
	r.unsubs = nil
	r.changeObservers = nil
	r.errorObservers = nil
	r.outbox = nil
	r.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	r.logger.Debugf("session runner released")
	return nil
}

func cloneSummary(s *internal_type.Summary) *internal_type.Summary {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Answers = append([]internal_type.Answer(nil), s.Answers...)
	if s.AverageScore != nil {
		v := *s.AverageScore
		cp.AverageScore = &v
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		cp.StartedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}
