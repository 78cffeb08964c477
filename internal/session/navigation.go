// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_session

import (
	internal_type "github.com/interviewx/client/internal/type"
	"github.com/interviewx/client/pkg/types"
)

// Next moves to the following question. The current one must be completed
// or skipped.
func (r *Runner) Next() error {
	const op = "session.next"
	r.mu.Lock()
	if err := r.requireLocked(op, internal_type.SessionInProgress, internal_type.SessionPaused); err != nil {
		r.mu.Unlock()
		return err
	}
	index, q, rt := r.currentLocked()
	if !rt.Status.Finished() {
		r.mu.Unlock()
		return types.Errorf(types.KindInvalidState, op, "question %s is %s", q.ID, rt.Status)
	}
	if index+1 >= len(r.questions) {
		r.mu.Unlock()
		return types.Errorf(types.KindInvalidState, op, "already at the last question")
	}
	stopTimer(&r.autoAdvance)
	r.moveLocked(index + 1)
	r.mu.Unlock()
	r.resumeCaptureIfNeeded()
	r.drain()
	return nil
}

// Previous moves back one question without altering its completion.
func (r *Runner) Previous() error {
	const op = "session.previous"
	r.mu.Lock()
	if err := r.requireLocked(op, internal_type.SessionInProgress, internal_type.SessionPaused); err != nil {
		r.mu.Unlock()
		return err
	}
	if r.session.CurrentIndex == 0 {
		r.mu.Unlock()
		return types.Errorf(types.KindInvalidState, op, "already at the first question")
	}
	stopTimer(&r.autoAdvance)
	r.moveLocked(r.session.CurrentIndex - 1)
	r.mu.Unlock()
	r.pauseCaptureIfAway()
	r.drain()
	return nil
}

// Goto jumps to index, clamped to the questions reachable without passing
// an unfinished one.
func (r *Runner) Goto(index int) error {
	const op = "session.goto"
	r.mu.Lock()
	if err := r.requireLocked(op, internal_type.SessionInProgress, internal_type.SessionPaused); err != nil {
		r.mu.Unlock()
		return err
	}
	target := r.clampLocked(index)
	stopTimer(&r.autoAdvance)
	if target != r.session.CurrentIndex {
		r.moveLocked(target)
	}
	r.mu.Unlock()
	r.pauseCaptureIfAway()
	r.resumeCaptureIfNeeded()
	r.drain()
	return nil
}

// clampLocked bounds index to [0, frontier], where frontier is the first
// question not yet completed or skipped.
func (r *Runner) clampLocked(index int) int {
	frontier := len(r.questions) - 1
	for i, q := range r.questions {
		if !q.Status.Finished() {
			frontier = i
			break
		}
	}
	if index < 0 {
		return 0
	}
	if index > frontier {
		return frontier
	}
	return index
}

// moveLocked changes the current question. An answering question keeps its
// status while away; its timer freezes and resumes when it is current again.
func (r *Runner) moveLocked(target int) {
	from := r.session.CurrentIndex
	if r.questions[from].Status == internal_type.QuestionAnswering {
		r.freezeTimerLocked()
	}
	r.session.CurrentIndex = target
	if r.questions[target].Status == internal_type.QuestionAnswering && r.session.Status == internal_type.SessionInProgress {
		r.armTimerLocked()
	}
	r.publishLocked()
	r.logger.Debugf("moved from question %d to %d", from, target)
}

// scheduleAdvanceLocked arms the auto-advance after question index
// finished, when it is still current and not the last one.
func (r *Runner) scheduleAdvanceLocked(index int) {
	if index != r.session.CurrentIndex || index+1 >= len(r.questions) {
		return
	}
	stopTimer(&r.autoAdvance)
	r.autoAdvance = r.clock.AfterFunc(r.cfg.AutoAdvance(), func() { r.advanceFrom(index) })
}

func (r *Runner) advanceFrom(index int) {
	r.mu.Lock()
	r.autoAdvance = nil
	if r.released || r.session.Status.Terminal() || r.session.CurrentIndex != index ||
		!r.questions[index].Status.Finished() || index+1 >= len(r.questions) {
		r.mu.Unlock()
		return
	}
	r.moveLocked(index + 1)
	r.mu.Unlock()
	r.resumeCaptureIfNeeded()
	r.drain()
}

// pauseCaptureIfAway pauses a recording whose question is no longer current.
func (r *Runner) pauseCaptureIfAway() {
	if r.recorder == nil {
		return
	}
	r.mu.Lock()
	away := r.recordingFor >= 0 && r.recordingFor != r.session.CurrentIndex
	r.mu.Unlock()
	if away && r.recorder.State().State == internal_type.RecorderRecording {
		if err := r.recorder.Pause(); err != nil {
			r.logger.Warnw("unable to pause recording", "error", err)
		}
	}
}

// resumeCaptureIfNeeded resumes a paused recording once its question is
// current again and the session runs.
func (r *Runner) resumeCaptureIfNeeded() {
	if r.recorder == nil {
		return
	}
	r.mu.Lock()
	back := r.recordingFor >= 0 && r.recordingFor == r.session.CurrentIndex &&
		r.session.Status == internal_type.SessionInProgress &&
		r.questions[r.recordingFor].Status == internal_type.QuestionAnswering
	r.mu.Unlock()
	if back && r.recorder.State().State == internal_type.RecorderPaused {
		if err := r.recorder.Resume(); err != nil {
			r.logger.Warnw("unable to resume recording", "error", err)
		}
	}
}
