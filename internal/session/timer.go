// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_session

import (
	"context"
	"time"

	internal_type "github.com/interviewx/client/internal/type"
)

// armTimerLocked starts or resumes the per-question timer of the current
// question. A frozen partial second is honoured before whole-second ticks.
func (r *Runner) armTimerLocked() {
	stopTimer(&r.timer)
	r.timerGen++
	gen := r.timerGen
	next := time.Second
	if r.remainder > 0 && r.remainder < time.Second {
		next = r.remainder
	}
	r.remainder = 0
	// lastTickAt is backdated so freezing mid-interval measures the right share
	r.lastTickAt = r.clock.Now().Add(next - time.Second)
	r.timer = r.clock.AfterFunc(next, func() { r.tick(gen) })
}

// freezeTimerLocked stops the timer and keeps the unexpired part of the
// current second for the next arm.
func (r *Runner) freezeTimerLocked() {
	if r.timer == nil {
		return
	}
	stopTimer(&r.timer)
	r.timerGen++
	r.remainder = time.Second - r.clock.Now().Sub(r.lastTickAt)
	if r.remainder <= 0 || r.remainder > time.Second {
		r.remainder = time.Second
	}
}

// resetTimerLocked drops the timer and any frozen remainder.
func (r *Runner) resetTimerLocked() {
	stopTimer(&r.timer)
	r.timerGen++
	r.remainder = 0
}

func (r *Runner) tick(gen int) {
	r.mu.Lock()
	if gen != r.timerGen || r.released || r.session.Status != internal_type.SessionInProgress {
		r.mu.Unlock()
		return
	}
	_, q, rt := r.currentLocked()
	if rt.Status != internal_type.QuestionAnswering {
		r.timer = nil
		r.mu.Unlock()
		return
	}
	if rt.RemainingSeconds > 0 {
		rt.RemainingSeconds--
	}
	r.lastTickAt = r.clock.Now()
	expired := rt.RemainingSeconds == 0
	if expired {
		r.timer = nil
	} else {
		r.timer = r.clock.AfterFunc(time.Second, func() { r.tick(gen) })
	}
	r.publishLocked()
	r.mu.Unlock()
	r.drain()

	if !expired {
		return
	}
	r.logger.Infow("time budget exhausted, submitting", "question", q.ID)
	if err := r.Submit(context.Background()); err != nil {
		r.logger.Warnw("automatic submit failed", "question", q.ID, "error", err)
		r.mu.Lock()
		r.publishErrorLocked(err)
		r.mu.Unlock()
		r.drain()
	}
}

// scheduleAutosaveLocked restarts the draft save debounce window.
func (r *Runner) scheduleAutosaveLocked() {
	if !r.cfg.AutoSave {
		return
	}
	stopTimer(&r.autosave)
	r.autosave = r.clock.AfterFunc(r.cfg.AutoSaveDebounce(), r.saveDraft)
}

// saveDraft is best effort: failures are logged and the draft stays in memory.
func (r *Runner) saveDraft() {
	r.mu.Lock()
	r.autosave = nil
	if r.released || !r.loaded || r.session.Status.Terminal() {
		r.mu.Unlock()
		return
	}
	index, q, rt := r.currentLocked()
	if rt.Status != internal_type.QuestionAnswering {
		r.mu.Unlock()
		return
	}
	sessionID := r.session.Descriptor.ID
	draft := rt.Draft
	snapshot := internal_type.DraftSnapshot{
		SessionID:    sessionID,
		CurrentIndex: index,
		Drafts:       make(map[string]internal_type.Draft),
		SavedAt:      r.clock.Now(),
	}
	for i, other := range r.questions {
		if !other.Status.Finished() && other.Status != internal_type.QuestionEvaluating {
			snapshot.Drafts[r.session.Descriptor.Questions[i].ID] = other.Draft
		}
	}
	r.mu.Unlock()

	ctx, done := r.track(context.Background())
	defer done()
	if err := r.persistence.SaveDraft(ctx, sessionID, q.ID, draft); err != nil {
		r.logger.Warnw("autosave failed", "session", sessionID, "question", q.ID, "error", err)
	}
	if r.snapshots != nil {
		if err := r.snapshots.SaveSnapshot(ctx, snapshot); err != nil {
			r.logger.Warnw("draft snapshot failed", "session", sessionID, "error", err)
		}
	}
}
