// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_type

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

type SessionStatus string

const (
	SessionNotStarted SessionStatus = "not-started"
	SessionInProgress SessionStatus = "in-progress"
	SessionPaused     SessionStatus = "paused"
	SessionCompleted  SessionStatus = "completed"
	SessionCancelled  SessionStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

type QuestionKind string

const (
	QuestionBehavioral   QuestionKind = "behavioral"
	QuestionTechnical    QuestionKind = "technical"
	QuestionCoding       QuestionKind = "coding"
	QuestionSystemDesign QuestionKind = "system-design"
	QuestionIntroduction QuestionKind = "introduction"
)

type QuestionStatus string

const (
	QuestionReady      QuestionStatus = "ready"
	QuestionAnswering  QuestionStatus = "answering"
	QuestionSubmitting QuestionStatus = "submitting"
	QuestionEvaluating QuestionStatus = "evaluating"
	QuestionCompleted  QuestionStatus = "completed"
	QuestionSkipped    QuestionStatus = "skipped"
)

// Finished reports whether the question no longer blocks forward navigation.
func (s QuestionStatus) Finished() bool {
	return s == QuestionCompleted || s == QuestionSkipped
}

const (
	MinTimeBudgetSeconds = 30
	MaxTimeBudgetSeconds = 3600
)

// Question is the stable part of one interview prompt.
type Question struct {
	ID                string       `json:"id" yaml:"id" validate:"required"`
	Prompt            string       `json:"prompt" yaml:"prompt" validate:"required"`
	Kind              QuestionKind `json:"kind" yaml:"kind" validate:"required,oneof=behavioral technical coding system-design introduction"`
	TimeBudgetSeconds int          `json:"timeBudgetSeconds" yaml:"time_budget_seconds" validate:"gte=30,lte=3600"`
	AcceptsText       bool         `json:"acceptsText" yaml:"accepts_text"`
	AcceptsAudio      bool         `json:"acceptsAudio" yaml:"accepts_audio"`
	AcceptsVideo      bool         `json:"acceptsVideo" yaml:"accepts_video"`
	Keywords          []string     `json:"keywords,omitempty" yaml:"keywords"`
}

func (q Question) TimeBudget() time.Duration {
	return time.Duration(q.TimeBudgetSeconds) * time.Second
}

// SessionDescriptor is the immutable identity of a session as supplied by
// the backend or an in-memory seed.
type SessionDescriptor struct {
	ID        string     `json:"id" yaml:"id" validate:"required"`
	Title     string     `json:"title,omitempty" yaml:"title"`
	Questions []Question `json:"questions" yaml:"questions" validate:"required,min=1,dive"`
}

var descriptorValidator = validator.New()

// Validate checks identifiers, question kinds and time budgets.
func (d *SessionDescriptor) Validate() error {
	if err := descriptorValidator.Struct(d); err != nil {
		return fmt.Errorf("invalid session descriptor: %w", err)
	}
	seen := make(map[string]bool, len(d.Questions))
	for _, q := range d.Questions {
		if seen[q.ID] {
			return fmt.Errorf("invalid session descriptor: duplicate question id %s", q.ID)
		}
		seen[q.ID] = true
	}
	return nil
}

// Draft is the in-progress answer for the active question.
type Draft struct {
	Text        string `json:"text"`
	AudioRef    string `json:"audioRef,omitempty"`
	VideoRef    string `json:"videoRef,omitempty"`
	Audio       []byte `json:"-"`
	Video       []byte `json:"-"`
	UpdatedAtMs int64  `json:"updatedAt"`
}

// Draft fields accepted by update-draft.
const (
	DraftFieldText  = "text"
	DraftFieldAudio = "audio"
	DraftFieldVideo = "video"
)

type AnswerKind string

const (
	AnswerText    AnswerKind = "text"
	AnswerAudio   AnswerKind = "audio"
	AnswerVideo   AnswerKind = "video"
	AnswerMixed   AnswerKind = "mixed"
	AnswerSkipped AnswerKind = "skipped"
)

// Answer is what the candidate submitted (or skipped) for one question.
type Answer struct {
	QuestionID       string     `json:"questionId"`
	Kind             AnswerKind `json:"answerKind"`
	Text             string     `json:"text"`
	AudioRef         string     `json:"audioRef,omitempty"`
	VideoRef         string     `json:"videoRef,omitempty"`
	TimeSpentSeconds int        `json:"timeSpent"`
	SubmittedAt      time.Time  `json:"submittedAt"`
	SkipReason       string     `json:"skipReason,omitempty"`
}

// ClassifyAnswer derives the answer kind from which parts are present.
func ClassifyAnswer(text, audioRef, videoRef string) AnswerKind {
	parts := 0
	kind := AnswerText
	if text != "" {
		parts++
	}
	if audioRef != "" {
		parts++
		kind = AnswerAudio
	}
	if videoRef != "" {
		parts++
		kind = AnswerVideo
	}
	if parts > 1 {
		return AnswerMixed
	}
	return kind
}

// Scores are the per-dimension evaluation scores in [0,100].
type Scores struct {
	Relevance         float64 `json:"relevance" mapstructure:"relevance"`
	Clarity           float64 `json:"clarity" mapstructure:"clarity"`
	TechnicalAccuracy float64 `json:"technicalAccuracy" mapstructure:"technical_accuracy"`
	Depth             float64 `json:"depth" mapstructure:"depth"`
}

// EvaluationResult fills a question's evaluation slot at most once.
// Unavailable is set when no result arrived within the evaluation timeout.
type EvaluationResult struct {
	Scores          Scores   `json:"scores"`
	Score           float64  `json:"score"`
	Passed          bool     `json:"passed"`
	Feedback        string   `json:"feedback"`
	KeywordCoverage []string `json:"keywordCoverage"`
	Unavailable     bool     `json:"unavailable"`
}

// QuestionRuntime is the mutable per-question state owned by the runner.
type QuestionRuntime struct {
	Status           QuestionStatus    `json:"status"`
	RemainingSeconds int               `json:"remainingSeconds"`
	Draft            Draft             `json:"draft"`
	SubmittedAt      *time.Time        `json:"submittedAt,omitempty"`
	Evaluation       *EvaluationResult `json:"evaluation,omitempty"`
	Analysis         *AnalysisResult   `json:"analysis,omitempty"`
}

// Session is the identity plus progress of one interview.
type Session struct {
	Descriptor   SessionDescriptor `json:"descriptor"`
	CurrentIndex int               `json:"currentIndex"`
	Status       SessionStatus     `json:"status"`
	StartedAt    *time.Time        `json:"startedAt,omitempty"`
	EndedAt      *time.Time        `json:"endedAt,omitempty"`
}

// SessionSnapshot is a deep copy of runner state handed to observers.
type SessionSnapshot struct {
	Session   Session           `json:"session"`
	Questions []QuestionRuntime `json:"questions"`
	Answers   []Answer          `json:"answers"`
}

// Current returns the runtime of the active question.
func (s SessionSnapshot) Current() QuestionRuntime {
	if s.Session.CurrentIndex < 0 || s.Session.CurrentIndex >= len(s.Questions) {
		return QuestionRuntime{}
	}
	return s.Questions[s.Session.CurrentIndex]
}

// Summary accompanies the final submission.
type Summary struct {
	SessionID             string        `json:"sessionId"`
	Status                SessionStatus `json:"status"`
	Reason                string        `json:"reason,omitempty"`
	Answered              int           `json:"answered"`
	Skipped               int           `json:"skipped"`
	Unanswered            int           `json:"unanswered"`
	TotalTimeSpentSeconds int           `json:"totalTimeSpent"`
	AverageScore          *float64      `json:"averageScore,omitempty"`
	Answers               []Answer      `json:"answers"`
	StartedAt             *time.Time    `json:"startedAt,omitempty"`
	EndedAt               *time.Time    `json:"endedAt,omitempty"`
}
