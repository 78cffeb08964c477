// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_type

// AnalysisStream names one of the three analysis pipelines.
type AnalysisStream string

const (
	StreamFacial AnalysisStream = "facial"
	StreamAudio  AnalysisStream = "audio"
	StreamText   AnalysisStream = "text"
)

// Pass thresholds used when a result omits its own verdict.
const (
	FacialPassThreshold = 80.0
	AudioPassThreshold  = 70.0
	TextPassThreshold   = 80.0
)

type FacialResult struct {
	Confidence float64                `json:"confidence" mapstructure:"confidence"`
	Passed     bool                   `json:"passed" mapstructure:"passed"`
	Extra      map[string]interface{} `json:"extra,omitempty" mapstructure:",remain"`
}

type AudioResult struct {
	Quality       float64 `json:"quality" mapstructure:"quality"`
	Transcription string  `json:"transcription" mapstructure:"transcription"`
	Passed        bool    `json:"passed" mapstructure:"passed"`
}

type TextResult struct {
	Score    float64 `json:"score" mapstructure:"score"`
	Feedback string  `json:"feedback" mapstructure:"feedback"`
	Passed   bool    `json:"passed" mapstructure:"passed"`
}

// EvaluationComplete is the payload of evaluation:complete.
type EvaluationComplete struct {
	QuestionID      string                 `json:"questionId" mapstructure:"question_id"`
	OverallScore    float64                `json:"overallScore" mapstructure:"overall_score"`
	Passed          *bool                  `json:"passed" mapstructure:"passed"`
	Breakdown       map[string]float64     `json:"breakdown" mapstructure:"breakdown"`
	Feedback        string                 `json:"feedback" mapstructure:"feedback"`
	KeywordCoverage []string               `json:"keywordCoverage" mapstructure:"keyword_coverage"`
	Extra           map[string]interface{} `json:"-" mapstructure:",remain"`
}

// AnalysisResult merges every progress and result event for one question.
type AnalysisResult struct {
	QuestionID     string                         `json:"questionId"`
	Progress       map[AnalysisStream]float64     `json:"progress"`
	Facial         *FacialResult                  `json:"facial,omitempty"`
	Audio          *AudioResult                   `json:"audio,omitempty"`
	Text           *TextResult                    `json:"text,omitempty"`
	Evaluation     *EvaluationComplete            `json:"evaluation,omitempty"`
	ArtifactRefs   map[AnalysisStream]string      `json:"artifactRefs,omitempty"`
	EventCount     map[MessageKind]int            `json:"eventCount"`
	Errors         []string                       `json:"errors,omitempty"`
	StartedStreams map[AnalysisStream]interface{} `json:"-"`
}

// Clone returns a deep copy safe to hand to observers.
func (a *AnalysisResult) Clone() *AnalysisResult {
	if a == nil {
		return nil
	}
	out := &AnalysisResult{
		QuestionID:     a.QuestionID,
		Progress:       make(map[AnalysisStream]float64, len(a.Progress)),
		ArtifactRefs:   make(map[AnalysisStream]string, len(a.ArtifactRefs)),
		EventCount:     make(map[MessageKind]int, len(a.EventCount)),
		Errors:         append([]string(nil), a.Errors...),
		StartedStreams: make(map[AnalysisStream]interface{}, len(a.StartedStreams)),
	}
	for k, v := range a.Progress {
		out.Progress[k] = v
	}
	for k, v := range a.ArtifactRefs {
		out.ArtifactRefs[k] = v
	}
	for k, v := range a.EventCount {
		out.EventCount[k] = v
	}
	for k, v := range a.StartedStreams {
		out.StartedStreams[k] = v
	}
	if a.Facial != nil {
		f := *a.Facial
		out.Facial = &f
	}
	if a.Audio != nil {
		au := *a.Audio
		out.Audio = &au
	}
	if a.Text != nil {
		tx := *a.Text
		out.Text = &tx
	}
	if a.Evaluation != nil {
		ev := *a.Evaluation
		ev.KeywordCoverage = append([]string(nil), a.Evaluation.KeywordCoverage...)
		ev.Breakdown = make(map[string]float64, len(a.Evaluation.Breakdown))
		for k, v := range a.Evaluation.Breakdown {
			ev.Breakdown[k] = v
		}
		out.Evaluation = &ev
	}
	return out
}

// QuestionUpdate is delivered by the bridge to the runner's per-question callback.
type QuestionUpdate struct {
	QuestionID string
	// Addressed is true when the event named its question. Events without a
	// question id are routed to the active question and leave it false.
	Addressed  bool
	Analysis   *AnalysisResult
	// Evaluation is non-nil once evaluation:complete has been merged.
	Evaluation *EvaluationResult
}

// AnalysisBridge is the surface the runner uses to drive analysis streams.
type AnalysisBridge interface {
	Begin(sessionID string, question Question, update func(QuestionUpdate))
	ForwardChunk(chunk Chunk) bool
	StartAnalysis(stream AnalysisStream, artifactRef string, options map[string]interface{}) bool
	Finish(questionID string)
	Active() string
}
