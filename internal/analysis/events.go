// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_analysis

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"

	internal_type "github.com/interviewx/client/internal/type"
	"github.com/interviewx/client/pkg/types"
)

type chunkPayload struct {
	SessionID     string `json:"session_id"`
	QuestionID    string `json:"question_id"`
	Sequence      int    `json:"sequence"`
	Segment       int    `json:"segment"`
	Encoding      string `json:"encoding"`
	Data          []byte `json:"data"`
	Timestamp     int64  `json:"timestamp"`
	Discontinuity bool   `json:"discontinuity"`
}

type startPayload struct {
	QuestionID  string                 `json:"question_id"`
	ArtifactRef string                 `json:"artifact_ref"`
	Options     map[string]interface{} `json:"options,omitempty"`
}

type progressPayload struct {
	QuestionID string  `mapstructure:"question_id"`
	Progress   float64 `mapstructure:"progress"`
}

// routed carries the optional question id of a result payload.
type routed struct {
	QuestionID string `mapstructure:"question_id"`
}

// decodePayload unmarshals a raw payload and decodes it into out with
// weakly typed input, so numbers sent as strings still land. The raw map is
// returned for presence checks.
func decodePayload(raw json.RawMessage, out interface{}) (map[string]interface{}, error) {
	fields := map[string]interface{}{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("payload is not an object: %w", err)
		}
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(fields); err != nil {
		return nil, fmt.Errorf("unable to decode payload: %w", err)
	}
	return fields, nil
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

func (b *Bridge) onProgress(msg internal_type.Message) {
	stream := progressKinds[msg.Kind]
	var p progressPayload
	if _, err := decodePayload(msg.Payload, &p); err != nil {
		b.logger.Warnw("dropping malformed progress event", "kind", msg.Kind, "error", err)
		return
	}
	b.merge(msg, p.QuestionID, func(r *internal_type.AnalysisResult) *internal_type.EvaluationResult {
		r.Progress[stream] = clampPercent(p.Progress)
		return nil
	})
}

func (b *Bridge) onFacialResult(msg internal_type.Message) {
	var res internal_type.FacialResult
	var route routed
	fields, err := decodePayload(msg.Payload, &res)
	if err == nil {
		_, err = decodePayload(msg.Payload, &route)
	}
	if err != nil {
		b.logger.Warnw("dropping malformed facial result", "error", err)
		return
	}
	delete(res.Extra, "question_id")
	if _, ok := fields["passed"]; !ok {
		res.Passed = res.Confidence >= internal_type.FacialPassThreshold
	}
	b.merge(msg, route.QuestionID, func(r *internal_type.AnalysisResult) *internal_type.EvaluationResult {
		r.Progress[internal_type.StreamFacial] = 100
		r.Facial = &res
		return nil
	})
}

func (b *Bridge) onAudioResult(msg internal_type.Message) {
	var res internal_type.AudioResult
	var route routed
	fields, err := decodePayload(msg.Payload, &res)
	if err == nil {
		_, err = decodePayload(msg.Payload, &route)
	}
	if err != nil {
		b.logger.Warnw("dropping malformed audio result", "error", err)
		return
	}
	if _, ok := fields["passed"]; !ok {
		res.Passed = res.Quality >= internal_type.AudioPassThreshold
	}
	b.merge(msg, route.QuestionID, func(r *internal_type.AnalysisResult) *internal_type.EvaluationResult {
		r.Progress[internal_type.StreamAudio] = 100
		r.Audio = &res
		return nil
	})
}

func (b *Bridge) onTextResult(msg internal_type.Message) {
	var res internal_type.TextResult
	var route routed
	fields, err := decodePayload(msg.Payload, &res)
	if err == nil {
		_, err = decodePayload(msg.Payload, &route)
	}
	if err != nil {
		b.logger.Warnw("dropping malformed text result", "error", err)
		return
	}
	if _, ok := fields["passed"]; !ok {
		res.Passed = res.Score >= internal_type.TextPassThreshold
	}
	b.merge(msg, route.QuestionID, func(r *internal_type.AnalysisResult) *internal_type.EvaluationResult {
		r.Progress[internal_type.StreamText] = 100
		r.Text = &res
		return nil
	})
}

func (b *Bridge) onEvaluation(msg internal_type.Message) {
	var ev internal_type.EvaluationComplete
	if _, err := decodePayload(msg.Payload, &ev); err != nil {
		b.logger.Warnw("dropping malformed evaluation", "error", err)
		return
	}
	b.merge(msg, ev.QuestionID, func(r *internal_type.AnalysisResult) *internal_type.EvaluationResult {
		r.Evaluation = &ev
		return toEvaluationResult(r, ev)
	})
}

func (b *Bridge) onError(msg internal_type.Message) {
	var p internal_type.ErrorPayload
	var route routed
	if _, err := decodePayload(msg.Payload, &p); err != nil {
		b.logger.Warnw("dropping malformed error event", "error", err)
		return
	}
	// connection failures are not about any question
	if types.Kind(p.Kind).TransportOrigin() {
		return
	}
	_, _ = decodePayload(msg.Payload, &route)
	b.merge(msg, route.QuestionID, func(r *internal_type.AnalysisResult) *internal_type.EvaluationResult {
		r.Errors = append(r.Errors, fmt.Sprintf("%s: %s", p.Kind, p.Message))
		return nil
	})
}

// toEvaluationResult fills the question's evaluation slot from an
// evaluation:complete event. When the event carries no verdict, the question
// passes if every stream result received so far passed; with no stream
// results the overall score is held to the text threshold.
func toEvaluationResult(r *internal_type.AnalysisResult, ev internal_type.EvaluationComplete) *internal_type.EvaluationResult {
	out := &internal_type.EvaluationResult{
		Score:           clampPercent(ev.OverallScore),
		Feedback:        ev.Feedback,
		KeywordCoverage: append([]string(nil), ev.KeywordCoverage...),
	}
	if len(ev.Breakdown) > 0 {
		_ = mapstructure.Decode(ev.Breakdown, &out.Scores)
	}
	if ev.Passed != nil {
		out.Passed = *ev.Passed
		return out
	}
	verdicts := 0
	passed := true
	if r.Facial != nil {
		verdicts++
		passed = passed && r.Facial.Passed
	}
	if r.Audio != nil {
		verdicts++
		passed = passed && r.Audio.Passed
	}
	if r.Text != nil {
		verdicts++
		passed = passed && r.Text.Passed
	}
	if verdicts == 0 {
		passed = out.Score >= internal_type.TextPassThreshold
	}
	out.Passed = passed
	return out
}
