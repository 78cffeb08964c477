// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_mockbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	internal_type "github.com/interviewx/client/internal/type"
	"github.com/interviewx/client/pkg/types"
	"github.com/interviewx/client/pkg/utils"
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const outboundBuffer = 64

type heartbeatReply struct {
	ServerTime int64 `json:"server_time"`
}

type answeredEvent struct {
	SessionID  string `json:"session_id"`
	QuestionID string `json:"question_id"`
	AnswerID   string `json:"answer_id"`
	Answer     string `json:"answer"`
	AnswerKind string `json:"answer_kind"`
	AudioRef   string `json:"audio_ref"`
	VideoRef   string `json:"video_ref"`
	TimeSpent  int    `json:"time_spent"`
}

type startEvent struct {
	QuestionID  string                 `json:"question_id"`
	ArtifactRef string                 `json:"artifact_ref"`
	Options     map[string]interface{} `json:"options"`
}

type chunkEvent struct {
	QuestionID string `json:"question_id"`
	Sequence   int    `json:"sequence"`
}

type progressEvent struct {
	QuestionID string  `json:"question_id"`
	Progress   float64 `json:"progress"`
}

type textResultEvent struct {
	QuestionID string  `json:"question_id"`
	Score      float64 `json:"score"`
	Feedback   string  `json:"feedback"`
	Passed     bool    `json:"passed"`
}

type audioResultEvent struct {
	QuestionID    string  `json:"question_id"`
	Quality       float64 `json:"quality"`
	Transcription string  `json:"transcription"`
	Passed        bool    `json:"passed"`
}

type facialResultEvent struct {
	QuestionID string  `json:"question_id"`
	Confidence float64 `json:"confidence"`
	Passed     bool    `json:"passed"`
}

type breakdown struct {
	Relevance         float64 `json:"relevance"`
	Clarity           float64 `json:"clarity"`
	TechnicalAccuracy float64 `json:"technical_accuracy"`
	Depth             float64 `json:"depth"`
}

type evaluationEvent struct {
	QuestionID      string    `json:"question_id"`
	OverallScore    float64   `json:"overall_score"`
	Passed          bool      `json:"passed"`
	Breakdown       breakdown `json:"breakdown"`
	Feedback        string    `json:"feedback"`
	KeywordCoverage []string  `json:"keyword_coverage"`
}

type errorEvent struct {
	QuestionID string `json:"question_id,omitempty"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
}

type notificationEvent struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Connect upgrades an authenticated request and serves the analysis
// protocol on it until the peer goes away.
func (s *Server) Connect(c *gin.Context) {
	conn, err := streamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Errorf("websocket upgrade failed: %v", err)
		return
	}
	s.logger.Infow("analysis stream connected", "subject", c.GetString(subjectKey))
	stream := &analysisStream{
		server:   s,
		conn:     conn,
		out:      make(chan internal_type.Message, outboundBuffer),
		done:     make(chan struct{}),
		gone:     make(chan struct{}),
		answered: make(map[string]answeredEvent),
	}
	stream.serve(c.Request.Context())
}

// analysisStream is one websocket connection. Frames are handled in arrival
// order on the reading goroutine; a single writer goroutine owns all writes.
type analysisStream struct {
	server   *Server
	conn     *websocket.Conn
	out      chan internal_type.Message
	done     chan struct{}
	gone     chan struct{}
	answered map[string]answeredEvent
}

func (a *analysisStream) serve(ctx context.Context) {
	utils.Go(ctx, a.writeLoop)
	a.readLoop(ctx)
	close(a.done)
	<-a.gone
	a.conn.Close()
	a.server.logger.Debugf("analysis stream closed")
}

func (a *analysisStream) writeLoop() {
	defer close(a.gone)
	for {
		select {
		case msg := <-a.out:
			data, err := json.Marshal(msg)
			if err != nil {
				a.server.logger.Errorw("unable to encode frame", "kind", msg.Kind, "error", err)
				continue
			}
			if err := a.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				a.server.logger.Warnw("websocket write failed", "kind", msg.Kind, "error", err)
				a.conn.Close()
				return
			}
		case <-a.done:
			return
		}
	}
}

func (a *analysisStream) readLoop(ctx context.Context) {
	for {
		_, data, err := a.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				a.server.logger.Warnw("analysis stream dropped", "error", err)
			}
			return
		}
		var msg internal_type.Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Kind == "" {
			a.emit(internal_type.KindError, errorEvent{Kind: string(types.KindParseError), Message: "malformed frame"})
			continue
		}
		a.handle(ctx, msg)
	}
}

func (a *analysisStream) handle(ctx context.Context, msg internal_type.Message) {
	switch msg.Kind {
	case internal_type.KindHeartbeat:
		a.emit(internal_type.KindHeartbeat, heartbeatReply{ServerTime: a.server.clock.Now().UnixMilli()})

	case internal_type.KindAudioChunk:
		var ev chunkEvent
		if a.decode(msg, &ev) {
			a.server.countChunk(ev.QuestionID)
		}

	case internal_type.KindInterviewStart:
		a.server.record(msg)
		a.emit(internal_type.KindNotification, notificationEvent{Severity: "info", Message: "interview started"})

	case internal_type.KindInterviewEnd, internal_type.KindInterviewPause, internal_type.KindInterviewResume,
		internal_type.KindQuestionSkip:
		a.server.record(msg)

	case internal_type.KindQuestionAnswered:
		a.server.record(msg)
		var ev answeredEvent
		if a.decode(msg, &ev) {
			a.answered[ev.QuestionID] = ev
			a.evaluate(ctx, ev)
		}

	case internal_type.KindTextStart, internal_type.KindAudioStart, internal_type.KindFacialStart:
		a.server.record(msg)
		var ev startEvent
		if a.decode(msg, &ev) {
			a.analyze(ctx, msg.Kind, ev)
		}

	default:
		a.emit(internal_type.KindError, errorEvent{
			Kind:    string(types.KindProtocolError),
			Message: fmt.Sprintf("unsupported kind %s", msg.Kind),
		})
	}
}

func (a *analysisStream) decode(msg internal_type.Message, out interface{}) bool {
	if err := json.Unmarshal(msg.Payload, out); err != nil {
		a.emit(internal_type.KindError, errorEvent{
			Kind:    string(types.KindParseError),
			Message: fmt.Sprintf("malformed %s payload", msg.Kind),
		})
		return false
	}
	return true
}

// analyze answers a start command with a progress event followed by the
// stream's result.
func (a *analysisStream) analyze(ctx context.Context, kind internal_type.MessageKind, ev startEvent) {
	switch kind {
	case internal_type.KindTextStart:
		a.emit(internal_type.KindTextProgress, progressEvent{QuestionID: ev.QuestionID, Progress: 50})
		text, _ := ev.Options["text"].(string)
		if text == "" {
			text = a.answered[ev.QuestionID].Answer
		}
		score := ScoreText(text, a.server.keywords(ctx, a.answered[ev.QuestionID]))
		a.emit(internal_type.KindTextResult, textResultEvent{
			QuestionID: ev.QuestionID,
			Score:      score.Overall,
			Feedback:   score.Feedback,
			Passed:     score.Overall >= internal_type.TextPassThreshold,
		})

	case internal_type.KindAudioStart:
		a.emit(internal_type.KindAudioProgress, progressEvent{QuestionID: ev.QuestionID, Progress: 50})
		blob, ok := a.media(ev)
		if !ok {
			return
		}
		quality := ScoreAudio(blob)
		a.emit(internal_type.KindAudioResult, audioResultEvent{
			QuestionID: ev.QuestionID,
			Quality:    quality,
			Passed:     quality >= internal_type.AudioPassThreshold,
		})

	case internal_type.KindFacialStart:
		a.emit(internal_type.KindFacialProgress, progressEvent{QuestionID: ev.QuestionID, Progress: 50})
		blob, ok := a.media(ev)
		if !ok {
			return
		}
		confidence := ScoreFacial(blob)
		a.emit(internal_type.KindFacialResult, facialResultEvent{
			QuestionID: ev.QuestionID,
			Confidence: confidence,
			Passed:     confidence >= internal_type.FacialPassThreshold,
		})
	}
}

func (a *analysisStream) media(ev startEvent) ([]byte, bool) {
	_, blob, ok := a.server.store.Media(ev.ArtifactRef)
	if !ok {
		a.emit(internal_type.KindError, errorEvent{
			QuestionID: ev.QuestionID,
			Kind:       string(types.KindNotFound),
			Message:    fmt.Sprintf("artifact %s not found", ev.ArtifactRef),
		})
	}
	return blob, ok
}

// evaluate scores a submitted answer. Written answers are scored on their
// text; an audio-only answer is scored on recording quality alone.
func (a *analysisStream) evaluate(ctx context.Context, ev answeredEvent) {
	out := evaluationEvent{QuestionID: ev.QuestionID, KeywordCoverage: []string{}}
	if strings.TrimSpace(ev.Answer) == "" && ev.AudioRef != "" {
		_, blob, _ := a.server.store.Media(ev.AudioRef)
		quality := ScoreAudio(blob)
		out.OverallScore = quality
		out.Breakdown = breakdown{Clarity: quality}
		out.Feedback = "Scored on recording quality only."
		out.Passed = quality >= internal_type.AudioPassThreshold
	} else {
		score := ScoreText(ev.Answer, a.server.keywords(ctx, ev))
		out.OverallScore = score.Overall
		out.Breakdown = breakdown{
			Relevance:         score.Relevance,
			Clarity:           score.Clarity,
			TechnicalAccuracy: score.TechnicalAccuracy,
			Depth:             score.Depth,
		}
		out.Feedback = score.Feedback
		out.KeywordCoverage = append(out.KeywordCoverage, score.Covered...)
		out.Passed = score.Overall >= internal_type.TextPassThreshold
	}
	a.server.logger.Debugf("evaluated %s/%s: %.1f", ev.SessionID, ev.QuestionID, out.OverallScore)
	a.emit(internal_type.KindEvaluationComplete, out)
}

// emit queues a frame for the writer. Frames are dropped once the writer
// has gone.
func (a *analysisStream) emit(kind internal_type.MessageKind, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		a.server.logger.Errorw("unable to encode payload", "kind", kind, "error", err)
		return
	}
	msg := internal_type.Message{
		Kind:      kind,
		Payload:   raw,
		Timestamp: a.server.clock.Now().UnixMilli(),
		ID:        uuid.NewString(),
	}
	select {
	case a.out <- msg:
	case <-a.gone:
	}
}

// keywords looks up the expected keywords of the answered question.
func (s *Server) keywords(ctx context.Context, ev answeredEvent) []string {
	if ev.SessionID == "" {
		return nil
	}
	descriptor, err := s.store.GetSession(ctx, ev.SessionID)
	if err != nil {
		s.logger.Debugf("no keywords for %s/%s: %v", ev.SessionID, ev.QuestionID, err)
		return nil
	}
	for _, q := range descriptor.Questions {
		if q.ID == ev.QuestionID {
			return q.Keywords
		}
	}
	return nil
}
