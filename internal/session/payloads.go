// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_session

import internal_type "github.com/interviewx/client/internal/type"

// End reasons. Any reason other than ReasonCancelled completes the session.
const (
	ReasonCompleted = "completed"
	ReasonCancelled = "cancelled"
	ReasonTimeUp    = "time-up"
)

type lifecyclePayload struct {
	SessionID string                      `json:"session_id"`
	Reason    string                      `json:"reason,omitempty"`
	Status    internal_type.SessionStatus `json:"status,omitempty"`
	Timestamp int64                       `json:"timestamp"`
}

type answeredPayload struct {
	SessionID  string                   `json:"session_id"`
	QuestionID string                   `json:"question_id"`
	AnswerID   string                   `json:"answer_id"`
	Answer     string                   `json:"answer"`
	AnswerKind internal_type.AnswerKind `json:"answer_kind"`
	AudioRef   string                   `json:"audio_ref,omitempty"`
	VideoRef   string                   `json:"video_ref,omitempty"`
	TimeSpent  int                      `json:"time_spent"`
	Timestamp  int64                    `json:"timestamp"`
}

type skipPayload struct {
	SessionID  string `json:"session_id"`
	QuestionID string `json:"question_id"`
	Reason     string `json:"reason,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}
