// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_type

import (
	"encoding/json"
	"time"
)

// MessageKind tags every frame on the bidirectional channel.
type MessageKind string

const (
	KindHeartbeat MessageKind = "heartbeat"

	KindInterviewStart  MessageKind = "interview:start"
	KindInterviewEnd    MessageKind = "interview:end"
	KindInterviewPause  MessageKind = "interview:pause"
	KindInterviewResume MessageKind = "interview:resume"

	KindQuestionAnswered MessageKind = "question:answered"
	KindQuestionSkip     MessageKind = "question:skip"

	KindFacialStart MessageKind = "facial:start"
	KindAudioStart  MessageKind = "audio:start"
	KindTextStart   MessageKind = "text:start"
	KindAudioChunk  MessageKind = "audio:chunk"

	KindFacialProgress MessageKind = "facial:progress"
	KindAudioProgress  MessageKind = "audio:progress"
	KindTextProgress   MessageKind = "text:progress"

	KindFacialResult MessageKind = "facial:result"
	KindAudioResult  MessageKind = "audio:result"
	KindTextResult   MessageKind = "text:result"

	KindEvaluationComplete MessageKind = "evaluation:complete"
	KindError              MessageKind = "error"
	KindNotification       MessageKind = "notification"
)

// Message is the tagged record exchanged with the backend.
type Message struct {
	Kind      MessageKind     `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
	ID        string          `json:"id"`
}

type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionReconnecting ConnectionState = "reconnecting"
	ConnectionDestroyed    ConnectionState = "destroyed"
)

// TransportState is the single observable record of the transport.
type TransportState struct {
	Connection        ConnectionState `json:"connectionState"`
	ReconnectAttempts int             `json:"reconnectAttempts"`
	QueuedCount       int             `json:"queuedCount"`
	LastHeartbeat     time.Time       `json:"lastHeartbeat"`
	Epoch             int             `json:"epoch"`
}

// SendOptions carries the optional per-send settings.
type SendOptions struct {
	ID          string
	CoalesceKey string
}

// SendOption mutates SendOptions.
type SendOption func(*SendOptions)

// WithMessageID pins the frame id instead of generating one.
func WithMessageID(id string) SendOption {
	return func(o *SendOptions) { o.ID = id }
}

// WithCoalesceKey replaces any queued frame carrying the same key.
func WithCoalesceKey(key string) SendOption {
	return func(o *SendOptions) { o.CoalesceKey = key }
}

// Handler receives inbound frames of one kind.
type Handler func(Message)

// Unsubscribe removes a previously registered handler. Calling it twice is a no-op.
type Unsubscribe func()

// Sender is the outbound half of the transport.
type Sender interface {
	Send(kind MessageKind, payload interface{}, opts ...SendOption) bool
}

// Subscriber is the inbound half of the transport.
type Subscriber interface {
	Subscribe(kind MessageKind, handler Handler) Unsubscribe
}

// Transport is the full transport surface the analysis bridge needs.
type Transport interface {
	Sender
	Subscriber
	State() TransportState
}

// ErrorPayload is the payload of inbound and synthetic error events.
type ErrorPayload struct {
	Kind    string `json:"kind" mapstructure:"kind"`
	Message string `json:"message" mapstructure:"message"`
}

// NotificationPayload is the payload of notification events.
type NotificationPayload struct {
	Severity string `json:"severity" mapstructure:"severity"`
	Message  string `json:"message" mapstructure:"message"`
}
