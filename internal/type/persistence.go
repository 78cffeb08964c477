// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_type

import (
	"context"
	"time"
)

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// SessionUpdate patches the mutable progress of a session on the backend.
type SessionUpdate struct {
	Status       SessionStatus `json:"status"`
	CurrentIndex int           `json:"currentIndex"`
}

// SubmitReceipt acknowledges a stored answer.
type SubmitReceipt struct {
	AnswerID   string    `json:"answerId"`
	AcceptedAt time.Time `json:"acceptedAt"`
}

// ArtifactRef is the server-assigned reference of an uploaded blob.
type ArtifactRef struct {
	Ref string `json:"artifactRef"`
}

// Persistence is the request/response boundary with the backend. Every
// method fails with network, unauthorized, not-found, conflict,
// server-error or validation kinds.
type Persistence interface {
	GetSession(ctx context.Context, sessionID string) (*SessionDescriptor, error)
	UpdateSession(ctx context.Context, sessionID string, update SessionUpdate) error
	SubmitAnswer(ctx context.Context, sessionID string, answer Answer) (*SubmitReceipt, error)
	UploadMedia(ctx context.Context, kind MediaKind, blob []byte) (*ArtifactRef, error)
	SaveDraft(ctx context.Context, sessionID, questionID string, draft Draft) error
	FinalizeSubmission(ctx context.Context, sessionID string, summary Summary) error
}

// DraftSnapshot is the best-effort local copy of in-progress work.
type DraftSnapshot struct {
	SessionID    string           `json:"sessionId"`
	CurrentIndex int              `json:"currentIndex"`
	Drafts       map[string]Draft `json:"drafts"`
	SavedAt      time.Time        `json:"savedAt"`
}

// SnapshotStore keeps the per-session draft snapshot under a per-session key.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snapshot DraftSnapshot) error
	LoadSnapshot(ctx context.Context, sessionID string) (*DraftSnapshot, error)
	ClearSnapshot(ctx context.Context, sessionID string) error
}
