// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	internal_type "github.com/interviewx/client/internal/type"
	"github.com/interviewx/client/pkg/storages"
	"github.com/interviewx/client/pkg/types"
)

type snapshotStore struct {
	storage storages.Storage
}

// NewSnapshotStore stores one JSON draft snapshot per session.
func NewSnapshotStore(storage storages.Storage) internal_type.SnapshotStore {
	return &snapshotStore{storage: storage}
}

func (s *snapshotStore) SaveSnapshot(ctx context.Context, snapshot internal_type.DraftSnapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("unable to encode draft snapshot: %w", err)
	}
	return s.storage.Set(ctx, storages.DraftKey(snapshot.SessionID), string(raw))
}

// LoadSnapshot returns nil without error when the session has no snapshot.
func (s *snapshotStore) LoadSnapshot(ctx context.Context, sessionID string) (*internal_type.DraftSnapshot, error) {
	raw, err := s.storage.Get(ctx, storages.DraftKey(sessionID))
	if errors.Is(err, types.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snapshot internal_type.DraftSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return nil, types.NewError(types.KindParseError, "snapshot.load", err)
	}
	return &snapshot, nil
}

func (s *snapshotStore) ClearSnapshot(ctx context.Context, sessionID string) error {
	return s.storage.Delete(ctx, storages.DraftKey(sessionID))
}
