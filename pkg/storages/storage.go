// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package storages

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/interviewx/client/config"
	"github.com/interviewx/client/pkg/commons"
)

// Fixed keys of the persisted client state.
const (
	TokenKey    = "interviewx:auth:token"
	UserKey     = "interviewx:auth:user"
	draftPrefix = "interviewx:draft:"
)

// DraftKey is the per-session key of the best-effort draft snapshot.
func DraftKey(sessionID string) string {
	return draftPrefix + sessionID
}

// Storage is a small string key-value store. Get fails with a not-found
// kind when the key is absent.
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// NewStorage builds the store selected by cfg.Driver.
func NewStorage(logger commons.Logger, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return NewRedisStorage(logger, client), nil
	case "sqlite":
		return NewSqliteStorage(logger, cfg.SqlitePath)
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
