// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package storages

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/interviewx/client/pkg/commons"
	"github.com/interviewx/client/pkg/types"
)

// redisStorage keeps client state in redis so several client processes on
// one machine share a credential.
type redisStorage struct {
	client *redis.Client
	logger commons.Logger
}

func NewRedisStorage(logger commons.Logger, client *redis.Client) Storage {
	return &redisStorage{client: client, logger: logger}
}

func (r *redisStorage) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", types.Errorf(types.KindNotFound, "storage.get", "key %s", key)
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

func (r *redisStorage) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *redisStorage) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (r *redisStorage) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Warnf("unable to close redis client: %v", err)
		return err
	}
	return nil
}
