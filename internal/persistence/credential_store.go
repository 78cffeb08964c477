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

	"github.com/interviewx/client/pkg/storages"
	"github.com/interviewx/client/pkg/types"
)

// User is the last known descriptor of the signed-in candidate.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CredentialStore keeps the opaque bearer credential and the user
// descriptor under their fixed keys.
type CredentialStore struct {
	storage storages.Storage
}

func NewCredentialStore(storage storages.Storage) *CredentialStore {
	return &CredentialStore{storage: storage}
}

// Token returns the stored credential, failing with no-credential when
// nothing is stored.
func (c *CredentialStore) Token(ctx context.Context) (string, error) {
	token, err := c.storage.Get(ctx, storages.TokenKey)
	if errors.Is(err, types.ErrNotFound) || (err == nil && token == "") {
		return "", types.NewError(types.KindNoCredential, "credential.token", nil)
	}
	return token, err
}

func (c *CredentialStore) SetToken(ctx context.Context, token string) error {
	return c.storage.Set(ctx, storages.TokenKey, token)
}

func (c *CredentialStore) User(ctx context.Context) (*User, error) {
	raw, err := c.storage.Get(ctx, storages.UserKey)
	if err != nil {
		return nil, err
	}
	var u User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, types.NewError(types.KindParseError, "credential.user", err)
	}
	return &u, nil
}

func (c *CredentialStore) SetUser(ctx context.Context, u User) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return c.storage.Set(ctx, storages.UserKey, string(raw))
}

// Clear forgets both the credential and the user descriptor.
func (c *CredentialStore) Clear(ctx context.Context) error {
	return errors.Join(
		c.storage.Delete(ctx, storages.TokenKey),
		c.storage.Delete(ctx, storages.UserKey),
	)
}
