// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package backend_client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/interviewx/client/config"
	internal_type "github.com/interviewx/client/internal/type"
	"github.com/interviewx/client/pkg/commons"
	"github.com/interviewx/client/pkg/types"
	"github.com/interviewx/client/pkg/utils"
)

const (
	pathSession  = "/api/sessions/{id}"
	pathAnswers  = "/api/sessions/{id}/answers"
	pathDraft    = "/api/sessions/{id}/draft"
	pathSubmit   = "/api/sessions/{id}/submit"
	pathMedia    = "/api/media"
	pathRefresh  = "/api/auth/refresh"
	refreshEarly = 30 * time.Second
)

// Credentials is where the bearer token is read from and a refreshed one is
// written back to.
type Credentials interface {
	Token(ctx context.Context) (string, error)
	SetToken(ctx context.Context, token string) error
}

type Option func(*backendClient)

func WithClock(clock utils.Clock) Option {
	return func(c *backendClient) { c.clock = clock }
}

type backendClient struct {
	logger      commons.Logger
	rest        *resty.Client
	credentials Credentials
	clock       utils.Clock
	refreshes   singleflight.Group
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type tokenBody struct {
	Token string `json:"token"`
}

// NewBackendClient returns the HTTP persistence adapter for cfg.BaseURL.
func NewBackendClient(cfg config.BackendConfig, logger commons.Logger, credentials Credentials, opts ...Option) internal_type.Persistence {
	c := &backendClient{
		logger:      logger,
		rest:        resty.New(),
		credentials: credentials,
		clock:       utils.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.rest.
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.RequestTimeout()).
		SetHeader("Accept", "application/json")
	return c
}

func (c *backendClient) GetSession(ctx context.Context, sessionID string) (*internal_type.SessionDescriptor, error) {
	var out internal_type.SessionDescriptor
	err := c.do(ctx, "backend.get-session", func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("id", sessionID).SetResult(&out).Get(pathSession)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *backendClient) UpdateSession(ctx context.Context, sessionID string, update internal_type.SessionUpdate) error {
	return c.do(ctx, "backend.update-session", func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("id", sessionID).SetBody(update).Patch(pathSession)
	})
}

func (c *backendClient) SubmitAnswer(ctx context.Context, sessionID string, answer internal_type.Answer) (*internal_type.SubmitReceipt, error) {
	var out internal_type.SubmitReceipt
	err := c.do(ctx, "backend.submit-answer", func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("id", sessionID).SetBody(answer).SetResult(&out).Post(pathAnswers)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadMedia sends blob as a multipart file with its kind as a form field.
func (c *backendClient) UploadMedia(ctx context.Context, kind internal_type.MediaKind, blob []byte) (*internal_type.ArtifactRef, error) {
	const op = "backend.upload-media"
	if len(blob) == 0 {
		return nil, types.Errorf(types.KindValidation, op, "empty %s blob", kind)
	}
	var out internal_type.ArtifactRef
	err := c.do(ctx, op, func(r *resty.Request) (*resty.Response, error) {
		return r.
			SetFileReader("file", fileName(kind), bytes.NewReader(blob)).
			SetFormData(map[string]string{"kind": string(kind)}).
			SetResult(&out).
			Post(pathMedia)
	})
	if err != nil {
		return nil, err
	}
	if out.Ref == "" {
		return nil, types.Errorf(types.KindProtocolError, op, "response carries no artifact reference")
	}
	return &out, nil
}

func (c *backendClient) SaveDraft(ctx context.Context, sessionID, questionID string, draft internal_type.Draft) error {
	body := struct {
		QuestionID string `json:"questionId"`
		internal_type.Draft
	}{QuestionID: questionID, Draft: draft}
	return c.do(ctx, "backend.save-draft", func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("id", sessionID).SetBody(body).Put(pathDraft)
	})
}

func (c *backendClient) FinalizeSubmission(ctx context.Context, sessionID string, summary internal_type.Summary) error {
	return c.do(ctx, "backend.finalize-submission", func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("id", sessionID).SetBody(summary).Post(pathSubmit)
	})
}

func fileName(kind internal_type.MediaKind) string {
	if kind == internal_type.MediaVideo {
		return "answer.webm"
	}
	return "answer.wav"
}

// do runs call with the bearer credential attached. An unauthorized answer
// triggers one credential refresh and one retry.
func (c *backendClient) do(ctx context.Context, op string, call func(*resty.Request) (*resty.Response, error)) error {
	token, err := c.credentials.Token(ctx)
	if err != nil {
		return err
	}
	if c.expiresSoon(token) {
		if fresh, err := c.refresh(ctx, token); err == nil {
			token = fresh
		} else {
			c.logger.Warnw("proactive credential refresh failed", "error", err)
		}
	}

	resp, err := call(c.request(ctx, token))
	if err != nil {
		return c.transportError(ctx, op, err)
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		c.logger.Infow("credential rejected, refreshing", "op", op)
		fresh, rerr := c.refresh(ctx, token)
		if rerr != nil {
			return types.NewError(types.KindUnauthorized, op, rerr)
		}
		resp, err = call(c.request(ctx, fresh))
		if err != nil {
			return c.transportError(ctx, op, err)
		}
	}
	return statusError(op, resp)
}

func (c *backendClient) request(ctx context.Context, token string) *resty.Request {
	return c.rest.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetError(&errorBody{})
}

func (c *backendClient) transportError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return types.NewError(types.KindNetwork, op, ctx.Err())
	}
	c.logger.Warnw("backend request failed", "op", op, "error", err)
	return types.NewError(types.KindNetwork, op, err)
}

func statusError(op string, resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}
	kind := types.HTTPStatusKind(resp.StatusCode())
	if body, ok := resp.Error().(*errorBody); ok && (body.Message != "" || body.Error != "") {
		msg := body.Message
		if msg == "" {
			msg = body.Error
		}
		return types.Errorf(kind, op, "%d: %s", resp.StatusCode(), msg)
	}
	return types.Errorf(kind, op, "status %d", resp.StatusCode())
}

// refresh exchanges token for a new one. Concurrent callers share a single
// exchange.
func (c *backendClient) refresh(ctx context.Context, token string) (string, error) {
	v, err, _ := c.refreshes.Do(token, func() (interface{}, error) {
		var out tokenBody
		resp, err := c.rest.R().
			SetContext(ctx).
			SetBody(tokenBody{Token: token}).
			SetResult(&out).
			SetError(&errorBody{}).
			Post(pathRefresh)
		if err != nil {
			return "", c.transportError(ctx, "backend.refresh", err)
		}
		if err := statusError("backend.refresh", resp); err != nil {
			return "", err
		}
		if out.Token == "" {
			return "", errors.New("refresh returned an empty token")
		}
		if err := c.credentials.SetToken(ctx, out.Token); err != nil {
			return "", fmt.Errorf("store refreshed token: %w", err)
		}
		return out.Token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// expiresSoon inspects a JWT credential without verifying it. Opaque
// tokens never count as expiring.
func (c *backendClient) expiresSoon(token string) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return c.clock.Now().Add(refreshEarly).After(claims.ExpiresAt.Time)
}
