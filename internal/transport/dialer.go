// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/interviewx/client/pkg/types"
)

// Conn is the subset of *websocket.Conn the client needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a Conn. The returned error is already classified into the
// connect taxonomy (connect-timeout, handshake-refused, network).
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

type websocketDialer struct {
	dialer *websocket.Dialer
}

// NewWebsocketDialer returns a gorilla based Dialer.
func NewWebsocketDialer(handshakeTimeout time.Duration) Dialer {
	return &websocketDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

func (d *websocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, classifyDialError(err, status)
	}
	// 10MB max message size
	conn.SetReadLimit(10 * 1024 * 1024)
	return conn, nil
}

func classifyDialError(err error, status int) error {
	const op = "transport.connect"
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return types.NewError(types.KindConnectTimeout, op, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return types.NewError(types.KindConnectTimeout, op, err)
	case errors.Is(err, websocket.ErrBadHandshake):
		return types.NewError(types.KindHandshakeRefused, op, fmt.Errorf("status %d: %w", status, err))
	}
	return types.NewError(types.KindNetwork, op, err)
}
