// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package types

import (
	"errors"
	"fmt"
)

// Kind classifies every failure the client can surface.
type Kind string

const (
	KindPermissionDenied   Kind = "permission-denied"
	KindDeviceNotFound     Kind = "device-not-found"
	KindDeviceBusy         Kind = "device-busy"
	KindDeviceEnumeration  Kind = "device-enumeration"
	KindUnsupported        Kind = "unsupported"
	KindNoStream           Kind = "no-stream"
	KindCaptureError       Kind = "capture-error"
	KindNoCredential       Kind = "no-credential"
	KindConnectTimeout     Kind = "connect-timeout"
	KindHandshakeRefused   Kind = "handshake-refused"
	KindTransportClosed    Kind = "transport-closed"
	KindReconnectExhausted Kind = "reconnect-exhausted"
	KindParseError         Kind = "parse-error"
	KindProtocolError      Kind = "protocol-error"
	KindNetwork            Kind = "network"
	KindUnauthorized       Kind = "unauthorized"
	KindNotFound           Kind = "not-found"
	KindConflict           Kind = "conflict"
	KindServerError        Kind = "server-error"
	KindValidation         Kind = "validation"
	KindEvaluationTimeout  Kind = "evaluation-timeout"
	KindInvalidState       Kind = "invalid-state"
	KindSubmitInFlight     Kind = "submit-in-flight"
	KindReleased           Kind = "released"
)

// Error is the concrete error type returned by all components. Two *Error
// values compare equal under errors.Is when their kinds match.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// NewError builds an *Error for op with an optional cause.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error with a formatted message.
func Errorf(kind Kind, op string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is comparisons.
var (
	ErrPermissionDenied   = &Error{Kind: KindPermissionDenied}
	ErrDeviceNotFound     = &Error{Kind: KindDeviceNotFound}
	ErrDeviceBusy         = &Error{Kind: KindDeviceBusy}
	ErrDeviceEnumeration  = &Error{Kind: KindDeviceEnumeration}
	ErrUnsupported        = &Error{Kind: KindUnsupported}
	ErrNoStream           = &Error{Kind: KindNoStream}
	ErrCaptureError       = &Error{Kind: KindCaptureError}
	ErrNoCredential       = &Error{Kind: KindNoCredential}
	ErrConnectTimeout     = &Error{Kind: KindConnectTimeout}
	ErrHandshakeRefused   = &Error{Kind: KindHandshakeRefused}
	ErrTransportClosed    = &Error{Kind: KindTransportClosed}
	ErrReconnectExhausted = &Error{Kind: KindReconnectExhausted}
	ErrParseError         = &Error{Kind: KindParseError}
	ErrProtocolError      = &Error{Kind: KindProtocolError}
	ErrNetwork            = &Error{Kind: KindNetwork}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrServerError        = &Error{Kind: KindServerError}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrEvaluationTimeout  = &Error{Kind: KindEvaluationTimeout}
	ErrInvalidState       = &Error{Kind: KindInvalidState}
	ErrSubmitInFlight     = &Error{Kind: KindSubmitInFlight}
	ErrReleased           = &Error{Kind: KindReleased}
)

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether retrying the same operation may succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindServerError, KindDeviceBusy, KindConnectTimeout, KindSubmitInFlight, KindTransportClosed:
		return true
	}
	return false
}

// TransportOrigin reports whether kind is raised by the transport itself
// rather than by one of the analysis streams.
func (k Kind) TransportOrigin() bool {
	switch k {
	case KindNoCredential, KindConnectTimeout, KindHandshakeRefused, KindTransportClosed,
		KindReconnectExhausted, KindParseError, KindProtocolError:
		return true
	}
	return false
}

// HTTPStatusKind maps a response status code onto the persistence taxonomy.
func HTTPStatusKind(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return KindUnauthorized
	case status == 404:
		return KindNotFound
	case status == 409:
		return KindConflict
	case status == 400 || status == 422:
		return KindValidation
	case status >= 500:
		return KindServerError
	case status == 0:
		return KindNetwork
	}
	return KindProtocolError
}
