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

type PermissionState string

const (
	PermissionUnknown     PermissionState = "unknown"
	PermissionGranted     PermissionState = "granted"
	PermissionDenied      PermissionState = "denied"
	PermissionUnsupported PermissionState = "unsupported"
)

// RecorderState is the full recorder state machine position.
type RecorderState string

const (
	RecorderUnsupported  RecorderState = "unsupported"
	RecorderNoPermission RecorderState = "no-permission"
	RecorderIdle         RecorderState = "idle"
	RecorderRecording    RecorderState = "recording"
	RecorderPaused       RecorderState = "paused"
	RecorderStopped      RecorderState = "stopped"
	RecorderReleased     RecorderState = "released"
)

// CaptureState projects RecorderState onto {idle, recording, paused, stopped}.
func (s RecorderState) CaptureState() string {
	switch s {
	case RecorderRecording, RecorderPaused, RecorderStopped:
		return string(s)
	}
	return string(RecorderIdle)
}

// Device is one audio input.
type Device struct {
	ID    string `json:"deviceId"`
	Label string `json:"label"`
}

// CaptureConstraints are the hints passed to the host when a stream is opened.
type CaptureConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGain         bool
	SampleRate       int
	Channels         int
}

// PermissionResult is returned by RequestPermission.
type PermissionResult struct {
	State            PermissionState `json:"permissionState"`
	SelectedDeviceID string          `json:"selectedDeviceId,omitempty"`
}

// Chunk is one fragment of an in-progress recording. Sequence increases
// across the whole recording; Segment increases on every device switch.
type Chunk struct {
	Sequence      int       `json:"sequence"`
	Segment       int       `json:"segment"`
	Encoding      string    `json:"encoding"`
	Data          []byte    `json:"data"`
	Timestamp     time.Time `json:"timestamp"`
	Discontinuity bool      `json:"discontinuity"`
}

// Artifact is the sealed recording available after stop.
type Artifact struct {
	MimeType   string        `json:"mimeType"`
	Data       []byte        `json:"-"`
	Duration   time.Duration `json:"duration"`
	ChunkCount int           `json:"chunkCount"`
	Partial    bool          `json:"partial"`
}

// RecordingState is the observable recorder state.
type RecordingState struct {
	Permission     PermissionState `json:"permissionState"`
	ActiveDeviceID string          `json:"activeDeviceId"`
	State          RecorderState   `json:"state"`
	ElapsedSeconds int             `json:"elapsedSeconds"`
	Level          float64         `json:"level"`
	HasArtifact    bool            `json:"hasArtifact"`
	Playing        bool            `json:"playing"`
}

// AudioRecorder is the capture surface the session runner depends on.
type AudioRecorder interface {
	EnumerateDevices(ctx context.Context) ([]Device, error)
	RequestPermission(ctx context.Context) (PermissionResult, error)
	Start() error
	Pause() error
	Resume() error
	Stop(ctx context.Context) (*Artifact, error)
	Clear() error
	SwitchDevice(ctx context.Context, deviceID string) error
	Play(ctx context.Context) error
	StopPlayback() error
	Release() error
	// Chunks streams the current recording's chunks and is closed when
	// recording stops. The channel is buffered; if the consumer falls behind
	// the buffer it is closed early, so a closed channel while State still
	// reports recording means chunks were missed. Use OnChunk for lossless
	// delivery.
	Chunks() <-chan Chunk
	// OnChunk observes every chunk of every recording in emission order.
	OnChunk(fn func(Chunk)) Unsubscribe
	// OnError observes capture errors raised outside of a call.
	OnError(fn func(error)) Unsubscribe
	State() RecordingState
}

// CaptureStream yields interleaved signed 16-bit little-endian PCM.
type CaptureStream interface {
	Read(p []byte) (int, error)
	Close() error
}

// Playback is an in-flight replay of an artifact.
type Playback interface {
	// Done is closed once playback has finished or been stopped.
	Done() <-chan struct{}
	Stop() error
}

// MediaHost is the platform capture and playback capability. Open fails
// with permission-denied, device-not-found or device-busy kinds.
type MediaHost interface {
	Supported() bool
	Devices(ctx context.Context) ([]Device, error)
	Open(ctx context.Context, deviceID string, constraints CaptureConstraints) (CaptureStream, error)
	Play(ctx context.Context, wav []byte) (Playback, error)
}
