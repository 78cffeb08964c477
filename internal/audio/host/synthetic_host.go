// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_host

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"sync"
	"time"

	internal_type "github.com/interviewx/client/internal/type"
	"github.com/interviewx/client/pkg/types"
)

// syntheticHost produces a sine tone in real time. It lets the client run
// on machines without capture hardware.
type syntheticHost struct {
	frequency float64
	block     time.Duration
}

// NewSyntheticHost returns a host whose single device emits a 440 Hz tone.
func NewSyntheticHost() internal_type.MediaHost {
	return &syntheticHost{frequency: 440, block: 20 * time.Millisecond}
}

func (h *syntheticHost) Supported() bool { return true }

func (h *syntheticHost) Devices(context.Context) ([]internal_type.Device, error) {
	return []internal_type.Device{{ID: "synthetic", Label: "Synthetic tone"}}, nil
}

func (h *syntheticHost) Open(_ context.Context, deviceID string, c internal_type.CaptureConstraints) (internal_type.CaptureStream, error) {
	if deviceID != "" && deviceID != "synthetic" {
		return nil, &types.Error{Kind: types.KindDeviceNotFound, Op: "host.open", Message: deviceID}
	}
	return &toneStream{
		frequency: h.frequency,
		rate:      c.SampleRate,
		channels:  c.Channels,
		block:     h.block,
		closed:    make(chan struct{}),
	}, nil
}

func (h *syntheticHost) Play(context.Context, []byte) (internal_type.Playback, error) {
	done := make(chan struct{})
	close(done)
	return &closedPlayback{done: done}, nil
}

type closedPlayback struct{ done chan struct{} }

func (p *closedPlayback) Done() <-chan struct{} { return p.done }
func (p *closedPlayback) Stop() error           { return nil }

type toneStream struct {
	frequency float64
	rate      int
	channels  int
	block     time.Duration
	phase     int
	closed    chan struct{}
	once      sync.Once
}

func (s *toneStream) Read(p []byte) (int, error) {
	select {
	case <-s.closed:
		return 0, io.EOF
	case <-time.After(s.block):
	}
	frames := int(float64(s.rate) * s.block.Seconds())
	frameSize := 2 * s.channels
	if limit := len(p) / frameSize; frames > limit {
		frames = limit
	}
	for i := 0; i < frames; i++ {
		v := int16(0.3 * 32767 * math.Sin(2*math.Pi*s.frequency*float64(s.phase)/float64(s.rate)))
		s.phase++
		for ch := 0; ch < s.channels; ch++ {
			binary.LittleEndian.PutUint16(p[i*frameSize+ch*2:], uint16(v))
		}
	}
	return frames * frameSize, nil
}

func (s *toneStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}
