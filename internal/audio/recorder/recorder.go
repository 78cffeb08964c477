// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/interviewx/client/config"
	internal_codec "github.com/interviewx/client/internal/audio/codec"
	internal_meter "github.com/interviewx/client/internal/audio/meter"
	internal_type "github.com/interviewx/client/internal/type"
	"github.com/interviewx/client/pkg/commons"
	"github.com/interviewx/client/pkg/types"
	"github.com/interviewx/client/pkg/utils"
)

const (
	readBufferSize   = 8192
	chunkChannelSize = 64
	wavMimeType      = "audio/wav"
)

type Option func(*audioRecorder)

func WithClock(clock utils.Clock) Option {
	return func(r *audioRecorder) { r.clock = clock }
}

// WithDevice preselects the input used by RequestPermission.
func WithDevice(deviceID string) Option {
	return func(r *audioRecorder) { r.selected = deviceID }
}

type chunkObserver struct {
	id int
	fn func(internal_type.Chunk)
}

type errorObserver struct {
	id int
	fn func(error)
}

// delivery is the set of notifications produced under the state lock.
type delivery struct {
	chunks []internal_type.Chunk
	close  []chan internal_type.Chunk
	errs   []error
}

type audioRecorder struct {
	logger   commons.Logger
	cfg      config.RecorderConfig
	host     internal_type.MediaHost
	clock    utils.Clock
	meter    *internal_meter.Meter
	encoding internal_codec.Encoding

	// emitMu serialises every path that emits chunks so observers see them
	// in production order.
	emitMu sync.Mutex

	mu         sync.Mutex
	state      internal_type.RecorderState
	permission internal_type.PermissionState
	selected   string
	stream     internal_type.CaptureStream
	generation int
	level      float64

	pending       []byte
	recorded      []byte
	sequence      int
	segment       int
	discontinuity bool
	emitted       int

	accumulated    time.Duration
	recordingSince time.Time
	chunkTimer     utils.Timer
	limitTimer     utils.Timer

	artifact *internal_type.Artifact
	playback internal_type.Playback

	channels       []chan internal_type.Chunk
	nextObserverID int
	chunkObservers []chunkObserver
	errorObservers []errorObserver
}

// NewAudioRecorder creates a recorder over host. The initial state is
// unsupported when the host cannot capture, otherwise no-permission.
func NewAudioRecorder(logger commons.Logger, cfg config.RecorderConfig, host internal_type.MediaHost, opts ...Option) internal_type.AudioRecorder {
	r := &audioRecorder{
		logger:     logger,
		cfg:        cfg,
		host:       host,
		clock:      utils.NewRealClock(),
		meter:      internal_meter.New(internal_meter.DefaultSize),
		encoding:   internal_codec.Encoding(cfg.Encoding),
		state:      internal_type.RecorderNoPermission,
		permission: internal_type.PermissionUnknown,
	}
	for _, opt := range opts {
		opt(r)
	}
	if host == nil || !host.Supported() {
		r.state = internal_type.RecorderUnsupported
		r.permission = internal_type.PermissionUnsupported
	}
	return r
}

func (r *audioRecorder) constraints() internal_type.CaptureConstraints {
	return internal_type.CaptureConstraints{
		EchoCancellation: r.cfg.EchoCancellation,
		NoiseSuppression: r.cfg.NoiseSuppression,
		AutoGain:         r.cfg.AutoGain,
		SampleRate:       r.cfg.SampleRate,
		Channels:         r.cfg.Channels,
	}
}

func (r *audioRecorder) EnumerateDevices(ctx context.Context) ([]internal_type.Device, error) {
	const op = "recorder.enumerate-devices"
	r.mu.Lock()
	state := r.state
	r.mu.Unlock()
	switch state {
	case internal_type.RecorderUnsupported:
		return nil, types.NewError(types.KindUnsupported, op, nil)
	case internal_type.RecorderReleased:
		return nil, types.NewError(types.KindReleased, op, nil)
	}
	devices, err := r.host.Devices(ctx)
	if err != nil {
		return nil, types.NewError(types.KindDeviceEnumeration, op, err)
	}
	return devices, nil
}

// RequestPermission opens a capture stream on the selected device, or on
// the first enumerated device when none is selected, and starts metering.
func (r *audioRecorder) RequestPermission(ctx context.Context) (internal_type.PermissionResult, error) {
	const op = "recorder.request-permission"
	r.mu.Lock()
	switch {
	case r.state == internal_type.RecorderUnsupported:
		r.mu.Unlock()
		return internal_type.PermissionResult{State: internal_type.PermissionUnsupported},
			types.NewError(types.KindUnsupported, op, nil)
	case r.state == internal_type.RecorderReleased:
		res := internal_type.PermissionResult{State: r.permission, SelectedDeviceID: r.selected}
		r.mu.Unlock()
		return res, types.NewError(types.KindReleased, op, nil)
	case r.stream != nil:
		res := internal_type.PermissionResult{State: r.permission, SelectedDeviceID: r.selected}
		r.mu.Unlock()
		return res, nil
	}
	selected := r.selected
	r.mu.Unlock()

	if selected == "" {
		devices, err := r.host.Devices(ctx)
		if err != nil {
			return internal_type.PermissionResult{State: internal_type.PermissionUnknown},
				types.NewError(types.KindDeviceEnumeration, op, err)
		}
		if len(devices) == 0 {
			return internal_type.PermissionResult{State: internal_type.PermissionUnknown},
				types.Errorf(types.KindDeviceNotFound, op, "no audio input available")
		}
		selected = devices[0].ID
	}

	stream, err := r.host.Open(ctx, selected, r.constraints())

	r.mu.Lock()
	if err != nil {
		if types.KindOf(err) == types.KindPermissionDenied {
			r.permission = internal_type.PermissionDenied
		}
		res := internal_type.PermissionResult{State: r.permission, SelectedDeviceID: r.selected}
		r.mu.Unlock()
		r.logger.Warnw("audio permission request failed", "device", selected, "error", err)
		return res, classify(op, err)
	}
	if r.state == internal_type.RecorderReleased {
		r.mu.Unlock()
		_ = stream.Close()
		return internal_type.PermissionResult{State: r.permission}, types.NewError(types.KindReleased, op, nil)
	}
	r.selected = selected
	r.permission = internal_type.PermissionGranted
	if r.state == internal_type.RecorderNoPermission {
		r.state = internal_type.RecorderIdle
	}
	r.installStreamLocked(stream)
	res := internal_type.PermissionResult{State: r.permission, SelectedDeviceID: selected}
	r.mu.Unlock()

	r.logger.Infow("audio permission granted", "device", selected)
	return res, nil
}

func (r *audioRecorder) Start() error {
	const op = "recorder.start"
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case internal_type.RecorderUnsupported:
		return types.NewError(types.KindUnsupported, op, nil)
	case internal_type.RecorderReleased:
		return types.NewError(types.KindNoStream, op, nil)
	case internal_type.RecorderNoPermission:
		if r.permission == internal_type.PermissionDenied {
			return types.NewError(types.KindPermissionDenied, op, nil)
		}
		return types.NewError(types.KindNoStream, op, nil)
	case internal_type.RecorderIdle:
	default:
		return types.Errorf(types.KindInvalidState, op, "cannot start while %s", r.state)
	}
	if r.stream == nil {
		return types.NewError(types.KindNoStream, op, nil)
	}

	r.pending = nil
	r.recorded = nil
	r.sequence = 0
	r.segment = 0
	r.emitted = 0
	r.discontinuity = false
	r.artifact = nil
	r.accumulated = 0
	r.recordingSince = r.clock.Now()
	r.state = internal_type.RecorderRecording
	r.armTimersLocked()
	r.logger.Debugf("recording started on %s", r.selected)
	return nil
}

func (r *audioRecorder) Pause() error {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	d := &delivery{}
	r.mu.Lock()
	if r.state != internal_type.RecorderRecording {
		state := r.state
		r.mu.Unlock()
		return types.Errorf(types.KindInvalidState, "recorder.pause", "cannot pause while %s", state)
	}
	r.accumulated += r.clock.Now().Sub(r.recordingSince)
	r.stopTimersLocked()
	r.flushLocked(d)
	r.closeChannelsLocked(d)
	r.state = internal_type.RecorderPaused
	r.mu.Unlock()
	r.deliver(d)
	return nil
}

func (r *audioRecorder) Resume() error {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != internal_type.RecorderPaused {
		return types.Errorf(types.KindInvalidState, "recorder.resume", "cannot resume while %s", r.state)
	}
	r.recordingSince = r.clock.Now()
	r.state = internal_type.RecorderRecording
	r.armTimersLocked()
	return nil
}

// Stop seals the recording. Calling Stop again returns the same artifact
// without changing anything.
func (r *audioRecorder) Stop(ctx context.Context) (*internal_type.Artifact, error) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	d := &delivery{}
	r.mu.Lock()
	switch r.state {
	case internal_type.RecorderStopped:
		artifact := r.artifact
		r.mu.Unlock()
		return artifact, nil
	case internal_type.RecorderRecording, internal_type.RecorderPaused:
	default:
		state := r.state
		r.mu.Unlock()
		return nil, types.Errorf(types.KindInvalidState, "recorder.stop", "cannot stop while %s", state)
	}
	r.stopLocked(false, d)
	artifact := r.artifact
	r.mu.Unlock()
	r.deliver(d)
	return artifact, nil
}

func (r *audioRecorder) Clear() error {
	r.mu.Lock()
	if r.state != internal_type.RecorderStopped {
		state := r.state
		r.mu.Unlock()
		return types.Errorf(types.KindInvalidState, "recorder.clear", "cannot clear while %s", state)
	}
	playback := r.playback
	r.playback = nil
	r.artifact = nil
	r.recorded = nil
	r.pending = nil
	r.accumulated = 0
	r.state = internal_type.RecorderIdle
	r.mu.Unlock()
	if playback != nil {
		_ = playback.Stop()
	}
	return nil
}

// SwitchDevice moves capture to deviceID. While recording, the chunks that
// follow belong to a new segment and the first of them is flagged as a
// discontinuity.
func (r *audioRecorder) SwitchDevice(ctx context.Context, deviceID string) error {
	const op = "recorder.switch-device"
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	d := &delivery{}
	r.mu.Lock()
	switch r.state {
	case internal_type.RecorderUnsupported:
		r.mu.Unlock()
		return types.NewError(types.KindUnsupported, op, nil)
	case internal_type.RecorderReleased:
		r.mu.Unlock()
		return types.NewError(types.KindReleased, op, nil)
	}
	if r.state == internal_type.RecorderNoPermission && r.stream == nil {
		// nothing to release; remember the choice for the next permission request
		r.selected = deviceID
		r.mu.Unlock()
		return nil
	}
	capturing := r.state == internal_type.RecorderRecording || r.state == internal_type.RecorderPaused
	if capturing {
		r.flushLocked(d)
		r.segment++
		r.discontinuity = true
	}
	old := r.stream
	r.stream = nil
	r.generation++
	r.mu.Unlock()
	r.deliver(d)
	if old != nil {
		_ = old.Close()
	}

	stream, err := r.host.Open(ctx, deviceID, r.constraints())

	d = &delivery{}
	r.mu.Lock()
	if r.state == internal_type.RecorderReleased {
		r.mu.Unlock()
		if stream != nil {
			_ = stream.Close()
		}
		return types.NewError(types.KindReleased, op, nil)
	}
	if err != nil {
		if types.KindOf(err) == types.KindPermissionDenied {
			r.permission = internal_type.PermissionDenied
		}
		if capturing {
			r.stopLocked(true, d)
		}
		r.mu.Unlock()
		r.deliver(d)
		r.logger.Warnw("device switch failed", "device", deviceID, "error", err)
		return classify(op, err)
	}
	r.selected = deviceID
	r.permission = internal_type.PermissionGranted
	if r.state == internal_type.RecorderNoPermission {
		r.state = internal_type.RecorderIdle
	}
	r.installStreamLocked(stream)
	r.mu.Unlock()
	r.logger.Infow("switched audio input", "device", deviceID, "segment", r.segmentSnapshot())
	return nil
}

func (r *audioRecorder) Play(ctx context.Context) error {
	const op = "recorder.play"
	r.mu.Lock()
	if r.state != internal_type.RecorderStopped || r.artifact == nil {
		r.mu.Unlock()
		return types.Errorf(types.KindInvalidState, op, "no recording to play")
	}
	if r.playback != nil {
		r.mu.Unlock()
		return nil
	}
	wav := r.artifact.Data
	r.mu.Unlock()

	playback, err := r.host.Play(ctx, wav)
	if err != nil {
		return classify(op, err)
	}
	r.mu.Lock()
	if r.state != internal_type.RecorderStopped {
		r.mu.Unlock()
		_ = playback.Stop()
		return types.Errorf(types.KindInvalidState, op, "recording changed during playback start")
	}
	r.playback = playback
	r.mu.Unlock()

	go func() {
		<-playback.Done()
		r.mu.Lock()
		if r.playback == playback {
			r.playback = nil
		}
		r.mu.Unlock()
	}()
	return nil
}

func (r *audioRecorder) StopPlayback() error {
	r.mu.Lock()
	playback := r.playback
	r.playback = nil
	r.mu.Unlock()
	if playback == nil {
		return nil
	}
	return playback.Stop()
}

// Release tears down the stream, the meter and any playback. Chunks already
// emitted stay emitted; an unsealed recording is discarded.
func (r *audioRecorder) Release() error {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	d := &delivery{}
	r.mu.Lock()
	if r.state == internal_type.RecorderReleased {
		r.mu.Unlock()
		return nil
	}
	r.stopTimersLocked()
	r.closeChannelsLocked(d)
	stream := r.stream
	playback := r.playback
	r.stream = nil
	r.playback = nil
	r.generation++
	r.pending = nil
	r.recorded = nil
	if r.state != internal_type.RecorderStopped {
		r.artifact = nil
	}
	r.level = 0
	r.state = internal_type.RecorderReleased
	r.mu.Unlock()

	r.meter.Reset()
	if stream != nil {
		_ = stream.Close()
	}
	if playback != nil {
		_ = playback.Stop()
	}
	r.deliver(d)
	r.logger.Debugf("audio recorder released")
	return nil
}

// Chunks returns the chunks emitted from now until capture leaves the
// recording state. Outside recording the returned channel is already closed.
// The channel buffers chunkChannelSize chunks; a consumer that falls further
// behind has its channel closed early rather than missing chunks silently.
func (r *audioRecorder) Chunks() <-chan internal_type.Chunk {
	ch := make(chan internal_type.Chunk, chunkChannelSize)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != internal_type.RecorderRecording {
		close(ch)
		return ch
	}
	r.channels = append(r.channels, ch)
	return ch
}

// OnChunk registers fn for every chunk of every recording, in emission order.
func (r *audioRecorder) OnChunk(fn func(internal_type.Chunk)) internal_type.Unsubscribe {
	r.mu.Lock()
	r.nextObserverID++
	id := r.nextObserverID
	r.chunkObservers = append(r.chunkObservers, chunkObserver{id: id, fn: fn})
	r.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for i := range r.chunkObservers {
				if r.chunkObservers[i].id == id {
					r.chunkObservers = append(r.chunkObservers[:i:i], r.chunkObservers[i+1:]...)
					break
				}
			}
		})
	}
}

// OnError registers fn for capture errors raised outside of a call.
func (r *audioRecorder) OnError(fn func(error)) internal_type.Unsubscribe {
	r.mu.Lock()
	r.nextObserverID++
	id := r.nextObserverID
	r.errorObservers = append(r.errorObservers, errorObserver{id: id, fn: fn})
	r.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for i := range r.errorObservers {
				if r.errorObservers[i].id == id {
					r.errorObservers = append(r.errorObservers[:i:i], r.errorObservers[i+1:]...)
					break
				}
			}
		})
	}
}

func (r *audioRecorder) State() internal_type.RecordingState {
	r.mu.Lock()
	defer r.mu.Unlock()
	elapsed := r.accumulated
	if r.state == internal_type.RecorderRecording {
		elapsed += r.clock.Now().Sub(r.recordingSince)
	}
	return internal_type.RecordingState{
		Permission:     r.permission,
		ActiveDeviceID: r.selected,
		State:          r.state,
		ElapsedSeconds: int(elapsed / time.Second),
		Level:          r.level,
		HasArtifact:    r.artifact != nil,
		Playing:        r.playback != nil,
	}
}

func (r *audioRecorder) segmentSnapshot() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.segment
}

func (r *audioRecorder) installStreamLocked(stream internal_type.CaptureStream) {
	r.generation++
	r.stream = stream
	gen := r.generation
	r.meter.Reset()
	utils.Go(context.Background(), func() {
		r.capture(stream, gen)
	})
}

// capture pumps PCM from one stream until it closes or fails.
func (r *audioRecorder) capture(stream internal_type.CaptureStream, gen int) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			r.ingest(gen, buf[:n])
		}
		if err != nil {
			r.captureFailed(gen, err)
			return
		}
	}
}

func (r *audioRecorder) ingest(gen int, data []byte) {
	level := r.meter.Push(internal_codec.Samples(data))
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.generation {
		return
	}
	r.level = level
	if r.state == internal_type.RecorderRecording {
		r.pending = append(r.pending, data...)
		r.recorded = append(r.recorded, data...)
	}
}

// captureFailed handles a stream that ended without being closed by us.
// During capture the recording is forced to stopped, keeping a partial
// artifact only if some chunk was already emitted.
func (r *audioRecorder) captureFailed(gen int, cause error) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	d := &delivery{}
	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		return
	}
	stream := r.stream
	r.stream = nil
	r.generation++
	r.level = 0
	err := types.NewError(types.KindCaptureError, "recorder.capture", cause)
	if r.state == internal_type.RecorderRecording || r.state == internal_type.RecorderPaused {
		r.stopLocked(true, d)
	}
	d.errs = append(d.errs, err)
	r.mu.Unlock()
	if stream != nil {
		_ = stream.Close()
	}
	r.logger.Errorw("audio capture failed", "error", cause)
	r.deliver(d)
}

// stopLocked seals the current recording. A partial stop only keeps an
// artifact when at least one chunk reached observers.
func (r *audioRecorder) stopLocked(partial bool, d *delivery) {
	if r.state == internal_type.RecorderRecording {
		r.accumulated += r.clock.Now().Sub(r.recordingSince)
	}
	r.stopTimersLocked()
	r.flushLocked(d)
	r.closeChannelsLocked(d)
	r.state = internal_type.RecorderStopped

	if partial && r.emitted == 0 {
		r.artifact = nil
		r.recorded = nil
		return
	}
	r.artifact = &internal_type.Artifact{
		MimeType:   wavMimeType,
		Data:       internal_codec.WAV(r.recorded, r.cfg.SampleRate, r.cfg.Channels),
		Duration:   r.accumulated,
		ChunkCount: r.emitted,
		Partial:    partial,
	}
	r.logger.Debugf("recording sealed: %d bytes pcm, %d chunks, %s", len(r.recorded), r.emitted, r.accumulated)
}

// flushLocked turns the bytes captured since the previous emission into a
// chunk. Nothing is emitted when no audio arrived.
func (r *audioRecorder) flushLocked(d *delivery) {
	n := internal_codec.FrameAlign(len(r.pending), r.cfg.Channels)
	if n == 0 {
		return
	}
	pcm := r.pending[:n]
	rest := append([]byte(nil), r.pending[n:]...)
	data, err := internal_codec.Encode(r.encoding, pcm)
	if err != nil {
		r.logger.Errorf("unable to encode chunk, sending linear16: %v", err)
		data = append([]byte(nil), pcm...)
	}
	encoding := r.encoding
	if encoding == "" {
		encoding = internal_codec.Linear16
	}
	chunk := internal_type.Chunk{
		Sequence:      r.sequence,
		Segment:       r.segment,
		Encoding:      string(encoding),
		Data:          data,
		Timestamp:     r.clock.Now(),
		Discontinuity: r.discontinuity,
	}
	r.sequence++
	r.emitted++
	r.discontinuity = false
	r.pending = rest
	d.chunks = append(d.chunks, chunk)
}

func (r *audioRecorder) closeChannelsLocked(d *delivery) {
	d.close = append(d.close, r.channels...)
	r.channels = nil
}

func (r *audioRecorder) armTimersLocked() {
	r.chunkTimer = r.clock.AfterFunc(r.cfg.ChunkInterval(), r.tick)
	if limit := r.cfg.MaxDuration(); limit > 0 {
		remaining := limit - r.accumulated
		if remaining < 0 {
			remaining = 0
		}
		r.limitTimer = r.clock.AfterFunc(remaining, r.limitReached)
	}
}

func (r *audioRecorder) stopTimersLocked() {
	if r.chunkTimer != nil {
		r.chunkTimer.Stop()
		r.chunkTimer = nil
	}
	if r.limitTimer != nil {
		r.limitTimer.Stop()
		r.limitTimer = nil
	}
}

// tick emits one chunk per interval while recording.
func (r *audioRecorder) tick() {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	d := &delivery{}
	r.mu.Lock()
	if r.state != internal_type.RecorderRecording {
		r.mu.Unlock()
		return
	}
	r.flushLocked(d)
	r.chunkTimer = r.clock.AfterFunc(r.cfg.ChunkInterval(), r.tick)
	r.mu.Unlock()
	r.deliver(d)
}

func (r *audioRecorder) limitReached() {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	d := &delivery{}
	r.mu.Lock()
	if r.state != internal_type.RecorderRecording {
		r.mu.Unlock()
		return
	}
	r.logger.Infow("maximum recording duration reached", "max", r.cfg.MaxDuration())
	r.stopLocked(false, d)
	r.mu.Unlock()
	r.deliver(d)
}

func (r *audioRecorder) deliver(d *delivery) {
	if len(d.chunks) == 0 && len(d.close) == 0 && len(d.errs) == 0 {
		return
	}
	r.mu.Lock()
	chunkObs := append([]chunkObserver(nil), r.chunkObservers...)
	errObs := append([]errorObserver(nil), r.errorObservers...)
	channels := append([]chan internal_type.Chunk(nil), r.channels...)
	channels = append(channels, d.close...)
	r.mu.Unlock()

	overrun := make(map[chan internal_type.Chunk]struct{})
	for _, c := range d.chunks {
		for _, o := range chunkObs {
			if err := utils.SafeCall(func() { o.fn(c) }); err != nil {
				r.logger.Errorw("chunk observer failed", "sequence", c.Sequence, "error", err)
			}
		}
		for _, ch := range channels {
			if _, ok := overrun[ch]; ok {
				continue
			}
			select {
			case ch <- c:
			default:
				// a gap would corrupt the stream, so end it instead
				r.logger.Warnw("chunk consumer too slow, closing its channel", "sequence", c.Sequence)
				overrun[ch] = struct{}{}
			}
		}
	}
	if len(overrun) > 0 {
		r.mu.Lock()
		kept := r.channels[:0]
		for _, ch := range r.channels {
			if _, ok := overrun[ch]; !ok {
				kept = append(kept, ch)
			}
		}
		r.channels = kept
		r.mu.Unlock()
	}
	for _, ch := range d.close {
		delete(overrun, ch)
		close(ch)
	}
	for ch := range overrun {
		close(ch)
	}
	for _, err := range d.errs {
		for _, o := range errObs {
			_ = utils.SafeCall(func() { o.fn(err) })
		}
	}
}

// classify keeps typed host errors and wraps anything else as a capture error.
func classify(op string, err error) error {
	var typed *types.Error
	if errors.As(err, &typed) {
		return &types.Error{Kind: typed.Kind, Op: op, Message: typed.Message, Err: typed.Err}
	}
	return types.NewError(types.KindCaptureError, op, fmt.Errorf("host: %w", err))
}

var _ internal_type.AudioRecorder = (*audioRecorder)(nil)
