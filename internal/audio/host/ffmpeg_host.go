// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_host

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"

	internal_type "github.com/interviewx/client/internal/type"
	"github.com/interviewx/client/pkg/commons"
	"github.com/interviewx/client/pkg/types"
)

const DefaultDeviceID = "default"

// ffmpegHost captures through an ffmpeg child process writing raw s16le PCM
// to stdout and plays artifacts back through ffplay.
type ffmpegHost struct {
	logger     commons.Logger
	ffmpegPath string
	ffplayPath string
	format     string
	goos       string
}

// NewFFmpegHost probes PATH for ffmpeg and ffplay. Without ffmpeg the host
// reports Supported() == false.
func NewFFmpegHost(logger commons.Logger) internal_type.MediaHost {
	h := &ffmpegHost{logger: logger, goos: runtime.GOOS}
	if p, err := exec.LookPath("ffmpeg"); err == nil {
		h.ffmpegPath = p
	} else {
		logger.Warnf("ffmpeg not found, audio capture unsupported: %v", err)
	}
	if p, err := exec.LookPath("ffplay"); err == nil {
		h.ffplayPath = p
	}
	h.format = inputFormat(h.goos)
	return h
}

func inputFormat(goos string) string {
	switch goos {
	case "darwin":
		return "avfoundation"
	case "windows":
		return "dshow"
	}
	return "pulse"
}

func (h *ffmpegHost) Supported() bool { return h.ffmpegPath != "" }

func (h *ffmpegHost) Devices(ctx context.Context) ([]internal_type.Device, error) {
	if !h.Supported() {
		return nil, types.NewError(types.KindUnsupported, "host.devices", nil)
	}
	var args []string
	switch h.format {
	case "pulse":
		args = []string{"-hide_banner", "-sources", "pulse"}
	default:
		args = []string{"-hide_banner", "-f", h.format, "-list_devices", "true", "-i", ""}
	}
	// ffmpeg exits non-zero when listing devices; the listing is still valid.
	out, _ := exec.CommandContext(ctx, h.ffmpegPath, args...).CombinedOutput()
	if ctx.Err() != nil {
		return nil, types.NewError(types.KindDeviceEnumeration, "host.devices", ctx.Err())
	}

	var devices []internal_type.Device
	switch h.format {
	case "pulse":
		devices = parsePulseSources(out)
	case "avfoundation":
		devices = parseAVFoundationDevices(out)
	default:
		devices = parseDShowDevices(out)
	}
	if len(devices) == 0 {
		devices = []internal_type.Device{{ID: DefaultDeviceID, Label: "Default input"}}
	}
	return devices, nil
}

var pulseSourceLine = regexp.MustCompile(`^\s*\*?\s*(\S+)\s+\[(.+)\]`)

func parsePulseSources(out []byte) []internal_type.Device {
	var devices []internal_type.Device
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		m := pulseSourceLine.FindStringSubmatch(sc.Text())
		if m == nil || strings.HasSuffix(m[1], ".monitor") || strings.HasSuffix(m[1], ":") {
			continue
		}
		devices = append(devices, internal_type.Device{ID: m[1], Label: m[2]})
	}
	return devices
}

var avfoundationLine = regexp.MustCompile(`\]\s+\[(\d+)\]\s+(.+)$`)

func parseAVFoundationDevices(out []byte) []internal_type.Device {
	var devices []internal_type.Device
	inAudio := false
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if strings.Contains(line, "audio devices:") {
			inAudio = true
			continue
		}
		if strings.Contains(line, "video devices:") {
			inAudio = false
			continue
		}
		if !inAudio {
			continue
		}
		if m := avfoundationLine.FindStringSubmatch(line); m != nil {
			devices = append(devices, internal_type.Device{ID: ":" + m[1], Label: m[2]})
		}
	}
	return devices
}

var dshowAudioLine = regexp.MustCompile(`"(.+)"\s+\(audio\)`)

func parseDShowDevices(out []byte) []internal_type.Device {
	var devices []internal_type.Device
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if m := dshowAudioLine.FindStringSubmatch(sc.Text()); m != nil {
			devices = append(devices, internal_type.Device{ID: "audio=" + m[1], Label: m[1]})
		}
	}
	return devices
}

// captureArgs builds the ffmpeg command line for one capture stream.
func (h *ffmpegHost) captureArgs(deviceID string, c internal_type.CaptureConstraints) []string {
	input := deviceID
	if input == "" || input == DefaultDeviceID {
		switch h.format {
		case "avfoundation":
			input = ":default"
		case "dshow":
			input = "audio=default"
		default:
			input = "default"
		}
	}
	args := []string{"-hide_banner", "-loglevel", "error", "-f", h.format, "-i", input}
	var filters []string
	if c.NoiseSuppression {
		filters = append(filters, "afftdn")
	}
	if c.AutoGain {
		filters = append(filters, "dynaudnorm")
	}
	if len(filters) > 0 {
		args = append(args, "-af", strings.Join(filters, ","))
	}
	return append(args,
		"-ac", strconv.Itoa(c.Channels),
		"-ar", strconv.Itoa(c.SampleRate),
		"-f", "s16le", "-",
	)
}

func (h *ffmpegHost) Open(ctx context.Context, deviceID string, c internal_type.CaptureConstraints) (internal_type.CaptureStream, error) {
	const op = "host.open"
	if !h.Supported() {
		return nil, types.NewError(types.KindUnsupported, op, nil)
	}
	if c.EchoCancellation {
		h.logger.Debugf("echo cancellation requested, not available for ffmpeg capture")
	}
	cmd := exec.Command(h.ffmpegPath, h.captureArgs(deviceID, c)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, types.NewError(types.KindCaptureError, op, err)
	}
	stderr := &boundedBuffer{max: 4096}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, types.NewError(types.KindDeviceBusy, op, err)
	}

	// The first read proves the device opened; ffmpeg exits early on failure.
	first := make([]byte, 1)
	if _, err := io.ReadFull(stdout, first); err != nil {
		_ = cmd.Wait()
		return nil, classifyOpenError(deviceID, stderr.String(), err)
	}
	h.logger.Debugf("capture started on %s (pid %d)", deviceID, cmd.Process.Pid)
	return &processStream{cmd: cmd, reader: io.MultiReader(bytes.NewReader(first), stdout)}, nil
}

func classifyOpenError(deviceID, stderr string, err error) error {
	const op = "host.open"
	msg := strings.ToLower(stderr)
	cause := fmt.Errorf("%s: %w", strings.TrimSpace(stderr), err)
	switch {
	case strings.Contains(msg, "permission denied") || strings.Contains(msg, "not authorized"):
		return types.NewError(types.KindPermissionDenied, op, cause)
	case strings.Contains(msg, "no such") || strings.Contains(msg, "not found") || strings.Contains(msg, "invalid"):
		return &types.Error{Kind: types.KindDeviceNotFound, Op: op, Message: deviceID, Err: cause}
	}
	return types.NewError(types.KindDeviceBusy, op, cause)
}

type processStream struct {
	cmd    *exec.Cmd
	reader io.Reader
	once   sync.Once
}

func (s *processStream) Read(p []byte) (int, error) { return s.reader.Read(p) }

func (s *processStream) Close() error {
	var err error
	s.once.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		err = s.cmd.Wait()
		if _, ok := err.(*exec.ExitError); ok {
			err = nil
		}
	})
	return err
}

func (h *ffmpegHost) Play(ctx context.Context, wav []byte) (internal_type.Playback, error) {
	if h.ffplayPath == "" {
		return nil, types.Errorf(types.KindUnsupported, "host.play", "ffplay not found")
	}
	cmd := exec.CommandContext(ctx, h.ffplayPath, "-nodisp", "-autoexit", "-loglevel", "error", "-i", "-")
	cmd.Stdin = bytes.NewReader(wav)
	if err := cmd.Start(); err != nil {
		return nil, types.NewError(types.KindCaptureError, "host.play", err)
	}
	p := &processPlayback{cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type processPlayback struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func (p *processPlayback) Done() <-chan struct{} { return p.done }

func (p *processPlayback) Stop() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if p.cmd.Process != nil {
		return p.cmd.Process.Kill()
	}
	return nil
}

// boundedBuffer keeps the head of a child's stderr for error classification.
type boundedBuffer struct {
	mu  sync.Mutex
	max int
	buf bytes.Buffer
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
