// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_codec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/zaf/g711"
)

type Encoding string

const (
	Linear16 Encoding = "linear16"
	Mulaw    Encoding = "mulaw"
	Alaw     Encoding = "alaw"
)

const (
	BytesPerSample = 2  // LINEAR16 → 2 bytes per sample
	BitsPerSample  = 16 // LINEAR16 → 16 bits per sample
	PCMFormat      = 1  // WAV PCM format tag
	WAVHeaderSize  = 44
)

// Encode converts 16-bit little-endian PCM into enc. Linear16 returns a copy.
func Encode(enc Encoding, pcm []byte) ([]byte, error) {
	switch enc {
	case Linear16, "":
		out := make([]byte, len(pcm))
		copy(out, pcm)
		return out, nil
	case Mulaw:
		return g711.EncodeUlaw(pcm), nil
	case Alaw:
		return g711.EncodeAlaw(pcm), nil
	}
	return nil, fmt.Errorf("unsupported encoding %q", enc)
}

// Decode is the inverse of Encode.
func Decode(enc Encoding, data []byte) ([]byte, error) {
	switch enc {
	case Linear16, "":
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	case Mulaw:
		return g711.DecodeUlaw(data), nil
	case Alaw:
		return g711.DecodeAlaw(data), nil
	}
	return nil, fmt.Errorf("unsupported encoding %q", enc)
}

// Samples reads 16-bit little-endian PCM into signed samples. A trailing odd
// byte is ignored.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// BytesPerSecond is the PCM byte rate for the given format.
func BytesPerSecond(sampleRate, channels int) int {
	return sampleRate * channels * BytesPerSample
}

// FrameAlign truncates n to a whole number of sample frames.
func FrameAlign(n, channels int) int {
	frame := BytesPerSample * channels
	return (n / frame) * frame
}

// WAV wraps PCM into a RIFF/WAVE container.
func WAV(pcm []byte, sampleRate, channels int) []byte {
	var buf bytes.Buffer
	buf.Grow(WAVHeaderSize + len(pcm))
	bps := BytesPerSecond(sampleRate, channels)

	buf.Write([]byte("RIFF"))
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.Write([]byte("WAVE"))

	buf.Write([]byte("fmt "))
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(PCMFormat))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(bps))
	binary.Write(&buf, binary.LittleEndian, uint16(BytesPerSample*channels))
	binary.Write(&buf, binary.LittleEndian, uint16(BitsPerSample))

	buf.Write([]byte("data"))
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
