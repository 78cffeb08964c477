// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_meter

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	DefaultSize      = 2048
	DefaultSmoothing = 0.8
	MinDecibels      = -100.0
	MaxDecibels      = -30.0
)

// Meter turns blocks of PCM samples into a 0..100 input level by averaging
// the byte-scaled frequency-domain magnitude over every bin, the same way an
// analyser node reports frequency data.
type Meter struct {
	mu        sync.Mutex
	size      int
	smoothing float64
	fft       *fourier.FFT
	window    []float64
	frame     []float64
	smoothed  []float64
	buffered  []float64
}

// New creates a meter analysing size samples at a time. size is rounded up
// to the next power of two.
func New(size int) *Meter {
	n := 32
	for n < size {
		n <<= 1
	}
	window := make([]float64, n)
	for i := range window {
		x := 2 * math.Pi * float64(i) / float64(n)
		window[i] = 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
	}
	return &Meter{
		size:      n,
		smoothing: DefaultSmoothing,
		fft:       fourier.NewFFT(n),
		window:    window,
		frame:     make([]float64, n),
		smoothed:  make([]float64, n/2+1),
		buffered:  make([]float64, 0, n),
	}
}

// Push feeds samples and returns the level computed over the most recent
// window. Samples shorter than the window are zero padded.
func (m *Meter) Push(samples []int16) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range samples {
		m.buffered = append(m.buffered, float64(s)/32768.0)
	}
	if len(m.buffered) > m.size {
		m.buffered = append(m.buffered[:0], m.buffered[len(m.buffered)-m.size:]...)
	}

	offset := m.size - len(m.buffered)
	for i := range m.frame {
		m.frame[i] = 0
		if i >= offset {
			m.frame[i] = m.buffered[i-offset] * m.window[i]
		}
	}

	coeffs := m.fft.Coefficients(nil, m.frame)
	var total float64
	for i, c := range coeffs {
		mag := cmplx.Abs(c) / float64(m.size)
		m.smoothed[i] = m.smoothing*m.smoothed[i] + (1-m.smoothing)*mag
		total += byteScale(m.smoothed[i])
	}
	avg := total / float64(len(coeffs))
	return math.Min(100, avg/255*100)
}

// Reset clears the smoothing history and buffered samples.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buffered = m.buffered[:0]
	for i := range m.smoothed {
		m.smoothed[i] = 0
	}
}

func byteScale(magnitude float64) float64 {
	if magnitude <= 0 {
		return 0
	}
	db := 20 * math.Log10(magnitude)
	v := 255 * (db - MinDecibels) / (MaxDecibels - MinDecibels)
	return math.Max(0, math.Min(255, v))
}
