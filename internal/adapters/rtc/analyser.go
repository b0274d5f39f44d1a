package rtc

import (
	"math"
	"math/cmplx"
	"sync"
)

const (
	AnalyserSize = 256
	minDecibels  = -100.0
	maxDecibels  = -30.0
)

// SpectrumAnalyser keeps the most recent AnalyserSize PCM samples and turns
// them into byte magnitudes per frequency bin on a decibel scale.
type SpectrumAnalyser struct {
	mu     sync.Mutex
	window [AnalyserSize]float64
	pos    int
	closed bool
}

func NewSpectrumAnalyser() *SpectrumAnalyser {
	return &SpectrumAnalyser{}
}

func (a *SpectrumAnalyser) Write(pcm []int16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	for _, s := range pcm {
		a.window[a.pos] = float64(s) / 32768
		a.pos = (a.pos + 1) % AnalyserSize
	}
}

func (a *SpectrumAnalyser) Spectrum() []byte {
	a.mu.Lock()
	var samples [AnalyserSize]float64
	for i := range AnalyserSize {
		samples[i] = a.window[(a.pos+i)%AnalyserSize]
	}
	closed := a.closed
	a.mu.Unlock()

	out := make([]byte, AnalyserSize/2)
	if closed {
		return out
	}
	for k := range out {
		var sum complex128
		for n, x := range samples {
			sum += complex(x, 0) * cmplx.Rect(1, -2*math.Pi*float64(k*n)/AnalyserSize)
		}
		mag := cmplx.Abs(sum) * 2 / AnalyserSize
		out[k] = toByte(mag)
	}
	return out
}

func toByte(mag float64) byte {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	scaled := (db - minDecibels) / (maxDecibels - minDecibels) * 255
	switch {
	case scaled <= 0:
		return 0
	case scaled >= 255:
		return 255
	}
	return byte(scaled)
}

func (a *SpectrumAnalyser) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.window = [AnalyserSize]float64{}
}
