// Package speaking turns local microphone energy into speaking transitions.
package speaking

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/dkeye/chatlink/internal/core"
	"github.com/rs/zerolog/log"
)

const (
	DefaultInterval  = 200 * time.Millisecond
	DefaultThreshold = 15.0
)

// MuteState is read fresh on every sample.
type MuteState interface {
	Muted() bool
}

type Detector struct {
	analyser  core.Analyser
	state     MuteState
	emit      func(speaking bool)
	interval  time.Duration
	threshold float64

	mu       sync.Mutex
	speaking bool
	cancel   context.CancelFunc
	done     chan struct{}
	stopped  bool
}

func New(analyser core.Analyser, state MuteState, emit func(bool), interval time.Duration, threshold float64) *Detector {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{
		analyser:  analyser,
		state:     state,
		emit:      emit,
		interval:  interval,
		threshold: threshold,
	}
}

// Level is the root mean square of the spectrum bins.
func Level(spectrum []byte) float64 {
	if len(spectrum) == 0 {
		return 0
	}
	var sum float64
	for _, v := range spectrum {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(spectrum)))
}

// Start samples every interval until Stop or ctx ends.
func (d *Detector) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil || d.stopped {
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	go d.loop(ctx, d.done)
}

func (d *Detector) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Sample()
		}
	}
}

// Sample takes one reading and emits only when the speaking flag flips.
// While muted the flag is forced false without emitting; the mute toggle
// announces speaking=false itself.
func (d *Detector) Sample() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if d.state.Muted() {
		d.speaking = false
		d.mu.Unlock()
		return
	}
	now := Level(d.analyser.Spectrum()) > d.threshold
	changed := now != d.speaking
	d.speaking = now
	d.mu.Unlock()

	if changed && d.emit != nil {
		d.emit(now)
	}
}

func (d *Detector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

// Stop ends sampling and releases the analyser. It is idempotent.
func (d *Detector) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	d.analyser.Close()
	log.Debug().Str("module", "speaking").Msg("detector stopped")
}
