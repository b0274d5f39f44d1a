// Package sink plays back remote participants' audio.
package sink

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dkeye/chatlink/internal/core"
	"github.com/dkeye/chatlink/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Playback receives every RTP packet a sink reads.
type Playback interface {
	Play(remote domain.UserID, pkt *rtp.Packet) error
}

// Discard drops packets; it is the output when no audio device is wired.
type Discard struct{}

func (Discard) Play(domain.UserID, *rtp.Packet) error { return nil }

// Sink drains the remote tracks of one participant into a Playback.
type Sink struct {
	id     string
	remote domain.UserID
	out    Playback
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	tracks map[string]struct{}

	packets atomic.Uint64
	closed  atomic.Bool
}

var _ core.AudioSink = (*Sink)(nil)

func New(remote domain.UserID, out Playback) *Sink {
	if out == nil {
		out = Discard{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Sink{
		id:     id,
		remote: remote,
		out:    out,
		logger: log.With().Str("module", "sink").Int64("remote", int64(remote)).Str("sink", id).Logger(),
		ctx:    ctx,
		cancel: cancel,
		tracks: make(map[string]struct{}),
	}
}

// Factory adapts New to a registry constructor.
func Factory(out Playback) func(domain.UserID) core.AudioSink {
	return func(remote domain.UserID) core.AudioSink { return New(remote, out) }
}

func (s *Sink) ID() string { return s.id }

func (s *Sink) Packets() uint64 { return s.packets.Load() }

// Attach starts draining track. A track already attached is ignored.
func (s *Sink) Attach(track core.RemoteTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// closed is checked under mu so Wait never races a loop that is starting.
	if s.closed.Load() {
		return
	}
	if _, ok := s.tracks[track.ID()]; ok {
		return
	}
	s.tracks[track.ID()] = struct{}{}
	s.wg.Add(1)

	s.logger.Info().Str("track_id", track.ID()).Msg("starting sink loop")
	go s.loop(track)
}

// loop reads RTP packets from the track until it ends or the sink closes.
func (s *Sink) loop(track core.RemoteTrack) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.tracks, track.ID())
		s.mu.Unlock()
	}()
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		pkt, err := track.ReadPacket()
		if err != nil {
			s.logger.Debug().Err(err).Str("track_id", track.ID()).Msg("sink read ended")
			return
		}
		if s.closed.Load() {
			return
		}
		s.packets.Add(1)
		if err := s.out.Play(s.remote, pkt); err != nil {
			s.logger.Error().Err(err).Msg("playback error, stopping")
			return
		}
	}
}

// Close stops playback. Loops blocked on a read exit once the peer
// connection closes its tracks.
func (s *Sink) Close() {
	s.mu.Lock()
	swapped := s.closed.CompareAndSwap(false, true)
	s.mu.Unlock()
	if !swapped {
		return
	}
	s.cancel()
	s.logger.Info().Msg("sink closed")
}

// Wait blocks until every track loop has exited.
func (s *Sink) Wait() { s.wg.Wait() }
