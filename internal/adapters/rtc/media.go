package rtc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/chatlink/internal/core"
	"github.com/dkeye/chatlink/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

const FrameDuration = 20 * time.Millisecond

// opusSilence is a single 20ms Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

var ErrNoCapture = errors.New("no capture device")

// FrameSource yields one encoded frame per tick together with the PCM it carries.
type FrameSource interface {
	Next() (encoded []byte, pcm []int16, err error)
}

type silence struct {
	pcm []int16
}

func (s silence) Next() ([]byte, []int16, error) { return opusSilence, s.pcm, nil }

// UnavailableSource always fails with the given code; it drives listen-only mode.
type UnavailableSource struct {
	Code domain.MediaErrorCode
}

func (s UnavailableSource) Acquire(context.Context) (core.LocalStream, error) {
	return nil, &domain.MediaError{Code: s.Code, Err: ErrNoCapture}
}

// SilenceSource produces a live Opus track carrying silence.
type SilenceSource struct{}

func (SilenceSource) Acquire(ctx context.Context) (core.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.MediaError{Code: domain.MediaUnknown, Err: err}
	}
	return NewStream(silence{pcm: make([]int16, 960)})
}

// Stream is the local microphone capture shared by every peer connection.
type Stream struct {
	track    *webrtc.TrackLocalStaticSample
	src      FrameSource
	analyser *SpectrumAnalyser
	enabled  atomic.Bool

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

var _ core.LocalStream = (*Stream)(nil)

func NewStream(src FrameSource) (*Stream, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "chatlink-mic",
	)
	if err != nil {
		return nil, &domain.MediaError{Code: domain.MediaNotSupported, Err: err}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Stream{
		track:    track,
		src:      src,
		analyser: NewSpectrumAnalyser(),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.enabled.Store(true)
	go s.feed(ctx)
	return s, nil
}

func (s *Stream) feed(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		encoded, pcm, err := s.src.Next()
		if err != nil {
			log.Error().Err(err).Str("module", "rtc.media").Msg("capture stopped")
			return
		}
		if !s.enabled.Load() {
			encoded, pcm = opusSilence, make([]int16, len(pcm))
		}
		s.analyser.Write(pcm)
		if err := s.track.WriteSample(media.Sample{Data: encoded, Duration: FrameDuration}); err != nil {
			log.Warn().Err(err).Str("module", "rtc.media").Msg("write sample")
		}
	}
}

func (s *Stream) Tracks() []webrtc.TrackLocal { return []webrtc.TrackLocal{s.track} }

func (s *Stream) SetEnabled(enabled bool) { s.enabled.Store(enabled) }

func (s *Stream) Enabled() bool { return s.enabled.Load() }

func (s *Stream) Analyser() core.Analyser { return s.analyser }

// Stop ends capture. Calling it more than once is harmless.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		<-s.done
		s.analyser.Close()
		log.Info().Str("module", "rtc.media").Msg("local stream stopped")
	})
}
