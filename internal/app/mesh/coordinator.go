// Package mesh keeps one peer connection per remote participant of the
// local voice room, negotiated over the signaling socket.
package mesh

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"time"

	"github.com/dkeye/chatlink/internal/app"
	"github.com/dkeye/chatlink/internal/app/speaking"
	"github.com/dkeye/chatlink/internal/core"
	"github.com/dkeye/chatlink/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotInRoom  = errors.New("not in a voice room")
	ErrListenOnly = errors.New("listen-only: no microphone")
	ErrStopped    = errors.New("voice coordinator stopped")
)

const DefaultHeartbeat = 60 * time.Second

type Config struct {
	Self    domain.Identity
	Store   core.Store
	Signals core.SignalSender
	Peers   core.PeerFactory
	Media   core.MediaSource
	Sinks   *app.Registry

	Heartbeat         time.Duration
	SpeakingInterval  time.Duration
	SpeakingThreshold float64
}

type JoinResult struct {
	InVoice   bool                  `json:"in_voice"`
	ChannelID domain.ChannelID      `json:"channel_id"`
	MicError  domain.MediaErrorCode `json:"mic_error,omitempty"`
	HasStream bool                  `json:"has_stream"`
}

type PeerInfo struct {
	UserID domain.UserID `json:"user_id"`
	Role   string        `json:"role"`
	State  string        `json:"state"`
}

type State struct {
	InVoice   bool                  `json:"in_voice"`
	ChannelID domain.ChannelID      `json:"channel_id"`
	Muted     bool                  `json:"muted"`
	Speaking  bool                  `json:"speaking"`
	MicError  domain.MediaErrorCode `json:"mic_error,omitempty"`
	Peers     []PeerInfo            `json:"peers"`
}

// localState is the shared cell for local flags. The speaking detector
// reads it on every tick.
type localState struct {
	muted    atomic.Bool
	speaking atomic.Bool
}

func (l *localState) Muted() bool { return l.muted.Load() }

type peerRecord struct {
	remote    domain.UserID
	role      domain.PeerRole
	state     domain.PeerState
	pc        core.PeerConnection
	gen       uint64
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

type room struct {
	channel       domain.ChannelID
	stream        core.LocalStream
	micErr        domain.MediaErrorCode
	detector      *speaking.Detector
	quit          chan struct{}
	stopHeartbeat context.CancelFunc
}

// Coordinator is an actor: every state change happens on its loop goroutine.
type Coordinator struct {
	cfg    Config
	logger zerolog.Logger

	inbox  chan meshMsg
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	local localState

	// owned by loop
	rosters map[domain.ChannelID]map[domain.UserID]domain.VoiceParticipant
	room    *room
	peers   map[domain.UserID]*peerRecord
	gen     uint64
}

var _ core.VoiceListener = (*Coordinator)(nil)

func New(parent context.Context, cfg Config) *Coordinator {
	if cfg.Heartbeat == 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	ctx, cancel := context.WithCancel(parent)
	c := &Coordinator{
		cfg:     cfg,
		logger:  log.With().Str("module", "mesh").Int64("self", int64(cfg.Self.UserID)).Logger(),
		inbox:   make(chan meshMsg, 256),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		rosters: make(map[domain.ChannelID]map[domain.UserID]domain.VoiceParticipant),
		peers:   make(map[domain.UserID]*peerRecord),
	}
	go c.loop()
	return c
}

func (c *Coordinator) loop() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			c.leave()
			c.drain()
			return
		case m := <-c.inbox:
			c.handle(m)
		}
	}
}

// drain releases streams acquired for joins that never ran.
func (c *Coordinator) drain() {
	for {
		select {
		case m := <-c.inbox:
			if j, ok := m.(joinReq); ok && j.stream != nil {
				j.stream.Stop()
			}
		default:
			return
		}
	}
}

func (c *Coordinator) handle(m meshMsg) {
	switch msg := m.(type) {
	case joinReq:
		msg.reply <- c.join(msg)
	case leaveReq:
		c.leave()
		close(msg.reply)
	case muteReq:
		muted, err := c.toggleMute()
		msg.reply <- muteResult{muted: muted, err: err}
	case stateReq:
		msg.reply <- c.state()
	case reannounceReq:
		c.reannounce()
	case rosterMsg:
		c.onRoster(msg.ev)
	case signalWake:
		c.drainSignals()
	case localICE:
		c.onLocalICE(msg)
	case linkState:
		c.onLinkState(msg)
	case remoteTrack:
		c.onRemoteTrack(msg)
	case speakingMsg:
		c.onSpeaking(msg.speaking)
	case heartbeatTick:
		if c.room != nil {
			c.send(core.HeartbeatFrame{Type: core.TypeVoiceHeartbeat})
		}
	}
}

func (c *Coordinator) post(m meshMsg) bool {
	if c.ctx.Err() != nil {
		return false
	}
	select {
	case c.inbox <- m:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// Join acquires the microphone and enters the voice room of channel.
// A microphone failure never fails the join; it is reported in MicError.
func (c *Coordinator) Join(ctx context.Context, channel domain.ChannelID) (JoinResult, error) {
	stream, err := c.cfg.Media.Acquire(ctx)
	code := domain.MediaErrorCodeOf(err)
	if err != nil {
		c.logger.Warn().Err(err).Str("mic_error", string(code)).Msg("microphone unavailable, joining listen-only")
		stream = nil
	}
	reply := make(chan JoinResult, 1)
	if !c.post(joinReq{channel: channel, stream: stream, micErr: code, reply: reply}) {
		if stream != nil {
			stream.Stop()
		}
		return JoinResult{}, ErrStopped
	}
	select {
	case res := <-reply:
		return res, nil
	case <-c.done:
		return JoinResult{}, ErrStopped
	case <-ctx.Done():
		return JoinResult{}, ctx.Err()
	}
}

// Leave exits the room. It is a no-op when not in a room.
func (c *Coordinator) Leave(ctx context.Context) error {
	reply := make(chan struct{})
	if !c.post(leaveReq{reply: reply}) {
		return ErrStopped
	}
	select {
	case <-reply:
		return nil
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ToggleMute flips the local mute flag and returns the new value.
func (c *Coordinator) ToggleMute(ctx context.Context) (bool, error) {
	reply := make(chan muteResult, 1)
	if !c.post(muteReq{reply: reply}) {
		return false, ErrStopped
	}
	select {
	case res := <-reply:
		return res.muted, res.err
	case <-c.done:
		return false, ErrStopped
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (c *Coordinator) State(ctx context.Context) (State, error) {
	reply := make(chan State, 1)
	if !c.post(stateReq{reply: reply}) {
		return State{}, ErrStopped
	}
	select {
	case st := <-reply:
		return st, nil
	case <-c.done:
		return State{}, ErrStopped
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

// Reannounce repeats voice.join after the signaling socket reopened,
// since the server drops voice membership with the old connection.
func (c *Coordinator) Reannounce() { c.post(reannounceReq{}) }

func (c *Coordinator) OnRoster(ev core.RosterEvent) { c.post(rosterMsg{ev: ev}) }

func (c *Coordinator) OnSignal() { c.post(signalWake{}) }

// Close leaves the room and stops the loop. It is idempotent.
func (c *Coordinator) Close() {
	c.cancel()
	<-c.done
}

func (c *Coordinator) state() State {
	st := State{
		Muted:    c.local.muted.Load(),
		Speaking: c.local.speaking.Load(),
		Peers:    make([]PeerInfo, 0, len(c.peers)),
	}
	if c.room != nil {
		st.InVoice = true
		st.ChannelID = c.room.channel
		st.MicError = c.room.micErr
	}
	for _, rec := range c.peers {
		st.Peers = append(st.Peers, PeerInfo{UserID: rec.remote, Role: rec.role.String(), State: rec.state.String()})
	}
	slices.SortFunc(st.Peers, func(a, b PeerInfo) int { return cmp.Compare(a.UserID, b.UserID) })
	return st
}

func (c *Coordinator) send(v any) {
	if err := c.cfg.Signals.Send(v); err != nil {
		c.logger.Debug().Err(err).Msg("signal not sent")
	}
}

func (c *Coordinator) sendState() {
	c.send(core.VoiceStateUpdateFrame{
		Type:      core.TypeVoiceStateUpdate,
		ChannelID: c.room.channel,
		VoiceFlags: domain.VoiceFlags{
			Muted:    c.local.muted.Load(),
			Speaking: c.local.speaking.Load(),
		},
	})
}
