// Package session owns the socket clients of one logged-in user and
// follows navigation: one server socket, one socket per open DM and,
// in dedicated mode, the session-scoped voice socket.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/chatlink/internal/adapters/signal"
	"github.com/dkeye/chatlink/internal/app/mesh"
	"github.com/dkeye/chatlink/internal/core"
	"github.com/dkeye/chatlink/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoServer  = errors.New("no server selected")
	ErrNoChannel = errors.New("no voice channel selected")
	ErrDMNotOpen = errors.New("dm not open")
	ErrClosed    = errors.New("session closed")
)

type VoiceMode string

const (
	// Multiplexed carries voice events and signaling on the server socket.
	Multiplexed VoiceMode = "multiplexed"
	// Dedicated uses the session-scoped /ws/voice socket.
	Dedicated VoiceMode = "dedicated"
)

func ParseVoiceMode(s string) (VoiceMode, error) {
	switch VoiceMode(s) {
	case Multiplexed, Dedicated:
		return VoiceMode(s), nil
	case "":
		return Multiplexed, nil
	}
	return "", fmt.Errorf("unknown voice mode %q", s)
}

// Store is the client cache plus the read side the control API shows.
type Store interface {
	core.NavigableStore
	Messages() []domain.Message
	DMMessages(dm domain.DMID) []domain.Message
	Unread(ch domain.ChannelID) int
	TypingUsers(ch domain.ChannelID) []string
	VoiceRoster(ch domain.ChannelID) []domain.VoiceParticipant
}

type Config struct {
	BaseURL        string
	Identity       domain.Identity
	VoiceMode      VoiceMode
	// VoiceChannelID is the room joined in dedicated mode.
	VoiceChannelID domain.ChannelID
	Socket         signal.Settings
	Server         signal.ServerOptions
	Mesh           mesh.Config
	// Banner, when set, receives every status change by socket name.
	Banner         func(name string, st domain.ConnStatus)
}

type Status struct {
	User          domain.User                       `json:"user"`
	ServerID      *domain.ServerID                  `json:"server_id,omitempty"`
	ActiveChannel domain.ChannelID                  `json:"active_channel"`
	Server        *domain.ConnStatus                `json:"server,omitempty"`
	Voice         *domain.ConnStatus                `json:"voice,omitempty"`
	DMs           map[domain.DMID]domain.ConnStatus `json:"dms"`
	Mesh          mesh.State                        `json:"mesh"`
	Messages      []domain.Message                  `json:"messages"`
	Typing        []string                          `json:"typing"`
}

type Session struct {
	cfg      Config
	store    Store
	notifier core.Notifier
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	mesh   *mesh.Coordinator
	voice  *signal.VoiceClient

	mu     sync.Mutex
	closed bool
	server *signal.ServerClient
	dms    map[domain.DMID]*signal.DMClient
}

var _ core.SignalSender = (*Session)(nil)

func New(parent context.Context, cfg Config, st Store, notifier core.Notifier) *Session {
	if cfg.VoiceMode == "" {
		cfg.VoiceMode = Multiplexed
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		cfg:      cfg,
		store:    st,
		notifier: notifier,
		logger:   log.With().Str("module", "session").Str("user", cfg.Identity.Username).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		dms:      make(map[domain.DMID]*signal.DMClient),
	}
	mc := cfg.Mesh
	mc.Self = cfg.Identity
	mc.Store = st
	mc.Signals = s
	s.mesh = mesh.New(ctx, mc)
	return s
}

// Start opens the session-scoped sockets.
func (s *Session) Start() error {
	if s.cfg.VoiceMode != Dedicated {
		return nil
	}
	endpoint, err := signal.VoiceURL(s.cfg.BaseURL)
	if err != nil {
		return fmt.Errorf("voice url: %w", err)
	}
	s.voice = signal.NewVoiceClient(endpoint, s.deps(), s.settings("voice", true))
	s.voice.Connect(s.ctx)
	return nil
}

func (s *Session) deps() signal.Deps {
	return signal.Deps{
		Identity: s.cfg.Identity,
		Store:    s.store,
		Notifier: s.notifier,
		Voice:    s.mesh,
	}
}

// settings wraps OnStatus so a reopened voice-carrying socket re-announces
// local voice membership.
func (s *Session) settings(name string, carriesVoice bool) signal.Settings {
	cfg := s.cfg.Socket
	next := cfg.OnStatus
	var (
		mu      sync.Mutex
		wasOpen bool
	)
	cfg.OnStatus = func(st domain.ConnStatus) {
		mu.Lock()
		reopened := st.Connected && !wasOpen
		wasOpen = st.Connected
		mu.Unlock()
		s.logger.Info().Str("socket", name).Str("state", st.StateName).Bool("failover", st.FailoverDetected).Msg("connection status")
		if reopened && carriesVoice {
			s.mesh.Reannounce()
		}
		if s.cfg.Banner != nil {
			s.cfg.Banner(name, st)
		}
		if next != nil {
			next(st)
		}
	}
	return cfg
}

// SelectServer points the server socket at id, replacing any previous one.
// In multiplexed mode the voice room belongs to the old server and is left.
func (s *Session) SelectServer(ctx context.Context, id domain.ServerID) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	old := s.server
	if old != nil && old.ServerID() == id {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if old != nil && s.cfg.VoiceMode == Multiplexed {
		if err := s.mesh.Leave(ctx); err != nil {
			return err
		}
	}

	endpoint, err := signal.ServerURL(s.cfg.BaseURL, id)
	if err != nil {
		return fmt.Errorf("server url: %w", err)
	}
	opts := s.cfg.Server
	opts.RouteVoice = s.cfg.VoiceMode == Multiplexed
	c := signal.NewServerClient(endpoint, id, s.deps(), opts, s.settings("server", opts.RouteVoice))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	old, s.server = s.server, c
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
	c.Connect(s.ctx)
	s.logger.Info().Int64("server", int64(id)).Msg("server selected")
	return nil
}

// Navigate selects the server and makes channel the visible one.
func (s *Session) Navigate(ctx context.Context, server domain.ServerID, channel domain.ChannelID) error {
	if err := s.SelectServer(ctx, server); err != nil {
		return err
	}
	s.store.SetActiveChannel(channel)
	return nil
}

func (s *Session) OpenDM(id domain.DMID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.dms[id]; ok {
		return nil
	}
	endpoint, err := signal.DMURL(s.cfg.BaseURL, id)
	if err != nil {
		return fmt.Errorf("dm url: %w", err)
	}
	c := signal.NewDMClient(endpoint, id, s.deps(), s.settings(fmt.Sprintf("dm:%d", id), false))
	s.dms[id] = c
	c.Connect(s.ctx)
	return nil
}

func (s *Session) CloseDM(id domain.DMID) error {
	s.mu.Lock()
	c, ok := s.dms[id]
	delete(s.dms, id)
	s.mu.Unlock()
	if !ok {
		return ErrDMNotOpen
	}
	c.Close()
	return nil
}

func (s *Session) currentServer() (*signal.ServerClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil, ErrNoServer
	}
	return s.server, nil
}

func (s *Session) SendTyping(ch domain.ChannelID) error {
	c, err := s.currentServer()
	if err != nil {
		return err
	}
	return c.SendTyping(ch)
}

// SendRaw forwards an arbitrary JSON frame on the server socket.
func (s *Session) SendRaw(payload json.RawMessage) error {
	if _, err := core.DecodeEnvelope(payload); err != nil {
		return err
	}
	c, err := s.currentServer()
	if err != nil {
		return err
	}
	return c.Send(payload)
}

// Send implements core.SignalSender for the voice coordinator.
func (s *Session) Send(v any) error {
	if s.cfg.VoiceMode == Dedicated {
		if s.voice == nil {
			return signal.ErrNotConnected
		}
		return s.voice.Send(v)
	}
	c, err := s.currentServer()
	if err != nil {
		return signal.ErrNotConnected
	}
	return c.Send(v)
}

// JoinVoice enters a voice room. In dedicated mode the configured room is
// used and channel is ignored.
// JoinVoice joins the given channel. In multiplexed mode a zero channel means
// the active one.
func (s *Session) JoinVoice(ctx context.Context, channel domain.ChannelID) (mesh.JoinResult, error) {
	if s.cfg.VoiceMode == Dedicated {
		channel = s.cfg.VoiceChannelID
	} else {
		if _, err := s.currentServer(); err != nil {
			return mesh.JoinResult{}, err
		}
		if channel == 0 {
			channel = s.store.ActiveChannel()
		}
		if channel == 0 {
			return mesh.JoinResult{}, ErrNoChannel
		}
	}
	return s.mesh.Join(ctx, channel)
}

func (s *Session) LeaveVoice(ctx context.Context) error { return s.mesh.Leave(ctx) }

func (s *Session) ToggleMute(ctx context.Context) (bool, error) { return s.mesh.ToggleMute(ctx) }

func (s *Session) sockets() []interface {
	DismissFailover()
	Reconnect() bool
} {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []interface {
		DismissFailover()
		Reconnect() bool
	}
	if s.server != nil {
		out = append(out, s.server)
	}
	for _, c := range s.dms {
		out = append(out, c)
	}
	if s.voice != nil {
		out = append(out, s.voice)
	}
	return out
}

func (s *Session) DismissFailover() {
	for _, c := range s.sockets() {
		c.DismissFailover()
	}
}

// Reconnect restarts every socket that gave up. It returns how many restarted.
func (s *Session) Reconnect() int {
	n := 0
	for _, c := range s.sockets() {
		if c.Reconnect() {
			n++
		}
	}
	return n
}

func (s *Session) Status(ctx context.Context) (Status, error) {
	st := Status{
		User:          domain.User{ID: s.cfg.Identity.UserID, Username: s.cfg.Identity.Username},
		ActiveChannel: s.store.ActiveChannel(),
		DMs:           make(map[domain.DMID]domain.ConnStatus),
		Messages:      s.store.Messages(),
		Typing:        s.store.TypingUsers(s.store.ActiveChannel()),
	}
	s.mu.Lock()
	if s.server != nil {
		id, cs := s.server.ServerID(), s.server.Status()
		st.ServerID, st.Server = &id, &cs
	}
	for id, c := range s.dms {
		st.DMs[id] = c.Status()
	}
	s.mu.Unlock()
	if s.voice != nil {
		cs := s.voice.Status()
		st.Voice = &cs
	}
	ms, err := s.mesh.State(ctx)
	if err != nil {
		return st, err
	}
	st.Mesh = ms
	return st, nil
}

func (s *Session) Mesh() *mesh.Coordinator { return s.mesh }

// Close logs out: voice is left, every socket closed and nothing reconnects.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	// leave while the voice-carrying socket can still deliver voice.leave
	s.mesh.Close()

	s.mu.Lock()
	server, dms := s.server, s.dms
	s.server, s.dms = nil, make(map[domain.DMID]*signal.DMClient)
	s.mu.Unlock()
	if s.voice != nil {
		s.voice.Close()
	}
	if server != nil {
		server.Close()
	}
	for _, c := range dms {
		c.Close()
	}
	s.cancel()
	s.logger.Info().Msg("session closed")
}
