package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/chatlink/internal/app"
	"github.com/dkeye/chatlink/internal/core"
	"github.com/dkeye/chatlink/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrNotConnected = errors.New("socket not connected")
	ErrConnClosed   = errors.New("connection closed")
)

const (
	DefaultSendBuffer    = 32
	DefaultReadLimit     = 1 << 20
	DefaultWriteWait     = 5 * time.Second
	DefaultFailoverClear = 5 * time.Second
)

// Dialer is satisfied by *websocket.Dialer.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Settings tune one socket client. Zero values fall back to defaults.
type Settings struct {
	Dialer        Dialer
	ReconnectBase time.Duration
	ReconnectCap  time.Duration
	MaxAttempts   int
	SendBuffer    int
	ReadLimit     int64
	WriteWait     time.Duration
	Heartbeat     time.Duration
	FailoverClear time.Duration
	OnStatus      func(domain.ConnStatus)
}

func (s Settings) withDefaults() Settings {
	if s.Dialer == nil {
		s.Dialer = websocket.DefaultDialer
	}
	if s.SendBuffer <= 0 {
		s.SendBuffer = DefaultSendBuffer
	}
	if s.ReadLimit <= 0 {
		s.ReadLimit = DefaultReadLimit
	}
	if s.WriteWait <= 0 {
		s.WriteWait = DefaultWriteWait
	}
	if s.FailoverClear <= 0 {
		s.FailoverClear = DefaultFailoverClear
	}
	return s
}

// WsSignalConn is one live websocket with a buffered outbound queue.
type WsSignalConn struct {
	conn    *websocket.Conn
	send    chan core.Frame
	drained chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{conn: ws, send: make(chan core.Frame, buffer), drained: make(chan struct{})}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// CloseNormal lets the write pump flush queued frames, bounded by wait,
// then sends a normal-closure frame and closes.
func (c *WsSignalConn) CloseNormal(wait time.Duration) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	select {
	case <-c.drained:
	case <-time.After(wait):
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wait))
	_ = c.conn.Close()
}

// socket owns one endpoint's lifecycle: dial, auth, pumps and reconnection.
type socket struct {
	name      string
	url       string
	token     string
	cfg       Settings
	policy    *app.ReconnectionPolicy
	banner    bool
	heartbeat core.Frame
	logger    zerolog.Logger

	onOpen     func()
	onEnvelope func(core.Envelope)

	mu            sync.Mutex
	parent        context.Context
	cancel        context.CancelFunc
	running       bool
	closed        bool
	state         domain.ConnectionState
	failover      bool
	failoverTimer *time.Timer
	conn          *WsSignalConn
	last          domain.ConnStatus
}

func newSocket(name, url, token string, cfg Settings, banner bool) *socket {
	cfg = cfg.withDefaults()
	return &socket{
		name:   name,
		url:    url,
		token:  token,
		cfg:    cfg,
		policy: app.NewReconnectionPolicy(cfg.ReconnectBase, cfg.ReconnectCap, cfg.MaxAttempts),
		banner: banner,
		logger: log.With().Str("module", "signal").Str("socket", name).Logger(),
	}
}

// Connect starts the connection loop. It is a no-op while running or after Close.
func (s *socket) Connect(ctx context.Context) {
	s.update(func() {
		if s.running || s.closed {
			return
		}
		s.parent = ctx
		s.startLocked()
	})
}

// Reconnect restarts a loop that gave up, with a fresh attempt counter.
func (s *socket) Reconnect() bool {
	started := false
	s.update(func() {
		if s.running || s.closed || s.parent == nil {
			return
		}
		s.policy.Reset()
		s.startLocked()
		started = true
	})
	if started {
		s.logger.Info().Msg("manual reconnect")
	}
	return started
}

func (s *socket) startLocked() {
	ctx, cancel := context.WithCancel(s.parent)
	s.cancel = cancel
	s.running = true
	s.state = domain.Connecting
	go s.run(ctx)
}

// Close tears the socket down for good; no reconnect is scheduled afterwards.
func (s *socket) Close() {
	var (
		conn   *WsSignalConn
		cancel context.CancelFunc
	)
	s.update(func() {
		if s.closed {
			return
		}
		s.closed = true
		conn, cancel = s.conn, s.cancel
		s.conn = nil
		s.stopFailoverTimerLocked()
		s.failover = false
		s.state = domain.Disconnected
	})
	if conn != nil {
		conn.CloseNormal(s.cfg.WriteWait)
	}
	if cancel != nil {
		cancel()
	}
}

// Send queues payload on the live connection. It is a no-op unless Open.
func (s *socket) Send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	conn, state := s.conn, s.state
	s.mu.Unlock()
	if state != domain.Open || conn == nil {
		s.logger.Debug().Str("state", state.String()).Msg("send dropped, not connected")
		return ErrNotConnected
	}
	if err := conn.TrySend(data); err != nil {
		s.logger.Warn().Err(err).Msg("send dropped")
		return err
	}
	return nil
}

// DismissFailover clears the failover banner before its timer fires.
func (s *socket) DismissFailover() {
	s.update(func() {
		s.stopFailoverTimerLocked()
		s.failover = false
	})
}

func (s *socket) Status() domain.ConnStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *socket) statusLocked() domain.ConnStatus {
	return domain.ConnStatus{
		State:            s.state,
		StateName:        s.state.String(),
		Connected:        s.state == domain.Open,
		Reconnecting:     s.state == domain.Reconnecting,
		FailoverDetected: s.failover,
	}
}

// update applies fn under the lock and reports a changed status outside it.
func (s *socket) update(fn func()) {
	s.mu.Lock()
	fn()
	st := s.statusLocked()
	changed := st != s.last
	s.last = st
	s.mu.Unlock()
	if changed && s.cfg.OnStatus != nil {
		s.cfg.OnStatus(st)
	}
}

func (s *socket) stopFailoverTimerLocked() {
	if s.failoverTimer != nil {
		s.failoverTimer.Stop()
		s.failoverTimer = nil
	}
}

func (s *socket) run(ctx context.Context) {
	for {
		code, err := s.dialAndServe(ctx)
		if ctx.Err() != nil {
			s.finish(domain.Disconnected)
			return
		}
		failover := code == websocket.CloseAbnormalClosure || code == websocket.CloseGoingAway
		delay, retry := s.policy.Failed()
		s.logger.Warn().
			Err(err).
			Int("close_code", code).
			Int("attempt", s.policy.Attempts()).
			Dur("retry_in", delay).
			Bool("retry", retry).
			Msg("connection lost")

		if !retry {
			s.update(func() {
				if failover && s.banner {
					s.failover = true
				}
			})
			s.finish(domain.PermanentlyFailed)
			s.logger.Error().Int("max_attempts", s.policy.MaxAttempts()).Msg("giving up reconnecting")
			return
		}
		s.update(func() {
			if s.closed {
				return
			}
			s.state = domain.Reconnecting
			if failover && s.banner {
				s.failover = true
			}
		})

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			s.finish(domain.Disconnected)
			return
		case <-t.C:
		}
	}
}

func (s *socket) finish(state domain.ConnectionState) {
	s.update(func() {
		s.running = false
		if s.closed {
			s.state = domain.Disconnected
			return
		}
		s.state = state
	})
}

func (s *socket) dialAndServe(ctx context.Context) (int, error) {
	ws, _, err := s.cfg.Dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return 0, err
	}
	ws.SetReadLimit(s.cfg.ReadLimit)
	conn := newWsSignalConn(ws, s.cfg.SendBuffer)

	if err := s.authenticate(conn); err != nil {
		conn.Close()
		return 0, err
	}

	if s.onOpen != nil {
		s.onOpen()
	}
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !s.opened(conn) {
		conn.Close()
		return 0, ErrConnClosed
	}
	s.logger.Info().Str("url", s.url).Msg("connected")

	go s.writePump(connCtx, conn)
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	code, err := s.readPump(conn)
	s.dropped(conn)
	return code, err
}

func (s *socket) authenticate(conn *WsSignalConn) error {
	data, err := json.Marshal(core.AuthFrame{Type: core.TypeAuth, Token: s.token})
	if err != nil {
		return err
	}
	if err := conn.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait)); err != nil {
		return err
	}
	return conn.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *socket) opened(conn *WsSignalConn) bool {
	ok := false
	s.update(func() {
		if s.closed {
			return
		}
		ok = true
		s.conn = conn
		s.state = domain.Open
		s.policy.Opened()
		if s.failover {
			s.stopFailoverTimerLocked()
			var timer *time.Timer
			timer = time.AfterFunc(s.cfg.FailoverClear, func() {
				s.update(func() {
					if s.failoverTimer == timer {
						s.failoverTimer = nil
						s.failover = false
					}
				})
			})
			s.failoverTimer = timer
		}
	})
	return ok
}

func (s *socket) dropped(conn *WsSignalConn) {
	s.update(func() {
		if s.conn == conn {
			s.conn = nil
		}
		s.stopFailoverTimerLocked()
	})
}
