package signal

import (
	"net/url"
	"strconv"
	"time"

	"github.com/dkeye/chatlink/internal/core"
	"github.com/dkeye/chatlink/internal/domain"
)

const DefaultTypingInterval = 2 * time.Second

// Deps are the collaborators a socket client routes events into.
type Deps struct {
	Identity domain.Identity
	Store    core.Store
	Notifier core.Notifier
	Voice    core.VoiceListener
}

type ServerOptions struct {
	// RouteVoice applies voice.* events from this socket; false when a
	// dedicated voice socket owns the roster.
	RouteVoice     bool
	TypingTTL      time.Duration
	TypingInterval time.Duration
}

// ServerClient is the multiplexed connection for one server.
type ServerClient struct {
	*socket
	serverID domain.ServerID
	deps     Deps
	opts     ServerOptions
	voice    *voiceRouter
	typing   *TypingTracker
	limiter  *ChannelRateLimiter
}

func ServerURL(base string, id domain.ServerID) (string, error) {
	return url.JoinPath(base, "ws", "server", strconv.FormatInt(int64(id), 10))
}

func NewServerClient(endpoint string, id domain.ServerID, deps Deps, opts ServerOptions, cfg Settings) *ServerClient {
	if opts.TypingInterval == 0 {
		opts.TypingInterval = DefaultTypingInterval
	}
	c := &ServerClient{
		socket:   newSocket("server:"+strconv.FormatInt(int64(id), 10), endpoint, deps.Identity.Token, cfg, true),
		serverID: id,
		deps:     deps,
		opts:     opts,
		typing:   NewTypingTracker(opts.TypingTTL, deps.Store.SetTypingUsers),
		limiter:  NewChannelRateLimiter(opts.TypingInterval),
	}
	c.voice = &voiceRouter{store: deps.Store, listener: deps.Voice, logger: &c.logger}
	c.heartbeat = mustFrame(core.HeartbeatFrame{Type: core.TypePresenceHeartbeat})
	c.onOpen = c.voice.reset
	c.onEnvelope = c.route
	return c
}

func (c *ServerClient) ServerID() domain.ServerID { return c.serverID }

// SendTyping announces local typing, at most once per channel per interval.
func (c *ServerClient) SendTyping(ch domain.ChannelID) error {
	if !c.limiter.Allow(ch) {
		return nil
	}
	return c.Send(core.TypingFrame{Type: core.TypeUserTyping, ChannelID: ch})
}

func (c *ServerClient) Close() {
	c.socket.Close()
	c.typing.Stop()
}

func (c *ServerClient) route(env core.Envelope) {
	switch env.Type {
	case core.TypeMessageNew:
		c.handleMessageNew(env)
	case core.TypeMessageUpdated:
		var ev core.MessageEvent
		if err := env.Decode(&ev); err != nil {
			c.logger.Debug().Err(err).Msg("dropped malformed message.updated")
			return
		}
		c.deps.Store.UpdateMessage(ev.Message)
	case core.TypeMessageDeleted:
		var ev core.MessageDeletedEvent
		if err := env.Decode(&ev); err != nil {
			c.logger.Debug().Err(err).Msg("dropped malformed message.deleted")
			return
		}
		c.deps.Store.RemoveMessage(ev.ChannelID, ev.MessageID)
	case core.TypeUserTyping:
		c.handleTyping(env)
	default:
		if c.opts.RouteVoice && c.voice.handle(env) {
			return
		}
		c.logger.Debug().Str("type", env.Type).Msg("ignored event")
	}
}

func (c *ServerClient) handleMessageNew(env core.Envelope) {
	var ev core.MessageEvent
	if err := env.Decode(&ev); err != nil {
		c.logger.Debug().Err(err).Msg("dropped malformed message.new")
		return
	}
	msg := ev.Message
	if msg.ChannelID == nil {
		return
	}
	ch := msg.Channel()
	if ch == c.deps.Store.ActiveChannel() {
		if !c.deps.Store.HasMessage(msg.ID) {
			c.deps.Store.AppendMessage(msg)
		}
	} else {
		c.deps.Store.IncrementUnread(ch)
	}
	if c.deps.Notifier != nil && msg.UserID != c.deps.Identity.UserID && Mentions(msg.Content, c.deps.Identity.Username) {
		c.deps.Notifier.Mention(msg)
	}
}

func (c *ServerClient) handleTyping(env core.Envelope) {
	var ev core.TypingEvent
	if err := env.Decode(&ev); err != nil {
		c.logger.Debug().Err(err).Msg("dropped malformed user.typing")
		return
	}
	if ev.ChannelID != c.deps.Store.ActiveChannel() || ev.UserID == c.deps.Identity.UserID || ev.Username == "" {
		return
	}
	c.typing.Touch(ev.ChannelID, ev.Username)
}
