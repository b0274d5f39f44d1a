package signal

import (
	"net/url"
	"strconv"

	"github.com/dkeye/chatlink/internal/core"
	"github.com/dkeye/chatlink/internal/domain"
)

// DMClient is the connection for one open direct-message thread.
type DMClient struct {
	*socket
	dmID domain.DMID
	deps Deps
}

func DMURL(base string, id domain.DMID) (string, error) {
	return url.JoinPath(base, "ws", "dm", strconv.FormatInt(int64(id), 10))
}

func NewDMClient(endpoint string, id domain.DMID, deps Deps, cfg Settings) *DMClient {
	c := &DMClient{
		socket: newSocket("dm:"+strconv.FormatInt(int64(id), 10), endpoint, deps.Identity.Token, cfg, false),
		dmID:   id,
		deps:   deps,
	}
	c.heartbeat = mustFrame(core.HeartbeatFrame{Type: core.TypePresenceHeartbeat})
	c.onEnvelope = c.route
	return c
}

func (c *DMClient) DMID() domain.DMID { return c.dmID }

func (c *DMClient) route(env core.Envelope) {
	if env.Type != core.TypeMessageNew {
		c.logger.Debug().Str("type", env.Type).Msg("ignored event")
		return
	}
	var ev core.MessageEvent
	if err := env.Decode(&ev); err != nil {
		c.logger.Debug().Err(err).Msg("dropped malformed message.new")
		return
	}
	if c.deps.Store.HasMessage(ev.Message.ID) {
		return
	}
	c.deps.Store.AppendMessageForChannel(c.dmID, ev.Message)
}
