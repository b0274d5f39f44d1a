package signal

import (
	"encoding/json"
	"net/url"

	"github.com/dkeye/chatlink/internal/core"
)

// VoiceClient is the session-scoped voice roster and signaling connection.
// Channel and DM navigation never touch it.
type VoiceClient struct {
	*socket
	voice *voiceRouter
}

func VoiceURL(base string) (string, error) {
	return url.JoinPath(base, "ws", "voice")
}

func NewVoiceClient(endpoint string, deps Deps, cfg Settings) *VoiceClient {
	c := &VoiceClient{socket: newSocket("voice", endpoint, deps.Identity.Token, cfg, true)}
	c.voice = &voiceRouter{
		store:           deps.Store,
		listener:        deps.Voice,
		logger:          &c.logger,
		requireSnapshot: true,
	}
	c.onOpen = c.voice.reset
	c.onEnvelope = c.route
	return c
}

// VoiceConnected reports whether the voice socket is open.
func (c *VoiceClient) VoiceConnected() bool { return c.Status().Connected }

func (c *VoiceClient) route(env core.Envelope) {
	if !c.voice.handle(env) {
		c.logger.Debug().Str("type", env.Type).Msg("ignored event")
	}
}

func mustFrame(v any) core.Frame {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
