package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/dkeye/chatlink/internal/adapters/signal"
	"github.com/dkeye/chatlink/internal/app/mesh"
	"github.com/dkeye/chatlink/internal/app/session"
	"github.com/dkeye/chatlink/internal/config"
	"github.com/dkeye/chatlink/internal/core"
	"github.com/dkeye/chatlink/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	lastServerKey  = "last_server"
	lastChannelKey = "last_channel"
)

// Client is the session surface the control API drives.
type Client interface {
	Status(ctx context.Context) (session.Status, error)
	Navigate(ctx context.Context, server domain.ServerID, channel domain.ChannelID) error
	OpenDM(id domain.DMID) error
	CloseDM(id domain.DMID) error
	SendTyping(ch domain.ChannelID) error
	SendRaw(payload json.RawMessage) error
	JoinVoice(ctx context.Context, channel domain.ChannelID) (mesh.JoinResult, error)
	LeaveVoice(ctx context.Context) error
	ToggleMute(ctx context.Context) (bool, error)
	DismissFailover()
	Reconnect() int
}

type NavigateRequest struct {
	ServerID  domain.ServerID  `json:"server_id" binding:"required"`
	ChannelID domain.ChannelID `json:"channel_id" binding:"required"`
}

type JoinVoiceRequest struct {
	ChannelID domain.ChannelID `json:"channel_id"`
}

type StatusResponse struct {
	session.Status
	LastNavigation *NavigateRequest `json:"last_navigation,omitempty"`
}

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(cfg *config.Config, client Client) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("ChatlinkSessions", store))
	r.Use(ClientTokenMiddleware())

	h := &handlers{client: client}
	api := r.Group("/api")
	api.GET("/status", h.status)
	api.POST("/navigate", h.navigate)
	api.POST("/dm/:id/open", h.openDM)
	api.POST("/dm/:id/close", h.closeDM)
	api.POST("/typing/:channel", h.typing)
	api.POST("/send", h.send)
	api.POST("/voice/join", h.joinVoice)
	api.POST("/voice/leave", h.leaveVoice)
	api.POST("/voice/mute", h.toggleMute)
	api.POST("/failover/dismiss", h.dismissFailover)
	api.POST("/reconnect", h.reconnect)

	log.Info().Str("module", "adapters.http").Str("addr", cfg.ControlAddr).Msg("router setup")
	return r
}

type handlers struct {
	client Client
}

func (h *handlers) status(c *gin.Context) {
	st, err := h.client.Status(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	resp := StatusResponse{Status: st}
	sess := sessions.Default(c)
	if server, ok := sess.Get(lastServerKey).(int64); ok {
		channel, _ := sess.Get(lastChannelKey).(int64)
		resp.LastNavigation = &NavigateRequest{ServerID: domain.ServerID(server), ChannelID: domain.ChannelID(channel)}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) navigate(c *gin.Context) {
	var req NavigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "server_id and channel_id required"})
		return
	}
	if err := h.client.Navigate(c.Request.Context(), req.ServerID, req.ChannelID); err != nil {
		fail(c, err)
		return
	}
	sess := sessions.Default(c)
	sess.Set(lastServerKey, int64(req.ServerID))
	sess.Set(lastChannelKey, int64(req.ChannelID))
	if err := sess.Save(); err != nil {
		log.Warn().Str("module", "adapters.http").Err(err).Msg("session save failed")
	}
	log.Info().Str("module", "adapters.http").Str("ct", c.GetString("client_token")).
		Int64("server", int64(req.ServerID)).Int64("channel", int64(req.ChannelID)).Msg("navigate")
	c.Status(http.StatusNoContent)
}

func pathID(c *gin.Context, name string) (int64, bool) {
	n, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return n, true
}

func (h *handlers) openDM(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.client.OpenDM(domain.DMID(id)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) closeDM(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.client.CloseDM(domain.DMID(id)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) typing(c *gin.Context) {
	ch, ok := pathID(c, "channel")
	if !ok {
		return
	}
	if err := h.client.SendTyping(domain.ChannelID(ch)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) send(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if _, err := core.DecodeEnvelope(raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload must be a json object with a type"})
		return
	}
	if err := h.client.SendRaw(raw); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *handlers) joinVoice(c *gin.Context) {
	var req JoinVoiceRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	res, err := h.client.JoinVoice(c.Request.Context(), req.ChannelID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) leaveVoice(c *gin.Context) {
	if err := h.client.LeaveVoice(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) toggleMute(c *gin.Context) {
	muted, err := h.client.ToggleMute(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"muted": muted})
}

func (h *handlers) dismissFailover(c *gin.Context) {
	h.client.DismissFailover()
	c.Status(http.StatusNoContent)
}

func (h *handlers) reconnect(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"restarted": h.client.Reconnect()})
}

func fail(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNoChannel):
		code = http.StatusBadRequest
	case errors.Is(err, session.ErrNoServer),
		errors.Is(err, mesh.ErrNotInRoom),
		errors.Is(err, mesh.ErrListenOnly):
		code = http.StatusConflict
	case errors.Is(err, session.ErrDMNotOpen):
		code = http.StatusNotFound
	case errors.Is(err, signal.ErrNotConnected),
		errors.Is(err, signal.ErrBackpressure):
		code = http.StatusServiceUnavailable
	case errors.Is(err, session.ErrClosed),
		errors.Is(err, mesh.ErrStopped):
		code = http.StatusGone
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	}
	if code == http.StatusInternalServerError {
		log.Error().Str("module", "adapters.http").Err(err).Msg("request failed")
	}
	c.JSON(code, gin.H{"error": err.Error()})
}
