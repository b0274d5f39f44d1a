package mesh

import (
	"context"
	"slices"
	"time"

	"github.com/dkeye/chatlink/internal/app/speaking"
	"github.com/dkeye/chatlink/internal/core"
	"github.com/dkeye/chatlink/internal/domain"
)

func (c *Coordinator) join(req joinReq) JoinResult {
	if c.room != nil {
		if c.room.channel == req.channel {
			if req.stream != nil {
				req.stream.Stop()
			}
			return c.joinResult()
		}
		c.logger.Info().Int64("from", int64(c.room.channel)).Int64("to", int64(req.channel)).Msg("switching voice room")
		c.leave()
	}

	r := &room{
		channel: req.channel,
		stream:  req.stream,
		micErr:  req.micErr,
		quit:    make(chan struct{}),
	}
	c.room = r
	c.local.muted.Store(req.stream == nil)
	c.local.speaking.Store(false)

	c.send(core.VoiceJoinFrame{
		Type:      core.TypeVoiceJoin,
		ChannelID: req.channel,
		Muted:     c.local.muted.Load(),
	})
	c.logger.Info().Int64("channel", int64(req.channel)).Bool("listen_only", req.stream == nil).Msg("joined voice room")

	for _, id := range c.rosterIDs(req.channel) {
		c.ensurePeer(id)
	}

	if req.stream != nil {
		if an := req.stream.Analyser(); an != nil {
			quit := r.quit
			r.detector = speaking.New(an, &c.local, func(v bool) {
				c.postUntil(speakingMsg{speaking: v}, quit)
			}, c.cfg.SpeakingInterval, c.cfg.SpeakingThreshold)
			r.detector.Start(c.ctx)
		}
	}

	hbCtx, stop := context.WithCancel(c.ctx)
	r.stopHeartbeat = stop
	go c.heartbeat(hbCtx, r.quit)

	return c.joinResult()
}

func (c *Coordinator) joinResult() JoinResult {
	return JoinResult{
		InVoice:   true,
		ChannelID: c.room.channel,
		MicError:  c.room.micErr,
		HasStream: c.room.stream != nil,
	}
}

// postUntil is post that also gives up once quit is closed.
func (c *Coordinator) postUntil(m meshMsg, quit <-chan struct{}) {
	select {
	case c.inbox <- m:
	case <-quit:
	case <-c.ctx.Done():
	}
}

func (c *Coordinator) heartbeat(ctx context.Context, quit <-chan struct{}) {
	t := time.NewTicker(c.cfg.Heartbeat)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.postUntil(heartbeatTick{}, quit)
		}
	}
}

// leave tears the room down: every peer connection is closed, every
// sink disposed and the shared stream stopped exactly once.
func (c *Coordinator) leave() {
	r := c.room
	if r == nil {
		return
	}
	close(r.quit)
	if r.detector != nil {
		r.detector.Stop()
	}
	if r.stopHeartbeat != nil {
		r.stopHeartbeat()
	}

	closed := 0
	for id := range c.peers {
		if c.closePeer(id, false) {
			closed++
		}
	}
	sinks := c.cfg.Sinks.DisposeAll()
	if r.stream != nil {
		r.stream.Stop()
	}

	c.send(core.VoiceLeaveFrame{Type: core.TypeVoiceLeave, ChannelID: r.channel})
	c.room = nil
	c.local.muted.Store(false)
	c.local.speaking.Store(false)
	c.logger.Info().Int64("channel", int64(r.channel)).Int("peers", closed).Int("sinks", sinks).Msg("left voice room")
}

func (c *Coordinator) toggleMute() (bool, error) {
	if c.room == nil {
		return false, ErrNotInRoom
	}
	if c.room.stream == nil {
		return true, ErrListenOnly
	}
	muted := !c.local.muted.Load()
	c.local.muted.Store(muted)
	c.room.stream.SetEnabled(!muted)
	if muted {
		c.local.speaking.Store(false)
	}
	c.sendState()
	c.logger.Debug().Bool("muted", muted).Msg("mute toggled")
	return muted, nil
}

func (c *Coordinator) onSpeaking(v bool) {
	if c.room == nil || c.local.muted.Load() {
		return
	}
	if c.local.speaking.Load() == v {
		return
	}
	c.local.speaking.Store(v)
	c.sendState()
}

func (c *Coordinator) reannounce() {
	if c.room == nil {
		return
	}
	c.send(core.VoiceJoinFrame{
		Type:      core.TypeVoiceJoin,
		ChannelID: c.room.channel,
		Muted:     c.local.muted.Load(),
	})
	// Remote peers dropped us when the socket went down; renegotiate every link.
	for id := range c.peers {
		c.closePeer(id, false)
	}
	for _, id := range c.rosterIDs(c.room.channel) {
		c.ensurePeer(id)
	}
	c.logger.Info().Int64("channel", int64(c.room.channel)).Msg("voice membership re-announced")
}

func (c *Coordinator) onRoster(ev core.RosterEvent) {
	inRoom := c.room != nil && c.room.channel == ev.ChannelID
	switch ev.Kind {
	case core.RosterSnapshot:
		roster := make(map[domain.UserID]domain.VoiceParticipant, len(ev.Users))
		for _, u := range ev.Users {
			roster[u.UserID] = u
		}
		c.rosters[ev.ChannelID] = roster
		if !inRoom {
			return
		}
		for id := range c.peers {
			if _, ok := roster[id]; !ok {
				c.closePeer(id, true)
				c.logger.Debug().Int64("remote", int64(id)).Msg("peer absent from snapshot")
			}
		}
		for _, id := range c.rosterIDs(ev.ChannelID) {
			c.ensurePeer(id)
		}

	case core.RosterJoined:
		p := ev.Participant
		c.roster(ev.ChannelID)[p.UserID] = p
		if !inRoom || p.UserID == c.cfg.Self.UserID {
			return
		}
		if _, ok := c.peers[p.UserID]; ok {
			c.closePeer(p.UserID, true)
			c.logger.Debug().Int64("remote", int64(p.UserID)).Msg("participant rejoined, renegotiating")
		}
		c.ensurePeer(p.UserID)

	case core.RosterLeft:
		id := ev.Participant.UserID
		delete(c.roster(ev.ChannelID), id)
		if inRoom && c.closePeer(id, true) {
			c.logger.Debug().Int64("remote", int64(id)).Msg("participant left")
		}

	case core.RosterChanged:
		p := ev.Participant
		roster := c.roster(ev.ChannelID)
		prev, ok := roster[p.UserID]
		if !ok {
			return
		}
		roster[p.UserID] = prev.WithFlags(domain.VoiceFlags{Muted: p.Muted, Video: p.Video, Speaking: p.Speaking})
		if inRoom {
			c.ensurePeer(p.UserID)
		}
	}
}

func (c *Coordinator) roster(ch domain.ChannelID) map[domain.UserID]domain.VoiceParticipant {
	r, ok := c.rosters[ch]
	if !ok {
		r = make(map[domain.UserID]domain.VoiceParticipant)
		c.rosters[ch] = r
	}
	return r
}

// rosterIDs lists the remote participants of ch in ascending order.
func (c *Coordinator) rosterIDs(ch domain.ChannelID) []domain.UserID {
	ids := make([]domain.UserID, 0, len(c.rosters[ch]))
	for id := range c.rosters[ch] {
		if id != c.cfg.Self.UserID {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}
