package mesh

import (
	"github.com/dkeye/chatlink/internal/core"
	"github.com/dkeye/chatlink/internal/domain"
	"github.com/pion/webrtc/v4"
)

// ensurePeer makes sure a record exists for remote. The lower user id
// creates the offer; the other side waits for it.
func (c *Coordinator) ensurePeer(remote domain.UserID) {
	if c.room == nil || remote == c.cfg.Self.UserID {
		return
	}
	if _, ok := c.peers[remote]; ok {
		return
	}
	if domain.InitiatorOf(c.cfg.Self.UserID, remote) != c.cfg.Self.UserID {
		c.peers[remote] = &peerRecord{remote: remote, role: domain.Answerer, state: domain.AwaitingOffer}
		c.logger.Debug().Int64("remote", int64(remote)).Msg("awaiting offer")
		return
	}
	rec := &peerRecord{remote: remote, role: domain.Initiator, state: domain.NoPeer}
	c.peers[remote] = rec
	if err := c.connect(rec); err != nil {
		c.failPeer(rec, err)
		return
	}
	rec.state = domain.Offering
	offer, err := rec.pc.CreateOffer()
	if err != nil {
		c.failPeer(rec, err)
		return
	}
	c.send(core.SignalEvent{Type: core.TypeVoiceOffer, TargetUserID: remote, SDP: &offer})
	rec.state = domain.AwaitingAnswer
	c.logger.Debug().Int64("remote", int64(remote)).Msg("offer sent")
}

// connect creates the peer connection of rec and binds its callbacks.
// Callbacks carry the record generation so late events of a replaced
// connection are ignored.
func (c *Coordinator) connect(rec *peerRecord) error {
	pc, err := c.cfg.Peers.NewPeer(rec.remote)
	if err != nil {
		return err
	}
	c.gen++
	gen, remote := c.gen, rec.remote
	pc.OnICECandidate(func(cand webrtc.ICECandidateInit) {
		c.post(localICE{remote: remote, gen: gen, candidate: cand})
	})
	pc.OnStateChange(func(s core.PeerLinkState) {
		c.post(linkState{remote: remote, gen: gen, state: s})
	})
	pc.OnTrack(func(t core.RemoteTrack) {
		c.post(remoteTrack{remote: remote, gen: gen, track: t})
	})
	rec.pc = pc
	rec.gen = gen
	if err := pc.AttachLocal(c.room.stream); err != nil {
		return err
	}
	return nil
}

func (c *Coordinator) failPeer(rec *peerRecord, err error) {
	c.logger.Error().Err(err).Int64("remote", int64(rec.remote)).Str("state", rec.state.String()).Msg("peer negotiation failed")
	c.closePeer(rec.remote, true)
}

// closePeer drops the record of remote. It reports whether a peer
// connection was closed.
func (c *Coordinator) closePeer(remote domain.UserID, disposeSink bool) bool {
	rec, ok := c.peers[remote]
	if !ok {
		return false
	}
	delete(c.peers, remote)
	rec.state = domain.Closed
	rec.pending = nil
	if disposeSink {
		c.cfg.Sinks.Dispose(remote)
	}
	if rec.pc == nil {
		return false
	}
	if err := rec.pc.Close(); err != nil {
		c.logger.Debug().Err(err).Int64("remote", int64(remote)).Msg("peer close")
	}
	return true
}

func (c *Coordinator) drainSignals() {
	for _, env := range c.cfg.Store.ConsumeVoiceSignals() {
		var sig core.SignalEvent
		if err := env.Decode(&sig); err != nil {
			c.logger.Debug().Err(err).Str("type", env.Type).Msg("malformed signal dropped")
			continue
		}
		if c.room == nil {
			continue
		}
		switch env.Type {
		case core.TypeVoiceOffer:
			c.onOffer(sig.FromUserID, sig.SDP)
		case core.TypeVoiceAnswer:
			c.onAnswer(sig.FromUserID, sig.SDP)
		case core.TypeVoiceICECandidate:
			c.onRemoteICE(sig.FromUserID, sig.Candidate)
		}
	}
}

func (c *Coordinator) onOffer(from domain.UserID, sdp *webrtc.SessionDescription) {
	if sdp == nil || from == c.cfg.Self.UserID {
		return
	}
	if domain.InitiatorOf(c.cfg.Self.UserID, from) == c.cfg.Self.UserID {
		c.logger.Warn().Int64("remote", int64(from)).Msg("offer from higher id dropped")
		return
	}
	rec := c.peers[from]
	if rec != nil && rec.pc != nil {
		// The remote restarted negotiation; the sink survives.
		pending := rec.pending
		c.closePeer(from, false)
		rec = &peerRecord{remote: from, role: domain.Answerer, state: domain.AwaitingOffer, pending: pending}
		c.peers[from] = rec
	}
	if rec == nil {
		rec = &peerRecord{remote: from, role: domain.Answerer, state: domain.AwaitingOffer}
		c.peers[from] = rec
	}
	if err := c.connect(rec); err != nil {
		c.failPeer(rec, err)
		return
	}
	rec.state = domain.AnsweringOffer
	answer, err := rec.pc.ApplyOffer(*sdp)
	if err != nil {
		c.failPeer(rec, err)
		return
	}
	rec.remoteSet = true
	c.flushICE(rec)
	c.send(core.SignalEvent{Type: core.TypeVoiceAnswer, TargetUserID: from, SDP: &answer})
	c.logger.Debug().Int64("remote", int64(from)).Msg("answer sent")
}

func (c *Coordinator) onAnswer(from domain.UserID, sdp *webrtc.SessionDescription) {
	rec := c.peers[from]
	if sdp == nil || rec == nil || rec.role != domain.Initiator || rec.state != domain.AwaitingAnswer {
		c.logger.Debug().Int64("remote", int64(from)).Msg("unexpected answer dropped")
		return
	}
	if err := rec.pc.ApplyAnswer(*sdp); err != nil {
		c.failPeer(rec, err)
		return
	}
	rec.remoteSet = true
	c.flushICE(rec)
}

// onRemoteICE queues candidates until the remote description is set.
func (c *Coordinator) onRemoteICE(from domain.UserID, cand *webrtc.ICECandidateInit) {
	if cand == nil || from == c.cfg.Self.UserID {
		return
	}
	rec := c.peers[from]
	if rec == nil {
		if domain.InitiatorOf(c.cfg.Self.UserID, from) != from {
			c.logger.Debug().Int64("remote", int64(from)).Msg("candidate for unknown peer dropped")
			return
		}
		rec = &peerRecord{remote: from, role: domain.Answerer, state: domain.AwaitingOffer}
		c.peers[from] = rec
	}
	if !rec.remoteSet {
		rec.pending = append(rec.pending, *cand)
		return
	}
	if err := rec.pc.AddICECandidate(*cand); err != nil {
		c.logger.Warn().Err(err).Int64("remote", int64(from)).Msg("remote candidate rejected")
	}
}

func (c *Coordinator) flushICE(rec *peerRecord) {
	for _, cand := range rec.pending {
		if err := rec.pc.AddICECandidate(cand); err != nil {
			c.logger.Warn().Err(err).Int64("remote", int64(rec.remote)).Msg("queued candidate rejected")
		}
	}
	rec.pending = nil
}

func (c *Coordinator) current(remote domain.UserID, gen uint64) *peerRecord {
	rec, ok := c.peers[remote]
	if !ok || rec.gen != gen || rec.pc == nil {
		return nil
	}
	return rec
}

func (c *Coordinator) onLocalICE(m localICE) {
	if c.room == nil || c.current(m.remote, m.gen) == nil {
		return
	}
	cand := m.candidate
	c.send(core.SignalEvent{Type: core.TypeVoiceICECandidate, TargetUserID: m.remote, Candidate: &cand})
}

func (c *Coordinator) onLinkState(m linkState) {
	rec := c.current(m.remote, m.gen)
	if rec == nil {
		return
	}
	switch m.state {
	case core.PeerLinkConnected:
		rec.state = domain.Connected
		c.logger.Info().Int64("remote", int64(m.remote)).Msg("peer connected")
	case core.PeerLinkClosed:
		c.closePeer(m.remote, true)
		c.logger.Info().Int64("remote", int64(m.remote)).Msg("peer link closed")
	}
}

func (c *Coordinator) onRemoteTrack(m remoteTrack) {
	if c.current(m.remote, m.gen) == nil {
		return
	}
	c.cfg.Sinks.Sink(m.remote).Attach(m.track)
	c.logger.Debug().Int64("remote", int64(m.remote)).Str("track", m.track.ID()).Msg("remote track attached")
}
