package signal

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dkeye/chatlink/internal/core"
	"github.com/dkeye/chatlink/internal/domain"
	"github.com/rs/zerolog"
)

// voiceRouter applies voice roster events to the store and forwards
// signaling envelopes to the signal queue.
type voiceRouter struct {
	store    core.Store
	listener core.VoiceListener
	logger   *zerolog.Logger

	// requireSnapshot holds deltas back until a snapshot arrives on the
	// current connection. Without it the empty roster at open is the baseline.
	requireSnapshot bool
	baseline        atomic.Bool

	mu       sync.Mutex
	channels map[domain.ChannelID]struct{}
}

// reset runs on every successful open, before the connection reports open.
// Rosters this socket applied are cleared: the backend only sends a snapshot
// for non-empty channels, so a stale roster would otherwise survive.
func (v *voiceRouter) reset() {
	v.mu.Lock()
	known := make([]domain.ChannelID, 0, len(v.channels))
	for ch := range v.channels {
		known = append(known, ch)
	}
	clear(v.channels)
	v.mu.Unlock()
	slices.Sort(known)

	for _, ch := range known {
		v.store.SetVoiceSnapshot(ch, nil)
		v.store.SetChannelVoiceCount(ch, 0)
		v.notify(core.RosterEvent{Kind: core.RosterSnapshot, ChannelID: ch})
	}
	v.baseline.Store(!v.requireSnapshot)
}

func (v *voiceRouter) track(ch domain.ChannelID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.channels == nil {
		v.channels = make(map[domain.ChannelID]struct{})
	}
	v.channels[ch] = struct{}{}
}

// handle returns false for envelopes that are not voice traffic.
func (v *voiceRouter) handle(env core.Envelope) bool {
	if env.IsSignal() {
		v.store.PushVoiceSignal(env)
		if v.listener != nil {
			v.listener.OnSignal()
		}
		return true
	}
	switch env.Type {
	case core.TypeVoiceSnapshot:
		var ev core.VoiceSnapshotEvent
		if !v.decode(env, &ev) {
			return true
		}
		v.track(ev.ChannelID)
		v.store.SetVoiceSnapshot(ev.ChannelID, ev.Users)
		v.store.SetChannelVoiceCount(ev.ChannelID, len(ev.Users))
		v.baseline.Store(true)
		v.notify(core.RosterEvent{Kind: core.RosterSnapshot, ChannelID: ev.ChannelID, Users: ev.Users})

	case core.TypeVoiceUserJoined:
		var ev core.VoiceUserJoinedEvent
		if !v.decode(env, &ev) || !v.hasBaseline(env) {
			return true
		}
		v.track(ev.ChannelID)
		if v.store.SetVoiceUser(ev.ChannelID, ev.VoiceParticipant) {
			v.store.AdjustChannelVoiceCount(ev.ChannelID, 1)
		}
		v.notify(core.RosterEvent{Kind: core.RosterJoined, ChannelID: ev.ChannelID, Participant: ev.VoiceParticipant})

	case core.TypeVoiceUserLeft:
		var ev core.VoiceUserLeftEvent
		if !v.decode(env, &ev) || !v.hasBaseline(env) {
			return true
		}
		if v.store.RemoveVoiceUser(ev.ChannelID, ev.UserID) {
			v.store.AdjustChannelVoiceCount(ev.ChannelID, -1)
		}
		v.notify(core.RosterEvent{Kind: core.RosterLeft, ChannelID: ev.ChannelID, Participant: participant(ev.UserID, ev.Username)})

	case core.TypeVoiceStateChanged:
		var ev core.VoiceStateChangedEvent
		if !v.decode(env, &ev) || !v.hasBaseline(env) {
			return true
		}
		v.store.SetVoiceUserFlags(ev.ChannelID, ev.UserID, ev.VoiceFlags)
		p := participant(ev.UserID, "").WithFlags(ev.VoiceFlags)
		v.notify(core.RosterEvent{Kind: core.RosterChanged, ChannelID: ev.ChannelID, Participant: p})

	default:
		return false
	}
	return true
}

func (v *voiceRouter) decode(env core.Envelope, dst any) bool {
	if err := env.Decode(dst); err != nil {
		v.logger.Debug().Err(err).Str("type", env.Type).Msg("dropped malformed voice event")
		return false
	}
	return true
}

func (v *voiceRouter) hasBaseline(env core.Envelope) bool {
	if v.baseline.Load() {
		return true
	}
	v.logger.Debug().Str("type", env.Type).Msg("dropped voice delta before snapshot")
	return false
}

func (v *voiceRouter) notify(ev core.RosterEvent) {
	if v.listener != nil {
		v.listener.OnRoster(ev)
	}
}

func participant(id domain.UserID, username string) domain.VoiceParticipant {
	return domain.VoiceParticipant{UserID: id, Username: username}
}
