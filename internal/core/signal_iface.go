package core

import "github.com/dkeye/chatlink/internal/domain"

// Frame is a raw text payload.
type Frame []byte

// SignalSender is the outbound side of whichever socket carries voice traffic.
type SignalSender interface {
	Send(payload any) error
}

type RosterKind int

const (
	RosterSnapshot RosterKind = iota
	RosterJoined
	RosterLeft
	RosterChanged
)

// RosterEvent is a voice roster change already accepted by a socket client.
// Snapshot uses Users; Joined and Changed use Participant; Left uses Participant.UserID.
type RosterEvent struct {
	Kind        RosterKind
	ChannelID   domain.ChannelID
	Users       []domain.VoiceParticipant
	Participant domain.VoiceParticipant
}

// VoiceListener is fed by socket clients after they have updated the store.
type VoiceListener interface {
	OnRoster(RosterEvent)
	// OnSignal announces that the store's signal queue has new entries.
	OnSignal()
}

// Notifier raises user-facing side effects for inbound events.
type Notifier interface {
	Mention(msg domain.Message)
}
