package core

import "github.com/dkeye/chatlink/internal/domain"

// Store is the application state the socket clients mutate.
// Implementations must be safe for concurrent use.
type Store interface {
	ActiveChannel() domain.ChannelID
	HasMessage(id domain.MessageID) bool

	// AppendMessage adds to the active channel's visible list; duplicate ids are no-ops.
	AppendMessage(msg domain.Message)
	AppendMessageForChannel(dm domain.DMID, msg domain.Message)
	UpdateMessage(msg domain.Message)
	RemoveMessage(channel domain.ChannelID, id domain.MessageID)
	IncrementUnread(channel domain.ChannelID)
	SetTypingUsers(channel domain.ChannelID, usernames []string)

	SetVoiceSnapshot(channel domain.ChannelID, users []domain.VoiceParticipant)
	// SetVoiceUser reports whether the participant was not in the roster before.
	SetVoiceUser(channel domain.ChannelID, p domain.VoiceParticipant) bool
	// SetVoiceUserFlags updates an existing participant; absent users are left absent.
	SetVoiceUserFlags(channel domain.ChannelID, id domain.UserID, flags domain.VoiceFlags)
	// RemoveVoiceUser reports whether the participant was present.
	RemoveVoiceUser(channel domain.ChannelID, id domain.UserID) bool
	SetChannelVoiceCount(channel domain.ChannelID, n int)
	AdjustChannelVoiceCount(channel domain.ChannelID, delta int)

	PushVoiceSignal(env Envelope)
	// ConsumeVoiceSignals drains the queue in FIFO order.
	ConsumeVoiceSignals() []Envelope
}

// NavigableStore is a Store the UI can point at a channel.
type NavigableStore interface {
	Store
	SetActiveChannel(channel domain.ChannelID)
}
