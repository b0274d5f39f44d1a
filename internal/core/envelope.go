package core

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/chatlink/internal/domain"
	"github.com/pion/webrtc/v4"
)

const (
	TypeAuth              = "auth"
	TypeMessageNew        = "message.new"
	TypeMessageUpdated    = "message.updated"
	TypeMessageDeleted    = "message.deleted"
	TypeUserTyping        = "user.typing"
	TypePresenceHeartbeat = "presence.heartbeat"

	TypeVoiceSnapshot     = "voice.state_snapshot"
	TypeVoiceUserJoined   = "voice.user_joined"
	TypeVoiceUserLeft     = "voice.user_left"
	TypeVoiceStateChanged = "voice.state_changed"
	TypeVoiceJoin         = "voice.join"
	TypeVoiceLeave        = "voice.leave"
	TypeVoiceStateUpdate  = "voice.state_update"
	TypeVoiceHeartbeat    = "voice.heartbeat"
	TypeVoiceOffer        = "voice.offer"
	TypeVoiceAnswer       = "voice.answer"
	TypeVoiceICECandidate = "voice.ice_candidate"
)

var ErrNoType = errors.New("envelope has no type")

// Envelope is one inbound frame: the discriminant plus the untouched body.
type Envelope struct {
	Type string
	Raw  json.RawMessage
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Envelope{}, err
	}
	if head.Type == "" {
		return Envelope{}, ErrNoType
	}
	return Envelope{Type: head.Type, Raw: json.RawMessage(data)}, nil
}

func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Raw, v)
}

// IsSignal reports whether the envelope is a point-to-point signaling message.
func (e Envelope) IsSignal() bool {
	switch e.Type {
	case TypeVoiceOffer, TypeVoiceAnswer, TypeVoiceICECandidate:
		return true
	}
	return false
}

// Inbound payloads.

type MessageEvent struct {
	Message domain.Message `json:"message"`
}

type MessageDeletedEvent struct {
	MessageID domain.MessageID `json:"message_id"`
	ChannelID domain.ChannelID `json:"channel_id"`
}

type TypingEvent struct {
	ChannelID domain.ChannelID `json:"channel_id"`
	UserID    domain.UserID    `json:"user_id"`
	Username  string           `json:"username"`
}

type VoiceSnapshotEvent struct {
	ChannelID domain.ChannelID          `json:"channel_id"`
	Users     []domain.VoiceParticipant `json:"users"`
}

type VoiceUserJoinedEvent struct {
	ChannelID domain.ChannelID `json:"channel_id"`
	domain.VoiceParticipant
}

type VoiceUserLeftEvent struct {
	ChannelID domain.ChannelID `json:"channel_id"`
	UserID    domain.UserID    `json:"user_id"`
	Username  string           `json:"username,omitempty"`
}

type VoiceStateChangedEvent struct {
	ChannelID domain.ChannelID `json:"channel_id"`
	UserID    domain.UserID    `json:"user_id"`
	domain.VoiceFlags
}

// SignalEvent covers offer, answer and ice_candidate in both directions.
// Inbound frames carry FromUserID, outbound frames carry TargetUserID.
type SignalEvent struct {
	Type         string                     `json:"type"`
	FromUserID   domain.UserID              `json:"from_user_id,omitempty"`
	TargetUserID domain.UserID              `json:"target_user_id,omitempty"`
	SDP          *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate    *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// Outbound payloads.

type AuthFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type TypingFrame struct {
	Type      string           `json:"type"`
	ChannelID domain.ChannelID `json:"channel_id"`
}

type HeartbeatFrame struct {
	Type string `json:"type"`
}

type VoiceJoinFrame struct {
	Type      string           `json:"type"`
	ChannelID domain.ChannelID `json:"channel_id,omitempty"`
	Muted     bool             `json:"muted"`
	Video     bool             `json:"video"`
}

type VoiceLeaveFrame struct {
	Type      string           `json:"type"`
	ChannelID domain.ChannelID `json:"channel_id,omitempty"`
}

type VoiceStateUpdateFrame struct {
	Type      string           `json:"type"`
	ChannelID domain.ChannelID `json:"channel_id,omitempty"`
	domain.VoiceFlags
}
