package core

import (
	"context"

	"github.com/dkeye/chatlink/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type PeerLinkState int

const (
	PeerLinkConnecting PeerLinkState = iota
	PeerLinkConnected
	// PeerLinkClosed covers disconnected, failed and closed transitions.
	PeerLinkClosed
)

// PeerConnection is one direct media link to a remote participant.
type PeerConnection interface {
	// AttachLocal adds the shared local stream's tracks; nil means receive-only.
	AttachLocal(stream LocalStream) error
	// CreateOffer creates an offer and sets it as the local description.
	CreateOffer() (webrtc.SessionDescription, error)
	// ApplyOffer sets the remote offer, then creates and sets the local answer.
	ApplyOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	ApplyAnswer(answer webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnStateChange(func(PeerLinkState))
	OnTrack(func(RemoteTrack))
	Close() error
}

type PeerFactory interface {
	NewPeer(remote domain.UserID) (PeerConnection, error)
}

// RemoteTrack is an inbound media track.
type RemoteTrack interface {
	ID() string
	ReadPacket() (*rtp.Packet, error)
}

// AudioSink plays back the remote tracks of one participant.
type AudioSink interface {
	ID() string
	Attach(track RemoteTrack)
	Close()
}

// LocalStream is the microphone capture shared by every peer connection.
type LocalStream interface {
	Tracks() []webrtc.TrackLocal
	SetEnabled(enabled bool)
	Enabled() bool
	// Analyser may return nil when the source has no level data.
	Analyser() Analyser
	Stop()
}

// MediaSource acquires the local stream. Errors are *domain.MediaError.
type MediaSource interface {
	Acquire(ctx context.Context) (LocalStream, error)
}

// Analyser exposes the current frequency spectrum of the local capture,
// one byte per bin on the 0..255 decibel scale.
type Analyser interface {
	Spectrum() []byte
	Close()
}
