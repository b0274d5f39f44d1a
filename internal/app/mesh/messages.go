package mesh

import (
	"github.com/dkeye/chatlink/internal/core"
	"github.com/dkeye/chatlink/internal/domain"
	"github.com/pion/webrtc/v4"
)

type meshMsg interface{ isMeshMsg() }

type joinReq struct {
	channel domain.ChannelID
	stream  core.LocalStream
	micErr  domain.MediaErrorCode
	reply   chan JoinResult
}

type leaveReq struct {
	reply chan struct{}
}

type muteResult struct {
	muted bool
	err   error
}

type muteReq struct {
	reply chan muteResult
}

type stateReq struct {
	reply chan State
}

type reannounceReq struct{}

type rosterMsg struct {
	ev core.RosterEvent
}

type signalWake struct{}

type localICE struct {
	remote    domain.UserID
	gen       uint64
	candidate webrtc.ICECandidateInit
}

type linkState struct {
	remote domain.UserID
	gen    uint64
	state  core.PeerLinkState
}

type remoteTrack struct {
	remote domain.UserID
	gen    uint64
	track  core.RemoteTrack
}

type speakingMsg struct {
	speaking bool
}

type heartbeatTick struct{}

func (joinReq) isMeshMsg()       {}
func (leaveReq) isMeshMsg()      {}
func (muteReq) isMeshMsg()       {}
func (stateReq) isMeshMsg()      {}
func (reannounceReq) isMeshMsg() {}
func (rosterMsg) isMeshMsg()     {}
func (signalWake) isMeshMsg()    {}
func (localICE) isMeshMsg()      {}
func (linkState) isMeshMsg()     {}
func (remoteTrack) isMeshMsg()   {}
func (speakingMsg) isMeshMsg()   {}
func (heartbeatTick) isMeshMsg() {}
