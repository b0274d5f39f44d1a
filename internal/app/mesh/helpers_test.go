package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dkeye/chatlink/internal/app"
	"github.com/dkeye/chatlink/internal/core"
	"github.com/dkeye/chatlink/internal/domain"
	"github.com/dkeye/chatlink/internal/store"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

type fakePeer struct {
	remote domain.UserID

	mu       sync.Mutex
	calls    []string
	attached bool
	recvOnly bool
	closes   int
	offerErr error
	onICE    func(webrtc.ICECandidateInit)
	onState  func(core.PeerLinkState)
	onTrack  func(core.RemoteTrack)
}

func (p *fakePeer) record(call string) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
}

func (p *fakePeer) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePeer) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

func (p *fakePeer) AttachLocal(stream core.LocalStream) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attached = true
	p.recvOnly = stream == nil
	return nil
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	p.record("create_offer")
	if p.offerErr != nil {
		return webrtc.SessionDescription{}, p.offerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-to-%d", p.remote)}, nil
}

func (p *fakePeer) ApplyOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	p.record("apply_offer:" + offer.SDP)
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-to-%d", p.remote)}, nil
}

func (p *fakePeer) ApplyAnswer(answer webrtc.SessionDescription) error {
	p.record("apply_answer:" + answer.SDP)
	return nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.record("ice:" + c.Candidate)
	return nil
}

func (p *fakePeer) OnICECandidate(f func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	p.onICE = f
	p.mu.Unlock()
}

func (p *fakePeer) OnStateChange(f func(core.PeerLinkState)) {
	p.mu.Lock()
	p.onState = f
	p.mu.Unlock()
}

func (p *fakePeer) OnTrack(f func(core.RemoteTrack)) {
	p.mu.Lock()
	p.onTrack = f
	p.mu.Unlock()
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) emitICE(cand string) {
	p.mu.Lock()
	f := p.onICE
	p.mu.Unlock()
	f(webrtc.ICECandidateInit{Candidate: cand})
}

func (p *fakePeer) emitState(s core.PeerLinkState) {
	p.mu.Lock()
	f := p.onState
	p.mu.Unlock()
	f(s)
}

func (p *fakePeer) emitTrack(t core.RemoteTrack) {
	p.mu.Lock()
	f := p.onTrack
	p.mu.Unlock()
	f(t)
}

type fakeFactory struct {
	mu       sync.Mutex
	peers    []*fakePeer
	offerErr map[domain.UserID]error
}

func (f *fakeFactory) NewPeer(remote domain.UserID) (core.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakePeer{remote: remote, offerErr: f.offerErr[remote]}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakeFactory) For(remote domain.UserID) []*fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakePeer
	for _, p := range f.peers {
		if p.remote == remote {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeFactory) All() []*fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakePeer(nil), f.peers...)
}

type fakeSender struct {
	mu     sync.Mutex
	frames []map[string]any
}

func (s *fakeSender) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	s.mu.Lock()
	s.frames = append(s.frames, m)
	s.mu.Unlock()
	return nil
}

func (s *fakeSender) OfType(typ string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []map[string]any
	for _, f := range s.frames {
		if f["type"] == typ {
			out = append(out, f)
		}
	}
	return out
}

type fakeStream struct {
	stops    atomic.Int32
	disabled atomic.Bool
}

func (s *fakeStream) Tracks() []webrtc.TrackLocal { return nil }
func (s *fakeStream) SetEnabled(enabled bool)     { s.disabled.Store(!enabled) }
func (s *fakeStream) Enabled() bool               { return !s.disabled.Load() }
func (s *fakeStream) Analyser() core.Analyser     { return nil }
func (s *fakeStream) Stop()                       { s.stops.Add(1) }

type fakeMedia struct {
	stream *fakeStream
	err    error
}

func (m *fakeMedia) Acquire(context.Context) (core.LocalStream, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.stream, nil
}

type fakeTrack struct{ id string }

func (t fakeTrack) ID() string { return t.id }
func (t fakeTrack) ReadPacket() (*rtp.Packet, error) {
	return nil, errors.New("no packets")
}

type fakeSink struct {
	id     string
	mu     sync.Mutex
	tracks []string
	closes int
}

func (s *fakeSink) ID() string { return s.id }
func (s *fakeSink) Attach(t core.RemoteTrack) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t.ID())
	s.mu.Unlock()
}
func (s *fakeSink) Close() {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
}

type harness struct {
	c       *Coordinator
	store   *store.Memory
	peers   *fakeFactory
	sender  *fakeSender
	stream  *fakeStream
	sinks   *app.Registry
	created []*fakeSink
	mu      sync.Mutex
}

func newHarness(t *testing.T, self domain.UserID, mediaErr error) *harness {
	t.Helper()
	h := &harness{
		store:  store.NewMemory(),
		peers:  &fakeFactory{offerErr: map[domain.UserID]error{}},
		sender: &fakeSender{},
		stream: &fakeStream{},
	}
	h.sinks = app.NewRegistry(func(remote domain.UserID) core.AudioSink {
		s := &fakeSink{id: fmt.Sprintf("sink-%d", remote)}
		h.mu.Lock()
		h.created = append(h.created, s)
		h.mu.Unlock()
		return s
	})
	h.c = New(context.Background(), Config{
		Self:    domain.Identity{UserID: self, Username: "self", Token: "tok"},
		Store:   h.store,
		Signals: h.sender,
		Peers:   h.peers,
		Media:   &fakeMedia{stream: h.stream, err: mediaErr},
		Sinks:   h.sinks,
	})
	t.Cleanup(h.c.Close)
	return h
}

// sync waits until every message posted so far has been handled.
func (h *harness) sync(t *testing.T) State {
	t.Helper()
	st, err := h.c.State(context.Background())
	require.NoError(t, err)
	return st
}

func (h *harness) roster(t *testing.T, ch domain.ChannelID, ids ...domain.UserID) {
	t.Helper()
	users := make([]domain.VoiceParticipant, 0, len(ids))
	for _, id := range ids {
		users = append(users, domain.VoiceParticipant{UserID: id, Username: fmt.Sprintf("u%d", id)})
	}
	h.c.OnRoster(core.RosterEvent{Kind: core.RosterSnapshot, ChannelID: ch, Users: users})
	h.sync(t)
}

func (h *harness) rosterEvent(t *testing.T, kind core.RosterKind, ch domain.ChannelID, id domain.UserID) {
	t.Helper()
	h.c.OnRoster(core.RosterEvent{Kind: kind, ChannelID: ch, Participant: domain.VoiceParticipant{UserID: id, Username: fmt.Sprintf("u%d", id)}})
	h.sync(t)
}

func (h *harness) signal(t *testing.T, v map[string]any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	env, err := core.DecodeEnvelope(data)
	require.NoError(t, err)
	h.store.PushVoiceSignal(env)
	h.c.OnSignal()
	h.sync(t)
}

func (h *harness) join(t *testing.T, ch domain.ChannelID) JoinResult {
	t.Helper()
	res, err := h.c.Join(context.Background(), ch)
	require.NoError(t, err)
	return res
}

func offerFrom(from domain.UserID, sdp string) map[string]any {
	return map[string]any{
		"type":         core.TypeVoiceOffer,
		"from_user_id": from,
		"sdp":          map[string]any{"type": "offer", "sdp": sdp},
	}
}

func answerFrom(from domain.UserID, sdp string) map[string]any {
	return map[string]any{
		"type":         core.TypeVoiceAnswer,
		"from_user_id": from,
		"sdp":          map[string]any{"type": "answer", "sdp": sdp},
	}
}

func iceFrom(from domain.UserID, cand string) map[string]any {
	return map[string]any{
		"type":         core.TypeVoiceICECandidate,
		"from_user_id": from,
		"candidate":    map[string]any{"candidate": cand},
	}
}
