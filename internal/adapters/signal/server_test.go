package signal

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/chatlink/internal/core"
	"github.com/dkeye/chatlink/internal/domain"
	"github.com/dkeye/chatlink/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openServerClient(t *testing.T, opts ServerOptions) (*ServerClient, *store.Memory, *recordingListener, *recordingNotifier) {
	t.Helper()
	st := store.NewMemory()
	st.SetActiveChannel(10)
	deps, l, n := newDeps(st)
	c := NewServerClient("ws://unused/ws/server/1", 1, deps, opts, Settings{})
	t.Cleanup(c.Close)
	c.voice.reset()
	return c, st, l, n
}

func TestServerClient_MessageNewActiveChannelAppends(t *testing.T) {
	c, st, _, _ := openServerClient(t, ServerOptions{})

	c.route(envelope(t, messageNew(1, 10, 2, "hi")))

	require.Len(t, st.Messages(), 1)
	assert.Equal(t, domain.MessageID(1), st.Messages()[0].ID)
	assert.Equal(t, 0, st.Unread(10))
}

func TestServerClient_MessageNewOtherChannelCountsUnread(t *testing.T) {
	c, st, _, _ := openServerClient(t, ServerOptions{})

	c.route(envelope(t, messageNew(1, 11, 2, "elsewhere")))
	c.route(envelope(t, messageNew(2, 11, 2, "again")))

	assert.Empty(t, st.Messages())
	assert.Equal(t, 2, st.Unread(11))
	assert.Equal(t, 0, st.Unread(10))
}

func TestServerClient_DuplicateMessageIsNoop(t *testing.T) {
	c, st, _, _ := openServerClient(t, ServerOptions{})

	c.route(envelope(t, messageNew(1, 10, 2, "hi")))
	c.route(envelope(t, messageNew(1, 10, 2, "hi")))

	assert.Len(t, st.Messages(), 1)
}

func TestServerClient_MentionNotifies(t *testing.T) {
	c, _, _, n := openServerClient(t, ServerOptions{})

	c.route(envelope(t, messageNew(1, 11, 2, "hey @Alice look")))
	c.route(envelope(t, messageNew(2, 10, 2, "@alicea is someone else")))
	c.route(envelope(t, messageNew(3, 10, self.UserID, "talking to myself @alice")))

	assert.Equal(t, 1, n.count())
}

type spyStore struct {
	*store.Memory
	updated []domain.MessageID
	removed []domain.MessageID
}

func (s *spyStore) UpdateMessage(msg domain.Message) {
	s.updated = append(s.updated, msg.ID)
	s.Memory.UpdateMessage(msg)
}

func (s *spyStore) RemoveMessage(ch domain.ChannelID, id domain.MessageID) {
	s.removed = append(s.removed, id)
	s.Memory.RemoveMessage(ch, id)
}

func TestServerClient_UpdatedAndDeletedIgnoreActiveChannel(t *testing.T) {
	c, st, _, _ := openServerClient(t, ServerOptions{})
	c.route(envelope(t, messageNew(1, 10, 2, "first")))

	updated := messageNew(1, 10, 2, "edited")
	updated["type"] = core.TypeMessageUpdated
	c.route(envelope(t, updated))
	require.Equal(t, "edited", st.Messages()[0].Content)

	spy := &spyStore{Memory: st}
	c.deps.Store = spy
	elsewhere := messageNew(7, 11, 2, "edited elsewhere")
	elsewhere["type"] = core.TypeMessageUpdated
	c.route(envelope(t, elsewhere))
	c.route(envelope(t, map[string]any{"type": core.TypeMessageDeleted, "message_id": 8, "channel_id": 11}))
	c.route(envelope(t, map[string]any{"type": core.TypeMessageDeleted, "message_id": 1, "channel_id": 10}))

	assert.Equal(t, []domain.MessageID{7}, spy.updated)
	assert.Equal(t, []domain.MessageID{8, 1}, spy.removed)
	assert.Empty(t, st.Messages())
}

func TestServerClient_TypingExpiresPerUser(t *testing.T) {
	c, st, _, _ := openServerClient(t, ServerOptions{TypingTTL: 120 * time.Millisecond})
	typing := func(ch domain.ChannelID, id domain.UserID, name string) core.Envelope {
		return envelope(t, map[string]any{"type": core.TypeUserTyping, "channel_id": ch, "user_id": id, "username": name})
	}

	c.route(typing(10, 2, "bob"))
	time.Sleep(60 * time.Millisecond)
	c.route(typing(10, 3, "carol"))
	c.route(typing(10, 2, "bob"))
	c.route(typing(11, 4, "dave"))
	c.route(typing(10, self.UserID, self.Username))

	assert.Equal(t, []string{"bob", "carol"}, st.TypingUsers(10))
	assert.Empty(t, st.TypingUsers(11))

	// bob's timer was reset together with carol's start; both expire later.
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, []string{"bob", "carol"}, st.TypingUsers(10))

	require.Eventually(t, func() bool { return len(st.TypingUsers(10)) == 0 }, within, 5*time.Millisecond)
}

func TestServerClient_SendTypingIsThrottled(t *testing.T) {
	c, _, _, _ := openServerClient(t, ServerOptions{TypingInterval: time.Hour})

	// Not connected: the first call reaches the socket, the second is throttled.
	assert.ErrorIs(t, c.SendTyping(10), ErrNotConnected)
	assert.NoError(t, c.SendTyping(10))
	assert.ErrorIs(t, c.SendTyping(11), ErrNotConnected)
}

func TestServerClient_SnapshotReplacesRoster(t *testing.T) {
	c, st, l, _ := openServerClient(t, ServerOptions{RouteVoice: true})
	users := func(ids ...domain.UserID) []map[string]any {
		out := []map[string]any{}
		for _, id := range ids {
			out = append(out, map[string]any{"user_id": id, "username": "u" + id.String(), "muted": false, "video": false})
		}
		return out
	}

	c.route(envelope(t, map[string]any{"type": core.TypeVoiceSnapshot, "channel_id": 20, "users": users(1, 2, 3)}))
	require.Len(t, st.VoiceRoster(20), 3)
	assert.Equal(t, 3, st.VoiceCount(20))

	c.route(envelope(t, map[string]any{"type": core.TypeVoiceSnapshot, "channel_id": 20, "users": users(1, 3)}))
	roster := st.VoiceRoster(20)
	require.Len(t, roster, 2)
	assert.Equal(t, domain.UserID(1), roster[0].UserID)
	assert.Equal(t, domain.UserID(3), roster[1].UserID)
	assert.Equal(t, 2, st.VoiceCount(20))

	events, _ := l.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, core.RosterSnapshot, events[1].Kind)
}

func TestServerClient_VoiceDeltas(t *testing.T) {
	c, st, l, _ := openServerClient(t, ServerOptions{RouteVoice: true})

	c.route(envelope(t, map[string]any{"type": core.TypeVoiceUserJoined, "channel_id": 20, "user_id": 2, "username": "bob", "muted": false, "video": false}))
	c.route(envelope(t, map[string]any{"type": core.TypeVoiceUserJoined, "channel_id": 20, "user_id": 3, "username": "carol", "muted": true, "video": false}))
	c.route(envelope(t, map[string]any{"type": core.TypeVoiceStateChanged, "channel_id": 20, "user_id": 2, "muted": true, "video": false, "speaking": false}))
	c.route(envelope(t, map[string]any{"type": core.TypeVoiceStateChanged, "channel_id": 20, "user_id": 9, "muted": true}))
	c.route(envelope(t, map[string]any{"type": core.TypeVoiceUserLeft, "channel_id": 20, "user_id": 3, "username": "carol"}))

	roster := st.VoiceRoster(20)
	require.Len(t, roster, 1)
	assert.Equal(t, domain.VoiceParticipant{UserID: 2, Username: "bob", Muted: true}, roster[0])
	assert.Equal(t, 1, st.VoiceCount(20))

	events, _ := l.snapshot()
	require.Len(t, events, 5)
	assert.Equal(t, core.RosterLeft, events[4].Kind)
	assert.Equal(t, domain.UserID(3), events[4].Participant.UserID)
}

func TestServerClient_SignalsQueuedVerbatim(t *testing.T) {
	c, st, l, _ := openServerClient(t, ServerOptions{RouteVoice: true})

	offer := map[string]any{"type": core.TypeVoiceOffer, "from_user_id": 2, "sdp": map[string]any{"type": "offer", "sdp": "v=0"}}
	cand := map[string]any{"type": core.TypeVoiceICECandidate, "from_user_id": 2, "candidate": map[string]any{"candidate": "candidate:1"}}
	c.route(envelope(t, offer))
	c.route(envelope(t, cand))

	_, signals := l.snapshot()
	assert.Equal(t, 2, signals)
	queued := st.ConsumeVoiceSignals()
	require.Len(t, queued, 2)
	assert.Equal(t, core.TypeVoiceOffer, queued[0].Type)
	assert.Equal(t, core.TypeVoiceICECandidate, queued[1].Type)
	assert.JSONEq(t, string(envelope(t, offer).Raw), string(queued[0].Raw))
	assert.Empty(t, st.ConsumeVoiceSignals())
}

func TestServerClient_VoiceIgnoredWhenNotRouted(t *testing.T) {
	c, st, l, _ := openServerClient(t, ServerOptions{RouteVoice: false})

	c.route(envelope(t, map[string]any{"type": core.TypeVoiceUserJoined, "channel_id": 20, "user_id": 2, "username": "bob"}))
	c.route(envelope(t, map[string]any{"type": core.TypeVoiceOffer, "from_user_id": 2}))

	assert.Empty(t, st.VoiceRoster(20))
	assert.Equal(t, 0, st.PendingSignals())
	events, signals := l.snapshot()
	assert.Empty(t, events)
	assert.Zero(t, signals)
}

func TestServerClient_DuplicateJoinAndUnknownLeaveKeepCount(t *testing.T) {
	c, st, _, _ := openServerClient(t, ServerOptions{RouteVoice: true})

	c.route(envelope(t, map[string]any{"type": core.TypeVoiceUserJoined, "channel_id": 20, "user_id": 2, "username": "bob"}))
	c.route(envelope(t, map[string]any{"type": core.TypeVoiceUserJoined, "channel_id": 20, "user_id": 2, "username": "bob"}))
	c.route(envelope(t, map[string]any{"type": core.TypeVoiceUserLeft, "channel_id": 20, "user_id": 9, "username": "ghost"}))

	assert.Len(t, st.VoiceRoster(20), 1)
	assert.Equal(t, 1, st.VoiceCount(20))
}

func TestServerClient_ReopenClearsStaleRoster(t *testing.T) {
	ts := newTestServer(t)
	st := store.NewMemory()
	deps, l, _ := newDeps(st)
	c := NewServerClient(ts.wsURL(), 1, deps, ServerOptions{RouteVoice: true}, fastSettings())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		c.Close()
		cancel()
	})
	c.Connect(ctx)
	ws := ts.accept(t)

	require.NoError(t, ws.WriteJSON(map[string]any{"type": core.TypeVoiceSnapshot, "channel_id": 20, "users": []map[string]any{
		{"user_id": 2, "username": "bob"},
		{"user_id": self.UserID, "username": self.Username},
	}}))
	require.Eventually(t, func() bool { return st.VoiceCount(20) == 2 }, within, 5*time.Millisecond)

	// Bob leaves while the socket is down; the backend sends no snapshot for the reopened connection.
	require.NoError(t, ws.UnderlyingConn().Close())
	ws2 := ts.accept(t)
	require.NoError(t, ws2.WriteJSON(map[string]any{"type": core.TypeVoiceUserJoined, "channel_id": 20, "user_id": self.UserID, "username": self.Username}))

	require.Eventually(t, func() bool {
		r := st.VoiceRoster(20)
		return len(r) == 1 && r[0].UserID == self.UserID
	}, within, 5*time.Millisecond)
	assert.Equal(t, 1, st.VoiceCount(20))

	events, _ := l.snapshot()
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, core.RosterSnapshot, events[1].Kind)
	assert.Equal(t, domain.ChannelID(20), events[1].ChannelID)
	assert.Empty(t, events[1].Users)
}
