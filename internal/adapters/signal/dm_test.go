package signal

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/chatlink/internal/domain"
	"github.com/dkeye/chatlink/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDMClient_AppendsRegardlessOfActiveChannel(t *testing.T) {
	st := store.NewMemory()
	st.SetActiveChannel(10)
	deps, _, n := newDeps(st)
	c := NewDMClient("ws://unused/ws/dm/4", 4, deps, Settings{})
	defer c.Close()

	dm := messageNew(1, 0, 2, "psst @alice")
	delete(dm["message"].(map[string]any), "channel_id")
	dm["message"].(map[string]any)["dm_channel_id"] = 4
	c.route(envelope(t, dm))
	c.route(envelope(t, dm))
	c.route(envelope(t, map[string]any{"type": "user.typing", "user_id": 2, "username": "bob"}))

	got := st.DMMessages(4)
	require.Len(t, got, 1)
	assert.Equal(t, "psst @alice", got[0].Content)
	assert.Empty(t, st.Messages())
	assert.Equal(t, 0, st.Unread(10))
	assert.Zero(t, n.count())
}

func TestDMClient_NoReconnectAfterClose(t *testing.T) {
	ts := newTestServer(t)
	st := store.NewMemory()
	deps, _, _ := newDeps(st)
	c := NewDMClient(ts.wsURL(), 4, deps, fastSettings())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Connect(ctx)

	ws := ts.accept(t)
	require.NoError(t, ws.WriteJSON(messageNew(1, 0, 2, "hi")))
	require.Eventually(t, func() bool { return len(st.DMMessages(4)) == 1 }, within, 5*time.Millisecond)

	c.Close()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(1), ts.accepted.Load())
	assert.Equal(t, domain.Disconnected, c.Status().State)
}

func TestDMClient_AbnormalCloseHasNoBanner(t *testing.T) {
	ts := newTestServer(t)
	st := store.NewMemory()
	deps, _, _ := newDeps(st)
	c := NewDMClient(ts.wsURL(), 4, deps, fastSettings())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer c.Close()
	c.Connect(ctx)

	ws := ts.accept(t)
	require.NoError(t, ws.UnderlyingConn().Close())
	ts.accept(t)
	require.Eventually(t, func() bool { return c.Status().Connected }, within, 5*time.Millisecond)
	assert.False(t, c.Status().FailoverDetected)
}
