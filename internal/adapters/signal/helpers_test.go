package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/chatlink/internal/core"
	"github.com/dkeye/chatlink/internal/domain"
	"github.com/dkeye/chatlink/internal/store"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const within = 2 * time.Second

var self = domain.Identity{UserID: 5, Username: "alice", Token: "tok-5"}

// testServer accepts websockets and hands each one to the test.
type testServer struct {
	*httptest.Server
	conns    chan *websocket.Conn
	accepted atomic.Int32
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{conns: make(chan *websocket.Conn, 16)}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.accepted.Add(1)
		ts.conns <- ws
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

// accept waits for the next connection and checks the auth handshake.
func (ts *testServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-ts.conns:
		t.Cleanup(func() { _ = ws.Close() })
		var auth core.AuthFrame
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(within)))
		require.NoError(t, ws.ReadJSON(&auth))
		require.Equal(t, core.TypeAuth, auth.Type)
		require.Equal(t, self.Token, auth.Token)
		return ws
	case <-time.After(within):
		t.Fatalf("timed out waiting for connection")
		return nil
	}
}

func readFrame(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(within)))
	var m map[string]any
	require.NoError(t, ws.ReadJSON(&m))
	return m
}

type countingDialer struct {
	dials atomic.Int32
}

func (d *countingDialer) DialContext(_ context.Context, _ string, _ http.Header) (*websocket.Conn, *http.Response, error) {
	d.dials.Add(1)
	return nil, nil, errDialRefused
}

var errDialRefused = errors.New("connection refused")

func fastSettings() Settings {
	return Settings{
		ReconnectBase: 5 * time.Millisecond,
		ReconnectCap:  20 * time.Millisecond,
		MaxAttempts:   3,
		FailoverClear: 150 * time.Millisecond,
	}
}

type recordingListener struct {
	mu      sync.Mutex
	events  []core.RosterEvent
	signals int
}

func (l *recordingListener) OnRoster(ev core.RosterEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *recordingListener) OnSignal() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.signals++
}

func (l *recordingListener) snapshot() ([]core.RosterEvent, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]core.RosterEvent(nil), l.events...), l.signals
}

type recordingNotifier struct {
	mu       sync.Mutex
	mentions []domain.Message
}

func (n *recordingNotifier) Mention(msg domain.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mentions = append(n.mentions, msg)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.mentions)
}

func envelope(t *testing.T, v any) core.Envelope {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	env, err := core.DecodeEnvelope(data)
	require.NoError(t, err)
	return env
}

func messageNew(id domain.MessageID, ch domain.ChannelID, from domain.UserID, content string) map[string]any {
	return map[string]any{
		"type": core.TypeMessageNew,
		"message": map[string]any{
			"id":         id,
			"content":    content,
			"user_id":    from,
			"channel_id": ch,
			"created_at": "2025-01-01T10:00:00",
			"user":       map[string]any{"id": from, "username": "user" + from.String()},
		},
	}
}

func newDeps(st *store.Memory) (Deps, *recordingListener, *recordingNotifier) {
	l := &recordingListener{}
	n := &recordingNotifier{}
	return Deps{Identity: self, Store: st, Notifier: n, Voice: l}, l, n
}
