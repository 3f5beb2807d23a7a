package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cscc/cricket-bridge/pkg/bus"
	"github.com/cscc/cricket-bridge/pkg/session"
)

// memBackend is an in-memory session.Backend for tests.
type memBackend struct {
	mu    sync.Mutex
	data  *session.Data
	saves int
}

func (m *memBackend) Name() string { return "mem" }

func (m *memBackend) Load(context.Context) (*session.Data, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data, nil
}

func (m *memBackend) Save(_ context.Context, data *session.Data) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
	m.saves++
	return nil
}

func (m *memBackend) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// sidecar runs a scripted WhatsApp sidecar for each incoming connection.
func sidecar(t *testing.T, script func(*websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		script(conn)
	}))
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestClientLifecycle(t *testing.T) {
	backend := &memBackend{data: &session.Data{Creds: json.RawMessage(`{"me":"stored"}`)}}
	store := session.NewStore(backend)
	mb := bus.NewMessageBus()
	defer mb.Close()

	sendFrames := make(chan Frame, 1)
	hold := make(chan struct{})

	srv, wsURL := sidecar(t, func(conn *websocket.Conn) {
		init := readFrame(t, conn)
		assert.Equal(t, "init", init.Type)
		require.NotNil(t, init.Session, "stored session must be replayed to the sidecar")

		conn.WriteJSON(Frame{Type: "connection", Status: "open", Self: "447700900000:1@s.whatsapp.net"})
		conn.WriteJSON(Frame{Type: "message", Message: &MessagePayload{
			ID: "M1", Chat: "123@g.us", Sender: "447700900123@s.whatsapp.net",
			Text: "!cscc fixtures", Group: true, Timestamp: time.Now().Unix(),
		}})
		conn.WriteJSON(Frame{Type: "creds", Session: &session.Data{Creds: json.RawMessage(`{"me":"rotated"}`)}})

		sendFrames <- readFrame(t, conn)
		<-hold
	})
	defer srv.Close()
	defer close(hold)

	client := NewClient(wsURL, store, mb, Options{MaxReconnects: 3, ReconnectDelay: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- client.Run(ctx) }()

	waitFor(t, client.Connected, "client never reached connected state")
	assert.Equal(t, "447700900000:1@s.whatsapp.net", client.SelfID())

	msgCtx, msgCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer msgCancel()
	msg, ok := mb.ConsumeInbound(msgCtx)
	require.True(t, ok)
	assert.Equal(t, "123@g.us", msg.ChatID)
	assert.Equal(t, "M1", msg.MessageID)
	assert.True(t, msg.IsGroup)

	waitFor(t, func() bool { return backend.saveCount() == 1 }, "creds update was not persisted")

	require.NoError(t, client.Send(context.Background(), "123@g.us", "Here are the fixtures..."))
	sent := <-sendFrames
	assert.Equal(t, "send", sent.Type)
	assert.Equal(t, "123@g.us", sent.To)
	assert.Equal(t, "Here are the fixtures...", sent.Content)

	cancel()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
}

func TestClientLoggedOutIsTerminal(t *testing.T) {
	store := session.NewStore(&memBackend{})
	mb := bus.NewMessageBus()
	defer mb.Close()

	srv, wsURL := sidecar(t, func(conn *websocket.Conn) {
		readFrame(t, conn) // init
		conn.WriteJSON(Frame{Type: "connection", Status: "open", Self: "self@s.whatsapp.net"})
		conn.WriteJSON(Frame{Type: "connection", Status: "close", Reason: "logged_out"})
	})
	defer srv.Close()

	client := NewClient(wsURL, store, mb, Options{MaxReconnects: 3, ReconnectDelay: 10 * time.Millisecond})

	err := client.Run(context.Background())
	require.ErrorIs(t, err, ErrLoggedOut)
	assert.Equal(t, StatePermanentlyDisconnected, client.CurrentState())
}

func TestClientReconnectBudget(t *testing.T) {
	store := session.NewStore(&memBackend{})
	mb := bus.NewMessageBus()
	defer mb.Close()

	var mu sync.Mutex
	connections := 0

	srv, wsURL := sidecar(t, func(conn *websocket.Conn) {
		mu.Lock()
		connections++
		n := connections
		mu.Unlock()
		readFrame(t, conn) // init
		if n == 1 {
			// First session opens, then the stream errors out. Every retry
			// after that fails before reaching open, eating the budget.
			conn.WriteJSON(Frame{Type: "connection", Status: "open", Self: "self@s.whatsapp.net"})
		}
		conn.WriteJSON(Frame{Type: "connection", Status: "close", Reason: "stream_errored"})
	})
	defer srv.Close()

	client := NewClient(wsURL, store, mb, Options{MaxReconnects: 2, ReconnectDelay: 5 * time.Millisecond})

	err := client.Run(context.Background())
	require.ErrorIs(t, err, ErrReconnectExhausted)
	assert.Equal(t, StatePermanentlyDisconnected, client.CurrentState())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, connections, "initial connection plus two reconnects")
}

func TestClientInitFailureRetriesUnbounded(t *testing.T) {
	store := session.NewStore(&memBackend{})
	mb := bus.NewMessageBus()
	defer mb.Close()

	// Nothing is listening here; every dial fails before the open event.
	client := NewClient("ws://127.0.0.1:1/ws", store, mb, Options{MaxReconnects: 1, ReconnectDelay: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := client.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded),
		"dial failures must keep retrying, not exhaust the reconnect budget: %v", err)
}

func TestSendWhenDisconnected(t *testing.T) {
	client := NewClient("ws://127.0.0.1:1/ws", session.NewStore(), bus.NewMessageBus(), Options{})
	err := client.Send(context.Background(), "123@g.us", "hi")
	require.Error(t, err)
}

func TestDeliverReplies(t *testing.T) {
	store := session.NewStore(&memBackend{})
	mb := bus.NewMessageBus()
	defer mb.Close()

	sendFrames := make(chan Frame, 1)
	hold := make(chan struct{})

	srv, wsURL := sidecar(t, func(conn *websocket.Conn) {
		readFrame(t, conn) // init
		conn.WriteJSON(Frame{Type: "connection", Status: "open", Self: "self@s.whatsapp.net"})
		sendFrames <- readFrame(t, conn)
		<-hold
	})
	defer srv.Close()
	defer close(hold)

	client := NewClient(wsURL, store, mb, Options{ReconnectDelay: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)
	go client.DeliverReplies(ctx, mb)

	waitFor(t, client.Connected, "client never connected")

	mb.PublishReply(bus.Reply{ChatID: "123@g.us", Text: "answer"})

	sent := <-sendFrames
	assert.Equal(t, "send", sent.Type)
	assert.Equal(t, "123@g.us", sent.To)
	assert.Equal(t, "answer", sent.Content)
}
