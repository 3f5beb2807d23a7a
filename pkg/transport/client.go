// Cricket Bridge - WhatsApp relay for the CSCC cricket agent
// License: MIT
//
// Copyright (c) 2026 Cricket Bridge contributors

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cscc/cricket-bridge/pkg/bus"
	"github.com/cscc/cricket-bridge/pkg/session"
	"github.com/cscc/cricket-bridge/pkg/utils"
)

var (
	// ErrLoggedOut means the sidecar reported a logout. Terminal.
	ErrLoggedOut = errors.New("transport logged out")
	// ErrReconnectExhausted means the reconnect attempt budget is spent.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	errNotConnected = errors.New("transport not connected")
	errStreamClosed = errors.New("connection closed")
)

const handshakeTimeout = 10 * time.Second

// Options tunes the reconnect policy. The delay is flat per attempt; this is
// a different policy from the forwarder's exponential backoff and the two are
// kept separate on purpose.
type Options struct {
	MaxReconnects  int
	ReconnectDelay time.Duration
}

// Client owns the websocket session to the WhatsApp sidecar: it connects,
// replays stored credentials, ingests events onto the bus, and is the only
// component that writes outbound sends. SessionData is never mutated here;
// creds frames are handed to the session store as-is.
type Client struct {
	url   string
	store *session.Store
	pub   bus.Publisher

	maxReconnects  int
	reconnectDelay time.Duration

	mu     sync.Mutex // guards conn and writes to it
	conn   *websocket.Conn
	state  atomic.Int32
	selfMu sync.RWMutex
	selfID string

	attempts int
}

func NewClient(url string, store *session.Store, pub bus.Publisher, opts Options) *Client {
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = 5
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	return &Client{
		url:            url,
		store:          store,
		pub:            pub,
		maxReconnects:  opts.MaxReconnects,
		reconnectDelay: opts.ReconnectDelay,
	}
}

// Run drives the connection state machine until ctx is cancelled or the
// session becomes permanently disconnected.
func (c *Client) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			c.setState(StateDisconnected)
			return err
		}

		c.setState(StateConnecting)
		opened, err := c.serve(ctx)

		if errors.Is(err, ErrLoggedOut) {
			c.setState(StatePermanentlyDisconnected)
			slog.Error("transport logged out, re-pairing required")
			return err
		}
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return ctx.Err()
		}

		// Close events count against the reconnect budget; failures during
		// initialization (dial, init write) retry the whole routine on a
		// flat delay, unbounded.
		if !opened && !errors.Is(err, errStreamClosed) {
			slog.Warn("transport initialization failed, retrying",
				"delay", c.reconnectDelay, "error", err)
		} else {
			c.attempts++
			if c.attempts > c.maxReconnects {
				c.setState(StatePermanentlyDisconnected)
				slog.Error("transport reconnect budget spent", "attempts", c.attempts-1)
				return fmt.Errorf("%w after %d attempts", ErrReconnectExhausted, c.attempts-1)
			}
			c.setState(StateReconnecting)
			slog.Warn("transport connection closed, reconnecting",
				"attempt", c.attempts, "max", c.maxReconnects,
				"delay", c.reconnectDelay, "error", err)
		}

		select {
		case <-time.After(c.reconnectDelay):
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return ctx.Err()
		}
	}
}

// serve dials the sidecar, replays stored session data, and pumps events
// until the socket drops. opened reports whether the connection-open event
// arrived before failure.
func (c *Client) serve(ctx context.Context) (opened bool, err error) {
	data := c.store.Load(ctx)
	if data == nil {
		slog.Info("no stored session, sidecar pairing flow will run")
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial sidecar: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	if err := c.writeFrame(Frame{Type: frameInit, Session: data}); err != nil {
		return false, fmt.Errorf("send init: %w", err)
	}

	// Unblock the read loop when ctx is cancelled.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			return opened, fmt.Errorf("read frame: %w", err)
		}

		switch f.Type {
		case frameConnection:
			isOpen, done, err := c.handleConnection(f)
			opened = opened || isOpen
			if done {
				return opened, err
			}
		case frameCreds:
			c.handleCreds(ctx, f)
		case frameMessage:
			c.handleMessage(f)
		default:
			slog.Debug("ignoring unknown frame", "type", f.Type)
		}
	}
}

// handleConnection applies a connection-update event. done means the session
// is over and serve must return.
func (c *Client) handleConnection(f Frame) (isOpen, done bool, err error) {
	switch f.Status {
	case statusOpen:
		c.setState(StateConnected)
		c.attempts = 0
		if f.Self != "" {
			c.selfMu.Lock()
			c.selfID = f.Self
			c.selfMu.Unlock()
		}
		slog.Info("transport connected", "self", f.Self)
		return true, false, nil
	case statusClose:
		if f.Reason == reasonLoggedOut {
			return false, true, ErrLoggedOut
		}
		return false, true, fmt.Errorf("%w: %s", errStreamClosed, f.Reason)
	default:
		slog.Debug("ignoring connection status", "status", f.Status)
		return false, false, nil
	}
}

// handleCreds persists updated credentials off the event loop. A failed save
// is logged and absorbed; it must never cost us the live connection.
func (c *Client) handleCreds(ctx context.Context, f Frame) {
	if f.Session == nil {
		return
	}
	go func() {
		if c.store.Save(ctx, f.Session) {
			slog.Debug("session credentials persisted", "backend", c.store.Kind())
		} else if c.store.Available() {
			slog.Warn("session credentials not persisted to any backend")
		}
	}()
}

func (c *Client) handleMessage(f Frame) {
	if f.Message == nil || f.Message.Chat == "" {
		return
	}
	slog.Debug("inbound message",
		"chat", f.Message.Chat,
		"sender", f.Message.Sender,
		"preview", utils.Truncate(f.Message.Text, 50),
	)
	c.pub.PublishInbound(f.Message.toEvent())
}

// Send delivers text to a chat through the sidecar's send primitive.
func (c *Client) Send(_ context.Context, chatID, text string) error {
	if c.CurrentState() != StateConnected {
		return errNotConnected
	}
	return c.writeFrame(Frame{Type: frameSend, To: chatID, Content: text})
}

// DeliverReplies pumps replies from the broker into Send until ctx ends.
func (c *Client) DeliverReplies(ctx context.Context, sub bus.Subscriber) {
	for {
		reply, ok := sub.ConsumeReplies(ctx)
		if !ok {
			return
		}
		if err := c.Send(ctx, reply.ChatID, reply.Text); err != nil {
			slog.Error("reply delivery failed", "chat", reply.ChatID, "error", err)
		}
	}
}

func (c *Client) writeFrame(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errNotConnected
	}
	return c.conn.WriteJSON(f)
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Client) CurrentState() State {
	return State(c.state.Load())
}

func (c *Client) Connected() bool {
	return c.CurrentState() == StateConnected
}

// CurrentStateName is the state as a label, for health reporting.
func (c *Client) CurrentStateName() string {
	return c.CurrentState().String()
}

// SelfID is the bridge's own transport address, recorded on connection open
// and used for self-mention detection.
func (c *Client) SelfID() string {
	c.selfMu.RLock()
	defer c.selfMu.RUnlock()
	return c.selfID
}
