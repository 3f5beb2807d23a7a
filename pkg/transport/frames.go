package transport

import (
	"time"

	"github.com/cscc/cricket-bridge/pkg/bus"
	"github.com/cscc/cricket-bridge/pkg/session"
)

// Frame is the wire envelope spoken with the WhatsApp sidecar. The sidecar
// owns the protocol details (pairing, crypto, wire format); the bridge only
// consumes this event surface.
type Frame struct {
	Type string `json:"type"`

	// connection frames
	Status string `json:"status,omitempty"` // "open" | "close"
	Reason string `json:"reason,omitempty"` // close reason, e.g. "logged_out"
	Self   string `json:"self,omitempty"`   // bridge's own JID, set on open

	// init and creds frames
	Session *session.Data `json:"session,omitempty"`

	// message frames
	Message *MessagePayload `json:"message,omitempty"`

	// send frames
	To      string `json:"to,omitempty"`
	Content string `json:"content,omitempty"`
}

const (
	frameInit       = "init"
	frameConnection = "connection"
	frameCreds      = "creds"
	frameMessage    = "message"
	frameSend       = "send"

	statusOpen  = "open"
	statusClose = "close"

	reasonLoggedOut = "logged_out"
)

// MessagePayload is an inbound chat message as the sidecar reports it.
type MessagePayload struct {
	ID        string `json:"id"`
	Chat      string `json:"chat"`
	Sender    string `json:"sender"`
	PushName  string `json:"push_name,omitempty"`
	Text      string `json:"text"`
	Group     bool   `json:"group"`
	Timestamp int64  `json:"timestamp"` // unix seconds
}

func (p *MessagePayload) toEvent() bus.MessageEvent {
	ts := time.Unix(p.Timestamp, 0)
	if p.Timestamp == 0 {
		ts = time.Now()
	}
	return bus.MessageEvent{
		ChatID:    p.Chat,
		SenderID:  p.Sender,
		Text:      p.Text,
		IsGroup:   p.Group,
		MessageID: p.ID,
		PushName:  p.PushName,
		Timestamp: ts,
	}
}
