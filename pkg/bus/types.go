package bus

import "time"

// MessageEvent is an inbound transport message normalized for the relay
// pipeline. It is created per event and discarded once handled.
type MessageEvent struct {
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Text      string    `json:"text"`
	IsGroup   bool      `json:"is_group"`
	MessageID string    `json:"message_id"`
	PushName  string    `json:"push_name,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Reply is an outbound message destined for the transport's send primitive.
type Reply struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}
