package bus

import (
	"context"
	"sync"
)

// MessageBus is a buffered in-process broker. Publishing after Close is a
// no-op rather than a panic so transport callbacks racing shutdown stay safe.
type MessageBus struct {
	inbound chan MessageEvent
	replies chan Reply
	closed  bool
	mu      sync.RWMutex
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound: make(chan MessageEvent, 100),
		replies: make(chan Reply, 100),
	}
}

func (mb *MessageBus) PublishInbound(msg MessageEvent) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	mb.inbound <- msg
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (MessageEvent, bool) {
	select {
	case msg, ok := <-mb.inbound:
		if !ok {
			return MessageEvent{}, false
		}
		return msg, true
	case <-ctx.Done():
		return MessageEvent{}, false
	}
}

func (mb *MessageBus) PublishReply(r Reply) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	mb.replies <- r
}

func (mb *MessageBus) ConsumeReplies(ctx context.Context) (Reply, bool) {
	select {
	case r, ok := <-mb.replies:
		if !ok {
			return Reply{}, false
		}
		return r, true
	case <-ctx.Done():
		return Reply{}, false
	}
}

func (mb *MessageBus) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.closed = true
	close(mb.inbound)
	close(mb.replies)
}
