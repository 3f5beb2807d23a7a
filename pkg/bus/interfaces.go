package bus

import "context"

type Publisher interface {
	PublishInbound(MessageEvent)
	PublishReply(Reply)
}

type Subscriber interface {
	ConsumeInbound(context.Context) (MessageEvent, bool)
	ConsumeReplies(context.Context) (Reply, bool)
}

// Broker connects the transport (inbound events, reply sink) to the relay
// pipeline without either side holding a reference to the other.
type Broker interface {
	Publisher
	Subscriber
	Close()
}
