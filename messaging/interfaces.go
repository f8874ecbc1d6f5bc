package messaging

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/HorizonRepublic/jetbridge-go/contracts"
)

// StreamPublisher is the durable publish capability. Satisfied by
// jetstream.JetStream.
type StreamPublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// InboxConn is the core-NATS capability backing the transient reply channel.
// Satisfied by *nats.Conn.
type InboxConn interface {
	NewInbox() string
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
	IsClosed() bool
	IsDraining() bool
}

// ReplyPublisher is the low-latency, non-persistent publish capability used
// for command replies. Satisfied by *nats.Conn.
type ReplyPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// PullConsumer is the batched fetch capability of a durable consumer.
// Satisfied by jetstream.Consumer.
type PullConsumer interface {
	Fetch(batch int, opts ...jetstream.FetchOpt) (jetstream.MessageBatch, error)
}

// StatsCollector records transport activity. Implementations must be safe
// for concurrent use.
type StatsCollector interface {
	MessagePublished(kind contracts.Kind)
	PublishFailed(kind contracts.Kind)
	ReplyMatched()
	ReplyDropped()
	PendingRequests(n int)
	HandlerSucceeded(kind contracts.Kind)
	HandlerFailed(kind contracts.Kind)
}

// NopStats discards all measurements.
type NopStats struct{}

func (NopStats) MessagePublished(contracts.Kind) {}
func (NopStats) PublishFailed(contracts.Kind)    {}
func (NopStats) ReplyMatched()                   {}
func (NopStats) ReplyDropped()                   {}
func (NopStats) PendingRequests(int)             {}
func (NopStats) HandlerSucceeded(contracts.Kind) {}
func (NopStats) HandlerFailed(contracts.Kind)    {}
