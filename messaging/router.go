package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/HorizonRepublic/jetbridge-go/contracts"
	"github.com/HorizonRepublic/jetbridge-go/internal/ids"
)

const (
	defaultBatchSize    = 16
	defaultFetchTimeout = 2 * time.Second
)

// Router is the server side of the transport. It pulls batches from each
// provisioned durable consumer, resolves subjects against the routing table
// and acknowledges or replies.
//
// Acknowledgment policy is ack-after-success for both kinds: a handler error
// leaves the message unacknowledged, bounding retries by the consumer's
// redelivery limit.
type Router struct {
	dispatcher *Dispatcher
	replies    ReplyPublisher
	service    string
	codec      contracts.Codec
	logger     *slog.Logger
	stats      StatsCollector

	batchSize    int
	fetchTimeout time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// RouterOption configures the Router.
type RouterOption func(*Router)

// WithRouterLogger sets the logger.
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(rt *Router) {
		rt.logger = logger
	}
}

// WithRouterCodec sets the payload codec.
func WithRouterCodec(codec contracts.Codec) RouterOption {
	return func(rt *Router) {
		rt.codec = codec
	}
}

// WithRouterStats sets the stats collector.
func WithRouterStats(stats StatsCollector) RouterOption {
	return func(rt *Router) {
		rt.stats = stats
	}
}

// WithBatchSize sets how many messages one pull fetches.
func WithBatchSize(n int) RouterOption {
	return func(rt *Router) {
		if n > 0 {
			rt.batchSize = n
		}
	}
}

// WithFetchTimeout bounds how long a pull waits for messages.
func WithFetchTimeout(d time.Duration) RouterOption {
	return func(rt *Router) {
		if d > 0 {
			rt.fetchTimeout = d
		}
	}
}

// NewRouter creates a message router for a service.
func NewRouter(dispatcher *Dispatcher, replies ReplyPublisher, service string, options ...RouterOption) *Router {
	rt := &Router{
		dispatcher:   dispatcher,
		replies:      replies,
		service:      service,
		codec:        contracts.JSONCodec{},
		logger:       slog.Default(),
		stats:        NopStats{},
		batchSize:    defaultBatchSize,
		fetchTimeout: defaultFetchTimeout,
	}
	for _, opt := range options {
		opt(rt)
	}
	return rt
}

// Start seals the routing table and begins pulling from each consumer.
// Calling Start while running is a no-op: the durable consumer handles stay
// valid across reconnects, so the existing pull loops keep working.
func (rt *Router) Start(ctx context.Context, consumers map[contracts.Kind]PullConsumer) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.running {
		return
	}

	rt.dispatcher.Seal()

	runCtx, cancel := context.WithCancel(ctx)
	rt.cancel = cancel
	rt.running = true

	for kind, cons := range consumers {
		rt.wg.Add(1)
		go rt.pullLoop(runCtx, kind, cons)
	}

	rt.logger.Info("router started", "handlers", rt.dispatcher.Len())
}

// Stop cancels the pull loops and waits for them to finish.
func (rt *Router) Stop() {
	rt.mu.Lock()
	if !rt.running {
		rt.mu.Unlock()
		return
	}
	rt.running = false
	cancel := rt.cancel
	rt.mu.Unlock()

	cancel()
	rt.wg.Wait()
}

func (rt *Router) pullLoop(ctx context.Context, kind contracts.Kind, cons PullConsumer) {
	defer rt.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		batch, err := cons.Fetch(rt.batchSize, jetstream.FetchMaxWait(rt.fetchTimeout))
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			rt.logger.Error("fetch failed", "kind", kind, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for msg := range batch.Messages() {
			rt.handle(ctx, kind, msg)
		}
		if err := batch.Error(); err != nil && ctx.Err() == nil {
			rt.logger.Debug("batch ended with error", "kind", kind, "error", err)
		}
	}
}

func (rt *Router) handle(ctx context.Context, kind contracts.Kind, msg jetstream.Msg) {
	pattern, ok := contracts.PatternFromSubject(rt.service, kind, msg.Subject())
	if !ok {
		rt.logger.Warn("foreign subject terminated", "subject", msg.Subject(), "kind", kind)
		rt.term(msg)
		return
	}

	reg, ok := rt.dispatcher.Resolve(kind, pattern)
	if !ok {
		rt.logger.Warn("no handler registered, terminating delivery", "pattern", pattern, "kind", kind)
		rt.term(msg)
		return
	}

	payload, err := rt.codec.Decode(msg.Data())
	if err != nil {
		rt.logger.Error("undecodable payload terminated", "subject", msg.Subject(), "error", err)
		rt.term(msg)
		return
	}

	switch kind {
	case contracts.KindEvent:
		rt.handleEvent(ctx, reg, msg, payload)
	case contracts.KindCommand:
		rt.handleCommand(ctx, reg, msg, payload)
	}
}

// handleEvent acknowledges only on normal handler return; an error leaves
// the message for timeout redelivery.
func (rt *Router) handleEvent(ctx context.Context, reg *registration, msg jetstream.Msg, payload any) {
	if err := reg.event(ctx, payload); err != nil {
		rt.stats.HandlerFailed(contracts.KindEvent)
		rt.logger.Error("event handler failed", "pattern", reg.pattern, "error", err)
		return
	}

	rt.ack(msg)
	rt.stats.HandlerSucceeded(contracts.KindEvent)
}

// handleCommand publishes the handler's return value to the message's
// reply-to address before acknowledging the original. A handler error skips
// the ack so the consumer's bounded redelivery takes over.
func (rt *Router) handleCommand(ctx context.Context, reg *registration, msg jetstream.Msg, payload any) {
	result, err := reg.command(ctx, payload)
	if err != nil {
		rt.stats.HandlerFailed(contracts.KindCommand)
		rt.logger.Error("command handler failed", "pattern", reg.pattern, "error", err)
		return
	}

	if replyTo := msg.Headers().Get(contracts.HeaderReplyTo); replyTo != "" {
		rt.publishReply(msg, replyTo, result)
	}

	rt.ack(msg)
	rt.stats.HandlerSucceeded(contracts.KindCommand)
}

func (rt *Router) publishReply(msg jetstream.Msg, replyTo string, result any) {
	data, err := rt.codec.Encode(result)
	if err != nil {
		// The command was processed; reply loss is logged, not retried.
		rt.logger.Error("reply encode failed", "replyTo", replyTo, "error", err)
		return
	}

	reply := &nats.Msg{
		Subject: replyTo,
		Data:    data,
		Header:  nats.Header{},
	}
	reply.Header.Set(contracts.HeaderMessageID, ids.NewMessageID())
	reply.Header.Set(contracts.HeaderCorrelationID, msg.Headers().Get(contracts.HeaderCorrelationID))

	if err := rt.replies.PublishMsg(reply); err != nil {
		rt.logger.Error("reply publish failed", "replyTo", replyTo, "error", err)
	}
}

func (rt *Router) ack(msg jetstream.Msg) {
	if err := msg.Ack(); err != nil {
		rt.logger.Error("ack failed", "subject", msg.Subject(), "error", err)
	}
}

func (rt *Router) term(msg jetstream.Msg) {
	if err := msg.Term(); err != nil {
		rt.logger.Debug("term failed", "subject", msg.Subject(), "error", err)
	}
}
