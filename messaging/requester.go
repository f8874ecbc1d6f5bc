package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/HorizonRepublic/jetbridge-go/contracts"
	"github.com/HorizonRepublic/jetbridge-go/internal/ids"
)

// ReplyCallback receives the decoded reply value, or the failure that
// prevented one. A callback is invoked at most once per command.
type ReplyCallback func(result any, err error)

// CancelFunc removes a command's pending reply registration. It does not
// retract the already-sent broker message; a late reply is dropped as
// unmatched. Invoking it twice is a no-op after the first.
type CancelFunc func()

type pendingRequest struct {
	callback  ReplyCallback
	createdAt time.Time
}

// Requester is the client side of the transport. Commands are persisted to
// the durable stream while their replies arrive over a transient
// per-instance inbox subscription, matched by correlation id.
type Requester struct {
	js      StreamPublisher
	nc      InboxConn
	service string
	codec   contracts.Codec
	logger  *slog.Logger
	stats   StatsCollector

	mu         sync.Mutex
	pending    map[string]*pendingRequest
	inbox      string
	sub        *nats.Subscription
	subscribed bool
}

// RequesterOption configures the Requester.
type RequesterOption func(*Requester)

// WithRequesterLogger sets the logger.
func WithRequesterLogger(logger *slog.Logger) RequesterOption {
	return func(r *Requester) {
		r.logger = logger
	}
}

// WithRequesterCodec sets the payload codec.
func WithRequesterCodec(codec contracts.Codec) RequesterOption {
	return func(r *Requester) {
		r.codec = codec
	}
}

// WithRequesterStats sets the stats collector.
func WithRequesterStats(stats StatsCollector) RequesterOption {
	return func(r *Requester) {
		r.stats = stats
	}
}

// NewRequester creates the client-side correlation engine for a service.
func NewRequester(js StreamPublisher, nc InboxConn, service string, options ...RequesterOption) *Requester {
	r := &Requester{
		js:      js,
		nc:      nc,
		service: service,
		codec:   contracts.JSONCodec{},
		logger:  slog.Default(),
		stats:   NopStats{},
		pending: make(map[string]*pendingRequest),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// EnsureInbox establishes the single ephemeral reply subscription for this
// instance. It is called on every successful connect, including after a
// reconnect; when a subscription is already active it does nothing, and when
// the connection is closed or draining the setup is skipped and retried on
// the next successful connect.
func (r *Requester) EnsureInbox() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.subscribed {
		return nil
	}
	if r.nc.IsClosed() || r.nc.IsDraining() {
		r.logger.Debug("connection closed or draining, inbox setup deferred")
		return nil
	}

	if r.inbox == "" {
		r.inbox = r.nc.NewInbox()
	}

	sub, err := r.nc.Subscribe(r.inbox, r.handleReply)
	if err != nil {
		return fmt.Errorf("messaging: subscribe reply inbox: %w", err)
	}

	r.sub = sub
	r.subscribed = true
	r.logger.Info("reply inbox established", "inbox", r.inbox)
	return nil
}

// PublishEvent publishes a fire-and-forget event to the durable stream.
// Failures are the operation's own failure; no reply is awaited.
func (r *Requester) PublishEvent(ctx context.Context, pattern string, payload any) error {
	if pattern == "" {
		return ErrEmptyPattern
	}

	subject := contracts.Subject(r.service, contracts.KindEvent, pattern)

	data, err := r.codec.Encode(payload)
	if err != nil {
		r.stats.PublishFailed(contracts.KindEvent)
		return err
	}

	msg := envelopeToMsg(contracts.Envelope{
		ID:      ids.NewMessageID(),
		Subject: subject,
		Payload: data,
	})

	if _, err := r.js.PublishMsg(ctx, msg); err != nil {
		r.stats.PublishFailed(contracts.KindEvent)
		return &PublishError{Subject: subject, Err: err}
	}

	r.stats.MessagePublished(contracts.KindEvent)
	r.logger.Debug("event published", "subject", subject)
	return nil
}

// PublishCommand persists a command to the durable stream and registers the
// callback for its asynchronous reply. A publish failure is surfaced through
// the callback, not the return value. The returned CancelFunc removes the
// pending registration; it is typically raced against the caller's own
// timeout.
func (r *Requester) PublishCommand(ctx context.Context, pattern string, payload any, callback ReplyCallback) (CancelFunc, error) {
	if callback == nil {
		return nil, ErrNilCallback
	}
	if pattern == "" {
		return nil, ErrEmptyPattern
	}

	subject := contracts.Subject(r.service, contracts.KindCommand, pattern)
	correlationID := uuid.New().String()

	r.mu.Lock()
	if r.inbox == "" {
		r.inbox = r.nc.NewInbox()
	}
	inbox := r.inbox
	r.pending[correlationID] = &pendingRequest{
		callback:  callback,
		createdAt: time.Now(),
	}
	depth := len(r.pending)
	r.mu.Unlock()
	r.stats.PendingRequests(depth)

	cancel := func() {
		if r.take(correlationID) != nil {
			r.logger.Debug("command cancelled", "correlationId", correlationID)
		}
	}

	data, err := r.codec.Encode(payload)
	if err != nil {
		r.failPending(correlationID, err)
		return cancel, nil
	}

	msg := envelopeToMsg(contracts.Envelope{
		ID:            ids.NewMessageID(),
		Subject:       subject,
		CorrelationID: correlationID,
		ReplyTo:       inbox,
		Payload:       data,
	})

	if _, err := r.js.PublishMsg(ctx, msg); err != nil {
		r.failPending(correlationID, &PublishError{Subject: subject, Err: err})
		return cancel, nil
	}

	r.stats.MessagePublished(contracts.KindCommand)
	r.logger.Debug("command published", "subject", subject, "correlationId", correlationID)
	return cancel, nil
}

// PendingCount returns the number of commands awaiting a reply.
func (r *Requester) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// take removes and returns the pending request for a correlation id, exactly
// once.
func (r *Requester) take(correlationID string) *pendingRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.pending[correlationID]
	if !ok {
		return nil
	}
	delete(r.pending, correlationID)
	r.stats.PendingRequests(len(r.pending))
	return req
}

func (r *Requester) failPending(correlationID string, err error) {
	r.stats.PublishFailed(contracts.KindCommand)
	if req := r.take(correlationID); req != nil {
		req.callback(nil, err)
	}
}

// handleReply routes every message arriving on the inbox subscription. A
// missing correlation header is a protocol violation and silently ignored;
// an unmatched id is logged and dropped.
func (r *Requester) handleReply(msg *nats.Msg) {
	correlationID := msg.Header.Get(contracts.HeaderCorrelationID)
	if correlationID == "" {
		return
	}

	req := r.take(correlationID)
	if req == nil {
		r.stats.ReplyDropped()
		r.logger.Warn("unmatched reply dropped", "correlationId", correlationID)
		return
	}

	r.stats.ReplyMatched()

	decoded, err := r.codec.Decode(msg.Data)
	if err != nil {
		req.callback(nil, err)
		return
	}
	req.callback(decoded, nil)
}

// Close tears the inbox subscription down. Outstanding pending requests are
// left to expire under the caller's own timeout policy rather than being
// force-invoked during shutdown.
func (r *Requester) Close() error {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.subscribed = false
	r.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			r.logger.Debug("inbox unsubscribe failed", "error", err)
		}
	}
	return nil
}
