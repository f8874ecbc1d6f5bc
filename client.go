// Package jetbridge layers request/response and event semantics over
// JetStream durable streams for a single service namespace.
package jetbridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/HorizonRepublic/jetbridge-go/contracts"
	"github.com/HorizonRepublic/jetbridge-go/internal/natsconn"
	"github.com/HorizonRepublic/jetbridge-go/internal/provision"
	"github.com/HorizonRepublic/jetbridge-go/messaging"
)

var (
	// ErrClientClosed is returned for operations after Close.
	ErrClientClosed = errors.New("jetbridge: client is closed")

	// ErrAlreadyListening is returned when Listen is called twice.
	ErrAlreadyListening = errors.New("jetbridge: client is already listening")
)

// Handler aliases so callers do not need to import the messaging package.
type (
	EventHandler   = messaging.EventHandler
	CommandHandler = messaging.CommandHandler
	ReplyCallback  = messaging.ReplyCallback
	CancelFunc     = messaging.CancelFunc
)

// Client is the per-service transport instance. Handlers are registered
// before Listen; publishing works as soon as the broker is reachable.
type Client struct {
	cfg    Config
	logger *slog.Logger
	codec  contracts.Codec
	stats  messaging.StatsCollector

	conn       *natsconn.Manager
	dispatcher *messaging.Dispatcher

	mu          sync.Mutex
	requester   *messaging.Requester
	router      *messaging.Router
	coordinator *provision.Coordinator
	listening   bool
	closed      bool
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithLogger sets the logger for the client and every component under it.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCodec sets the payload codec.
func WithCodec(codec contracts.Codec) ClientOption {
	return func(c *Client) {
		if codec != nil {
			c.codec = codec
		}
	}
}

// WithStats sets the stats collector wired through the requester and
// router. monitor.Metrics satisfies this.
func WithStats(stats messaging.StatsCollector) ClientOption {
	return func(c *Client) {
		if stats != nil {
			c.stats = stats
		}
	}
}

// NewClient validates the configuration and assembles the transport. No
// broker connection is made until the first publish or Listen.
func NewClient(cfg Config, options ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:    cfg,
		logger: slog.Default(),
		codec:  contracts.JSONCodec{},
		stats:  messaging.NopStats{},
	}
	for _, opt := range options {
		opt(c)
	}

	c.logger = c.logger.With("service", cfg.Service)

	connOpts := []natsconn.Option{natsconn.WithLogger(c.logger)}
	if cfg.ReconnectWait > 0 {
		connOpts = append(connOpts, natsconn.WithReconnectWait(cfg.ReconnectWait.Std()))
	}
	if cfg.DrainTimeout > 0 {
		connOpts = append(connOpts, natsconn.WithDrainTimeout(cfg.DrainTimeout.Std()))
	}
	c.conn = natsconn.NewManager(cfg.Servers, cfg.ClientName, connOpts...)
	c.conn.AddStatusListener(&inboxRefresher{client: c})

	c.dispatcher = messaging.NewDispatcher()
	return c, nil
}

// OnEvent registers a fire-and-forget event handler for a subject pattern.
// Registration closes when Listen starts.
func (c *Client) OnEvent(pattern string, handler EventHandler) error {
	return c.dispatcher.OnEvent(pattern, handler)
}

// OnCommand registers a request/response handler for a subject pattern.
// Registration closes when Listen starts.
func (c *Client) OnCommand(pattern string, handler CommandHandler) error {
	return c.dispatcher.OnCommand(pattern, handler)
}

// Emit publishes a fire-and-forget event for this service.
func (c *Client) Emit(ctx context.Context, pattern string, payload any) error {
	r, err := c.requesterFor(ctx)
	if err != nil {
		return err
	}
	return r.PublishEvent(ctx, pattern, payload)
}

// Send publishes a command and registers the callback for its asynchronous
// reply. The returned CancelFunc abandons the wait; the caller owns the
// timeout policy, typically by racing the cancel against a timer or context.
func (c *Client) Send(ctx context.Context, pattern string, payload any, callback ReplyCallback) (CancelFunc, error) {
	r, err := c.requesterFor(ctx)
	if err != nil {
		return nil, err
	}
	return r.PublishCommand(ctx, pattern, payload, callback)
}

// Listen connects, provisions streams and consumers, and starts consuming.
// ready, which may be nil, fires once when the first provisioning run after
// this call completes; later re-provisioning after reconnects is silent.
// Listen does not block; consumption runs until ctx is cancelled or Close is
// called.
func (c *Client) Listen(ctx context.Context, ready func()) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.listening {
		c.mu.Unlock()
		return ErrAlreadyListening
	}
	c.listening = true
	c.mu.Unlock()

	// Connect eagerly so a fatal broker refusal fails Listen itself
	// instead of the background provisioning run.
	if _, err := c.requesterFor(ctx); err != nil {
		c.mu.Lock()
		c.listening = false
		c.mu.Unlock()
		return err
	}

	streams := provision.NewStreamProvisioner(c.streamManager, c.cfg.Service, c.cfg.streamOverrides(), c.logger)
	consumers := provision.NewConsumerProvisioner(c.streamManager, c.cfg.Service, c.cfg.consumerOverrides(), c.logger)
	if w, ok := c.stats.(interface {
		WatchConsumer(contracts.Kind, *jetstream.ConsumerInfo)
	}); ok {
		consumers.Watch(w.WatchConsumer)
	}

	routerOpts := []messaging.RouterOption{
		messaging.WithRouterLogger(c.logger),
		messaging.WithRouterCodec(c.codec),
		messaging.WithRouterStats(c.stats),
	}
	if c.cfg.FetchBatch > 0 {
		routerOpts = append(routerOpts, messaging.WithBatchSize(c.cfg.FetchBatch))
	}
	if c.cfg.FetchTimeout > 0 {
		routerOpts = append(routerOpts, messaging.WithFetchTimeout(c.cfg.FetchTimeout.Std()))
	}
	router := messaging.NewRouter(c.dispatcher, c.replyConn(), c.cfg.Service, routerOpts...)

	var once sync.Once
	onReady := func(cons map[contracts.Kind]jetstream.Consumer) {
		pulls := make(map[contracts.Kind]messaging.PullConsumer, len(cons))
		for kind, consumer := range cons {
			pulls[kind] = consumer
		}
		router.Start(ctx, pulls)
		if ready != nil {
			once.Do(ready)
		}
	}

	coordinator := provision.NewCoordinator(streams, consumers, onReady, c.logger)
	c.conn.AddStatusListener(coordinator)

	c.mu.Lock()
	c.router = router
	c.coordinator = coordinator
	c.mu.Unlock()

	coordinator.Start(ctx)
	return nil
}

// Close stops provisioning and consumption, tears the reply inbox down and
// drains the connection. It always completes; drain problems are logged and
// the connection is force-closed.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	coordinator := c.coordinator
	router := c.router
	requester := c.requester
	c.mu.Unlock()

	if coordinator != nil {
		coordinator.Stop()
	}
	if router != nil {
		router.Stop()
	}
	if requester != nil {
		if err := requester.Close(); err != nil {
			c.logger.Debug("requester close failed", "error", err)
		}
	}
	return c.conn.Shutdown(ctx)
}

// requesterFor lazily builds the correlation engine on the first connected
// use and re-ensures its inbox afterwards.
func (c *Client) requesterFor(ctx context.Context) (*messaging.Requester, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	c.mu.Unlock()

	nc, err := c.conn.Connection(ctx)
	if err != nil {
		return nil, err
	}
	js, err := c.conn.JetStream(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.requester == nil {
		c.requester = messaging.NewRequester(js, nc, c.cfg.Service,
			messaging.WithRequesterLogger(c.logger),
			messaging.WithRequesterCodec(c.codec),
			messaging.WithRequesterStats(c.stats),
		)
	}
	if err := c.requester.EnsureInbox(); err != nil {
		return nil, err
	}
	return c.requester, nil
}

// streamManager has the provision.StreamManagerSource signature.
func (c *Client) streamManager(ctx context.Context) (provision.StreamManager, error) {
	js, err := c.conn.JetStream(ctx)
	if err != nil {
		return nil, err
	}
	return js, nil
}

// replyPublisherFunc adapts a function to the reply publish capability.
type replyPublisherFunc func(msg *nats.Msg) error

func (f replyPublisherFunc) PublishMsg(msg *nats.Msg) error { return f(msg) }

// replyConn adapts the lazily-connected core NATS connection to the reply
// publish capability.
func (c *Client) replyConn() messaging.ReplyPublisher {
	return replyPublisherFunc(func(msg *nats.Msg) error {
		nc, err := c.conn.Connection(context.Background())
		if err != nil {
			return err
		}
		return nc.PublishMsg(msg)
	})
}

// inboxRefresher re-establishes the reply inbox after reconnects. Before the
// requester exists there is nothing to refresh.
type inboxRefresher struct {
	client *Client
}

func (l *inboxRefresher) OnConnected()   { l.refresh() }
func (l *inboxRefresher) OnReconnected() { l.refresh() }

func (l *inboxRefresher) OnDisconnected(err error) {}
func (l *inboxRefresher) OnStatusError(err error)  {}

func (l *inboxRefresher) refresh() {
	l.client.mu.Lock()
	r := l.client.requester
	l.client.mu.Unlock()
	if r == nil {
		return
	}
	if err := r.EnsureInbox(); err != nil {
		l.client.logger.Warn("reply inbox refresh failed", "error", err)
	}
}
