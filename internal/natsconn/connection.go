// Package natsconn owns the single physical NATS connection per service
// instance and the JetStream management handle derived from it.
package natsconn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// StatusListener receives connection status events. Events are live only:
// a listener attached after a status change does not see past events.
type StatusListener interface {
	OnConnected()
	OnDisconnected(err error)
	OnReconnected()
	OnStatusError(err error)
}

// Manager lazily establishes and caches the broker connection. The first
// Connection call triggers a connect attempt; concurrent and subsequent
// calls observe the same cached result with no duplicate attempts.
type Manager struct {
	servers       []string
	clientName    string
	natsOpts      []nats.Option
	reconnectWait time.Duration
	drainTimeout  time.Duration
	logger        *slog.Logger

	mu       sync.Mutex
	conn     *nats.Conn
	js       jetstream.JetStream
	closedCh chan struct{}
	fatalErr error
	closed   bool

	listenersMu sync.RWMutex
	listeners   []StatusListener

	// dial is replaced in tests.
	dial func(url string, opts ...nats.Option) (*nats.Conn, error)
}

// Option configures the Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithReconnectWait sets the delay between the broker client's automatic
// reconnect attempts after an established connection drops.
func WithReconnectWait(wait time.Duration) Option {
	return func(m *Manager) {
		m.reconnectWait = wait
	}
}

// WithDrainTimeout bounds how long Shutdown waits for a confirmed close
// after draining before falling back to a forced close.
func WithDrainTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		m.drainTimeout = timeout
	}
}

// WithNATSOptions appends raw client options to the connect call.
func WithNATSOptions(opts ...nats.Option) Option {
	return func(m *Manager) {
		m.natsOpts = append(m.natsOpts, opts...)
	}
}

// NewManager creates a connection manager for the given broker endpoints.
// No connection is attempted until Connection or JetStream is called.
func NewManager(servers []string, clientName string, options ...Option) *Manager {
	m := &Manager{
		servers:       servers,
		clientName:    clientName,
		reconnectWait: 2 * time.Second,
		drainTimeout:  30 * time.Second,
		logger:        slog.Default(),
		dial:          nats.Connect,
	}

	for _, opt := range options {
		opt(m)
	}

	return m
}

// Connection returns the current connection, establishing it on first use.
// A refusal-class dial error is cached and returned as a terminal failure on
// every subsequent call; a transient dial error surfaces as ErrNotConnected
// and the next call attempts again.
func (m *Manager) Connection(ctx context.Context) (*nats.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectionLocked(ctx)
}

// JetStream returns the management handle derived from the current
// connection, cached until the connection is replaced.
func (m *Manager) JetStream(ctx context.Context) (jetstream.JetStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, err := m.connectionLocked(ctx)
	if err != nil {
		return nil, err
	}

	if m.js == nil {
		js, err := jetstream.New(conn)
		if err != nil {
			return nil, fmt.Errorf("natsconn: create management handle: %w", err)
		}
		m.js = js
	}

	return m.js, nil
}

func (m *Manager) connectionLocked(ctx context.Context) (*nats.Conn, error) {
	if m.closed {
		return nil, ErrManagerClosed
	}
	if m.fatalErr != nil {
		return nil, m.fatalErr
	}
	if m.conn != nil && !m.conn.IsClosed() {
		return m.conn, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	servers := strings.Join(m.servers, ",")
	closedCh := make(chan struct{})

	opts := []nats.Option{
		nats.Name(m.clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(m.reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				m.logger.Warn("disconnected from broker", "error", err)
			}
			m.notifyDisconnected(err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			m.logger.Info("reconnected to broker", "url", nc.ConnectedUrl())
			m.notifyReconnected()
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			m.logger.Error("broker client error", "error", err)
			m.notifyStatusError(err)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			close(closedCh)
		}),
	}
	opts = append(opts, m.natsOpts...)

	conn, err := m.dial(servers, opts...)
	if err != nil {
		if isRefusal(err) {
			m.fatalErr = &ConnectionError{
				Op:        "connect",
				Servers:   servers,
				Err:       fmt.Errorf("%w: %v", ErrBrokerUnreachable, err),
				Timestamp: time.Now(),
			}
			m.logger.Error("broker refused connection", "servers", servers, "error", err)
			return nil, m.fatalErr
		}
		m.logger.Warn("connect attempt failed", "servers", servers, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	m.conn = conn
	m.js = nil
	m.closedCh = closedCh

	m.logger.Info("connected to broker", "url", conn.ConnectedUrl())
	m.notifyConnected()

	return conn, nil
}

// IsConnected reports whether a live connection exists. It never triggers a
// connect attempt.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil && m.conn.IsConnected()
}

// AddStatusListener registers a listener for future status events.
func (m *Manager) AddStatusListener(listener StatusListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, listener)
}

func (m *Manager) notifyConnected() {
	m.listenersMu.RLock()
	defer m.listenersMu.RUnlock()
	for _, l := range m.listeners {
		go l.OnConnected()
	}
}

func (m *Manager) notifyDisconnected(err error) {
	m.listenersMu.RLock()
	defer m.listenersMu.RUnlock()
	for _, l := range m.listeners {
		go l.OnDisconnected(err)
	}
}

func (m *Manager) notifyReconnected() {
	m.listenersMu.RLock()
	defer m.listenersMu.RUnlock()
	for _, l := range m.listeners {
		go l.OnReconnected()
	}
}

func (m *Manager) notifyStatusError(err error) {
	m.listenersMu.RLock()
	defer m.listenersMu.RUnlock()
	for _, l := range m.listeners {
		go l.OnStatusError(err)
	}
}

// drainCloser is the subset of *nats.Conn used during shutdown.
type drainCloser interface {
	Drain() error
	Close()
	IsClosed() bool
}

// Shutdown drains outstanding work and waits for a confirmed close. If the
// drain fails or times out it falls back to a forced close. Shutdown never
// returns an error and never hangs the caller beyond the drain timeout.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	conn := m.conn
	closedCh := m.closedCh
	m.conn = nil
	m.js = nil
	m.closed = true
	m.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}

	drainAndClose(ctx, conn, closedCh, m.drainTimeout, m.logger)
	return nil
}

func drainAndClose(ctx context.Context, conn drainCloser, closedCh <-chan struct{}, timeout time.Duration, logger *slog.Logger) {
	if err := conn.Drain(); err != nil {
		logger.Warn("drain failed, forcing close", "error", err)
		conn.Close()
		return
	}

	select {
	case <-closedCh:
		logger.Info("connection closed cleanly")
	case <-time.After(timeout):
		logger.Warn("drain timed out, forcing close")
		conn.Close()
	case <-ctx.Done():
		logger.Warn("shutdown cancelled, forcing close", "error", ctx.Err())
		conn.Close()
	}
}
