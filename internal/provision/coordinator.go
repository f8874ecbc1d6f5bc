package provision

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/HorizonRepublic/jetbridge-go/contracts"
)

// State is the coordinator's lifecycle state.
type State int

const (
	// StateProvisioning means a provisioning run is pending or in flight.
	StateProvisioning State = iota

	// StateReady means the most recent provisioning run completed.
	StateReady
)

func (s State) String() string {
	if s == StateReady {
		return "ready"
	}
	return "provisioning"
}

// ReadyFunc is invoked with the live consumer handles each time a
// provisioning run transitions the coordinator to Ready.
type ReadyFunc func(consumers map[contracts.Kind]jetstream.Consumer)

// Coordinator sequences provisioning on startup and on every reconnect:
// streams for both kinds first, then consumers, then the readiness callback.
// A run superseded by a newer reconnect is discarded; only the most recent
// run's completion fires the callback.
type Coordinator struct {
	streams   *StreamProvisioner
	consumers *ConsumerProvisioner
	onReady   ReadyFunc
	logger    *slog.Logger

	mu      sync.Mutex
	baseCtx context.Context
	cancel  context.CancelFunc
	state   State
	gen     uint64
	stopped bool
}

// NewCoordinator creates a coordinator. onReady may be nil.
func NewCoordinator(streams *StreamProvisioner, consumers *ConsumerProvisioner, onReady ReadyFunc, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		streams:   streams,
		consumers: consumers,
		onReady:   onReady,
		logger:    logger,
		state:     StateProvisioning,
	}
}

// Start attaches the coordinator and launches the initial provisioning run.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	c.baseCtx = ctx
	c.mu.Unlock()
	c.trigger()
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnConnected implements the connection status listener. The initial run is
// driven by Start, so nothing to do here.
func (c *Coordinator) OnConnected() {}

// OnDisconnected cancels the in-flight run; traffic is gated until the next
// reconnect re-provisions.
func (c *Coordinator) OnDisconnected(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	c.state = StateProvisioning
}

// OnReconnected re-enters Provisioning and launches a fresh run, superseding
// any run still in flight.
func (c *Coordinator) OnReconnected() {
	c.trigger()
}

// OnStatusError implements the connection status listener.
func (c *Coordinator) OnStatusError(err error) {}

// Stop cancels any in-flight provisioning and prevents further runs.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Coordinator) trigger() {
	c.mu.Lock()
	if c.stopped || c.baseCtx == nil {
		c.mu.Unlock()
		return
	}

	c.gen++
	gen := c.gen
	if c.cancel != nil {
		c.cancel()
	}
	runCtx, cancel := context.WithCancel(c.baseCtx)
	c.cancel = cancel
	c.state = StateProvisioning
	c.mu.Unlock()

	go c.run(runCtx, gen)
}

// run executes one provisioning pass. Consumers must not be created before
// their stream exists, so streams go strictly first.
func (c *Coordinator) run(ctx context.Context, gen uint64) {
	if err := c.streams.EnsureAll(ctx); err != nil {
		c.logger.Error("stream provisioning failed", "error", err, "generation", gen)
		return
	}

	consumers, err := c.consumers.EnsureAll(ctx)
	if err != nil {
		c.logger.Error("consumer provisioning failed", "error", err, "generation", gen)
		return
	}

	c.mu.Lock()
	if c.stopped || gen != c.gen {
		// Superseded by a newer reconnect; discard this run's result.
		c.mu.Unlock()
		return
	}
	c.state = StateReady
	onReady := c.onReady
	c.mu.Unlock()

	c.logger.Info("provisioning complete", "generation", gen)
	if onReady != nil {
		onReady(consumers)
	}
}
