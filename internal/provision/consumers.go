package provision

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/HorizonRepublic/jetbridge-go/contracts"
)

// ConsumerOverrides tune delivery behavior per kind. Zero values keep the
// defaults.
type ConsumerOverrides struct {
	AckWait       time.Duration
	MaxDeliver    int
	MaxAckPending int
}

const defaultAckWait = 30 * time.Second

// ConsumerWatcher receives the descriptor of every successfully ensured
// consumer. This is a side-channel broadcast for observability, not part of
// the provisioning call chain.
type ConsumerWatcher func(kind contracts.Kind, info *jetstream.ConsumerInfo)

// ConsumerProvisioner ensures the durable pull consumers exist on top of the
// provisioned streams.
type ConsumerProvisioner struct {
	source    StreamManagerSource
	service   string
	overrides map[contracts.Kind]ConsumerOverrides
	logger    *slog.Logger

	watchersMu sync.RWMutex
	watchers   []ConsumerWatcher
}

// NewConsumerProvisioner creates a consumer provisioner for a service.
func NewConsumerProvisioner(source StreamManagerSource, service string, overrides map[contracts.Kind]ConsumerOverrides, logger *slog.Logger) *ConsumerProvisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsumerProvisioner{
		source:    source,
		service:   service,
		overrides: overrides,
		logger:    logger,
	}
}

// Watch registers a watcher for consumer readiness notifications.
func (p *ConsumerProvisioner) Watch(w ConsumerWatcher) {
	p.watchersMu.Lock()
	defer p.watchersMu.Unlock()
	p.watchers = append(p.watchers, w)
}

// Ensure looks the durable consumer up by its deterministic name and creates
// it with kind-specific defaults when absent. An existing consumer is reused,
// never replaced. Any lookup error other than "not found" propagates
// unchanged.
func (p *ConsumerProvisioner) Ensure(ctx context.Context, kind contracts.Kind) (jetstream.Consumer, error) {
	js, err := p.source(ctx)
	if err != nil {
		return nil, err
	}

	streamName := contracts.StreamName(p.service, kind)
	durable := contracts.ConsumerName(p.service, kind)

	cons, err := js.Consumer(ctx, streamName, durable)
	switch {
	case err == nil:
		p.logger.Debug("consumer reused", "consumer", durable, "kind", kind)

	case errors.Is(err, jetstream.ErrConsumerNotFound):
		cons, err = js.CreateConsumer(ctx, streamName, p.configFor(kind))
		if err != nil {
			return nil, &ProvisionError{Resource: "consumer", Name: durable, Op: "create", Err: err}
		}
		p.logger.Info("consumer created", "consumer", durable, "kind", kind)

	default:
		return nil, &ProvisionError{Resource: "consumer", Name: durable, Op: "lookup", Err: err}
	}

	p.broadcast(kind, cons.CachedInfo())
	return cons, nil
}

// EnsureAll provisions the consumer for every kind and returns the live
// handles keyed by kind.
func (p *ConsumerProvisioner) EnsureAll(ctx context.Context) (map[contracts.Kind]jetstream.Consumer, error) {
	consumers := make(map[contracts.Kind]jetstream.Consumer, len(contracts.Kinds))

	for _, kind := range contracts.Kinds {
		cons, err := p.Ensure(ctx, kind)
		if err != nil {
			return nil, err
		}
		consumers[kind] = cons
	}

	return consumers, nil
}

func (p *ConsumerProvisioner) broadcast(kind contracts.Kind, info *jetstream.ConsumerInfo) {
	p.watchersMu.RLock()
	defer p.watchersMu.RUnlock()
	for _, w := range p.watchers {
		go w(kind, info)
	}
}

func (p *ConsumerProvisioner) configFor(kind contracts.Kind) jetstream.ConsumerConfig {
	cfg := jetstream.ConsumerConfig{
		Durable:        contracts.ConsumerName(p.service, kind),
		FilterSubjects: []string{contracts.SubjectRoot(p.service, kind)},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		AckPolicy:      jetstream.AckExplicitPolicy,
		AckWait:        defaultAckWait,
	}

	switch kind {
	case contracts.KindEvent:
		cfg.MaxAckPending = 1000
	case contracts.KindCommand:
		// Multiple instances pull from the same durable and share the
		// backlog; redelivery is bounded.
		cfg.MaxDeliver = 5
		cfg.BackOff = []time.Duration{time.Second, 5 * time.Second, 15 * time.Second}
	}

	if o, ok := p.overrides[kind]; ok {
		if o.AckWait > 0 {
			cfg.AckWait = o.AckWait
		}
		if o.MaxDeliver > 0 {
			cfg.MaxDeliver = o.MaxDeliver
		}
		if o.MaxAckPending > 0 {
			cfg.MaxAckPending = o.MaxAckPending
		}
	}

	return cfg
}
