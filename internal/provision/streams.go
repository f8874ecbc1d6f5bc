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

// StreamManager is the subset of the JetStream management API used by
// provisioning. Satisfied by jetstream.JetStream.
type StreamManager interface {
	Stream(ctx context.Context, stream string) (jetstream.Stream, error)
	CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	UpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	Consumer(ctx context.Context, stream string, consumer string) (jetstream.Consumer, error)
	CreateConsumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error)
}

// StreamManagerSource resolves the current management handle. It is consulted
// on every provisioning run so that runs after a reconnect see the live
// handle rather than a stale one.
type StreamManagerSource func(ctx context.Context) (StreamManager, error)

// StreamOverrides tune retention and storage limits per kind. Zero values
// keep the defaults.
type StreamOverrides struct {
	MaxAge   time.Duration
	MaxMsgs  int64
	MaxBytes int64
	Replicas int
}

const defaultMaxAge = 7 * 24 * time.Hour

// StreamProvisioner ensures the two durable logical logs exist with the
// desired configuration.
type StreamProvisioner struct {
	source    StreamManagerSource
	service   string
	overrides map[contracts.Kind]StreamOverrides
	logger    *slog.Logger
}

// NewStreamProvisioner creates a stream provisioner for a service.
func NewStreamProvisioner(source StreamManagerSource, service string, overrides map[contracts.Kind]StreamOverrides, logger *slog.Logger) *StreamProvisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamProvisioner{
		source:    source,
		service:   service,
		overrides: overrides,
		logger:    logger,
	}
}

// Ensure is idempotent: an absent stream is created, an existing one receives
// a configuration update. Update failures from disallowed configuration
// transitions propagate; the stream is never recreated automatically.
func (p *StreamProvisioner) Ensure(ctx context.Context, kind contracts.Kind) (jetstream.Stream, error) {
	js, err := p.source(ctx)
	if err != nil {
		return nil, err
	}

	cfg := p.configFor(kind)

	_, err = js.Stream(ctx, cfg.Name)
	switch {
	case err == nil:
		updated, uerr := js.UpdateStream(ctx, cfg)
		if uerr != nil {
			return nil, &ProvisionError{Resource: "stream", Name: cfg.Name, Op: "update", Err: uerr}
		}
		p.logger.Debug("stream updated", "stream", cfg.Name, "kind", kind)
		return updated, nil

	case errors.Is(err, jetstream.ErrStreamNotFound):
		created, cerr := js.CreateStream(ctx, cfg)
		if cerr != nil {
			return nil, &ProvisionError{Resource: "stream", Name: cfg.Name, Op: "create", Err: cerr}
		}
		p.logger.Info("stream created", "stream", cfg.Name, "kind", kind)
		return created, nil

	default:
		return nil, &ProvisionError{Resource: "stream", Name: cfg.Name, Op: "lookup", Err: err}
	}
}

// EnsureAll provisions the streams for every kind. The kinds are independent
// logs, so they are ensured concurrently.
func (p *StreamProvisioner) EnsureAll(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make([]error, len(contracts.Kinds))

	for i, kind := range contracts.Kinds {
		wg.Add(1)
		go func(i int, kind contracts.Kind) {
			defer wg.Done()
			_, errs[i] = p.Ensure(ctx, kind)
		}(i, kind)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// configFor merges the shared base configuration with the kind-specific
// overlay and any caller overrides.
func (p *StreamProvisioner) configFor(kind contracts.Kind) jetstream.StreamConfig {
	cfg := jetstream.StreamConfig{
		Name:     contracts.StreamName(p.service, kind),
		Subjects: []string{contracts.SubjectRoot(p.service, kind)},
		Storage:  jetstream.FileStorage,
		Discard:  jetstream.DiscardOld,
		MaxAge:   defaultMaxAge,
		Replicas: 1,
	}

	switch kind {
	case contracts.KindEvent:
		cfg.Retention = jetstream.LimitsPolicy
	case contracts.KindCommand:
		// Commands are consumed exactly once by the service's shared
		// durable consumer.
		cfg.Retention = jetstream.WorkQueuePolicy
	}

	if o, ok := p.overrides[kind]; ok {
		if o.MaxAge > 0 {
			cfg.MaxAge = o.MaxAge
		}
		if o.MaxMsgs > 0 {
			cfg.MaxMsgs = o.MaxMsgs
		}
		if o.MaxBytes > 0 {
			cfg.MaxBytes = o.MaxBytes
		}
		if o.Replicas > 0 {
			cfg.Replicas = o.Replicas
		}
	}

	return cfg
}
