package provision

import (
	"context"
	"errors"
	"sync"

	"github.com/nats-io/nats.go/jetstream"
)

// fakeManager implements StreamManager with in-memory state and call
// counters. The optional gate blocks stream lookups so tests can hold a
// provisioning run in flight.
type fakeManager struct {
	mu sync.Mutex

	streams   map[string]jetstream.StreamConfig
	consumers map[string]jetstream.ConsumerConfig

	streamLookups   int
	streamCreates   int
	streamUpdates   int
	consumerLookups int
	consumerCreates int

	streamLookupErr   error
	streamUpdateErr   error
	consumerLookupErr error

	gate chan struct{}
}

func newFakeManager() *fakeManager {
	return &fakeManager{
		streams:   make(map[string]jetstream.StreamConfig),
		consumers: make(map[string]jetstream.ConsumerConfig),
	}
}

func (f *fakeManager) source(ctx context.Context) (StreamManager, error) {
	return f, nil
}

func (f *fakeManager) Stream(ctx context.Context, name string) (jetstream.Stream, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamLookups++
	if f.streamLookupErr != nil {
		return nil, f.streamLookupErr
	}
	if _, ok := f.streams[name]; !ok {
		return nil, jetstream.ErrStreamNotFound
	}
	return &fakeStream{}, nil
}

func (f *fakeManager) CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamCreates++
	f.streams[cfg.Name] = cfg
	return &fakeStream{}, nil
}

func (f *fakeManager) UpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamUpdates++
	if f.streamUpdateErr != nil {
		return nil, f.streamUpdateErr
	}
	if _, ok := f.streams[cfg.Name]; !ok {
		return nil, jetstream.ErrStreamNotFound
	}
	f.streams[cfg.Name] = cfg
	return &fakeStream{}, nil
}

func (f *fakeManager) Consumer(ctx context.Context, stream, consumer string) (jetstream.Consumer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.consumerLookups++
	if f.consumerLookupErr != nil {
		return nil, f.consumerLookupErr
	}
	cfg, ok := f.consumers[consumer]
	if !ok {
		return nil, jetstream.ErrConsumerNotFound
	}
	return &fakeConsumer{name: consumer, cfg: cfg}, nil
}

func (f *fakeManager) CreateConsumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consumerCreates++
	f.consumers[cfg.Durable] = cfg
	return &fakeConsumer{name: cfg.Durable, cfg: cfg}, nil
}

func (f *fakeManager) streamConfig(name string) (jetstream.StreamConfig, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.streams[name]
	return cfg, ok
}

func (f *fakeManager) consumerConfig(name string) (jetstream.ConsumerConfig, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.consumers[name]
	return cfg, ok
}

func (f *fakeManager) counts() (lookups, creates, updates int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streamLookups, f.streamCreates, f.streamUpdates
}

// fakeStream satisfies jetstream.Stream through embedding; only the methods
// the code under test calls are implemented.
type fakeStream struct {
	jetstream.Stream
}

type fakeConsumer struct {
	jetstream.Consumer
	name string
	cfg  jetstream.ConsumerConfig
}

func (f *fakeConsumer) CachedInfo() *jetstream.ConsumerInfo {
	return &jetstream.ConsumerInfo{
		Name:   f.name,
		Config: f.cfg,
	}
}

var errBoom = errors.New("boom")
