package jetbridge

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/HorizonRepublic/jetbridge-go/contracts"
	"github.com/HorizonRepublic/jetbridge-go/internal/provision"
)

var (
	// ErrMissingService is returned when no service name is configured.
	ErrMissingService = errors.New("jetbridge: service name is required")

	// ErrInvalidService is returned when the service name cannot be used
	// as a subject token.
	ErrInvalidService = errors.New("jetbridge: service name is not a valid subject token")

	// ErrMissingServers is returned when no broker URL is configured.
	ErrMissingServers = errors.New("jetbridge: at least one server URL is required")
)

// Duration is a time.Duration that yaml can decode from strings like "5s"
// as well as integer nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("jetbridge: parse duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(v)
	case int64:
		*d = Duration(v)
	case float64:
		*d = Duration(v)
	default:
		return fmt.Errorf("jetbridge: cannot decode %v as duration", value.Value)
	}
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// StreamConfig tunes one kind's durable stream. Zero values keep the
// defaults.
type StreamConfig struct {
	MaxAge   Duration `yaml:"maxAge"`
	MaxMsgs  int64    `yaml:"maxMsgs"`
	MaxBytes int64    `yaml:"maxBytes"`
	Replicas int      `yaml:"replicas"`
}

// ConsumerConfig tunes one kind's durable consumer. Zero values keep the
// defaults.
type ConsumerConfig struct {
	AckWait       Duration `yaml:"ackWait"`
	MaxDeliver    int      `yaml:"maxDeliver"`
	MaxAckPending int      `yaml:"maxAckPending"`
}

// KindConfig groups the per-kind tunables.
type KindConfig struct {
	Stream   StreamConfig   `yaml:"stream"`
	Consumer ConsumerConfig `yaml:"consumer"`
}

// Config describes one service's transport instance.
type Config struct {
	// Service is the subject namespace this instance publishes under and
	// consumes from.
	Service string `yaml:"service"`

	// Servers lists broker URLs tried in order.
	Servers []string `yaml:"servers"`

	// ClientName identifies the connection to the broker. Defaults to the
	// service name.
	ClientName string `yaml:"clientName"`

	ReconnectWait Duration `yaml:"reconnectWait"`
	DrainTimeout  Duration `yaml:"drainTimeout"`

	// FetchBatch and FetchTimeout tune the router's pull loops.
	FetchBatch   int      `yaml:"fetchBatch"`
	FetchTimeout Duration `yaml:"fetchTimeout"`

	Events   KindConfig `yaml:"events"`
	Commands KindConfig `yaml:"commands"`
}

// DefaultConfig returns the configuration used when a field is left unset.
func DefaultConfig(service string) Config {
	return Config{
		Service:       service,
		Servers:       []string{"nats://127.0.0.1:4222"},
		ClientName:    service,
		ReconnectWait: Duration(2 * time.Second),
		DrainTimeout:  Duration(10 * time.Second),
	}
}

// LoadConfig reads a yaml file and merges it over the defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("jetbridge: read config: %w", err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return Config{}, fmt.Errorf("jetbridge: parse config: %w", err)
	}

	cfg := DefaultConfig(parsed.Service)
	mergeConfig(&cfg, parsed)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeConfig(dst *Config, src Config) {
	if len(src.Servers) > 0 {
		dst.Servers = src.Servers
	}
	if src.ClientName != "" {
		dst.ClientName = src.ClientName
	}
	if src.ReconnectWait != 0 {
		dst.ReconnectWait = src.ReconnectWait
	}
	if src.DrainTimeout != 0 {
		dst.DrainTimeout = src.DrainTimeout
	}
	if src.FetchBatch != 0 {
		dst.FetchBatch = src.FetchBatch
	}
	if src.FetchTimeout != 0 {
		dst.FetchTimeout = src.FetchTimeout
	}
	dst.Events = src.Events
	dst.Commands = src.Commands
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	if c.Service == "" {
		return ErrMissingService
	}
	if strings.ContainsAny(c.Service, ".*> \t") {
		return fmt.Errorf("%w: %q", ErrInvalidService, c.Service)
	}
	if len(c.Servers) == 0 {
		return ErrMissingServers
	}
	return nil
}

func (c Config) streamOverrides() map[contracts.Kind]provision.StreamOverrides {
	return map[contracts.Kind]provision.StreamOverrides{
		contracts.KindEvent: {
			MaxAge:   c.Events.Stream.MaxAge.Std(),
			MaxMsgs:  c.Events.Stream.MaxMsgs,
			MaxBytes: c.Events.Stream.MaxBytes,
			Replicas: c.Events.Stream.Replicas,
		},
		contracts.KindCommand: {
			MaxAge:   c.Commands.Stream.MaxAge.Std(),
			MaxMsgs:  c.Commands.Stream.MaxMsgs,
			MaxBytes: c.Commands.Stream.MaxBytes,
			Replicas: c.Commands.Stream.Replicas,
		},
	}
}

func (c Config) consumerOverrides() map[contracts.Kind]provision.ConsumerOverrides {
	return map[contracts.Kind]provision.ConsumerOverrides{
		contracts.KindEvent: {
			AckWait:       c.Events.Consumer.AckWait.Std(),
			MaxDeliver:    c.Events.Consumer.MaxDeliver,
			MaxAckPending: c.Events.Consumer.MaxAckPending,
		},
		contracts.KindCommand: {
			AckWait:       c.Commands.Consumer.AckWait.Std(),
			MaxDeliver:    c.Commands.Consumer.MaxDeliver,
			MaxAckPending: c.Commands.Consumer.MaxAckPending,
		},
	}
}
