package jetbridge

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HorizonRepublic/jetbridge-go/contracts"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("orders")

	assert.Equal(t, "orders", cfg.Service)
	assert.Equal(t, "orders", cfg.ClientName)
	assert.Equal(t, []string{"nats://127.0.0.1:4222"}, cfg.Servers)
	assert.Equal(t, Duration(2*time.Second), cfg.ReconnectWait)
	assert.Equal(t, Duration(10*time.Second), cfg.DrainTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	t.Run("missing service", func(t *testing.T) {
		cfg := DefaultConfig("")
		assert.ErrorIs(t, cfg.Validate(), ErrMissingService)
	})

	t.Run("service must be a single subject token", func(t *testing.T) {
		for _, name := range []string{"ord ers", "orders.v2", "ord*", "ord>"} {
			cfg := DefaultConfig(name)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidService, "name %q", name)
		}
	})

	t.Run("missing servers", func(t *testing.T) {
		cfg := DefaultConfig("orders")
		cfg.Servers = nil
		assert.ErrorIs(t, cfg.Validate(), ErrMissingServers)
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("merges file over defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
service: orders
servers:
  - nats://broker-1:4222
  - nats://broker-2:4222
reconnectWait: 5s
fetchBatch: 32
commands:
  consumer:
    maxDeliver: 3
    ackWait: 45s
events:
  stream:
    maxAge: 48h
`), 0o600))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)

		assert.Equal(t, "orders", cfg.Service)
		assert.Equal(t, "orders", cfg.ClientName)
		assert.Equal(t, []string{"nats://broker-1:4222", "nats://broker-2:4222"}, cfg.Servers)
		assert.Equal(t, Duration(5*time.Second), cfg.ReconnectWait)
		assert.Equal(t, Duration(10*time.Second), cfg.DrainTimeout, "unset field keeps default")
		assert.Equal(t, 32, cfg.FetchBatch)
		assert.Equal(t, 3, cfg.Commands.Consumer.MaxDeliver)
		assert.Equal(t, Duration(45*time.Second), cfg.Commands.Consumer.AckWait)
		assert.Equal(t, Duration(48*time.Hour), cfg.Events.Stream.MaxAge)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("service: [unclosed"), 0o600))
		_, err := LoadConfig(path)
		assert.Error(t, err)
	})

	t.Run("invalid config rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("service: bad.name"), 0o600))
		_, err := LoadConfig(path)
		assert.ErrorIs(t, err, ErrInvalidService)
	})
}

func TestOverrideMapping(t *testing.T) {
	cfg := DefaultConfig("orders")
	cfg.Events.Stream.MaxAge = Duration(48 * time.Hour)
	cfg.Commands.Consumer.MaxDeliver = 3

	streams := cfg.streamOverrides()
	assert.Equal(t, 48*time.Hour, streams[contracts.KindEvent].MaxAge)
	assert.Zero(t, streams[contracts.KindCommand].MaxAge)

	consumers := cfg.consumerOverrides()
	assert.Equal(t, 3, consumers[contracts.KindCommand].MaxDeliver)
	assert.Zero(t, consumers[contracts.KindEvent].MaxDeliver)
}
