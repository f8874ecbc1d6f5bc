package contracts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNaming(t *testing.T) {
	t.Run("stream and consumer names are deterministic per kind", func(t *testing.T) {
		assert.Equal(t, "orders_ev-stream", StreamName("orders", KindEvent))
		assert.Equal(t, "orders_cmd-stream", StreamName("orders", KindCommand))
		assert.Equal(t, "orders_ev-consumer", ConsumerName("orders", KindEvent))
		assert.Equal(t, "orders_cmd-consumer", ConsumerName("orders", KindCommand))
	})

	t.Run("event publish subject", func(t *testing.T) {
		assert.Equal(t, "orders.ev.created", Subject("orders", KindEvent, "created"))
	})

	t.Run("command publish subject", func(t *testing.T) {
		assert.Equal(t, "orders.cmd.get", Subject("orders", KindCommand, "get"))
	})

	t.Run("subject root covers hierarchical sub-subjects", func(t *testing.T) {
		assert.Equal(t, "orders.ev.>", SubjectRoot("orders", KindEvent))
	})
}

func TestPatternFromSubject(t *testing.T) {
	t.Run("strips service and kind prefix", func(t *testing.T) {
		pattern, ok := PatternFromSubject("orders", KindEvent, "orders.ev.item.created")
		assert.True(t, ok)
		assert.Equal(t, "item.created", pattern)
	})

	t.Run("rejects foreign subjects", func(t *testing.T) {
		_, ok := PatternFromSubject("orders", KindEvent, "billing.ev.created")
		assert.False(t, ok)
	})

	t.Run("rejects wrong kind", func(t *testing.T) {
		_, ok := PatternFromSubject("orders", KindEvent, "orders.cmd.get")
		assert.False(t, ok)
	})

	t.Run("rejects bare prefix", func(t *testing.T) {
		_, ok := PatternFromSubject("orders", KindEvent, "orders.ev.")
		assert.False(t, ok)
	})
}

func TestKind(t *testing.T) {
	assert.True(t, KindEvent.Valid())
	assert.True(t, KindCommand.Valid())
	assert.False(t, Kind("qry").Valid())
}

func TestJSONCodec(t *testing.T) {
	codec := JSONCodec{}

	t.Run("round trip", func(t *testing.T) {
		data, err := codec.Encode(map[string]any{"id": 1})
		assert.NoError(t, err)

		v, err := codec.Decode(data)
		assert.NoError(t, err)
		assert.Equal(t, map[string]any{"id": float64(1)}, v)
	})

	t.Run("decode failure is recoverable", func(t *testing.T) {
		_, err := codec.Decode([]byte("{not json"))
		assert.ErrorIs(t, err, ErrDecodeFailed)
	})

	t.Run("encode failure surfaces as error", func(t *testing.T) {
		_, err := codec.Encode(make(chan int))
		assert.ErrorIs(t, err, ErrEncodeFailed)
	})
}
