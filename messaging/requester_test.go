package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HorizonRepublic/jetbridge-go/contracts"
)

type capturingPublisher struct {
	mu       sync.Mutex
	messages []*nats.Msg
	err      error
}

func (p *capturingPublisher) PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.messages = append(p.messages, msg)
	return &jetstream.PubAck{}, nil
}

func (p *capturingPublisher) last(t *testing.T) *nats.Msg {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.messages)
	return p.messages[len(p.messages)-1]
}

type fakeInboxConn struct {
	mu             sync.Mutex
	closed         bool
	draining       bool
	subscribeErr   error
	subscribeCalls int
	handler        nats.MsgHandler
}

func (c *fakeInboxConn) NewInbox() string { return "_INBOX.test" }

func (c *fakeInboxConn) Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribeCalls++
	if c.subscribeErr != nil {
		return nil, c.subscribeErr
	}
	c.handler = cb
	return &nats.Subscription{}, nil
}

func (c *fakeInboxConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeInboxConn) IsDraining() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draining
}

// deliver simulates a broker message arriving on the inbox subscription.
func (c *fakeInboxConn) deliver(t *testing.T, msg *nats.Msg) {
	t.Helper()
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	require.NotNil(t, handler, "no inbox subscription active")
	handler(msg)
}

type countingStats struct {
	NopStats
	mu            sync.Mutex
	replyDropped  int
	replyMatched  int
	publishFailed int
}

func (s *countingStats) ReplyDropped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replyDropped++
}

func (s *countingStats) ReplyMatched() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replyMatched++
}

func (s *countingStats) PublishFailed(contracts.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishFailed++
}

func (s *countingStats) snapshot() (dropped, matched, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replyDropped, s.replyMatched, s.publishFailed
}

type callbackRecorder struct {
	mu      sync.Mutex
	calls   int
	result  any
	err     error
	signal  chan struct{}
	sigOnce sync.Once
}

func newCallbackRecorder() *callbackRecorder {
	return &callbackRecorder{signal: make(chan struct{})}
}

func (r *callbackRecorder) callback(result any, err error) {
	r.mu.Lock()
	r.calls++
	r.result = result
	r.err = err
	r.mu.Unlock()
	r.sigOnce.Do(func() { close(r.signal) })
}

func (r *callbackRecorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.signal:
	case <-time.After(time.Second):
		t.Fatal("callback was not invoked")
	}
}

func (r *callbackRecorder) state() (int, any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls, r.result, r.err
}

func TestEnsureInbox(t *testing.T) {
	t.Run("subscribes exactly once", func(t *testing.T) {
		nc := &fakeInboxConn{}
		r := NewRequester(&capturingPublisher{}, nc, "orders")

		require.NoError(t, r.EnsureInbox())
		require.NoError(t, r.EnsureInbox())
		assert.Equal(t, 1, nc.subscribeCalls)
	})

	t.Run("skipped while draining, retried on next connect", func(t *testing.T) {
		nc := &fakeInboxConn{draining: true}
		r := NewRequester(&capturingPublisher{}, nc, "orders")

		require.NoError(t, r.EnsureInbox())
		assert.Equal(t, 0, nc.subscribeCalls)

		nc.mu.Lock()
		nc.draining = false
		nc.mu.Unlock()

		require.NoError(t, r.EnsureInbox())
		assert.Equal(t, 1, nc.subscribeCalls)
	})

	t.Run("subscribe failure is surfaced", func(t *testing.T) {
		nc := &fakeInboxConn{subscribeErr: errors.New("subscription refused")}
		r := NewRequester(&capturingPublisher{}, nc, "orders")

		assert.Error(t, r.EnsureInbox())
	})
}

func TestPublishEvent(t *testing.T) {
	t.Run("routes to the event subject with a message id", func(t *testing.T) {
		js := &capturingPublisher{}
		r := NewRequester(js, &fakeInboxConn{}, "orders")

		require.NoError(t, r.PublishEvent(context.Background(), "created", map[string]any{"sku": "a-1"}))

		msg := js.last(t)
		assert.Equal(t, "orders.ev.created", msg.Subject)
		assert.NotEmpty(t, msg.Header.Get(contracts.HeaderMessageID))
		assert.Empty(t, msg.Header.Get(contracts.HeaderCorrelationID))
	})

	t.Run("empty pattern rejected", func(t *testing.T) {
		r := NewRequester(&capturingPublisher{}, &fakeInboxConn{}, "orders")
		assert.ErrorIs(t, r.PublishEvent(context.Background(), "", nil), ErrEmptyPattern)
	})

	t.Run("publish failure returned to caller", func(t *testing.T) {
		js := &capturingPublisher{err: errors.New("stream unavailable")}
		r := NewRequester(js, &fakeInboxConn{}, "orders")

		err := r.PublishEvent(context.Background(), "created", nil)
		var pubErr *PublishError
		require.ErrorAs(t, err, &pubErr)
		assert.Equal(t, "orders.ev.created", pubErr.Subject)
	})
}

func TestPublishCommand(t *testing.T) {
	t.Run("rejects nil callback and empty pattern", func(t *testing.T) {
		r := NewRequester(&capturingPublisher{}, &fakeInboxConn{}, "orders")

		_, err := r.PublishCommand(context.Background(), "get", nil, nil)
		assert.ErrorIs(t, err, ErrNilCallback)

		_, err = r.PublishCommand(context.Background(), "", nil, func(any, error) {})
		assert.ErrorIs(t, err, ErrEmptyPattern)
	})

	t.Run("reply round trip", func(t *testing.T) {
		js := &capturingPublisher{}
		nc := &fakeInboxConn{}
		r := NewRequester(js, nc, "orders")
		require.NoError(t, r.EnsureInbox())

		rec := newCallbackRecorder()
		_, err := r.PublishCommand(context.Background(), "get", map[string]any{"id": 1}, rec.callback)
		require.NoError(t, err)

		sent := js.last(t)
		assert.Equal(t, "orders.cmd.get", sent.Subject)
		assert.Equal(t, "_INBOX.test", sent.Header.Get(contracts.HeaderReplyTo))
		correlationID := sent.Header.Get(contracts.HeaderCorrelationID)
		require.NotEmpty(t, correlationID)
		assert.Equal(t, 1, r.PendingCount())

		reply := &nats.Msg{Header: nats.Header{}, Data: []byte(`{"id":1}`)}
		reply.Header.Set(contracts.HeaderCorrelationID, correlationID)
		nc.deliver(t, reply)

		rec.wait(t)
		calls, result, cbErr := rec.state()
		require.NoError(t, cbErr)
		assert.Equal(t, 1, calls)
		assert.Equal(t, map[string]any{"id": float64(1)}, result)
		assert.Equal(t, 0, r.PendingCount())
	})

	t.Run("duplicate reply invokes the callback at most once", func(t *testing.T) {
		js := &capturingPublisher{}
		nc := &fakeInboxConn{}
		stats := &countingStats{}
		r := NewRequester(js, nc, "orders", WithRequesterStats(stats))
		require.NoError(t, r.EnsureInbox())

		rec := newCallbackRecorder()
		_, err := r.PublishCommand(context.Background(), "get", nil, rec.callback)
		require.NoError(t, err)

		correlationID := js.last(t).Header.Get(contracts.HeaderCorrelationID)
		reply := &nats.Msg{Header: nats.Header{}, Data: []byte(`{}`)}
		reply.Header.Set(contracts.HeaderCorrelationID, correlationID)
		nc.deliver(t, reply)
		nc.deliver(t, reply)

		rec.wait(t)
		calls, _, _ := rec.state()
		assert.Equal(t, 1, calls)
		dropped, matched, _ := stats.snapshot()
		assert.Equal(t, 1, matched)
		assert.Equal(t, 1, dropped)
	})

	t.Run("cancel releases the pending slot and suppresses late replies", func(t *testing.T) {
		js := &capturingPublisher{}
		nc := &fakeInboxConn{}
		r := NewRequester(js, nc, "orders")
		require.NoError(t, r.EnsureInbox())

		rec := newCallbackRecorder()
		cancel, err := r.PublishCommand(context.Background(), "get", nil, rec.callback)
		require.NoError(t, err)
		require.Equal(t, 1, r.PendingCount())

		cancel()
		cancel() // second invocation is a no-op
		assert.Equal(t, 0, r.PendingCount())

		correlationID := js.last(t).Header.Get(contracts.HeaderCorrelationID)
		reply := &nats.Msg{Header: nats.Header{}, Data: []byte(`{}`)}
		reply.Header.Set(contracts.HeaderCorrelationID, correlationID)
		nc.deliver(t, reply)

		calls, _, _ := rec.state()
		assert.Equal(t, 0, calls)
	})

	t.Run("publish failure surfaces through the callback", func(t *testing.T) {
		js := &capturingPublisher{err: errors.New("stream unavailable")}
		r := NewRequester(js, &fakeInboxConn{}, "orders")

		rec := newCallbackRecorder()
		_, err := r.PublishCommand(context.Background(), "get", nil, rec.callback)
		require.NoError(t, err)

		rec.wait(t)
		_, _, cbErr := rec.state()
		var pubErr *PublishError
		require.ErrorAs(t, cbErr, &pubErr)
		assert.Equal(t, 0, r.PendingCount())
	})

	t.Run("undecodable reply fails the callback without panicking", func(t *testing.T) {
		js := &capturingPublisher{}
		nc := &fakeInboxConn{}
		r := NewRequester(js, nc, "orders")
		require.NoError(t, r.EnsureInbox())

		rec := newCallbackRecorder()
		_, err := r.PublishCommand(context.Background(), "get", nil, rec.callback)
		require.NoError(t, err)

		correlationID := js.last(t).Header.Get(contracts.HeaderCorrelationID)
		reply := &nats.Msg{Header: nats.Header{}, Data: []byte(`{not json`)}
		reply.Header.Set(contracts.HeaderCorrelationID, correlationID)
		nc.deliver(t, reply)

		rec.wait(t)
		_, _, cbErr := rec.state()
		assert.ErrorIs(t, cbErr, contracts.ErrDecodeFailed)
		assert.Equal(t, 0, r.PendingCount())
	})

	t.Run("reply without correlation header is ignored", func(t *testing.T) {
		nc := &fakeInboxConn{}
		stats := &countingStats{}
		r := NewRequester(&capturingPublisher{}, nc, "orders", WithRequesterStats(stats))
		require.NoError(t, r.EnsureInbox())

		nc.deliver(t, &nats.Msg{Header: nats.Header{}, Data: []byte(`{}`)})

		dropped, matched, _ := stats.snapshot()
		assert.Equal(t, 0, dropped)
		assert.Equal(t, 0, matched)
	})
}

func TestRequesterClose(t *testing.T) {
	nc := &fakeInboxConn{}
	r := NewRequester(&capturingPublisher{}, nc, "orders")
	require.NoError(t, r.EnsureInbox())

	assert.NoError(t, r.Close())

	// A fresh connect after close re-establishes the inbox.
	require.NoError(t, r.EnsureInbox())
	assert.Equal(t, 2, nc.subscribeCalls)
}
