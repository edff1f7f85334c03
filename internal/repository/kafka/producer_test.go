package kafka

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NordCoder/Turnstile/internal/obs/retry"
)

func TestWarmupWithoutBrokersFails(t *testing.T) {
	p := NewProducer(ProducerConfig{Topic: "turnstile.security.events"}).WithLogger(zap.NewNop())
	err := p.Warmup(context.Background())
	require.Error(t, err)
	assert.False(t, p.ready)
}

func TestKeyFromInt64(t *testing.T) {
	assert.Equal(t, []byte("42"), KeyFromInt64(42))
}

func TestHeaderCarrier(t *testing.T) {
	var msg kafka.Message
	c := carrierFor(&msg)
	c.Set("traceparent", "00-abc-def-01")
	c.Set("baggage", "k=v")
	c.Set("traceparent", "00-abc-fed-01")

	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "00-abc-fed-01", c.Get("traceparent"))
	assert.Equal(t, []string{"traceparent", "baggage"}, c.Keys())
	assert.Empty(t, c.Get("tracestate"))
}

type sample struct {
	UserID int64 `json:"user_id"`
}

func TestJSONHandlerDecodes(t *testing.T) {
	var got *sample
	h := JSONHandler(func(_ context.Context, key []byte, m *sample) error {
		got = m
		assert.Equal(t, []byte("7"), key)
		return nil
	})
	require.NoError(t, h(context.Background(), []byte("7"), []byte(`{"user_id":7}`)))
	require.NotNil(t, got)
	assert.Equal(t, int64(7), got.UserID)

	err := h(context.Background(), nil, []byte("{"))
	require.Error(t, err)
	assert.True(t, retry.IsPermanent(err))
}

func TestConsumerPolicyFromConfig(t *testing.T) {
	c := NewConsumer(&ConsumerConfig{Brokers: []string{"localhost:1"}, GroupID: "g", Topic: "t", HandlerAttempts: 4}).WithLogger(zap.NewNop())
	t.Cleanup(func() { _ = c.Close() })
	assert.Equal(t, 4, c.policy.Attempts)

	c = NewConsumer(&ConsumerConfig{Brokers: []string{"localhost:1"}, GroupID: "g", Topic: "t"})
	t.Cleanup(func() { _ = c.Close() })
	assert.Equal(t, 1, c.policy.Attempts)
}
