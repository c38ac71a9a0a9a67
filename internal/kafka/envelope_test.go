package kafka

import (
	"context"
	"testing"

	"github.com/ariefcatur/fortune-orders/internal/orders"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	key, value []byte
	headers    []kafka.Header
}

func (c *capture) Publish(key, value []byte, headers ...kafka.Header) error {
	c.key, c.value, c.headers = key, value, headers
	return nil
}

func TestEventWriterEmit(t *testing.T) {
	c := &capture{}
	w := &EventWriter{P: c, Service: "fulfillment"}
	ctx := WithTraceID(context.Background(), "req-1")

	require.NoError(t, w.Emit(ctx, "ORD_1", orders.EventOrderPaid, orders.OrderPaidPayload{OrderID: "ORD_1", Source: orders.SourceWebhook}))

	assert.Equal(t, []byte("ORD_1"), c.key)
	require.Len(t, c.headers, 2)
	assert.Equal(t, orders.EventOrderPaid, string(c.headers[0].Value))

	env, err := UnmarshalEnvelope(c.value)
	require.NoError(t, err)
	assert.Equal(t, "req-1", env.TraceID)
	assert.Equal(t, "ORD_1", env.CorrelationID)
	assert.Equal(t, "fulfillment", env.Producer)
	assert.NotEmpty(t, env.EventID)

	p, err := UnwrapPayload[orders.OrderPaidPayload](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, orders.SourceWebhook, p.Source)
}

func TestProducerPublishAfterClose(t *testing.T) {
	p := NewProducer([]string{"127.0.0.1:1"}, "t", 1, nil)
	p.Close()
	p.Close()
	assert.ErrorIs(t, p.Publish([]byte("k"), []byte("v")), ErrProducerClosed)
}
